package commander

import (
	"bytes"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/queue"
	"github.com/skuraya/conductor/internal/service"
)

// fixture wires a commander to recording services behind fault injectors,
// with millisecond-scale budgets so pipelines settle fast.
type fixture struct {
	c         *Commander
	shipping  *service.ShippingClient
	payment   *service.PaymentClient
	messaging *service.MessagingClient
	employee  *service.EmployeeClient
	queue     *queue.Flaky
}

type faultSet struct {
	shipping  []error
	payment   []error
	messaging []error
	employee  []error
	queue     []error
}

func testConfig() model.Config {
	cfg := model.Config{
		Retry: model.RetrySettings{
			MaxAttempts:   3,
			BackoffBaseMs: 1,
			BackoffCapMs:  5,
		},
		Limits: model.LimitsSettings{
			QueueMs:     4000,
			QueueTaskMs: 300,
			PaymentMs:   2000,
			MessageMs:   2500,
			EmployeeMs:  3000,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

func newFixture(t *testing.T, faults faultSet, logger *log.Logger) *fixture {
	t.Helper()
	return newFixtureCfg(t, faults, logger, testConfig())
}

func newFixtureCfg(t *testing.T, faults faultSet, logger *log.Logger, cfg model.Config) *fixture {
	t.Helper()
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	f := &fixture{
		shipping:  service.NewShippingClient(),
		payment:   service.NewPaymentClient(),
		messaging: service.NewMessagingClient(),
		employee:  service.NewEmployeeClient(),
	}
	f.queue = &queue.Flaky{Inner: queue.NewMemory(), Faults: queue.NewFaults(faults.queue...)}

	deps := Deps{
		Shipping:  &service.FlakyShipping{Inner: f.shipping, Faults: service.NewFaults(faults.shipping...)},
		Payment:   &service.FlakyPayment{Inner: f.payment, Faults: service.NewFaults(faults.payment...)},
		Messaging: &service.FlakyMessaging{Inner: f.messaging, Faults: service.NewFaults(faults.messaging...)},
		Employee:  &service.FlakyEmployee{Inner: f.employee, Faults: service.NewFaults(faults.employee...)},
		Queue:     f.queue,
	}
	f.c = New(deps, cfg, logger, LogLevelDebug)
	return f
}

func (f *fixture) place(t *testing.T) *model.Order {
	t.Helper()
	o, err := f.c.NewOrder("Jim", "ABCD", "book", 10)
	if err != nil {
		t.Fatalf("NewOrder returned error: %v", err)
	}
	f.c.PlaceOrder(o)
	f.c.Wait()
	return o
}

func transientErrs(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = service.ErrUnavailable
	}
	return errs
}

func TestPlaceOrder_HappyPath(t *testing.T) {
	f := newFixture(t, faultSet{}, nil)
	o := f.place(t)

	if got := o.PaymentStatus(); got != model.PaymentDone {
		t.Errorf("payment = %s, want %s", got, model.PaymentDone)
	}
	if got := o.MessageSent(); got != model.MessageSuccessful {
		t.Errorf("message = %s, want %s", got, model.MessageSuccessful)
	}
	if o.Escalated() {
		t.Error("healthy pipeline must not escalate")
	}
	if got := len(f.shipping.Shipments()); got != 1 {
		t.Errorf("shipments = %d, want 1", got)
	}
	if got := len(f.payment.Charges()); got != 1 {
		t.Errorf("charges = %d, want 1", got)
	}
	if got := len(f.messaging.MessagesOfKind(model.KindPaymentSuccess)); got != 1 {
		t.Errorf("success messages = %d, want 1", got)
	}
	if depth := f.c.Stats().QueueDepth; depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestPlaceOrder_ShippingFlakyThenRecovers(t *testing.T) {
	f := newFixture(t, faultSet{shipping: transientErrs(2)}, nil)
	o := f.place(t)

	if got := o.PaymentStatus(); got != model.PaymentDone {
		t.Errorf("payment = %s, want %s", got, model.PaymentDone)
	}
	if got := len(f.shipping.Shipments()); got != 1 {
		t.Errorf("shipments = %d, want 1", got)
	}
}

func TestPlaceOrder_ShippingPermanentlyUnavailable(t *testing.T) {
	f := newFixture(t, faultSet{shipping: transientErrs(3)}, nil)
	o := f.place(t)

	if got := len(f.shipping.Shipments()); got != 0 {
		t.Errorf("shipments = %d, want 0", got)
	}
	if got := len(f.payment.Charges()); got != 0 {
		t.Error("payment must never start when the order was not placed")
	}
	if o.Escalated() {
		t.Error("an unplaced order is not escalated, the user just retries later")
	}
	if got := o.PaymentStatus(); got != model.PaymentTrying {
		t.Errorf("payment = %s, want untouched %s", got, model.PaymentTrying)
	}
}

func TestPlaceOrder_ShippingNotPossibleEscalates(t *testing.T) {
	f := newFixture(t, faultSet{shipping: []error{service.ErrShippingNotPossible}}, nil)
	o := f.place(t)

	if !o.Escalated() {
		t.Error("definitive shipping failure must escalate")
	}
	if got := len(f.employee.Tickets()); got != 1 {
		t.Errorf("tickets = %d, want 1", got)
	}
	if got := len(f.payment.Charges()); got != 0 {
		t.Errorf("charges = %d, want 0", got)
	}
}

func TestPlaceOrder_ItemUnavailableEscalates(t *testing.T) {
	f := newFixture(t, faultSet{shipping: []error{service.ErrItemUnavailable}}, nil)
	o := f.place(t)

	if !o.Escalated() {
		t.Error("item unavailability must escalate")
	}
	if got := len(f.employee.Tickets()); got != 1 {
		t.Errorf("tickets = %d, want 1", got)
	}
}

func TestPayment_FlakyThenRecoversInProcess(t *testing.T) {
	f := newFixture(t, faultSet{payment: transientErrs(2)}, nil)
	o := f.place(t)

	if got := o.PaymentStatus(); got != model.PaymentDone {
		t.Errorf("payment = %s, want %s", got, model.PaymentDone)
	}
	if got := len(f.payment.Charges()); got != 1 {
		t.Errorf("charges = %d, want exactly 1", got)
	}
	if got := len(f.messaging.MessagesOfKind(model.KindPaymentErrorWarning)); got != 0 {
		t.Errorf("warning messages = %d, want 0 for in-process recovery", got)
	}
	if got := o.MessageSent(); got != model.MessageSuccessful {
		t.Errorf("message = %s, want %s", got, model.MessageSuccessful)
	}
}

func TestPayment_QueueMediatedRecovery(t *testing.T) {
	f := newFixture(t, faultSet{payment: transientErrs(3)}, nil)
	o := f.place(t)

	if got := o.PaymentStatus(); got != model.PaymentDone {
		t.Errorf("payment = %s, want %s after queue retry", got, model.PaymentDone)
	}
	if got := len(f.payment.Charges()); got != 1 {
		t.Errorf("charges = %d, want exactly 1", got)
	}
	if got := o.MessageSent(); got != model.MessageSuccessful {
		t.Errorf("message = %s, want %s", got, model.MessageSuccessful)
	}
	if depth := f.c.Stats().QueueDepth; depth != 0 {
		t.Errorf("queue depth = %d, want fully drained", depth)
	}
}

func TestPayment_DetailsInvalidResolvesImmediately(t *testing.T) {
	f := newFixture(t, faultSet{payment: []error{service.ErrPaymentDetails}}, nil)
	o := f.place(t)

	if got := o.PaymentStatus(); got != model.PaymentNotDone {
		t.Errorf("payment = %s, want %s", got, model.PaymentNotDone)
	}
	if got := o.MessageSent(); got != model.MessageFail {
		t.Errorf("message = %s, want %s", got, model.MessageFail)
	}
	if got := len(f.messaging.MessagesOfKind(model.KindPaymentFailed)); got != 1 {
		t.Errorf("failure messages = %d, want 1", got)
	}
	if depth := f.c.Stats().QueueDepth; depth != 0 {
		t.Error("a definitive payment failure must not queue anything")
	}
	if o.Escalated() {
		t.Error("a definitive payment failure is not escalated")
	}
}

func TestPayment_BudgetExceededSettlesNotDone(t *testing.T) {
	// The payment budget is already spent while the message budget stays
	// open, so the failure message can still reach the user.
	cfg := testConfig()
	cfg.Limits.PaymentMs = 1000
	cfg.Limits.MessageMs = 60_000

	f := newFixtureCfg(t, faultSet{}, nil, cfg)
	o, err := f.c.NewOrder("Jim", "ABCD", "book", 10)
	if err != nil {
		t.Fatalf("NewOrder returned error: %v", err)
	}
	o.CreatedAt = time.Now().Add(-10 * time.Second)

	f.c.PlaceOrder(o)
	f.c.Wait()

	if got := o.PaymentStatus(); got != model.PaymentNotDone {
		t.Errorf("payment = %s, want %s", got, model.PaymentNotDone)
	}
	if got := len(f.payment.Charges()); got != 0 {
		t.Errorf("charges = %d, want 0 after budget expiry", got)
	}
	if got := o.MessageSent(); got != model.MessageFail {
		t.Errorf("message = %s, want %s", got, model.MessageFail)
	}
}

func TestMessaging_QueueMediatedRecovery(t *testing.T) {
	f := newFixture(t, faultSet{messaging: transientErrs(3)}, nil)
	o := f.place(t)

	if got := o.PaymentStatus(); got != model.PaymentDone {
		t.Errorf("payment = %s, want %s", got, model.PaymentDone)
	}
	if got := o.MessageSent(); got != model.MessageSuccessful {
		t.Errorf("message = %s, want %s after queue retry", got, model.MessageSuccessful)
	}
	if !o.Escalated() {
		t.Error("a terminally failed message send must escalate")
	}
	if got := len(f.employee.Tickets()); got != 1 {
		t.Errorf("tickets = %d, want 1", got)
	}
	if depth := f.c.Stats().QueueDepth; depth != 0 {
		t.Errorf("queue depth = %d, want fully drained", depth)
	}
}

func TestEmployee_QueueMediatedRecovery(t *testing.T) {
	f := newFixture(t, faultSet{
		shipping: []error{service.ErrItemUnavailable},
		employee: transientErrs(4),
	}, nil)
	o := f.place(t)

	if !o.Escalated() {
		t.Error("escalation must eventually land via the queue")
	}
	if got := len(f.employee.Tickets()); got != 1 {
		t.Errorf("tickets = %d, want exactly 1", got)
	}
	if depth := f.c.Stats().QueueDepth; depth != 0 {
		t.Errorf("queue depth = %d, want fully drained", depth)
	}
}

func TestEnqueueFailure_FailsPaymentDefinitively(t *testing.T) {
	f := newFixture(t, faultSet{
		payment: transientErrs(3),
		queue:   transientErrs(3),
	}, nil)
	o := f.place(t)

	if got := o.PaymentStatus(); got != model.PaymentNotDone {
		t.Errorf("payment = %s, want %s when the queue is down", got, model.PaymentNotDone)
	}
	if got := o.MessageSent(); got != model.MessageFail {
		t.Errorf("message = %s, want %s", got, model.MessageFail)
	}
	if !o.Escalated() {
		t.Error("a lost payment task must escalate")
	}
	if got := len(f.payment.Charges()); got != 0 {
		t.Errorf("charges = %d, want 0", got)
	}
}

func TestDrain_AbandonsTimedOutTask(t *testing.T) {
	dlDir := t.TempDir()
	f := newFixture(t, faultSet{}, nil)
	dl, err := queue.NewDeadLetter(dlDir)
	if err != nil {
		t.Fatalf("NewDeadLetter returned error: %v", err)
	}
	f.c.SetDeadLetter(dl)

	o, err := f.c.NewOrder("Jim", "ABCD", "book", 10)
	if err != nil {
		t.Fatalf("NewOrder returned error: %v", err)
	}
	task, err := model.NewQueueTask(o, model.TaskPayment, model.KindNone)
	if err != nil {
		t.Fatalf("NewQueueTask returned error: %v", err)
	}
	task.StampFirstAttempt(time.Now().Add(-10 * time.Second))
	if err := f.queue.Enqueue(task); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	f.c.queueItems.Add(1)

	f.c.Drain()
	f.c.Wait()

	if got := len(f.payment.Charges()); got != 0 {
		t.Error("an abandoned task must not re-invoke its step")
	}
	if got := o.PaymentStatus(); got != model.PaymentTrying {
		t.Errorf("payment = %s, abandonment must not settle the order", got)
	}
	if depth := f.c.Stats().QueueDepth; depth != 0 {
		t.Errorf("queue depth = %d, want 0 after abandonment", depth)
	}

	recs, err := dl.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != task.ID {
		t.Errorf("dead letter archive = %v, want task %s", recs, task.ID)
	}
}

func TestDrain_AbandonsUnknownTaskType(t *testing.T) {
	f := newFixture(t, faultSet{}, nil)

	o, err := f.c.NewOrder("Jim", "ABCD", "book", 10)
	if err != nil {
		t.Fatalf("NewOrder returned error: %v", err)
	}
	task := &model.QueueTask{ID: "task_1771722000_a3f2b7c1", Order: o, Type: "refund", Kind: model.KindNone}
	if err := f.queue.Enqueue(task); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	f.c.queueItems.Add(1)

	f.c.Drain()
	f.c.Wait()

	if depth := f.c.Stats().QueueDepth; depth != 0 {
		t.Errorf("queue depth = %d, want 0 after abandonment", depth)
	}
}

func TestTaskHandler_KnownAndUnknownTypes(t *testing.T) {
	for _, typ := range []model.TaskType{model.TaskPayment, model.TaskMessaging, model.TaskEmployee} {
		if taskHandler(typ) == nil {
			t.Errorf("taskHandler(%s) = nil, want a handler", typ)
		}
	}
	if taskHandler(model.TaskType("refund")) != nil {
		t.Error("taskHandler must return nil for an unknown task type")
	}
}

// stallDequeue fails the first n Dequeue calls with a transient error.
type stallDequeue struct {
	queue.Queue
	remaining int
}

func (q *stallDequeue) Dequeue() (*model.QueueTask, error) {
	if q.remaining > 0 {
		q.remaining--
		return nil, service.ErrUnavailable
	}
	return q.Queue.Dequeue()
}

func TestDrain_DeadLettersAbandonedHeadOnce(t *testing.T) {
	q := &stallDequeue{Queue: queue.NewMemory(), remaining: 2}
	c := New(Deps{
		Shipping:  service.NewShippingClient(),
		Payment:   service.NewPaymentClient(),
		Messaging: service.NewMessagingClient(),
		Employee:  service.NewEmployeeClient(),
		Queue:     q,
	}, testConfig(), log.New(io.Discard, "", 0), LogLevelDebug)
	dl, err := queue.NewDeadLetter(t.TempDir())
	if err != nil {
		t.Fatalf("NewDeadLetter returned error: %v", err)
	}
	c.SetDeadLetter(dl)

	expired, err := c.NewOrder("Jim", "ABCD", "book", 10)
	if err != nil {
		t.Fatalf("NewOrder returned error: %v", err)
	}
	stale, err := model.NewQueueTask(expired, model.TaskPayment, model.KindNone)
	if err != nil {
		t.Fatalf("NewQueueTask returned error: %v", err)
	}
	stale.StampFirstAttempt(time.Now().Add(-10 * time.Second))
	if err := q.Enqueue(stale); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	c.queueItems.Add(1)

	settled, err := c.NewOrder("Ann", "EFGH", "pen", 5)
	if err != nil {
		t.Fatalf("NewOrder returned error: %v", err)
	}
	settled.SettlePayment(model.PaymentDone)
	behind, err := model.NewQueueTask(settled, model.TaskPayment, model.KindNone)
	if err != nil {
		t.Fatalf("NewQueueTask returned error: %v", err)
	}
	if err := q.Enqueue(behind); err != nil {
		t.Fatalf("Enqueue returned error: %v", err)
	}
	c.queueItems.Add(1)

	c.Drain()
	c.Wait()

	// The stalled removal of the abandoned head must not let a later pass
	// see the same head again nor eat the task queued behind it.
	recs, err := dl.List()
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != stale.ID {
		t.Fatalf("dead letter archive = %v, want exactly task %s", recs, stale.ID)
	}
	if depth := c.Stats().QueueDepth; depth != 0 {
		t.Errorf("queue depth = %d, want 0", depth)
	}
}

func TestAnnounceFinal_AtMostOncePerOrder(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)
	f := newFixture(t, faultSet{}, logger)
	o := f.place(t)

	before := strings.Count(buf.String(), "site_message")
	f.c.announceFinal(o, MsgOrderFailed)
	after := strings.Count(buf.String(), "site_message")

	if before != after {
		t.Error("a second final site message must be suppressed")
	}
	// The happy path shows the placement notice and the payment outcome.
	if before != 2 {
		t.Errorf("site messages = %d, want 2", before)
	}
}

func TestStats_CountsOrders(t *testing.T) {
	f := newFixture(t, faultSet{}, nil)
	f.place(t)
	f.place(t)

	if got := f.c.Stats().OrdersPlaced; got != 2 {
		t.Errorf("orders placed = %d, want 2", got)
	}
}

func TestClose_TimesOutOnStuckWork(t *testing.T) {
	f := newFixture(t, faultSet{}, nil)

	release := make(chan struct{})
	f.c.spawn(func() { <-release })

	if err := f.c.Close(50 * time.Millisecond); err == nil {
		t.Error("Close must report a timeout while work is stuck")
	}
	close(release)
	if err := f.c.Close(time.Second); err != nil {
		t.Errorf("Close after release returned error: %v", err)
	}
}

func TestNewOrder_DistinctIDs(t *testing.T) {
	f := newFixture(t, faultSet{}, nil)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		o, err := f.c.NewOrder("Jim", "ABCD", "book", 10)
		if err != nil {
			t.Fatalf("NewOrder returned error: %v", err)
		}
		if seen[o.ID] {
			t.Fatalf("duplicate order id %s", o.ID)
		}
		seen[o.ID] = true
	}
}
