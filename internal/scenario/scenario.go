// Package scenario provides scripted walkthroughs of the order pipeline's
// success and failure cases. Each scenario wires a commander to recording
// services wrapped with deterministic fault queues, places one order, and
// waits for the pipeline to settle.
package scenario

import (
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/skuraya/conductor/internal/commander"
	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/queue"
	"github.com/skuraya/conductor/internal/service"
)

// Result is the terminal state a scenario's order settled into.
type Result struct {
	Name      string
	OrderID   string
	Payment   model.PaymentStatus
	Message   model.MessageSent
	Escalated bool
	Charges   int
	Tickets   int
}

// Scenario scripts the fault sequence each downstream sees before it
// recovers (or fails definitively).
type Scenario struct {
	Name            string
	Description     string
	shippingFaults  []error
	paymentFaults   []error
	messagingFaults []error
	employeeFaults  []error
	queueFaults     []error
}

func transient(n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = service.ErrUnavailable
	}
	return errs
}

// Catalog returns every scripted case: the happy path, per-service outage
// cases, definitive business failures, and queue outage cases.
func Catalog() []Scenario {
	return []Scenario{
		{
			Name:        "payment_success",
			Description: "every downstream healthy, order settles paid",
		},
		{
			Name:           "shipping_unavailable",
			Description:    "shipping stays down through every retry, order never placed",
			shippingFaults: transient(3),
		},
		{
			Name:           "shipping_not_possible",
			Description:    "definitive shipping failure escalates to a human",
			shippingFaults: []error{service.ErrShippingNotPossible},
		},
		{
			Name:           "item_unavailable",
			Description:    "definitive item failure escalates to a human",
			shippingFaults: []error{service.ErrItemUnavailable},
		},
		{
			Name:          "payment_flaky_then_recovers",
			Description:   "payment fails twice transiently, succeeds within the attempt budget",
			paymentFaults: transient(2),
		},
		{
			Name:          "payment_queue_mediated_recovery",
			Description:   "payment exhausts in-process retries, recovers via the work queue",
			paymentFaults: transient(3),
		},
		{
			Name:          "payment_details_invalid",
			Description:   "definitive payment failure resolves immediately, nothing queued",
			paymentFaults: []error{service.ErrPaymentDetails},
		},
		{
			Name:            "messaging_unavailable_payment_success",
			Description:     "success message exhausts retries, recovers via the work queue",
			messagingFaults: transient(3),
		},
		{
			Name:            "messaging_unavailable_payment_error",
			Description:     "warning message survives one messaging fault, payment recovers via queue",
			paymentFaults:   transient(3),
			messagingFaults: transient(1),
		},
		{
			Name:            "messaging_unavailable_payment_failure",
			Description:     "failure message exhausts retries after invalid payment details",
			paymentFaults:   []error{service.ErrPaymentDetails},
			messagingFaults: transient(3),
		},
		{
			Name:           "employee_channel_flaky",
			Description:    "escalation survives one employee channel fault in process",
			shippingFaults: []error{service.ErrItemUnavailable},
			employeeFaults: transient(1),
		},
		{
			Name:           "employee_queue_mediated_recovery",
			Description:    "escalation exhausts retries, recovers via the work queue",
			shippingFaults: []error{service.ErrItemUnavailable},
			employeeFaults: transient(4),
		},
		{
			Name:          "queue_unavailable_payment_task",
			Description:   "queue outage fails the pending payment definitively",
			paymentFaults: transient(3),
			queueFaults:   transient(3),
		},
	}
}

// Run executes the scenario against a fresh commander and blocks until all
// background steps settle.
func (s Scenario) Run(logger *log.Logger, level commander.LogLevel) (Result, error) {
	cfg := scenarioConfig()

	shipping := service.NewShippingClient()
	payment := service.NewPaymentClient()
	messaging := service.NewMessagingClient()
	employee := service.NewEmployeeClient()

	deps := commander.Deps{
		Shipping:  &service.FlakyShipping{Inner: shipping, Faults: service.NewFaults(s.shippingFaults...)},
		Payment:   &service.FlakyPayment{Inner: payment, Faults: service.NewFaults(s.paymentFaults...)},
		Messaging: &service.FlakyMessaging{Inner: messaging, Faults: service.NewFaults(s.messagingFaults...)},
		Employee:  &service.FlakyEmployee{Inner: employee, Faults: service.NewFaults(s.employeeFaults...)},
		Queue:     &queue.Flaky{Inner: queue.NewMemory(), Faults: queue.NewFaults(s.queueFaults...)},
	}

	c := commander.New(deps, cfg, logger, level)

	o, err := c.NewOrder("Jim", "ABCD", "book", 10)
	if err != nil {
		return Result{}, fmt.Errorf("scenario %s: %w", s.Name, err)
	}

	c.PlaceOrder(o)
	c.Wait()

	return Result{
		Name:      s.Name,
		OrderID:   o.ID,
		Payment:   o.PaymentStatus(),
		Message:   o.MessageSent(),
		Escalated: o.Escalated(),
		Charges:   len(payment.Charges()),
		Tickets:   len(employee.Tickets()),
	}, nil
}

// RunAll executes every catalog scenario concurrently.
func RunAll(logger *log.Logger, level commander.LogLevel) ([]Result, error) {
	scenarios := Catalog()
	results := make([]Result, len(scenarios))

	var g errgroup.Group
	for i, s := range scenarios {
		g.Go(func() error {
			res, err := s.Run(logger, level)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// scenarioConfig uses short budgets so a full catalog run settles in a few
// seconds while preserving the production ratios between them.
func scenarioConfig() model.Config {
	cfg := model.Config{
		Retry: model.RetrySettings{
			MaxAttempts:   3,
			BackoffBaseMs: 10,
			BackoffCapMs:  50,
		},
		Limits: model.LimitsSettings{
			QueueMs:     5000,
			QueueTaskMs: 1000,
			PaymentMs:   3000,
			MessageMs:   4000,
			EmployeeMs:  5000,
		},
	}
	cfg.ApplyDefaults()
	return cfg
}
