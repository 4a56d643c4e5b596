// Package commander implements the saga coordinator that drives an order
// through shipping, payment, messaging, and employee escalation to eventual
// consistency. Transient downstream failures are retried with backoff, then
// demoted to a durable work queue; definitive business failures resolve
// immediately; anything that exhausts every fallback is escalated to a
// human channel. No failure ever escapes PlaceOrder.
package commander

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/queue"
	"github.com/skuraya/conductor/internal/retry"
	"github.com/skuraya/conductor/internal/service"
)

// User-visible site messages, each shown at most once per order once a
// terminal one has gone out.
const (
	MsgOrderPlaced         = "Order has been placed and will be shipped to you. Please wait while we make your payment..."
	MsgShippingImpossible  = "Shipping is currently not possible to your address. We are working on the problem and will get back to you asap."
	MsgItemUnavailable     = "This item is currently unavailable. We will inform you as soon as the item becomes available again."
	MsgOrderFailed         = "Sorry, there was a problem in creating your order. Please try later."
	MsgPaymentTrying       = "There was an error in payment. We are on it, and will get back to you asap. Don't worry, your order has been placed and will be shipped."
	MsgPaymentDetailsError = "There was an error in payment. Your account/card details may have been incorrect. Meanwhile, your order has been converted to COD and will be shipped."
	MsgPaymentSuccess      = "Payment made successfully, thank you for shopping with us!"
)

// Limits holds the five wall-clock budgets, all measured from the order's
// creation time.
type Limits struct {
	Queue     time.Duration
	QueueTask time.Duration
	Payment   time.Duration
	Message   time.Duration
	Employee  time.Duration
}

func LimitsFromConfig(cfg model.Config) Limits {
	return Limits{
		Queue:     cfg.Limits.Queue(),
		QueueTask: cfg.Limits.QueueTask(),
		Payment:   cfg.Limits.Payment(),
		Message:   cfg.Limits.Message(),
		Employee:  cfg.Limits.Employee(),
	}
}

func PolicyFromConfig(cfg model.Config) retry.Policy {
	return retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BackoffBase: cfg.Retry.BackoffBase(),
		BackoffCap:  cfg.Retry.BackoffCap(),
	}
}

// Deps are the downstream collaborators a commander coordinates.
type Deps struct {
	Shipping  service.Shipping
	Payment   service.Payment
	Messaging service.Messaging
	Employee  service.Employee
	Queue     queue.Queue
}

// Commander orchestrates one order pipeline. All fields on an order are
// mutated only through its guarded transitions, so concurrent sub-flows for
// the same order stay safe without step-level locking.
type Commander struct {
	deps   Deps
	policy retry.Policy
	limits Limits

	ids      *model.IDRegistry
	logger   *log.Logger
	logLevel LogLevel

	deadLetter *queue.DeadLetter
	notifier   func(title, message string) error
	sleep      func(time.Duration)

	// queueItems mirrors the queue depth so the drain loop does not have
	// to poll the store to detect emptiness.
	queueItems   atomic.Int32
	draining     atomic.Bool
	ordersPlaced atomic.Int64

	wg sync.WaitGroup
}

func New(deps Deps, cfg model.Config, logger *log.Logger, logLevel LogLevel) *Commander {
	return &Commander{
		deps:     deps,
		policy:   PolicyFromConfig(cfg),
		limits:   LimitsFromConfig(cfg),
		ids:      model.NewIDRegistry(),
		logger:   logger,
		logLevel: logLevel,
		sleep:    time.Sleep,
	}
}

// SetDeadLetter wires the archive for tasks the drain loop abandons.
func (c *Commander) SetDeadLetter(dl *queue.DeadLetter) {
	c.deadLetter = dl
}

// SetNotifier wires an operator notification hook, called on escalations
// and dead-lettered tasks.
func (c *Commander) SetNotifier(f func(title, message string) error) {
	c.notifier = f
}

// SetSleep overrides the drain loop sleep for testing.
func (c *Commander) SetSleep(f func(time.Duration)) {
	c.sleep = f
}

// NewOrder creates an order with an id collision-checked against this
// commander's registry.
func (c *Commander) NewOrder(user, address, item string, price float64) (*model.Order, error) {
	return model.NewOrder(c.ids, user, address, item, price)
}

// PlaceOrder runs the shipping step synchronously on the caller. On
// success the payment step is started on its own timeline and PlaceOrder
// returns; every later step runs in the background. No error is ever
// returned to the caller — failures end in a state transition, a queue
// entry, or a log line.
func (c *Commander) PlaceOrder(o *model.Order) {
	c.ordersPlaced.Add(1)

	ex := c.executor()
	ex.Do(func() error {
		txn, err := c.deps.Shipping.PlaceShipment(o.Item, o.Address)
		if err != nil {
			if service.IsTransient(err) {
				c.logf(LogLevelDebug, "shipping_unavailable order=%s retrying", o.ID)
			} else {
				c.logf(LogLevelDebug, "shipping_request_failed order=%s error=%v", o.ID, err)
			}
			return err
		}
		c.logf(LogLevelInfo, "shipping_placed order=%s txn=%s", o.ID, txn)
		c.announce(o, MsgOrderPlaced)
		c.sendPaymentRequest(o)
		return nil
	}, func(err error) {
		switch {
		case errors.Is(err, service.ErrShippingNotPossible):
			c.announceFinal(o, MsgShippingImpossible)
			c.logf(LogLevelInfo, "shipping_not_possible order=%s escalating", o.ID)
			c.employeeEscalate(o)
		case errors.Is(err, service.ErrItemUnavailable):
			c.announceFinal(o, MsgItemUnavailable)
			c.logf(LogLevelInfo, "item_unavailable order=%s item=%s escalating", o.ID, o.Item)
			c.employeeEscalate(o)
		default:
			c.announceFinal(o, MsgOrderFailed)
			c.logf(LogLevelError, "shipping_failed order=%s order not placed: %v", o.ID, err)
		}
	})
}

// Stats is a point-in-time view of the commander for status reporting.
type Stats struct {
	OrdersPlaced int64 `json:"orders_placed"`
	QueueDepth   int32 `json:"queue_depth"`
}

func (c *Commander) Stats() Stats {
	return Stats{
		OrdersPlaced: c.ordersPlaced.Load(),
		QueueDepth:   c.queueItems.Load(),
	}
}

// Drain kicks the queue drain loop if it is not already running.
func (c *Commander) Drain() {
	c.kickDrain()
}

// Wait blocks until every background step and the drain loop finish.
func (c *Commander) Wait() {
	c.wg.Wait()
}

// Close waits up to timeout for background work to drain.
func (c *Commander) Close(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("commander shutdown timed out after %s", timeout)
	}
}

func (c *Commander) executor() *retry.Executor {
	return retry.New(c.policy, service.IsTransient)
}

// spawn runs f on a tracked background goroutine. A panic in a step is
// contained and logged, honoring the rule that no failure escapes the
// order pipeline.
func (c *Commander) spawn(f func()) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logf(LogLevelError, "step_panic recovered=%v", r)
			}
		}()
		f()
	}()
}

// announce logs a user-visible site message without consuming the
// final-message guard.
func (c *Commander) announce(o *model.Order, msg string) {
	c.logf(LogLevelInfo, "site_message order=%s %q", o.ID, msg)
}

// announceFinal logs the order's definitive site message, at most once per
// order.
func (c *Commander) announceFinal(o *model.Order, msg string) {
	if o.MarkFinalMessageShown() {
		c.logf(LogLevelInfo, "site_message order=%s %q", o.ID, msg)
	}
}

func (c *Commander) notifyOperator(title, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier(title, message); err != nil {
		c.logf(LogLevelDebug, "notify_failed error=%v", err)
	}
}
