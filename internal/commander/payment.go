package commander

import (
	"errors"

	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/service"
)

// sendPaymentRequest runs the payment step on its own timeline. The budget
// guard up front makes the step safely re-invokable from the queue: once
// the payment budget has elapsed, a still-trying order is marked not-done
// exactly once and no charge is attempted, so a queued retry can never
// double-charge.
func (c *Commander) sendPaymentRequest(o *model.Order) {
	if o.Age() >= c.limits.Payment {
		if o.SettlePayment(model.PaymentNotDone) {
			c.logf(LogLevelError, "payment_budget_exceeded order=%s marked not_done", o.ID)
			c.sendMessage(o, model.KindPaymentFailed)
		}
		return
	}

	c.spawn(func() {
		ex := c.executor()
		ex.Do(func() error {
			if o.PaymentStatus() != model.PaymentTrying {
				return nil
			}
			txn, err := c.deps.Payment.Charge(o.Price)
			if err != nil {
				if service.IsTransient(err) {
					c.logf(LogLevelDebug, "payment_unavailable order=%s retrying", o.ID)
				} else {
					c.logf(LogLevelDebug, "payment_request_failed order=%s error=%v", o.ID, err)
				}
				return err
			}
			o.SettlePayment(model.PaymentDone)
			c.logf(LogLevelInfo, "payment_success order=%s txn=%s", o.ID, txn)
			c.announceFinal(o, MsgPaymentSuccess)
			c.sendMessage(o, model.KindPaymentSuccess)
			return nil
		}, func(err error) {
			if errors.Is(err, service.ErrPaymentDetails) {
				c.handlePaymentDetailsError(o)
				return
			}
			if o.MessageSent() == model.MessageNoneSent {
				c.handlePaymentError(o)
			}
			if o.PaymentStatus() == model.PaymentTrying && o.Age() < c.limits.Payment {
				c.enqueueTask(o, model.TaskPayment, model.KindNone)
			}
		})
	})
}

// handlePaymentError deals with a payment service that stayed unreachable
// through every in-process retry: warn the user, leave the order trying so
// the queue can resume it.
func (c *Commander) handlePaymentError(o *model.Order) {
	c.announceFinal(o, MsgPaymentTrying)
	c.logf(LogLevelWarn, "payment_error order=%s going to queue", o.ID)
	c.sendMessage(o, model.KindPaymentErrorWarning)
}

// handlePaymentDetailsError resolves a definitive business failure: the
// order permanently moves to not-done and the failure message goes out.
// Nothing is queued.
func (c *Commander) handlePaymentDetailsError(o *model.Order) {
	c.announceFinal(o, MsgPaymentDetailsError)
	c.logf(LogLevelError, "payment_details_invalid order=%s failed", o.ID)
	o.SettlePayment(model.PaymentNotDone)
	c.sendMessage(o, model.KindPaymentFailed)
}
