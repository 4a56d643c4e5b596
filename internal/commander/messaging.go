package commander

import (
	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/service"
)

// messageRule captures the idempotence guards for one messaging sub-flow:
// when the message may still be sent, and when a terminal send failure is
// worth queueing for a later retry.
type messageRule struct {
	outcome     model.MessageSent
	canSend     func(o *model.Order) bool
	shouldQueue func(c *Commander, o *model.Order) bool
}

// outcomeSendable is the shared guard for the two terminal messages: skip
// entirely once either terminal message has gone out.
func outcomeSendable(o *model.Order) bool {
	return !model.IsMessageTerminal(o.MessageSent())
}

// outcomeQueueable allows queueing a failed terminal message while the
// order is still in a non-terminal message state and budget remains.
func outcomeQueueable(c *Commander, o *model.Order) bool {
	ms := o.MessageSent()
	return (ms == model.MessageNoneSent || ms == model.MessageTrying) && o.Age() < c.limits.Message
}

var messageRules = map[model.MessageKind]messageRule{
	model.KindPaymentSuccess: {
		outcome:     model.MessageSuccessful,
		canSend:     outcomeSendable,
		shouldQueue: outcomeQueueable,
	},
	model.KindPaymentFailed: {
		outcome:     model.MessageFail,
		canSend:     outcomeSendable,
		shouldQueue: outcomeQueueable,
	},
	model.KindPaymentErrorWarning: {
		outcome: model.MessageTrying,
		canSend: func(o *model.Order) bool {
			return o.PaymentStatus() == model.PaymentTrying && o.MessageSent() == model.MessageNoneSent
		},
		shouldQueue: func(c *Commander, o *model.Order) bool {
			return o.MessageSent() == model.MessageNoneSent &&
				o.PaymentStatus() == model.PaymentTrying &&
				o.Age() < c.limits.Message
		},
	},
}

// sendMessage runs one messaging sub-flow in the background. A terminal
// send failure enqueues a messaging task of the same kind and escalates to
// the employee channel.
func (c *Commander) sendMessage(o *model.Order, kind model.MessageKind) {
	rule, ok := messageRules[kind]
	if !ok {
		c.logf(LogLevelError, "message_unknown_kind order=%s kind=%d", o.ID, kind)
		return
	}
	if o.Age() >= c.limits.Message {
		c.logf(LogLevelDebug, "message_budget_exceeded order=%s kind=%s", o.ID, kind)
		return
	}

	c.spawn(func() {
		ex := c.executor()
		ex.Do(func() error {
			if !rule.canSend(o) {
				return nil
			}
			req, err := c.deps.Messaging.SendMessage(kind)
			if err != nil {
				if service.IsTransient(err) {
					c.logf(LogLevelDebug, "messaging_unavailable order=%s kind=%s retrying", o.ID, kind)
				} else {
					c.logf(LogLevelDebug, "messaging_request_failed order=%s kind=%s error=%v", o.ID, kind, err)
				}
				return err
			}
			o.MarkMessageSent(rule.outcome)
			c.logf(LogLevelInfo, "message_sent order=%s kind=%s request=%s", o.ID, kind, req)
			return nil
		}, func(err error) {
			if !rule.shouldQueue(c, o) {
				return
			}
			c.logf(LogLevelWarn, "message_failed order=%s kind=%s queueing and escalating", o.ID, kind)
			c.enqueueTask(o, model.TaskMessaging, kind)
			c.employeeEscalate(o)
		})
	})
}
