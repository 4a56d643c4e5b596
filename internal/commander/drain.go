package commander

import (
	"errors"
	"fmt"
	"time"

	"github.com/skuraya/conductor/internal/model"
	"github.com/skuraya/conductor/internal/queue"
	"github.com/skuraya/conductor/internal/service"
)

// enqueueTask converts a terminally failed step into a durable work-queue
// task, guarded by the overall queue budget and by the same skip-if-done
// checks the drain loop applies: work is never queued for a state that is
// already terminal.
func (c *Commander) enqueueTask(o *model.Order, taskType model.TaskType, kind model.MessageKind) {
	if o.Age() >= c.limits.Queue {
		c.logf(LogLevelDebug, "queue_budget_exceeded order=%s type=%s", o.ID, taskType)
		return
	}
	if taskSuperseded(o, taskType, kind) {
		c.logf(LogLevelDebug, "task_already_done order=%s type=%s not queueing", o.ID, taskType)
		return
	}

	t, err := model.NewQueueTask(o, taskType, kind)
	if err != nil {
		c.logf(LogLevelError, "task_create_failed order=%s type=%s error=%v", o.ID, taskType, err)
		return
	}

	c.spawn(func() {
		ex := c.executor()
		ex.Do(func() error {
			if err := c.deps.Queue.Enqueue(t); err != nil {
				c.logf(LogLevelWarn, "queue_unavailable order=%s retrying enqueue", o.ID)
				return err
			}
			c.queueItems.Add(1)
			c.logf(LogLevelInfo, "task_enqueued order=%s task=%s type=%s kind=%s", o.ID, t.ID, taskType, kind)
			c.kickDrain()
			return nil
		}, func(err error) {
			// Queue itself is down. A payment task has no fallback
			// store, so the payment resolves to not-done now.
			if taskType == model.TaskPayment {
				if o.SettlePayment(model.PaymentNotDone) {
					c.sendMessage(o, model.KindPaymentFailed)
				}
				c.logf(LogLevelError, "enqueue_failed order=%s payment failed", o.ID)
			}
			c.logf(LogLevelError, "enqueue_failed order=%s type=%s escalating", o.ID, taskType)
			c.employeeEscalate(o)
		})
	})
}

// taskSuperseded reports whether the task's target state is already
// terminal, making the task pointless.
func taskSuperseded(o *model.Order, taskType model.TaskType, kind model.MessageKind) bool {
	switch taskType {
	case model.TaskPayment:
		return o.PaymentStatus() != model.PaymentTrying
	case model.TaskMessaging:
		if kind == model.KindPaymentErrorWarning && o.MessageSent() != model.MessageNoneSent {
			return true
		}
		return model.IsMessageTerminal(o.MessageSent())
	case model.TaskEmployee:
		return o.Escalated()
	default:
		return false
	}
}

// taskHandler maps a drained task to the step that re-attempts it, or nil
// for a task type this commander does not know.
func taskHandler(taskType model.TaskType) func(*Commander, *model.QueueTask) {
	switch taskType {
	case model.TaskPayment:
		return (*Commander).drainPaymentTask
	case model.TaskMessaging:
		return (*Commander).drainMessagingTask
	case model.TaskEmployee:
		return (*Commander).drainEmployeeTask
	}
	return nil
}

// kickDrain starts the drain loop unless one is already running.
func (c *Commander) kickDrain() {
	if !c.draining.CompareAndSwap(false, true) {
		return
	}
	c.spawn(c.drainLoop)
}

// drainLoop processes the queue head once per pass, sleeping a third of the
// per-task budget between passes, and stops when the queue empties. The
// per-task timeout is the authoritative bound on how long a head-of-line
// task can keep re-enqueueing itself.
func (c *Commander) drainLoop() {
	defer func() {
		c.draining.Store(false)
		// An enqueue may have lost its kick against this exiting loop.
		if c.queueItems.Load() > 0 {
			c.kickDrain()
		}
	}()

	for {
		ex := c.executor()
		ex.Do(c.drainOnce, func(err error) {
			c.logf(LogLevelError, "queue_drain_failed error=%v", err)
		})

		if c.queueItems.Load() == 0 {
			c.logf(LogLevelDebug, "queue_empty drain stopping")
			return
		}
		c.sleep(c.limits.QueueTask / 3)
	}
}

// drainOnce peeks (does not pop) the queue head, stamps its first-attempt
// time on first sight, and either abandons it (timed out), discards it
// (superseded), or re-invokes its step. Transient queue errors bubble up to
// the retry driver.
func (c *Commander) drainOnce() error {
	if c.queueItems.Load() == 0 {
		return nil
	}

	t, err := c.deps.Queue.Peek()
	if err != nil {
		if errors.Is(err, queue.ErrEmpty) {
			return nil
		}
		c.logf(LogLevelWarn, "queue_peek_unavailable error=%v", err)
		return err
	}

	first := t.StampFirstAttempt(time.Now())
	if time.Since(first) >= c.limits.QueueTask {
		c.abandonTask(t, fmt.Sprintf("task exceeded queue task budget of %s", c.limits.QueueTask))
		return nil
	}

	handler := taskHandler(t.Type)
	if handler == nil {
		c.abandonTask(t, fmt.Sprintf("unknown task type %q", t.Type))
		return nil
	}
	handler(c, t)
	return nil
}

func (c *Commander) drainPaymentTask(t *model.QueueTask) {
	if t.Order.PaymentStatus() != model.PaymentTrying {
		c.logf(LogLevelDebug, "task_superseded order=%s task=%s payment already settled", t.Order.ID, t.ID)
		c.dequeueTask(t)
		return
	}
	c.logf(LogLevelDebug, "task_retry order=%s task=%s type=payment", t.Order.ID, t.ID)
	c.sendPaymentRequest(t.Order)
}

func (c *Commander) drainMessagingTask(t *model.QueueTask) {
	if model.IsMessageTerminal(t.Order.MessageSent()) {
		c.logf(LogLevelDebug, "task_superseded order=%s task=%s message already terminal", t.Order.ID, t.ID)
		c.dequeueTask(t)
		return
	}
	if t.Kind == model.KindPaymentErrorWarning &&
		(t.Order.MessageSent() != model.MessageNoneSent || t.Order.PaymentStatus() != model.PaymentTrying) {
		c.logf(LogLevelDebug, "task_superseded order=%s task=%s warning no longer applies", t.Order.ID, t.ID)
		c.dequeueTask(t)
		return
	}
	c.logf(LogLevelDebug, "task_retry order=%s task=%s type=messaging kind=%s", t.Order.ID, t.ID, t.Kind)
	c.sendMessage(t.Order, t.Kind)
}

func (c *Commander) drainEmployeeTask(t *model.QueueTask) {
	if t.Order.Escalated() {
		c.logf(LogLevelDebug, "task_superseded order=%s task=%s already escalated", t.Order.ID, t.ID)
		c.dequeueTask(t)
		return
	}
	c.logf(LogLevelDebug, "task_retry order=%s task=%s type=employee_escalation", t.Order.ID, t.ID)
	c.employeeEscalate(t.Order)
}

// abandonTask dead-letters a task that timed out in the queue and removes
// it without re-invoking its step.
func (c *Commander) abandonTask(t *model.QueueTask, reason string) {
	c.logf(LogLevelWarn, "task_abandoned order=%s task=%s type=%s reason=%q", t.Order.ID, t.ID, t.Type, reason)
	if c.deadLetter != nil {
		if err := c.deadLetter.Archive(t, reason); err != nil {
			c.logf(LogLevelError, "dead_letter_archive_failed task=%s error=%v", t.ID, err)
		}
	}
	c.notifyOperator("conductor dead letter",
		fmt.Sprintf("task %s for order %s abandoned: %s", t.ID, t.Order.ID, reason))
	c.dequeueTask(t)
}

// dequeueTask removes the queue head, retrying in place. It runs on the
// drain goroutine and completes before the next pass peeks, so a head that
// was abandoned or superseded is never seen twice.
func (c *Commander) dequeueTask(t *model.QueueTask) {
	ex := c.executor()
	ex.Do(func() error {
		if _, err := c.deps.Queue.Dequeue(); err != nil {
			if errors.Is(err, queue.ErrEmpty) {
				return nil
			}
			if service.IsTransient(err) {
				c.logf(LogLevelWarn, "queue_dequeue_unavailable task=%s retrying", t.ID)
			}
			return err
		}
		c.queueItems.Add(-1)
		c.logf(LogLevelDebug, "task_dequeued task=%s", t.ID)
		return nil
	}, func(err error) {
		c.logf(LogLevelError, "dequeue_failed task=%s error=%v", t.ID, err)
	})
}
