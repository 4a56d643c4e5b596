package commander

import (
	"fmt"

	"github.com/skuraya/conductor/internal/model"
)

// employeeEscalate records a human-follow-up ticket for the order. This is
// the last automated resort: if filing the ticket itself fails terminally,
// the escalation is queued, and if that also ages out the order is
// abandoned with only a log trail.
func (c *Commander) employeeEscalate(o *model.Order) {
	if o.Age() >= c.limits.Employee {
		c.logf(LogLevelDebug, "employee_budget_exceeded order=%s", o.ID)
		return
	}

	c.spawn(func() {
		ex := c.executor()
		ex.Do(func() error {
			if o.Escalated() {
				return nil
			}
			ticket, err := c.deps.Employee.FileTicket(o)
			if err != nil {
				c.logf(LogLevelWarn, "employee_channel_unavailable order=%s retrying", o.ID)
				return err
			}
			o.MarkEscalated()
			c.logf(LogLevelInfo, "escalation_filed order=%s ticket=%s", o.ID, ticket)
			c.notifyOperator("conductor escalation",
				fmt.Sprintf("order %s needs human follow-up", o.ID))
			return nil
		}, func(err error) {
			if !o.Escalated() && o.Age() < c.limits.Employee {
				c.logf(LogLevelWarn, "escalation_failed order=%s queueing", o.ID)
				c.enqueueTask(o, model.TaskEmployee, model.KindNone)
			}
		})
	})
}
