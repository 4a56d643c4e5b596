package model

// PaymentStatus tracks the payment leg of an order. It starts at
// PaymentTrying and moves to exactly one of PaymentDone or PaymentNotDone,
// after which it never changes again.
type PaymentStatus string

const (
	PaymentTrying  PaymentStatus = "trying"
	PaymentDone    PaymentStatus = "done"
	PaymentNotDone PaymentStatus = "not_done"
)

var terminalPaymentStatuses = map[PaymentStatus]bool{
	PaymentDone:    true,
	PaymentNotDone: true,
}

func IsPaymentTerminal(s PaymentStatus) bool {
	return terminalPaymentStatuses[s]
}

// MessageSent tracks which user-facing outcome message has gone out for an
// order. MessageTrying is a soft interim state and may still move to a
// terminal message; MessageFail and MessageSuccessful are terminal.
type MessageSent string

const (
	MessageNoneSent   MessageSent = "none_sent"
	MessageTrying     MessageSent = "payment_trying"
	MessageFail       MessageSent = "payment_fail"
	MessageSuccessful MessageSent = "payment_successful"
)

var terminalMessageStates = map[MessageSent]bool{
	MessageFail:       true,
	MessageSuccessful: true,
}

func IsMessageTerminal(m MessageSent) bool {
	return terminalMessageStates[m]
}

// Valid message transitions: none_sent ↔ payment_trying → terminal.
// Terminal states have no outgoing edges.
var validMessageTransitions = map[MessageSent]map[MessageSent]bool{
	MessageNoneSent: {
		MessageTrying:     true,
		MessageFail:       true,
		MessageSuccessful: true,
	},
	MessageTrying: {
		MessageFail:       true,
		MessageSuccessful: true,
	},
}

func CanTransitionMessage(from, to MessageSent) bool {
	return validMessageTransitions[from][to]
}

// TaskType identifies the kind of follow-up work a queued task re-attempts.
type TaskType string

const (
	TaskPayment   TaskType = "payment"
	TaskMessaging TaskType = "messaging"
	TaskEmployee  TaskType = "employee_escalation"
)

var validTaskTypes = map[TaskType]bool{
	TaskPayment:   true,
	TaskMessaging: true,
	TaskEmployee:  true,
}

func IsValidTaskType(t TaskType) bool {
	return validTaskTypes[t]
}

// MessageKind selects which of the three messaging sub-flows a messaging
// task belongs to. The numeric values are part of the queue file format.
type MessageKind int

const (
	KindPaymentFailed       MessageKind = 0
	KindPaymentErrorWarning MessageKind = 1
	KindPaymentSuccess      MessageKind = 2

	// KindNone marks tasks that carry no messaging sub-flow.
	KindNone MessageKind = -1
)

func (k MessageKind) String() string {
	switch k {
	case KindPaymentFailed:
		return "payment_failed"
	case KindPaymentErrorWarning:
		return "payment_error_warning"
	case KindPaymentSuccess:
		return "payment_success"
	default:
		return "none"
	}
}
