package model

import (
	"fmt"
	"sync"
	"time"
)

// Order is the transactional record of one checkout. Identity and content
// are immutable after creation; the three outcome fields only ever move
// toward terminal states, and every transition is a guarded check-and-set
// so that retried or queued steps can safely re-run against it.
type Order struct {
	ID        string
	User      string
	Address   string
	Item      string
	Price     float64
	CreatedAt time.Time

	mu           sync.Mutex
	paid         PaymentStatus
	message      MessageSent
	escalated    bool
	finalMsgSeen bool
}

// NewOrder creates an order with a fresh collision-checked id. The registry
// scopes the used-id set to one commander instance.
func NewOrder(reg *IDRegistry, user, address, item string, price float64) (*Order, error) {
	var id string
	for attempt := 0; ; attempt++ {
		generated, err := GenerateID(IDTypeOrder)
		if err != nil {
			return nil, fmt.Errorf("generate order id: %w", err)
		}
		if reg.Claim(generated) {
			id = generated
			break
		}
		if attempt >= 16 {
			return nil, fmt.Errorf("order id space exhausted after %d collisions", attempt)
		}
	}

	return &Order{
		ID:        id,
		User:      user,
		Address:   address,
		Item:      item,
		Price:     price,
		CreatedAt: time.Now(),
		paid:      PaymentTrying,
		message:   MessageNoneSent,
	}, nil
}

// Age returns how long ago the order was created. Every time-boxing
// decision in the commander is a comparison against this value.
func (o *Order) Age() time.Duration {
	return time.Since(o.CreatedAt)
}

func (o *Order) PaymentStatus() PaymentStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paid
}

// SettlePayment moves the payment status from trying to the given terminal
// state. It reports whether this call performed the transition; once a
// terminal state is reached all further calls are no-ops.
func (o *Order) SettlePayment(to PaymentStatus) bool {
	if !IsPaymentTerminal(to) {
		return false
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.paid != PaymentTrying {
		return false
	}
	o.paid = to
	return true
}

func (o *Order) MessageSent() MessageSent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.message
}

// MarkMessageSent records that a message of the given kind went out. The
// transition table enforces that at most one terminal outcome message is
// ever recorded. Returns whether the state changed.
func (o *Order) MarkMessageSent(to MessageSent) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !CanTransitionMessage(o.message, to) {
		return false
	}
	o.message = to
	return true
}

func (o *Order) Escalated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.escalated
}

// MarkEscalated flips the escalation flag, which transitions false→true
// exactly once. Returns whether this call flipped it.
func (o *Order) MarkEscalated() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.escalated {
		return false
	}
	o.escalated = true
	return true
}

// MarkFinalMessageShown claims the one definitive site message this order
// may show. Returns whether this call claimed it.
func (o *Order) MarkFinalMessageShown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.finalMsgSeen {
		return false
	}
	o.finalMsgSeen = true
	return true
}

func (o *Order) FinalMessageShown() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.finalMsgSeen
}
