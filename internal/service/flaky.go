package service

import (
	"sync"

	"github.com/skuraya/conductor/internal/model"
)

// Faults is an explicit injectable fault queue. Each wrapped call consumes
// the next queued fault before reaching the real service, which lets tests
// and demo scenarios script a deterministic sequence of failures.
// Production wiring never uses this type.
type Faults struct {
	mu    sync.Mutex
	queue []error
}

func NewFaults(errs ...error) *Faults {
	return &Faults{queue: append([]error(nil), errs...)}
}

// Push appends faults to the end of the queue.
func (f *Faults) Push(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, errs...)
}

// next pops the head fault, or nil when the queue is empty.
func (f *Faults) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil
	}
	err := f.queue[0]
	f.queue = f.queue[1:]
	return err
}

// Pending returns the number of faults not yet consumed.
func (f *Faults) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// FlakyShipping wraps a Shipping client with a fault queue.
type FlakyShipping struct {
	Inner  Shipping
	Faults *Faults
}

func (s *FlakyShipping) PlaceShipment(item, address string) (string, error) {
	if err := s.Faults.next(); err != nil {
		return "", err
	}
	return s.Inner.PlaceShipment(item, address)
}

// FlakyPayment wraps a Payment client with a fault queue.
type FlakyPayment struct {
	Inner  Payment
	Faults *Faults
}

func (p *FlakyPayment) Charge(amount float64) (string, error) {
	if err := p.Faults.next(); err != nil {
		return "", err
	}
	return p.Inner.Charge(amount)
}

// FlakyMessaging wraps a Messaging client with a fault queue.
type FlakyMessaging struct {
	Inner  Messaging
	Faults *Faults
}

func (m *FlakyMessaging) SendMessage(kind model.MessageKind) (string, error) {
	if err := m.Faults.next(); err != nil {
		return "", err
	}
	return m.Inner.SendMessage(kind)
}

// FlakyEmployee wraps an Employee channel with a fault queue.
type FlakyEmployee struct {
	Inner  Employee
	Faults *Faults
}

func (e *FlakyEmployee) FileTicket(o *model.Order) (string, error) {
	if err := e.Faults.next(); err != nil {
		return "", err
	}
	return e.Inner.FileTicket(o)
}
