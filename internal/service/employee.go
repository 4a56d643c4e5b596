package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skuraya/conductor/internal/model"
)

// TicketRecord is one human-follow-up ticket.
type TicketRecord struct {
	TicketID   string
	OrderID    string
	AcceptedAt time.Time
}

// EmployeeClient is an in-memory employee escalation channel that records
// every filed ticket.
type EmployeeClient struct {
	mu      sync.Mutex
	tickets []TicketRecord
}

func NewEmployeeClient() *EmployeeClient {
	return &EmployeeClient{}
}

func (e *EmployeeClient) FileTicket(o *model.Order) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ticket := uuid.NewString()
	e.tickets = append(e.tickets, TicketRecord{
		TicketID:   ticket,
		OrderID:    o.ID,
		AcceptedAt: time.Now(),
	})
	return ticket, nil
}

// Tickets returns a copy of all filed tickets.
func (e *EmployeeClient) Tickets() []TicketRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]TicketRecord, len(e.tickets))
	copy(out, e.tickets)
	return out
}
