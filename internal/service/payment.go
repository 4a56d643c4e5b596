package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ChargeRecord is one accepted payment request.
type ChargeRecord struct {
	TransactionID string
	Amount        float64
	AcceptedAt    time.Time
}

// PaymentClient is an in-memory payment service that records every
// accepted charge.
type PaymentClient struct {
	mu      sync.Mutex
	charges []ChargeRecord
}

func NewPaymentClient() *PaymentClient {
	return &PaymentClient{}
}

func (p *PaymentClient) Charge(amount float64) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	txn := uuid.NewString()
	p.charges = append(p.charges, ChargeRecord{
		TransactionID: txn,
		Amount:        amount,
		AcceptedAt:    time.Now(),
	})
	return txn, nil
}

// Charges returns a copy of all accepted charges.
func (p *PaymentClient) Charges() []ChargeRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ChargeRecord, len(p.charges))
	copy(out, p.charges)
	return out
}
