package service

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ShipmentRecord is one accepted shipping request.
type ShipmentRecord struct {
	TransactionID string
	Item          string
	Address       string
	AcceptedAt    time.Time
}

// ShippingClient is an in-memory shipping service that records every
// accepted request.
type ShippingClient struct {
	mu        sync.Mutex
	shipments []ShipmentRecord
}

func NewShippingClient() *ShippingClient {
	return &ShippingClient{}
}

func (s *ShippingClient) PlaceShipment(item, address string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := uuid.NewString()
	s.shipments = append(s.shipments, ShipmentRecord{
		TransactionID: txn,
		Item:          item,
		Address:       address,
		AcceptedAt:    time.Now(),
	})
	return txn, nil
}

// Shipments returns a copy of all accepted requests.
func (s *ShippingClient) Shipments() []ShipmentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ShipmentRecord, len(s.shipments))
	copy(out, s.shipments)
	return out
}
