// Package service defines the downstream collaborator contracts the
// commander coordinates, plus in-memory implementations that record every
// accepted request. Each call returns a transaction id on success or one of
// the typed failures in errors.go.
package service

import "github.com/skuraya/conductor/internal/model"

// Shipping places a shipment for an item to an address.
type Shipping interface {
	PlaceShipment(item, address string) (string, error)
}

// Payment charges the given amount.
type Payment interface {
	Charge(amount float64) (string, error)
}

// Messaging delivers one of the three user-facing payment outcome messages.
type Messaging interface {
	SendMessage(kind model.MessageKind) (string, error)
}

// Employee records a human-follow-up ticket for an order that automated
// recovery could not resolve.
type Employee interface {
	FileTicket(o *model.Order) (string, error)
}
