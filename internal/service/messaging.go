package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skuraya/conductor/internal/model"
)

// MessageRecord is one accepted messaging request.
type MessageRecord struct {
	RequestID  string
	Kind       model.MessageKind
	Body       string
	AcceptedAt time.Time
}

// MessagingClient is an in-memory messaging service that records every
// accepted message.
type MessagingClient struct {
	mu       sync.Mutex
	messages []MessageRecord
}

func NewMessagingClient() *MessagingClient {
	return &MessagingClient{}
}

func (m *MessagingClient) SendMessage(kind model.MessageKind) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req := uuid.NewString()
	m.messages = append(m.messages, MessageRecord{
		RequestID:  req,
		Kind:       kind,
		Body:       messageBody(kind),
		AcceptedAt: time.Now(),
	})
	return req, nil
}

// Messages returns a copy of all accepted messages.
func (m *MessagingClient) Messages() []MessageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageRecord, len(m.messages))
	copy(out, m.messages)
	return out
}

// MessagesOfKind returns accepted messages of one kind, oldest first.
func (m *MessagingClient) MessagesOfKind(kind model.MessageKind) []MessageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MessageRecord
	for _, msg := range m.messages {
		if msg.Kind == kind {
			out = append(out, msg)
		}
	}
	return out
}

func messageBody(kind model.MessageKind) string {
	switch kind {
	case model.KindPaymentFailed:
		return "There was an error in payment. Your account/card details may have been incorrect. " +
			"Meanwhile, your order has been converted to COD and will be shipped."
	case model.KindPaymentErrorWarning:
		return "There was an error in payment. We are on it, and will get back to you asap. " +
			"Don't worry, your order has been placed and will be shipped."
	case model.KindPaymentSuccess:
		return "Payment made successfully, thank you for shopping with us!"
	default:
		return ""
	}
}
