package queue

import (
	"context"
	"sync"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// MemoryClient keeps messages in memory; used in dev and tests.
type MemoryClient struct {
	mu   sync.Mutex
	msgs []Message
	Err  error
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{}
}

func (m *MemoryClient) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.msgs = append(m.msgs, msg)
	return nil
}

// Sent returns a copy of every message accepted so far.
func (m *MemoryClient) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.msgs...)
}

var _ Client = (*MemoryClient)(nil)
