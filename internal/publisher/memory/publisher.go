// Package memory contains an in-memory notification publisher for tests and
// dry runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message captures one publish call as it would travel on the wire.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("decode message %s: %w", m.ID, err)
	}
	return nil
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []Message

	// Err, when set, fails every publish.
	Err error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish JSON-encodes payload, records it and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	if p.Err != nil {
		return "", p.Err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}
