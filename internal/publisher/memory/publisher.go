// Package memory collects published run events so tests and dry runs can
// inspect what would have gone to Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Event is one recorded publish.
type Event struct {
	Topic   string
	Payload any
}

// Publisher appends events instead of sending them anywhere.
type Publisher struct {
	mu     sync.Mutex
	events []Event
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a sequence-numbered pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.events)), nil
}

// Events returns a copy of everything published so far, in publish order.
func (p *Publisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
