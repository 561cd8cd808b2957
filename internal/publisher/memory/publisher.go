// Package memory contains an in-memory publisher for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/patrol-reporter/internal/publisher"
)

// Publisher stores published events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []publisher.ArchiveCreated
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, event publisher.ArchiveCreated) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.Event == "" {
		event.Event = publisher.EventArchiveCreated
	}
	p.events = append(p.events, event)
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns the recorded events.
func (p *Publisher) Events() []publisher.ArchiveCreated {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]publisher.ArchiveCreated, len(p.events))
	copy(out, p.events)
	return out
}
