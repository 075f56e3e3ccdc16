// Package eventbus provides in-process fan-out of execution log events
// to live subscribers (SSE streams).
package eventbus

import (
	"sync"

	"github.com/vectorhq/vector/model"
)

// Bus delivers execution log events to subscribers keyed by project ID.
type Bus interface {
	Publish(projectID string, event *model.ExecutionLog)
	Subscribe(projectID string) chan *model.ExecutionLog
	Unsubscribe(projectID string, ch chan *model.ExecutionLog)
}

// InMemoryBus is a simple channel-based Bus for a single process.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.ExecutionLog
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan *model.ExecutionLog)}
}

// Publish sends the event to all subscribers of the project. Slow
// subscribers drop events rather than block the publisher.
func (b *InMemoryBus) Publish(projectID string, event *model.ExecutionLog) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[projectID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber channel for the project.
func (b *InMemoryBus) Subscribe(projectID string) chan *model.ExecutionLog {
	ch := make(chan *model.ExecutionLog, 64)
	b.mu.Lock()
	b.subs[projectID] = append(b.subs[projectID], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *InMemoryBus) Unsubscribe(projectID string, ch chan *model.ExecutionLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[projectID]
	for i, c := range subs {
		if c == ch {
			b.subs[projectID] = append(subs[:i], subs[i+1:]...)
			close(c)
			break
		}
	}
	if len(b.subs[projectID]) == 0 {
		delete(b.subs, projectID)
	}
}
