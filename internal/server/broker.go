package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/ashita-ai/renga/internal/model"
)

// Broker fans out engine run events to SSE subscribers. It implements the
// engine's event sink, so publishing never blocks the run loop.
type Broker struct {
	logger  *slog.Logger
	bufSize int

	mu          sync.RWMutex
	subscribers map[chan []byte]uuid.UUID
}

// NewBroker creates a new SSE broker. bufSize is the per-subscriber channel
// buffer; slow subscribers that fill it lose events.
func NewBroker(bufSize int, logger *slog.Logger) *Broker {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broker{
		logger:      logger,
		bufSize:     bufSize,
		subscribers: make(map[chan []byte]uuid.UUID),
	}
}

// Publish encodes the event as SSE and broadcasts it to every subscriber
// watching the event's notebook.
func (b *Broker) Publish(ev model.RunEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("broker: encode event", "error", err)
		return
	}
	event := formatSSE(string(ev.Type), string(payload))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, filter := range b.subscribers {
		if filter != uuid.Nil && filter != ev.NotebookID {
			continue
		}
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop this event for them.
		}
	}
}

// Subscribe returns a channel that receives SSE-formatted events for the
// given notebook; uuid.Nil subscribes to all notebooks. The caller must
// call Unsubscribe when done.
func (b *Broker) Subscribe(notebookID uuid.UUID) chan []byte {
	ch := make(chan []byte, b.bufSize)
	b.mu.Lock()
	b.subscribers[ch] = notebookID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Subscribers returns the current subscriber count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// formatSSE formats an event as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	// SSE format: "event: <type>\ndata: <payload>\n\n"
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
