// Package queue coordinates background job execution: the worker pool, the
// pause/resume coordinator driven by circuit breaker transitions, the
// dispatcher boundary, and the status reporter.
package queue

import (
	"sync"
	"time"

	"github.com/relayloop/campaignd/breaker"
	"github.com/relayloop/campaignd/job"
)

// EventKind distinguishes the two event families on the bus.
type EventKind string

const (
	EventJob     EventKind = "job"
	EventBreaker EventKind = "breaker"
)

// Event describes a job status transition or a breaker transition, for
// observability consumers (WebSocket stream, logs).
type Event struct {
	Kind       EventKind       `json:"kind"`
	JobID      string          `json:"job_id,omitempty"`
	CampaignID string          `json:"campaign_id,omitempty"`
	JobType    job.Type        `json:"job_type,omitempty"`
	Status     job.Status      `json:"status,omitempty"`
	Service    breaker.Service `json:"service,omitempty"`
	State      breaker.State   `json:"state,omitempty"`
	Count      int             `json:"count,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	At         time.Time       `json:"at"`
}

// subscriberBufferSize is the buffer for subscriber channels; slow
// consumers drop events rather than stall publishers.
const subscriberBufferSize = 100

// Bus is a non-blocking fan-out of queue events.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan Event
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe returns a channel that receives queue events. The caller is
// responsible for calling Unsubscribe when done. The returned channel is
// buffered to prevent blocking publishers.
func (b *Bus) Subscribe() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, subscriberBufferSize)
	b.subscribers = append(b.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel. The channel is NOT closed by
// this method - callers should close it themselves after unsubscribing if
// needed. This prevents double-close panics.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			return
		}
	}
}

// Publish sends an event to all subscribers. Uses a non-blocking send to
// avoid stalling if a subscriber is slow.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// Channel full, skip.
		}
	}
}
