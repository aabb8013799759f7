// Package events provides the in-process progress bus: job updates fan
// out to per-job channels plus a global feed that operator clients
// subscribe to.
package events

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// GlobalChannel receives every job event in addition to the per-job
// channel.
const GlobalChannel = "jobs"

// subscriberBuffer bounds each subscriber's queue; a full queue drops
// events rather than blocking publishers.
const subscriberBuffer = 64

// JobChannel names the per-job channel for a job ID.
func JobChannel(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

// Subscription is one subscriber's event feed. Close it via
// Bus.Unsubscribe when done.
type Subscription struct {
	channel string
	events  chan Event
}

// Events returns the subscription's receive channel. It is closed on
// unsubscribe.
func (s *Subscription) Events() <-chan Event { return s.events }

// Bus is the in-process publish/subscribe hub. Publishing never blocks:
// subscribers that fall behind lose events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]*Subscription
	logger *slog.Logger

	dropped atomic.Int64
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string][]*Subscription),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers a subscriber on a channel.
func (b *Bus) Subscribe(channel string) *Subscription {
	sub := &Subscription{
		channel: channel,
		events:  make(chan Event, subscriberBuffer),
	}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[sub.channel]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			close(sub.events)
			return
		}
	}
}

// PublishJob delivers an event to the job's channel and the global
// channel.
func (b *Bus) PublishJob(jobID string, event Event) {
	b.publish(JobChannel(jobID), event)
	b.publish(GlobalChannel, event)
}

func (b *Bus) publish(channel string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs[channel] {
		select {
		case sub.events <- event:
		default:
			// Slow subscriber: drop rather than stall the publisher.
			b.dropped.Add(1)
			b.logger.Debug("dropping event for slow subscriber",
				"channel", channel, "type", string(event.Type))
		}
	}
}

// SubscriberCount returns the number of subscribers on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// Dropped returns the number of events dropped for slow subscribers.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }
