// Package notify implements the dual-path notification dispatcher:
// immediate push to every live channel of a connected recipient, or a
// bounded in-memory backlog for offline ones. The backlog survives a
// disconnect/reconnect cycle, not a process restart.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/observability"
)

const (
	// DefaultBacklogCap bounds each user's queue; recency beats completeness.
	DefaultBacklogCap = 50
	// DefaultBacklogTTL is the sweep age limit for queued envelopes.
	DefaultBacklogTTL = 24 * time.Hour
)

// Dispatcher owns the per-user channel sets and backlog queues exclusively.
type Dispatcher struct {
	mu         sync.Mutex
	channels   map[string]map[string]contract.EventSink // userID -> channelID -> sink
	backlogs   map[string][]domain.Envelope
	backlogCap int
	ttl        time.Duration
	metrics    observability.Metrics
	log        *slog.Logger
}

func NewDispatcher(backlogCap int, ttl time.Duration, metrics observability.Metrics, log *slog.Logger) *Dispatcher {
	if backlogCap <= 0 {
		backlogCap = DefaultBacklogCap
	}
	if ttl <= 0 {
		ttl = DefaultBacklogTTL
	}
	return &Dispatcher{
		channels:   make(map[string]map[string]contract.EventSink),
		backlogs:   make(map[string][]domain.Envelope),
		backlogCap: backlogCap,
		ttl:        ttl,
		metrics:    metrics,
		log:        log,
	}
}

// Dispatch delivers the envelope to every live channel of its target, or
// appends it to the target's backlog when none exist. No deduplication is
// performed across calls; callers must not double-dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, envelope domain.Envelope) {
	if envelope.Timestamp.IsZero() {
		envelope.Timestamp = time.Now().UTC()
	}

	d.mu.Lock()
	sinks := make([]contract.EventSink, 0, len(d.channels[envelope.UserID]))
	for _, sink := range d.channels[envelope.UserID] {
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		d.enqueueLocked(envelope)
		d.mu.Unlock()
		d.metrics.NotificationQueued()
		return
	}
	d.mu.Unlock()

	// At-least-once fan-out to every live channel.
	for _, sink := range sinks {
		if err := sink.Consume(ctx, event.Notification{Envelope: envelope}); err != nil {
			d.log.Warn("Notification push failed",
				"user_id", envelope.UserID, "type", envelope.Type, "error", err)
		}
	}
	d.metrics.NotificationPushed()
}

// DispatchMany stamps and dispatches one envelope per target user.
func (d *Dispatcher) DispatchMany(ctx context.Context, userIDs []string, envelope domain.Envelope) {
	for _, userID := range userIDs {
		envelope.UserID = userID
		d.Dispatch(ctx, envelope)
	}
}

// Attach registers a live channel for the user and flushes the entire
// backlog to it in original chronological order, then clears it. Flushing
// before any fresh dispatch guarantees eventual delivery across a
// disconnect/reconnect cycle.
func (d *Dispatcher) Attach(ctx context.Context, userID, channelID string, sink contract.EventSink) {
	d.mu.Lock()
	set, ok := d.channels[userID]
	if !ok {
		set = make(map[string]contract.EventSink)
		d.channels[userID] = set
	}
	set[channelID] = sink

	pending := d.backlogs[userID]
	delete(d.backlogs, userID)
	d.mu.Unlock()

	for _, envelope := range pending {
		if err := sink.Consume(ctx, event.Notification{Envelope: envelope}); err != nil {
			d.log.Warn("Backlog flush delivery failed",
				"user_id", userID, "type", envelope.Type, "error", err)
		}
	}
}

// Detach removes a channel; remaining queue state is untouched.
func (d *Dispatcher) Detach(userID, channelID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if set, ok := d.channels[userID]; ok {
		delete(set, channelID)
		if len(set) == 0 {
			delete(d.channels, userID)
		}
	}
}

// Sweep purges backlog entries older than the TTL, independent of any
// connection event, and returns the number purged.
func (d *Dispatcher) Sweep(now time.Time) int {
	cutoff := now.Add(-d.ttl)

	d.mu.Lock()
	defer d.mu.Unlock()

	purged := 0
	for userID, queue := range d.backlogs {
		kept := queue[:0]
		for _, envelope := range queue {
			if envelope.Timestamp.Before(cutoff) {
				purged++
				continue
			}
			kept = append(kept, envelope)
		}
		if len(kept) == 0 {
			delete(d.backlogs, userID)
			continue
		}
		d.backlogs[userID] = kept
	}
	if purged > 0 {
		d.metrics.BacklogSwept(purged)
	}
	return purged
}

// BacklogSize reports the queue length for one user.
func (d *Dispatcher) BacklogSize(userID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.backlogs[userID])
}

// enqueueLocked appends with FIFO eviction of the oldest entry on overflow.
func (d *Dispatcher) enqueueLocked(envelope domain.Envelope) {
	queue := d.backlogs[envelope.UserID]
	if len(queue) >= d.backlogCap {
		queue = queue[1:]
		d.metrics.BacklogEvicted()
	}
	d.backlogs[envelope.UserID] = append(queue, envelope)
}
