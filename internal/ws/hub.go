package ws

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appforge/appforge/internal/common/logger"
)

const (
	reapInterval = 30 * time.Second
	idleAfter    = 5 * time.Minute
)

// Subscriber is one live observer. Send delivers a JSON frame; Probe checks
// liveness of an idle subscriber. Both return an error when the underlying
// connection is gone.
type Subscriber interface {
	Send(data []byte) error
	Probe() error
	Close() error
}

type subscriberEntry struct {
	sub      Subscriber
	lastSent time.Time
}

// Hub keys subscribers by project id and broadcasts envelopes to every
// subscriber of a project. A failed send removes the subscriber silently;
// remaining subscribers still receive the event.
type Hub struct {
	logger *logger.Logger

	mu       sync.RWMutex
	projects map[string]map[Subscriber]*subscriberEntry

	stopOnce sync.Once
	stop     chan struct{}
}

// NewHub creates a hub and starts its reaper loop.
func NewHub(log *logger.Logger) *Hub {
	h := &Hub{
		logger:   log.WithFields(zap.String("component", "ws_hub")),
		projects: make(map[string]map[Subscriber]*subscriberEntry),
		stop:     make(chan struct{}),
	}
	go h.reapLoop()
	return h
}

// Subscribe registers a subscriber for a project's events.
func (h *Hub) Subscribe(projectID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries, ok := h.projects[projectID]
	if !ok {
		entries = make(map[Subscriber]*subscriberEntry)
		h.projects[projectID] = entries
	}
	entries[sub] = &subscriberEntry{sub: sub, lastSent: time.Now()}

	h.logger.Debug("subscriber added",
		zap.String("project_id", projectID),
		zap.Int("subscribers", len(entries)))
}

// Unsubscribe removes a subscriber. Removing an unknown subscriber is a
// no-op.
func (h *Hub) Unsubscribe(projectID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(projectID, sub)
}

// SubscriberCount returns the number of live subscribers for a project.
func (h *Hub) SubscriberCount(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.projects[projectID])
}

// Publish broadcasts an event to every subscriber of the project.
// Subscribers whose send fails are removed; publishing to a project with no
// subscribers is a no-op.
func (h *Hub) Publish(projectID string, eventType string, data any) {
	h.PublishEnvelope(projectID, NewEnvelope(eventType, data))
}

// PublishEnvelope broadcasts a pre-built envelope.
func (h *Hub) PublishEnvelope(projectID string, env Envelope) {
	frame, err := env.Encode()
	if err != nil {
		h.logger.Error("failed to encode envelope",
			zap.String("type", env.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	entries := h.projects[projectID]
	targets := make([]*subscriberEntry, 0, len(entries))
	for _, entry := range entries {
		targets = append(targets, entry)
	}
	h.mu.RUnlock()

	var failed []Subscriber
	var delivered []*subscriberEntry
	for _, entry := range targets {
		if err := entry.sub.Send(frame); err != nil {
			failed = append(failed, entry.sub)
			continue
		}
		delivered = append(delivered, entry)
	}

	// lastSent is shared with the reaper and concurrent publishers; all
	// writes happen under the hub lock.
	now := time.Now()
	h.mu.Lock()
	for _, entry := range delivered {
		entry.lastSent = now
	}
	for _, sub := range failed {
		h.removeLocked(projectID, sub)
	}
	h.mu.Unlock()

	if len(failed) > 0 {
		h.logger.Debug("removed unreachable subscribers",
			zap.String("project_id", projectID),
			zap.Int("removed", len(failed)))
	}
}

// Close stops the reaper and closes every subscriber.
func (h *Hub) Close() {
	h.stopOnce.Do(func() { close(h.stop) })

	h.mu.Lock()
	defer h.mu.Unlock()
	for projectID, entries := range h.projects {
		for sub := range entries {
			_ = sub.Close()
		}
		delete(h.projects, projectID)
	}
}

func (h *Hub) removeLocked(projectID string, sub Subscriber) {
	entries, ok := h.projects[projectID]
	if !ok {
		return
	}
	if _, ok := entries[sub]; !ok {
		return
	}
	delete(entries, sub)
	_ = sub.Close()
	if len(entries) == 0 {
		delete(h.projects, projectID)
	}
}

// reapLoop probes idle subscribers every 30s and removes those that fail
// the probe. A subscriber counts as idle after 5 minutes without a
// successful send.
func (h *Hub) reapLoop() {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.reapIdle()
		}
	}
}

func (h *Hub) reapIdle() {
	type probe struct {
		projectID string
		entry     *subscriberEntry
	}

	cutoff := time.Now().Add(-idleAfter)

	h.mu.RLock()
	var idle []probe
	for projectID, entries := range h.projects {
		for _, entry := range entries {
			if entry.lastSent.Before(cutoff) {
				idle = append(idle, probe{projectID, entry})
			}
		}
	}
	h.mu.RUnlock()

	for _, p := range idle {
		if err := p.entry.sub.Probe(); err == nil {
			h.mu.Lock()
			p.entry.lastSent = time.Now()
			h.mu.Unlock()
			continue
		}
		h.mu.Lock()
		h.removeLocked(p.projectID, p.entry.sub)
		h.mu.Unlock()
		h.logger.Debug("reaped dead subscriber",
			zap.String("project_id", p.projectID))
	}
}
