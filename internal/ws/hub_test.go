package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/common/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      "debug",
		Format:     "console",
		OutputPath: "stdout",
	})
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	return log
}

// fakeSubscriber collects frames and can be told to fail.
type fakeSubscriber struct {
	mu       sync.Mutex
	frames   [][]byte
	sendErr  error
	probeErr error
	closed   bool
}

func (s *fakeSubscriber) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSubscriber) Probe() error { return s.probeErr }

func (s *fakeSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSubscriber) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestHub_PublishReachesAllSubscribers(t *testing.T) {
	hub := NewHub(testLogger(t))
	defer hub.Close()

	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	hub.Subscribe("p1", a)
	hub.Subscribe("p1", b)
	other := &fakeSubscriber{}
	hub.Subscribe("p2", other)

	hub.Publish("p1", "message", map[string]any{"content": "hi"})

	assert.Equal(t, 1, a.frameCount())
	assert.Equal(t, 1, b.frameCount())
	assert.Equal(t, 0, other.frameCount(), "other projects do not receive the event")
}

func TestHub_EnvelopeShape(t *testing.T) {
	hub := NewHub(testLogger(t))
	defer hub.Close()

	sub := &fakeSubscriber{}
	hub.Subscribe("p1", sub)
	hub.Publish("p1", "preview_error", map[string]any{"id": "ab12cd34"})

	require.Equal(t, 1, sub.frameCount())
	var env Envelope
	require.NoError(t, json.Unmarshal(sub.frames[0], &env))
	assert.Equal(t, "preview_error", env.Type)
	assert.InDelta(t, time.Now().UnixMilli(), env.Timestamp, 5000)
	data := env.Data.(map[string]any)
	assert.Equal(t, "ab12cd34", data["id"])
}

func TestHub_FailedSubscriberRemoved(t *testing.T) {
	hub := NewHub(testLogger(t))
	defer hub.Close()

	healthy := &fakeSubscriber{}
	broken := &fakeSubscriber{sendErr: errors.New("connection reset")}
	hub.Subscribe("p1", healthy)
	hub.Subscribe("p1", broken)
	require.Equal(t, 2, hub.SubscriberCount("p1"))

	hub.Publish("p1", "message", "one")

	assert.Equal(t, 1, hub.SubscriberCount("p1"), "failed subscriber removed silently")
	assert.True(t, broken.closed)

	hub.Publish("p1", "message", "two")
	assert.Equal(t, 2, healthy.frameCount(), "remaining subscribers keep receiving")
	assert.Equal(t, 0, broken.frameCount())
}

func TestHub_ConcurrentPublishers(t *testing.T) {
	// The agent run goroutine and the preview monitor publish to the same
	// project concurrently.
	hub := NewHub(testLogger(t))
	defer hub.Close()

	sub := &fakeSubscriber{}
	hub.Subscribe("p1", sub)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				hub.Publish("p1", "message", map[string]any{"n": j})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 200, sub.frameCount())
	assert.Equal(t, 1, hub.SubscriberCount("p1"))
}

func TestHub_PublishWithoutSubscribersIsNoop(t *testing.T) {
	hub := NewHub(testLogger(t))
	defer hub.Close()

	hub.Publish("ghost", "message", "nobody home")
	assert.Equal(t, 0, hub.SubscriberCount("ghost"))
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(testLogger(t))
	defer hub.Close()

	sub := &fakeSubscriber{}
	hub.Subscribe("p1", sub)
	hub.Unsubscribe("p1", sub)

	assert.Equal(t, 0, hub.SubscriberCount("p1"))
	assert.True(t, sub.closed)

	// Unsubscribing twice is harmless.
	hub.Unsubscribe("p1", sub)
}

func TestHub_ReapIdleDeadSubscriber(t *testing.T) {
	hub := NewHub(testLogger(t))
	defer hub.Close()

	alive := &fakeSubscriber{}
	dead := &fakeSubscriber{probeErr: errors.New("broken pipe")}
	hub.Subscribe("p1", alive)
	hub.Subscribe("p1", dead)

	// Age both past the idle threshold, then run one reap pass directly.
	hub.mu.Lock()
	for _, entry := range hub.projects["p1"] {
		entry.lastSent = time.Now().Add(-6 * time.Minute)
	}
	hub.mu.Unlock()

	hub.reapIdle()

	assert.Equal(t, 1, hub.SubscriberCount("p1"), "probe failure removes the subscriber")
	assert.True(t, dead.closed)
	assert.False(t, alive.closed, "successful probe keeps the subscriber")
}

func TestHub_CloseClosesEverything(t *testing.T) {
	hub := NewHub(testLogger(t))

	a, b := &fakeSubscriber{}, &fakeSubscriber{}
	hub.Subscribe("p1", a)
	hub.Subscribe("p2", b)

	hub.Close()

	assert.True(t, a.closed)
	assert.True(t, b.closed)
	assert.Equal(t, 0, hub.SubscriberCount("p1"))
}
