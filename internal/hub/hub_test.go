package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cvsloane/infra-dashboard/pkg/models"
)

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Type:      "update",
		Timestamp: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
}

func receive(t *testing.T, c <-chan []byte) []byte {
	t.Helper()
	select {
	case payload := <-c:
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for payload")
		return nil
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := New()

	subs := make([]*Subscription, 5)
	for i := range subs {
		subs[i] = h.Subscribe()
		defer subs[i].Close()
	}

	h.Publish(testSnapshot())

	for _, sub := range subs {
		payload := receive(t, sub.C)

		var decoded models.Snapshot
		require.NoError(t, json.Unmarshal(payload, &decoded))
		assert.Equal(t, "update", decoded.Type)
	}
}

func TestSlowSubscriberIsDroppedWithoutCascade(t *testing.T) {
	h := New()

	slow := h.Subscribe()
	healthy := h.Subscribe()
	defer healthy.Close()

	// The healthy subscriber keeps up while the slow one never reads.
	// Filling the slow buffer plus one more triggers the drop.
	for i := 0; i < subscriberBuffer+1; i++ {
		h.Publish(testSnapshot())
		receive(t, healthy.C)
	}

	assert.Equal(t, 1, h.SubscriberCount())

	// The dropped subscriber's channel drains its backlog then closes.
	for {
		if _, open := <-slow.ch; !open {
			break
		}
	}

	h.Publish(testSnapshot())
	receive(t, healthy.C)
}

func TestSubscribeAfterPublishGetsLatest(t *testing.T) {
	h := New()
	h.Publish(testSnapshot())

	sub := h.Subscribe()
	defer sub.Close()

	payload := receive(t, sub.C)
	assert.NotEmpty(t, payload)
}

func TestLatest(t *testing.T) {
	h := New()
	assert.Nil(t, h.Latest())

	h.Publish(testSnapshot())
	assert.NotNil(t, h.Latest())
}

func TestWaitNext(t *testing.T) {
	h := New()

	done := make(chan []byte, 1)
	go func() {
		payload, err := h.WaitNext(context.Background())
		if err == nil {
			done <- payload
		}
	}()

	// Give the waiter time to register before publishing.
	time.Sleep(10 * time.Millisecond)
	h.Publish(testSnapshot())

	select {
	case payload := <-done:
		assert.NotEmpty(t, payload)
	case <-time.After(time.Second):
		t.Fatal("WaitNext never returned")
	}
}

func TestWaitNextHonorsContext(t *testing.T) {
	h := New()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.WaitNext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := New()

	sub := h.Subscribe()
	sub.Close()
	sub.Close()

	assert.Equal(t, 0, h.SubscriberCount())
}
