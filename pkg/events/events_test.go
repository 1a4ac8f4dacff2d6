package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Publish(New(EventTaskFinished, "task finished", map[string]string{
		"taskLink": "/requests/broker/t1",
	}))

	select {
	case event := <-sub:
		assert.Equal(t, EventTaskFinished, event.Type)
		assert.Equal(t, "/requests/broker/t1", event.Metadata["taskLink"])
		assert.NotEmpty(t, event.ID)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event was not delivered")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
	_, open := <-sub
	assert.False(t, open)
}

// TestSlowSubscriberDoesNotBlockOthers: a full subscriber buffer drops the
// event for that subscriber only.
func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()

	// Fill the slow subscriber's buffer.
	for i := 0; i < cap(slow)+10; i++ {
		b.Publish(New(EventTaskStarted, "task started", nil))
	}

	deadline := time.After(2 * time.Second)
	received := 0
	for received < cap(slow) {
		select {
		case <-fast:
			received++
		case <-deadline:
			t.Fatalf("fast subscriber stalled after %d events", received)
		}
	}
	assert.NotEmpty(t, slow)
}
