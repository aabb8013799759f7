package events

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishJobFansOutToJobAndGlobalChannels(t *testing.T) {
	bus := NewBus(slog.Default())
	jobSub := bus.Subscribe(JobChannel("j1"))
	globalSub := bus.Subscribe(GlobalChannel)
	otherSub := bus.Subscribe(JobChannel("j2"))

	bus.PublishJob("j1", NewDetail("j1", "scene", "updated", "scene 42"))

	select {
	case ev := <-jobSub.Events():
		assert.Equal(t, EventTypeSyncDetail, ev.Type)
		assert.Equal(t, "j1", ev.JobID)
	default:
		t.Fatal("job channel did not receive the event")
	}
	select {
	case ev := <-globalSub.Events():
		assert.Equal(t, "j1", ev.JobID)
	default:
		t.Fatal("global channel did not receive the event")
	}
	select {
	case <-otherSub.Events():
		t.Fatal("unrelated job channel received the event")
	default:
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	bus := NewBus(slog.Default())
	sub := bus.Subscribe(GlobalChannel)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer+10; i++ {
			bus.PublishJob("j1", NewDetail("j1", "scene", "updated", "x"))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	assert.Equal(t, subscriberBuffer, len(sub.events))
	assert.Greater(t, bus.Dropped(), int64(0))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(slog.Default())
	sub := bus.Subscribe(GlobalChannel)
	require.Equal(t, 1, bus.SubscriberCount(GlobalChannel))

	bus.Unsubscribe(sub)
	assert.Equal(t, 0, bus.SubscriberCount(GlobalChannel))
	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestNewProgressDerivesPercentageAndETA(t *testing.T) {
	ev := NewProgress("j1", 50, 100, "halfway", 10*time.Second)
	payload := ev.Payload.(ProgressPayload)

	assert.Equal(t, 50.0, payload.Percentage)
	assert.Equal(t, 10*time.Second, payload.ETA, "half done in 10s leaves 10s")

	empty := NewProgress("j1", 0, 0, "", 0)
	assert.Equal(t, 0.0, empty.Payload.(ProgressPayload).Percentage)
}
