package metrics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

func TestCollector_Creation(t *testing.T) {
	t.Run("successfully create collector", func(t *testing.T) {
		collector, err := NewCollector()
		require.NoError(t, err)
		assert.NotNil(t, collector)
		assert.NotNil(t, collector.eventsPublishedCounter)
		assert.NotNil(t, collector.eventsDroppedCounter)
		assert.NotNil(t, collector.debounceAdmittedCounter)
		assert.NotNil(t, collector.debounceRejectedCounter)
		assert.NotNil(t, collector.sessionsActiveGauge)
		assert.NotNil(t, collector.intentRoutingHistogram)
	})
}

func TestCollector_RecordPublished(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	t.Run("record published event", func(t *testing.T) {
		ctx := context.Background()
		assert.NotPanics(t, func() {
			collector.RecordPublished(ctx, "session-1", events.TypeChatUserMessage)
		})
	})

	t.Run("record drops for a slow subscriber", func(t *testing.T) {
		ctx := context.Background()
		assert.NotPanics(t, func() {
			collector.RecordDropped(ctx, "session-1", 3)
		})
	})
}

func TestCollector_RecordAdmission(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("admitted capture", func(t *testing.T) {
		assert.NotPanics(t, func() {
			collector.RecordAdmission(ctx, "fridge-cam-1", true, "")
		})
	})

	t.Run("rejected captures with reasons", func(t *testing.T) {
		for _, reason := range []string{"debounced", "unknown_device"} {
			collector.RecordAdmission(ctx, "fridge-cam-1", false, reason)
		}
	})
}

func TestCollector_SessionGauge(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	t.Run("gauge increments and decrements", func(t *testing.T) {
		ctx := context.Background()
		collector.SessionOpened(ctx)
		collector.SessionClosed(ctx)
	})
}

func TestCollector_RecordIntentRouted(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	t.Run("record routing durations", func(t *testing.T) {
		ctx := context.Background()
		durations := []time.Duration{
			100 * time.Microsecond,
			1 * time.Millisecond,
			10 * time.Millisecond,
		}
		for i, duration := range durations {
			collector.RecordIntentRouted(ctx, fmt.Sprintf("kind-%d", i), duration)
		}
	})
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, err := NewCollector()
	require.NoError(t, err)

	t.Run("handle concurrent recording", func(t *testing.T) {
		ctx := context.Background()
		done := make(chan bool)

		for i := 0; i < 10; i++ {
			go func(id int) {
				sessionID := fmt.Sprintf("session-%d", id)
				collector.SessionOpened(ctx)
				collector.RecordPublished(ctx, sessionID, events.TypeHeartbeat)
				if id%2 == 0 {
					collector.RecordDropped(ctx, sessionID, id)
				}
				collector.SessionClosed(ctx)
				done <- true
			}(i)
		}

		for i := 0; i < 10; i++ {
			<-done
		}
	})
}
