package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

func TestDetectAgent(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"fridge keyword", "what's in my fridge?", "fridge"},
		{"expiry fragment", "is anything expiring soon?", "fridge"},
		{"meal planning", "what should I cook for dinner?", "fridge"},
		{"shopping", "update my shopping list", "fridge"},
		{"case insensitive", "CHECK THE FRIDGE", "fridge"},
		{"no match", "turn off the hallway lights", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectAgent(tt.text))
		})
	}
}

func TestHandleChat(t *testing.T) {
	ctx := context.Background()

	t.Run("Keyword Turn Publishes an Advisory Hint", func(t *testing.T) {
		h := newHarness(t)

		h.orch.HandleChat(ctx, testSession, testHousehold, "what's in my fridge?")

		evs := drain(h.sub)
		require.Len(t, evs, 2)
		assert.Equal(t, events.TypeAgentStatus, evs[0].Type)
		hint := evs[0].Payload.(events.AgentStatusPayload)
		assert.Equal(t, "fridge", hint.Agent)
		assert.Equal(t, events.AgentActivating, hint.Status)
		assert.Equal(t, events.TypeChatAssistantMessage, evs[1].Type)
	})

	t.Run("Non Keyword Turn Replies Without a Hint", func(t *testing.T) {
		h := newHarness(t)

		h.orch.HandleChat(ctx, testSession, testHousehold, "hello")

		evs := drain(h.sub)
		require.Len(t, evs, 1)
		assert.Equal(t, events.TypeChatAssistantMessage, evs[0].Type)
		reply := evs[0].Payload.(events.ChatMessagePayload)
		assert.Equal(t, "assistant", reply.Sender)
		assert.Contains(t, reply.Content, "Hello!")
	})

	t.Run("Unscanned Fridge Prompts a Capture", func(t *testing.T) {
		h := newHarness(t)

		h.orch.HandleChat(ctx, testSession, testHousehold, "what food do I have?")

		evs := drain(h.sub)
		reply := evs[len(evs)-1].Payload.(events.ChatMessagePayload)
		assert.Contains(t, reply.Content, "hasn't been scanned")
	})
}

func TestComposeReply(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t,
		WithOrchestratorClock(func() time.Time { return now }),
		WithFridgeClock(func() time.Time { return now }),
	)
	h.vision.analysis = stockedAnalysis()
	h.vision.analysis.Items = append(h.vision.analysis.Items,
		agent.DetectedItem{Name: "old yogurt", Category: agent.CategoryDairy, Quantity: 1, Confidence: 0.9, ExpiresAt: timePtr(now.AddDate(0, 0, -1))},
		agent.DetectedItem{Name: "chicken", Category: agent.CategoryMeat, Quantity: 1, Confidence: 0.9, ExpiresAt: timePtr(now.AddDate(0, 0, 2))},
	)
	require.NoError(t, h.orch.ProcessCapture(ctx, testHousehold, uuid.New(), []byte("frame")))
	drain(h.sub)
	inventory := h.orch.Fridge().Inventory(testHousehold)

	t.Run("Expiry Question", func(t *testing.T) {
		reply := h.orch.composeReply("what's about to expire?", inventory)
		assert.Contains(t, reply, "Expired, please discard: old yogurt.")
		assert.Contains(t, reply, "Expiring within 3 days, use these first: chicken.")
	})

	t.Run("Shopping Question With Full Staples", func(t *testing.T) {
		reply := h.orch.composeReply("what should I buy?", inventory)
		assert.Equal(t, "You seem well stocked on the basics.", reply)
	})

	t.Run("Shopping Question With Missing Staples", func(t *testing.T) {
		partial := inventory[:2] // milk and eggs only
		reply := h.orch.composeReply("what should I buy?", partial)
		assert.Equal(t, "Suggested shopping list: bread, butter, cheese.", reply)
	})

	t.Run("Inventory Listing Groups by Category", func(t *testing.T) {
		reply := h.orch.composeReply("what's in the fridge?", inventory)
		assert.Contains(t, reply, "Your fridge has 7 items.")
		assert.Contains(t, reply, "eggs (x12)")
		assert.Contains(t, reply, "meat: chicken")
	})

	t.Run("Short Greeting Beats Inventory", func(t *testing.T) {
		reply := h.orch.composeReply("hey there", inventory)
		assert.Contains(t, reply, "Hello!")
	})
}

func timePtr(t time.Time) *time.Time { return &t }
