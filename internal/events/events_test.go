package events

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeValid(t *testing.T) {
	t.Run("All Reserved Types Are Valid", func(t *testing.T) {
		for _, typ := range []Type{
			TypeUIScreen, TypeAgentStatus, TypeWorkflowStep, TypeWorkflowStarted,
			TypeWorkflowCompleted, TypeWorkflowFailed, TypeApprovalRequest,
			TypeApprovalResult, TypeNotificationSent, TypeChatUserMessage,
			TypeChatAssistantMessage, TypeHeartbeat, TypeError, TypeCapabilitiesUpdated,
		} {
			assert.True(t, typ.Valid(), "type %s should be valid", typ)
		}
	})

	t.Run("Anything Else Is Invalid", func(t *testing.T) {
		for _, typ := range []Type{"", "telemetry", "ui_screen", "ERROR"} {
			assert.False(t, typ.Valid(), "type %q should be invalid", typ)
		}
	})
}

func TestEventCodec(t *testing.T) {
	t.Run("Envelope Round Trip Preserves Payload Type", func(t *testing.T) {
		workflowID := uuid.New()
		original := NewError("BUS_OVERFLOW", "queue overflowed, 3 events dropped", true, &workflowID)
		original.Sequence = 42

		data, err := json.Marshal(original)
		require.NoError(t, err)

		var decoded Event
		require.NoError(t, json.Unmarshal(data, &decoded))

		assert.Equal(t, original.ID, decoded.ID)
		assert.Equal(t, TypeError, decoded.Type)
		assert.Equal(t, int64(42), decoded.Sequence)
		require.NotNil(t, decoded.WorkflowID)
		assert.Equal(t, workflowID, *decoded.WorkflowID)

		payload, ok := decoded.Payload.(ErrorPayload)
		require.True(t, ok)
		assert.Equal(t, "BUS_OVERFLOW", payload.Code)
		assert.True(t, payload.Recoverable)
	})

	t.Run("Workflow Result Types Share One Payload", func(t *testing.T) {
		event := NewWorkflowFailed(uuid.New(), "procurement", "timeout")

		data, err := json.Marshal(event)
		require.NoError(t, err)

		var decoded Event
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Equal(t, TypeWorkflowFailed, decoded.Type)

		payload, ok := decoded.Payload.(WorkflowResultPayload)
		require.True(t, ok)
		assert.Equal(t, "timeout", payload.Reason)
	})

	t.Run("Unknown Type Tag Is Rejected", func(t *testing.T) {
		data := []byte(`{"id":"` + uuid.NewString() + `","type":"telemetry","payload":{}}`)

		var decoded Event
		err := json.Unmarshal(data, &decoded)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnknownType))
	})

	t.Run("Missing Payload Decodes to Zero Value", func(t *testing.T) {
		data := []byte(`{"id":"` + uuid.NewString() + `","type":"system.heartbeat"}`)

		var decoded Event
		require.NoError(t, json.Unmarshal(data, &decoded))
		_, ok := decoded.Payload.(HeartbeatPayload)
		assert.True(t, ok)
	})

	t.Run("Malformed Payload Shape Is Rejected", func(t *testing.T) {
		data := []byte(`{"id":"` + uuid.NewString() + `","type":"error","payload":{"recoverable":"not-a-bool"}}`)

		var decoded Event
		assert.Error(t, json.Unmarshal(data, &decoded))
	})
}

func TestFactories(t *testing.T) {
	t.Run("New Assigns ID and Timestamp but Not Sequence", func(t *testing.T) {
		event := New(TypeHeartbeat, nil, HeartbeatPayload{Status: "alive"})
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.False(t, event.Timestamp.IsZero())
		assert.Zero(t, event.Sequence)
		assert.Nil(t, event.WorkflowID)
	})

	t.Run("Chat Sender Picks the Type", func(t *testing.T) {
		assert.Equal(t, TypeChatUserMessage, NewChatMessage("hi", "user", nil).Type)
		assert.Equal(t, TypeChatAssistantMessage, NewChatMessage("hello", "assistant", nil).Type)
	})

	t.Run("Two Events Never Share an ID", func(t *testing.T) {
		a := NewHeartbeat()
		b := NewHeartbeat()
		assert.NotEqual(t, a.ID, b.ID)
	})
}
