package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// envelope is the wire shape of Event with the payload left raw so it can be
// decoded once the type tag is known.
type envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       Type            `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	WorkflowID *uuid.UUID      `json:"workflow_id,omitempty"`
	Sequence   int64           `json:"sequence"`
	Payload    json.RawMessage `json:"payload"`
}

// ErrUnknownType is returned (wrapped) when decoding an event whose type tag
// is outside the reserved set. Callers treat it as a protocol error: the
// event is dropped and the session continues.
var ErrUnknownType = fmt.Errorf("unknown event type")

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
	}
	return json.Marshal(envelope{
		ID:         e.ID,
		Type:       e.Type,
		Timestamp:  e.Timestamp,
		WorkflowID: e.WorkflowID,
		Sequence:   e.Sequence,
		Payload:    payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler, dispatching the payload decode
// on the type tag.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode event envelope: %w", err)
	}

	payload, err := decodePayload(env.Type, env.Payload)
	if err != nil {
		return err
	}

	e.ID = env.ID
	e.Type = env.Type
	e.Timestamp = env.Timestamp
	e.WorkflowID = env.WorkflowID
	e.Sequence = env.Sequence
	e.Payload = payload
	return nil
}

// decodePayload returns the concrete payload struct for the given type tag.
func decodePayload(t Type, raw json.RawMessage) (Payload, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case TypeUIScreen:
		p, err = decodeAs[UIScreenPayload](raw)
	case TypeAgentStatus:
		p, err = decodeAs[AgentStatusPayload](raw)
	case TypeWorkflowStep:
		p, err = decodeAs[WorkflowStepPayload](raw)
	case TypeWorkflowStarted, TypeWorkflowCompleted, TypeWorkflowFailed:
		p, err = decodeAs[WorkflowResultPayload](raw)
	case TypeApprovalRequest:
		p, err = decodeAs[ApprovalRequestPayload](raw)
	case TypeApprovalResult:
		p, err = decodeAs[ApprovalResultPayload](raw)
	case TypeNotificationSent:
		p, err = decodeAs[NotificationPayload](raw)
	case TypeChatUserMessage, TypeChatAssistantMessage:
		p, err = decodeAs[ChatMessagePayload](raw)
	case TypeHeartbeat:
		p, err = decodeAs[HeartbeatPayload](raw)
	case TypeError:
		p, err = decodeAs[ErrorPayload](raw)
	case TypeCapabilitiesUpdated:
		p, err = decodeAs[CapabilitiesPayload](raw)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return p, nil
}

func decodeAs[P Payload](raw json.RawMessage) (Payload, error) {
	var p P
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}
	return p, nil
}
