package events

import (
	"time"

	"github.com/google/uuid"
)

// New creates an event envelope with a fresh ID and the current timestamp.
// Sequence is left at zero; the bus assigns it at publish time.
func New(t Type, workflowID *uuid.UUID, payload Payload) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Payload:    payload,
	}
}

// NewAgentStatus creates an agent.status event.
func NewAgentStatus(agent string, status AgentStatus, message string, workflowID *uuid.UUID) Event {
	return New(TypeAgentStatus, workflowID, AgentStatusPayload{
		Agent:   agent,
		Status:  status,
		Message: message,
	})
}

// NewChatMessage creates a chat event. Sender "user" produces
// chat.user_message, anything else chat.assistant_message.
func NewChatMessage(content, sender string, workflowID *uuid.UUID) Event {
	t := TypeChatAssistantMessage
	if sender == "user" {
		t = TypeChatUserMessage
	}
	return New(t, workflowID, ChatMessagePayload{
		MessageID: uuid.New(),
		Content:   content,
		Sender:    sender,
	})
}

// NewError creates an error event with the given stable code.
func NewError(code, message string, recoverable bool, workflowID *uuid.UUID) Event {
	return New(TypeError, workflowID, ErrorPayload{
		Code:        code,
		Message:     message,
		Recoverable: recoverable,
	})
}

// NewHeartbeat creates a system.heartbeat event.
func NewHeartbeat() Event {
	return New(TypeHeartbeat, nil, HeartbeatPayload{Status: "alive"})
}

// NewWorkflowFailed creates a workflow.failed event with the given reason.
func NewWorkflowFailed(workflowID uuid.UUID, workflowType, reason string) Event {
	return New(TypeWorkflowFailed, &workflowID, WorkflowResultPayload{
		WorkflowType: workflowType,
		Reason:       reason,
	})
}
