package events

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies an event category. The set is closed: the gateway rejects
// anything outside it with a protocol error rather than forwarding it.
type Type string

const (
	TypeUIScreen             Type = "ui.screen"
	TypeAgentStatus          Type = "agent.status"
	TypeWorkflowStep         Type = "workflow.step"
	TypeWorkflowStarted      Type = "workflow.started"
	TypeWorkflowCompleted    Type = "workflow.completed"
	TypeWorkflowFailed       Type = "workflow.failed"
	TypeApprovalRequest      Type = "approval.request"
	TypeApprovalResult       Type = "approval.result"
	TypeNotificationSent     Type = "notification.sent"
	TypeChatUserMessage      Type = "chat.user_message"
	TypeChatAssistantMessage Type = "chat.assistant_message"
	TypeHeartbeat            Type = "system.heartbeat"
	TypeError                Type = "error"
	TypeCapabilitiesUpdated  Type = "capabilities.updated"
)

// Valid reports whether t is a member of the reserved event type set.
func (t Type) Valid() bool {
	switch t {
	case TypeUIScreen, TypeAgentStatus, TypeWorkflowStep, TypeWorkflowStarted,
		TypeWorkflowCompleted, TypeWorkflowFailed, TypeApprovalRequest,
		TypeApprovalResult, TypeNotificationSent, TypeChatUserMessage,
		TypeChatAssistantMessage, TypeHeartbeat, TypeError, TypeCapabilitiesUpdated:
		return true
	}
	return false
}

// AgentStatus represents an agent's lifecycle state. It is owned by the
// agent instance and observed by everyone else through agent.status events.
type AgentStatus string

const (
	AgentActivating  AgentStatus = "activating"
	AgentActivated   AgentStatus = "activated"
	AgentDeactivated AgentStatus = "deactivated"
	AgentError       AgentStatus = "error"
)

// Event is the universal message envelope. Every cross-component and
// component-to-client message in the system is one of these.
//
// Sequence is assigned by the bus at publish time and is strictly increasing
// per session; it is zero until the event has been published.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       Type       `json:"type"`
	Timestamp  time.Time  `json:"timestamp"`
	WorkflowID *uuid.UUID `json:"workflow_id,omitempty"`
	Sequence   int64      `json:"sequence"`
	Payload    Payload    `json:"payload"`
}

// Payload is the type-specific body of an event. Exactly one concrete
// payload struct exists per event Type; the envelope's JSON codec dispatches
// on Type so the shape is checked at decode time.
type Payload interface {
	eventType() Type
}

// UIScreenPayload drives backend-initiated screen navigation.
type UIScreenPayload struct {
	Screen string         `json:"screen"`
	Data   map[string]any `json:"data,omitempty"`
}

// AgentStatusPayload reports an agent lifecycle transition.
type AgentStatusPayload struct {
	Agent   string      `json:"agent"`
	Status  AgentStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

// WorkflowStepPayload reports progress within a workflow.
type WorkflowStepPayload struct {
	StepName   string `json:"step_name"`
	StepIndex  int    `json:"step_index"`
	TotalSteps int    `json:"total_steps"`
	Message    string `json:"message,omitempty"`
}

// WorkflowResultPayload is the body of workflow.started/completed/failed.
type WorkflowResultPayload struct {
	WorkflowType string `json:"workflow_type,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// ApprovalRequestPayload asks the user to confirm an external-world action
// before the orchestrator takes it.
type ApprovalRequestPayload struct {
	ApprovalID     uuid.UUID        `json:"approval_id"`
	ActionType     string           `json:"action_type"`
	Description    string           `json:"description"`
	Items          []map[string]any `json:"items,omitempty"`
	EstimatedTotal float64          `json:"estimated_total,omitempty"`
	ExpiresAt      time.Time        `json:"expires_at"`
}

// ApprovalResultPayload carries the user's answer to an approval request.
type ApprovalResultPayload struct {
	ApprovalID  uuid.UUID `json:"approval_id"`
	Approved    bool      `json:"approved"`
	UserMessage string    `json:"user_message,omitempty"`
}

// NotificationPayload records a notification routed to the user.
type NotificationPayload struct {
	NotificationID uuid.UUID `json:"notification_id"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ActionURL      string    `json:"action_url,omitempty"`
	HasActions     bool      `json:"has_actions"`
}

// ChatMessagePayload is a single chat turn in either direction.
type ChatMessagePayload struct {
	MessageID uuid.UUID      `json:"message_id"`
	Content   string         `json:"content"`
	Sender    string         `json:"sender"` // "user" or "assistant"
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ErrorPayload describes a recoverable or fatal failure surfaced to clients.
type ErrorPayload struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
	RetryAfter  int    `json:"retry_after,omitempty"`
}

// HeartbeatPayload keeps idle connections alive.
type HeartbeatPayload struct {
	Status string `json:"status"`
}

// CapabilitiesPayload advertises which integrations a session currently has.
type CapabilitiesPayload struct {
	CameraConnected   bool `json:"camera_connected"`
	CalendarConnected bool `json:"calendar_connected"`
	OrderingConnected bool `json:"ordering_connected"`
}

func (UIScreenPayload) eventType() Type        { return TypeUIScreen }
func (AgentStatusPayload) eventType() Type     { return TypeAgentStatus }
func (WorkflowStepPayload) eventType() Type    { return TypeWorkflowStep }
func (ApprovalRequestPayload) eventType() Type { return TypeApprovalRequest }
func (ApprovalResultPayload) eventType() Type  { return TypeApprovalResult }
func (NotificationPayload) eventType() Type    { return TypeNotificationSent }
func (ErrorPayload) eventType() Type           { return TypeError }
func (HeartbeatPayload) eventType() Type       { return TypeHeartbeat }
func (CapabilitiesPayload) eventType() Type    { return TypeCapabilitiesUpdated }

// WorkflowResultPayload backs three envelope types; the envelope's Type field
// remains the source of truth for which one.
func (WorkflowResultPayload) eventType() Type { return TypeWorkflowStarted }

// ChatMessagePayload backs both chat.user_message and chat.assistant_message.
func (ChatMessagePayload) eventType() Type { return TypeChatUserMessage }
