// Package agent holds the domain agent layer. Domain agents observe
// sensor-derived facts for a single domain and emit intents describing what
// they detected. They hold no reference to the event bus, the gateway, or
// any external collaborator: the Emitter interface below is the only output
// capability a domain agent is constructed with, so contacting the user or
// an external service is impossible by construction rather than by policy.
package agent

import (
	"context"

	"github.com/google/uuid"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

// Emitter is the sole capability handed to a domain agent. The orchestrator
// provides the implementation and decides what, if anything, reaches the
// user as a result of an emitted intent.
type Emitter interface {
	// EmitIntent hands a detected condition to the orchestration layer.
	EmitIntent(ctx context.Context, intent Intent) error

	// EmitStatus reports the agent's lifecycle (activating, activated,
	// deactivated, error) around a processing burst.
	EmitStatus(ctx context.Context, householdID, agentName string, status events.AgentStatus, message string, workflowID *uuid.UUID) error
}

// Agent is implemented by every domain agent.
type Agent interface {
	// Name identifies the agent in status events and intent provenance.
	Name() string
}
