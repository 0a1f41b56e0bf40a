package agent

import (
	"time"

	"github.com/google/uuid"
)

// IntentKind classifies what a domain agent detected.
type IntentKind string

const (
	IntentExpiryWarning       IntentKind = "expiry_warning"
	IntentDetectedExpiry      IntentKind = "detected_expiry"
	IntentProcurementRequired IntentKind = "procurement_required"
	IntentInventoryUpdated    IntentKind = "inventory_updated"
	IntentAnalysisFailed      IntentKind = "analysis_failed"
	IntentConfidenceDegraded  IntentKind = "confidence_degraded"
	IntentItemAdded           IntentKind = "item_added"
	IntentItemRemoved         IntentKind = "item_removed"
	IntentConsumptionLikely   IntentKind = "consumption_likely"
)

// Intent is a domain agent's structured output: a non-imperative fact about
// a detected condition. It carries no instruction to contact the user;
// routing is the orchestrator's exclusive decision. Intents are immutable
// once emitted.
type Intent struct {
	ID          uuid.UUID      `json:"id"`
	Kind        IntentKind     `json:"kind"`
	SourceAgent string         `json:"source_agent"`
	HouseholdID string         `json:"household_id"`
	WorkflowID  *uuid.UUID     `json:"workflow_id,omitempty"`
	SubjectIDs  []string       `json:"subject_ids,omitempty"`
	Confidence  float64        `json:"confidence"`
	Evidence    map[string]any `json:"evidence,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}
