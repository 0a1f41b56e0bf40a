package agent

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

var fridgeTracer = otel.Tracer("assistant-core/agent/fridge")

// Category buckets drive shelf-life estimation when the vision layer does
// not report an explicit expiration date.
type Category string

const (
	CategoryDairy      Category = "dairy"
	CategoryProduce    Category = "produce"
	CategoryMeat       Category = "meat"
	CategorySeafood    Category = "seafood"
	CategoryBeverages  Category = "beverages"
	CategoryCondiments Category = "condiments"
	CategoryLeftovers  Category = "leftovers"
	CategoryFrozen     Category = "frozen"
	CategoryOther      Category = "other"
)

// shelfLifeDays is indexed by category; unknown categories fall back to
// defaultShelfLifeDays.
var shelfLifeDays = map[Category]int{
	CategoryDairy:      7,
	CategoryProduce:    5,
	CategoryMeat:       3,
	CategorySeafood:    2,
	CategoryBeverages:  30,
	CategoryCondiments: 90,
	CategoryLeftovers:  3,
	CategoryFrozen:     180,
	CategoryOther:      14,
}

const (
	defaultShelfLifeDays = 14

	// expiryWarningDays is the lookahead for "expiring soon" warnings.
	expiryWarningDays = 3

	// lowConfidenceThreshold marks an analysis as degraded.
	lowConfidenceThreshold = 0.5

	// maxObservationFrames bounds the rolling history used for frame
	// diffing and consumption detection.
	maxObservationFrames = 10

	// consumptionMinFrames is how many consecutive frames an item must
	// have been present before its disappearance counts as likely
	// consumption rather than detection noise.
	consumptionMinFrames = 3
)

// staples trigger a procurement intent when absent from the inventory.
var staples = []string{"milk", "eggs", "bread", "butter", "cheese"}

// DetectedItem is a single item as reported by the vision layer.
type DetectedItem struct {
	Name       string     `json:"name"`
	Category   Category   `json:"category"`
	Quantity   int        `json:"quantity"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Confidence float64    `json:"confidence"`
	Location   string     `json:"location"`
}

// VisionAnalysis is the normalized output of one fridge camera frame.
type VisionAnalysis struct {
	Items      []DetectedItem `json:"items"`
	Confidence float64        `json:"confidence"`
}

// InventoryItem is an item the agent currently believes is in the fridge.
type InventoryItem struct {
	Name       string    `json:"name"`
	Category   Category  `json:"category"`
	Quantity   int       `json:"quantity"`
	ExpiresAt  time.Time `json:"expires_at"`
	Confidence float64   `json:"confidence"`
	Location   string    `json:"location"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type observation struct {
	takenAt time.Time
	names   map[string]struct{}
}

// fridgeState is the per-household view. Its mutex makes the agent a
// single writer per household: concurrent frames for the same fridge are
// serialized, frames for different households proceed in parallel.
type fridgeState struct {
	mu             sync.Mutex
	inventory      []InventoryItem
	history        []observation
	lastConfidence float64
	lastAnalyzedAt time.Time
}

// FridgeAgent maintains fridge inventory state per household and emits
// intents describing expiry, procurement, and item-level changes. It never
// talks to the user or any external system; everything it produces goes
// through its Emitter.
type FridgeAgent struct {
	emitter Emitter
	clock   func() time.Time

	mu         sync.Mutex
	households map[string]*fridgeState
}

// FridgeOption customizes a FridgeAgent.
type FridgeOption func(*FridgeAgent)

// WithClock replaces the time source, which keeps expiry computation
// deterministic under test.
func WithClock(clock func() time.Time) FridgeOption {
	return func(a *FridgeAgent) { a.clock = clock }
}

func NewFridgeAgent(emitter Emitter, opts ...FridgeOption) *FridgeAgent {
	a := &FridgeAgent{
		emitter:    emitter,
		clock:      func() time.Time { return time.Now().UTC() },
		households: make(map[string]*fridgeState),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *FridgeAgent) Name() string { return "fridge" }

func (a *FridgeAgent) stateFor(householdID string) *fridgeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.households[householdID]
	if !ok {
		st = &fridgeState{}
		a.households[householdID] = st
	}
	return st
}

// Analyze ingests one vision analysis for a household, updates the internal
// inventory, and emits the resulting intents. The workflow ID ties every
// emitted intent back to the sensor event that triggered the analysis.
func (a *FridgeAgent) Analyze(ctx context.Context, householdID string, workflowID uuid.UUID, analysis VisionAnalysis) error {
	ctx, span := fridgeTracer.Start(ctx, "fridge.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("household.id", householdID),
		attribute.String("workflow.id", workflowID.String()),
		attribute.Int("analysis.items", len(analysis.Items)),
	)

	wf := &workflowID
	if err := a.emitter.EmitStatus(ctx, householdID, a.Name(), events.AgentActivating, "analyzing fridge frame", wf); err != nil {
		return fmt.Errorf("emit activating status: %w", err)
	}

	if len(analysis.Items) == 0 && analysis.Confidence == 0 {
		a.emitIntent(ctx, householdID, wf, IntentAnalysisFailed, nil, 0, map[string]any{
			"reason": "empty analysis",
		})
		_ = a.emitter.EmitStatus(ctx, householdID, a.Name(), events.AgentError, "empty analysis", wf)
		return fmt.Errorf("empty analysis for household %s", householdID)
	}

	st := a.stateFor(householdID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := a.clock()
	st.lastConfidence = analysis.Confidence
	st.lastAnalyzedAt = now

	if analysis.Confidence < lowConfidenceThreshold {
		a.emitIntent(ctx, householdID, wf, IntentConfidenceDegraded, nil, analysis.Confidence, map[string]any{
			"confidence": analysis.Confidence,
			"reason":     "low vision confidence",
		})
	}

	previous := make(map[string]InventoryItem, len(st.inventory))
	for _, item := range st.inventory {
		previous[item.Name] = item
	}

	inventory := make([]InventoryItem, 0, len(analysis.Items))
	var added, removed []string
	for _, d := range analysis.Items {
		item := a.normalize(d, now)
		inventory = append(inventory, item)
		if _, ok := previous[item.Name]; !ok {
			added = append(added, item.Name)
		}
	}
	currentNames := make(map[string]struct{}, len(inventory))
	for _, item := range inventory {
		currentNames[item.Name] = struct{}{}
	}
	for name := range previous {
		if _, ok := currentNames[name]; !ok {
			removed = append(removed, name)
		}
	}

	a.emitFrameDiff(ctx, householdID, wf, st, previous, currentNames, added, removed)
	st.history = appendObservation(st.history, observation{takenAt: now, names: currentNames})
	st.inventory = inventory

	names := make([]string, 0, len(inventory))
	for _, item := range inventory {
		names = append(names, item.Name)
	}
	a.emitIntent(ctx, householdID, wf, IntentInventoryUpdated, names, analysis.Confidence, map[string]any{
		"total_items":   len(inventory),
		"items_added":   len(added),
		"items_removed": len(removed),
	})

	a.checkExpiryLocked(ctx, householdID, wf, st, now)
	a.checkStaplesLocked(ctx, householdID, wf, st)

	if err := a.emitter.EmitStatus(ctx, householdID, a.Name(), events.AgentActivated, fmt.Sprintf("%d items tracked", len(inventory)), wf); err != nil {
		return fmt.Errorf("emit activated status: %w", err)
	}
	return nil
}

// Households lists every household the agent currently tracks, in sorted
// order. The periodic sweep iterates this set.
func (a *FridgeAgent) Households() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.households))
	for id := range a.households {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CheckExpiry re-evaluates shelf life for a household without new sensor
// input. It backs the periodic sweep.
func (a *FridgeAgent) CheckExpiry(ctx context.Context, householdID string) {
	st := a.stateFor(householdID)
	st.mu.Lock()
	defer st.mu.Unlock()
	a.checkExpiryLocked(ctx, householdID, nil, st, a.clock())
}

// Inventory returns a copy of the current inventory for a household.
func (a *FridgeAgent) Inventory(householdID string) []InventoryItem {
	st := a.stateFor(householdID)
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]InventoryItem, len(st.inventory))
	copy(out, st.inventory)
	return out
}

func (a *FridgeAgent) normalize(d DetectedItem, now time.Time) InventoryItem {
	name := d.Name
	if name == "" {
		name = "unknown item"
	}
	category := d.Category
	if _, ok := shelfLifeDays[category]; !ok {
		category = CategoryOther
	}
	quantity := d.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	confidence := d.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	expiresAt := now.AddDate(0, 0, estimateShelfLife(category))
	if d.ExpiresAt != nil {
		expiresAt = *d.ExpiresAt
	}
	return InventoryItem{
		Name:       name,
		Category:   category,
		Quantity:   quantity,
		ExpiresAt:  expiresAt,
		Confidence: confidence,
		Location:   d.Location,
		LastSeenAt: now,
	}
}

func estimateShelfLife(category Category) int {
	if days, ok := shelfLifeDays[category]; ok {
		return days
	}
	return defaultShelfLifeDays
}

func (a *FridgeAgent) checkExpiryLocked(ctx context.Context, householdID string, wf *uuid.UUID, st *fridgeState, now time.Time) {
	var expired, expiring []string
	for _, item := range st.inventory {
		days := int(item.ExpiresAt.Sub(now).Hours() / 24)
		switch {
		case item.ExpiresAt.Before(now):
			expired = append(expired, item.Name)
		case days <= expiryWarningDays:
			expiring = append(expiring, item.Name)
		}
	}
	if len(expired) > 0 {
		a.emitIntent(ctx, householdID, wf, IntentDetectedExpiry, expired, 0.9, map[string]any{
			"count": len(expired),
		})
	}
	if len(expiring) > 0 {
		a.emitIntent(ctx, householdID, wf, IntentExpiryWarning, expiring, 0.85, map[string]any{
			"count":          len(expiring),
			"lookahead_days": expiryWarningDays,
		})
	}
}

// MissingStaples reports which common staples are absent from an inventory.
func MissingStaples(inventory []InventoryItem) []string {
	present := make(map[string]struct{}, len(inventory))
	for _, item := range inventory {
		present[strings.ToLower(item.Name)] = struct{}{}
	}
	var missing []string
	for _, s := range staples {
		if _, ok := present[s]; !ok {
			missing = append(missing, s)
		}
	}
	return missing
}

func (a *FridgeAgent) checkStaplesLocked(ctx context.Context, householdID string, wf *uuid.UUID, st *fridgeState) {
	missing := MissingStaples(st.inventory)
	if len(missing) == 0 {
		return
	}
	a.emitIntent(ctx, householdID, wf, IntentProcurementRequired, missing, 0.7, map[string]any{
		"category": "staples",
	})
}

// emitFrameDiff reports per-item additions and removals against the
// previous frame. A removal of an item that was present across several
// recent frames is reported as likely consumption instead of a bare
// removal.
func (a *FridgeAgent) emitFrameDiff(ctx context.Context, householdID string, wf *uuid.UUID, st *fridgeState, previous map[string]InventoryItem, current map[string]struct{}, added, removed []string) {
	for _, name := range added {
		a.emitIntent(ctx, householdID, wf, IntentItemAdded, []string{name}, st.lastConfidence, nil)
	}
	for _, name := range removed {
		frames := presenceStreak(st.history, name)
		prev := previous[name]
		if frames >= consumptionMinFrames {
			a.emitIntent(ctx, householdID, wf, IntentConsumptionLikely, []string{name}, prev.Confidence, map[string]any{
				"present_for_frames": frames,
				"category":           string(prev.Category),
			})
			continue
		}
		a.emitIntent(ctx, householdID, wf, IntentItemRemoved, []string{name}, prev.Confidence, map[string]any{
			"present_for_frames": frames,
			"last_location":      prev.Location,
		})
	}
}

// presenceStreak counts how many consecutive frames, ending with the most
// recent, contain the item.
func presenceStreak(history []observation, name string) int {
	streak := 0
	for i := len(history) - 1; i >= 0; i-- {
		if _, ok := history[i].names[name]; !ok {
			break
		}
		streak++
	}
	return streak
}

func appendObservation(history []observation, obs observation) []observation {
	history = append(history, obs)
	if len(history) > maxObservationFrames {
		history = history[len(history)-maxObservationFrames:]
	}
	return history
}

// emitIntent hands one intent to the emitter. An emission failure never
// aborts the analysis that produced it; the intent is logged and dropped.
func (a *FridgeAgent) emitIntent(ctx context.Context, householdID string, wf *uuid.UUID, kind IntentKind, subjects []string, confidence float64, evidence map[string]any) {
	err := a.emitter.EmitIntent(ctx, Intent{
		ID:          uuid.New(),
		Kind:        kind,
		SourceAgent: a.Name(),
		HouseholdID: householdID,
		WorkflowID:  wf,
		SubjectIDs:  subjects,
		Confidence:  confidence,
		Evidence:    evidence,
		Timestamp:   a.clock(),
	})
	if err != nil {
		log.Printf(`{"level":"warn","component":"fridge","msg":"intent emission failed","household_id":"%s","kind":"%s","error":"%s"}`, householdID, kind, err)
	}
}
