// Package orchestrator implements the level-0 coordination layer: the sole
// authority for user-facing communication and external service invocation.
// Domain agents hand it intents; it decides what, if anything, the user
// sees, and it alone talks to the vision, notification, calendar, and
// ordering collaborators.
package orchestrator

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
	"github.com/domuslabs/smart-home/assistant-core/internal/bus"
	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

var tracer = otel.Tracer("assistant-core/orchestrator")

const (
	// DefaultApprovalTTL is how long an APPROVAL_REQUEST waits for an
	// APPROVAL_RESULT before it lapses.
	DefaultApprovalTTL = 5 * time.Minute

	// defaultSweepInterval is how often lapsed approvals are collected.
	defaultSweepInterval = 5 * time.Second

	// defaultExpirySweepInterval is how often inventory shelf life is
	// re-evaluated without new sensor input.
	defaultExpirySweepInterval = time.Hour

	workflowTypeFridgeScan  = "fridge_scan"
	workflowTypeProcurement = "procurement"
)

// IntentRecorder receives routing observations for metrics.
type IntentRecorder interface {
	RecordIntentRouted(ctx context.Context, kind string, duration time.Duration)
}

// routePolicy handles one intent kind within a flushed burst.
type routePolicy func(ctx context.Context, in agent.Intent, b *burst)

// pendingApproval tracks one outstanding user approval.
type pendingApproval struct {
	approvalID  uuid.UUID
	workflowID  *uuid.UUID
	householdID string
	actionType  string
	items       []string
	expiresAt   time.Time
}

// burst accumulates the intents of one agent processing run so routing can
// consider them together. Flushed when the agent reports ACTIVATED or ERROR.
type burst struct {
	householdID string
	workflowID  *uuid.UUID
	intents     []agent.Intent

	// routing scratch state, valid during flush only
	procurement  *agent.Intent
	foldedExpiry []string
	summary      map[string]int
}

// Orchestrator routes intents, owns the approval workflow, and fans
// user-visible events out to every session attached to a household.
type Orchestrator struct {
	bus      *bus.Bus
	vision   VisionAnalyzer
	notifier NotificationSender
	calendar CalendarClient
	orderer  GroceryOrderer

	fridge *agent.FridgeAgent

	approvalTTL         time.Duration
	sweepInterval       time.Duration
	expirySweepInterval time.Duration
	clock               func() time.Time
	fridgeClock         func() time.Time
	recorder            IntentRecorder

	routes map[agent.IntentKind]routePolicy

	mu        sync.Mutex
	sessions  map[string]map[string]struct{} // householdID -> session IDs
	approvals map[uuid.UUID]*pendingApproval
	bursts    map[string]*burst // keyed by household + workflow
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithApprovalTTL overrides the approval expiry window.
func WithApprovalTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.approvalTTL = ttl }
}

// WithSweepInterval overrides how often lapsed approvals are collected.
func WithSweepInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.sweepInterval = d }
}

// WithExpirySweepInterval overrides how often inventory shelf life is
// re-checked without a new capture.
func WithExpirySweepInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.expirySweepInterval = d }
}

// WithOrchestratorClock replaces the time source for tests.
func WithOrchestratorClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.clock = clock }
}

// WithIntentRecorder attaches a metrics sink for intent routing.
func WithIntentRecorder(r IntentRecorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithFridgeClock is forwarded to the fridge agent constructed internally.
func WithFridgeClock(clock func() time.Time) Option {
	return func(o *Orchestrator) { o.fridgeClock = clock }
}

func New(eventBus *bus.Bus, vision VisionAnalyzer, notifier NotificationSender, calendar CalendarClient, orderer GroceryOrderer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		bus:                 eventBus,
		vision:              vision,
		notifier:            notifier,
		calendar:            calendar,
		orderer:             orderer,
		approvalTTL:         DefaultApprovalTTL,
		sweepInterval:       defaultSweepInterval,
		expirySweepInterval: defaultExpirySweepInterval,
		clock:               func() time.Time { return time.Now().UTC() },
		sessions:            make(map[string]map[string]struct{}),
		approvals:           make(map[uuid.UUID]*pendingApproval),
		bursts:              make(map[string]*burst),
	}
	for _, opt := range opts {
		opt(o)
	}
	fridgeOpts := []agent.FridgeOption{}
	if o.fridgeClock != nil {
		fridgeOpts = append(fridgeOpts, agent.WithClock(o.fridgeClock))
	}
	o.fridge = agent.NewFridgeAgent(o, fridgeOpts...)
	o.routes = map[agent.IntentKind]routePolicy{
		agent.IntentProcurementRequired: o.routeProcurement,
		agent.IntentExpiryWarning:       o.routeExpiryWarning,
		agent.IntentDetectedExpiry:      o.routeDetectedExpiry,
		agent.IntentConfidenceDegraded:  o.routeConfidenceDegraded,
		agent.IntentAnalysisFailed:      o.routeAnalysisFailed,
		agent.IntentInventoryUpdated:    o.routeSummary,
		agent.IntentItemAdded:           o.routeSummary,
		agent.IntentItemRemoved:         o.routeSummary,
		agent.IntentConsumptionLikely:   o.routeSummary,
	}
	return o
}

// Fridge exposes the managed fridge agent for read-only inventory queries.
func (o *Orchestrator) Fridge() *agent.FridgeAgent { return o.fridge }

// AttachSession registers a session as an observer of a household. Events
// routed for that household are published to every attached session.
func (o *Orchestrator) AttachSession(householdID, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	set, ok := o.sessions[householdID]
	if !ok {
		set = make(map[string]struct{})
		o.sessions[householdID] = set
	}
	set[sessionID] = struct{}{}
}

// DetachSession removes a session from a household's observer set.
func (o *Orchestrator) DetachSession(householdID, sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if set, ok := o.sessions[householdID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(o.sessions, householdID)
		}
	}
}

func (o *Orchestrator) sessionsFor(householdID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.sessions[householdID]))
	for id := range o.sessions[householdID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// publish fans one event out to every session attached to the household.
// Each session gets its own sequence from the bus.
func (o *Orchestrator) publish(ctx context.Context, householdID string, event events.Event) {
	for _, sessionID := range o.sessionsFor(householdID) {
		if _, err := o.bus.Publish(ctx, sessionID, event); err != nil {
			log.Printf(`{"level":"warn","component":"orchestrator","msg":"publish failed","session_id":"%s","event_type":"%s","error":"%s"}`, sessionID, event.Type, err)
		}
	}
}

// Run drives the periodic sweeps until the context is cancelled: lapsed
// approvals on sweepInterval, inventory shelf life on expirySweepInterval.
func (o *Orchestrator) Run(ctx context.Context) {
	approvals := time.NewTicker(o.sweepInterval)
	defer approvals.Stop()
	expiry := time.NewTicker(o.expirySweepInterval)
	defer expiry.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-approvals.C:
			o.expireApprovals(ctx)
		case <-expiry.C:
			o.sweepExpiry(ctx)
		}
	}
}

// sweepExpiry re-evaluates shelf life for every household the fridge agent
// tracks, so expiry notifications fire even when no new capture arrives.
func (o *Orchestrator) sweepExpiry(ctx context.Context) {
	for _, householdID := range o.fridge.Households() {
		o.fridge.CheckExpiry(ctx, householdID)
	}
}

// expireApprovals lapses every approval whose deadline has passed. Each
// lapsed approval yields exactly one WORKFLOW_FAILED with reason "timeout";
// the underlying action is never retried.
func (o *Orchestrator) expireApprovals(ctx context.Context) {
	now := o.clock()
	o.mu.Lock()
	var lapsed []*pendingApproval
	for id, pa := range o.approvals {
		if !pa.expiresAt.After(now) {
			lapsed = append(lapsed, pa)
			delete(o.approvals, id)
		}
	}
	o.mu.Unlock()

	for _, pa := range lapsed {
		log.Printf(`{"level":"info","component":"orchestrator","msg":"approval lapsed","approval_id":"%s","household_id":"%s"}`, pa.approvalID, pa.householdID)
		wfID := uuid.Nil
		if pa.workflowID != nil {
			wfID = *pa.workflowID
		}
		o.publish(ctx, pa.householdID, events.NewWorkflowFailed(wfID, workflowTypeProcurement, "timeout"))
	}
}

// PendingApprovals reports how many approvals are outstanding.
func (o *Orchestrator) PendingApprovals() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.approvals)
}
