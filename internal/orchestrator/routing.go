package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

const (
	// CodeAgentFailure marks a domain agent processing failure surfaced
	// to clients.
	CodeAgentFailure = "AGENT_FAILURE"
	// CodeApprovalUnknown marks an approval result for a request that is
	// unknown, already resolved, or lapsed.
	CodeApprovalUnknown = "APPROVAL_UNKNOWN"
	// CodeNotifyFailed marks a notification delivery failure.
	CodeNotifyFailed = "NOTIFY_FAILED"
	// CodeOrderFailed marks a grocery order placement failure.
	CodeOrderFailed = "ORDER_FAILED"
)

func burstKey(householdID string, wf *uuid.UUID) string {
	if wf == nil {
		return householdID + "/-"
	}
	return householdID + "/" + wf.String()
}

// EmitIntent receives an intent from a domain agent. Intents carrying a
// workflow ID are buffered until the agent closes its processing burst via
// EmitStatus, so routing can consider the burst as a whole; intents without
// one are routed immediately.
func (o *Orchestrator) EmitIntent(ctx context.Context, in agent.Intent) error {
	if in.WorkflowID == nil {
		o.flush(ctx, &burst{
			householdID: in.HouseholdID,
			intents:     []agent.Intent{in},
		}, false)
		return nil
	}

	o.mu.Lock()
	key := burstKey(in.HouseholdID, in.WorkflowID)
	b, ok := o.bursts[key]
	if !ok {
		b = &burst{householdID: in.HouseholdID, workflowID: in.WorkflowID}
		o.bursts[key] = b
	}
	b.intents = append(b.intents, in)
	o.mu.Unlock()
	return nil
}

// EmitStatus publishes the agent lifecycle transition to every session
// watching the household. ACTIVATED and ERROR close the workflow's burst
// and trigger routing.
func (o *Orchestrator) EmitStatus(ctx context.Context, householdID, agentName string, status events.AgentStatus, message string, workflowID *uuid.UUID) error {
	o.publish(ctx, householdID, events.NewAgentStatus(agentName, status, message, workflowID))

	if workflowID == nil || (status != events.AgentActivated && status != events.AgentError) {
		return nil
	}

	o.mu.Lock()
	key := burstKey(householdID, workflowID)
	b, ok := o.bursts[key]
	if ok {
		delete(o.bursts, key)
	}
	o.mu.Unlock()
	if !ok {
		b = &burst{householdID: householdID, workflowID: workflowID}
	}
	o.flush(ctx, b, status == events.AgentError)
	return nil
}

// flush routes a closed burst. Approval-gated intents are routed last so
// that warnings about the same items fold into the approval request instead
// of producing a second user-visible notification.
func (o *Orchestrator) flush(ctx context.Context, b *burst, failed bool) {
	ctx, span := tracer.Start(ctx, "orchestrator.flush")
	defer span.End()
	span.SetAttributes(
		attribute.String("household.id", b.householdID),
		attribute.Int("burst.intents", len(b.intents)),
	)

	b.summary = make(map[string]int)
	for i := range b.intents {
		if b.intents[i].Kind == agent.IntentProcurementRequired {
			b.procurement = &b.intents[i]
		}
	}

	for _, in := range b.intents {
		if in.Kind == agent.IntentProcurementRequired {
			continue
		}
		o.route(ctx, in, b)
	}
	if b.procurement != nil {
		o.route(ctx, *b.procurement, b)
	}

	if b.workflowID == nil {
		return
	}
	if failed {
		o.publish(ctx, b.householdID, events.NewWorkflowFailed(*b.workflowID, workflowTypeFridgeScan, "agent_error"))
		return
	}
	o.publish(ctx, b.householdID, events.New(events.TypeWorkflowCompleted, b.workflowID, events.WorkflowResultPayload{
		WorkflowType: workflowTypeFridgeScan,
		Reason:       summarize(b.summary),
	}))
}

func (o *Orchestrator) route(ctx context.Context, in agent.Intent, b *burst) {
	policy, ok := o.routes[in.Kind]
	if !ok {
		log.Printf(`{"level":"warn","component":"orchestrator","msg":"no route for intent kind","kind":"%s"}`, in.Kind)
		return
	}
	start := o.clock()
	policy(ctx, in, b)
	if o.recorder != nil {
		o.recorder.RecordIntentRouted(ctx, string(in.Kind), o.clock().Sub(start))
	}
}

func summarize(counts map[string]int) string {
	if len(counts) == 0 {
		return ""
	}
	parts := make([]string, 0, len(counts))
	for _, kind := range []agent.IntentKind{
		agent.IntentInventoryUpdated,
		agent.IntentItemAdded,
		agent.IntentItemRemoved,
		agent.IntentConsumptionLikely,
	} {
		if n, ok := counts[string(kind)]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	return strings.Join(parts, " ")
}

// routeSummary counts state-change intents into the workflow result instead
// of surfacing each one to the user.
func (o *Orchestrator) routeSummary(_ context.Context, in agent.Intent, b *burst) {
	b.summary[string(in.Kind)]++
}

func (o *Orchestrator) routeExpiryWarning(ctx context.Context, in agent.Intent, b *burst) {
	if b.procurement != nil {
		// Folded into the approval request routed at the end of the burst.
		b.foldedExpiry = append(b.foldedExpiry, in.SubjectIDs...)
		return
	}
	o.sendNotification(ctx, in, Notification{
		HouseholdID: in.HouseholdID,
		Kind:        "perishable_expiry",
		Title:       "Items expiring soon",
		Message:     fmt.Sprintf("%d item(s) expire within the next few days: %s", len(in.SubjectIDs), strings.Join(in.SubjectIDs, ", ")),
		Severity:    "medium",
		Context:     in.Evidence,
	})
}

func (o *Orchestrator) routeDetectedExpiry(ctx context.Context, in agent.Intent, _ *burst) {
	o.sendNotification(ctx, in, Notification{
		HouseholdID: in.HouseholdID,
		Kind:        "perishable_expiry",
		Title:       "Expired items detected",
		Message:     fmt.Sprintf("%d item(s) have expired and should be discarded: %s", len(in.SubjectIDs), strings.Join(in.SubjectIDs, ", ")),
		Severity:    "high",
		Context:     in.Evidence,
	})
}

func (o *Orchestrator) routeConfidenceDegraded(ctx context.Context, in agent.Intent, _ *burst) {
	o.sendNotification(ctx, in, Notification{
		HouseholdID: in.HouseholdID,
		Kind:        "confidence_degraded",
		Title:       "Scan quality is low",
		Message:     "The last fridge scan had low confidence. Consider a clearer capture.",
		Severity:    "low",
		Context:     in.Evidence,
	})
}

func (o *Orchestrator) routeAnalysisFailed(ctx context.Context, in agent.Intent, _ *burst) {
	o.publish(ctx, in.HouseholdID, events.NewError(CodeAgentFailure, "fridge analysis failed", true, in.WorkflowID))
}

// routeProcurement opens the approval workflow: no external order is placed
// until an APPROVAL_RESULT arrives, and a lapse fails the workflow instead
// of retrying.
func (o *Orchestrator) routeProcurement(ctx context.Context, in agent.Intent, b *burst) {
	expiresAt := o.clock().Add(o.approvalTTL)
	pa := &pendingApproval{
		approvalID:  uuid.New(),
		workflowID:  in.WorkflowID,
		householdID: in.HouseholdID,
		actionType:  "grocery_order",
		items:       in.SubjectIDs,
		expiresAt:   expiresAt,
	}

	description := fmt.Sprintf("Order missing staples: %s.", strings.Join(in.SubjectIDs, ", "))
	if len(b.foldedExpiry) > 0 {
		description += fmt.Sprintf(" Also expiring soon: %s.", strings.Join(dedupe(b.foldedExpiry), ", "))
	}

	o.mu.Lock()
	o.approvals[pa.approvalID] = pa
	o.mu.Unlock()

	items := make([]map[string]any, 0, len(in.SubjectIDs))
	for _, name := range in.SubjectIDs {
		items = append(items, map[string]any{"name": name, "quantity": 1})
	}
	o.publish(ctx, in.HouseholdID, events.New(events.TypeApprovalRequest, in.WorkflowID, events.ApprovalRequestPayload{
		ApprovalID:  pa.approvalID,
		ActionType:  pa.actionType,
		Description: description,
		Items:       items,
		ExpiresAt:   expiresAt,
	}))
}

// HandleApprovalResult resolves a pending approval with the user's answer.
// Results for unknown or lapsed approvals produce a recoverable error event
// and nothing else.
func (o *Orchestrator) HandleApprovalResult(ctx context.Context, householdID string, res events.ApprovalResultPayload) {
	ctx, span := tracer.Start(ctx, "orchestrator.approval_result")
	defer span.End()
	span.SetAttributes(
		attribute.String("approval.id", res.ApprovalID.String()),
		attribute.Bool("approval.approved", res.Approved),
	)

	o.mu.Lock()
	pa, ok := o.approvals[res.ApprovalID]
	if ok {
		delete(o.approvals, res.ApprovalID)
	}
	o.mu.Unlock()

	if !ok {
		o.publish(ctx, householdID, events.NewError(CodeApprovalUnknown, "approval not found or already lapsed", true, nil))
		return
	}

	wfID := uuid.Nil
	if pa.workflowID != nil {
		wfID = *pa.workflowID
	}

	if !res.Approved {
		o.publish(ctx, pa.householdID, events.NewWorkflowFailed(wfID, workflowTypeProcurement, "rejected"))
		return
	}

	orderID, err := o.orderer.PlaceOrder(ctx, pa.householdID, pa.items)
	if err != nil {
		log.Printf(`{"level":"error","component":"orchestrator","msg":"order placement failed","household_id":"%s","error":"%s"}`, pa.householdID, err)
		o.publish(ctx, pa.householdID, events.NewError(CodeOrderFailed, "order placement failed", true, pa.workflowID))
		o.publish(ctx, pa.householdID, events.NewWorkflowFailed(wfID, workflowTypeProcurement, "order_failed"))
		return
	}

	o.publish(ctx, pa.householdID, events.New(events.TypeNotificationSent, pa.workflowID, events.NotificationPayload{
		NotificationID: uuid.New(),
		Title:          "Order placed",
		Body:           fmt.Sprintf("Grocery order %s placed for: %s", orderID, strings.Join(pa.items, ", ")),
	}))
	o.publish(ctx, pa.householdID, events.New(events.TypeWorkflowCompleted, pa.workflowID, events.WorkflowResultPayload{
		WorkflowType: workflowTypeProcurement,
	}))
}

func (o *Orchestrator) sendNotification(ctx context.Context, in agent.Intent, n Notification) {
	if err := o.notifier.Send(ctx, n); err != nil {
		log.Printf(`{"level":"error","component":"orchestrator","msg":"notification delivery failed","kind":"%s","error":"%s"}`, n.Kind, err)
		o.publish(ctx, in.HouseholdID, events.NewError(CodeNotifyFailed, "notification delivery failed", true, in.WorkflowID))
		return
	}
	o.publish(ctx, in.HouseholdID, events.New(events.TypeNotificationSent, in.WorkflowID, events.NotificationPayload{
		NotificationID: uuid.New(),
		Title:          n.Title,
		Body:           n.Message,
		HasActions:     false,
	}))
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

var _ agent.Emitter = (*Orchestrator)(nil)
