package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

// CodeVisionFailed marks a vision collaborator failure.
const CodeVisionFailed = "VISION_FAILED"

// ProcessCapture runs the fridge-scan workflow for one admitted capture:
// vision analysis, then the fridge agent, with every resulting event
// correlated under the given workflow ID.
func (o *Orchestrator) ProcessCapture(ctx context.Context, householdID string, workflowID uuid.UUID, image []byte) error {
	ctx, span := tracer.Start(ctx, "orchestrator.process_capture")
	defer span.End()
	span.SetAttributes(
		attribute.String("household.id", householdID),
		attribute.String("workflow.id", workflowID.String()),
		attribute.Int("image.bytes", len(image)),
	)

	wf := &workflowID
	o.publish(ctx, householdID, events.New(events.TypeWorkflowStarted, wf, events.WorkflowResultPayload{
		WorkflowType: workflowTypeFridgeScan,
	}))
	o.publish(ctx, householdID, events.New(events.TypeWorkflowStep, wf, events.WorkflowStepPayload{
		StepName:   "vision_analysis",
		StepIndex:  1,
		TotalSteps: 2,
	}))

	analysis, err := o.vision.Analyze(ctx, image)
	if err != nil {
		span.RecordError(err)
		o.publish(ctx, householdID, events.NewError(CodeVisionFailed, "vision analysis failed", true, wf))
		o.publish(ctx, householdID, events.NewWorkflowFailed(workflowID, workflowTypeFridgeScan, "vision_failed"))
		return fmt.Errorf("vision analysis: %w", err)
	}

	o.publish(ctx, householdID, events.New(events.TypeWorkflowStep, wf, events.WorkflowStepPayload{
		StepName:   "inventory_update",
		StepIndex:  2,
		TotalSteps: 2,
	}))
	return o.fridge.Analyze(ctx, householdID, workflowID, analysis)
}
