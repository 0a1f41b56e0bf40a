package integration

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domuslabs/smart-home/assistant-core/internal/bus"
	"github.com/domuslabs/smart-home/assistant-core/internal/events"
	"github.com/domuslabs/smart-home/assistant-core/internal/orchestrator"
	"github.com/domuslabs/smart-home/assistant-core/tests/helpers"
)

// collectUntil drains the subscription until an event of the wanted type
// arrives, returning it plus everything seen on the way.
func collectUntil(t *testing.T, sub *bus.Subscription, want events.Type) (events.Event, []events.Event) {
	var seen []events.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-sub.C():
			seen = append(seen, event)
			if event.Type == want {
				return event, seen
			}
		case <-deadline:
			t.Fatalf("never received %s, saw %d events", want, len(seen))
		}
	}
}

func TestApprovalWorkflowIntegration(t *testing.T) {
	config := SetupInClusterEnvironment()
	t.Logf("Using real infrastructure - Database: %s, Namespace: %s", config.DatabaseURL, config.Namespace)

	testDB := helpers.NewTestDatabaseWithURL(t, config.DatabaseURL)
	defer testDB.Close()

	env := newTestEnv(t, testDB)
	env.Collab.SetAnalysis(helpers.MissingStaplesAnalysis(time.Now()))

	ctx := context.Background()
	householdID := "household-approval-1"
	sessionID := "approval-session-1"

	sub := env.Bus.Subscribe(sessionID)
	defer env.Bus.Unsubscribe(sub)
	env.Orch.AttachSession(householdID, sessionID)
	defer env.Orch.DetachSession(householdID, sessionID)

	runCapture := func(t *testing.T) events.ApprovalRequestPayload {
		workflowID := uuid.New()
		require.NoError(t, env.Orch.ProcessCapture(ctx, householdID, workflowID, helpers.TestCaptureImage))

		request, _ := collectUntil(t, sub, events.TypeApprovalRequest)
		payload, ok := request.Payload.(events.ApprovalRequestPayload)
		require.True(t, ok)

		// The scan workflow completes right after the approval request goes
		// out; drain it so later reads see only the procurement outcome.
		scanDone, _ := collectUntil(t, sub, events.TypeWorkflowCompleted)
		scanResult, ok := scanDone.Payload.(events.WorkflowResultPayload)
		require.True(t, ok)
		require.Equal(t, "fridge_scan", scanResult.WorkflowType)

		return payload
	}

	t.Run("Missing Staples Produce an Approval Request", func(t *testing.T) {
		payload := runCapture(t)

		assert.Equal(t, "grocery_order", payload.ActionType)
		assert.True(t, payload.ExpiresAt.After(time.Now()))
		assert.NotEmpty(t, payload.Items)
		// The expiring leftovers from the same scan fold into the description
		assert.Contains(t, strings.ToLower(payload.Description), "milk")
		assert.Contains(t, strings.ToLower(payload.Description), "expiring")

		assert.Equal(t, 1, env.Orch.PendingApprovals())

		// Approving places the order and completes the procurement workflow
		env.Orch.HandleApprovalResult(ctx, householdID, events.ApprovalResultPayload{
			ApprovalID: payload.ApprovalID,
			Approved:   true,
		})

		completed, seen := collectUntil(t, sub, events.TypeWorkflowCompleted)
		result, ok := completed.Payload.(events.WorkflowResultPayload)
		require.True(t, ok)
		assert.Equal(t, "procurement", result.WorkflowType)

		var sawNotification bool
		for _, event := range seen {
			if event.Type == events.TypeNotificationSent {
				sawNotification = true
			}
		}
		assert.True(t, sawNotification, "expected a notification.sent event after ordering")

		require.NotEmpty(t, env.Collab.Orders())
		assert.Contains(t, env.Collab.Orders()[0], "milk")
		assert.Equal(t, 0, env.Orch.PendingApprovals())
	})

	t.Run("Denied Approval Fails the Workflow", func(t *testing.T) {
		payload := runCapture(t)

		env.Orch.HandleApprovalResult(ctx, householdID, events.ApprovalResultPayload{
			ApprovalID:  payload.ApprovalID,
			Approved:    false,
			UserMessage: "not this week",
		})

		failed, _ := collectUntil(t, sub, events.TypeWorkflowFailed)
		result, ok := failed.Payload.(events.WorkflowResultPayload)
		require.True(t, ok)
		assert.Equal(t, "rejected", result.Reason)
		assert.Equal(t, 0, env.Orch.PendingApprovals())
	})

	t.Run("Unknown Approval Yields Recoverable Error", func(t *testing.T) {
		env.Orch.HandleApprovalResult(ctx, householdID, events.ApprovalResultPayload{
			ApprovalID: uuid.New(),
			Approved:   true,
		})

		errEvent, _ := collectUntil(t, sub, events.TypeError)
		payload, ok := errEvent.Payload.(events.ErrorPayload)
		require.True(t, ok)
		assert.Equal(t, "APPROVAL_UNKNOWN", payload.Code)
		assert.True(t, payload.Recoverable)
	})
}

func TestApprovalExpiryIntegration(t *testing.T) {
	testDB := helpers.NewTestDatabase(t)
	defer testDB.Close()

	env := newTestEnv(t, testDB,
		orchestrator.WithApprovalTTL(100*time.Millisecond),
		orchestrator.WithSweepInterval(20*time.Millisecond),
	)
	env.Collab.SetAnalysis(helpers.MissingStaplesAnalysis(time.Now()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.Orch.Run(ctx)

	householdID := "household-expiry-1"
	sessionID := "expiry-session-1"
	sub := env.Bus.Subscribe(sessionID)
	defer env.Bus.Unsubscribe(sub)
	env.Orch.AttachSession(householdID, sessionID)
	defer env.Orch.DetachSession(householdID, sessionID)

	workflowID := uuid.New()
	require.NoError(t, env.Orch.ProcessCapture(ctx, householdID, workflowID, helpers.TestCaptureImage))

	request, _ := collectUntil(t, sub, events.TypeApprovalRequest)
	payload, ok := request.Payload.(events.ApprovalRequestPayload)
	require.True(t, ok)

	// Let the approval lapse and the sweeper run several more times
	failed, _ := collectUntil(t, sub, events.TypeWorkflowFailed)
	result, ok := failed.Payload.(events.WorkflowResultPayload)
	require.True(t, ok)
	assert.Equal(t, "timeout", result.Reason)
	assert.Equal(t, "procurement", result.WorkflowType)
	assert.Equal(t, 0, env.Orch.PendingApprovals())

	// Exactly one failure: the lapsed entry is gone before the event is
	// published, so later sweeps see nothing
	time.Sleep(200 * time.Millisecond)
	var extraFailures int
	for {
		select {
		case event := <-sub.C():
			if event.Type == events.TypeWorkflowFailed {
				extraFailures++
			}
			continue
		default:
		}
		break
	}
	assert.Zero(t, extraFailures, "approval expiry published more than one workflow.failed")

	// The answer arriving after expiry is an unknown approval
	env.Orch.HandleApprovalResult(ctx, householdID, events.ApprovalResultPayload{
		ApprovalID: payload.ApprovalID,
		Approved:   true,
	})
	errEvent, _ := collectUntil(t, sub, events.TypeError)
	errPayload, ok := errEvent.Payload.(events.ErrorPayload)
	require.True(t, ok)
	assert.Equal(t, "APPROVAL_UNKNOWN", errPayload.Code)
	assert.Empty(t, env.Collab.Orders())
}
