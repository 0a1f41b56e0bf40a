package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
)

// CheckCalendarProcurement cross-references upcoming meal events with the
// household inventory. Ingredients no meal can be cooked without are routed
// as procurement intents, which open the usual approval workflow.
func (o *Orchestrator) CheckCalendarProcurement(ctx context.Context, householdID string, daysAhead int) error {
	meals, err := o.calendar.UpcomingMeals(ctx, householdID, daysAhead)
	if err != nil {
		return fmt.Errorf("calendar lookup: %w", err)
	}

	have := make(map[string]struct{})
	for _, item := range o.fridge.Inventory(householdID) {
		have[strings.ToLower(item.Name)] = struct{}{}
	}

	for _, meal := range meals {
		var missing []string
		for _, ingredient := range meal.Ingredients {
			if _, ok := have[strings.ToLower(ingredient)]; !ok {
				missing = append(missing, strings.ToLower(ingredient))
			}
		}
		if len(missing) == 0 {
			continue
		}
		err := o.EmitIntent(ctx, agent.Intent{
			ID:          uuid.New(),
			Kind:        agent.IntentProcurementRequired,
			SourceAgent: "orchestrator",
			HouseholdID: householdID,
			SubjectIDs:  dedupe(missing),
			Confidence:  0.9,
			Evidence: map[string]any{
				"meal_event_id": meal.ID,
				"meal_title":    meal.Title,
				"starts_at":     meal.StartsAt,
			},
			Timestamp: o.clock(),
		})
		if err != nil {
			return fmt.Errorf("route calendar procurement: %w", err)
		}
	}
	return nil
}
