package orchestrator

import (
	"context"
	"time"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
)

// The orchestrator is the only component allowed to invoke external
// collaborators. Each capability is an interface consumed here; concrete
// implementations live outside the core (the HTTP clients in this package
// are thin adapters over remote services).

// VisionAnalyzer turns a raw camera frame into detected items.
type VisionAnalyzer interface {
	Analyze(ctx context.Context, image []byte) (agent.VisionAnalysis, error)
}

// Notification is the record handed to the delivery layer.
type Notification struct {
	HouseholdID string         `json:"household_id"`
	Kind        string         `json:"kind"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Severity    string         `json:"severity"`
	Context     map[string]any `json:"context,omitempty"`
}

// NotificationSender delivers a notification to the user's devices.
type NotificationSender interface {
	Send(ctx context.Context, n Notification) error
}

// MealEvent is an upcoming calendar entry that implies ingredients.
type MealEvent struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	StartsAt    time.Time `json:"starts_at"`
	Ingredients []string  `json:"ingredients"`
}

// CalendarClient looks up upcoming meal events for a household.
type CalendarClient interface {
	UpcomingMeals(ctx context.Context, householdID string, daysAhead int) ([]MealEvent, error)
}

// GroceryOrderer places an order after the user has approved it.
type GroceryOrderer interface {
	PlaceOrder(ctx context.Context, householdID string, items []string) (orderID string, err error)
}
