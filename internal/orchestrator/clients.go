package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
	"github.com/domuslabs/smart-home/assistant-core/internal/retry"
)

// remoteClient is the shared plumbing for collaborator HTTP adapters:
// JSON over POST/GET with a circuit breaker per remote service and trace
// context propagation.
type remoteClient struct {
	baseURL    string
	httpClient *http.Client
	tracer     trace.Tracer
	breaker    *gobreaker.CircuitBreaker
}

func newRemoteClient(name, baseURL string) *remoteClient {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf(`{"level":"warn","component":"collaborator","msg":"circuit breaker state change","breaker":"%s","from":"%s","to":"%s"}`, name, from, to)
		},
	}
	return &remoteClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		tracer:  otel.Tracer("assistant-core/collaborator/" + name),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func (c *remoteClient) postJSON(ctx context.Context, path string, body any, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doJSON(ctx, http.MethodPost, path, body, out)
	})
	return err
}

func (c *remoteClient) getJSON(ctx context.Context, path string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.doJSON(ctx, http.MethodGet, path, nil, out)
	})
	return err
}

func (c *remoteClient) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s returned status %d: %s", method, path, resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// HTTPVisionAnalyzer calls a remote vision service.
type HTTPVisionAnalyzer struct {
	*remoteClient
}

func NewHTTPVisionAnalyzer(baseURL string) *HTTPVisionAnalyzer {
	return &HTTPVisionAnalyzer{remoteClient: newRemoteClient("vision", baseURL)}
}

func (c *HTTPVisionAnalyzer) Analyze(ctx context.Context, image []byte) (agent.VisionAnalysis, error) {
	ctx, span := c.tracer.Start(ctx, "vision.analyze")
	defer span.End()

	var out agent.VisionAnalysis
	req := map[string]any{"image_base64": image}
	if err := c.postJSON(ctx, "/v1/analyze", req, &out); err != nil {
		span.RecordError(err)
		return agent.VisionAnalysis{}, fmt.Errorf("vision service: %w", err)
	}
	return out, nil
}

// HTTPNotificationSender calls a remote notification delivery service.
// Delivery is retried with jittered backoff before the failure surfaces.
type HTTPNotificationSender struct {
	*remoteClient
	policy retry.Policy
}

func NewHTTPNotificationSender(baseURL string) *HTTPNotificationSender {
	return &HTTPNotificationSender{
		remoteClient: newRemoteClient("notifications", baseURL),
		policy: retry.Policy{
			MaxAttempts: 3,
			Delay:       retry.ExponentialJitter(500*time.Millisecond, 5*time.Second),
		},
	}
}

func (c *HTTPNotificationSender) Send(ctx context.Context, n Notification) error {
	ctx, span := c.tracer.Start(ctx, "notifications.send")
	defer span.End()

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		return c.postJSON(ctx, "/v1/notifications", n, nil)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("notification service: %w", err)
	}
	return nil
}

// HTTPCalendarClient calls a remote calendar service.
type HTTPCalendarClient struct {
	*remoteClient
}

func NewHTTPCalendarClient(baseURL string) *HTTPCalendarClient {
	return &HTTPCalendarClient{remoteClient: newRemoteClient("calendar", baseURL)}
}

func (c *HTTPCalendarClient) UpcomingMeals(ctx context.Context, householdID string, daysAhead int) ([]MealEvent, error) {
	ctx, span := c.tracer.Start(ctx, "calendar.upcoming_meals")
	defer span.End()

	var out struct {
		Events []MealEvent `json:"events"`
	}
	path := fmt.Sprintf("/v1/households/%s/meals?days_ahead=%d", householdID, daysAhead)
	if err := c.getJSON(ctx, path, &out); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return out.Events, nil
}

// HTTPGroceryOrderer calls a remote ordering service.
type HTTPGroceryOrderer struct {
	*remoteClient
}

func NewHTTPGroceryOrderer(baseURL string) *HTTPGroceryOrderer {
	return &HTTPGroceryOrderer{remoteClient: newRemoteClient("grocery", baseURL)}
}

func (c *HTTPGroceryOrderer) PlaceOrder(ctx context.Context, householdID string, items []string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "grocery.place_order")
	defer span.End()

	req := map[string]any{"household_id": householdID, "items": items}
	var out struct {
		OrderID string `json:"order_id"`
	}
	if err := c.postJSON(ctx, "/v1/orders", req, &out); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("grocery service: %w", err)
	}
	return out.OrderID, nil
}
