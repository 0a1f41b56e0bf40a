package integration

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/domuslabs/smart-home/assistant-core/internal/agent"
	"github.com/domuslabs/smart-home/assistant-core/internal/auth"
	"github.com/domuslabs/smart-home/assistant-core/internal/bus"
	"github.com/domuslabs/smart-home/assistant-core/internal/debounce"
	"github.com/domuslabs/smart-home/assistant-core/internal/gateway"
	"github.com/domuslabs/smart-home/assistant-core/internal/metrics"
	"github.com/domuslabs/smart-home/assistant-core/internal/orchestrator"
	"github.com/domuslabs/smart-home/assistant-core/internal/store/postgres"
	"github.com/domuslabs/smart-home/assistant-core/tests/helpers"
)

const testDeviceToken = "integration-device-token"

// collaborators are stand-ins for the downstream services the orchestrator
// talks to over HTTP.
type collaborators struct {
	Vision   *httptest.Server
	Notify   *httptest.Server
	Calendar *httptest.Server
	Grocery  *httptest.Server

	mu            sync.Mutex
	analysis      agent.VisionAnalysis
	meals         []orchestrator.MealEvent
	notifications []orchestrator.Notification
	orders        [][]string
}

func newCollaborators(t *testing.T) *collaborators {
	c := &collaborators{}

	c.Vision = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		analysis := c.analysis
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(analysis)
	}))

	c.Notify = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n orchestrator.Notification
		if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.notifications = append(c.notifications, n)
		c.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))

	c.Calendar = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		meals := c.meals
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"events": meals})
	}))

	c.Grocery = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Items []string `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.orders = append(c.orders, req.Items)
		c.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"order_id": "order-integration-1"})
	}))

	t.Cleanup(func() {
		c.Vision.Close()
		c.Notify.Close()
		c.Calendar.Close()
		c.Grocery.Close()
	})

	return c
}

// SetAnalysis swaps the response the fake vision service returns
func (c *collaborators) SetAnalysis(a agent.VisionAnalysis) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analysis = a
}

// Notifications returns a snapshot of everything the fake notifier received
func (c *collaborators) Notifications() []orchestrator.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]orchestrator.Notification, len(c.notifications))
	copy(out, c.notifications)
	return out
}

// Orders returns a snapshot of every order placed
func (c *collaborators) Orders() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]string, len(c.orders))
	copy(out, c.orders)
	return out
}

// testEnv wires the full service the way cmd/api does, with fake
// collaborators and an in-memory debounce store.
type testEnv struct {
	Router *gin.Engine
	Bus    *bus.Bus
	Gate   *debounce.Gate
	Orch   *orchestrator.Orchestrator
	JWT    *auth.JWTManager
	Store  *postgres.Store
	Collab *collaborators
}

func newTestEnv(t *testing.T, testDB *helpers.TestDatabase, opts ...orchestrator.Option) *testEnv {
	t.Setenv("JWT_SECRET", "integration-test-secret")

	collab := newCollaborators(t)

	collector, err := metrics.NewCollector()
	require.NoError(t, err)

	eventBus := bus.New(bus.WithRecorder(collector))
	gate := debounce.NewGate(debounce.NewMemoryStore())

	notifier := postgres.NewLoggingNotificationSender(
		postgres.NewStore(testDB.Pool),
		orchestrator.NewHTTPNotificationSender(collab.Notify.URL),
	)
	orchOpts := append([]orchestrator.Option{orchestrator.WithIntentRecorder(collector)}, opts...)
	orch := orchestrator.New(
		eventBus,
		orchestrator.NewHTTPVisionAnalyzer(collab.Vision.URL),
		notifier,
		orchestrator.NewHTTPCalendarClient(collab.Calendar.URL),
		orchestrator.NewHTTPGroceryOrderer(collab.Grocery.URL),
		orchOpts...,
	)

	jwtManager, err := auth.NewJWTManager()
	require.NoError(t, err)

	pgStore := postgres.NewStore(testDB.Pool)
	handler := gateway.NewHandler(eventBus, gate, orch, jwtManager, pgStore, testDB.Pool, collector)

	gin.SetMode(gin.TestMode)
	router := gin.New()

	api := router.Group("/api")
	api.POST("/auth/login", handler.Login)
	api.POST("/devices/:device_id/captures", auth.RequireDeviceToken(testDeviceToken), handler.IngestCapture)

	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager))
	protected.GET("/ws/session", handler.Session)
	protected.POST("/devices", handler.RegisterDevice)
	protected.DELETE("/devices/:device_id", handler.DeregisterDevice)
	protected.GET("/household/inventory", handler.GetInventory)
	protected.GET("/household/notifications", handler.GetNotifications)
	protected.POST("/household/calendar-check", handler.CheckCalendar)

	return &testEnv{
		Router: router,
		Bus:    eventBus,
		Gate:   gate,
		Orch:   orch,
		JWT:    jwtManager,
		Store:  pgStore,
		Collab: collab,
	}
}
