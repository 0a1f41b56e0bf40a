// Package gateway is the outer surface of the assistant core: the HTTP API,
// the device ingestion boundary, and the per-session WebSocket stream.
package gateway

import (
	"context"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/domuslabs/smart-home/assistant-core/internal/auth"
	"github.com/domuslabs/smart-home/assistant-core/internal/bus"
	"github.com/domuslabs/smart-home/assistant-core/internal/debounce"
	"github.com/domuslabs/smart-home/assistant-core/internal/metrics"
	"github.com/domuslabs/smart-home/assistant-core/internal/orchestrator"
	"github.com/domuslabs/smart-home/assistant-core/internal/store/postgres"
)

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	bus          *bus.Bus
	gate         *debounce.Gate
	orchestrator *orchestrator.Orchestrator
	jwtManager   *auth.JWTManager
	store        *postgres.Store
	pool         *pgxpool.Pool
	collector    *metrics.Collector
}

// NewHandler creates a new gateway handler
func NewHandler(eventBus *bus.Bus, gate *debounce.Gate, orch *orchestrator.Orchestrator, jwtManager *auth.JWTManager, store *postgres.Store, pool *pgxpool.Pool, collector *metrics.Collector) *Handler {
	return &Handler{
		bus:          eventBus,
		gate:         gate,
		orchestrator: orch,
		jwtManager:   jwtManager,
		store:        store,
		pool:         pool,
		collector:    collector,
	}
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"user_id"`
	HouseholdID string `json:"household_id"`
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Login credentials"
// @Success 200 {object} LoginResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	var userID, householdID, hashedPassword string
	err := h.pool.QueryRow(c.Request.Context(),
		`SELECT id, household_id, hashed_password FROM users WHERE email = $1`,
		req.Email,
	).Scan(&userID, &householdID, &hashedPassword)
	if err != nil {
		log.Printf(`{"level":"warn","message":"User not found","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(req.Password)); err != nil {
		log.Printf(`{"level":"warn","message":"Invalid password","email":"%s"}`, req.Email)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
		return
	}

	token, err := h.jwtManager.GenerateToken(
		c.Request.Context(),
		userID,
		req.Email,
		householdID,
		[]string{"user"},
		24*time.Hour,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, LoginResponse{
		Token:       token,
		UserID:      userID,
		HouseholdID: householdID,
	})
}

// RegisterDeviceRequest represents a device registration request
type RegisterDeviceRequest struct {
	DeviceID      string `json:"device_id" binding:"required"`
	WindowSeconds int    `json:"window_seconds"`
}

// RegisterDevice godoc
// @Summary Register ingestion device
// @Description Register a capture device for the caller's household
// @Tags devices
// @Accept json
// @Produce json
// @Param request body RegisterDeviceRequest true "Device details"
// @Success 201 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Security BearerAuth
// @Router /devices [post]
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req RegisterDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	householdID := c.GetString("household_id")
	if householdID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	window := time.Duration(req.WindowSeconds) * time.Second
	if err := h.store.RegisterDevice(c.Request.Context(), req.DeviceID, householdID, req.WindowSeconds); err != nil {
		log.Printf(`{"level":"error","message":"Device registration failed","device_id":"%s","error":"%v"}`, req.DeviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register device"})
		return
	}
	if err := h.gate.Register(c.Request.Context(), req.DeviceID, window); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register device"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"device_id": req.DeviceID, "household_id": householdID})
}

// DeregisterDevice godoc
// @Summary Deregister ingestion device
// @Tags devices
// @Produce json
// @Param device_id path string true "Device ID"
// @Success 204 "No Content"
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /devices/{device_id} [delete]
func (h *Handler) DeregisterDevice(c *gin.Context) {
	deviceID := c.Param("device_id")
	if err := h.store.DeregisterDevice(c.Request.Context(), deviceID); err != nil {
		if errors.Is(err, postgres.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to deregister device"})
		return
	}
	if err := h.gate.Deregister(c.Request.Context(), deviceID); err != nil {
		log.Printf(`{"level":"warn","message":"Gate deregistration failed","device_id":"%s","error":"%v"}`, deviceID, err)
	}
	c.Status(http.StatusNoContent)
}

// CaptureRequest represents one device capture submission
type CaptureRequest struct {
	ImageBase64 string     `json:"image_base64" binding:"required"`
	ReceivedAt  *time.Time `json:"received_at"`
}

// CaptureResponse reports the gate decision for a capture
type CaptureResponse struct {
	Accepted   bool   `json:"accepted"`
	Reason     string `json:"reason,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// IngestCapture godoc
// @Summary Ingest device capture
// @Description Submit a camera capture; rejected captures state whether the cause was debounce or an unknown device
// @Tags devices
// @Accept json
// @Produce json
// @Param device_id path string true "Device ID"
// @Param request body CaptureRequest true "Capture payload"
// @Success 202 {object} CaptureResponse
// @Failure 404 {object} CaptureResponse
// @Failure 429 {object} CaptureResponse
// @Router /devices/{device_id}/captures [post]
func (h *Handler) IngestCapture(c *gin.Context) {
	deviceID := c.Param("device_id")

	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil {
		receivedAt = req.ReceivedAt.UTC()
	}

	admitted, reason, err := h.gate.Admit(c.Request.Context(), deviceID, receivedAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Admission check failed"})
		return
	}
	h.collector.RecordAdmission(c.Request.Context(), deviceID, admitted, string(reason))
	if !admitted {
		status := http.StatusTooManyRequests
		if reason == debounce.ReasonUnknownDevice {
			status = http.StatusNotFound
		}
		c.JSON(status, CaptureResponse{Accepted: false, Reason: string(reason)})
		return
	}

	device, err := h.store.GetDevice(c.Request.Context(), deviceID)
	if err != nil {
		c.JSON(http.StatusNotFound, CaptureResponse{Accepted: false, Reason: string(debounce.ReasonUnknownDevice)})
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image payload"})
		return
	}

	workflowID := uuid.New()
	log.Printf(`{"level":"info","message":"Capture admitted","device_id":"%s","household_id":"%s","workflow_id":"%s"}`,
		deviceID, device.HouseholdID, workflowID)

	// The capture pipeline outlives the HTTP request.
	go func(ctx context.Context) {
		if err := h.orchestrator.ProcessCapture(ctx, device.HouseholdID, workflowID, image); err != nil {
			log.Printf(`{"level":"error","message":"Capture processing failed","workflow_id":"%s","error":"%v"}`, workflowID, err)
		}
	}(context.WithoutCancel(c.Request.Context()))

	c.JSON(http.StatusAccepted, CaptureResponse{Accepted: true, WorkflowID: workflowID.String()})
}

// GetInventory godoc
// @Summary Current household inventory
// @Tags households
// @Produce json
// @Success 200 {object} map[string]any
// @Security BearerAuth
// @Router /household/inventory [get]
func (h *Handler) GetInventory(c *gin.Context) {
	householdID := c.GetString("household_id")
	if householdID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	inventory := h.orchestrator.Fridge().Inventory(householdID)
	c.JSON(http.StatusOK, gin.H{
		"household_id": householdID,
		"item_count":   len(inventory),
		"inventory":    inventory,
	})
}

// GetNotifications godoc
// @Summary Recent household notifications
// @Tags households
// @Produce json
// @Param limit query int false "Maximum records"
// @Success 200 {object} map[string]any
// @Security BearerAuth
// @Router /household/notifications [get]
func (h *Handler) GetNotifications(c *gin.Context) {
	householdID := c.GetString("household_id")
	if householdID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}
	records, err := h.store.RecentNotifications(c.Request.Context(), householdID, limit)
	if err != nil {
		log.Printf(`{"level":"error","message":"Notification lookup failed","household_id":"%s","error":"%v"}`, householdID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load notifications"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": records})
}

// CheckCalendar godoc
// @Summary Run the calendar procurement check
// @Tags households
// @Produce json
// @Param days_ahead query int false "Lookahead window in days"
// @Success 202 {object} map[string]string
// @Security BearerAuth
// @Router /household/calendar-check [post]
func (h *Handler) CheckCalendar(c *gin.Context) {
	householdID := c.GetString("household_id")
	if householdID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}
	daysAhead := 7
	if raw := c.Query("days_ahead"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			daysAhead = n
		}
	}
	if err := h.orchestrator.CheckCalendarProcurement(c.Request.Context(), householdID, daysAhead); err != nil {
		log.Printf(`{"level":"error","message":"Calendar check failed","household_id":"%s","error":"%v"}`, householdID, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Calendar check failed"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "checked"})
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("not positive")
	}
	return n, nil
}
