package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
	"github.com/domuslabs/smart-home/assistant-core/internal/state"
)

var wsTracer = otel.Tracer("session-gateway")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: Implement proper origin checking for production
		return true
	},
}

const (
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second

	// CodeProtocol marks a malformed or unrecognized client message.
	CodeProtocol = "PROTOCOL_ERROR"
	// CodeStateRejected marks a state transition absent from the table.
	CodeStateRejected = "STATE_REJECTED"
)

// clientMessage is what a connected client may send upstream.
type clientMessage struct {
	Type           string    `json:"type"`
	Content        string    `json:"content,omitempty"`
	ApprovalID     uuid.UUID `json:"approval_id,omitempty"`
	Approved       bool      `json:"approved,omitempty"`
	UserMessage    string    `json:"user_message,omitempty"`
	RequestedState string    `json:"requested_state,omitempty"`
}

// Session handles WebSocket /api/ws/session
// @Summary Open the realtime event stream for a session
// @Description One live connection per session; events are serialized envelopes, client messages are injected into the bus
// @Tags session
// @Param session_id query string false "Session ID (new one generated when absent)"
// @Param types query string false "Comma-separated event type filter"
// @Param Authorization header string true "Bearer token"
// @Success 101 "Switching Protocols"
// @Failure 401 {object} map[string]string
// @Security BearerAuth
// @Router /ws/session [get]
func (h *Handler) Session(c *gin.Context) {
	ctx, span := wsTracer.Start(c.Request.Context(), "gateway.session")
	defer span.End()

	householdID := c.GetString("household_id")
	if householdID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	var filter []events.Type
	if raw := c.Query("types"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			filter = append(filter, events.Type(strings.TrimSpace(part)))
		}
	}

	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("household.id", householdID),
	)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf(`{"level":"error","message":"WebSocket upgrade failed","session_id":"%s","error":"%v"}`, sessionID, err)
		return
	}
	defer conn.Close()

	machine := state.NewMachine(sessionID)
	machine.Transition(state.ConnectedIdle)

	sub := h.bus.Subscribe(sessionID, filter...)
	h.orchestrator.AttachSession(householdID, sessionID)
	h.collector.SessionOpened(ctx)
	log.Printf(`{"level":"info","message":"Session connected","session_id":"%s","household_id":"%s"}`, sessionID, householdID)

	defer func() {
		// Immediate unsubscribe: no orphaned queues for disconnected
		// sessions, reconnection is the client's responsibility.
		h.bus.Unsubscribe(sub)
		h.orchestrator.DetachSession(householdID, sessionID)
		h.collector.SessionClosed(context.WithoutCancel(ctx))
		machine.Disconnect()
		log.Printf(`{"level":"info","message":"Session disconnected","session_id":"%s"}`, sessionID)
	}()

	if _, err := h.bus.Publish(ctx, sessionID, events.New(events.TypeCapabilitiesUpdated, nil, events.CapabilitiesPayload{
		CameraConnected:   true,
		CalendarConnected: true,
		OrderingConnected: true,
	})); err != nil {
		log.Printf(`{"level":"warn","message":"Capabilities publish failed","session_id":"%s","error":"%v"}`, sessionID, err)
	}

	writeDone := make(chan struct{})
	go h.writeLoop(ctx, conn, sub.C(), sessionID, writeDone)

	h.readLoop(ctx, conn, sessionID, householdID, machine)
	<-writeDone
}

// writeLoop serializes bus deliveries to the client verbatim and keeps the
// connection alive with heartbeats. It exits when the subscription closes.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, deliveries <-chan events.Event, sessionID string, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-deliveries:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(event); err != nil {
				log.Printf(`{"level":"warn","message":"Session write failed","session_id":"%s","error":"%v"}`, sessionID, err)
				return
			}
		case <-ticker.C:
			if _, err := h.bus.Publish(ctx, sessionID, events.NewHeartbeat()); err != nil {
				log.Printf(`{"level":"warn","message":"Heartbeat publish failed","session_id":"%s","error":"%v"}`, sessionID, err)
			}
		}
	}
}

// readLoop consumes client messages until the connection drops.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, sessionID, householdID string, machine *state.Machine) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf(`{"level":"warn","message":"Session read error","session_id":"%s","error":"%v"}`, sessionID, err)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.publishProtocolError(ctx, sessionID, "malformed message")
			continue
		}
		h.handleClientMessage(ctx, sessionID, householdID, machine, msg)
	}
}

func (h *Handler) handleClientMessage(ctx context.Context, sessionID, householdID string, machine *state.Machine, msg clientMessage) {
	switch msg.Type {
	case "chat":
		if _, err := h.bus.Publish(ctx, sessionID, events.NewChatMessage(msg.Content, "user", nil)); err != nil {
			log.Printf(`{"level":"warn","message":"Chat publish failed","session_id":"%s","error":"%v"}`, sessionID, err)
			return
		}
		h.orchestrator.HandleChat(ctx, sessionID, householdID, msg.Content)

	case "approval_result":
		result := events.ApprovalResultPayload{
			ApprovalID:  msg.ApprovalID,
			Approved:    msg.Approved,
			UserMessage: msg.UserMessage,
		}
		if _, err := h.bus.Publish(ctx, sessionID, events.New(events.TypeApprovalResult, nil, result)); err != nil {
			log.Printf(`{"level":"warn","message":"Approval publish failed","session_id":"%s","error":"%v"}`, sessionID, err)
		}
		h.orchestrator.HandleApprovalResult(ctx, householdID, result)

	case "state_transition":
		requested := state.AppState(msg.RequestedState)
		newState, accepted := machine.Transition(requested)
		if !accepted {
			h.publishError(ctx, sessionID, CodeStateRejected, "invalid state transition to "+msg.RequestedState)
			return
		}
		if _, err := h.bus.Publish(ctx, sessionID, events.New(events.TypeUIScreen, nil, events.UIScreenPayload{
			Screen: string(newState),
		})); err != nil {
			log.Printf(`{"level":"warn","message":"Screen publish failed","session_id":"%s","error":"%v"}`, sessionID, err)
		}

	default:
		h.publishProtocolError(ctx, sessionID, "unknown message type "+msg.Type)
	}
}

func (h *Handler) publishProtocolError(ctx context.Context, sessionID, detail string) {
	h.publishError(ctx, sessionID, CodeProtocol, detail)
}

func (h *Handler) publishError(ctx context.Context, sessionID, code, message string) {
	if _, err := h.bus.Publish(ctx, sessionID, events.NewError(code, message, true, nil)); err != nil {
		log.Printf(`{"level":"warn","message":"Error publish failed","session_id":"%s","error":"%v"}`, sessionID, err)
	}
}
