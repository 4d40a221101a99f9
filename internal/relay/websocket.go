package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/techscreen/internal/domain"
	"github.com/ashureev/techscreen/internal/interview"
	"github.com/coder/websocket"
)

const (
	maxInboundBytes = 64 << 10
	jobQueueSize    = 8
)

// TokenResolver maps a candidate token to its open session.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (*domain.Session, error)
}

// ChatService runs chat turns.
type ChatService interface {
	StartSession(ctx context.Context, sessionID string) (*interview.TurnResult, error)
	HandleTurn(ctx context.Context, sessionID, text string) (*interview.TurnResult, error)
}

// inboundMessage is what clients send.
type inboundMessage struct {
	Event domain.EventName `json:"event"`
	Token string           `json:"token"`
	Text  string           `json:"text,omitempty"`
}

// WebSocketHandler accepts realtime connections and dispatches inbound events.
type WebSocketHandler struct {
	hub            *Hub
	resolver       TokenResolver
	chat           ChatService
	originPatterns []string
	logger         *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler. originPatterns follows
// websocket.AcceptOptions; empty allows same-origin requests only.
func NewWebSocketHandler(hub *Hub, resolver TokenResolver, chat ChatService, originPatterns []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:            hub,
		resolver:       resolver,
		chat:           chat,
		originPatterns: originPatterns,
		logger:         logger,
	}
}

// connection is the per-socket state: the session it watches and its outbound queue.
type connection struct {
	out       *client
	sessionID string
}

type job struct {
	msg       inboundMessage
	sessionID string
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "connection closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()
	ws.SetReadLimit(maxInboundBytes)

	conn := &connection{out: newClient(ws, h.logger)}
	defer conn.out.close()
	defer func() {
		if conn.sessionID != "" {
			h.hub.Unregister(conn.sessionID, conn.out)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Turns from one connection run one at a time, in arrival order.
	jobs := make(chan job, jobQueueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for j := range jobs {
			h.dispatch(ctx, conn, j)
		}
	}()

	h.readLoop(ctx, ws, conn, jobs)
	close(jobs)
	<-done
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, conn *connection, jobs chan<- job) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				h.logger.Debug("WebSocket closed by client", "session_id", conn.sessionID)
			} else {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", conn.sessionID)
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.out.Send(errorEvent(conn.sessionID, "invalid_request", "malformed message"))
			continue
		}
		if msg.Event != domain.EventStartSession && msg.Event != domain.EventCandidateTurn {
			conn.out.Send(errorEvent(conn.sessionID, "invalid_request", "unknown event"))
			continue
		}

		// The token in each payload decides the session; a reconnect or a
		// new token simply re-subscribes.
		session, err := h.resolver.Resolve(ctx, msg.Token)
		if err != nil {
			code, text := classifyError(err)
			conn.out.Send(errorEvent(conn.sessionID, code, text))
			continue
		}
		h.watch(conn, session.ID)

		select {
		case jobs <- job{msg: msg, sessionID: session.ID}:
		default:
			conn.out.Send(errorEvent(session.ID, "busy", "too many pending messages"))
		}
	}
}

func (h *WebSocketHandler) watch(conn *connection, sessionID string) {
	if conn.sessionID == sessionID {
		return
	}
	if conn.sessionID != "" {
		h.hub.Unregister(conn.sessionID, conn.out)
	}
	conn.sessionID = sessionID
	h.hub.Register(sessionID, conn.out)
}

func (h *WebSocketHandler) dispatch(ctx context.Context, conn *connection, j job) {
	var (
		result *interview.TurnResult
		err    error
	)
	switch j.msg.Event {
	case domain.EventStartSession:
		result, err = h.chat.StartSession(ctx, j.sessionID)
	case domain.EventCandidateTurn:
		result, err = h.chat.HandleTurn(ctx, j.sessionID, j.msg.Text)
	}

	if err != nil {
		code, text := classifyError(err)
		h.logger.Warn("Realtime event failed",
			"session_id", j.sessionID,
			"event", string(j.msg.Event),
			"code", code,
			"error", err)
		conn.out.Send(errorEvent(j.sessionID, code, text))
		return
	}

	if result == nil || result.Completion == nil {
		return
	}
	outcome := result.Completion
	if outcome.FinalizeErr != nil {
		// The candidate saw session_completing; tell them the report is delayed.
		conn.out.Send(errorEvent(j.sessionID, "report_pending",
			"Your interview is complete. The report will be generated shortly."))
	}
	if outcome.RelayErr != nil {
		h.logger.Warn("Completion events not fully relayed",
			"session_id", j.sessionID,
			"finalized", outcome.Finalized,
			"error", outcome.RelayErr)
	}
}

func errorEvent(sessionID, code, message string) domain.Event {
	return domain.Event{
		Name:      domain.EventError,
		SessionID: sessionID,
		Data:      map[string]any{"code": code, "message": message},
	}
}

func classifyError(err error) (code, message string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", "session not found"
	case errors.Is(err, domain.ErrExpired):
		return "expired", "session access expired"
	case errors.Is(err, domain.ErrAlreadyCompleted):
		return "already_completed", "session already completed"
	case errors.Is(err, domain.ErrBudgetReached):
		return "budget_reached", "the interview is being finalized"
	case errors.Is(err, domain.ErrFinalizationInProgress):
		return "finalizing", "the report is already being generated"
	case errors.Is(err, interview.ErrEmptyMessage):
		return "invalid_request", "message is empty"
	case errors.Is(err, domain.ErrPersistenceConflict):
		return "conflict", "please retry"
	case errors.Is(err, domain.ErrAIServiceUnavailable):
		return "unavailable", "service temporarily unavailable"
	default:
		return "internal", "internal error"
	}
}
