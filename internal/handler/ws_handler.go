package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/middleware"
	"github.com/stemsi/exstem-exam-engine/internal/model"
	"github.com/stemsi/exstem-exam-engine/internal/response"
	"github.com/stemsi/exstem-exam-engine/internal/service"
	"github.com/stemsi/exstem-exam-engine/internal/validator"
	ws "github.com/stemsi/exstem-exam-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams one attempt over a WebSocket. Every action goes through
// the same attempt operations as the HTTP routes.
type WSHandler struct {
	attempts AttemptOperations
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts AttemptOperations, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts: attempts,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
// Upgrades to WebSocket for answering, flagging, proctoring and submission.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	attemptID, ok := uuidParam(c, "attempt_id")
	if !ok {
		return
	}
	userID := middleware.GetActor(c).UserID

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().
		Int("user_id", userID).
		Str("attempt_id", attemptID.String()).
		Logger()
	wsLog.Info().Msg("Student connected")

	ctx := c.Request.Context()
	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var done bool
		switch msg.Action {
		case ws.ActionAnswer:
			done = h.handleAnswer(ctx, conn, attemptID, userID, &msg)
		case ws.ActionFlag:
			done = h.handleFlag(ctx, conn, attemptID, userID, &msg)
		case ws.ActionViolation:
			done = h.handleViolation(ctx, conn, attemptID, userID, &msg)
		case ws.ActionSubmit:
			done = h.handleSubmit(ctx, conn, wsLog, attemptID, userID)
		case ws.ActionPing:
			ws.WriteJSON(conn, ws.EventPong, nil)
		default:
			wsLog.Warn().Str("action", string(msg.Action)).Msg("Unknown action")
			ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(msg.Action))
		}
		if done {
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (h *WSHandler) handleAnswer(ctx context.Context, conn *websocket.Conn, attemptID uuid.UUID, userID int, msg *ws.RequestPayload) bool {
	questionID, err := uuid.Parse(msg.QuestionID)
	if err != nil {
		ws.WriteError(conn, string(response.ErrInvalidID), "invalid question_id")
		return false
	}

	slot, err := h.attempts.RecordAnswer(ctx, attemptID, userID, service.AnswerInput{
		QuestionID:     questionID,
		SelectedOption: msg.SelectedOption,
		TextAnswer:     msg.TextAnswer,
		TimeSpent:      msg.TimeSpent,
	})
	if err != nil {
		return h.writeServiceError(conn, attemptID, err)
	}
	ws.WriteJSON(conn, ws.EventSaved, gin.H{"answer": slot})
	return false
}

func (h *WSHandler) handleFlag(ctx context.Context, conn *websocket.Conn, attemptID uuid.UUID, userID int, msg *ws.RequestPayload) bool {
	if msg.Index == nil {
		ws.WriteError(conn, string(response.ErrInvalidPayload), "index is required")
		return false
	}

	slot, err := h.attempts.ToggleFlag(ctx, attemptID, userID, *msg.Index)
	if err != nil {
		return h.writeServiceError(conn, attemptID, err)
	}
	ws.WriteJSON(conn, ws.EventFlagged, gin.H{"answer": slot})
	return false
}

func (h *WSHandler) handleViolation(ctx context.Context, conn *websocket.Conn, attemptID uuid.UUID, userID int, msg *ws.RequestPayload) bool {
	req := model.ReportViolationRequest{Type: msg.Type, Severity: msg.Severity}
	if fields := validator.Validate(&req); fields != nil {
		ws.WriteError(conn, string(response.ErrValidation), "invalid violation report")
		return false
	}

	res, err := h.attempts.RecordViolation(ctx, attemptID, userID, service.ViolationInput{
		Type:     req.Type,
		Severity: req.Severity,
	})
	if err != nil {
		return h.writeServiceError(conn, attemptID, err)
	}
	ws.WriteJSON(conn, ws.EventViolationRecorded, res)
	return res.Status != model.AttemptStatusInProgress
}

func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, attemptID uuid.UUID, userID int) bool {
	res, err := h.attempts.Submit(ctx, attemptID, userID)
	if err != nil {
		return h.writeServiceError(conn, attemptID, err)
	}

	wsLog.Info().
		Int("percentage", res.Score.Percentage).
		Str("method", string(res.Method)).
		Msg("Attempt submitted over stream")

	event := ws.EventGraded
	if res.Method == model.SubmissionTimeout {
		event = ws.EventExpired
	}
	ws.WriteJSON(conn, event, res)
	return true
}

// writeServiceError reports a failed action and tells the caller whether the
// stream should close. An attempt that ran out of time or is no longer open
// accepts no further actions.
func (h *WSHandler) writeServiceError(conn *websocket.Conn, attemptID uuid.UUID, err error) bool {
	if errors.Is(err, service.ErrTimeExpired) {
		ws.WriteJSON(conn, ws.EventExpired, gin.H{
			"attempt_id": attemptID,
			"message":    service.TimeExpiredMessage,
		})
		return true
	}

	_, code := classify(err)
	ws.WriteError(conn, string(code), response.GetMessage(code))
	return errors.Is(err, service.ErrAttemptNotActive) ||
		errors.Is(err, service.ErrNotAttemptOwner) ||
		errors.Is(err, service.ErrAttemptNotFound)
}
