package services

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krshsl/mockmate/models"
	ws "github.com/krshsl/mockmate/websocket"
)

const answerTimeout = 2 * time.Minute

// WebSocketHandler streams session events and accepts answers over a socket
type WebSocketHandler struct {
	interviewer *Interviewer
	hub         *ws.Hub
	upgrader    websocket.Upgrader
}

func NewWebSocketHandler(interviewer *Interviewer, hub *ws.Hub, allowedOrigins string) *WebSocketHandler {
	return &WebSocketHandler{
		interviewer: interviewer,
		hub:         hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, allowedOrigins)
			},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, errMissingSessionID())
		return
	}
	session, err := authorizeSession(r.Context(), h.interviewer, sessionID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err, "session_id", sessionID)
		return
	}

	userID := userIDFromContext(r.Context())
	client := h.hub.RegisterClient(conn, userID, session.ID)
	client.MessageHandler = h.handleMessage
	slog.Info("WebSocket connection established", "user_id", userID, "session_id", session.ID)

	go client.WritePump()
	go client.ReadPump()

	h.sendSnapshot(r.Context(), client, session)
}

// sendSnapshot tells a fresh client where the session stands and repeats the pending question
func (h *WebSocketHandler) sendSnapshot(ctx context.Context, client *ws.Client, session *models.InterviewSession) {
	payload := map[string]interface{}{
		"status":                 session.Status,
		"current_question_index": session.CurrentQuestionIndex,
		"total_questions":        session.TotalQuestions,
		"awaiting_question":      session.AwaitingQuestion,
	}
	if session.Status == models.StatusInProgress && !session.AwaitingQuestion {
		messages, err := h.interviewer.GetMessages(ctx, session.ID)
		if err == nil {
			for idx := len(messages) - 1; idx >= 0; idx-- {
				if messages[idx].Role == models.RoleAI {
					payload["question"] = messages[idx].Content
					break
				}
			}
		}
	}
	client.Reply("connected", payload)
}

func (h *WebSocketHandler) handleMessage(client *ws.Client, msg ws.Message) {
	switch msg.Type {
	case "answer":
		ctx, cancel := context.WithTimeout(context.Background(), answerTimeout)
		defer cancel()

		result, err := h.interviewer.SubmitAnswer(ctx, client.SessionID, msg.Content)
		if err != nil {
			slog.Warn("WebSocket answer rejected", "session_id", client.SessionID, "error", err)
			client.Reply("error", map[string]interface{}{
				"code":    ErrorCodeOf(err),
				"message": err.Error(),
			})
			return
		}
		// Question and completion events reach every client through the hub
		client.Reply("answer_accepted", result)
	case "ping":
		client.Reply("pong", nil)
	default:
		slog.Warn("Unknown message type", "type", msg.Type, "session_id", client.SessionID)
		client.Reply("error", map[string]interface{}{
			"code":    CodeInvalidRequest,
			"message": "unknown message type: " + msg.Type,
		})
	}
}
