package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"empathy/internal/domain"
	"empathy/internal/orchestrator"
)

// wsCommand is a text frame sent by the client. A binary frame carries a
// voice clip for the connection's session instead.
type wsCommand struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id,omitempty"`
	Text         string `json:"text,omitempty"`
	LanguageHint string `json:"language_hint,omitempty"`
	Speak        bool   `json:"speak,omitempty"`
}

type wsEvent struct {
	Type        string             `json:"type"`
	SessionID   string             `json:"session_id,omitempty"`
	Message     string             `json:"message,omitempty"`
	Stage       string             `json:"stage,omitempty"`
	UserMessage string             `json:"user_message,omitempty"`
	Result      *domain.TurnResult `json:"result,omitempty"`
	LatencyMS   float64            `json:"latency_ms,omitempty"`
}

// turnSocket serves GET /v1/ws?session_id=...&content_type=audio/wav&speak=true.
// Turns on one connection run one after another.
func (h *Handler) turnSocket(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	sessionID := strings.TrimSpace(q.Get("session_id"))
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id is required"})
		return
	}
	contentType := q.Get("content_type")
	speak, _ := strconv.ParseBool(q.Get("speak"))

	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(h.cfg.MaxBodyBytes)

	if err := ws.WriteJSON(wsEvent{Type: "ready", SessionID: sessionID}); err != nil {
		return
	}

	for {
		msgType, payload, err := ws.ReadMessage()
		if err != nil {
			h.logger.Info("turn websocket closed", "session_id", sessionID)
			return
		}

		var turn domain.TurnRequest
		switch msgType {
		case websocket.BinaryMessage:
			turn = domain.TurnRequest{SessionID: sessionID, Audio: payload, ContentType: contentType, Speak: true}
		case websocket.TextMessage:
			var cmd wsCommand
			if err := json.Unmarshal(payload, &cmd); err != nil {
				_ = ws.WriteJSON(wsEvent{Type: "error", Message: "invalid json"})
				continue
			}
			switch strings.ToLower(strings.TrimSpace(cmd.Type)) {
			case "ping":
				_ = ws.WriteJSON(wsEvent{Type: "pong"})
				continue
			case "", "turn":
			default:
				_ = ws.WriteJSON(wsEvent{Type: "error", Message: "unknown command " + cmd.Type})
				continue
			}
			turn = domain.TurnRequest{
				SessionID:    sessionID,
				Text:         cmd.Text,
				LanguageHint: cmd.LanguageHint,
				Speak:        cmd.Speak || speak,
			}
			if cmd.SessionID != "" {
				turn.SessionID = cmd.SessionID
			}
		default:
			continue
		}

		if err := h.serveSocketTurn(ws, req, turn); err != nil {
			return
		}
	}
}

func (h *Handler) serveSocketTurn(ws *websocket.Conn, req *http.Request, turn domain.TurnRequest) error {
	if err := ws.WriteJSON(wsEvent{Type: "status", SessionID: turn.SessionID, Message: "processing"}); err != nil {
		return err
	}

	start := time.Now()
	res, err := h.turns.ProcessTurn(req.Context(), turn)
	if err != nil {
		ev := wsEvent{Type: "error", SessionID: turn.SessionID, Message: err.Error()}
		var te *orchestrator.TurnError
		if errors.As(err, &te) {
			ev.Stage = string(te.Stage)
			ev.UserMessage = te.UserMessage
		}
		h.logger.Warn("websocket turn failed", "session_id", turn.SessionID, "error", err)
		return ws.WriteJSON(ev)
	}
	return ws.WriteJSON(wsEvent{Type: "result", SessionID: turn.SessionID, Result: &res, LatencyMS: roundMillis(time.Since(start))})
}
