// Package api exposes the turn pipeline over HTTP and WebSocket.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"empathy/internal/domain"
	"empathy/internal/language"
	"empathy/internal/memory"
	"empathy/internal/orchestrator"
	"empathy/internal/provider"
)

type TurnService interface {
	ProcessTurn(ctx context.Context, req domain.TurnRequest) (domain.TurnResult, error)
	Session(ctx context.Context, sessionID string) ([]domain.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type ProviderLister interface {
	List() []provider.State
}

type VoiceLister interface {
	VoiceTables() map[string]map[string]string
}

type Probe interface {
	Healthz(w http.ResponseWriter, r *http.Request)
	Readyz(w http.ResponseWriter, r *http.Request)
}

type Config struct {
	MaxBodyBytes int64
}

type Handler struct {
	cfg       Config
	turns     TurnService
	providers ProviderLister
	voices    VoiceLister
	probe     Probe
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// New builds the handler. providers, voices and probe may be nil.
func New(cfg Config, turns TurnService, providers ProviderLister, voices VoiceLister, probe Probe, logger *slog.Logger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 36 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:       cfg,
		turns:     turns,
		providers: providers,
		voices:    voices,
		probe:     probe,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.probe != nil {
		r.Get("/healthz", h.probe.Healthz)
		r.Get("/readyz", h.probe.Readyz)
	} else {
		r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		})
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/turns", h.postTurn)
		r.Get("/sessions/{id}", h.getSession)
		r.Delete("/sessions/{id}", h.deleteSession)
		r.Get("/providers", h.listProviders)
		r.Get("/voices", h.listVoices)
		r.Get("/languages", h.listLanguages)
		r.Get("/ws", h.turnSocket)
	})
	return r
}

func (h *Handler) postTurn(w http.ResponseWriter, req *http.Request) {
	var (
		in  domain.TurnRequest
		err error
	)
	if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
		in, err = h.decodeMultipartTurn(req)
	} else {
		err = decodeJSONBody(req, h.cfg.MaxBodyBytes, &in)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(in.SessionID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "session_id is required"})
		return
	}

	res, err := h.turns.ProcessTurn(req.Context(), in)
	if err != nil {
		status, body := errorBody(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("turn failed", "session_id", in.SessionID, "error", err)
		}
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// decodeMultipartTurn reads session_id, text, language_hint, speak and an
// optional "audio" file part.
func (h *Handler) decodeMultipartTurn(req *http.Request) (domain.TurnRequest, error) {
	req.Body = http.MaxBytesReader(nil, req.Body, h.cfg.MaxBodyBytes)
	if err := req.ParseMultipartForm(8 << 20); err != nil {
		return domain.TurnRequest{}, fmt.Errorf("invalid multipart body: %w", err)
	}
	in := domain.TurnRequest{
		SessionID:    req.FormValue("session_id"),
		Text:         req.FormValue("text"),
		LanguageHint: req.FormValue("language_hint"),
	}
	if v := req.FormValue("speak"); v != "" {
		speak, err := strconv.ParseBool(v)
		if err != nil {
			return domain.TurnRequest{}, fmt.Errorf("speak must be a boolean")
		}
		in.Speak = speak
	}

	file, header, err := req.FormFile("audio")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		return in, nil
	case err != nil:
		return domain.TurnRequest{}, fmt.Errorf("read audio: %w", err)
	}
	defer file.Close()
	in.Audio, err = io.ReadAll(file)
	if err != nil {
		return domain.TurnRequest{}, fmt.Errorf("read audio: %w", err)
	}
	in.ContentType = header.Header.Get("Content-Type")
	if ct := req.FormValue("content_type"); ct != "" {
		in.ContentType = ct
	}
	return in, nil
}

func (h *Handler) getSession(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	turns, err := h.turns.Session(req.Context(), id)
	if err != nil {
		if errors.Is(err, memory.ErrEmptySessionID) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": turns})
}

func (h *Handler) deleteSession(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	if err := h.turns.DeleteSession(req.Context(), id); err != nil {
		h.logger.Error("delete session failed", "session_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listProviders(w http.ResponseWriter, _ *http.Request) {
	states := []provider.State{}
	if h.providers != nil {
		states = h.providers.List()
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": states})
}

func (h *Handler) listVoices(w http.ResponseWriter, _ *http.Request) {
	tables := map[string]map[string]string{}
	if h.voices != nil {
		tables = h.voices.VoiceTables()
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": tables})
}

func (h *Handler) listLanguages(w http.ResponseWriter, _ *http.Request) {
	type lang struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	codes := language.Supported()
	out := make([]lang, 0, len(codes))
	for _, code := range codes {
		out = append(out, lang{Code: code, Name: language.DisplayName(code)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"languages": out})
}

// errorBody maps a turn failure to a status code and a JSON body that
// carries the user-facing message.
func errorBody(err error) (int, map[string]any) {
	var te *orchestrator.TurnError
	if !errors.As(err, &te) {
		return http.StatusInternalServerError, map[string]any{"error": err.Error()}
	}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrTranscriptionFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrGenerationFailed):
		status = http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	return status, map[string]any{
		"error":        te.Err.Error(),
		"stage":        te.Stage,
		"user_message": te.UserMessage,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSONBody(req *http.Request, maxBytes int64, out any) error {
	defer req.Body.Close()
	data, err := io.ReadAll(io.LimitReader(req.Body, maxBytes+1))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return fmt.Errorf("request body too large")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid json: multiple JSON values")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func roundMillis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
