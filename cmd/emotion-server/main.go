package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"

	"empathy/internal/domain"
	"empathy/internal/emotion"
)

type serverConfig struct {
	HTTPAddr        string
	ReadBodyMaxByte int64
}

type analyzeRequest struct {
	Text string `json:"text"`
}

type emotionResponse struct {
	Emotion         domain.Emotion             `json:"emotion"`
	DominantEmotion domain.Emotion             `json:"dominant_emotion"`
	Confidence      float64                    `json:"confidence"`
	Scores          map[domain.Emotion]float64 `json:"scores"`
	LatencyMS       float64                    `json:"latency_ms"`
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := loadConfig()

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           newRouter(emotion.NewAnalyzer(), cfg.ReadBodyMaxByte),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Info("emotion server started", "addr", cfg.HTTPAddr, "labels", len(domain.CanonicalEmotions))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("received shutdown signal")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
}

// newRouter serves the local lexical classifier in the wire format the
// remote classifier client reads, so it can stand in for a model service.
func newRouter(analyzer *emotion.Analyzer, maxBytes int64) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"ok":     true,
			"engine": analyzer.Name(),
			"labels": domain.CanonicalEmotions,
		})
	})
	r.Get("/v1/emotion/labels", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"labels": domain.CanonicalEmotions})
	})
	r.Post("/v1/emotion/analyze", func(w http.ResponseWriter, req *http.Request) {
		var in analyzeRequest
		if err := decodeJSONBody(req, maxBytes, &in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		in.Text = strings.TrimSpace(in.Text)
		if in.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "text is required"})
			return
		}

		start := time.Now()
		out := analyzer.Analyze(in.Text)
		writeJSON(w, http.StatusOK, emotionResponse{
			Emotion:         out.Label,
			DominantEmotion: out.Label,
			Confidence:      out.Confidence,
			Scores:          out.Scores,
			LatencyMS:       roundMillis(time.Since(start)),
		})
	})
	return r
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

// loadConfig reads EMOTION_HTTP_ADDR and EMOTION_MAX_BODY_BYTES.
func loadConfig() serverConfig {
	v := viper.New()
	v.SetDefault("http_addr", ":9012")
	v.SetDefault("max_body_bytes", 65536)
	v.SetEnvPrefix("EMOTION")
	v.AutomaticEnv()
	return serverConfig{
		HTTPAddr:        v.GetString("http_addr"),
		ReadBodyMaxByte: v.GetInt64("max_body_bytes"),
	}
}

func roundMillis(d time.Duration) float64 {
	ms := float64(d.Microseconds()) / 1000.0
	return math.Round(ms*1000) / 1000
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
