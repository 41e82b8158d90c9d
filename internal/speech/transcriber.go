// Package speech turns user audio into text through a single remote
// transcription provider. There is no fallback: a failure ends the turn.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"empathy/internal/audio"
	"empathy/internal/domain"
	"empathy/internal/language"
	"empathy/internal/provider"
)

type Transcript struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Provider   string  `json:"provider"`
}

type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, clip []byte, contentType string) (Transcript, error)
}

// Whisper calls an OpenAI-compatible /audio/transcriptions endpoint, which
// covers both the hosted API and self-hosted faster-whisper servers.
type Whisper struct {
	client  *http.Client
	baseURL string
	apiKey  string
	model   string
}

func NewWhisper(client *http.Client, baseURL, apiKey, model string) *Whisper {
	if model == "" {
		model = "whisper-1"
	}
	return &Whisper{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, model: model}
}

func (w *Whisper) Name() string { return "whisper" }

func (w *Whisper) Transcribe(ctx context.Context, clip []byte, contentType string) (Transcript, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audio"+audio.ExtFromContentType(contentType))
	if err != nil {
		return Transcript{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(clip)); err != nil {
		return Transcript{}, fmt.Errorf("writing audio: %w", err)
	}
	_ = writer.WriteField("model", w.model)
	_ = writer.WriteField("response_format", "verbose_json")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return Transcript{}, fmt.Errorf("creating request: %w", err)
	}
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return Transcript{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Transcript{}, provider.StatusError(w.Name(), resp.StatusCode, respBody)
	}

	var result struct {
		Text     string    `json:"text"`
		Language string    `json:"language"`
		Segments []segment `json:"segments"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Transcript{}, provider.Malformed(w.Name(), fmt.Errorf("decoding transcription: %w", err))
	}

	// Hosted models return full names ("english"), self-hosted ones ISO codes.
	lang, ok := language.FromDialect(result.Language, language.DialectName)
	if !ok {
		lang, _ = language.Canonical(result.Language)
	}
	return Transcript{
		Text:       strings.TrimSpace(result.Text),
		Language:   lang,
		Confidence: segmentConfidence(result.Segments),
		Provider:   w.Name(),
	}, nil
}

type segment struct {
	NoSpeechProb float64 `json:"no_speech_prob"`
}

// segmentConfidence averages 1 - no_speech_prob across segments. Responses
// without segments are treated as confident.
func segmentConfidence(segments []segment) float64 {
	if len(segments) == 0 {
		return 0.9
	}
	total := 0.0
	for _, s := range segments {
		total += 1 - s.NoSpeechProb
	}
	return total / float64(len(segments))
}

// FrontEnd bounds the transcriber with a timeout and maps every failure to
// ErrTranscriptionFailed.
type FrontEnd struct {
	transcriber Transcriber
	timeout     time.Duration
	health      *provider.Registry
	logger      *slog.Logger
}

func NewFrontEnd(t Transcriber, timeout time.Duration, health *provider.Registry, logger *slog.Logger) *FrontEnd {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if t != nil {
		health.Register("transcription", t.Name())
	}
	return &FrontEnd{transcriber: t, timeout: timeout, health: health, logger: logger}
}

func (f *FrontEnd) Transcribe(ctx context.Context, clip []byte, contentType string) (Transcript, domain.ProviderAttempt, error) {
	if f.transcriber == nil {
		return Transcript{}, domain.ProviderAttempt{}, fmt.Errorf("no transcriber configured: %w", domain.ErrTranscriptionFailed)
	}
	steps := []provider.Step[Transcript]{{
		Name: f.transcriber.Name(),
		Call: func(ctx context.Context) (Transcript, error) {
			tr, err := f.transcriber.Transcribe(ctx, clip, contentType)
			if err != nil {
				return Transcript{}, err
			}
			if tr.Text == "" {
				return Transcript{}, provider.Malformed(f.transcriber.Name(), errors.New("empty transcript"))
			}
			return tr, nil
		},
	}}
	out, err := provider.Run(ctx, provider.Runner{
		Capability: "transcription",
		Timeout:    f.timeout,
		Health:     f.health,
		Logger:     f.logger,
	}, steps)

	var attempt domain.ProviderAttempt
	if len(out.Attempts) > 0 {
		attempt = out.Attempts[0]
	}
	if err != nil {
		return Transcript{}, attempt, fmt.Errorf("%w: %w", domain.ErrTranscriptionFailed, err)
	}
	return out.Value, attempt, nil
}
