package emotion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"empathy/internal/audio"
	"empathy/internal/domain"
	"empathy/internal/provider"
)

// Classifier scores pivot-language text.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, text string) (domain.EmotionEstimate, error)
}

// VoiceClassifier scores the prosody of an audio clip.
type VoiceClassifier interface {
	Name() string
	ClassifyAudio(ctx context.Context, clip []byte, contentType string) (domain.EmotionEstimate, error)
}

// Client calls a remote text emotion service.
type Client struct {
	baseURL string
	http    *http.Client
	remap   Remap
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
		remap:   TextModelRemap,
	}
}

func (c *Client) Name() string { return "remote" }

func (c *Client) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Both the map form and the list form are accepted.
type analyzeResponse struct {
	Scores          map[string]float64 `json:"scores"`
	Emotions        []labelScore       `json:"emotions"`
	DominantEmotion string             `json:"dominant_emotion"`
}

func (c *Client) Classify(ctx context.Context, text string) (domain.EmotionEstimate, error) {
	if !c.Enabled() {
		return domain.EmotionEstimate{}, errors.New("emotion service is not configured")
	}
	body, _ := json.Marshal(map[string]string{"text": strings.TrimSpace(text)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/emotion/analyze", bytes.NewReader(body))
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return domain.EmotionEstimate{}, provider.StatusError("emotion service", resp.StatusCode, respBody)
	}

	var out analyzeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.EmotionEstimate{}, provider.Malformed("emotion service", err)
	}
	raw := out.Scores
	if len(raw) == 0 {
		raw = make(map[string]float64, len(out.Emotions))
		for _, item := range out.Emotions {
			raw[item.Label] += item.Score
		}
	}
	if len(raw) == 0 {
		return domain.EmotionEstimate{}, provider.Malformed("emotion service", errors.New("no scores in response"))
	}
	return c.remap.Estimate(c.Name(), raw)
}

// VoiceClient calls a speech emotion service with the raw audio clip.
type VoiceClient struct {
	baseURL string
	http    *http.Client
}

func NewVoiceClient(baseURL string, timeout time.Duration) *VoiceClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &VoiceClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *VoiceClient) Name() string { return "voice" }

func (c *VoiceClient) Enabled() bool {
	return c != nil && c.baseURL != ""
}

type voiceResponse struct {
	Success    bool               `json:"success"`
	Emotion    string             `json:"emotion"`
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores"`
	Model      string             `json:"model"`
	Error      string             `json:"error"`
}

func (c *VoiceClient) ClassifyAudio(ctx context.Context, clip []byte, contentType string) (domain.EmotionEstimate, error) {
	if !c.Enabled() {
		return domain.EmotionEstimate{}, errors.New("voice emotion service is not configured")
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "audio"+audio.ExtFromContentType(contentType))
	if err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(clip); err != nil {
		return domain.EmotionEstimate{}, fmt.Errorf("writing audio: %w", err)
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/voice/classify", body)
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.EmotionEstimate{}, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 300 {
		return domain.EmotionEstimate{}, provider.StatusError("voice service", resp.StatusCode, respBody)
	}
	var out voiceResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return domain.EmotionEstimate{}, provider.Malformed("voice service", err)
	}
	if !out.Success {
		return domain.EmotionEstimate{}, provider.Malformed("voice service", fmt.Errorf("model error: %s", out.Error))
	}
	return VoiceModelRemap.Estimate(c.Name(), out.Scores)
}
