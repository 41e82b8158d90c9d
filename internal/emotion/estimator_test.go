package emotion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"empathy/internal/domain"
)

type fakeClassifier struct {
	name  string
	est   domain.EmotionEstimate
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeClassifier) Name() string { return f.name }

func (f *fakeClassifier) Classify(ctx context.Context, _ string) (domain.EmotionEstimate, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.EmotionEstimate{}, ctx.Err()
		}
	}
	return f.est, f.err
}

type fakeVoice struct {
	est domain.EmotionEstimate
	err error
}

func (f *fakeVoice) Name() string { return "voice" }

func (f *fakeVoice) ClassifyAudio(context.Context, []byte, string) (domain.EmotionEstimate, error) {
	return f.est, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEstimatorRunsClassifiersConcurrently(t *testing.T) {
	remoteEst, _ := TextModelRemap.Estimate("remote", map[string]float64{"joy": 0.9, "neutral": 0.1})
	remote := &fakeClassifier{name: "remote", est: remoteEst, delay: 80 * time.Millisecond}
	local := &fakeClassifier{name: "local", est: NewAnalyzer().Analyze("I am very happy today"), delay: 80 * time.Millisecond}
	e := NewEstimator(EstimatorConfig{Timeout: time.Second}, local, remote, nil, discardLogger())

	start := time.Now()
	got, err := e.Estimate(context.Background(), "I am very happy today", nil, "")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("classifiers ran sequentially: %v", elapsed)
	}
	if got.Fused.Label != domain.EmotionHappy || got.Fused.Confidence <= 0.5 {
		t.Fatalf("fused=%+v", got.Fused)
	}
	if got.Condition != nil {
		t.Fatalf("condition=%v", got.Condition)
	}
}

func TestEstimatorRemoteFailureUsesLocalAlone(t *testing.T) {
	remote := &fakeClassifier{name: "remote", err: errors.New("503")}
	local := &fakeClassifier{name: "local", est: NewAnalyzer().Analyze("I feel so sad")}
	e := NewEstimator(EstimatorConfig{}, local, remote, nil, discardLogger())

	got, err := e.Estimate(context.Background(), "I feel so sad", nil, "")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got.RemoteErr == nil || got.Remote != nil {
		t.Fatalf("remote error not recorded: %+v", got)
	}
	if len(got.Fused.Contributors) != 1 || got.Fused.Contributors[0].Provenance != "local" || got.Fused.Contributors[0].Weight != 1 {
		t.Fatalf("contributors=%+v", got.Fused.Contributors)
	}
}

func TestEstimatorBothFailContinuesNeutral(t *testing.T) {
	remote := &fakeClassifier{name: "remote", err: errors.New("down")}
	local := &fakeClassifier{name: "local", err: errors.New("model missing")}
	e := NewEstimator(EstimatorConfig{}, local, remote, nil, discardLogger())

	got, err := e.Estimate(context.Background(), "anything", nil, "")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !errors.Is(got.Condition, domain.ErrModelUnavailable) {
		t.Fatalf("condition=%v", got.Condition)
	}
	if got.Fused.Label != domain.EmotionNeutral || got.Fused.Confidence != 0.2 {
		t.Fatalf("fused=%+v", got.Fused)
	}
}

func TestEstimatorBothFailIgnoresVoice(t *testing.T) {
	remote := &fakeClassifier{name: "remote", err: errors.New("down")}
	local := &fakeClassifier{name: "local", err: errors.New("model missing")}
	voiceEst, err := VoiceModelRemap.Estimate("voice", map[string]float64{"angry": 0.95, "neutral": 0.05})
	if err != nil {
		t.Fatalf("voice estimate: %v", err)
	}
	e := NewEstimator(EstimatorConfig{}, local, remote, &fakeVoice{est: voiceEst}, discardLogger())

	got, err := e.Estimate(context.Background(), "anything", []byte("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !errors.Is(got.Condition, domain.ErrModelUnavailable) {
		t.Fatalf("condition=%v", got.Condition)
	}
	if got.Fused.Label != domain.EmotionNeutral || got.Fused.Confidence != 0.2 || !got.Fused.Degraded {
		t.Fatalf("voice lifted the floor: fused=%+v", got.Fused)
	}
	if got.Voice == nil || got.VoiceProvider() != "" {
		t.Fatalf("voice should be recorded but not reported as used: voice=%+v provider=%q", got.Voice, got.VoiceProvider())
	}
}

func TestEstimatorVoiceFailureKeepsText(t *testing.T) {
	local := &fakeClassifier{name: "local", est: NewAnalyzer().Analyze("I am very happy today")}
	voice := &fakeVoice{err: errors.New("model crashed")}
	e := NewEstimator(EstimatorConfig{}, local, nil, voice, discardLogger())

	got, err := e.Estimate(context.Background(), "I am very happy today", []byte("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got.VoiceErr == nil || got.Voice != nil {
		t.Fatalf("voice error not recorded: %+v", got)
	}
	if got.Fused.Confidence != got.Text.Confidence || got.Fused.Label != domain.EmotionHappy {
		t.Fatalf("fused=%+v text=%+v", got.Fused, got.Text)
	}
}

func TestEstimatorTimeoutCountsAsFailure(t *testing.T) {
	remote := &fakeClassifier{name: "remote", delay: time.Second}
	local := &fakeClassifier{name: "local", est: NewAnalyzer().Analyze("I am happy")}
	e := NewEstimator(EstimatorConfig{Timeout: 30 * time.Millisecond}, local, remote, nil, discardLogger())

	got, err := e.Estimate(context.Background(), "I am happy", nil, "")
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !errors.Is(got.RemoteErr, context.DeadlineExceeded) {
		t.Fatalf("remote err=%v", got.RemoteErr)
	}
}

func TestClientParsesBothResponseShapes(t *testing.T) {
	tests := []struct {
		name string
		body any
		want domain.Emotion
	}{
		{"map", map[string]any{"scores": map[string]float64{"sadness": 0.8, "joy": 0.2}}, domain.EmotionSad},
		{"list", map[string]any{"emotions": []map[string]any{{"label": "anger", "score": 0.6}, {"label": "fear", "score": 0.4}}, "dominant_emotion": "anger"}, domain.EmotionAngry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/emotion/analyze" {
					t.Errorf("path=%s", r.URL.Path)
				}
				_ = json.NewEncoder(w).Encode(tt.body)
			}))
			defer srv.Close()

			got, err := NewClient(srv.URL, time.Second).Classify(context.Background(), "text")
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if got.Label != tt.want || got.Provenance != "remote" {
				t.Fatalf("estimate=%+v", got)
			}
		})
	}
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Classify(context.Background(), "text"); err == nil {
		t.Fatal("expected error")
	}
}

func TestVoiceClientRemapsCalm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success":    true,
			"emotion":    "calm",
			"confidence": 0.7,
			"scores":     map[string]float64{"calm": 0.7, "sad": 0.3},
		})
	}))
	defer srv.Close()

	got, err := NewVoiceClient(srv.URL, time.Second).ClassifyAudio(context.Background(), []byte("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Label != domain.EmotionNeutral {
		t.Fatalf("label=%s, want neutral", got.Label)
	}
}
