package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"empathy/internal/provider"
)

type fakeSynth struct {
	name   string
	voices VoiceMap
	err    error
	got    Options
	calls  int
}

func (f *fakeSynth) Name() string     { return f.name }
func (f *fakeSynth) Voices() VoiceMap { return f.voices }
func (f *fakeSynth) Synthesize(_ context.Context, text string, opts Options) (Audio, error) {
	f.calls++
	f.got = opts
	if f.err != nil {
		return Audio{}, f.err
	}
	return Audio{Data: []byte("RIFF" + text), ContentType: "audio/wav"}, nil
}

func TestVoiceMapResolve(t *testing.T) {
	vm := NewVoiceMap(map[string]string{"en": "en-voice", "es": "es-voice", "ru": "ru-voice"}, "en")

	cases := []struct {
		lang     string
		wantLang string
		fallback bool
	}{
		{"en", "en", false},
		{"es-MX", "es", false},
		{"pt", "es", true},
		{"uk", "ru", true},
		{"ja", "en", true},
		{"klingon", "en", true},
	}
	for _, tc := range cases {
		sel, ok := vm.Resolve(tc.lang)
		if !ok {
			t.Fatalf("Resolve(%q) failed", tc.lang)
		}
		if sel.Language != tc.wantLang || sel.Fallback != tc.fallback {
			t.Fatalf("Resolve(%q) = %+v, want language %q fallback %v", tc.lang, sel, tc.wantLang, tc.fallback)
		}
	}

	empty := NewVoiceMap(map[string]string{"fr": "fr-voice"}, "")
	if _, ok := empty.Resolve("ja"); ok {
		t.Fatalf("expected no voice for ja without fallback")
	}
}

func TestOrchestratorFallsBackToNeighbourLanguage(t *testing.T) {
	piper := &fakeSynth{name: "piper", voices: NewVoiceMap(map[string]string{"en": "lessac", "es": "mls"}, "en")}
	o := NewOrchestrator([]Synthesizer{piper}, time.Second, provider.NewRegistry(0), nil)

	res, err := o.Synthesize(context.Background(), "Olá", "pt")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !res.HasAudio() {
		t.Fatalf("expected audio")
	}
	if res.RequestedLanguage != "pt" || res.Language != "es" || !res.Fallback || res.Voice != "mls" {
		t.Fatalf("unexpected selection: %+v", res)
	}
	if piper.got.Language != "es" || piper.got.Voice != "mls" {
		t.Fatalf("provider received %+v", piper.got)
	}
}

func TestOrchestratorNextProviderOnFailure(t *testing.T) {
	first := &fakeSynth{name: "piper", voices: NewVoiceMap(map[string]string{"en": "a"}, "en"), err: errors.New("connection refused")}
	second := &fakeSynth{name: "openai-tts", voices: NewVoiceMap(map[string]string{"en": "alloy"}, "en")}
	o := NewOrchestrator([]Synthesizer{first, second}, time.Second, provider.NewRegistry(0), nil)

	res, err := o.Synthesize(context.Background(), "hello", "en")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Provider != "openai-tts" {
		t.Fatalf("expected second provider, got %q", res.Provider)
	}
	if len(res.Attempts) != 2 || res.Attempts[0].Outcome == res.Attempts[1].Outcome {
		t.Fatalf("unexpected attempts: %+v", res.Attempts)
	}
}

func TestOrchestratorAllFailIsTextOnly(t *testing.T) {
	a := &fakeSynth{name: "piper", voices: NewVoiceMap(map[string]string{"en": "a"}, "en"), err: errors.New("down")}
	b := &fakeSynth{name: "openai-tts", voices: NewVoiceMap(nil, ""), err: errors.New("unused")}
	o := NewOrchestrator([]Synthesizer{a, b}, time.Second, provider.NewRegistry(0), nil)

	res, err := o.Synthesize(context.Background(), "hello", "en")
	if err != nil {
		t.Fatalf("all-fail synthesis must not error, got %v", err)
	}
	if res.HasAudio() {
		t.Fatalf("expected text-only result")
	}
	if len(res.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(res.Attempts))
	}
	if res.Attempts[1].Class != string(provider.ClassNotFound) {
		t.Fatalf("voice-less provider should be not_found, got %q", res.Attempts[1].Class)
	}
	if b.calls != 0 {
		t.Fatalf("provider without a voice must not be called")
	}
}

func TestOrchestratorCanceled(t *testing.T) {
	a := &fakeSynth{name: "piper", voices: NewVoiceMap(map[string]string{"en": "a"}, "en")}
	o := NewOrchestrator([]Synthesizer{a}, time.Second, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Synthesize(ctx, "hello", "en"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestOpenAISpeech(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["voice"] != "nova" || body["input"] != "hi" {
			t.Errorf("unexpected body %+v", body)
		}
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write([]byte("RIFFdata"))
	}))
	defer srv.Close()

	p := NewOpenAISpeech(srv.Client(), OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test", Voice: "nova"})
	sel, ok := p.Voices().Resolve("fr")
	if !ok || sel.Fallback {
		t.Fatalf("openai voices should cover fr directly: %+v", sel)
	}
	a, err := p.Synthesize(context.Background(), "hi", Options{Language: sel.Language, Voice: sel.Voice})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(a.Data) != "RIFFdata" || a.ContentType != "audio/wav" {
		t.Fatalf("unexpected audio %+v", a)
	}
}

func TestOpenAISpeechQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAISpeech(srv.Client(), OpenAIConfig{BaseURL: srv.URL})
	_, err := p.Synthesize(context.Background(), "hi", Options{Language: "en", Voice: "alloy"})
	if provider.Classify(err) != provider.ClassQuota {
		t.Fatalf("expected quota class, got %v", err)
	}
}

func TestPiperWyoming(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	gotVoice := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		evt, _, err := readEvent(conn)
		if err != nil {
			return
		}
		if v, ok := evt.Data["voice"].(map[string]any); ok {
			gotVoice <- v["name"].(string)
		}
		_ = writeEvent(conn, wyomingEvent{Type: "audio-start", Data: map[string]any{"rate": 16000, "width": 2, "channels": 1}}, nil)
		_ = writeEvent(conn, wyomingEvent{Type: "audio-chunk"}, []byte{1, 2, 3, 4})
		_ = writeEvent(conn, wyomingEvent{Type: "audio-chunk"}, []byte{5, 6})
		_ = writeEvent(conn, wyomingEvent{Type: "audio-stop"}, nil)
	}()

	p := NewPiper(PiperConfig{Endpoint: "tcp://" + ln.Addr().String()}, nil)
	a, err := p.Synthesize(context.Background(), "hello", Options{Language: "en", Voice: "en_US-lessac-medium"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if v := <-gotVoice; v != "en_US-lessac-medium" {
		t.Fatalf("server saw voice %q", v)
	}
	if a.SampleRate != 16000 || len(a.Data) != 44+6 {
		t.Fatalf("unexpected audio: rate=%d len=%d", a.SampleRate, len(a.Data))
	}
	if !bytes.Equal(a.Data[44:], []byte{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("pcm payload not preserved")
	}
}

func TestPiperErrorEvent(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = readEvent(conn)
		_ = writeEvent(conn, wyomingEvent{Type: "error", Data: map[string]any{"text": "voice not loaded"}}, nil)
	}()

	p := NewPiper(PiperConfig{Endpoint: ln.Addr().String()}, nil)
	_, err = p.Synthesize(context.Background(), "hello", Options{Language: "en", Voice: "x"})
	if err == nil || err.Error() == "" {
		t.Fatalf("expected error event to surface")
	}
}
