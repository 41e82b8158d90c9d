package translate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"empathy/internal/domain"
	"empathy/internal/provider"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// phrasebook translates word by word through a small bilingual dictionary.
type phrasebook struct {
	enToFr map[string]string
}

func (p phrasebook) Name() string { return "phrasebook" }

func (p phrasebook) Translate(_ context.Context, text, from, to string) (string, error) {
	dict := p.enToFr
	if from == "fr" && to == "en" {
		dict = make(map[string]string, len(p.enToFr))
		for k, v := range p.enToFr {
			dict[v] = k
		}
	} else if from != "en" || to != "fr" {
		return "", errors.New("unsupported pair")
	}
	words := strings.Fields(strings.ToLower(text))
	for i, w := range words {
		if t, ok := dict[w]; ok {
			words[i] = t
		}
	}
	return strings.Join(words, " "), nil
}

type stubProvider struct {
	name string
	out  string
	err  error
}

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Translate(context.Context, string, string, string) (string, error) {
	return s.out, s.err
}

func jaccard(a, b string) float64 {
	set := func(s string) map[string]bool {
		m := make(map[string]bool)
		for _, w := range strings.Fields(strings.ToLower(s)) {
			m[w] = true
		}
		return m
	}
	sa, sb := set(a), set(b)
	inter := 0
	for w := range sa {
		if sb[w] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 1
	}
	return float64(inter) / float64(union)
}

func TestRoundTripIsSimilar(t *testing.T) {
	book := phrasebook{enToFr: map[string]string{
		"i": "je", "am": "suis", "very": "très", "tired": "fatigué", "today": "aujourd'hui",
		"my": "mon", "friend": "ami", "is": "est", "sick": "malade", "and": "et", "sad": "triste",
	}}
	g := NewGateway([]Provider{book}, time.Second, nil, discardLogger())

	inputs := []string{
		"I am very tired today",
		"my friend is sick and I am sad",
		"I am sad today",
	}
	for _, in := range inputs {
		fr, err := g.Translate(context.Background(), in, "en", "fr")
		if err != nil {
			t.Fatalf("en->fr: %v", err)
		}
		back, err := g.Translate(context.Background(), fr.Text, "fr", "en")
		if err != nil {
			t.Fatalf("fr->en: %v", err)
		}
		if sim := jaccard(in, back.Text); sim < 0.6 {
			t.Fatalf("round trip %q -> %q -> %q similarity %.2f", in, fr.Text, back.Text, sim)
		}
		if fr.Degraded || back.Degraded {
			t.Fatal("round trip should not degrade")
		}
	}
}

func TestFallsBackToLLMTranslator(t *testing.T) {
	health := provider.NewRegistry(time.Minute)
	primary := stubProvider{name: "libretranslate", err: provider.StatusError("libretranslate", 429, []byte("slow down"))}
	llm := NewLLMTranslator("llm", completerFunc(func(_ context.Context, req domain.LLMRequest) (domain.LLMResponse, error) {
		if !strings.Contains(req.System, "from French to English") {
			t.Errorf("system=%q", req.System)
		}
		return domain.LLMResponse{Content: "\"I am tired\""}, nil
	}), "gpt-4o-mini")

	g := NewGateway([]Provider{primary, llm}, time.Second, health, discardLogger())
	got, err := g.Translate(context.Background(), "je suis fatigué", "fr", "en")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.Text != "I am tired" || got.Method != "llm" || got.Degraded {
		t.Fatalf("result=%+v", got)
	}
	if len(got.Attempts) != 2 || got.Attempts[0].Class != string(provider.ClassQuota) {
		t.Fatalf("attempts=%+v", got.Attempts)
	}
}

func TestAllFailPassesThrough(t *testing.T) {
	g := NewGateway([]Provider{
		stubProvider{name: "a", err: errors.New("down")},
		stubProvider{name: "b", out: "   "},
	}, time.Second, nil, discardLogger())

	got, err := g.Translate(context.Background(), "hola amigo", "es", "en")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got.Text != "hola amigo" || !got.Degraded || got.Method != MethodPassthrough {
		t.Fatalf("result=%+v", got)
	}
	if got.Attempts[1].Class != string(provider.ClassMalformed) {
		t.Fatalf("empty output class=%s", got.Attempts[1].Class)
	}
}

func TestSameLanguageIsIdentity(t *testing.T) {
	g := NewGateway([]Provider{stubProvider{name: "a", err: errors.New("never called")}}, time.Second, nil, discardLogger())
	got, err := g.Translate(context.Background(), "hello", "en", "en-GB")
	if err != nil || got.Method != MethodIdentity || got.Text != "hello" {
		t.Fatalf("result=%+v err=%v", got, err)
	}
}

func TestCanceledContextReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewGateway([]Provider{stubProvider{name: "a", out: "x"}}, time.Second, nil, discardLogger())
	if _, err := g.Translate(ctx, "hola", "es", "en"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want canceled", err)
	}
}

func TestLibreTranslateAdapter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		_ = json.NewDecoder(r.Body).Decode(&in)
		if r.URL.Path != "/translate" || in["source"] != "zh" || in["target"] != "en" {
			t.Errorf("path=%s payload=%v", r.URL.Path, in)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"translatedText": "I was criticized by my boss today"})
	}))
	defer srv.Close()

	p := NewLibreTranslate(srv.Client(), srv.URL, "")
	got, err := p.Translate(context.Background(), "今天被老板批评了", "zh-CN", "en")
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if got != "I was criticized by my boss today" {
		t.Fatalf("got=%q", got)
	}
}

func TestDeepLAdapterUsesItsDialect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var in struct {
			Text       []string `json:"text"`
			TargetLang string   `json:"target_lang"`
			SourceLang string   `json:"source_lang"`
		}
		_ = json.NewDecoder(r.Body).Decode(&in)
		if in.TargetLang != "EN-US" || in.SourceLang != "PT" {
			t.Errorf("payload=%+v", in)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "DeepL-Auth-Key ") {
			t.Errorf("auth=%q", r.Header.Get("Authorization"))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"translations": []map[string]string{{"detected_source_language": "PT", "text": "I am happy"}}})
	}))
	defer srv.Close()

	got, err := NewDeepL(srv.Client(), srv.URL, "key").Translate(context.Background(), "estou feliz", "pt", "en")
	if err != nil || got != "I am happy" {
		t.Fatalf("got=%q err=%v", got, err)
	}
}

func TestDeepLQuotaStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(456)
	}))
	defer srv.Close()

	_, err := NewDeepL(srv.Client(), srv.URL, "key").Translate(context.Background(), "x", "fr", "en")
	if provider.Classify(err) != provider.ClassQuota {
		t.Fatalf("class=%s err=%v", provider.Classify(err), err)
	}
}

type completerFunc func(context.Context, domain.LLMRequest) (domain.LLMResponse, error)

func (f completerFunc) Complete(ctx context.Context, req domain.LLMRequest) (domain.LLMResponse, error) {
	return f(ctx, req)
}
