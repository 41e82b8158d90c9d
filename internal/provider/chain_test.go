package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"empathy/internal/domain"
)

func failing(name string, err error) Step[string] {
	return Step[string]{Name: name, Call: func(context.Context) (string, error) { return "", err }}
}

func TestRunRecordsEveryAttemptUntilSuccess(t *testing.T) {
	health := NewRegistry(time.Minute)
	steps := []Step[string]{
		failing("openai/primary", StatusError("openai", 401, []byte("bad key"))),
		failing("openai/backup", StatusError("openai", 429, []byte("insufficient_quota"))),
		failing("claude/primary", StatusError("claude", 404, []byte("model not found"))),
		{Name: "ollama/local", Call: func(context.Context) (string, error) { return "hello", nil }},
	}

	out, err := Run(context.Background(), Runner{Capability: "completion", Health: health}, steps)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Value != "hello" || out.Provider != "ollama/local" || out.Index != 3 {
		t.Fatalf("outcome=%+v", out)
	}
	if len(out.Attempts) != 4 {
		t.Fatalf("attempts=%d, want 4", len(out.Attempts))
	}
	wantClass := []Class{ClassAuth, ClassQuota, ClassNotFound, ""}
	for i, a := range out.Attempts {
		if a.Index != i {
			t.Fatalf("attempt %d index=%d", i, a.Index)
		}
		if Class(a.Class) != wantClass[i] {
			t.Fatalf("attempt %d class=%q, want %q", i, a.Class, wantClass[i])
		}
	}
	if out.Attempts[3].Outcome != domain.OutcomeSuccess {
		t.Fatalf("last outcome=%s", out.Attempts[3].Outcome)
	}
	if state, ok := health.Get("completion", "openai/primary"); !ok || state.Healthy || state.LastClass != ClassAuth {
		t.Fatalf("health state=%+v ok=%v", state, ok)
	}
}

func TestRunExhausted(t *testing.T) {
	last := errors.New("boom")
	steps := []Step[string]{
		failing("a", errors.New("first")),
		failing("b", last),
	}
	out, err := Run(context.Background(), Runner{Capability: "translation"}, steps)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("err=%v, want ErrExhausted", err)
	}
	if !errors.Is(err, last) {
		t.Fatalf("err=%v does not wrap last failure", err)
	}
	if len(out.Attempts) != 2 || out.Index != -1 {
		t.Fatalf("outcome=%+v", out)
	}
}

func TestRunNoProviders(t *testing.T) {
	_, err := Run[string](context.Background(), Runner{Capability: "synthesis"}, nil)
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("err=%v, want ErrNoProviders", err)
	}
}

func TestRunPerAttemptTimeout(t *testing.T) {
	slow := Step[string]{Name: "slow", Call: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	fast := Step[string]{Name: "fast", Call: func(context.Context) (string, error) { return "ok", nil }}

	out, err := Run(context.Background(), Runner{Capability: "completion", Timeout: 20 * time.Millisecond}, []Step[string]{slow, fast})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Attempts[0].Class != string(ClassTimeout) {
		t.Fatalf("class=%s, want timeout", out.Attempts[0].Class)
	}
	if out.Value != "ok" {
		t.Fatalf("value=%q", out.Value)
	}
}

func TestRunStopsOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	called := false
	steps := []Step[string]{
		{Name: "a", Call: func(context.Context) (string, error) {
			cancel()
			return "", context.Canceled
		}},
		{Name: "b", Call: func(context.Context) (string, error) {
			called = true
			return "x", nil
		}},
	}
	out, err := Run(ctx, Runner{Capability: "completion"}, steps)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want canceled", err)
	}
	if called {
		t.Fatal("second step ran after cancel")
	}
	if len(out.Attempts) != 1 || out.Attempts[0].Class != string(ClassCanceled) {
		t.Fatalf("attempts=%+v", out.Attempts)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"auth", StatusError("x", 403, nil), ClassAuth},
		{"quota body", StatusError("x", 400, []byte("You exceeded your current quota")), ClassQuota},
		{"server", StatusError("x", 503, nil), ClassUnavailable},
		{"gateway timeout", StatusError("x", 504, nil), ClassTimeout},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassTimeout},
		{"malformed", Malformed("x", errors.New("no choices")), ClassMalformed},
		{"plain", errors.New("nope"), ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Fatalf("Classify=%s, want %s", got, tt.want)
			}
		})
	}
}
