package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"empathy/internal/domain"
)

type archive interface {
	AppendTurns(ctx context.Context, sessionID, turnID string, turns []domain.Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
	SessionTurnCount(ctx context.Context, sessionID string) (int, error)
}

func exerciseArchive(t *testing.T, a archive) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	for i, text := range []string{"one", "two", "three"} {
		turns := []domain.Turn{
			{Role: domain.RoleUser, Text: text, Emotion: domain.EmotionSad, At: base.Add(time.Duration(i) * time.Minute)},
			{Role: domain.RoleAssistant, Text: "re " + text, At: base.Add(time.Duration(i)*time.Minute + time.Second)},
		}
		if err := a.AppendTurns(ctx, "sess", "turn-"+text, turns); err != nil {
			t.Fatalf("AppendTurns: %v", err)
		}
	}

	recent, err := a.RecentTurns(ctx, "sess", 3)
	if err != nil {
		t.Fatalf("RecentTurns: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(recent))
	}
	if recent[0].Text != "re two" || recent[1].Text != "three" || recent[2].Text != "re three" {
		t.Fatalf("unexpected order: %+v", recent)
	}
	if recent[1].Role != domain.RoleUser || recent[1].Emotion != domain.EmotionSad {
		t.Fatalf("role/emotion lost: %+v", recent[1])
	}
	if !recent[1].At.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("timestamp lost: %v", recent[1].At)
	}

	n, err := a.SessionTurnCount(ctx, "sess")
	if err != nil || n != 6 {
		t.Fatalf("SessionTurnCount = %d, %v", n, err)
	}

	if err := a.DeleteSession(ctx, "sess"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := a.SessionTurnCount(ctx, "sess"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	recent, _ = a.RecentTurns(ctx, "sess", 10)
	if len(recent) != 0 {
		t.Fatalf("turns survived delete: %d", len(recent))
	}
}

func TestSQLiteArchive(t *testing.T) {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "turns.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	exerciseArchive(t, s)
}

func TestPostgresArchive(t *testing.T) {
	dsn := os.Getenv("EMPATHY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("EMPATHY_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	_ = s.DeleteSession(ctx, "sess")
	exerciseArchive(t, s)
}
