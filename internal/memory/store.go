// Package memory keeps the rolling conversation context of each session.
//
// A session holds at most N turns; appends evict the oldest first. Every
// read-modify-append runs under a per-session lock so two turns of the same
// session never interleave, while different sessions never contend.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"empathy/internal/domain"
)

const DefaultLimit = 10

var ErrEmptySessionID = errors.New("session id is required")

// Archive is durable storage behind the in-memory window. It is written after
// each committed turn and read once to warm a session on first access.
type Archive interface {
	AppendTurns(ctx context.Context, sessionID, turnID string, turns []domain.Turn) error
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

type session struct {
	sem     chan struct{}
	turns   []domain.Turn
	warmed  bool
	deleted bool
}

type Store struct {
	limit          int
	archive        Archive
	archiveTimeout time.Duration
	logger         *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

func NewStore(limit int, archive Archive, logger *slog.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		limit:          limit,
		archive:        archive,
		archiveTimeout: 5 * time.Second,
		logger:         logger,
		sessions:       make(map[string]*session),
	}
}

func (s *Store) Limit() int { return s.limit }

func (s *Store) lookup(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{sem: make(chan struct{}, 1)}
		s.sessions[id] = sess
	}
	return sess
}

// Lock waits for exclusive access to a session. The returned handle must be
// released with Unlock.
func (s *Store) Lock(ctx context.Context, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for {
		sess := s.lookup(sessionID)
		select {
		case sess.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if sess.deleted {
			<-sess.sem
			continue
		}
		if !sess.warmed {
			s.warm(ctx, sessionID, sess)
		}
		return &Session{id: sessionID, store: s, sess: sess}, nil
	}
}

func (s *Store) warm(ctx context.Context, id string, sess *session) {
	sess.warmed = true
	if s.archive == nil {
		return
	}
	turns, err := s.archive.RecentTurns(ctx, id, s.limit)
	if err != nil {
		s.logger.Warn("warm session context failed", "session_id", id, "error", err)
		return
	}
	sess.turns = trim(append(turns, sess.turns...), s.limit)
}

// Get returns a snapshot of the session's turns in chronological order.
func (s *Store) Get(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	h, err := s.Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer h.Unlock()
	return h.Turns(), nil
}

// Delete drops a session from memory and from the archive.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	h, err := s.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer h.Unlock()

	h.sess.deleted = true
	h.sess.turns = nil
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("delete archived session: %w", err)
		}
	}
	return nil
}

// Len reports how many sessions are held in memory.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Session is an exclusive handle on one session's context.
type Session struct {
	id       string
	store    *Store
	sess     *session
	released bool
}

func (h *Session) ID() string { return h.id }

func (h *Session) Turns() []domain.Turn {
	out := make([]domain.Turn, len(h.sess.turns))
	copy(out, h.sess.turns)
	return out
}

// Append commits the user turn and the assistant turn together. Nothing is
// written if ctx is already done.
func (h *Session) Append(ctx context.Context, turnID string, user, assistant domain.Turn) error {
	if h.released {
		return fmt.Errorf("%w: append after unlock", domain.ErrInvariant)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if user.Role != domain.RoleUser || assistant.Role != domain.RoleAssistant {
		return fmt.Errorf("%w: turn pair must be user then assistant", domain.ErrInvariant)
	}

	h.sess.turns = trim(append(h.sess.turns, user, assistant), h.store.limit)

	if h.store.archive != nil {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.store.archiveTimeout)
		defer cancel()
		if err := h.store.archive.AppendTurns(actx, h.id, turnID, []domain.Turn{user, assistant}); err != nil {
			h.store.logger.Warn("archive turn failed", "session_id", h.id, "turn_id", turnID, "error", err)
		}
	}
	return nil
}

func (h *Session) Unlock() {
	if h.released {
		return
	}
	h.released = true
	<-h.sess.sem
}

func trim(turns []domain.Turn, limit int) []domain.Turn {
	if len(turns) <= limit {
		return turns
	}
	out := make([]domain.Turn, limit)
	copy(out, turns[len(turns)-limit:])
	return out
}
