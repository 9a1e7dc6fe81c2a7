package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/repositories"
)

type RefreshTokens struct {
	mu     sync.Mutex
	nextID uint
	rows   map[string]*models.RefreshToken
}

func NewRefreshTokens() *RefreshTokens {
	return &RefreshTokens{rows: make(map[string]*models.RefreshToken)}
}

func (s *RefreshTokens) insert(t *models.RefreshToken) error {
	if _, ok := s.rows[t.Token]; ok {
		return repositories.ErrAlreadyExists
	}
	s.nextID++
	t.ID = s.nextID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	c := *t
	s.rows[t.Token] = &c
	return nil
}

func (s *RefreshTokens) Create(_ context.Context, t *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.insert(t); err != nil {
		return fmt.Errorf("memory.RefreshTokens.Create: %w", err)
	}
	return nil
}

func (s *RefreshTokens) FindByToken(_ context.Context, token string) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[token]
	if !ok {
		return nil, fmt.Errorf("memory.RefreshTokens.FindByToken: %w", repositories.ErrNotFound)
	}
	c := *t
	return &c, nil
}

func (s *RefreshTokens) Rotate(_ context.Context, oldToken string, next *models.RefreshToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.rows[oldToken]
	if !ok || !old.IsActive(now) {
		return fmt.Errorf("memory.RefreshTokens.Rotate: %w", repositories.ErrNotFound)
	}
	if err := s.insert(next); err != nil {
		return fmt.Errorf("memory.RefreshTokens.Rotate: %w", err)
	}
	t := now
	replacement := next.Token
	old.IsRevoked = true
	old.RevokedAt = &t
	old.ReplacedByToken = &replacement
	return nil
}

func (s *RefreshTokens) Revoke(_ context.Context, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.rows[token]
	if !ok || t.IsRevoked {
		return false, nil
	}
	at := now
	t.IsRevoked = true
	t.RevokedAt = &at
	return true, nil
}

func (s *RefreshTokens) RevokeAllForUser(_ context.Context, userID uint, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.rows {
		if t.UserID == userID && !t.IsRevoked {
			at := now
			t.IsRevoked = true
			t.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokens) DeleteInactive(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, t := range s.rows {
		if !t.IsActive(now) {
			delete(s.rows, k)
			n++
		}
	}
	return n, nil
}

// All returns a snapshot of every row, for tests and diagnostics.
func (s *RefreshTokens) All() []models.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.RefreshToken, 0, len(s.rows))
	for _, t := range s.rows {
		out = append(out, *t)
	}
	return out
}
