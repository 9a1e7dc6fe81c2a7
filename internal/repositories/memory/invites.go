package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/repositories"
)

type Invites struct {
	mu      sync.Mutex
	nextID  uint
	codes   map[string]*models.InviteCode
	invites map[string]*models.EmailInvite
}

func NewInvites() *Invites {
	return &Invites{
		codes:   make(map[string]*models.InviteCode),
		invites: make(map[string]*models.EmailInvite),
	}
}

func (s *Invites) CreateCode(_ context.Context, code *models.InviteCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[code.Code]; ok {
		return fmt.Errorf("memory.Invites.CreateCode: %w", repositories.ErrAlreadyExists)
	}
	s.nextID++
	code.ID = s.nextID
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now()
	}
	c := *code
	s.codes[code.Code] = &c
	return nil
}

func (s *Invites) CountActiveCodes(_ context.Context, creatorID uint, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, c := range s.codes {
		if c.CreatedByUserID == creatorID && c.IsValid(now) {
			n++
		}
	}
	return n, nil
}

func (s *Invites) FindCode(_ context.Context, code string) (*models.InviteCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok {
		return nil, fmt.Errorf("memory.Invites.FindCode: %w", repositories.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *Invites) MarkCodeUsed(_ context.Context, code string, userID uint, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[code]
	if !ok || !c.IsValid(now) {
		return false, nil
	}
	t := now
	uid := userID
	c.IsUsed = true
	c.UsedAt = &t
	c.UsedByUserID = &uid
	return true, nil
}

func (s *Invites) ListCodes(_ context.Context, creatorID uint, limit, offset int) ([]models.InviteCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.InviteCode
	for _, c := range s.codes {
		if creatorID == 0 || c.CreatedByUserID == creatorID {
			all = append(all, *c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset), nil
}

func (s *Invites) CreateEmailInvite(_ context.Context, invite *models.EmailInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.invites[invite.Token]; ok {
		return fmt.Errorf("memory.Invites.CreateEmailInvite: %w", repositories.ErrAlreadyExists)
	}
	s.nextID++
	invite.ID = s.nextID
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now()
	}
	c := *invite
	s.invites[invite.Token] = &c
	return nil
}

func (s *Invites) FindEmailInvite(_ context.Context, token string) (*models.EmailInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[token]
	if !ok {
		return nil, fmt.Errorf("memory.Invites.FindEmailInvite: %w", repositories.ErrNotFound)
	}
	cp := *inv
	return &cp, nil
}

func (s *Invites) MarkEmailInviteUsed(_ context.Context, token string, userID uint, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[token]
	if !ok || !inv.IsValid(now) {
		return false, nil
	}
	t := now
	uid := userID
	inv.IsUsed = true
	inv.UsedAt = &t
	inv.UsedByUserID = &uid
	return true, nil
}

func (s *Invites) ListEmailInvites(_ context.Context, creatorID uint, limit, offset int) ([]models.EmailInvite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var all []models.EmailInvite
	for _, inv := range s.invites {
		if creatorID == 0 || inv.CreatedByUserID == creatorID {
			all = append(all, *inv)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	return page(all, limit, offset), nil
}

func (s *Invites) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, c := range s.codes {
		if !c.IsUsed && now.After(c.ExpiresAt) {
			delete(s.codes, k)
			n++
		}
	}
	for k, inv := range s.invites {
		if !inv.IsUsed && now.After(inv.ExpiresAt) {
			delete(s.invites, k)
			n++
		}
	}
	return n, nil
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}
