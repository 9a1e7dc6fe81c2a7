// Package memory holds process-local implementations of the stores. They
// back the "memory" database driver for local development and the service
// tests; conditional updates are serialised by a mutex so they keep the same
// single-winner semantics as the SQL versions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/repositories"
	"github.com/Gopher0727/Warden/internal/utils"
)

type Users struct {
	mu         sync.RWMutex
	nextID     uint
	users      map[uint]*models.User
	roles      map[string]models.Role
	userRoles  map[uint]map[string]struct{}
	bcryptCost int
}

func NewUsers(bcryptCost int) *Users {
	u := &Users{
		users:      make(map[uint]*models.User),
		roles:      make(map[string]models.Role),
		userRoles:  make(map[uint]map[string]struct{}),
		bcryptCost: bcryptCost,
	}
	for i, r := range models.DefaultRoles() {
		r.ID = uint(i + 1)
		u.roles[r.Name] = r
	}
	return u
}

// AddRole registers an extra role name.
func (s *Users) AddRole(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		s.roles[name] = models.Role{ID: uint(len(s.roles) + 1), Name: name}
	}
}

func clone(u *models.User) *models.User {
	c := *u
	c.Roles = nil
	return &c
}

func (s *Users) Create(_ context.Context, user *models.User, password string) error {
	hash, err := utils.HashPassword(password, s.bcryptCost)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(user.Email))
	for _, existing := range s.users {
		if existing.UserName == user.UserName || existing.Email == email {
			return fmt.Errorf("memory.Users.Create: %w", repositories.ErrAlreadyExists)
		}
	}

	s.nextID++
	now := time.Now()
	user.ID = s.nextID
	user.Email = email
	user.PasswordHash = hash
	user.LockoutEnabled = true
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = clone(user)
	return nil
}

func (s *Users) FindByID(_ context.Context, id uint) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("memory.Users.FindByID: %w", repositories.ErrNotFound)
	}
	return clone(u), nil
}

func (s *Users) FindByEmail(_ context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return clone(u), nil
		}
	}
	return nil, fmt.Errorf("memory.Users.FindByEmail: %w", repositories.ErrNotFound)
}

func (s *Users) FindByUserName(_ context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.UserName == username {
			return clone(u), nil
		}
	}
	return nil, fmt.Errorf("memory.Users.FindByUserName: %w", repositories.ErrNotFound)
}

func (s *Users) Update(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[user.ID]
	if !ok {
		return fmt.Errorf("memory.Users.Update: %w", repositories.ErrNotFound)
	}
	c := clone(user)
	if c.PasswordHash == "" {
		c.PasswordHash = existing.PasswordHash
	}
	c.UpdatedAt = time.Now()
	s.users[user.ID] = c
	return nil
}

func (s *Users) Delete(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	delete(s.userRoles, id)
	return nil
}

func (s *Users) GetRoles(_ context.Context, id uint) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := []string{}
	for name := range s.userRoles[id] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Users) AddToRole(_ context.Context, id uint, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role]; !ok {
		return fmt.Errorf("memory.Users.AddToRole: role %q: %w", role, repositories.ErrNotFound)
	}
	if _, ok := s.users[id]; !ok {
		return fmt.Errorf("memory.Users.AddToRole: %w", repositories.ErrNotFound)
	}
	if s.userRoles[id] == nil {
		s.userRoles[id] = make(map[string]struct{})
	}
	s.userRoles[id][role] = struct{}{}
	return nil
}

func (s *Users) RemoveFromRole(_ context.Context, id uint, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[role]; !ok {
		return fmt.Errorf("memory.Users.RemoveFromRole: role %q: %w", role, repositories.ErrNotFound)
	}
	delete(s.userRoles[id], role)
	return nil
}

func (s *Users) CheckPassword(_ context.Context, user *models.User, password string) bool {
	s.mu.RLock()
	stored, ok := s.users[user.ID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return utils.CheckPassword(stored.PasswordHash, password)
}

func (s *Users) SetLockout(_ context.Context, id uint, until *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("memory.Users.SetLockout: %w", repositories.ErrNotFound)
	}
	if until != nil {
		t := *until
		u.LockoutEnd = &t
	} else {
		u.LockoutEnd = nil
		u.AccessFailedCount = 0
	}
	return nil
}

func (s *Users) AccessFailed(_ context.Context, id uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return 0, fmt.Errorf("memory.Users.AccessFailed: %w", repositories.ErrNotFound)
	}
	u.AccessFailedCount++
	return u.AccessFailedCount, nil
}

func (s *Users) ResetAccessFailed(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.AccessFailedCount = 0
	}
	return nil
}

func (s *Users) List(_ context.Context, limit, offset int) ([]models.User, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]uint, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []models.User
	for i, id := range ids {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		u := *clone(s.users[id])
		for name := range s.userRoles[id] {
			u.Roles = append(u.Roles, s.roles[name])
		}
		sort.Slice(u.Roles, func(a, b int) bool { return u.Roles[a].Name < u.Roles[b].Name })
		out = append(out, u)
	}
	return out, int64(len(ids)), nil
}

func (s *Users) ListRoles(_ context.Context) ([]models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Role, 0, len(s.roles))
	for _, r := range s.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
