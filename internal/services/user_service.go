package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/repositories"
)

// UserService 管理员侧的用户与角色管理
type UserService struct {
	users  CredentialStore
	logger *zap.Logger
}

func NewUserService(users CredentialStore, logger *zap.Logger) *UserService {
	return &UserService{users: users, logger: logger}
}

func notFound(op string, err error) error {
	if errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// List 分页列出用户及其角色
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*UserDTO, int64, error) {
	limit, offset = page(limit, offset)
	users, total, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("services.UserService.List: %w", err)
	}
	out := make([]*UserDTO, 0, len(users))
	for i := range users {
		roles := make([]string, 0, len(users[i].Roles))
		for _, r := range users[i].Roles {
			roles = append(roles, r.Name)
		}
		out = append(out, toUserDTO(&users[i], roles))
	}
	return out, total, nil
}

// AssignRole 角色变更在下一次刷新令牌时生效
func (s *UserService) AssignRole(ctx context.Context, userID uint, role string) error {
	if err := s.users.AddToRole(ctx, userID, role); err != nil {
		return notFound("services.UserService.AssignRole", err)
	}
	s.logger.Info("role assigned", zap.Uint("user_id", userID), zap.String("role", role))
	return nil
}

func (s *UserService) RemoveRole(ctx context.Context, userID uint, role string) error {
	if err := s.users.RemoveFromRole(ctx, userID, role); err != nil {
		return notFound("services.UserService.RemoveRole", err)
	}
	s.logger.Info("role removed", zap.Uint("user_id", userID), zap.String("role", role))
	return nil
}

func (s *UserService) ListRoles(ctx context.Context) ([]models.Role, error) {
	roles, err := s.users.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("services.UserService.ListRoles: %w", err)
	}
	return roles, nil
}

// Unlock 解除锁定并清零失败计数
func (s *UserService) Unlock(ctx context.Context, userID uint) error {
	const op = "services.UserService.Unlock"
	if err := s.users.SetLockout(ctx, userID, nil); err != nil {
		return notFound(op, err)
	}
	if err := s.users.ResetAccessFailed(ctx, userID); err != nil {
		return notFound(op, err)
	}
	return nil
}

// CreateAdmin 命令行初始化管理员账号
func (s *UserService) CreateAdmin(ctx context.Context, username, email, password, adminRole string) (*UserDTO, error) {
	const op = "services.UserService.CreateAdmin"

	email = strings.ToLower(strings.TrimSpace(email))
	req := &RegisterRequest{UserName: username, Email: email, Password: password}
	if err := validateRegistration(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user := &models.User{
		UserName:       username,
		Email:          email,
		DisplayName:    username,
		EmailConfirmed: true,
		LockoutEnabled: true,
	}
	if err := s.users.Create(ctx, user, password); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	for _, role := range []string{models.RoleUser, adminRole} {
		if err := s.users.AddToRole(ctx, user.ID, role); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	roles, err := s.users.GetRoles(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return toUserDTO(user, roles), nil
}

