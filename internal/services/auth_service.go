package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/pkg/metrics"
	"github.com/Gopher0727/Warden/internal/repositories"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/pkg/mq"
)

// AuthService 认证服务
type AuthService struct {
	users     CredentialStore
	invites   *InviteService
	tokens    *TokenService
	cfg       *config.AuthConfig
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewAuthService 创建认证服务实例
func NewAuthService(users CredentialStore, invites *InviteService, tokens *TokenService, cfg *config.AuthConfig, publisher EventPublisher, m *metrics.Metrics, logger *zap.Logger) *AuthService {
	return &AuthService{
		users:     users,
		invites:   invites,
		tokens:    tokens,
		cfg:       cfg,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	UserName    string `json:"username" binding:"required"`
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
	InviteCode  string `json:"invite_code"`
	InviteToken string `json:"invite_token"`
}

// LoginRequest 登录请求, Login 为用户名或邮箱
type LoginRequest struct {
	Login    string `json:"login" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// AuthResponse 认证响应; 需要邮箱确认时 Tokens 为空
type AuthResponse struct {
	User   *UserDTO   `json:"user"`
	Tokens *TokenPair `json:"tokens,omitempty"`
}

// UserDTO 用户数据传输对象
type UserDTO struct {
	ID             uint       `json:"id"`
	UserName       string     `json:"username"`
	Email          string     `json:"email"`
	DisplayName    string     `json:"display_name"`
	EmailConfirmed bool       `json:"email_confirmed"`
	LockoutEnd     *time.Time `json:"lockout_end,omitempty"`
	Roles          []string   `json:"roles"`
	CreatedAt      time.Time  `json:"created_at"`
}

func toUserDTO(u *models.User, roles []string) *UserDTO {
	if roles == nil {
		roles = []string{}
	}
	return &UserDTO{
		ID:             u.ID,
		UserName:       u.UserName,
		Email:          u.Email,
		DisplayName:    u.DisplayName,
		EmailConfirmed: u.EmailConfirmed,
		LockoutEnd:     u.LockoutEnd,
		Roles:          roles,
		CreatedAt:      u.CreatedAt,
	}
}

func validateRegistration(req *RegisterRequest) error {
	var problems []string
	if !utils.ValidateUserName(req.UserName) {
		problems = append(problems, "username must be 3-32 letters, digits, '_' or '-'")
	}
	if !utils.ValidateEmail(req.Email) {
		problems = append(problems, "invalid email")
	}
	if !utils.ValidatePassword(req.Password) {
		problems = append(problems, "password must be 8-72 characters with a letter and a digit")
	}
	if len(req.DisplayName) > 128 {
		problems = append(problems, "display name too long")
	}
	if len(problems) > 0 {
		return invalid(problems...)
	}
	return nil
}

// Register 注册用户. 仅邀请模式下先校验邀请, 建号后再兑换; 兑换失败则删除新用户.
func (s *AuthService) Register(ctx context.Context, req *RegisterRequest, clientIP string) (*AuthResponse, error) {
	const op = "services.AuthService.Register"

	req.UserName = strings.TrimSpace(req.UserName)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateRegistration(req); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	viaEmailInvite := false
	if s.cfg.InviteOnly {
		switch {
		case req.InviteToken != "":
			invite, err := s.invites.ValidateEmailInvite(ctx, req.InviteToken)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if !invite.MatchesEmail(req.Email) {
				return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
			}
			viaEmailInvite = true
		case req.InviteCode != "":
			if _, err := s.invites.ValidateCode(ctx, req.InviteCode); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		default:
			return nil, fmt.Errorf("%s: %w", op, ErrInviteRequired)
		}
	}

	if _, err := s.users.FindByUserName(ctx, req.UserName); err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = req.UserName
	}
	user := &models.User{
		UserName:       req.UserName,
		Email:          req.Email,
		DisplayName:    displayName,
		EmailConfirmed: viaEmailInvite,
		LockoutEnabled: true,
	}
	if err := s.users.Create(ctx, user, req.Password); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if s.cfg.InviteOnly {
		var redeemErr error
		if viaEmailInvite {
			_, redeemErr = s.invites.RedeemEmailInvite(ctx, req.InviteToken, req.Email, user.ID)
		} else {
			_, redeemErr = s.invites.Redeem(ctx, req.InviteCode, user.ID)
		}
		if redeemErr != nil {
			if err := s.users.Delete(ctx, user.ID); err != nil {
				s.logger.Error("rollback user after failed redemption", zap.Uint("user_id", user.ID), zap.Error(err))
			}
			return nil, fmt.Errorf("%s: %w", op, redeemErr)
		}
	}

	if role := s.cfg.DefaultRole; role != "" {
		if err := s.users.AddToRole(ctx, user.ID, role); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventUserRegistered, user.ID, user.UserName,
		map[string]any{"via_invite": s.cfg.InviteOnly}))

	roles, err := s.users.GetRoles(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp := &AuthResponse{User: toUserDTO(user, roles)}
	if s.cfg.RequireConfirmedEmail && !user.EmailConfirmed {
		return resp, nil
	}
	if resp.Tokens, err = s.tokens.Issue(ctx, user, clientIP); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

func (s *AuthService) findLogin(ctx context.Context, login string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return s.users.FindByEmail(ctx, strings.ToLower(login))
	}
	return s.users.FindByUserName(ctx, login)
}

// burnPassword 用户不存在时也做一次 bcrypt 比较
func (s *AuthService) burnPassword(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = utils.HashPassword("warden-dummy-password-1", s.cfg.BcryptCost)
	})
	utils.CheckPassword(s.dummyHash, password)
}

// Login 用户名或邮箱登录, 连续失败达到阈值后锁定
func (s *AuthService) Login(ctx context.Context, req *LoginRequest, clientIP string) (*AuthResponse, error) {
	const op = "services.AuthService.Login"

	user, err := s.findLogin(ctx, req.Login)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			s.burnPassword(req.Password)
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	if user.IsLockedOut(now) {
		return nil, fmt.Errorf("%s: %w", op, ErrLockedOut)
	}

	if !s.users.CheckPassword(ctx, user, req.Password) {
		failed, err := s.users.AccessFailed(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if user.LockoutEnabled && s.cfg.MaxFailedAttempts > 0 && failed >= s.cfg.MaxFailedAttempts {
			until := now.Add(time.Duration(s.cfg.LockoutMinutes) * time.Minute)
			if err := s.users.SetLockout(ctx, user.ID, &until); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if err := s.users.ResetAccessFailed(ctx, user.ID); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			s.logger.Warn("account locked out", zap.Uint("user_id", user.ID), zap.String("ip", clientIP))
			emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventUserLockedOut, user.ID, user.UserName,
				map[string]any{"until": until, "ip": clientIP}))
			return nil, fmt.Errorf("%s: %w", op, ErrLockedOut)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if s.cfg.RequireConfirmedEmail && !user.EmailConfirmed {
		return nil, fmt.Errorf("%s: %w", op, ErrEmailNotConfirmed)
	}
	if user.AccessFailedCount > 0 || user.LockoutEnd != nil {
		if err := s.users.ResetAccessFailed(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	tokens, err := s.tokens.Issue(ctx, user, clientIP)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	roles, err := s.users.GetRoles(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &AuthResponse{User: toUserDTO(user, roles), Tokens: tokens}, nil
}

// Logout 吊销给定刷新令牌; all 为 true 时吊销该用户全部令牌
func (s *AuthService) Logout(ctx context.Context, userID uint, refreshToken string, all bool) error {
	if all {
		_, err := s.tokens.RevokeAll(ctx, userID)
		return err
	}
	return s.tokens.Revoke(ctx, refreshToken)
}

// Profile 当前用户信息
func (s *AuthService) Profile(ctx context.Context, userID uint) (*UserDTO, error) {
	const op = "services.AuthService.Profile"

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	roles, err := s.users.GetRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return toUserDTO(user, roles), nil
}
