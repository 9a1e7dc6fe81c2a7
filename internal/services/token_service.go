package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/pkg/metrics"
	"github.com/Gopher0727/Warden/internal/repositories"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/middleware/jwt"
	"github.com/Gopher0727/Warden/pkg/mq"
)

const refreshSecretBytes = 64

// TokenPair 访问令牌与刷新令牌
type TokenPair struct {
	AccessToken           string    `json:"access_token"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshToken          string    `json:"refresh_token"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at"`
	TokenType             string    `json:"token_type"`
}

// TokenService 刷新令牌账本与访问令牌签发
//
// 账本只保存刷新令牌的 SHA-256 摘要, 明文只在签发时返回给客户端一次.
type TokenService struct {
	tokens    RefreshTokenStore
	users     CredentialStore
	tm        *jwt.TokenManager
	cfg       *config.JWTConfig
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewTokenService(tokens RefreshTokenStore, users CredentialStore, tm *jwt.TokenManager, cfg *config.JWTConfig, publisher EventPublisher, m *metrics.Metrics, logger *zap.Logger) *TokenService {
	return &TokenService{
		tokens:    tokens,
		users:     users,
		tm:        tm,
		cfg:       cfg,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// newRefreshToken 生成明文与对应的账本行
func (s *TokenService) newRefreshToken(userID uint, clientIP string, now time.Time) (string, *models.RefreshToken, error) {
	secret, err := utils.RandomToken(refreshSecretBytes)
	if err != nil {
		return "", nil, err
	}
	row := &models.RefreshToken{
		Token:       utils.TokenDigest(secret),
		UserID:      userID,
		CreatedAt:   now,
		ExpiryDate:  now.Add(s.cfg.RefreshTokenTTL()),
		CreatedByIP: clientIP,
	}
	return secret, row, nil
}

func (s *TokenService) mintAccess(ctx context.Context, user *models.User) (string, time.Time, error) {
	roles, err := s.users.GetRoles(ctx, user.ID)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.tm.GenerateToken(user.ID, user.UserName, user.Email, roles)
}

// Issue 为用户签发新的令牌对
func (s *TokenService) Issue(ctx context.Context, user *models.User, clientIP string) (*TokenPair, error) {
	const op = "services.TokenService.Issue"

	access, accessExp, err := s.mintAccess(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	secret, row, err := s.newRefreshToken(user.ID, clientIP, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.tokens.Create(ctx, row); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.TokenEvent("issued")
	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          secret,
		RefreshTokenExpiresAt: row.ExpiryDate,
		TokenType:             "Bearer",
	}, nil
}

// Refresh 轮换刷新令牌. 角色按当前分配重新读取.
func (s *TokenService) Refresh(ctx context.Context, refreshToken, clientIP string) (*TokenPair, error) {
	const op = "services.TokenService.Refresh"

	if refreshToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}
	digest := utils.TokenDigest(refreshToken)
	now := s.now()

	row, err := s.tokens.FindByToken(ctx, digest)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !row.IsActive(now) {
		if row.IsRevoked && row.ReplacedByToken != nil {
			s.onReuse(ctx, row)
		}
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := s.users.FindByID(ctx, row.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.IsLockedOut(now) {
		return nil, fmt.Errorf("%s: %w", op, ErrLockedOut)
	}

	// 先签发访问令牌: 轮换之前的任何失败都让旧令牌保持有效
	access, accessExp, err := s.mintAccess(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	secret, next, err := s.newRefreshToken(user.ID, clientIP, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.tokens.Rotate(ctx, digest, next, now); err != nil {
		// 并发轮换中落败的一方
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.metrics.TokenEvent("rotated")
	return &TokenPair{
		AccessToken:           access,
		AccessTokenExpiresAt:  accessExp,
		RefreshToken:          secret,
		RefreshTokenExpiresAt: next.ExpiryDate,
		TokenType:             "Bearer",
	}, nil
}

// onReuse 已轮换的令牌再次出现
func (s *TokenService) onReuse(ctx context.Context, row *models.RefreshToken) {
	s.metrics.TokenEvent("reuse")
	s.logger.Warn("rotated refresh token presented again",
		zap.Uint("user_id", row.UserID),
		zap.Bool("revoke_chain", s.cfg.RevokeChainOnReuse),
	)
	if !s.cfg.RevokeChainOnReuse {
		return
	}
	n, err := s.tokens.RevokeAllForUser(ctx, row.UserID, s.now())
	if err != nil {
		s.logger.Error("revoke tokens after reuse failed", zap.Uint("user_id", row.UserID), zap.Error(err))
		return
	}
	emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventTokenReuseDetected, row.UserID, "refresh_token",
		map[string]any{"revoked": n, "created_by_ip": row.CreatedByIP}))
}

// Revoke 幂等; 未知或已失效的令牌不报错
func (s *TokenService) Revoke(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return nil
	}
	revoked, err := s.tokens.Revoke(ctx, utils.TokenDigest(refreshToken), s.now())
	if err != nil {
		return fmt.Errorf("services.TokenService.Revoke: %w", err)
	}
	if revoked {
		s.metrics.TokenEvent("revoked")
	}
	return nil
}

// RevokeAll 吊销用户全部有效令牌
func (s *TokenService) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	n, err := s.tokens.RevokeAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("services.TokenService.RevokeAll: %w", err)
	}
	emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventTokensRevoked, userID, "refresh_token", map[string]any{"revoked": n}))
	return n, nil
}

// ValidateAccessToken 校验签名、算法、签发方与受众, 不检查有效期
func (s *TokenService) ValidateAccessToken(_ context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.tm.ValidateToken(token)
	if err != nil {
		return nil, fmt.Errorf("services.TokenService.ValidateAccessToken: %w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

// Authenticate 在 ValidateAccessToken 基础上按配置的时钟偏差检查有效期
func (s *TokenService) Authenticate(ctx context.Context, token string) (*jwt.Claims, error) {
	const op = "services.TokenService.Authenticate"

	claims, err := s.ValidateAccessToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.tm.CheckExpiry(claims, s.cfg.ClockSkew); err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return nil, fmt.Errorf("%s: %w: %w", op, ErrExpired, err)
		}
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}
	return claims, nil
}

// CleanupExpired 删除已吊销或已过期的账本行
func (s *TokenService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteInactive(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("services.TokenService.CleanupExpired: %w", err)
	}
	s.metrics.Swept("refresh_tokens", n)
	return n, nil
}
