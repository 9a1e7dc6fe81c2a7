package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/pkg/metrics"
	"github.com/Gopher0727/Warden/internal/repositories"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/pkg/mq"
)

const (
	emailTokenBytes   = 48
	maxCodeAttempts   = 5
	maxInviteNotesLen = 500
)

// InviteService 邀请码与邮件邀请的签发、校验与兑换
type InviteService struct {
	store     InviteStore
	cfg       *config.InviteConfig
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// 查询未命中时参与比较的占位行, 使各分支耗时一致
	dummyCode   models.InviteCode
	dummyInvite models.EmailInvite
}

// NewInviteService 创建邀请服务
func NewInviteService(store InviteStore, cfg *config.InviteConfig, publisher EventPublisher, m *metrics.Metrics, logger *zap.Logger) *InviteService {
	return &InviteService{
		store:       store,
		cfg:         cfg,
		publisher:   publisher,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
		dummyCode:   models.InviteCode{Code: strings.Repeat("#", cfg.CodeLength)},
		dummyInvite: models.EmailInvite{Token: strings.Repeat("#", 64)},
	}
}

func expiration(defaultHours int, override *int) (time.Duration, error) {
	hours := defaultHours
	if override != nil {
		if *override <= 0 {
			return 0, invalid("expiration_hours must be positive")
		}
		hours = *override
	}
	return time.Duration(hours) * time.Hour, nil
}

// GenerateCode 生成 8 位邀请码
func (s *InviteService) GenerateCode(ctx context.Context, creatorID uint, notes string, expirationHours *int) (*models.InviteCode, error) {
	const op = "services.InviteService.GenerateCode"

	ttl, err := expiration(s.cfg.CodeExpirationHours, expirationHours)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(notes) > maxInviteNotesLen {
		return nil, fmt.Errorf("%s: %w", op, invalid("notes too long"))
	}

	now := s.now()
	if limit := s.cfg.MaxActiveCodesPerUser; limit > 0 {
		active, err := s.store.CountActiveCodes(ctx, creatorID, now)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if active >= int64(limit) {
			return nil, fmt.Errorf("%s: %w", op, ErrQuotaExceeded)
		}
	}

	for range maxCodeAttempts {
		code, err := utils.RandomString(s.cfg.CodeAlphabet, s.cfg.CodeLength)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		row := &models.InviteCode{
			Code:            code,
			CreatedAt:       now,
			ExpiresAt:       now.Add(ttl),
			CreatedByUserID: creatorID,
			Notes:           notes,
		}
		err = s.store.CreateCode(ctx, row)
		if errors.Is(err, repositories.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		s.metrics.InviteEvent("code", "created")
		return row, nil
	}
	return nil, fmt.Errorf("%s: no free code after %d attempts", op, maxCodeAttempts)
}

// GenerateEmailInvite 生成绑定邮箱的 64 字符令牌
func (s *InviteService) GenerateEmailInvite(ctx context.Context, email string, creatorID uint, notes string, expirationHours *int) (*models.EmailInvite, error) {
	const op = "services.InviteService.GenerateEmailInvite"

	email = strings.ToLower(strings.TrimSpace(email))
	if !utils.ValidateEmail(email) {
		return nil, fmt.Errorf("%s: %w", op, invalid("invalid email"))
	}
	if len(notes) > maxInviteNotesLen {
		return nil, fmt.Errorf("%s: %w", op, invalid("notes too long"))
	}
	ttl, err := expiration(s.cfg.EmailExpirationHours, expirationHours)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token, err := utils.RandomToken(emailTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	invite := &models.EmailInvite{
		Token:           token,
		Email:           email,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
		CreatedByUserID: creatorID,
		Notes:           notes,
	}
	if err := s.store.CreateEmailInvite(ctx, invite); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.metrics.InviteEvent("email", "created")
	return invite, nil
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ValidateCode 仅返回有效的邀请码. 不存在、已用、已过期一律 ErrNotFound,
// 且三种情况执行相同的查询与比较.
func (s *InviteService) ValidateCode(ctx context.Context, code string) (*models.InviteCode, error) {
	const op = "services.InviteService.ValidateCode"

	code = strings.ToUpper(strings.TrimSpace(code))
	row, err := s.store.FindCode(ctx, code)
	found := 1
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		found = 0
		row = &s.dummyCode
	}

	match := subtle.ConstantTimeCompare([]byte(row.Code), []byte(code))
	valid := bit(row.IsValid(s.now()))
	if found&match&valid != 1 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return row, nil
}

// ValidateEmailInvite 同 ValidateCode
func (s *InviteService) ValidateEmailInvite(ctx context.Context, token string) (*models.EmailInvite, error) {
	const op = "services.InviteService.ValidateEmailInvite"

	token = strings.TrimSpace(token)
	row, err := s.store.FindEmailInvite(ctx, token)
	found := 1
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		found = 0
		row = &s.dummyInvite
	}

	match := subtle.ConstantTimeCompare([]byte(row.Token), []byte(token))
	valid := bit(row.IsValid(s.now()))
	if found&match&valid != 1 {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return row, nil
}

// Redeem 条件更新兑换邀请码, 并发兑换只有一个成功
func (s *InviteService) Redeem(ctx context.Context, code string, userID uint) (*models.InviteCode, error) {
	const op = "services.InviteService.Redeem"

	code = strings.ToUpper(strings.TrimSpace(code))
	now := s.now()
	ok, err := s.store.MarkCodeUsed(ctx, code, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	row, findErr := s.store.FindCode(ctx, code)
	if !ok {
		s.metrics.InviteEvent("code", "rejected")
		return nil, fmt.Errorf("%s: %w", op, redeemFailure(findErr, row != nil && row.IsUsed, row != nil && row.IsExpired(now)))
	}
	if findErr != nil {
		return nil, fmt.Errorf("%s: %w", op, findErr)
	}

	s.metrics.InviteEvent("code", "redeemed")
	emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventInviteRedeemed, userID, "invite_code", map[string]any{"created_by": row.CreatedByUserID}))
	return row, nil
}

// RedeemEmailInvite 兑换邮件邀请, 注册邮箱须与邀请邮箱一致
func (s *InviteService) RedeemEmailInvite(ctx context.Context, token, email string, userID uint) (*models.EmailInvite, error) {
	const op = "services.InviteService.RedeemEmailInvite"

	token = strings.TrimSpace(token)
	invite, err := s.store.FindEmailInvite(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !invite.MatchesEmail(email) {
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	now := s.now()
	ok, err := s.store.MarkEmailInviteUsed(ctx, token, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	row, findErr := s.store.FindEmailInvite(ctx, token)
	if !ok {
		s.metrics.InviteEvent("email", "rejected")
		return nil, fmt.Errorf("%s: %w", op, redeemFailure(findErr, row != nil && row.IsUsed, row != nil && row.IsExpired(now)))
	}
	if findErr != nil {
		return nil, fmt.Errorf("%s: %w", op, findErr)
	}

	s.metrics.InviteEvent("email", "redeemed")
	emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventInviteRedeemed, userID, "email_invite", map[string]any{"created_by": row.CreatedByUserID}))
	return row, nil
}

// redeemFailure 条件更新未命中时, 按重读结果给出原因
func redeemFailure(findErr error, used, expired bool) error {
	switch {
	case errors.Is(findErr, repositories.ErrNotFound):
		return ErrNotFound
	case findErr != nil:
		return findErr
	case used:
		return ErrAlreadyUsed
	case expired:
		return ErrExpired
	default:
		return ErrAlreadyUsed
	}
}

// ListCodes creatorID 为 0 时列出全部
func (s *InviteService) ListCodes(ctx context.Context, creatorID uint, limit, offset int) ([]models.InviteCode, error) {
	limit, offset = page(limit, offset)
	codes, err := s.store.ListCodes(ctx, creatorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("services.InviteService.ListCodes: %w", err)
	}
	return codes, nil
}

func (s *InviteService) ListEmailInvites(ctx context.Context, creatorID uint, limit, offset int) ([]models.EmailInvite, error) {
	limit, offset = page(limit, offset)
	invites, err := s.store.ListEmailInvites(ctx, creatorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("services.InviteService.ListEmailInvites: %w", err)
	}
	return invites, nil
}

// CleanupExpired 删除过期且未使用的邀请
func (s *InviteService) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("services.InviteService.CleanupExpired: %w", err)
	}
	s.metrics.Swept("invites", n)
	return n, nil
}
