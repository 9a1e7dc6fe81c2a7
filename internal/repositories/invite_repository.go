package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/Warden/internal/models"
)

// InviteRepository 邀请码与邮件邀请
type InviteRepository struct {
	db *gorm.DB
}

func NewInviteRepository(db *gorm.DB) *InviteRepository {
	return &InviteRepository{db: db}
}

// CreateCode 邀请码冲突时返回 ErrAlreadyExists, 由调用方重试
func (r *InviteRepository) CreateCode(ctx context.Context, code *models.InviteCode) error {
	const op = "repositories.InviteRepository.CreateCode"
	return translate(op, r.db.WithContext(ctx).Create(code).Error)
}

// CountActiveCodes 统计创建者名下未使用且未过期的邀请码
func (r *InviteRepository) CountActiveCodes(ctx context.Context, creatorID uint, now time.Time) (int64, error) {
	const op = "repositories.InviteRepository.CountActiveCodes"

	var n int64
	err := r.db.WithContext(ctx).Model(&models.InviteCode{}).
		Where("created_by_user_id = ? AND is_used = ? AND expires_at >= ?", creatorID, false, now).
		Count(&n).Error
	if err != nil {
		return 0, translate(op, err)
	}
	return n, nil
}

func (r *InviteRepository) FindCode(ctx context.Context, code string) (*models.InviteCode, error) {
	const op = "repositories.InviteRepository.FindCode"

	var c models.InviteCode
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&c).Error; err != nil {
		return nil, translate(op, err)
	}
	return &c, nil
}

// MarkCodeUsed 条件更新: 只有未使用且未过期的行会被标记.
// 返回 false 表示没有行被更新 (已用, 已过期或不存在).
func (r *InviteRepository) MarkCodeUsed(ctx context.Context, code string, userID uint, now time.Time) (bool, error) {
	const op = "repositories.InviteRepository.MarkCodeUsed"

	res := r.db.WithContext(ctx).Model(&models.InviteCode{}).
		Where("code = ? AND is_used = ? AND expires_at >= ?", code, false, now).
		Updates(map[string]any{
			"is_used":         true,
			"used_at":         now,
			"used_by_user_id": userID,
		})
	if res.Error != nil {
		return false, translate(op, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *InviteRepository) ListCodes(ctx context.Context, creatorID uint, limit, offset int) ([]models.InviteCode, error) {
	const op = "repositories.InviteRepository.ListCodes"

	var codes []models.InviteCode
	db := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if creatorID != 0 {
		db = db.Where("created_by_user_id = ?", creatorID)
	}
	if err := db.Find(&codes).Error; err != nil {
		return nil, translate(op, err)
	}
	return codes, nil
}

func (r *InviteRepository) CreateEmailInvite(ctx context.Context, invite *models.EmailInvite) error {
	const op = "repositories.InviteRepository.CreateEmailInvite"
	return translate(op, r.db.WithContext(ctx).Create(invite).Error)
}

func (r *InviteRepository) FindEmailInvite(ctx context.Context, token string) (*models.EmailInvite, error) {
	const op = "repositories.InviteRepository.FindEmailInvite"

	var inv models.EmailInvite
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&inv).Error; err != nil {
		return nil, translate(op, err)
	}
	return &inv, nil
}

func (r *InviteRepository) MarkEmailInviteUsed(ctx context.Context, token string, userID uint, now time.Time) (bool, error) {
	const op = "repositories.InviteRepository.MarkEmailInviteUsed"

	res := r.db.WithContext(ctx).Model(&models.EmailInvite{}).
		Where("token = ? AND is_used = ? AND expires_at >= ?", token, false, now).
		Updates(map[string]any{
			"is_used":         true,
			"used_at":         now,
			"used_by_user_id": userID,
		})
	if res.Error != nil {
		return false, translate(op, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *InviteRepository) ListEmailInvites(ctx context.Context, creatorID uint, limit, offset int) ([]models.EmailInvite, error) {
	const op = "repositories.InviteRepository.ListEmailInvites"

	var invites []models.EmailInvite
	db := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if creatorID != 0 {
		db = db.Where("created_by_user_id = ?", creatorID)
	}
	if err := db.Find(&invites).Error; err != nil {
		return nil, translate(op, err)
	}
	return invites, nil
}

// DeleteExpired 删除已过期且未使用的邀请码和邮件邀请, 已使用的保留作审计
func (r *InviteRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "repositories.InviteRepository.DeleteExpired"

	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("expires_at < ? AND is_used = ?", now, false).Delete(&models.InviteCode{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected

		res = tx.Where("expires_at < ? AND is_used = ?", now, false).Delete(&models.EmailInvite{})
		if res.Error != nil {
			return res.Error
		}
		removed += res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return removed, nil
}
