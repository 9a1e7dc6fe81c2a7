package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Gopher0727/Warden/internal/models"
)

// RefreshTokenRepository 刷新令牌台账
type RefreshTokenRepository struct {
	db *gorm.DB
}

func NewRefreshTokenRepository(db *gorm.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token *models.RefreshToken) error {
	const op = "repositories.RefreshTokenRepository.Create"
	return translate(op, r.db.WithContext(ctx).Create(token).Error)
}

func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	const op = "repositories.RefreshTokenRepository.FindByToken"

	var t models.RefreshToken
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&t).Error; err != nil {
		return nil, translate(op, err)
	}
	return &t, nil
}

// Rotate 在同一事务内撤销旧令牌并写入新令牌.
// 旧令牌已撤销或过期时没有行被更新, 返回 ErrNotFound, 事务回滚.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldToken string, next *models.RefreshToken, now time.Time) error {
	const op = "repositories.RefreshTokenRepository.Rotate"

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.RefreshToken{}).
			Where("token = ? AND is_revoked = ? AND expiry_date > ?", oldToken, false, now).
			Updates(map[string]any{
				"is_revoked":        true,
				"revoked_at":        now,
				"replaced_by_token": next.Token,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Create(next).Error
	})
	return translate(op, err)
}

// Revoke 撤销单个活跃令牌, 返回是否有行被更新
func (r *RefreshTokenRepository) Revoke(ctx context.Context, token string, now time.Time) (bool, error) {
	const op = "repositories.RefreshTokenRepository.Revoke"

	res := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("token = ? AND is_revoked = ?", token, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now})
	if res.Error != nil {
		return false, translate(op, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID uint, now time.Time) (int64, error) {
	const op = "repositories.RefreshTokenRepository.RevokeAllForUser"

	res := r.db.WithContext(ctx).Model(&models.RefreshToken{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now})
	if res.Error != nil {
		return 0, translate(op, res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteInactive 删除已撤销或已过期的令牌
func (r *RefreshTokenRepository) DeleteInactive(ctx context.Context, now time.Time) (int64, error) {
	const op = "repositories.RefreshTokenRepository.DeleteInactive"

	res := r.db.WithContext(ctx).
		Where("is_revoked = ? OR expiry_date <= ?", true, now).
		Delete(&models.RefreshToken{})
	if res.Error != nil {
		return 0, fmt.Errorf("%s: %w", op, res.Error)
	}
	return res.RowsAffected, nil
}
