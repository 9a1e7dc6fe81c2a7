package repositories

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Gopher0727/Warden/internal/models"
)

// MediaRepository 媒体文件元数据与访问授权
type MediaRepository struct {
	db *gorm.DB
}

func NewMediaRepository(db *gorm.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Create 同一上传者重复内容触发部分唯一索引, 返回 ErrAlreadyExists
func (r *MediaRepository) Create(ctx context.Context, file *models.MediaFile) error {
	const op = "repositories.MediaRepository.Create"
	return translate(op, r.db.WithContext(ctx).Omit(clause.Associations).Create(file).Error)
}

// FindByID 包括已软删除的行, 由调用方判断可见性
func (r *MediaRepository) FindByID(ctx context.Context, id int64) (*models.MediaFile, error) {
	const op = "repositories.MediaRepository.FindByID"

	var f models.MediaFile
	if err := r.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, translate(op, err)
	}
	return &f, nil
}

func (r *MediaRepository) FindActiveByHash(ctx context.Context, uploaderID uint, hash string) (*models.MediaFile, error) {
	const op = "repositories.MediaRepository.FindActiveByHash"

	var f models.MediaFile
	err := r.db.WithContext(ctx).
		Where("uploaded_by_user_id = ? AND file_hash = ? AND processing_status <> ?", uploaderID, hash, models.StatusDeleted).
		First(&f).Error
	if err != nil {
		return nil, translate(op, err)
	}
	return &f, nil
}

// UpdateMetadata 条件更新, 不写状态和缩略图列
func (r *MediaRepository) UpdateMetadata(ctx context.Context, id int64, ownerID uint, meta models.MediaMetadata, now time.Time) error {
	const op = "repositories.MediaRepository.UpdateMetadata"

	res := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND uploaded_by_user_id = ? AND processing_status <> ?", id, ownerID, models.StatusDeleted).
		Updates(map[string]any{
			"title":       meta.Title,
			"description": meta.Description,
			"visibility":  meta.Visibility,
			"category":    meta.Category,
			"updated_at":  now,
		})
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// UpdateProcessing 缩略图任务回写结果, 不会复活已删除的行; 行不存在或已删除时返回 ErrNotFound
func (r *MediaRepository) UpdateProcessing(ctx context.Context, id int64, status models.ProcessingStatus, thumbnailPath string, width, height int) error {
	const op = "repositories.MediaRepository.UpdateProcessing"

	res := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND processing_status <> ?", id, models.StatusDeleted).
		Updates(map[string]any{
			"processing_status": status,
			"thumbnail_path":    thumbnailPath,
			"width":             width,
			"height":            height,
		})
	if res.Error != nil {
		return translate(op, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func (r *MediaRepository) IncrementAccess(ctx context.Context, id int64, now time.Time) error {
	const op = "repositories.MediaRepository.IncrementAccess"

	err := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"access_count":     gorm.Expr("access_count + 1"),
			"last_accessed_at": now,
		}).Error
	return translate(op, err)
}

// SoftDelete 仅所有者可删除; 返回 false 表示不存在, 非所有者或已删除
func (r *MediaRepository) SoftDelete(ctx context.Context, id int64, ownerID uint, now time.Time) (bool, error) {
	const op = "repositories.MediaRepository.SoftDelete"

	res := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("id = ? AND uploaded_by_user_id = ? AND processing_status <> ?", id, ownerID, models.StatusDeleted).
		Updates(map[string]any{
			"processing_status": models.StatusDeleted,
			"deleted_at":        now,
		})
	if res.Error != nil {
		return false, translate(op, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *MediaRepository) ListByOwner(ctx context.Context, ownerID uint, limit, offset int) ([]models.MediaFile, int64, error) {
	const op = "repositories.MediaRepository.ListByOwner"

	var (
		files []models.MediaFile
		total int64
	)
	q := r.db.WithContext(ctx).Model(&models.MediaFile{}).
		Where("uploaded_by_user_id = ? AND processing_status <> ?", ownerID, models.StatusDeleted).
		Session(&gorm.Session{})
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(op, err)
	}
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&files).Error; err != nil {
		return nil, 0, translate(op, err)
	}
	return files, total, nil
}

func (r *MediaRepository) ListDeleted(ctx context.Context, limit int) ([]models.MediaFile, error) {
	const op = "repositories.MediaRepository.ListDeleted"

	var files []models.MediaFile
	err := r.db.WithContext(ctx).
		Where("processing_status = ?", models.StatusDeleted).
		Order("deleted_at").
		Limit(limit).
		Find(&files).Error
	if err != nil {
		return nil, translate(op, err)
	}
	return files, nil
}

// Purge 物理删除已软删除的行及其授权
func (r *MediaRepository) Purge(ctx context.Context, id int64) error {
	const op = "repositories.MediaRepository.Purge"

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&models.MediaFile{}).
			Where("id = ? AND processing_status = ?", id, models.StatusDeleted).
			Count(&n).Error
		if err != nil || n == 0 {
			return err
		}
		if err := tx.Where("media_file_id = ?", id).Delete(&models.MediaFileAccess{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ? AND processing_status = ?", id, models.StatusDeleted).
			Delete(&models.MediaFile{}).Error
	})
	return translate(op, err)
}

func (r *MediaRepository) CreateGrant(ctx context.Context, grant *models.MediaFileAccess) error {
	const op = "repositories.MediaRepository.CreateGrant"
	return translate(op, r.db.WithContext(ctx).Create(grant).Error)
}

func (r *MediaRepository) ListGrants(ctx context.Context, fileID int64) ([]models.MediaFileAccess, error) {
	const op = "repositories.MediaRepository.ListGrants"

	var grants []models.MediaFileAccess
	if err := r.db.WithContext(ctx).Where("media_file_id = ?", fileID).Order("id").Find(&grants).Error; err != nil {
		return nil, translate(op, err)
	}
	return grants, nil
}

func (r *MediaRepository) RevokeGrant(ctx context.Context, fileID int64, grantID uint, now time.Time) (bool, error) {
	const op = "repositories.MediaRepository.RevokeGrant"

	res := r.db.WithContext(ctx).Model(&models.MediaFileAccess{}).
		Where("id = ? AND media_file_id = ? AND revoked = ?", grantID, fileID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": now})
	if res.Error != nil {
		return false, translate(op, res.Error)
	}
	return res.RowsAffected == 1, nil
}
