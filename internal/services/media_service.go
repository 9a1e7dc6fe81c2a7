package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"regexp"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/pkg/blob"
	"github.com/Gopher0727/Warden/internal/pkg/metrics"
	"github.com/Gopher0727/Warden/internal/pkg/thumbnail"
	"github.com/Gopher0727/Warden/internal/repositories"
	"github.com/Gopher0727/Warden/internal/utils"
	"github.com/Gopher0727/Warden/pkg/mq"
)

// Variant 媒体输出形式
type Variant string

const (
	VariantOriginal  Variant = "original"
	VariantDownload  Variant = "download"
	VariantThumbnail Variant = "thumbnail"
)

func (v Variant) permission() models.Permission {
	if v == VariantDownload {
		return models.PermissionDownload
	}
	return models.PermissionRead
}

// Requester 发起访问的已认证用户; 匿名访问传 nil
type Requester struct {
	UserID uint
	Roles  []string
}

// IDGenerator 媒体文件 ID 生成
type IDGenerator interface {
	NextID() (int64, error)
}

// JobRunner 后台任务执行
type JobRunner interface {
	Submit(ctx context.Context, job utils.Job) error
}

// UploadRequest 上传请求
type UploadRequest struct {
	Content     io.Reader
	FileName    string
	ContentType string
	UserID      uint
	Category    models.MediaCategory
	Title       string
	Description string
	Visibility  models.Visibility
}

// UploadResult Deduplicated 为 true 时 File 是已存在的记录
type UploadResult struct {
	File         *models.MediaFile `json:"file"`
	Deduplicated bool              `json:"deduplicated"`
}

// MediaPatch 元数据修改, nil 字段保持不变
type MediaPatch struct {
	Title       *string               `json:"title"`
	Description *string               `json:"description"`
	Visibility  *models.Visibility    `json:"visibility"`
	Category    *models.MediaCategory `json:"category"`
}

// GrantRequest 授权对象为用户或角色, 二选一
type GrantRequest struct {
	UserID     *uint             `json:"user_id"`
	RoleName   string            `json:"role_name"`
	Permission models.Permission `json:"permission" binding:"required"`
	ExpiresAt  *time.Time        `json:"expires_at"`
}

// MediaService 媒体上传、访问控制、软删除与清理
type MediaService struct {
	store     MediaStore
	blobs     blob.Provider
	ids       IDGenerator
	jobs      JobRunner
	notifier  Notifier
	publisher EventPublisher
	cfg       *config.MediaConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewMediaService(store MediaStore, blobs blob.Provider, ids IDGenerator, jobs JobRunner, notifier Notifier, publisher EventPublisher, cfg *config.MediaConfig, m *metrics.Metrics, logger *zap.Logger) *MediaService {
	return &MediaService{
		store:     store,
		blobs:     blobs,
		ids:       ids,
		jobs:      jobs,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// storageExt 存储键只保留安全的扩展名
func storageExt(fileName string) string {
	ext := strings.ToLower(path.Ext(fileName))
	if extPattern.MatchString(ext) {
		return ext
	}
	return ""
}

func (s *MediaService) allowedType(contentType string) (string, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType, slices.ContainsFunc(s.cfg.AllowedMIMETypes, func(t string) bool {
		return strings.EqualFold(t, mediaType)
	})
}

func validateText(title, description string) []string {
	var problems []string
	if len(title) > 255 {
		problems = append(problems, "title too long")
	}
	if len(description) > 2000 {
		problems = append(problems, "description too long")
	}
	return problems
}

// Upload 读取内容并计算 SHA-256; 同一上传者已有相同内容时直接返回已有记录
func (s *MediaService) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	const op = "services.MediaService.Upload"

	if req.UserID == 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	data, err := io.ReadAll(io.LimitReader(req.Content, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%s: read content: %w", op, err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		s.metrics.Upload("rejected")
		return nil, fmt.Errorf("%s: %w", op, invalid(fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxUploadBytes)))
	}
	if len(data) == 0 {
		s.metrics.Upload("rejected")
		return nil, fmt.Errorf("%s: %w", op, invalid("file is empty"))
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	existing, err := s.store.FindActiveByHash(ctx, req.UserID, hash)
	if err == nil {
		s.metrics.Upload("deduplicated")
		return &UploadResult{File: existing, Deduplicated: true}, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	contentType, ok := s.allowedType(req.ContentType)
	var problems []string
	if !ok {
		problems = append(problems, fmt.Sprintf("content type %q is not allowed", req.ContentType))
	}
	category := req.Category
	if category == "" {
		category = models.CategoryGeneral
	}
	if !category.Valid() {
		problems = append(problems, "unknown category")
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = models.VisibilityPrivate
	}
	if !visibility.Valid() {
		problems = append(problems, "unknown visibility")
	}
	problems = append(problems, validateText(req.Title, req.Description)...)
	if len(problems) > 0 {
		s.metrics.Upload("rejected")
		return nil, fmt.Errorf("%s: %w", op, invalid(problems...))
	}

	now := s.now()
	name := utils.SanitizeFileName(req.FileName, "file")
	key := blob.NewKey(string(category), now, storageExt(name))
	if err := s.blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("%s: store blob: %w", op, err)
	}

	id, err := s.ids.NextID()
	if err != nil {
		s.discard(ctx, key)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	file := &models.MediaFile{
		ID:               id,
		FileHash:         hash,
		UploadedByUserID: req.UserID,
		StoragePath:      key,
		OriginalFileName: name,
		ContentType:      contentType,
		FileSize:         int64(len(data)),
		Category:         category,
		Visibility:       visibility,
		ProcessingStatus: models.StatusReady,
		Title:            strings.TrimSpace(req.Title),
		Description:      strings.TrimSpace(req.Description),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	thumb := file.IsImage() && s.jobs != nil
	if thumb {
		file.ProcessingStatus = models.StatusProcessing
	}

	if err := s.store.Create(ctx, file); err != nil {
		s.discard(ctx, key)
		if errors.Is(err, repositories.ErrAlreadyExists) {
			// 并发的相同上传已先写入
			winner, findErr := s.store.FindActiveByHash(ctx, req.UserID, hash)
			if findErr != nil {
				return nil, fmt.Errorf("%s: %w", op, findErr)
			}
			s.metrics.Upload("deduplicated")
			return &UploadResult{File: winner, Deduplicated: true}, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if thumb {
		s.scheduleThumbnail(ctx, file, data)
	}

	s.metrics.Upload("created")
	emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventMediaUploaded, req.UserID, file.ContentType,
		map[string]any{"id": file.ID, "size": file.FileSize}))
	return &UploadResult{File: file}, nil
}

// discard 清理未能入库的对象
func (s *MediaService) discard(ctx context.Context, key string) {
	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.Error("delete orphaned blob", zap.String("key", key), zap.Error(err))
	}
}

func (s *MediaService) scheduleThumbnail(ctx context.Context, file *models.MediaFile, data []byte) {
	id, owner, category := file.ID, file.UploadedByUserID, file.Category
	job := func(ctx context.Context) {
		s.processThumbnail(ctx, id, owner, category, data)
	}
	if err := s.jobs.Submit(ctx, job); err != nil {
		s.logger.Warn("thumbnail job not queued", zap.Int64("id", id), zap.Error(err))
		if err := s.store.UpdateProcessing(ctx, id, models.StatusReady, "", 0, 0); err != nil {
			s.logger.Error("update processing status", zap.Int64("id", id), zap.Error(err))
		}
		file.ProcessingStatus = models.StatusReady
	}
}

func (s *MediaService) processThumbnail(ctx context.Context, id int64, owner uint, category models.MediaCategory, data []byte) {
	status := models.StatusReady
	var key string
	var width, height int

	res, err := thumbnail.Generate(bytes.NewReader(data), s.cfg.ThumbnailMaxEdge)
	switch {
	case errors.Is(err, thumbnail.ErrUnsupported):
		// 例如 image/svg+xml, 保持可用但没有缩略图
	case err != nil:
		s.logger.Warn("thumbnail generation failed", zap.Int64("id", id), zap.Error(err))
		status = models.StatusFailed
	default:
		width, height = res.Width, res.Height
		key = blob.NewKey("thumbnails/"+string(category), s.now(), ".jpg")
		if err := s.blobs.Put(ctx, key, bytes.NewReader(res.Data), int64(len(res.Data)), thumbnail.ContentType); err != nil {
			s.logger.Error("store thumbnail", zap.Int64("id", id), zap.Error(err))
			status, key = models.StatusFailed, ""
		}
	}

	if err := s.store.UpdateProcessing(ctx, id, status, key, width, height); err != nil {
		if key != "" {
			s.discard(ctx, key)
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			s.logger.Error("update processing status", zap.Int64("id", id), zap.Error(err))
		}
		return
	}

	if s.notifier != nil {
		payload := map[string]any{"id": fmt.Sprint(id), "status": status, "width": width, "height": height}
		if err := s.notifier.Notify(ctx, owner, mq.EventMediaProcessed, payload); err != nil {
			s.logger.Debug("notify owner", zap.Uint("user_id", owner), zap.Error(err))
		}
	}
}

// authorize 统一的访问控制; 任何拒绝都表现为 ErrNotFound
func (s *MediaService) authorize(ctx context.Context, id int64, requester *Requester, need models.Permission) (*models.MediaFile, error) {
	file, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if file.IsDeleted() {
		return nil, ErrNotFound
	}
	if requester != nil && requester.UserID == file.UploadedByUserID {
		return file, nil
	}

	switch file.Visibility {
	case models.VisibilityPublic:
		if requester != nil || s.cfg.AllowAnonymousPublic {
			return file, nil
		}
	case models.VisibilityShared:
		if requester == nil {
			break
		}
		grants, err := s.store.ListGrants(ctx, id)
		if err != nil {
			return nil, err
		}
		now := s.now()
		for i := range grants {
			g := &grants[i]
			if g.IsActive(now) && g.Matches(requester.UserID, requester.Roles) && g.Permission.Allows(need) {
				return file, nil
			}
		}
	}
	return nil, ErrNotFound
}

func (s *MediaService) touch(ctx context.Context, id int64) {
	if err := s.store.IncrementAccess(ctx, id, s.now()); err != nil {
		s.logger.Debug("increment access count", zap.Int64("id", id), zap.Error(err))
	}
}

// Get 按可见性规则读取元数据
func (s *MediaService) Get(ctx context.Context, id int64, requester *Requester) (*models.MediaFile, error) {
	file, err := s.authorize(ctx, id, requester, models.PermissionRead)
	if err != nil {
		return nil, fmt.Errorf("services.MediaService.Get: %w", err)
	}
	s.touch(ctx, id)
	return file, nil
}

// Serve 与 Get 相同的访问控制, 返回可 Seek 的内容流. 调用方负责关闭.
func (s *MediaService) Serve(ctx context.Context, id int64, requester *Requester, variant Variant) (*models.MediaFile, blob.Object, error) {
	const op = "services.MediaService.Serve"

	file, err := s.authorize(ctx, id, requester, variant.permission())
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	key := file.StoragePath
	if variant == VariantThumbnail {
		if file.ThumbnailPath == "" {
			return nil, nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		key = file.ThumbnailPath
	}

	obj, err := s.blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			s.logger.Error("media row without stored bytes", zap.Int64("id", id), zap.String("variant", string(variant)))
			return nil, nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if variant != VariantThumbnail {
		s.touch(ctx, id)
	}
	return file, obj, nil
}

// Delete 仅所有者可删除; 只做软删除, 字节由 Sweep 回收
func (s *MediaService) Delete(ctx context.Context, id int64, userID uint) error {
	const op = "services.MediaService.Delete"

	ok, err := s.store.SoftDelete(ctx, id, userID, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	emit(ctx, s.publisher, s.logger, mq.NewEvent(mq.EventMediaDeleted, userID, "", map[string]any{"id": id}))
	return nil
}

// owned 所有者本人的未删除文件
func (s *MediaService) owned(ctx context.Context, id int64, userID uint) (*models.MediaFile, error) {
	file, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if file.IsDeleted() || file.UploadedByUserID != userID {
		return nil, ErrNotFound
	}
	return file, nil
}

func (s *MediaService) UpdateMetadata(ctx context.Context, id int64, userID uint, patch *MediaPatch) (*models.MediaFile, error) {
	const op = "services.MediaService.UpdateMetadata"

	file, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	meta := file.Metadata()
	var problems []string
	if patch.Title != nil {
		meta.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Description != nil {
		meta.Description = strings.TrimSpace(*patch.Description)
	}
	if patch.Visibility != nil {
		if !patch.Visibility.Valid() {
			problems = append(problems, "unknown visibility")
		}
		meta.Visibility = *patch.Visibility
	}
	if patch.Category != nil {
		if !patch.Category.Valid() {
			problems = append(problems, "unknown category")
		}
		meta.Category = *patch.Category
	}
	problems = append(problems, validateText(meta.Title, meta.Description)...)
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s: %w", op, invalid(problems...))
	}

	if err := s.store.UpdateMetadata(ctx, id, userID, meta, s.now()); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// 重新读取, 状态列可能已被缩略图任务更新
	updated, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

func (s *MediaService) ListMine(ctx context.Context, userID uint, limit, offset int) ([]models.MediaFile, int64, error) {
	limit, offset = page(limit, offset)
	files, total, err := s.store.ListByOwner(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("services.MediaService.ListMine: %w", err)
	}
	return files, total, nil
}

// GrantAccess 所有者授予用户或角色访问权限
func (s *MediaService) GrantAccess(ctx context.Context, id int64, ownerID uint, req *GrantRequest) (*models.MediaFileAccess, error) {
	const op = "services.MediaService.GrantAccess"

	if _, err := s.owned(ctx, id, ownerID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var problems []string
	hasUser, hasRole := req.UserID != nil && *req.UserID != 0, strings.TrimSpace(req.RoleName) != ""
	if hasUser == hasRole {
		problems = append(problems, "exactly one of user_id or role_name is required")
	}
	if !req.Permission.Valid() {
		problems = append(problems, "permission must be read, download or manage")
	}
	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		problems = append(problems, "expires_at must be in the future")
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("%s: %w", op, invalid(problems...))
	}

	grant := &models.MediaFileAccess{
		MediaFileID:     id,
		UserID:          req.UserID,
		RoleName:        strings.TrimSpace(req.RoleName),
		Permission:      req.Permission,
		ExpiresAt:       req.ExpiresAt,
		GrantedByUserID: ownerID,
		CreatedAt:       now,
	}
	if !hasUser {
		grant.UserID = nil
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return grant, nil
}

func (s *MediaService) ListGrants(ctx context.Context, id int64, ownerID uint) ([]models.MediaFileAccess, error) {
	const op = "services.MediaService.ListGrants"
	if _, err := s.owned(ctx, id, ownerID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	grants, err := s.store.ListGrants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return grants, nil
}

func (s *MediaService) RevokeAccess(ctx context.Context, id int64, ownerID uint, grantID uint) error {
	const op = "services.MediaService.RevokeAccess"

	if _, err := s.owned(ctx, id, ownerID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ok, err := s.store.RevokeGrant(ctx, id, grantID, s.now())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

// Sweep 物理删除已软删除的文件: 先删对象 (缺失忽略), 再删记录与授权. 可重复执行.
func (s *MediaService) Sweep(ctx context.Context, batch int) (int64, error) {
	const op = "services.MediaService.Sweep"

	if batch <= 0 {
		batch = 100
	}
	files, err := s.store.ListDeleted(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var purged int64
	var errs []error
	for i := range files {
		f := &files[i]
		if err := s.purge(ctx, f); err != nil {
			s.logger.Error("sweep media file", zap.Int64("id", f.ID), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		purged++
	}
	s.metrics.Swept("media", purged)
	if len(errs) > 0 {
		return purged, fmt.Errorf("%s: %w", op, errors.Join(errs...))
	}
	return purged, nil
}

func (s *MediaService) purge(ctx context.Context, f *models.MediaFile) error {
	for _, key := range []string{f.StoragePath, f.ThumbnailPath} {
		if key == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, key); err != nil && !errors.Is(err, blob.ErrNotFound) {
			return err
		}
	}
	if err := s.store.Purge(ctx, f.ID); err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return err
	}
	return nil
}
