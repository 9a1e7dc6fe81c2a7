package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/pkg/mq"
)

// CredentialStore 用户凭据与角色. 密码哈希与锁定计数只在这里处理.
type CredentialStore interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByUserName(ctx context.Context, username string) (*models.User, error)
	Create(ctx context.Context, user *models.User, password string) error
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id uint) error
	GetRoles(ctx context.Context, id uint) ([]string, error)
	AddToRole(ctx context.Context, id uint, role string) error
	RemoveFromRole(ctx context.Context, id uint, role string) error
	CheckPassword(ctx context.Context, user *models.User, password string) bool
	SetLockout(ctx context.Context, id uint, until *time.Time) error
	AccessFailed(ctx context.Context, id uint) (int, error)
	ResetAccessFailed(ctx context.Context, id uint) error
	List(ctx context.Context, limit, offset int) ([]models.User, int64, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
}

// InviteStore 邀请码与邮件邀请. Mark* 为条件更新, 返回是否命中.
type InviteStore interface {
	CreateCode(ctx context.Context, code *models.InviteCode) error
	CountActiveCodes(ctx context.Context, creatorID uint, now time.Time) (int64, error)
	FindCode(ctx context.Context, code string) (*models.InviteCode, error)
	MarkCodeUsed(ctx context.Context, code string, userID uint, now time.Time) (bool, error)
	ListCodes(ctx context.Context, creatorID uint, limit, offset int) ([]models.InviteCode, error)
	CreateEmailInvite(ctx context.Context, invite *models.EmailInvite) error
	FindEmailInvite(ctx context.Context, token string) (*models.EmailInvite, error)
	MarkEmailInviteUsed(ctx context.Context, token string, userID uint, now time.Time) (bool, error)
	ListEmailInvites(ctx context.Context, creatorID uint, limit, offset int) ([]models.EmailInvite, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// RefreshTokenStore 刷新令牌账本, 以令牌摘要为键
type RefreshTokenStore interface {
	Create(ctx context.Context, token *models.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	// Rotate 原子地吊销 oldToken 并写入 next; oldToken 已失效时返回 ErrNotFound
	Rotate(ctx context.Context, oldToken string, next *models.RefreshToken, now time.Time) error
	Revoke(ctx context.Context, token string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint, now time.Time) (int64, error)
	DeleteInactive(ctx context.Context, now time.Time) (int64, error)
}

type MediaStore interface {
	Create(ctx context.Context, file *models.MediaFile) error
	FindByID(ctx context.Context, id int64) (*models.MediaFile, error)
	FindActiveByHash(ctx context.Context, uploaderID uint, hash string) (*models.MediaFile, error)
	// UpdateMetadata 只写元数据列; 行不存在、非所有者或已删除时返回 ErrNotFound
	UpdateMetadata(ctx context.Context, id int64, ownerID uint, meta models.MediaMetadata, now time.Time) error
	UpdateProcessing(ctx context.Context, id int64, status models.ProcessingStatus, thumbnailPath string, width, height int) error
	IncrementAccess(ctx context.Context, id int64, now time.Time) error
	SoftDelete(ctx context.Context, id int64, ownerID uint, now time.Time) (bool, error)
	ListByOwner(ctx context.Context, ownerID uint, limit, offset int) ([]models.MediaFile, int64, error)
	ListDeleted(ctx context.Context, limit int) ([]models.MediaFile, error)
	Purge(ctx context.Context, id int64) error
	CreateGrant(ctx context.Context, grant *models.MediaFileAccess) error
	ListGrants(ctx context.Context, fileID int64) ([]models.MediaFileAccess, error)
	RevokeGrant(ctx context.Context, fileID int64, grantID uint, now time.Time) (bool, error)
}

//go:generate mockgen -destination=mocks/mock_publisher.go -package=mocks github.com/Gopher0727/Warden/internal/services EventPublisher

// EventPublisher 审计事件出口
type EventPublisher interface {
	Publish(ctx context.Context, event mq.Event) error
}

// Notifier 向在线用户推送事件
type Notifier interface {
	Notify(ctx context.Context, userID uint, eventType string, data any) error
}

// Locker 跨副本互斥
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	Unlock(ctx context.Context, key, token string) error
}

// page 分页参数归一化
func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// emit 审计事件尽力投递, 失败只记日志
func emit(ctx context.Context, p EventPublisher, logger *zap.Logger, event mq.Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, event); err != nil {
		logger.Warn("publish event failed", zap.String("type", event.Type), zap.Error(err))
	}
}
