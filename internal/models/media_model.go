package models

import (
	"strings"
	"time"
)

type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
	VisibilityShared  Visibility = "shared"
)

func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPrivate, VisibilityPublic, VisibilityShared:
		return true
	}
	return false
}

type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusReady      ProcessingStatus = "ready"
	StatusFailed     ProcessingStatus = "failed"
	StatusDeleted    ProcessingStatus = "deleted"
)

type MediaCategory string

const (
	CategoryGeneral  MediaCategory = "general"
	CategoryAvatar   MediaCategory = "avatar"
	CategoryImage    MediaCategory = "image"
	CategoryDocument MediaCategory = "document"
	CategoryVideo    MediaCategory = "video"
	CategoryAudio    MediaCategory = "audio"
)

func (c MediaCategory) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryAvatar, CategoryImage, CategoryDocument, CategoryVideo, CategoryAudio:
		return true
	}
	return false
}

// MediaFile 上传文件元数据. 同一上传者未删除的文件按内容哈希唯一.
type MediaFile struct {
	ID int64 `gorm:"primaryKey;autoIncrement:false" json:"id,string"`

	FileHash         string `gorm:"size:64;not null;uniqueIndex:idx_media_hash_uploader,where:processing_status <> 'deleted'" json:"file_hash"`
	UploadedByUserID uint   `gorm:"not null;index;uniqueIndex:idx_media_hash_uploader,where:processing_status <> 'deleted'" json:"uploaded_by_user_id"`

	StoragePath      string `gorm:"size:512;not null" json:"-"`
	ThumbnailPath    string `gorm:"size:512" json:"-"`
	OriginalFileName string `gorm:"size:255;not null" json:"original_file_name"`
	ContentType      string `gorm:"size:127;not null" json:"content_type"`
	FileSize         int64  `gorm:"not null" json:"file_size"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`

	Category         MediaCategory    `gorm:"size:32;not null;default:general" json:"category"`
	Visibility       Visibility       `gorm:"size:16;not null;default:private;index" json:"visibility"`
	ProcessingStatus ProcessingStatus `gorm:"size:16;not null;default:pending;index" json:"processing_status"`

	Title       string `gorm:"size:255" json:"title,omitempty"`
	Description string `gorm:"size:2000" json:"description,omitempty"`

	AccessCount    int64      `gorm:"not null;default:0" json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `gorm:"index" json:"-"`

	Grants []MediaFileAccess `gorm:"foreignKey:MediaFileID;constraint:OnDelete:CASCADE" json:"-"`
}

func (MediaFile) TableName() string {
	return "media_files"
}

// MediaMetadata 所有者可修改的列
type MediaMetadata struct {
	Title       string
	Description string
	Visibility  Visibility
	Category    MediaCategory
}

func (m *MediaFile) Metadata() MediaMetadata {
	return MediaMetadata{Title: m.Title, Description: m.Description, Visibility: m.Visibility, Category: m.Category}
}

func (m *MediaFile) IsDeleted() bool {
	return m.ProcessingStatus == StatusDeleted || m.DeletedAt != nil
}

func (m *MediaFile) IsImage() bool {
	return strings.HasPrefix(m.ContentType, "image/")
}

// Permission 授权级别, 高级别包含低级别
type Permission string

const (
	PermissionRead     Permission = "read"
	PermissionDownload Permission = "download"
	PermissionManage   Permission = "manage"
)

func (p Permission) rank() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionDownload:
		return 2
	case PermissionManage:
		return 3
	}
	return 0
}

func (p Permission) Valid() bool {
	return p.rank() > 0
}

// Allows reports whether a grant at level p satisfies a request for need.
func (p Permission) Allows(need Permission) bool {
	return p.rank() > 0 && p.rank() >= need.rank()
}

// MediaFileAccess 针对用户或角色的访问授权
type MediaFileAccess struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	MediaFileID     int64      `gorm:"not null;index" json:"media_file_id,string"`
	UserID          *uint      `gorm:"index" json:"user_id,omitempty"`
	RoleName        string     `gorm:"size:64;index" json:"role_name,omitempty"`
	Permission      Permission `gorm:"size:16;not null" json:"permission"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	Revoked         bool       `gorm:"not null;default:false" json:"revoked"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	GrantedByUserID uint       `gorm:"not null" json:"granted_by_user_id"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (MediaFileAccess) TableName() string {
	return "media_file_access"
}

func (g *MediaFileAccess) IsActive(now time.Time) bool {
	return !g.Revoked && (g.ExpiresAt == nil || g.ExpiresAt.After(now))
}

// Matches 授权对象是该用户本人或其拥有的某个角色
func (g *MediaFileAccess) Matches(userID uint, roles []string) bool {
	if g.UserID != nil && *g.UserID == userID {
		return true
	}
	if g.RoleName == "" {
		return false
	}
	for _, r := range roles {
		if r == g.RoleName {
			return true
		}
	}
	return false
}

// AllModels 参与自动迁移的模型
func AllModels() []any {
	return []any{
		&Role{},
		&User{},
		&InviteCode{},
		&EmailInvite{},
		&RefreshToken{},
		&MediaFile{},
		&MediaFileAccess{},
	}
}
