package models

import "time"

// RefreshToken 刷新令牌台账. Token 保存的是客户端令牌的 SHA-256 摘要,
// ReplacedByToken 指向轮换后下一条记录的 Token.
type RefreshToken struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Token           string     `gorm:"uniqueIndex;size:128;not null" json:"-"`
	UserID          uint       `gorm:"index;not null" json:"user_id"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiryDate      time.Time  `gorm:"index;not null" json:"expiry_date"`
	IsRevoked       bool       `gorm:"not null;default:false" json:"is_revoked"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
	ReplacedByToken *string    `gorm:"size:128" json:"-"`
	CreatedByIP     string     `gorm:"size:64" json:"created_by_ip,omitempty"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// IsActive 未撤销且未过期
func (t *RefreshToken) IsActive(now time.Time) bool {
	return !t.IsRevoked && now.Before(t.ExpiryDate)
}
