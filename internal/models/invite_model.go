package models

import (
	"strings"
	"time"
)

// InviteCode 注册邀请码, 一次性使用
type InviteCode struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Code            string     `gorm:"uniqueIndex;size:16;not null" json:"code"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`
	IsUsed          bool       `gorm:"not null;default:false" json:"is_used"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	CreatedByUserID uint       `gorm:"index;not null" json:"created_by_user_id"`
	UsedByUserID    *uint      `json:"used_by_user_id,omitempty"`
	Notes           string     `gorm:"size:500" json:"notes,omitempty"`
}

func (InviteCode) TableName() string {
	return "invite_codes"
}

// IsValid 未使用且未过期. 过期时间当刻仍然有效.
func (c *InviteCode) IsValid(now time.Time) bool {
	return !c.IsUsed && !now.After(c.ExpiresAt)
}

// IsExpired reports whether now is past the expiry instant.
func (c *InviteCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// EmailInvite 绑定邮箱的邀请链接
type EmailInvite struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Token           string     `gorm:"uniqueIndex;size:128;not null" json:"token"`
	Email           string     `gorm:"index;size:255;not null" json:"email"`
	CreatedAt       time.Time  `json:"created_at"`
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`
	IsUsed          bool       `gorm:"not null;default:false" json:"is_used"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	CreatedByUserID uint       `gorm:"index;not null" json:"created_by_user_id"`
	UsedByUserID    *uint      `json:"used_by_user_id,omitempty"`
	Notes           string     `gorm:"size:500" json:"notes,omitempty"`
}

func (EmailInvite) TableName() string {
	return "email_invites"
}

func (i *EmailInvite) IsValid(now time.Time) bool {
	return !i.IsUsed && !now.After(i.ExpiresAt)
}

func (i *EmailInvite) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// MatchesEmail 邮箱比较忽略大小写和首尾空白
func (i *EmailInvite) MatchesEmail(email string) bool {
	return strings.EqualFold(strings.TrimSpace(i.Email), strings.TrimSpace(email))
}
