package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	RoleAdministrator = "Administrator"
	RoleUser          = "User"
)

// User 用户模型
type User struct {
	ID uint `gorm:"primaryKey" json:"id"`

	UserName     string `gorm:"column:username;uniqueIndex;size:64;not null" json:"username"`
	Email        string `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash string `gorm:"not null" json:"-"`
	DisplayName  string `gorm:"size:128" json:"display_name"`

	EmailConfirmed    bool       `gorm:"not null;default:false" json:"email_confirmed"`
	LockoutEnabled    bool       `gorm:"not null;default:true" json:"-"`
	AccessFailedCount int        `gorm:"not null;default:0" json:"-"`
	LockoutEnd        *time.Time `json:"lockout_end,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Roles []Role `gorm:"many2many:user_roles;constraint:OnDelete:CASCADE" json:"-"`
}

func (User) TableName() string {
	return "users"
}

// IsLockedOut 锁定时间未到期
func (u *User) IsLockedOut(now time.Time) bool {
	return u.LockoutEnabled && u.LockoutEnd != nil && u.LockoutEnd.After(now)
}

// Role 角色
type Role struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"uniqueIndex;size:64;not null" json:"name"`
	Description string `gorm:"size:255" json:"description"`
}

func (Role) TableName() string {
	return "roles"
}

// DefaultRoles 迁移时写入的内置角色
func DefaultRoles() []Role {
	return []Role{
		{Name: RoleAdministrator, Description: "manages users, roles and invitations"},
		{Name: RoleUser, Description: "regular account"},
	}
}
