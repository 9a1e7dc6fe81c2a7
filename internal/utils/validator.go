package utils

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

var (
	userNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,32}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// HashPassword 使用 bcrypt 对密码进行哈希, cost 非法时退回默认值
func HashPassword(password string, cost int) (string, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(hash), err
}

// CheckPassword 验证密码
func CheckPassword(hashedPassword, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)) == nil
}

// ValidateUserName 3-32 个字符, 字母数字及 _ . -
func ValidateUserName(username string) bool {
	return userNamePattern.MatchString(username)
}

// ValidatePassword 至少 8 个字符, 同时包含字母和数字, bcrypt 只看前 72 字节
func ValidatePassword(password string) bool {
	if len(password) < 8 || len(password) > 72 {
		return false
	}
	var letter, digit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			letter = true
		case unicode.IsDigit(r):
			digit = true
		}
	}
	return letter && digit
}

// ValidateEmail 验证邮箱格式
func ValidateEmail(email string) bool {
	return len(email) <= 254 && emailPattern.MatchString(email)
}

const maxFileNameLen = 255

// SanitizeFileName 去掉路径成分和控制字符, 只保留可安全回显到
// Content-Disposition 中的文件名. 结果为空时返回 fallback.
func SanitizeFileName(name, fallback string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	var b strings.Builder
	for _, r := range name {
		switch {
		case r == utf8.RuneError, unicode.IsControl(r):
			continue
		case strings.ContainsRune(`/\:*?"<>|;`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.Trim(strings.TrimSpace(b.String()), ".")
	if out == "" {
		return fallback
	}
	for len(out) > maxFileNameLen {
		_, size := utf8.DecodeLastRuneInString(out)
		out = out[:len(out)-size]
	}
	return out
}
