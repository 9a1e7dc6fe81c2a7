package services

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound 不存在或调用方无权访问, 两者刻意不作区分
	ErrNotFound         = errors.New("not found")
	ErrExpired          = errors.New("expired")
	ErrAlreadyUsed      = errors.New("already used")
	ErrAlreadyRevoked   = errors.New("already revoked")
	ErrQuotaExceeded    = errors.New("quota exceeded")
	ErrValidationFailed = errors.New("validation failed")
	ErrInvalidToken     = errors.New("invalid token")

	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrLockedOut          = errors.New("account locked out")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrInviteRequired     = errors.New("invite required")
	ErrUserExists         = errors.New("username or email already registered")
	ErrForbidden          = errors.New("forbidden")
)

// ValidationError 携带逐项校验信息, errors.Is(err, ErrValidationFailed) 成立
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func invalid(problems ...string) error {
	return &ValidationError{Problems: problems}
}

// Problems 取出校验错误明细, 其他错误返回 nil
func Problems(err error) []string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Problems
	}
	return nil
}
