package jwt

import (
	"errors"
	"slices"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token not yet valid")
)

// Claims JWT 声明, Roles 为签发时刻的角色快照
type Claims struct {
	UserID   uint     `json:"user_id"`
	UserName string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// HasRole 角色名精确匹配
func (c *Claims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// TokenManager 签发与校验 HS256 访问令牌
type TokenManager struct {
	secret    []byte
	issuer    string
	audience  string
	expireDur time.Duration
	now       func() time.Time
}

func NewTokenManager(secret, issuer, audience string, expire time.Duration) *TokenManager {
	return &TokenManager{
		secret:    []byte(secret),
		issuer:    issuer,
		audience:  audience,
		expireDur: expire,
		now:       time.Now,
	}
}

// Lifetime 访问令牌有效期
func (tm *TokenManager) Lifetime() time.Duration {
	return tm.expireDur
}

// GenerateToken 签发访问令牌, 返回令牌与过期时间
func (tm *TokenManager) GenerateToken(userID uint, username, email string, roles []string) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.expireDur)
	if roles == nil {
		roles = []string{}
	}

	claims := Claims{
		UserID:   userID,
		UserName: username,
		Email:    email,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{tm.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

func (tm *TokenManager) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ErrInvalidToken
	}
	return tm.secret, nil
}

// ValidateToken 校验签名, 算法, 签发者与受众, 不检查过期时间.
// 过期由调用方结合时钟偏差判断, 见 CheckExpiry.
func (tm *TokenManager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, tm.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Issuer != tm.issuer || !slices.Contains(claims.Audience, tm.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// CheckExpiry 在允许 skew 的时钟偏差下检查 exp 与 nbf
func (tm *TokenManager) CheckExpiry(claims *Claims, skew time.Duration) error {
	now := tm.now()
	if claims.ExpiresAt == nil || now.After(claims.ExpiresAt.Time.Add(skew)) {
		return ErrExpiredToken
	}
	if claims.NotBefore != nil && now.Add(skew).Before(claims.NotBefore.Time) {
		return ErrTokenNotYetValid
	}
	return nil
}

// ParseToken 完整校验, 包括过期
func (tm *TokenManager) ParseToken(tokenString string, skew time.Duration) (*Claims, error) {
	claims, err := tm.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if err := tm.CheckExpiry(claims, skew); err != nil {
		return nil, err
	}
	return claims, nil
}
