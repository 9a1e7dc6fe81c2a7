package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/services"
)

// AuthHandler 认证处理器
type AuthHandler struct {
	authService  *services.AuthService
	tokenService *services.TokenService
	logger       *zap.Logger
}

// NewAuthHandler 创建认证处理器实例
func NewAuthHandler(authService *services.AuthService, tokenService *services.TokenService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		tokenService: tokenService,
		logger:       logger,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	All          bool   `json:"all"`
}

// Register 用户注册
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	message := "registered"
	if resp.Tokens == nil {
		message = "registered, confirm your email address to sign in"
	}
	ok(c, http.StatusCreated, message, resp)
}

// Login 用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	resp, err := h.authService.Login(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "signed in", resp)
}

// Refresh 轮换刷新令牌
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	pair, err := h.tokenService.Refresh(c.Request.Context(), req.RefreshToken, c.ClientIP())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "token refreshed", pair)
}

// Revoke 吊销刷新令牌, 重复吊销同样返回成功
func (h *AuthHandler) Revoke(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	if err := h.tokenService.Revoke(c.Request.Context(), req.RefreshToken); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "token revoked", nil)
}

// Logout 用户登出
func (h *AuthHandler) Logout(c *gin.Context) {
	var req logoutRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	if !req.All && req.RefreshToken == "" {
		Fail(c, http.StatusBadRequest, "validation failed", "refresh_token is required unless all is set")
		return
	}

	if err := h.authService.Logout(c.Request.Context(), userID(c), req.RefreshToken, req.All); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "logged out", nil)
}

// Me 当前用户信息
func (h *AuthHandler) Me(c *gin.Context) {
	profile, err := h.authService.Profile(c.Request.Context(), userID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "", profile)
}
