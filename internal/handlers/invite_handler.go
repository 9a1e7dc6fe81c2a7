package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/services"
)

// InviteHandler 邀请码处理器
type InviteHandler struct {
	inviteService *services.InviteService
	logger        *zap.Logger
}

// NewInviteHandler 创建邀请码处理器实例
func NewInviteHandler(inviteService *services.InviteService, logger *zap.Logger) *InviteHandler {
	return &InviteHandler{
		inviteService: inviteService,
		logger:        logger,
	}
}

type createCodeRequest struct {
	Notes           string `json:"notes"`
	ExpirationHours *int   `json:"expiration_hours"`
}

type createEmailInviteRequest struct {
	Email           string `json:"email" binding:"required"`
	Notes           string `json:"notes"`
	ExpirationHours *int   `json:"expiration_hours"`
}

type codeStatus struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate 校验邀请码, 未知、已用和过期都返回 404
func (h *InviteHandler) Validate(c *gin.Context) {
	code, err := h.inviteService.ValidateCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "invite code is valid", codeStatus{Code: code.Code, ExpiresAt: code.ExpiresAt})
}

// CreateCode 生成邀请码
func (h *InviteHandler) CreateCode(c *gin.Context) {
	var req createCodeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}

	code, err := h.inviteService.GenerateCode(c.Request.Context(), userID(c), req.Notes, req.ExpirationHours)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, "invite code created", code)
}

// ListCodes 列出当前管理员创建的邀请码
func (h *InviteHandler) ListCodes(c *gin.Context) {
	limit, offset := pageParams(c)
	codes, err := h.inviteService.ListCodes(c.Request.Context(), userID(c), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "", codes)
}

// CreateEmailInvite 生成邮件邀请
func (h *InviteHandler) CreateEmailInvite(c *gin.Context) {
	var req createEmailInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	invite, err := h.inviteService.GenerateEmailInvite(c.Request.Context(), req.Email, userID(c), req.Notes, req.ExpirationHours)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, "email invite created", invite)
}

// ListEmailInvites 列出当前管理员创建的邮件邀请
func (h *InviteHandler) ListEmailInvites(c *gin.Context) {
	limit, offset := pageParams(c)
	invites, err := h.inviteService.ListEmailInvites(c.Request.Context(), userID(c), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "", invites)
}
