package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/internal/services"
)

// UserHandler 管理员用户管理处理器
type UserHandler struct {
	userService *services.UserService
	logger      *zap.Logger
}

// NewUserHandler 创建用户管理处理器实例
func NewUserHandler(userService *services.UserService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		logger:      logger,
	}
}

type assignRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// List 分页列出用户
func (h *UserHandler) List(c *gin.Context) {
	limit, offset := pageParams(c)
	users, total, err := h.userService.List(c.Request.Context(), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "", Page[*services.UserDTO]{Items: users, Total: total, Limit: limit, Offset: offset})
}

// ListRoles 列出所有角色
func (h *UserHandler) ListRoles(c *gin.Context) {
	roles, err := h.userService.ListRoles(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name)
	}
	ok(c, http.StatusOK, "", names)
}

// AssignRole 为用户添加角色
func (h *UserHandler) AssignRole(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		Fail(c, http.StatusNotFound, "not found")
		return
	}
	var req assignRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := h.userService.AssignRole(c.Request.Context(), id, strings.TrimSpace(req.Role)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "role assigned", nil)
}

// RemoveRole 移除用户角色
func (h *UserHandler) RemoveRole(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		Fail(c, http.StatusNotFound, "not found")
		return
	}
	if err := h.userService.RemoveRole(c.Request.Context(), id, c.Param("role")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "role removed", nil)
}

// Unlock 解除账号锁定
func (h *UserHandler) Unlock(c *gin.Context) {
	id, valid := uintParam(c, "id")
	if !valid {
		Fail(c, http.StatusNotFound, "not found")
		return
	}
	if err := h.userService.Unlock(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "account unlocked", nil)
}
