package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gopher0727/Warden/config"
	"github.com/Gopher0727/Warden/internal/models"
	"github.com/Gopher0727/Warden/internal/pkg/thumbnail"
	"github.com/Gopher0727/Warden/internal/services"
)

// multipart 表单字段的额外开销
const formOverhead = 1 << 20

// MediaHandler 媒体文件处理器
type MediaHandler struct {
	mediaService *services.MediaService
	cfg          *config.MediaConfig
	logger       *zap.Logger
}

// NewMediaHandler 创建媒体文件处理器实例
func NewMediaHandler(mediaService *services.MediaService, cfg *config.MediaConfig, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{
		mediaService: mediaService,
		cfg:          cfg,
		logger:       logger,
	}
}

// mediaID 非法 ID 与不存在的文件同样返回 404
func mediaID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		Fail(c, http.StatusNotFound, "not found")
		return 0, false
	}
	return id, true
}

// Upload 上传文件, 同一用户重复内容返回已有记录
func (h *MediaHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadBytes+formOverhead)

	fh, err := c.FormFile("file")
	if err != nil {
		Fail(c, http.StatusBadRequest, "validation failed", "file is required")
		return
	}
	if fh.Size > h.cfg.MaxUploadBytes {
		Fail(c, http.StatusBadRequest, "validation failed", fmt.Sprintf("file exceeds %d bytes", h.cfg.MaxUploadBytes))
		return
	}
	f, err := fh.Open()
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer f.Close()

	result, err := h.mediaService.Upload(c.Request.Context(), &services.UploadRequest{
		Content:     f,
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		UserID:      userID(c),
		Category:    models.MediaCategory(c.PostForm("category")),
		Title:       c.PostForm("title"),
		Description: c.PostForm("description"),
		Visibility:  models.Visibility(c.PostForm("visibility")),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if result.Deduplicated {
		ok(c, http.StatusOK, "file already uploaded", result)
		return
	}
	ok(c, http.StatusCreated, "file uploaded", result)
}

// ListMine 当前用户的文件
func (h *MediaHandler) ListMine(c *gin.Context) {
	limit, offset := pageParams(c)
	files, total, err := h.mediaService.ListMine(c.Request.Context(), userID(c), limit, offset)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if files == nil {
		files = []models.MediaFile{}
	}
	ok(c, http.StatusOK, "", Page[models.MediaFile]{Items: files, Total: total, Limit: limit, Offset: offset})
}

// Info 文件元数据
func (h *MediaHandler) Info(c *gin.Context) {
	id, valid := mediaID(c)
	if !valid {
		return
	}
	file, err := h.mediaService.Get(c.Request.Context(), id, requester(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "", file)
}

// Stream 内联输出原文件
func (h *MediaHandler) Stream(c *gin.Context) {
	h.serve(c, services.VariantOriginal)
}

// Thumbnail 输出缩略图
func (h *MediaHandler) Thumbnail(c *gin.Context) {
	h.serve(c, services.VariantThumbnail)
}

// Download 以附件形式下载
func (h *MediaHandler) Download(c *gin.Context) {
	h.serve(c, services.VariantDownload)
}

func (h *MediaHandler) serve(c *gin.Context, variant services.Variant) {
	id, valid := mediaID(c)
	if !valid {
		return
	}
	file, obj, err := h.mediaService.Serve(c.Request.Context(), id, requester(c), variant)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	defer obj.Close()

	header := c.Writer.Header()
	contentType := file.ContentType
	if variant == services.VariantThumbnail {
		contentType = thumbnail.ContentType
	}
	header.Set("Content-Type", contentType)
	header.Set("X-Content-Type-Options", "nosniff")
	if file.Visibility == models.VisibilityPublic {
		header.Set("Cache-Control", fmt.Sprintf("public, max-age=%d", h.cfg.PublicCacheSeconds))
	} else {
		header.Set("Cache-Control", fmt.Sprintf("private, max-age=%d", h.cfg.PrivateCacheSeconds))
	}
	if variant == services.VariantDownload {
		header.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.OriginalFileName}))
	}

	http.ServeContent(c.Writer, c.Request, file.OriginalFileName, obj.ModTime(), obj)
}

// Update 修改元数据, 仅所有者
func (h *MediaHandler) Update(c *gin.Context) {
	id, valid := mediaID(c)
	if !valid {
		return
	}
	var patch services.MediaPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	file, err := h.mediaService.UpdateMetadata(c.Request.Context(), id, userID(c), &patch)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "file updated", file)
}

// Delete 软删除, 仅所有者
func (h *MediaHandler) Delete(c *gin.Context) {
	id, valid := mediaID(c)
	if !valid {
		return
	}
	if err := h.mediaService.Delete(c.Request.Context(), id, userID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "file deleted", nil)
}

// Grant 授予用户或角色访问权限
func (h *MediaHandler) Grant(c *gin.Context) {
	id, valid := mediaID(c)
	if !valid {
		return
	}
	var req services.GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Fail(c, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	grant, err := h.mediaService.GrantAccess(c.Request.Context(), id, userID(c), &req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, "access granted", grant)
}

// ListGrants 文件的全部授权记录
func (h *MediaHandler) ListGrants(c *gin.Context) {
	id, valid := mediaID(c)
	if !valid {
		return
	}
	grants, err := h.mediaService.ListGrants(c.Request.Context(), id, userID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if grants == nil {
		grants = []models.MediaFileAccess{}
	}
	ok(c, http.StatusOK, "", grants)
}

// RevokeGrant 撤销授权
func (h *MediaHandler) RevokeGrant(c *gin.Context) {
	id, valid := mediaID(c)
	if !valid {
		return
	}
	grantID, valid := uintParam(c, "grantId")
	if !valid {
		Fail(c, http.StatusNotFound, "not found")
		return
	}
	if err := h.mediaService.RevokeAccess(c.Request.Context(), id, userID(c), grantID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, "access revoked", nil)
}
