package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/aiimage"
	"github.com/lumeo/backend/internal/database"
	apierrors "github.com/lumeo/backend/internal/errors"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/metrics"
	"github.com/lumeo/backend/internal/middleware"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/util"
	"go.uber.org/zap"
)

// runImageRequest calls the generator, records the attempt and returns the
// persisted row. Failures are recorded too so users can see what went wrong.
func (h *Handlers) runImageRequest(c *gin.Context, userID, mode, prompt, sourceURL, finalPrompt string) {
	if h.images == nil {
		util.RespondWithAPIError(c, apierrors.ServiceUnavailable("image generation"))
		return
	}

	record := models.AIImage{
		UserID:    userID,
		Prompt:    prompt,
		Mode:      mode,
		SourceURL: sourceURL,
	}

	start := time.Now()
	resultURL, err := h.images.Generate(c.Request.Context(), finalPrompt)
	metrics.Get().AIRequestDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())

	if err != nil {
		record.Status = models.AIImageStatusFailed
		record.Error = err.Error()
		metrics.Get().AIRequestsTotal.WithLabelValues(mode, "failed").Inc()
		middleware.RecordError("aiimage", mode)
		logger.Log.Error("image generation failed",
			zap.String("mode", mode),
			zap.String("user_id", userID),
			zap.Error(err))
	} else {
		record.Status = models.AIImageStatusComplete
		record.ResultURL = resultURL
		metrics.Get().AIRequestsTotal.WithLabelValues(mode, "complete").Inc()
	}

	if dbErr := database.DB.Create(&record).Error; dbErr != nil {
		logger.Log.Error("failed to persist image record", zap.Error(dbErr))
	}

	if err != nil {
		util.RespondInternalError(c, "Image generation failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"image": record})
}

// GenerateImage creates an image from a text prompt
// POST /api/v1/ai/generate
func (h *Handlers) GenerateImage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt" binding:"required,max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "prompt is required")
		return
	}

	prompt := strings.TrimSpace(req.Prompt)
	h.runImageRequest(c, userID, models.AIImageModeGenerate, prompt, "", prompt)
}

// EditImage regenerates an existing image with an edit instruction
// POST /api/v1/ai/edit
func (h *Handlers) EditImage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		SourceURL   string `json:"source_url" binding:"required,url"`
		Instruction string `json:"instruction" binding:"required,max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "source_url and instruction are required")
		return
	}

	instruction := strings.TrimSpace(req.Instruction)
	h.runImageRequest(c, userID, models.AIImageModeEdit, instruction, req.SourceURL,
		aiimage.EditPrompt(req.SourceURL, instruction))
}

// StyleImage recreates an existing image in a named style
// POST /api/v1/ai/style
func (h *Handlers) StyleImage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		SourceURL string `json:"source_url" binding:"required,url"`
		Style     string `json:"style" binding:"required,max=200"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "source_url and style are required")
		return
	}

	style := strings.TrimSpace(req.Style)
	h.runImageRequest(c, userID, models.AIImageModeStyle, style, req.SourceURL,
		aiimage.StylePrompt(req.SourceURL, style))
}

// GetImageHistory lists the current user's image requests, newest first
// GET /api/v1/ai/history
func (h *Handlers) GetImageHistory(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.ParseLimitOffset(c.Query("limit"), c.Query("offset"), 20, 100)

	var images []models.AIImage
	if err := database.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&images).Error; err != nil {
		util.RespondInternalError(c, "Failed to load image history")
		return
	}

	c.JSON(http.StatusOK, gin.H{"images": images, "count": len(images)})
}
