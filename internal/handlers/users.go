package handlers

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/auth"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// Register creates a new account with email/password
// POST /api/v1/auth/register
func (h *Handlers) Register(c *gin.Context) {
	var req auth.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "email and password (min 8 chars) are required")
		return
	}

	resp, err := h.auth.Register(req)
	if err != nil {
		if errors.Is(err, auth.ErrEmailExists) {
			util.RespondConflict(c, "email")
			return
		}
		logger.Log.Error("registration failed", zap.Error(err))
		util.RespondInternalError(c, "Failed to create account")
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Login authenticates with email/password
// POST /api/v1/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "email and password are required")
		return
	}

	resp, err := h.auth.Login(req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			util.RespondUnauthorized(c, "invalid email or password")
			return
		}
		logger.Log.Error("login failed", zap.Error(err))
		util.RespondInternalError(c, "Failed to log in")
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SetupProfile completes the one-time username/display-name setup
// POST /api/v1/users/me/setup
func (h *Handlers) SetupProfile(c *gin.Context) {
	currentUser, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	if currentUser.HasCompletedSetup() {
		util.RespondConflict(c, "profile setup")
		return
	}

	var req struct {
		Username    string `json:"username" binding:"required"`
		DisplayName string `json:"display_name" binding:"required,min=1,max=50"`
		Bio         string `json:"bio" binding:"max=300"`
		AvatarURL   string `json:"avatar_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "username and display_name are required")
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if !usernamePattern.MatchString(username) {
		util.RespondValidationError(c, "username", "must be 3-30 chars: lowercase letters, digits, underscore")
		return
	}

	var existing models.User
	err := database.DB.Where("username = ?", username).First(&existing).Error
	if err == nil {
		util.RespondConflict(c, "username")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondInternalError(c, "Failed to check username")
		return
	}

	now := time.Now()
	updates := map[string]interface{}{
		"username":         username,
		"display_name":     strings.TrimSpace(req.DisplayName),
		"bio":              req.Bio,
		"avatar_url":       req.AvatarURL,
		"profile_setup_at": now,
	}
	if err := database.DB.Model(currentUser).Updates(updates).Error; err != nil {
		util.RespondInternalError(c, "Failed to save profile")
		return
	}

	currentUser.Username = &username
	currentUser.ProfileSetupAt = &now
	c.JSON(http.StatusOK, gin.H{"user": currentUser})
}

// UpdateProfileRequest carries the editable profile fields. Username is
// immutable after setup.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
}

// UpdateProfile updates the authenticated user's editable profile fields
// PUT /api/v1/users/me
func (h *Handlers) UpdateProfile(c *gin.Context) {
	currentUser, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}

	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "Invalid request body")
		return
	}

	updates := map[string]interface{}{}
	if req.DisplayName != nil {
		updates["display_name"] = strings.TrimSpace(*req.DisplayName)
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.AvatarURL != nil {
		updates["avatar_url"] = *req.AvatarURL
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, gin.H{"user": currentUser})
		return
	}

	if err := database.DB.Model(currentUser).Updates(updates).Error; err != nil {
		logger.Log.Error("Failed to update profile",
			zap.String("user_id", currentUser.ID), zap.Error(err))
		util.RespondInternalError(c, "Failed to update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": currentUser})
}

// GetMe returns the authenticated user's profile
// GET /api/v1/users/me
func (h *Handlers) GetMe(c *gin.Context) {
	currentUser, ok := util.GetUserFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":            currentUser,
		"setup_completed": currentUser.HasCompletedSetup(),
	})
}

// GetUser returns a user's public profile plus the viewer's connection status
// GET /api/v1/users/:id
func (h *Handlers) GetUser(c *gin.Context) {
	viewerID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	userID := c.Param("id")
	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; util.HandleDBError(c, err, "user") {
		return
	}

	status, err := h.graph.Status(viewerID, user.ID)
	if err != nil {
		util.RespondInternalError(c, "Failed to load connection status")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"connection": status,
	})
}

// SearchUsers finds users by username or display name prefix
// GET /api/v1/users/search?q=
func (h *Handlers) SearchUsers(c *gin.Context) {
	if _, ok := util.GetUserIDFromContext(c); !ok {
		return
	}

	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		util.RespondBadRequest(c, "query parameter q is required")
		return
	}
	limit, _ := util.ParseLimitOffset(c.Query("limit"), c.Query("offset"), 20, 50)

	var users []models.User
	pattern := strings.ToLower(q) + "%"
	if err := database.DB.
		Where("username LIKE ? OR LOWER(display_name) LIKE ?", pattern, pattern).
		Where("profile_setup_at IS NOT NULL").
		Limit(limit).
		Find(&users).Error; err != nil {
		util.RespondInternalError(c, "Search failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{"users": users, "count": len(users)})
}
