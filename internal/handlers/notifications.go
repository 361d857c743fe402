package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/middleware"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/util"
)

const notificationCountTTL = 60 * time.Second

func notificationCountKey(userID string) string {
	return "notif:unread:" + userID
}

// invalidateNotificationCounts drops the cached unread count after a write.
func (h *Handlers) invalidateNotificationCounts(userID string) {
	if h.redis == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = h.redis.Del(ctx, notificationCountKey(userID))
}

// GetNotifications lists the current user's notifications, newest first
// GET /api/v1/notifications
func (h *Handlers) GetNotifications(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.ParseLimitOffset(c.Query("limit"), c.Query("offset"), 20, 100)

	var notifications []models.Notification
	if err := database.DB.Where("user_id = ?", userID).
		Preload("FromUser").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&notifications).Error; err != nil {
		util.RespondInternalError(c, "Failed to load notifications")
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications, "count": len(notifications)})
}

// GetNotificationCounts returns the unread notification count, cached in
// Redis for a short window to keep badge polling cheap
// GET /api/v1/notifications/counts
func (h *Handlers) GetNotificationCounts(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()
		if cached, err := h.redis.GetInt(ctx, notificationCountKey(userID)); err == nil {
			middleware.RecordCacheHit("notification_counts")
			c.JSON(http.StatusOK, gin.H{"unread_count": cached, "cached": true})
			return
		}
		middleware.RecordCacheMiss("notification_counts")
	}

	var count int64
	if err := database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		util.RespondInternalError(c, "Failed to count notifications")
		return
	}

	if h.redis != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.redis.SetEx(ctx, notificationCountKey(userID), strconv.FormatInt(count, 10), notificationCountTTL)
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count, "cached": false})
}

// MarkNotificationRead marks one notification as read
// POST /api/v1/notifications/read/:id
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	res := database.DB.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", c.Param("id"), userID).
		Update("is_read", true)
	if res.Error != nil {
		util.RespondInternalError(c, "Failed to mark notification read")
		return
	}
	if res.RowsAffected == 0 {
		util.RespondNotFound(c, "notification")
		return
	}

	h.invalidateNotificationCounts(userID)
	c.JSON(http.StatusOK, gin.H{"read": true})
}

// MarkAllNotificationsRead marks every unread notification as read
// POST /api/v1/notifications/read-all
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	res := database.DB.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if res.Error != nil {
		util.RespondInternalError(c, "Failed to mark notifications read")
		return
	}

	h.invalidateNotificationCounts(userID)
	c.JSON(http.StatusOK, gin.H{"marked_read": res.RowsAffected})
}
