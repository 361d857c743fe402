package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/realtime"
	"github.com/lumeo/backend/internal/social"
	"github.com/lumeo/backend/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// notifyConnectionEvent persists the notification row and pushes both the
// notification and connection_status envelopes to the affected peer. Single
// call site for connection-event emission.
func (h *Handlers) notifyConnectionEvent(eventType, fromUserID, toUserID, status string) {
	if eventType != "" {
		n := models.Notification{
			UserID:     toUserID,
			FromUserID: fromUserID,
			Type:       eventType,
		}
		if err := database.DB.Create(&n).Error; err != nil {
			logger.Log.Error("failed to persist connection notification",
				zap.String("type", eventType),
				zap.Error(err))
		} else {
			h.invalidateNotificationCounts(toUserID)
			h.dispatcher.PushNotification(realtime.NotificationPayload{
				Type:       eventType,
				FromUserID: fromUserID,
				ToUserID:   toUserID,
			})
		}
	}

	h.dispatcher.PushConnectionStatus(realtime.ConnectionStatusPayload{
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Status:     status,
	})
}

// RequestConnection sends a connection request to another user
// POST /api/v1/connections/request/:userId
func (h *Handlers) RequestConnection(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	targetID := c.Param("userId")

	var target models.User
	err := database.DB.First(&target, "id = ?", targetID).Error
	if util.HandleDBError(c, err, "user") {
		return
	}

	conn, err := h.graph.Request(userID, targetID)
	if err != nil {
		switch {
		case errors.Is(err, social.ErrSelfConnection):
			util.RespondBadRequest(c, "cannot connect to yourself")
		case errors.Is(err, social.ErrAlreadyRequested):
			util.RespondConflict(c, "connection request")
		default:
			util.RespondInternalError(c, "Failed to send connection request")
		}
		return
	}

	h.notifyConnectionEvent(models.NotificationTypeConnectionRequest, userID, targetID, string(models.ConnectionStatusPending))
	c.JSON(http.StatusCreated, gin.H{"connection": conn})
}

// AcceptConnection accepts a pending request from :userId
// POST /api/v1/connections/accept/:userId
func (h *Handlers) AcceptConnection(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	requesterID := c.Param("userId")

	if err := h.graph.Accept(userID, requesterID); err != nil {
		if errors.Is(err, social.ErrNoPendingRequest) {
			util.RespondNotFound(c, "connection request")
			return
		}
		util.RespondInternalError(c, "Failed to accept connection")
		return
	}

	// connection counts are cached on the user rows
	for _, id := range []string{userID, requesterID} {
		if err := database.DB.Model(&models.User{}).Where("id = ?", id).
			UpdateColumn("connection_count", gorm.Expr("connection_count + 1")).Error; err != nil {
			logger.Log.Warn("failed to bump connection count", zap.String("user_id", id), zap.Error(err))
		}
	}

	h.notifyConnectionEvent(models.NotificationTypeConnectionAccepted, userID, requesterID, string(models.ConnectionStatusAccepted))
	c.JSON(http.StatusOK, gin.H{"accepted": true})
}

// RejectConnection rejects a pending request from :userId
// POST /api/v1/connections/reject/:userId
func (h *Handlers) RejectConnection(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	requesterID := c.Param("userId")

	if err := h.graph.Reject(userID, requesterID); err != nil {
		if errors.Is(err, social.ErrNoPendingRequest) {
			util.RespondNotFound(c, "connection request")
			return
		}
		util.RespondInternalError(c, "Failed to reject connection")
		return
	}

	h.notifyConnectionEvent("", userID, requesterID, string(models.ConnectionStatusRejected))
	c.JSON(http.StatusOK, gin.H{"rejected": true})
}

// CancelConnection withdraws a request the current user sent to :userId
// DELETE /api/v1/connections/request/:userId
func (h *Handlers) CancelConnection(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	targetID := c.Param("userId")

	if err := h.graph.Cancel(userID, targetID); err != nil {
		if errors.Is(err, social.ErrNoPendingRequest) {
			util.RespondNotFound(c, "connection request")
			return
		}
		util.RespondInternalError(c, "Failed to cancel request")
		return
	}

	h.notifyConnectionEvent("", userID, targetID, "cancelled")
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// Disconnect removes an accepted connection in both directions
// DELETE /api/v1/connections/:userId
func (h *Handlers) Disconnect(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	peerID := c.Param("userId")

	if err := h.graph.Disconnect(userID, peerID); err != nil {
		util.RespondInternalError(c, "Failed to disconnect")
		return
	}

	h.notifyConnectionEvent("", userID, peerID, "disconnected")
	c.JSON(http.StatusOK, gin.H{"disconnected": true})
}

// GetConnectionRequests lists pending requests addressed to the current user
// GET /api/v1/connections/requests
func (h *Handlers) GetConnectionRequests(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	requests, err := h.graph.PendingRequests(userID)
	if err != nil {
		util.RespondInternalError(c, "Failed to load connection requests")
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests, "count": len(requests)})
}

// GetConnectionStatus returns the three-way status toward :userId
// GET /api/v1/connections/status/:userId
func (h *Handlers) GetConnectionStatus(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	status, err := h.graph.Status(userID, c.Param("userId"))
	if err != nil {
		util.RespondInternalError(c, "Failed to load connection status")
		return
	}
	c.JSON(http.StatusOK, status)
}

// GetConnections lists the current user's accepted connections
// GET /api/v1/connections
func (h *Handlers) GetConnections(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	peerIDs, err := h.graph.AcceptedPeerIDs(userID)
	if err != nil {
		util.RespondInternalError(c, "Failed to load connections")
		return
	}

	var users []models.User
	if len(peerIDs) > 0 {
		if err := database.DB.Where("id IN ?", peerIDs).Find(&users).Error; err != nil {
			util.RespondInternalError(c, "Failed to load connection profiles")
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"connections": users, "count": len(users)})
}
