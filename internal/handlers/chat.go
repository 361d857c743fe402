package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/metrics"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/realtime"
	"github.com/lumeo/backend/internal/util"
)

// requireChatPeer loads the peer and enforces the connection gate. Returns
// false after writing the error response.
func (h *Handlers) requireChatPeer(c *gin.Context, userID, peerID string) bool {
	var peer models.User
	err := database.DB.First(&peer, "id = ?", peerID).Error
	if util.HandleDBError(c, err, "user") {
		return false
	}

	canChat, err := h.graph.CanChat(userID, peerID)
	if err != nil {
		util.RespondInternalError(c, "Failed to check connection")
		return false
	}
	if !canChat {
		util.RespondForbidden(c, "you can only chat with your connections")
		return false
	}
	return true
}

// GetChatConnections lists chat-eligible peers, each with presence, the last
// message and the unread count. This feeds the conversation list screen.
// GET /api/v1/chat/connections
func (h *Handlers) GetChatConnections(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	peerIDs, err := h.graph.AcceptedPeerIDs(userID)
	if err != nil {
		util.RespondInternalError(c, "Failed to load connections")
		return
	}

	type chatPeer struct {
		User        models.User         `json:"user"`
		Online      bool                `json:"online"`
		LastMessage *models.ChatMessage `json:"last_message,omitempty"`
		UnreadCount int64               `json:"unread_count"`
	}
	peers := make([]chatPeer, 0, len(peerIDs))

	registry := h.dispatcher.Registry()
	for _, peerID := range peerIDs {
		var user models.User
		if err := database.DB.First(&user, "id = ?", peerID).Error; err != nil {
			continue
		}

		entry := chatPeer{User: user, Online: registry.IsOnline(peerID)}

		var last models.ChatMessage
		err := database.DB.
			Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
				userID, peerID, peerID, userID).
			Order("created_at DESC").
			First(&last).Error
		if err == nil {
			entry.LastMessage = &last
		}

		database.DB.Model(&models.ChatMessage{}).
			Where("sender_id = ? AND receiver_id = ? AND is_read = ?", peerID, userID, false).
			Count(&entry.UnreadCount)

		peers = append(peers, entry)
	}

	c.JSON(http.StatusOK, gin.H{"connections": peers, "count": len(peers)})
}

// GetChatMessages returns the conversation with :userId, oldest first
// GET /api/v1/chat/messages/:userId
func (h *Handlers) GetChatMessages(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	peerID := c.Param("userId")
	if !h.requireChatPeer(c, userID, peerID) {
		return
	}
	limit, offset := util.ParseLimitOffset(c.Query("limit"), c.Query("offset"), 50, 200)

	var messages []models.ChatMessage
	if err := database.DB.
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userID, peerID, peerID, userID).
		Order("created_at ASC").
		Limit(limit).Offset(offset).
		Find(&messages).Error; err != nil {
		util.RespondInternalError(c, "Failed to load messages")
		return
	}

	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}

// SendChatMessage persists a message and forwards it over the socket when the
// receiver is online. REST fallback for clients without a live socket.
// POST /api/v1/chat/messages/:userId
func (h *Handlers) SendChatMessage(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	peerID := c.Param("userId")
	if !h.requireChatPeer(c, userID, peerID) {
		return
	}

	var req struct {
		Content       string `json:"content" binding:"required,max=5000"`
		AttachmentURL string `json:"attachment_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "content is required")
		return
	}

	message := models.ChatMessage{
		SenderID:      userID,
		ReceiverID:    peerID,
		Content:       strings.TrimSpace(req.Content),
		AttachmentURL: req.AttachmentURL,
	}
	if err := database.DB.Create(&message).Error; err != nil {
		util.RespondInternalError(c, "Failed to send message")
		return
	}

	metrics.Get().MessagesSent.WithLabelValues("rest").Inc()
	h.dispatcher.SendToUser(peerID, realtime.NewEnvelope(realtime.TypeMessage, realtime.MessagePayload{
		SenderID:      message.SenderID,
		ReceiverID:    message.ReceiverID,
		Content:       message.Content,
		AttachmentURL: message.AttachmentURL,
	}))

	c.JSON(http.StatusCreated, gin.H{"message": message})
}

// MarkChatRead marks every unread message from :userId as read and pushes a
// read receipt to the sender
// POST /api/v1/chat/read/:userId
func (h *Handlers) MarkChatRead(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	peerID := c.Param("userId")

	res := database.DB.Model(&models.ChatMessage{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", peerID, userID, false).
		Update("is_read", true)
	if res.Error != nil {
		util.RespondInternalError(c, "Failed to mark messages read")
		return
	}

	if res.RowsAffected > 0 {
		h.dispatcher.PushRead(userID, peerID)
	}

	c.JSON(http.StatusOK, gin.H{"marked_read": res.RowsAffected})
}

// GetUnreadCount returns per-conversation unread message counts keyed by
// the sending peer, plus the overall total
// GET /api/v1/chat/unread
func (h *Handlers) GetUnreadCount(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var rows []struct {
		SenderID string `json:"sender_id"`
		Count    int64  `json:"count"`
	}
	if err := database.DB.Model(&models.ChatMessage{}).
		Select("sender_id, COUNT(*) as count").
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Group("sender_id").
		Scan(&rows).Error; err != nil {
		util.RespondInternalError(c, "Failed to count unread messages")
		return
	}

	unread := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		unread[row.SenderID] = row.Count
		total += row.Count
	}

	c.JSON(http.StatusOK, gin.H{"unread": unread, "unread_count": total})
}
