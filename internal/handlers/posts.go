package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/metrics"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/realtime"
	"github.com/lumeo/backend/internal/util"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// notifyPostEvent writes the durable notification row and pushes the realtime
// envelope. This is the single call site for post-event emission; handlers
// never talk to the dispatcher directly.
func (h *Handlers) notifyPostEvent(eventType, fromUserID, toUserID, entityID string) {
	if fromUserID == toUserID {
		return
	}

	n := models.Notification{
		UserID:     toUserID,
		FromUserID: fromUserID,
		Type:       eventType,
		EntityID:   entityID,
	}
	if err := database.DB.Create(&n).Error; err != nil {
		logger.Log.Error("failed to persist notification",
			zap.String("type", eventType),
			zap.Error(err))
		return
	}
	h.invalidateNotificationCounts(toUserID)

	h.dispatcher.PushNotification(realtime.NotificationPayload{
		Type:       eventType,
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		EntityID:   entityID,
	})
}

// CreatePost creates a new photo post
// POST /api/v1/posts
func (h *Handlers) CreatePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var req struct {
		ImageURL string `json:"image_url" binding:"required"`
		Caption  string `json:"caption" binding:"max=2000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "image_url is required")
		return
	}

	post := models.Post{
		UserID:   userID,
		ImageURL: req.ImageURL,
		Caption:  strings.TrimSpace(req.Caption),
	}

	err := database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("post_count", gorm.Expr("post_count + 1")).Error
	})
	if err != nil {
		util.RespondInternalError(c, "Failed to create post")
		return
	}

	metrics.Get().PostsCreated.WithLabelValues().Inc()
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

// GetFeed returns posts from the user's accepted connections plus their own,
// newest first
// GET /api/v1/posts/feed
func (h *Handlers) GetFeed(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.ParseLimitOffset(c.Query("limit"), c.Query("offset"), 20, 100)

	peerIDs, err := h.graph.AcceptedPeerIDs(userID)
	if err != nil {
		util.RespondInternalError(c, "Failed to load connections")
		return
	}
	authorIDs := append(peerIDs, userID)

	var posts []models.Post
	if err := database.DB.
		Where("user_id IN ?", authorIDs).
		Preload("User").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&posts).Error; err != nil {
		util.RespondInternalError(c, "Failed to load feed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"posts":  posts,
		"count":  len(posts),
		"limit":  limit,
		"offset": offset,
	})
}

// GetPost returns one post with its comments
// GET /api/v1/posts/:id
func (h *Handlers) GetPost(c *gin.Context) {
	if _, ok := util.GetUserIDFromContext(c); !ok {
		return
	}

	var post models.Post
	err := database.DB.Preload("User").First(&post, "id = ?", c.Param("id")).Error
	if util.HandleDBError(c, err, "post") {
		return
	}

	var comments []models.Comment
	if err := database.DB.Where("post_id = ?", post.ID).
		Preload("User").
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		util.RespondInternalError(c, "Failed to load comments")
		return
	}

	c.JSON(http.StatusOK, gin.H{"post": post, "comments": comments})
}

// LikePost likes a post. Liking twice is a conflict, mirroring the unique
// (post, user) constraint.
// POST /api/v1/posts/:id/like
func (h *Handlers) LikePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var post models.Post
	err := database.DB.First(&post, "id = ?", c.Param("id")).Error
	if util.HandleDBError(c, err, "post") {
		return
	}

	var existing models.Like
	err = database.DB.Where("post_id = ? AND user_id = ?", post.ID, userID).First(&existing).Error
	if err == nil {
		util.RespondConflict(c, "like")
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondInternalError(c, "Failed to check like")
		return
	}

	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&models.Like{PostID: post.ID, UserID: userID}).Error; err != nil {
			return err
		}
		return tx.Model(&post).UpdateColumn("like_count", gorm.Expr("like_count + 1")).Error
	})
	if err != nil {
		util.RespondInternalError(c, "Failed to like post")
		return
	}

	metrics.Get().LikesTotal.WithLabelValues("like").Inc()
	h.notifyPostEvent(models.NotificationTypeLike, userID, post.UserID, post.ID)
	h.dispatcher.Broadcast(realtime.NewEnvelope(realtime.TypeLikeUpdate, realtime.CountUpdatePayload{
		PostID: post.ID,
		Count:  post.LikeCount + 1,
	}))

	c.JSON(http.StatusOK, gin.H{"liked": true, "like_count": post.LikeCount + 1})
}

// UnlikePost removes a like. Unliking a post that was never liked is a no-op.
// DELETE /api/v1/posts/:id/like
func (h *Handlers) UnlikePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var post models.Post
	err := database.DB.First(&post, "id = ?", c.Param("id")).Error
	if util.HandleDBError(c, err, "post") {
		return
	}

	res := database.DB.Where("post_id = ? AND user_id = ?", post.ID, userID).Delete(&models.Like{})
	if res.Error != nil {
		util.RespondInternalError(c, "Failed to unlike post")
		return
	}

	count := post.LikeCount
	if res.RowsAffected > 0 {
		count--
		if count < 0 {
			count = 0
		}
		if err := database.DB.Model(&post).UpdateColumn("like_count", count).Error; err != nil {
			logger.Log.Warn("failed to decrement like count", zap.String("post_id", post.ID), zap.Error(err))
		}
		metrics.Get().LikesTotal.WithLabelValues("unlike").Inc()
		h.dispatcher.Broadcast(realtime.NewEnvelope(realtime.TypeLikeUpdate, realtime.CountUpdatePayload{
			PostID: post.ID,
			Count:  count,
		}))
	}

	c.JSON(http.StatusOK, gin.H{"liked": false, "like_count": count})
}

// CommentOnPost adds a comment to a post
// POST /api/v1/posts/:id/comments
func (h *Handlers) CommentOnPost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var post models.Post
	err := database.DB.First(&post, "id = ?", c.Param("id")).Error
	if util.HandleDBError(c, err, "post") {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required,max=1000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "content is required")
		return
	}

	comment := models.Comment{
		PostID:  post.ID,
		UserID:  userID,
		Content: strings.TrimSpace(req.Content),
	}
	err = database.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&comment).Error; err != nil {
			return err
		}
		return tx.Model(&post).UpdateColumn("comment_count", gorm.Expr("comment_count + 1")).Error
	})
	if err != nil {
		util.RespondInternalError(c, "Failed to create comment")
		return
	}

	metrics.Get().CommentsTotal.WithLabelValues().Inc()
	h.notifyPostEvent(models.NotificationTypeComment, userID, post.UserID, post.ID)
	h.dispatcher.Broadcast(realtime.NewEnvelope(realtime.TypeCommentUpdate, realtime.CountUpdatePayload{
		PostID: post.ID,
		Count:  post.CommentCount + 1,
	}))

	c.JSON(http.StatusCreated, gin.H{"comment": comment})
}

// SavePost bookmarks a post for the current user
// POST /api/v1/posts/:id/save
func (h *Handlers) SavePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var post models.Post
	err := database.DB.First(&post, "id = ?", c.Param("id")).Error
	if util.HandleDBError(c, err, "post") {
		return
	}

	var existing models.SavedPost
	err = database.DB.Where("post_id = ? AND user_id = ?", post.ID, userID).First(&existing).Error
	if err == nil {
		c.JSON(http.StatusOK, gin.H{"saved": true, "message": "Post already saved"})
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		util.RespondInternalError(c, "Failed to check saved post")
		return
	}

	saved := models.SavedPost{PostID: post.ID, UserID: userID}
	if err := database.DB.Create(&saved).Error; err != nil {
		util.RespondInternalError(c, "Failed to save post")
		return
	}

	h.notifyPostEvent(models.NotificationTypeSave, userID, post.UserID, post.ID)
	c.JSON(http.StatusOK, gin.H{"saved": true, "saved_at": saved.CreatedAt})
}

// UnsavePost removes a bookmark
// DELETE /api/v1/posts/:id/save
func (h *Handlers) UnsavePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	if err := database.DB.Where("post_id = ? AND user_id = ?", c.Param("id"), userID).
		Delete(&models.SavedPost{}).Error; err != nil {
		util.RespondInternalError(c, "Failed to unsave post")
		return
	}
	c.JSON(http.StatusOK, gin.H{"saved": false})
}

// GetSavedPosts lists the current user's bookmarks, newest first
// GET /api/v1/posts/saved
func (h *Handlers) GetSavedPosts(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}
	limit, offset := util.ParseLimitOffset(c.Query("limit"), c.Query("offset"), 20, 100)

	var saved []models.SavedPost
	if err := database.DB.Where("user_id = ?", userID).
		Preload("Post").Preload("Post.User").
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&saved).Error; err != nil {
		util.RespondInternalError(c, "Failed to load saved posts")
		return
	}

	c.JSON(http.StatusOK, gin.H{"saved_posts": saved, "count": len(saved)})
}

// SharePost shares a post with a connection. The recipient gets a durable
// notification and, when online, a share_post envelope.
// POST /api/v1/posts/:id/share
func (h *Handlers) SharePost(c *gin.Context) {
	userID, ok := util.GetUserIDFromContext(c)
	if !ok {
		return
	}

	var post models.Post
	err := database.DB.First(&post, "id = ?", c.Param("id")).Error
	if util.HandleDBError(c, err, "post") {
		return
	}

	var req struct {
		ToUserID string `json:"to_user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "to_user_id is required")
		return
	}

	canChat, err := h.graph.CanChat(userID, req.ToUserID)
	if err != nil {
		util.RespondInternalError(c, "Failed to check connection")
		return
	}
	if !canChat {
		util.RespondForbidden(c, "you can only share posts with your connections")
		return
	}

	h.notifyPostEvent(models.NotificationTypeShare, userID, req.ToUserID, post.ID)
	c.JSON(http.StatusOK, gin.H{"shared": true})
}
