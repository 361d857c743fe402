package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumeo/backend/internal/auth"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/middleware"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/realtime"
	"github.com/lumeo/backend/internal/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	_ = logger.Initialize("error", os.DevNull)
	os.Exit(m.Run())
}

type HandlersSuite struct {
	suite.Suite
	db          *gorm.DB
	router      *gin.Engine
	authService *auth.Service
	graph       *social.Service
	dispatcher  *realtime.Dispatcher

	alice *models.User
	bob   *models.User
	carol *models.User
}

func (s *HandlersSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	s.Require().NoError(err)
	s.Require().NoError(db.AutoMigrate(
		&models.User{}, &models.Post{}, &models.Comment{}, &models.Like{},
		&models.SavedPost{}, &models.Connection{}, &models.ChatMessage{},
		&models.Notification{}, &models.AIImage{},
	))
	s.db = db
	database.DB = db

	s.authService = auth.NewService([]byte("test-secret-key-for-handlers"))
	s.graph = social.NewService(db)
	s.dispatcher = realtime.NewDispatcher(db, s.graph)

	h := NewHandlers(s.authService, s.graph, s.dispatcher)

	requireAuth := middleware.RequireAuth(s.authService)
	requireSetup := middleware.RequireProfileSetup()

	r := gin.New()
	api := r.Group("/api/v1")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", h.Register)
	authGroup.POST("/login", h.Login)

	users := api.Group("/users", requireAuth)
	users.GET("/me", h.GetMe)
	users.POST("/me/setup", h.SetupProfile)
	users.PUT("/me", h.UpdateProfile)
	users.GET("/search", h.SearchUsers)
	users.GET("/:id", h.GetUser)

	posts := api.Group("/posts", requireAuth, requireSetup)
	posts.POST("", h.CreatePost)
	posts.GET("/feed", h.GetFeed)
	posts.GET("/saved", h.GetSavedPosts)
	posts.GET("/:id", h.GetPost)
	posts.POST("/:id/like", h.LikePost)
	posts.DELETE("/:id/like", h.UnlikePost)
	posts.POST("/:id/comments", h.CommentOnPost)
	posts.POST("/:id/save", h.SavePost)
	posts.DELETE("/:id/save", h.UnsavePost)
	posts.POST("/:id/share", h.SharePost)

	connections := api.Group("/connections", requireAuth, requireSetup)
	connections.GET("", h.GetConnections)
	connections.GET("/requests", h.GetConnectionRequests)
	connections.GET("/status/:userId", h.GetConnectionStatus)
	connections.POST("/request/:userId", h.RequestConnection)
	connections.DELETE("/request/:userId", h.CancelConnection)
	connections.POST("/accept/:userId", h.AcceptConnection)
	connections.POST("/reject/:userId", h.RejectConnection)
	connections.DELETE("/:userId", h.Disconnect)

	chat := api.Group("/chat", requireAuth, requireSetup)
	chat.GET("/connections", h.GetChatConnections)
	chat.GET("/unread", h.GetUnreadCount)
	chat.GET("/messages/:userId", h.GetChatMessages)
	chat.POST("/messages/:userId", h.SendChatMessage)
	chat.POST("/read/:userId", h.MarkChatRead)

	notifications := api.Group("/notifications", requireAuth)
	notifications.GET("", h.GetNotifications)
	notifications.GET("/counts", h.GetNotificationCounts)
	notifications.POST("/read-all", h.MarkAllNotificationsRead)
	notifications.POST("/read/:id", h.MarkNotificationRead)

	s.router = r

	s.alice = s.createUser("alice")
	s.bob = s.createUser("bob")
	s.carol = s.createUser("carol")
}

func (s *HandlersSuite) createUser(name string) *models.User {
	now := time.Now()
	user := models.User{
		Email:          name + "@example.com",
		Username:       &name,
		DisplayName:    name,
		ProfileSetupAt: &now,
	}
	s.Require().NoError(s.db.Create(&user).Error)
	return &user
}

func (s *HandlersSuite) tokenFor(user *models.User) string {
	resp, err := s.authService.GenerateTokenForUser(user)
	s.Require().NoError(err)
	return resp.Token
}

func (s *HandlersSuite) do(method, path string, body interface{}, user *models.User) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+s.tokenFor(user))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *HandlersSuite) connect(a, b *models.User) {
	_, err := s.graph.Request(a.ID, b.ID)
	s.Require().NoError(err)
	s.Require().NoError(s.graph.Accept(b.ID, a.ID))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

// Auth

func (s *HandlersSuite) TestRegisterLoginRoundTrip() {
	w := s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "new@example.com",
		"password": "hunter22222",
	}, nil)
	s.Equal(http.StatusCreated, w.Code)
	body := decodeBody(s.T(), w)
	s.NotEmpty(body["token"])

	// duplicate email registration conflicts
	w = s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "new@example.com",
		"password": "hunter22222",
	}, nil)
	s.Equal(http.StatusConflict, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "new@example.com",
		"password": "hunter22222",
	}, nil)
	s.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/v1/auth/login", gin.H{
		"email":    "new@example.com",
		"password": "wrong-password",
	}, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlersSuite) TestProtectedRoutesRejectMissingToken() {
	w := s.do(http.MethodGet, "/api/v1/users/me", nil, nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *HandlersSuite) TestProfileSetupGateBlocksUnfinishedAccounts() {
	w := s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "fresh@example.com",
		"password": "hunter22222",
	}, nil)
	s.Require().Equal(http.StatusCreated, w.Code)

	var fresh models.User
	s.Require().NoError(s.db.Where("email = ?", "fresh@example.com").First(&fresh).Error)

	w = s.do(http.MethodGet, "/api/v1/posts/feed", nil, &fresh)
	s.Equal(http.StatusForbidden, w.Code)

	w = s.do(http.MethodPost, "/api/v1/users/me/setup", gin.H{
		"username":     "freshuser",
		"display_name": "Fresh User",
	}, &fresh)
	s.Require().Equal(http.StatusOK, w.Code)

	s.Require().NoError(s.db.First(&fresh, "id = ?", fresh.ID).Error)
	w = s.do(http.MethodGet, "/api/v1/posts/feed", nil, &fresh)
	s.Equal(http.StatusOK, w.Code)
}

func (s *HandlersSuite) TestSetupRejectsTakenUsername() {
	w := s.do(http.MethodPost, "/api/v1/auth/register", gin.H{
		"email":    "dupe@example.com",
		"password": "hunter22222",
	}, nil)
	s.Require().Equal(http.StatusCreated, w.Code)

	var fresh models.User
	s.Require().NoError(s.db.Where("email = ?", "dupe@example.com").First(&fresh).Error)

	w = s.do(http.MethodPost, "/api/v1/users/me/setup", gin.H{
		"username":     "alice",
		"display_name": "Wannabe Alice",
	}, &fresh)
	s.Equal(http.StatusConflict, w.Code)
}

func (s *HandlersSuite) TestUpdateProfileChangesOnlyProvidedFields() {
	w := s.do(http.MethodPut, "/api/v1/users/me", gin.H{
		"bio": "shooting film again",
	}, s.alice)
	s.Require().Equal(http.StatusOK, w.Code)

	var got models.User
	s.Require().NoError(s.db.First(&got, "id = ?", s.alice.ID).Error)
	s.Equal("shooting film again", got.Bio)
	s.Equal(s.alice.DisplayName, got.DisplayName)
	s.Require().NotNil(got.Username)
	s.Equal(*s.alice.Username, *got.Username)
}

// Posts

func (s *HandlersSuite) createPost(user *models.User, caption string) models.Post {
	post := models.Post{UserID: user.ID, ImageURL: "https://cdn.example.com/p.jpg", Caption: caption}
	s.Require().NoError(s.db.Create(&post).Error)
	return post
}

func (s *HandlersSuite) TestFeedShowsOwnAndConnectionPosts() {
	s.connect(s.alice, s.bob)
	s.createPost(s.alice, "mine")
	s.createPost(s.bob, "from bob")
	s.createPost(s.carol, "hidden, not connected")

	w := s.do(http.MethodGet, "/api/v1/posts/feed", nil, s.alice)
	s.Require().Equal(http.StatusOK, w.Code)
	body := decodeBody(s.T(), w)
	s.Equal(float64(2), body["count"])
}

func (s *HandlersSuite) TestLikeTwiceConflicts() {
	post := s.createPost(s.bob, "likeable")

	w := s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/like", post.ID), nil, s.alice)
	s.Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/like", post.ID), nil, s.alice)
	s.Equal(http.StatusConflict, w.Code)

	var refreshed models.Post
	s.Require().NoError(s.db.First(&refreshed, "id = ?", post.ID).Error)
	s.Equal(1, refreshed.LikeCount)

	// the post owner got a durable notification
	var n models.Notification
	s.Require().NoError(s.db.Where("user_id = ? AND type = ?", s.bob.ID, models.NotificationTypeLike).First(&n).Error)
	s.Equal(s.alice.ID, n.FromUserID)
}

func (s *HandlersSuite) TestUnlikeWithoutLikeIsNoop() {
	post := s.createPost(s.bob, "never liked")

	w := s.do(http.MethodDelete, fmt.Sprintf("/api/v1/posts/%s/like", post.ID), nil, s.alice)
	s.Equal(http.StatusOK, w.Code)

	var refreshed models.Post
	s.Require().NoError(s.db.First(&refreshed, "id = ?", post.ID).Error)
	s.Equal(0, refreshed.LikeCount)
}

func (s *HandlersSuite) TestCommentIncrementsCountAndNotifies() {
	post := s.createPost(s.bob, "discuss")

	w := s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/comments", post.ID),
		gin.H{"content": "nice shot"}, s.alice)
	s.Require().Equal(http.StatusCreated, w.Code)

	var refreshed models.Post
	s.Require().NoError(s.db.First(&refreshed, "id = ?", post.ID).Error)
	s.Equal(1, refreshed.CommentCount)

	var count int64
	s.db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", s.bob.ID, models.NotificationTypeComment).
		Count(&count)
	s.Equal(int64(1), count)
}

func (s *HandlersSuite) TestLikingOwnPostSkipsSelfNotification() {
	post := s.createPost(s.alice, "self like")

	w := s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/like", post.ID), nil, s.alice)
	s.Equal(http.StatusOK, w.Code)

	var count int64
	s.db.Model(&models.Notification{}).Where("user_id = ?", s.alice.ID).Count(&count)
	s.Equal(int64(0), count)
}

func (s *HandlersSuite) TestSaveIsIdempotent() {
	post := s.createPost(s.bob, "bookmark me")
	path := fmt.Sprintf("/api/v1/posts/%s/save", post.ID)

	w := s.do(http.MethodPost, path, nil, s.alice)
	s.Equal(http.StatusOK, w.Code)
	w = s.do(http.MethodPost, path, nil, s.alice)
	s.Equal(http.StatusOK, w.Code)

	var count int64
	s.db.Model(&models.SavedPost{}).Where("user_id = ?", s.alice.ID).Count(&count)
	s.Equal(int64(1), count)
}

func (s *HandlersSuite) TestShareRequiresConnection() {
	post := s.createPost(s.alice, "to share")

	w := s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/share", post.ID),
		gin.H{"to_user_id": s.bob.ID}, s.alice)
	s.Equal(http.StatusForbidden, w.Code)

	s.connect(s.alice, s.bob)
	w = s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/share", post.ID),
		gin.H{"to_user_id": s.bob.ID}, s.alice)
	s.Equal(http.StatusOK, w.Code)
}

// Connections

func (s *HandlersSuite) TestConnectionLifecycle() {
	w := s.do(http.MethodPost, "/api/v1/connections/request/"+s.bob.ID, nil, s.alice)
	s.Require().Equal(http.StatusCreated, w.Code)

	// bob sees the incoming request
	w = s.do(http.MethodGet, "/api/v1/connections/requests", nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(float64(1), decodeBody(s.T(), w)["count"])

	w = s.do(http.MethodPost, "/api/v1/connections/accept/"+s.alice.ID, nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)

	// both directions report connected
	w = s.do(http.MethodGet, "/api/v1/connections/status/"+s.bob.ID, nil, s.alice)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(true, decodeBody(s.T(), w)["is_connected"])

	w = s.do(http.MethodGet, "/api/v1/connections/status/"+s.alice.ID, nil, s.bob)
	s.Equal(true, decodeBody(s.T(), w)["is_connected"])

	// the requester got a durable accepted notification
	var n models.Notification
	s.Require().NoError(s.db.Where("user_id = ? AND type = ?",
		s.alice.ID, models.NotificationTypeConnectionAccepted).First(&n).Error)
}

func (s *HandlersSuite) TestSelfConnectionRejected() {
	w := s.do(http.MethodPost, "/api/v1/connections/request/"+s.alice.ID, nil, s.alice)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *HandlersSuite) TestDuplicateRequestConflicts() {
	s.do(http.MethodPost, "/api/v1/connections/request/"+s.bob.ID, nil, s.alice)
	w := s.do(http.MethodPost, "/api/v1/connections/request/"+s.bob.ID, nil, s.alice)
	s.Equal(http.StatusConflict, w.Code)
}

func (s *HandlersSuite) TestAcceptWithoutRequestNotFound() {
	w := s.do(http.MethodPost, "/api/v1/connections/accept/"+s.carol.ID, nil, s.alice)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *HandlersSuite) TestDisconnectRemovesBothDirections() {
	s.connect(s.alice, s.bob)

	w := s.do(http.MethodDelete, "/api/v1/connections/"+s.bob.ID, nil, s.alice)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/connections/status/"+s.alice.ID, nil, s.bob)
	s.Equal(false, decodeBody(s.T(), w)["is_connected"])
}

// Chat

func (s *HandlersSuite) TestChatGatedByConnection() {
	w := s.do(http.MethodPost, "/api/v1/chat/messages/"+s.bob.ID,
		gin.H{"content": "hi"}, s.alice)
	s.Equal(http.StatusForbidden, w.Code)

	s.connect(s.alice, s.bob)

	w = s.do(http.MethodPost, "/api/v1/chat/messages/"+s.bob.ID,
		gin.H{"content": "hi"}, s.alice)
	s.Require().Equal(http.StatusCreated, w.Code)

	w = s.do(http.MethodGet, "/api/v1/chat/messages/"+s.bob.ID, nil, s.alice)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(float64(1), decodeBody(s.T(), w)["count"])
}

func (s *HandlersSuite) TestChatHistoryOrderedOldestFirst() {
	s.connect(s.alice, s.bob)
	for _, content := range []string{"first", "second", "third"} {
		w := s.do(http.MethodPost, "/api/v1/chat/messages/"+s.bob.ID,
			gin.H{"content": content}, s.alice)
		s.Require().Equal(http.StatusCreated, w.Code)
	}

	w := s.do(http.MethodGet, "/api/v1/chat/messages/"+s.alice.ID, nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)
	body := decodeBody(s.T(), w)
	messages := body["messages"].([]interface{})
	s.Require().Len(messages, 3)
	first := messages[0].(map[string]interface{})
	s.Equal("first", first["content"])
}

func (s *HandlersSuite) TestMarkChatReadClearsUnread() {
	s.connect(s.alice, s.bob)
	s.connect(s.carol, s.bob)
	s.do(http.MethodPost, "/api/v1/chat/messages/"+s.bob.ID, gin.H{"content": "one"}, s.alice)
	s.do(http.MethodPost, "/api/v1/chat/messages/"+s.bob.ID, gin.H{"content": "two"}, s.alice)
	s.do(http.MethodPost, "/api/v1/chat/messages/"+s.bob.ID, gin.H{"content": "hey"}, s.carol)

	w := s.do(http.MethodGet, "/api/v1/chat/unread", nil, s.bob)
	body := decodeBody(s.T(), w)
	s.Equal(float64(3), body["unread_count"])
	unread := body["unread"].(map[string]interface{})
	s.Equal(float64(2), unread[s.alice.ID])
	s.Equal(float64(1), unread[s.carol.ID])

	w = s.do(http.MethodPost, "/api/v1/chat/read/"+s.alice.ID, nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(float64(2), decodeBody(s.T(), w)["marked_read"])

	w = s.do(http.MethodGet, "/api/v1/chat/unread", nil, s.bob)
	body = decodeBody(s.T(), w)
	s.Equal(float64(1), body["unread_count"])
	unread = body["unread"].(map[string]interface{})
	s.NotContains(unread, s.alice.ID)
	s.Equal(float64(1), unread[s.carol.ID])
}

func (s *HandlersSuite) TestChatConnectionsListsLastMessageAndUnread() {
	s.connect(s.alice, s.bob)
	s.do(http.MethodPost, "/api/v1/chat/messages/"+s.bob.ID, gin.H{"content": "ping"}, s.alice)

	w := s.do(http.MethodGet, "/api/v1/chat/connections", nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)
	body := decodeBody(s.T(), w)
	conns := body["connections"].([]interface{})
	s.Require().Len(conns, 1)
	entry := conns[0].(map[string]interface{})
	s.Equal(float64(1), entry["unread_count"])
	last := entry["last_message"].(map[string]interface{})
	s.Equal("ping", last["content"])
}

// Notifications

func (s *HandlersSuite) TestNotificationCountsAndReadAll() {
	post := s.createPost(s.bob, "popular")
	s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/like", post.ID), nil, s.alice)
	s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/comments", post.ID),
		gin.H{"content": "wow"}, s.carol)

	w := s.do(http.MethodGet, "/api/v1/notifications/counts", nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(float64(2), decodeBody(s.T(), w)["unread_count"])

	w = s.do(http.MethodPost, "/api/v1/notifications/read-all", nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/notifications/counts", nil, s.bob)
	s.Equal(float64(0), decodeBody(s.T(), w)["unread_count"])
}

func (s *HandlersSuite) TestMarkForeignNotificationNotFound() {
	post := s.createPost(s.bob, "not yours")
	s.do(http.MethodPost, fmt.Sprintf("/api/v1/posts/%s/like", post.ID), nil, s.alice)

	var n models.Notification
	s.Require().NoError(s.db.Where("user_id = ?", s.bob.ID).First(&n).Error)

	// carol cannot mark bob's notification
	w := s.do(http.MethodPost, "/api/v1/notifications/read/"+n.ID, nil, s.carol)
	s.Equal(http.StatusNotFound, w.Code)
}

// Users

func (s *HandlersSuite) TestGetUserIncludesConnectionStatus() {
	s.connect(s.alice, s.bob)

	w := s.do(http.MethodGet, "/api/v1/users/"+s.bob.ID, nil, s.alice)
	s.Require().Equal(http.StatusOK, w.Code)
	body := decodeBody(s.T(), w)
	conn := body["connection"].(map[string]interface{})
	assert.Equal(s.T(), true, conn["is_connected"])
}

func (s *HandlersSuite) TestSearchUsersByPrefix() {
	w := s.do(http.MethodGet, "/api/v1/users/search?q=ali", nil, s.bob)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(float64(1), decodeBody(s.T(), w)["count"])
}

func TestHandlersSuite(t *testing.T) {
	suite.Run(t, new(HandlersSuite))
}
