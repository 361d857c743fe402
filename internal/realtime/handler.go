package realtime

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lumeo/backend/internal/database"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/models"
	"go.uber.org/zap"
)

// Handler handles realtime HTTP upgrade requests
type Handler struct {
	dispatcher *Dispatcher
	jwtSecret  []byte
}

// NewHandler creates a new realtime handler
func NewHandler(dispatcher *Dispatcher, jwtSecret []byte) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		jwtSecret:  jwtSecret,
	}
}

// Dispatcher returns the dispatcher for external collaborators.
func (h *Handler) Dispatcher() *Dispatcher {
	return h.dispatcher
}

// HandleUpgrade upgrades the HTTP connection and runs the client pumps.
// Authentication is via JWT token in query param ?token=... or the
// Authorization header. The server pushes the online-users snapshot before
// any client envelope is processed; the client must still announce itself
// with an online envelope to become addressable.
func (h *Handler) HandleUpgrade(c *gin.Context) {
	user, err := h.authenticateRequest(c)
	if err != nil {
		logger.Log.Warn("Realtime auth failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "authentication_failed",
			"message": err.Error(),
		})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin checks handled by the CORS layer
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Log.Warn("Realtime upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.dispatcher, conn, user.ID)
	client.RemoteAddr = c.ClientIP()

	// Seed the new client with the current presence snapshot. Enqueued
	// before the pumps start, so it is the first frame on the wire.
	h.dispatcher.SendSnapshot(client)

	go client.WritePump()
	client.ReadPump() // blocks until the client disconnects
}

// authenticateRequest extracts and validates the JWT token from the request
func (h *Handler) authenticateRequest(c *gin.Context) (*models.User, error) {
	tokenString := ""

	if token := c.Query("token"); token != "" {
		tokenString = token
	}

	if auth := c.GetHeader("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			tokenString = strings.TrimPrefix(auth, "Bearer ")
		} else {
			tokenString = auth
		}
	}

	if tokenString == "" {
		return nil, errors.New("no authentication token provided")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.jwtSecret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, errors.New("token missing expiration")
	}
	if time.Unix(int64(exp), 0).Before(time.Now()) {
		return nil, errors.New("token expired")
	}

	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return nil, errors.New("invalid user_id in token")
	}

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}

	return &user, nil
}

// HandleMetrics returns realtime metrics (for monitoring)
func (h *Handler) HandleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"realtime":     h.dispatcher.MetricsSnapshot(),
		"online_users": h.dispatcher.Registry().Snapshot(),
		"timestamp":    time.Now().UTC(),
	})
}

// HandleOnlineStatus checks if specific users are online
func (h *Handler) HandleOnlineStatus(c *gin.Context) {
	var req struct {
		UserIDs []string `json:"user_ids" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses := make(map[string]bool)
	for _, userID := range req.UserIDs {
		statuses[userID] = h.dispatcher.Registry().IsOnline(userID)
	}

	c.JSON(http.StatusOK, gin.H{
		"statuses":  statuses,
		"timestamp": time.Now().UTC(),
	})
}
