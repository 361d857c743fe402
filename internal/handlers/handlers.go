package handlers

import (
	"github.com/lumeo/backend/internal/aiimage"
	"github.com/lumeo/backend/internal/auth"
	"github.com/lumeo/backend/internal/cache"
	"github.com/lumeo/backend/internal/realtime"
	"github.com/lumeo/backend/internal/social"
)

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	auth       *auth.Service
	graph      *social.Service
	dispatcher *realtime.Dispatcher
	images     aiimage.Generator
	redis      *cache.RedisClient
}

// NewHandlers creates a new handlers instance
func NewHandlers(authService *auth.Service, graph *social.Service, dispatcher *realtime.Dispatcher) *Handlers {
	return &Handlers{
		auth:       authService,
		graph:      graph,
		dispatcher: dispatcher,
	}
}

// SetImageGenerator sets the AI image client
func (h *Handlers) SetImageGenerator(images aiimage.Generator) {
	h.images = images
}

// SetRedisClient sets the cache used for notification counts
func (h *Handlers) SetRedisClient(redis *cache.RedisClient) {
	h.redis = redis
}
