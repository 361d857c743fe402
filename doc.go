// Package backend provides the Lumeo API server.

// This package contains the main application entry point. The actual API
// documentation is organized into subpackages:

// - internal/handlers: HTTP request handlers for all API endpoints
// - internal/models: Data models and database schemas
// - internal/auth: Authentication and authorization services
// - internal/realtime: Socket server for presence, chat and live updates
// - internal/social: Connection graph and chat gating
// - internal/database: Database connection and migrations
// - internal/cache: Redis caching for notification counts
// - internal/aiimage: AI image generation integration
// - internal/middleware: HTTP middleware (auth, logging, metrics)
// - pkg/liveclient: Go client for the realtime socket protocol
package backend
