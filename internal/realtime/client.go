package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/metrics"
	"go.uber.org/zap"
)

const (
	// Time allowed to write an envelope to the peer
	writeWait = 10 * time.Second

	// Maximum envelope size allowed from peer
	maxEnvelopeSize = 64 * 1024 // 64KB

	// Send buffer size
	sendBufferSize = 256
)

// connState is the per-socket lifecycle. A socket identifies at most once:
// there is no transition back to anonymous.
type connState int

const (
	stateAnonymous connState = iota
	stateIdentified
	stateClosed
)

// Client represents a single realtime connection. It starts anonymous and
// becomes addressable only after an online envelope binds the user identity.
type Client struct {
	conn       *websocket.Conn
	dispatcher *Dispatcher

	// UserID is the authenticated account behind this socket. Presence is
	// not registered until the client announces itself with an online
	// envelope.
	UserID string

	// Buffered channel of outbound wire data
	send chan []byte

	ConnectedAt time.Time
	RemoteAddr  string

	rateLimiter *RateLimiter

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	state connState
}

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	tokens    float64
	maxTokens float64
	refill    float64
	lastTime  time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxPerSecond int, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:    float64(burst),
		maxTokens: float64(burst),
		refill:    float64(maxPerSecond),
		lastTime:  time.Now(),
	}
}

// Allow checks if an action is allowed and consumes a token
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastTime).Seconds()
	r.lastTime = now

	r.tokens += elapsed * r.refill
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// NewClient creates a client for an accepted connection.
func NewClient(dispatcher *Dispatcher, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		dispatcher:  dispatcher,
		conn:        conn,
		UserID:      userID,
		send:        make(chan []byte, sendBufferSize),
		ConnectedAt: time.Now(),
		rateLimiter: NewRateLimiter(10, 20),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// identify transitions the client from anonymous to identified. Returns false
// if the socket already identified or closed; a socket identifies at most
// once per its lifetime.
func (c *Client) identify() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateAnonymous {
		return false
	}
	c.state = stateIdentified
	return true
}

// isIdentified reports whether the online envelope was received.
func (c *Client) isIdentified() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state == stateIdentified
}

// ReadPump pumps envelopes from the connection into the dispatcher. It blocks
// until the client disconnects.
func (c *Client) ReadPump() {
	defer func() {
		c.dispatcher.Disconnect(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxEnvelopeSize)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				logger.Log.Info("Client disconnected normally", zap.String("user", c.UserID))
			} else if c.ctx.Err() == nil {
				logger.Log.Warn("Read error for client", zap.String("user", c.UserID), zap.Error(err))
				c.dispatcher.metrics.Errors.Add(1)
			}
			return
		}

		// Rate limiting: excess envelopes are dropped, the socket stays open
		if !c.rateLimiter.Allow() {
			c.dispatcher.metrics.EnvelopesDropped.Add(1)
			metrics.Get().SocketDropsTotal.WithLabelValues("rate_limit").Inc()
			continue
		}

		c.dispatcher.metrics.EnvelopesReceived.Add(1)
		c.dispatcher.HandleRaw(c, data)
	}
}

// WritePump pumps outbound data from the send channel to the connection.
func (c *Client) WritePump() {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
			return

		case data, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "closing")
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, data)
			cancel()

			if err != nil {
				logger.Log.Warn("Write error for client", zap.String("user", c.UserID), zap.Error(err))
				c.dispatcher.metrics.Errors.Add(1)
				return
			}
		}
	}
}

// enqueue places wire data on the send channel without blocking. Delivery is
// best-effort: a full buffer drops the envelope.
func (c *Client) enqueue(data []byte) error {
	c.mu.RLock()
	if c.state == stateClosed {
		c.mu.RUnlock()
		return fmt.Errorf("client connection closed")
	}
	c.mu.RUnlock()

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("client shutting down")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// Close transitions the client to closed and tears down the connection.
func (c *Client) Close() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.mu.Unlock()

	c.cancel()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "closing")
	}
}
