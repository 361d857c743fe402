// Package realtime implements the live messaging layer: a process-wide
// presence registry of connected users and a dispatcher that routes typed
// JSON envelopes between them, persisting the subset that is durable.
package realtime

import (
	"context"
	"encoding/json"

	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/metrics"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/social"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatcher is the single entry point for inbound envelopes. It persists
// side effects to the store and forwards envelopes to the addressed user(s)
// via the presence registry. Delivery is at-most-once and best-effort: an
// offline recipient means the envelope is silently discarded and the durable
// side effect, if any, is the only trace.
type Dispatcher struct {
	registry *Registry
	db       *gorm.DB
	graph    *social.Service
	metrics  *Metrics
}

// NewDispatcher creates a dispatcher over the given store and graph service.
func NewDispatcher(db *gorm.DB, graph *social.Service) *Dispatcher {
	return &Dispatcher{
		registry: NewRegistry(),
		db:       db,
		graph:    graph,
		metrics:  &Metrics{},
	}
}

// Registry exposes the presence registry for read-side collaborators.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// MetricsSnapshot returns current realtime metrics.
func (d *Dispatcher) MetricsSnapshot() MetricsSnapshot {
	return d.metrics.Snapshot()
}

// HandleRaw parses one inbound envelope and routes it. Malformed JSON,
// missing required fields, and unknown types are logged and dropped; the
// socket stays open and no error envelope goes back to the sender.
func (d *Dispatcher) HandleRaw(c *Client, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Log.Warn("Malformed realtime envelope",
			zap.String("user", c.UserID),
			zap.Error(err))
		d.metrics.EnvelopesDropped.Add(1)
		metrics.Get().SocketDropsTotal.WithLabelValues("malformed").Inc()
		return
	}

	switch env.Type {
	case TypeOnline:
		d.handleOnline(c, &env)
	case TypeOffline:
		d.handleOffline(c)
	case TypeMessage:
		d.handleMessage(c, &env)
	case TypeTyping:
		d.handleTyping(c, &env)
	case TypeRead:
		d.handleRead(c, &env)
	case TypeNotification:
		d.handleNotification(c, &env)
	case TypeConnectionStatus:
		d.handleConnectionStatus(c, &env)
	case TypeSharePost:
		d.handleSharePost(c, &env)
	case TypeLikeUpdate, TypeCommentUpdate:
		d.handleCountUpdate(c, &env)
	default:
		logger.Log.Warn("Unknown envelope type",
			zap.String("user", c.UserID),
			zap.String("type", env.Type))
		d.metrics.EnvelopesDropped.Add(1)
		metrics.Get().SocketDropsTotal.WithLabelValues("unknown_type").Inc()
		return
	}

	// The type label is bounded because unknown types returned above.
	metrics.Get().SocketEnvelopesTotal.WithLabelValues(env.Type, "inbound").Inc()
}

// handleOnline binds the socket identity and registers presence. A socket
// identifies at most once; repeated online envelopes are dropped. Identity
// comes from the upgrade-time token, never from the payload: a userId that
// disagrees with the token is logged and ignored.
func (d *Dispatcher) handleOnline(c *Client, env *Envelope) {
	var payload PresencePayload
	if err := env.ParsePayload(&payload); err == nil &&
		payload.UserID != "" && payload.UserID != c.UserID {
		logger.Log.Warn("Online payload userId disagrees with socket identity",
			zap.String("user", c.UserID),
			zap.String("claimed", payload.UserID))
	}

	if !c.identify() {
		logger.Log.Warn("Duplicate online envelope", zap.String("user", c.UserID))
		return
	}

	// Last connection wins: a previous socket for this user is displaced
	// and simply becomes unaddressable. Its close path will fail the
	// identity-guarded Unregister, so its active slot is released here.
	if displaced := d.registry.Register(c.UserID, c); displaced != nil {
		d.metrics.ActiveConnections.Add(-1)
		metrics.Get().SocketConnectionsActive.WithLabelValues().Dec()
	}
	d.metrics.TotalConnections.Add(1)
	d.metrics.ActiveConnections.Add(1)
	metrics.Get().SocketConnectionsActive.WithLabelValues().Inc()

	logger.Log.Info("Client identified",
		zap.String("user", c.UserID),
		zap.Int("online", d.registry.Size()))

	d.broadcastPresence(c.UserID, true)
}

// handleOffline unregisters presence without closing the transport.
func (d *Dispatcher) handleOffline(c *Client) {
	d.dropPresence(c)
}

// Disconnect is invoked when the transport closes. Idempotent with respect to
// an earlier offline envelope.
func (d *Dispatcher) Disconnect(c *Client) {
	d.dropPresence(c)
}

// dropPresence removes the registry entry for c, if c still owns it, and
// broadcasts offline to accepted connections. The removal guard makes both
// the explicit offline envelope and the socket close path idempotent, and
// protects a replacement connection's entry.
func (d *Dispatcher) dropPresence(c *Client) {
	if !c.isIdentified() {
		return
	}

	if removed := d.registry.Unregister(c.UserID, c); !removed {
		return
	}
	d.metrics.ActiveConnections.Add(-1)
	metrics.Get().SocketConnectionsActive.WithLabelValues().Dec()

	logger.Log.Info("Client unregistered",
		zap.String("user", c.UserID),
		zap.Int("online", d.registry.Size()))

	d.broadcastPresence(c.UserID, false)
}

// broadcastPresence pushes an online/offline envelope to every accepted
// connection of userID that is currently reachable.
func (d *Dispatcher) broadcastPresence(userID string, online bool) {
	peers, err := d.graph.AcceptedPeerIDs(userID)
	if err != nil {
		logger.Log.Error("Presence broadcast failed to load connections",
			zap.String("user", userID), zap.Error(err))
		return
	}

	envType := TypeOffline
	if online {
		envType = TypeOnline
	}
	env := NewEnvelope(envType, PresencePayload{UserID: userID})

	for _, peer := range peers {
		d.SendToUser(peer, env)
	}
}

// handleMessage persists the chat message and forwards it to the receiver if
// online. A store failure is logged and the message is lost from the realtime
// path; the sender gets no failure signal over the socket.
func (d *Dispatcher) handleMessage(c *Client, env *Envelope) {
	var payload MessagePayload
	if err := env.ParsePayload(&payload); err != nil {
		logger.Log.Warn("Invalid message payload", zap.String("user", c.UserID), zap.Error(err))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}
	if payload.SenderID == "" {
		payload.SenderID = c.UserID
	}
	if payload.ReceiverID == "" || payload.Content == "" {
		logger.Log.Warn("Message envelope missing required fields", zap.String("user", c.UserID))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}

	msg := models.ChatMessage{
		SenderID:      payload.SenderID,
		ReceiverID:    payload.ReceiverID,
		Content:       payload.Content,
		AttachmentURL: payload.AttachmentURL,
	}
	if err := d.db.Create(&msg).Error; err != nil {
		logger.Log.Error("Failed to persist chat message",
			zap.String("sender", payload.SenderID),
			zap.String("receiver", payload.ReceiverID),
			zap.Error(err))
		d.metrics.Errors.Add(1)
		return
	}

	d.SendToUser(payload.ReceiverID, NewEnvelope(TypeMessage, payload))
}

// handleTyping forwards the ephemeral typing indicator. No persistence.
func (d *Dispatcher) handleTyping(c *Client, env *Envelope) {
	var payload TypingPayload
	if err := env.ParsePayload(&payload); err != nil || payload.ReceiverID == "" {
		logger.Log.Warn("Invalid typing payload", zap.String("user", c.UserID))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}
	if payload.UserID == "" {
		payload.UserID = c.UserID
	}

	d.SendToUser(payload.ReceiverID, NewEnvelope(TypeTyping, payload))
}

// handleRead marks every unread message from SenderID to the reader as read,
// then forwards the receipt to the sender if online.
func (d *Dispatcher) handleRead(c *Client, env *Envelope) {
	var payload ReadPayload
	if err := env.ParsePayload(&payload); err != nil || payload.SenderID == "" {
		logger.Log.Warn("Invalid read payload", zap.String("user", c.UserID))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}
	if payload.UserID == "" {
		payload.UserID = c.UserID
	}

	err := d.db.Model(&models.ChatMessage{}).
		Where("sender_id = ? AND receiver_id = ? AND is_read = ?", payload.SenderID, payload.UserID, false).
		Update("is_read", true).Error
	if err != nil {
		logger.Log.Error("Failed to mark messages read",
			zap.String("reader", payload.UserID),
			zap.String("sender", payload.SenderID),
			zap.Error(err))
		d.metrics.Errors.Add(1)
		return
	}

	d.SendToUser(payload.SenderID, NewEnvelope(TypeRead, payload))
}

// handleNotification forwards the caller-persisted notification event.
func (d *Dispatcher) handleNotification(c *Client, env *Envelope) {
	var payload NotificationPayload
	if err := env.ParsePayload(&payload); err != nil || payload.ToUserID == "" {
		logger.Log.Warn("Invalid notification payload", zap.String("user", c.UserID))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}

	d.SendToUser(payload.ToUserID, NewEnvelope(TypeNotification, payload))
}

// handleConnectionStatus mirrors a connection graph mutation to the peer.
func (d *Dispatcher) handleConnectionStatus(c *Client, env *Envelope) {
	var payload ConnectionStatusPayload
	if err := env.ParsePayload(&payload); err != nil || payload.ToUserID == "" {
		logger.Log.Warn("Invalid connection_status payload", zap.String("user", c.UserID))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}

	d.SendToUser(payload.ToUserID, NewEnvelope(TypeConnectionStatus, payload))
}

// handleSharePost persists the share notification and forwards it.
func (d *Dispatcher) handleSharePost(c *Client, env *Envelope) {
	var payload SharePostPayload
	if err := env.ParsePayload(&payload); err != nil || payload.ToUserID == "" || payload.PostID == "" {
		logger.Log.Warn("Invalid share_post payload", zap.String("user", c.UserID))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}
	if payload.FromUserID == "" {
		payload.FromUserID = c.UserID
	}

	notification := models.Notification{
		UserID:     payload.ToUserID,
		FromUserID: payload.FromUserID,
		Type:       models.NotificationTypeShare,
		EntityID:   payload.PostID,
	}
	if err := d.db.Create(&notification).Error; err != nil {
		logger.Log.Error("Failed to persist share notification",
			zap.String("from", payload.FromUserID),
			zap.String("to", payload.ToUserID),
			zap.Error(err))
		d.metrics.Errors.Add(1)
		return
	}

	d.SendToUser(payload.ToUserID, NewEnvelope(TypeSharePost, payload))
}

// handleCountUpdate rebroadcasts the advisory like/comment counter. The
// recipient set is deliberately unbounded: the update is for the acting
// user's own cross-tab sync plus anyone coincidentally subscribed, and no
// correctness-sensitive logic may depend on it.
func (d *Dispatcher) handleCountUpdate(c *Client, env *Envelope) {
	var payload CountUpdatePayload
	if err := env.ParsePayload(&payload); err != nil || payload.PostID == "" {
		logger.Log.Warn("Invalid count update payload", zap.String("user", c.UserID))
		d.metrics.EnvelopesDropped.Add(1)
		return
	}

	d.Broadcast(NewEnvelope(env.Type, payload))
}

// SendToUser forwards an envelope to userID if a live socket exists. Returns
// false when the user is unreachable; the envelope is discarded in that case.
func (d *Dispatcher) SendToUser(userID string, env *Envelope) bool {
	client, ok := d.registry.Lookup(userID)
	if !ok {
		return false
	}

	data, err := json.Marshal(env)
	if err != nil {
		logger.Log.Error("Failed to marshal envelope", zap.String("type", env.Type), zap.Error(err))
		d.metrics.Errors.Add(1)
		return false
	}

	if err := client.enqueue(data); err != nil {
		logger.Log.Warn("Dropped envelope for user",
			zap.String("user", userID),
			zap.String("type", env.Type),
			zap.Error(err))
		d.metrics.EnvelopesDropped.Add(1)
		metrics.Get().SocketDropsTotal.WithLabelValues("backpressure").Inc()
		return false
	}

	d.metrics.EnvelopesSent.Add(1)
	metrics.Get().SocketEnvelopesTotal.WithLabelValues(env.Type, "outbound").Inc()
	return true
}

// SendSnapshot enqueues the online-users envelope directly on a freshly
// accepted client, before it is registered or identified.
func (d *Dispatcher) SendSnapshot(c *Client) {
	env := NewEnvelope(TypeOnlineUsers, OnlineUsersPayload{Users: d.registry.Snapshot()})
	data, err := json.Marshal(env)
	if err != nil {
		logger.Log.Error("Failed to marshal presence snapshot", zap.Error(err))
		return
	}
	if err := c.enqueue(data); err != nil {
		logger.Log.Warn("Failed to enqueue presence snapshot", zap.String("user", c.UserID), zap.Error(err))
	}
}

// PushNotification is the live sink of a notification event whose durable row
// the caller already wrote. Keeping both sinks behind one call site prevents
// the two paths from drifting.
func (d *Dispatcher) PushNotification(payload NotificationPayload) {
	d.SendToUser(payload.ToUserID, NewEnvelope(TypeNotification, payload))
}

// PushConnectionStatus mirrors a REST connection mutation to the peer.
func (d *Dispatcher) PushConnectionStatus(payload ConnectionStatusPayload) {
	d.SendToUser(payload.ToUserID, NewEnvelope(TypeConnectionStatus, payload))
}

// PushRead mirrors a REST read receipt to the original sender.
func (d *Dispatcher) PushRead(readerID, senderID string) {
	d.SendToUser(senderID, NewEnvelope(TypeRead, ReadPayload{UserID: readerID, SenderID: senderID}))
}

// Broadcast forwards an envelope to every registered user.
func (d *Dispatcher) Broadcast(env *Envelope) {
	for _, userID := range d.registry.Snapshot() {
		d.SendToUser(userID, env)
	}
}

// Shutdown closes every live connection. Presence resets to empty; clients
// rediscover each other's state when they reconnect.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	for _, userID := range d.registry.Snapshot() {
		if client, ok := d.registry.Lookup(userID); ok {
			d.registry.Unregister(userID, client)
			client.Close()
		}
	}
	return ctx.Err()
}
