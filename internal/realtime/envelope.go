package realtime

import "encoding/json"

// Envelope type tags exchanged over the socket.
const (
	// Presence lifecycle
	TypeOnline  = "online"
	TypeOffline = "offline"

	// Chat
	TypeMessage = "message"
	TypeTyping  = "typing"
	TypeRead    = "read"

	// Social side channel
	TypeNotification     = "notification"
	TypeConnectionStatus = "connection_status"
	TypeSharePost        = "share_post"

	// Advisory counter updates, broadcast for cross-tab UI sync only
	TypeLikeUpdate    = "like_update"
	TypeCommentUpdate = "comment_update"

	// Server→client only: initial presence snapshot pushed on connect
	TypeOnlineUsers = "online-users"
)

// Envelope is the unit of realtime wire communication: a tagged union of
// {type, payload}. Payloads are persisted individually where the dispatcher
// table says so; the envelope itself never is.
type Envelope struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEnvelope creates an envelope with the given type tag and payload.
func NewEnvelope(envType string, payload interface{}) *Envelope {
	return &Envelope{Type: envType, Payload: payload}
}

// ParsePayload unmarshals the payload into a specific type.
func (e *Envelope) ParsePayload(target interface{}) error {
	if e.Payload == nil {
		return nil
	}

	// Re-marshal and unmarshal to properly type the payload
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

// PresencePayload identifies the user whose presence changed. It is both the
// inbound online/offline announcement and the outbound presence broadcast.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// MessagePayload carries one chat message.
type MessagePayload struct {
	SenderID      string `json:"senderId"`
	ReceiverID    string `json:"receiverId"`
	Content       string `json:"content"`
	AttachmentURL string `json:"attachmentUrl,omitempty"`
}

// TypingPayload is the ephemeral typing indicator. Never persisted.
type TypingPayload struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
}

// ReadPayload marks every unread message from SenderID to the reader as read.
type ReadPayload struct {
	UserID   string `json:"userId"`
	SenderID string `json:"senderId"`
}

// NotificationPayload is the generic envelope for like/comment/save/share and
// connection events. The durable Notification row is written by the caller;
// this push is advisory.
type NotificationPayload struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	EntityID   string `json:"entityId,omitempty"`
}

// ConnectionStatusPayload mirrors a connection graph mutation to the peer.
type ConnectionStatusPayload struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Status     string `json:"status"` // pending, accepted, rejected, disconnected, cancelled
}

// SharePostPayload shares a post with another user.
type SharePostPayload struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	PostID     string `json:"postId"`
}

// CountUpdatePayload carries an advisory like/comment count for a post.
// Receipt is never required for correctness, only UI freshness.
type CountUpdatePayload struct {
	PostID string `json:"postId"`
	Count  int    `json:"count"`
}

// OnlineUsersPayload seeds a newly connected client with the current
// presence snapshot.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}
