// Package liveclient is the client-side counterpart of the realtime layer.
// It owns a single socket, mirrors the stream of typed envelopes into local
// view state (message threads, online users, counters, notifications), and
// reconciles that state with REST backfill responses.
package liveclient

import (
	"encoding/json"
	"time"
)

// Envelope type tags. These mirror the server wire protocol.
const (
	TypeOnline           = "online"
	TypeOffline          = "offline"
	TypeMessage          = "message"
	TypeTyping           = "typing"
	TypeRead             = "read"
	TypeNotification     = "notification"
	TypeConnectionStatus = "connection_status"
	TypeSharePost        = "share_post"
	TypeLikeUpdate       = "like_update"
	TypeCommentUpdate    = "comment_update"
	TypeOnlineUsers      = "online-users"
)

// Envelope is the {type, payload} unit of wire communication.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PresencePayload announces a presence change.
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

// TypingPayload is the ephemeral typing indicator.
type TypingPayload struct {
	UserID     string `json:"userId"`
	ReceiverID string `json:"receiverId"`
}

// ReadPayload is a read receipt for a whole conversation direction.
type ReadPayload struct {
	UserID   string `json:"userId"`
	SenderID string `json:"senderId"`
}

// NotificationPayload is the generic social event push.
type NotificationPayload struct {
	Type       string `json:"type"`
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	EntityID   string `json:"entityId,omitempty"`
}

// ConnectionStatusPayload mirrors a connection graph mutation.
type ConnectionStatusPayload struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	Status     string `json:"status"`
}

// SharePostPayload shares a post with another user.
type SharePostPayload struct {
	FromUserID string `json:"fromUserId"`
	ToUserID   string `json:"toUserId"`
	PostID     string `json:"postId"`
}

// CountUpdatePayload is the advisory like/comment counter update.
type CountUpdatePayload struct {
	PostID string `json:"postId"`
	Count  int    `json:"count"`
}

// OnlineUsersPayload is the presence snapshot pushed on connect.
type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

// ThreadMessage is one reconstructed entry in a conversation thread. Entries
// arrive from two sources: live envelopes and REST backfill. Backfill rows
// carry IDs and server timestamps; live entries may not, and are ordered by
// local receive time until reconciled.
type ThreadMessage struct {
	ID            string    `json:"id,omitempty"`
	SenderID      string    `json:"sender_id"`
	ReceiverID    string    `json:"receiver_id"`
	Content       string    `json:"content"`
	AttachmentURL string    `json:"attachment_url,omitempty"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}
