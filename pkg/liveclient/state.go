package liveclient

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Counter is a post engagement counter with an explicit eventual-consistency
// window. An optimistic local patch sets Pending; the authoritative server
// value clears it.
type Counter struct {
	Count   int
	Pending bool
}

// State is the in-memory mirror reconstructed from the envelope stream. All
// methods are safe for concurrent use; the read loop and the UI goroutines
// touch it simultaneously.
type State struct {
	mu sync.RWMutex

	// selfID is the local user; messages addressed to or from it are
	// threaded under the peer's ID.
	selfID string

	online        map[string]struct{}
	threads       map[string][]ThreadMessage
	unread        map[string]int
	likeCounts    map[string]Counter
	commentCounts map[string]Counter
	notifications []NotificationPayload
	typing        map[string]time.Time
	connections   map[string]string // peerID → last seen connection status
}

// NewState creates an empty mirror for the given local user.
func NewState(selfID string) *State {
	return &State{
		selfID:        selfID,
		online:        make(map[string]struct{}),
		threads:       make(map[string][]ThreadMessage),
		unread:        make(map[string]int),
		likeCounts:    make(map[string]Counter),
		commentCounts: make(map[string]Counter),
		typing:        make(map[string]time.Time),
		connections:   make(map[string]string),
	}
}

// Apply routes one envelope into the mirror. Unknown types are ignored: the
// stream is advisory and must never break the client.
func (s *State) Apply(env *Envelope) {
	switch env.Type {
	case TypeOnlineUsers:
		var p OnlineUsersPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			s.setOnlineSnapshot(p.Users)
		}
	case TypeOnline:
		var p PresencePayload
		if json.Unmarshal(env.Payload, &p) == nil && p.UserID != "" {
			s.setOnline(p.UserID, true)
		}
	case TypeOffline:
		var p PresencePayload
		if json.Unmarshal(env.Payload, &p) == nil && p.UserID != "" {
			s.setOnline(p.UserID, false)
		}
	case TypeMessage:
		var p MessagePayload
		if json.Unmarshal(env.Payload, &p) == nil && p.Content != "" {
			s.appendMessage(p)
		}
	case TypeTyping:
		var p TypingPayload
		if json.Unmarshal(env.Payload, &p) == nil && p.UserID != "" {
			s.setTyping(p.UserID)
		}
	case TypeRead:
		var p ReadPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			s.markThreadRead(p.UserID)
		}
	case TypeNotification, TypeSharePost:
		var p NotificationPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			s.appendNotification(p)
		}
	case TypeConnectionStatus:
		var p ConnectionStatusPayload
		if json.Unmarshal(env.Payload, &p) == nil && p.FromUserID != "" {
			s.setConnectionStatus(p.FromUserID, p.Status)
		}
	case TypeLikeUpdate:
		var p CountUpdatePayload
		if json.Unmarshal(env.Payload, &p) == nil && p.PostID != "" {
			s.ConfirmLikeCount(p.PostID, p.Count)
		}
	case TypeCommentUpdate:
		var p CountUpdatePayload
		if json.Unmarshal(env.Payload, &p) == nil && p.PostID != "" {
			s.ConfirmCommentCount(p.PostID, p.Count)
		}
	}
}

// Presence

func (s *State) setOnlineSnapshot(users []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = make(map[string]struct{}, len(users))
	for _, u := range users {
		s.online[u] = struct{}{}
	}
}

func (s *State) setOnline(userID string, online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if online {
		s.online[userID] = struct{}{}
	} else {
		delete(s.online, userID)
	}
}

// IsOnline reports whether userID is in the mirrored presence set.
func (s *State) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// OnlineUsers returns the mirrored presence set.
func (s *State) OnlineUsers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.online))
	for u := range s.online {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// Threads

func (s *State) peerOf(msg MessagePayload) string {
	if msg.SenderID == s.selfID {
		return msg.ReceiverID
	}
	return msg.SenderID
}

func (s *State) appendMessage(p MessagePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	peer := s.peerOf(p)
	s.threads[peer] = append(s.threads[peer], ThreadMessage{
		SenderID:      p.SenderID,
		ReceiverID:    p.ReceiverID,
		Content:       p.Content,
		AttachmentURL: p.AttachmentURL,
		CreatedAt:     time.Now().UTC(),
	})
	if p.SenderID != s.selfID {
		s.unread[peer]++
	}
}

// AppendLocal records a message the local user just sent, so the thread shows
// it before (and regardless of) server delivery.
func (s *State) AppendLocal(receiverID, content, attachmentURL string) {
	s.appendMessage(MessagePayload{
		SenderID:      s.selfID,
		ReceiverID:    receiverID,
		Content:       content,
		AttachmentURL: attachmentURL,
	})
}

// Thread returns a copy of the conversation with peer, oldest first.
func (s *State) Thread(peerID string) []ThreadMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	thread := s.threads[peerID]
	out := make([]ThreadMessage, len(thread))
	copy(out, thread)
	return out
}

// UnreadCount returns the mirrored unread counter for peer.
func (s *State) UnreadCount(peerID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[peerID]
}

// ClearUnread zeroes the unread counter, typically after the UI opens the
// thread and issues the durable REST read receipt.
func (s *State) ClearUnread(peerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread[peerID] = 0
}

// MergeBackfill reconciles a REST history response into the thread for peer.
// The server response is authoritative: rows are sorted by server timestamp,
// and live entries without IDs are replaced wholesale. Downstream consumers
// sort by server timestamp rather than send order, which masks out-of-order
// persistence of rapid messages.
func (s *State) MergeBackfill(peerID string, history []ThreadMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make([]ThreadMessage, len(history))
	copy(merged, history)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.Before(merged[j].CreatedAt)
	})
	s.threads[peerID] = merged

	unread := 0
	for _, m := range merged {
		if m.SenderID == peerID && !m.IsRead {
			unread++
		}
	}
	s.unread[peerID] = unread
}

// markThreadRead flips the read flag on every message the local user sent to
// reader, mirroring the server-side bulk update.
func (s *State) markThreadRead(readerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.threads[readerID]
	for i := range thread {
		if thread[i].SenderID == s.selfID {
			thread[i].IsRead = true
		}
	}
}

// Typing

func (s *State) setTyping(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[userID] = time.Now()
}

// IsTyping reports whether peer sent a typing indicator within the window.
func (s *State) IsTyping(peerID string, window time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.typing[peerID]
	return ok && time.Since(at) <= window
}

// Counters

// OptimisticLike locally patches the like counter for postID by delta and
// marks it pending confirmation. The authoritative count arrives later via a
// like_update envelope or a REST refresh.
func (s *State) OptimisticLike(postID string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.likeCounts[postID]
	c.Count += delta
	if c.Count < 0 {
		c.Count = 0
	}
	c.Pending = true
	s.likeCounts[postID] = c
}

// ConfirmLikeCount applies the authoritative like count from a REST refresh.
func (s *State) ConfirmLikeCount(postID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmCount(s.likeCounts, postID, count)
}

// ConfirmCommentCount applies the authoritative comment count.
func (s *State) ConfirmCommentCount(postID string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmCount(s.commentCounts, postID, count)
}

// confirmCount overwrites the counter with the authoritative value and closes
// the eventual-consistency window. Callers must hold mu.
func (s *State) confirmCount(counts map[string]Counter, postID string, count int) {
	counts[postID] = Counter{Count: count, Pending: false}
}

// LikeCount returns the mirrored like counter for postID.
func (s *State) LikeCount(postID string) Counter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.likeCounts[postID]
}

// CommentCount returns the mirrored comment counter for postID.
func (s *State) CommentCount(postID string) Counter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commentCounts[postID]
}

// Notifications

func (s *State) appendNotification(p NotificationPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifications = append(s.notifications, p)
}

// Notifications returns the notifications received over the socket since
// connect, oldest first. The durable list lives behind the REST API; this
// stream only signals freshness.
func (s *State) Notifications() []NotificationPayload {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]NotificationPayload, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// ConnectionStatus returns the last connection_status pushed by peer.
func (s *State) ConnectionStatus(peerID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.connections[peerID]
	return status, ok
}

func (s *State) setConnectionStatus(peerID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[peerID] = status
}
