package realtime

import (
	"sync"
	"sync/atomic"
)

// Registry is the process-wide presence map from user ID to the single live
// client for that user. It is memory-resident only: a process restart resets
// everyone to offline until they reconnect.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Client),
	}
}

// Register stores or overwrites the entry for userID. Last connection wins:
// a reconnect from a second device silently replaces the entry. The displaced
// client, if any, is returned so the caller can decide what to do with it.
func (r *Registry) Register(userID string, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	displaced := r.clients[userID]
	if displaced == client {
		displaced = nil
	}
	r.clients[userID] = client
	return displaced
}

// Unregister removes the entry for userID if it currently points at client.
// No-op when absent or when a newer connection already replaced it. Returns
// whether an entry was removed.
func (r *Registry) Unregister(userID string, client *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.clients[userID]; ok && (client == nil || current == client) {
		delete(r.clients, userID)
		return true
	}
	return false
}

// Lookup returns the live client for userID, if any.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[userID]
	return client, ok
}

// IsOnline reports whether userID has a live socket.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// Snapshot returns all currently registered user IDs. Used to seed a newly
// connected client with the full online-user set.
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]string, 0, len(r.clients))
	for userID := range r.clients {
		users = append(users, userID)
	}
	return users
}

// Size returns the number of registered users.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Metrics tracks realtime statistics
type Metrics struct {
	TotalConnections   atomic.Int64
	ActiveConnections  atomic.Int64
	EnvelopesReceived  atomic.Int64
	EnvelopesSent      atomic.Int64
	EnvelopesDropped   atomic.Int64
	Errors             atomic.Int64
	ConnectionsDropped atomic.Int64
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	EnvelopesReceived  int64 `json:"envelopes_received"`
	EnvelopesSent      int64 `json:"envelopes_sent"`
	EnvelopesDropped   int64 `json:"envelopes_dropped"`
	Errors             int64 `json:"errors"`
	ConnectionsDropped int64 `json:"connections_dropped"`
}

// Snapshot captures the current metric values.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		TotalConnections:   m.TotalConnections.Load(),
		ActiveConnections:  m.ActiveConnections.Load(),
		EnvelopesReceived:  m.EnvelopesReceived.Load(),
		EnvelopesSent:      m.EnvelopesSent.Load(),
		EnvelopesDropped:   m.EnvelopesDropped.Load(),
		Errors:             m.Errors.Load(),
		ConnectionsDropped: m.ConnectionsDropped.Load(),
	}
}
