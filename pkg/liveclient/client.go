package liveclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Client owns the single realtime socket for a user session and feeds every
// inbound envelope into its State mirror. Sends are best-effort: a closed
// socket surfaces as an error to the caller, matching the server's
// at-most-once delivery model.
type Client struct {
	userID string
	conn   *websocket.Conn
	state  *State

	// OnEnvelope, when set before Run, observes every inbound envelope
	// after it has been applied to the state mirror.
	OnEnvelope func(*Envelope)

	ctx    context.Context
	cancel context.CancelFunc

	writeMu sync.Mutex
	closed  bool
}

// Dial connects to the realtime endpoint, authenticating with the bearer
// token, and returns a client whose state mirror is empty until Run applies
// the server's initial online-users snapshot.
func Dial(ctx context.Context, endpoint, token, userID string) (*Client, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	return &Client{
		userID: userID,
		conn:   conn,
		state:  NewState(userID),
		ctx:    runCtx,
		cancel: cancel,
	}, nil
}

// State returns the mirror owned by this client.
func (c *Client) State() *State {
	return c.state
}

// Run reads envelopes until the socket closes and applies each to the state
// mirror. It blocks; callers usually run it in a goroutine.
func (c *Client) Run() error {
	defer c.Close()

	for {
		var env Envelope
		if err := wsjson.Read(c.ctx, c.conn, &env); err != nil {
			if c.ctx.Err() != nil ||
				websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("realtime read failed: %w", err)
		}

		c.state.Apply(&env)
		if c.OnEnvelope != nil {
			c.OnEnvelope(&env)
		}
	}
}

// send marshals and writes one envelope.
func (c *Client) send(ctx context.Context, envType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return fmt.Errorf("realtime client closed")
	}

	return wsjson.Write(ctx, c.conn, &Envelope{Type: envType, Payload: data})
}

// Announce identifies this socket to the server. Until it is sent the client
// receives the presence snapshot but is not addressable.
func (c *Client) Announce(ctx context.Context) error {
	return c.send(ctx, TypeOnline, PresencePayload{UserID: c.userID})
}

// GoOffline unregisters presence without closing the socket.
func (c *Client) GoOffline(ctx context.Context) error {
	return c.send(ctx, TypeOffline, PresencePayload{UserID: c.userID})
}

// SendChat sends a chat message and records it locally so the thread shows
// it immediately.
func (c *Client) SendChat(ctx context.Context, receiverID, content, attachmentURL string) error {
	err := c.send(ctx, TypeMessage, MessagePayload{
		SenderID:      c.userID,
		ReceiverID:    receiverID,
		Content:       content,
		AttachmentURL: attachmentURL,
	})
	if err != nil {
		return err
	}
	c.state.AppendLocal(receiverID, content, attachmentURL)
	return nil
}

// SendTyping sends the ephemeral typing indicator.
func (c *Client) SendTyping(ctx context.Context, receiverID string) error {
	return c.send(ctx, TypeTyping, TypingPayload{UserID: c.userID, ReceiverID: receiverID})
}

// SendRead announces that the local user read senderID's messages. The
// durable receipt is the REST call; this envelope only freshens the sender's
// UI.
func (c *Client) SendRead(ctx context.Context, senderID string) error {
	return c.send(ctx, TypeRead, ReadPayload{UserID: c.userID, SenderID: senderID})
}

// SendCountUpdate publishes an advisory counter update for cross-tab sync.
func (c *Client) SendCountUpdate(ctx context.Context, envType, postID string, count int) error {
	return c.send(ctx, envType, CountUpdatePayload{PostID: postID, Count: count})
}

// SharePost shares a post with another user over the socket.
func (c *Client) SharePost(ctx context.Context, toUserID, postID string) error {
	return c.send(ctx, TypeSharePost, SharePostPayload{
		FromUserID: c.userID,
		ToUserID:   toUserID,
		PostID:     postID,
	})
}

// Close tears down the socket. Safe to call more than once.
func (c *Client) Close() {
	c.writeMu.Lock()
	if c.closed {
		c.writeMu.Unlock()
		return
	}
	c.closed = true
	c.writeMu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "closing")
}
