package realtime

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/lumeo/backend/internal/logger"
	"github.com/lumeo/backend/internal/models"
	"github.com/lumeo/backend/internal/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", os.DevNull)
	os.Exit(m.Run())
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Connection{},
		&models.ChatMessage{},
		&models.Notification{},
	))

	return NewDispatcher(db, social.NewService(db)), db
}

// newTestClient builds a client without a transport. Outbound envelopes land
// on the send channel for inspection.
func newTestClient(t *testing.T, d *Dispatcher, userID string) *Client {
	t.Helper()
	c := NewClient(d, nil, userID)
	t.Cleanup(c.Close)
	return c
}

// receive drains one envelope from the client's send buffer.
func receive(t *testing.T, c *Client) *Envelope {
	t.Helper()
	select {
	case data := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		return &env
	default:
		t.Fatal("expected an envelope, send buffer empty")
		return nil
	}
}

func goOnline(t *testing.T, d *Dispatcher, c *Client) {
	t.Helper()
	d.HandleRaw(c, []byte(`{"type":"online","payload":{"userId":"`+c.UserID+`"}}`))
}

func connectPair(t *testing.T, db *gorm.DB, graph *social.Service, a, b string) {
	t.Helper()
	_, err := graph.Request(a, b)
	require.NoError(t, err)
	require.NoError(t, graph.Accept(b, a))
}

func TestRegistryLastWriteWins(t *testing.T) {
	r := NewRegistry()
	d, _ := newTestDispatcher(t)

	s1 := newTestClient(t, d, "u")
	s2 := newTestClient(t, d, "u")

	displaced := r.Register("u", s1)
	assert.Nil(t, displaced)

	displaced = r.Register("u", s2)
	assert.Same(t, s1, displaced)

	got, ok := r.Lookup("u")
	require.True(t, ok)
	assert.Same(t, s2, got)

	// The displaced socket's close must not evict the replacement entry
	assert.False(t, r.Unregister("u", s1))
	_, ok = r.Lookup("u")
	assert.True(t, ok)

	assert.True(t, r.Unregister("u", s2))
	_, ok = r.Lookup("u")
	assert.False(t, ok)
}

func TestRegistryUnregisterAbsentIsNoop(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Unregister("ghost", nil))
	assert.Empty(t, r.Snapshot())
}

func TestOnlineRegistersAndBroadcastsPresence(t *testing.T) {
	d, db := newTestDispatcher(t)
	connectPair(t, db, d.graph, "alice", "bob")

	bob := newTestClient(t, d, "bob")
	goOnline(t, d, bob)
	// bob's own presence fanout targets alice, who is still offline

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)

	// bob is an accepted connection and online, so he hears about alice
	env := receive(t, bob)
	assert.Equal(t, TypeOnline, env.Type)

	var p PresencePayload
	require.NoError(t, env.ParsePayload(&p))
	assert.Equal(t, "alice", p.UserID)

	assert.True(t, d.Registry().IsOnline("alice"))
	assert.True(t, d.Registry().IsOnline("bob"))
}

func TestOfflineEnvelopeUnregistersOnce(t *testing.T) {
	d, db := newTestDispatcher(t)
	connectPair(t, db, d.graph, "alice", "bob")

	bob := newTestClient(t, d, "bob")
	goOnline(t, d, bob)

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)
	receive(t, bob) // alice online

	d.HandleRaw(alice, []byte(`{"type":"offline","payload":{"userId":"alice"}}`))
	assert.False(t, d.Registry().IsOnline("alice"))

	env := receive(t, bob)
	assert.Equal(t, TypeOffline, env.Type)

	// The transport close that follows must not broadcast a second offline
	d.Disconnect(alice)
	assert.Empty(t, bob.send)
}

func TestOnlinePayloadCannotOverrideSocketIdentity(t *testing.T) {
	d, _ := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	d.HandleRaw(alice, []byte(`{"type":"online","payload":{"userId":"mallory"}}`))

	assert.True(t, d.Registry().IsOnline("alice"))
	assert.False(t, d.Registry().IsOnline("mallory"))
}

func TestOfflineForUnregisteredUserIsNoop(t *testing.T) {
	d, _ := newTestDispatcher(t)

	ghost := newTestClient(t, d, "ghost")
	// Never identified: offline and disconnect both drop through silently
	d.HandleRaw(ghost, []byte(`{"type":"offline","payload":{"userId":"ghost"}}`))
	d.Disconnect(ghost)
	assert.Empty(t, d.Registry().Snapshot())
}

func TestMessagePersistedAndForwarded(t *testing.T) {
	d, db := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	bob := newTestClient(t, d, "bob")
	goOnline(t, d, alice)
	goOnline(t, d, bob)

	d.HandleRaw(alice, []byte(`{"type":"message","payload":{"senderId":"alice","receiverId":"bob","content":"hi"}}`))

	env := receive(t, bob)
	assert.Equal(t, TypeMessage, env.Type)

	var p MessagePayload
	require.NoError(t, env.ParsePayload(&p))
	assert.Equal(t, "hi", p.Content)
	assert.Equal(t, "alice", p.SenderID)

	var msg models.ChatMessage
	require.NoError(t, db.First(&msg).Error)
	assert.Equal(t, "alice", msg.SenderID)
	assert.Equal(t, "bob", msg.ReceiverID)
	assert.Equal(t, "hi", msg.Content)
	assert.False(t, msg.IsRead)
}

func TestMessageToOfflinePeerStillPersisted(t *testing.T) {
	d, db := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)

	d.HandleRaw(alice, []byte(`{"type":"message","payload":{"senderId":"alice","receiverId":"bob","content":"missed you"}}`))

	var count int64
	db.Model(&models.ChatMessage{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestMessageMissingFieldsDropped(t *testing.T) {
	d, db := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)

	d.HandleRaw(alice, []byte(`{"type":"message","payload":{"receiverId":"bob"}}`))

	var count int64
	db.Model(&models.ChatMessage{}).Count(&count)
	assert.Zero(t, count)
}

func TestReadMarksOnlyMatchingMessages(t *testing.T) {
	d, db := newTestDispatcher(t)

	seed := []models.ChatMessage{
		{SenderID: "bob", ReceiverID: "alice", Content: "one"},
		{SenderID: "bob", ReceiverID: "alice", Content: "two"},
		{SenderID: "carol", ReceiverID: "alice", Content: "other sender"},
		{SenderID: "bob", ReceiverID: "carol", Content: "other receiver"},
	}
	for i := range seed {
		require.NoError(t, db.Create(&seed[i]).Error)
	}

	alice := newTestClient(t, d, "alice")
	bob := newTestClient(t, d, "bob")
	goOnline(t, d, alice)
	goOnline(t, d, bob)

	d.HandleRaw(alice, []byte(`{"type":"read","payload":{"userId":"alice","senderId":"bob"}}`))

	var read int64
	db.Model(&models.ChatMessage{}).Where("is_read = ?", true).Count(&read)
	assert.EqualValues(t, 2, read)

	var untouched models.ChatMessage
	require.NoError(t, db.Where("sender_id = ?", "carol").First(&untouched).Error)
	assert.False(t, untouched.IsRead)

	// The sender hears the receipt
	env := receive(t, bob)
	assert.Equal(t, TypeRead, env.Type)
}

func TestSharePostPersistsNotification(t *testing.T) {
	d, db := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)

	d.HandleRaw(alice, []byte(`{"type":"share_post","payload":{"fromUserId":"alice","toUserId":"bob","postId":"post-1"}}`))

	var n models.Notification
	require.NoError(t, db.First(&n).Error)
	assert.Equal(t, "bob", n.UserID)
	assert.Equal(t, "alice", n.FromUserID)
	assert.Equal(t, models.NotificationTypeShare, n.Type)
	assert.Equal(t, "post-1", n.EntityID)
}

func TestCountUpdateBroadcast(t *testing.T) {
	d, _ := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	bob := newTestClient(t, d, "bob")
	goOnline(t, d, alice)
	goOnline(t, d, bob)

	d.HandleRaw(alice, []byte(`{"type":"like_update","payload":{"postId":"post-1","count":3}}`))

	for _, c := range []*Client{alice, bob} {
		env := receive(t, c)
		assert.Equal(t, TypeLikeUpdate, env.Type)

		var p CountUpdatePayload
		require.NoError(t, env.ParsePayload(&p))
		assert.Equal(t, "post-1", p.PostID)
		assert.Equal(t, 3, p.Count)
	}
}

func TestMalformedAndUnknownEnvelopesDropped(t *testing.T) {
	d, _ := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)

	before := d.MetricsSnapshot().EnvelopesDropped
	d.HandleRaw(alice, []byte(`{not json`))
	d.HandleRaw(alice, []byte(`{"type":"quux","payload":{}}`))
	after := d.MetricsSnapshot().EnvelopesDropped

	assert.EqualValues(t, 2, after-before)
	// Socket stays open and addressable
	assert.True(t, d.Registry().IsOnline("alice"))
}

func TestTypingForwardedNotPersisted(t *testing.T) {
	d, db := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	bob := newTestClient(t, d, "bob")
	goOnline(t, d, alice)
	goOnline(t, d, bob)

	d.HandleRaw(alice, []byte(`{"type":"typing","payload":{"userId":"alice","receiverId":"bob"}}`))

	env := receive(t, bob)
	assert.Equal(t, TypeTyping, env.Type)

	var msgs, notifs int64
	db.Model(&models.ChatMessage{}).Count(&msgs)
	db.Model(&models.Notification{}).Count(&notifs)
	assert.Zero(t, msgs)
	assert.Zero(t, notifs)
}

func TestDisplacedSocketReleasesActiveSlot(t *testing.T) {
	d, _ := newTestDispatcher(t)

	s1 := newTestClient(t, d, "alice")
	goOnline(t, d, s1)

	s2 := newTestClient(t, d, "alice")
	goOnline(t, d, s2)
	assert.EqualValues(t, 1, d.MetricsSnapshot().ActiveConnections)

	// s1 was displaced, so its transport close must not decrement again
	d.Disconnect(s1)
	assert.EqualValues(t, 1, d.MetricsSnapshot().ActiveConnections)

	d.Disconnect(s2)
	assert.EqualValues(t, 0, d.MetricsSnapshot().ActiveConnections)
}

func TestSocketIdentifiesAtMostOnce(t *testing.T) {
	d, _ := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)
	total := d.MetricsSnapshot().TotalConnections

	goOnline(t, d, alice)
	assert.Equal(t, total, d.MetricsSnapshot().TotalConnections)
}

func TestSnapshotSeedsNewClient(t *testing.T) {
	d, _ := newTestDispatcher(t)

	alice := newTestClient(t, d, "alice")
	goOnline(t, d, alice)

	bob := newTestClient(t, d, "bob")
	d.SendSnapshot(bob)

	env := receive(t, bob)
	assert.Equal(t, TypeOnlineUsers, env.Type)

	var p OnlineUsersPayload
	require.NoError(t, env.ParsePayload(&p))
	assert.Equal(t, []string{"alice"}, p.Users)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(5, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(), "request %d should be allowed", i+1)
	}
	assert.False(t, rl.Allow(), "request 11 should be denied")
}
