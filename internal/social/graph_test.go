package social

import (
	"testing"

	"github.com/lumeo/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_fk=1"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Connection{}))

	// Fresh tables per test since the shared-cache DSN can outlive a test
	db.Exec("DELETE FROM connections")
	db.Exec("DELETE FROM users")

	return NewService(db), db
}

func createTestUsers(t *testing.T, db *gorm.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, db.Create(&models.User{
			ID:          id,
			Email:       id + "@example.com",
			Username:    &id,
			DisplayName: id,
		}).Error)
	}
}

func TestRequestCreatesPendingEdge(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob")

	conn, err := svc.Request("alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionStatusPending, conn.Status)

	status, err := svc.Status("alice", "bob")
	require.NoError(t, err)
	assert.False(t, status.IsConnected)
	assert.True(t, status.IsPending)
	assert.False(t, status.HasPendingRequest)

	// The other side sees an incoming request
	status, err = svc.Status("bob", "alice")
	require.NoError(t, err)
	assert.False(t, status.IsPending)
	assert.True(t, status.HasPendingRequest)
}

func TestRequestToSelf(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice")

	_, err := svc.Request("alice", "alice")
	assert.ErrorIs(t, err, ErrSelfConnection)
}

func TestRequestDuplicate(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob")

	_, err := svc.Request("alice", "bob")
	require.NoError(t, err)

	_, err = svc.Request("alice", "bob")
	assert.ErrorIs(t, err, ErrAlreadyRequested)
}

func TestAcceptCreatesSymmetricConnection(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob")

	_, err := svc.Request("bob", "alice")
	require.NoError(t, err)

	require.NoError(t, svc.Accept("alice", "bob"))

	// Both directions must read connected after a single acceptance
	statusAB, err := svc.Status("alice", "bob")
	require.NoError(t, err)
	assert.True(t, statusAB.IsConnected)

	statusBA, err := svc.Status("bob", "alice")
	require.NoError(t, err)
	assert.True(t, statusBA.IsConnected)
}

func TestAcceptWithoutRequest(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob")

	err := svc.Accept("alice", "bob")
	assert.ErrorIs(t, err, ErrNoPendingRequest)
}

func TestCanChatRequiresAcceptedEdge(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob", "carol")

	ok, err := svc.CanChat("alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.Request("bob", "alice")
	require.NoError(t, err)

	// Pending is not enough
	ok, err = svc.CanChat("alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.Accept("alice", "bob"))

	ok, err = svc.CanChat("alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	// Unrelated pair stays gated
	ok, err = svc.CanChat("alice", "carol")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCanChatSingleDirectionSufficient(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob")

	// Simulate the window where the mirror edge has not been written yet
	require.NoError(t, db.Create(&models.Connection{
		FollowerID:  "alice",
		FollowingID: "bob",
		Status:      models.ConnectionStatusAccepted,
	}).Error)

	ok, err := svc.CanChat("alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.CanChat("bob", "alice")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRejectAndCancel(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob")

	_, err := svc.Request("bob", "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Reject("alice", "bob"))

	status, err := svc.Status("bob", "alice")
	require.NoError(t, err)
	assert.False(t, status.IsPending)
	assert.False(t, status.IsConnected)

	// Rejecting again finds nothing pending
	assert.ErrorIs(t, svc.Reject("alice", "bob"), ErrNoPendingRequest)

	_, err = svc.Request("alice", "bob")
	require.NoError(t, err)
	require.NoError(t, svc.Cancel("alice", "bob"))
	assert.ErrorIs(t, svc.Cancel("alice", "bob"), ErrNoPendingRequest)
}

func TestDisconnectRemovesBothEdges(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob")

	_, err := svc.Request("bob", "alice")
	require.NoError(t, err)
	require.NoError(t, svc.Accept("alice", "bob"))

	require.NoError(t, svc.Disconnect("alice", "bob"))

	ok, err := svc.CanChat("alice", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	var count int64
	db.Model(&models.Connection{}).Count(&count)
	assert.Zero(t, count)
}

func TestAcceptedPeerIDs(t *testing.T) {
	svc, db := newTestService(t)
	createTestUsers(t, db, "alice", "bob", "carol", "dave")

	// bob: accepted both ways with alice, carol pending, dave unrelated
	_, err := svc.Request("alice", "bob")
	require.NoError(t, err)
	require.NoError(t, svc.Accept("bob", "alice"))

	_, err = svc.Request("carol", "bob")
	require.NoError(t, err)

	peers, err := svc.AcceptedPeerIDs("bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, peers)
}
