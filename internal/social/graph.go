// Package social implements the connection graph: directed, status-tagged
// edges between users that gate chat eligibility and feed visibility.
package social

import (
	"errors"
	"fmt"

	"github.com/lumeo/backend/internal/models"
	"gorm.io/gorm"
)

var (
	// ErrSelfConnection is returned when a user targets themselves.
	ErrSelfConnection = errors.New("cannot connect to yourself")

	// ErrAlreadyRequested is returned when an edge already exists for the pair.
	ErrAlreadyRequested = errors.New("connection request already exists")

	// ErrNoPendingRequest is returned when accept/reject finds no pending edge.
	ErrNoPendingRequest = errors.New("no pending connection request")
)

// Status is the three-way relationship between two users, computed from the
// perspective of the first user. It drives the Connect/Requested/Accept/
// Connected button state.
type Status struct {
	// IsConnected is true when the a→b edge is accepted. Acceptance creates
	// the mirror edge, so in the happy path both directions agree.
	IsConnected bool `json:"is_connected"`

	// IsPending is true when a sent b a request that b has not answered.
	IsPending bool `json:"is_pending"`

	// HasPendingRequest is true when b sent a a request awaiting a's action.
	HasPendingRequest bool `json:"has_pending_request"`
}

// Service computes pairwise connection status and mutates the graph.
type Service struct {
	db *gorm.DB
}

// NewService creates a connection graph service backed by db.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// edge fetches the directed edge a→b, or nil if absent.
func (s *Service) edge(a, b string) (*models.Connection, error) {
	var conn models.Connection
	err := s.db.Where("follower_id = ? AND following_id = ?", a, b).First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

// Status returns the relationship between a and b from a's perspective.
func (s *Service) Status(a, b string) (Status, error) {
	forward, err := s.edge(a, b)
	if err != nil {
		return Status{}, err
	}
	reverse, err := s.edge(b, a)
	if err != nil {
		return Status{}, err
	}

	var st Status
	if forward != nil {
		st.IsConnected = forward.Status == models.ConnectionStatusAccepted
		st.IsPending = forward.Status == models.ConnectionStatusPending
	}
	if reverse != nil {
		st.HasPendingRequest = reverse.Status == models.ConnectionStatusPending
	}
	return st, nil
}

// CanChat reports whether a and b may exchange chat messages. An accepted
// edge in either direction is sufficient: acceptance creates the mirror edge,
// but the gate deliberately does not wait for it.
func (s *Service) CanChat(a, b string) (bool, error) {
	var count int64
	err := s.db.Model(&models.Connection{}).
		Where("((follower_id = ? AND following_id = ?) OR (follower_id = ? AND following_id = ?)) AND status = ?",
			a, b, b, a, models.ConnectionStatusAccepted).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Request creates a pending edge from→to.
func (s *Service) Request(from, to string) (*models.Connection, error) {
	if from == to {
		return nil, ErrSelfConnection
	}

	existing, err := s.edge(from, to)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyRequested
	}

	conn := &models.Connection{
		FollowerID:  from,
		FollowingID: to,
		Status:      models.ConnectionStatusPending,
	}
	if err := s.db.Create(conn).Error; err != nil {
		return nil, err
	}
	return conn, nil
}

// Accept accepts the pending request requester→userID and creates or accepts
// the mirror edge userID→requester, so a single acceptance yields a symmetric
// connected relationship.
func (s *Service) Accept(userID, requesterID string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var request models.Connection
		err := tx.Where("follower_id = ? AND following_id = ? AND status = ?",
			requesterID, userID, models.ConnectionStatusPending).
			First(&request).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNoPendingRequest
		}
		if err != nil {
			return err
		}

		if err := tx.Model(&request).Update("status", models.ConnectionStatusAccepted).Error; err != nil {
			return fmt.Errorf("failed to accept request: %w", err)
		}

		// Mirror edge: create it accepted, or promote whatever state it is in.
		var mirror models.Connection
		err = tx.Where("follower_id = ? AND following_id = ?", userID, requesterID).First(&mirror).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			mirror = models.Connection{
				FollowerID:  userID,
				FollowingID: requesterID,
				Status:      models.ConnectionStatusAccepted,
			}
			if err := tx.Create(&mirror).Error; err != nil {
				return fmt.Errorf("failed to create mirror edge: %w", err)
			}
		case err != nil:
			return err
		case mirror.Status != models.ConnectionStatusAccepted:
			if err := tx.Model(&mirror).Update("status", models.ConnectionStatusAccepted).Error; err != nil {
				return fmt.Errorf("failed to accept mirror edge: %w", err)
			}
		}

		return nil
	})
}

// Reject marks the pending request requester→userID rejected.
func (s *Service) Reject(userID, requesterID string) error {
	result := s.db.Model(&models.Connection{}).
		Where("follower_id = ? AND following_id = ? AND status = ?",
			requesterID, userID, models.ConnectionStatusPending).
		Update("status", models.ConnectionStatusRejected)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNoPendingRequest
	}
	return nil
}

// Cancel deletes a pending request from→to that from sent.
func (s *Service) Cancel(from, to string) error {
	result := s.db.Where("follower_id = ? AND following_id = ? AND status = ?",
		from, to, models.ConnectionStatusPending).
		Delete(&models.Connection{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNoPendingRequest
	}
	return nil
}

// Disconnect removes both directed edges between a and b.
func (s *Service) Disconnect(a, b string) error {
	return s.db.Where("(follower_id = ? AND following_id = ?) OR (follower_id = ? AND following_id = ?)",
		a, b, b, a).
		Delete(&models.Connection{}).Error
}

// AcceptedPeerIDs returns the deduplicated set of users with an accepted edge
// to or from userID. It is the recipient set for presence broadcasts.
func (s *Service) AcceptedPeerIDs(userID string) ([]string, error) {
	var edges []models.Connection
	err := s.db.Where("(follower_id = ? OR following_id = ?) AND status = ?",
		userID, userID, models.ConnectionStatusAccepted).
		Find(&edges).Error
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(edges))
	peers := make([]string, 0, len(edges))
	for _, e := range edges {
		peer := e.FollowerID
		if peer == userID {
			peer = e.FollowingID
		}
		if _, ok := seen[peer]; ok {
			continue
		}
		seen[peer] = struct{}{}
		peers = append(peers, peer)
	}
	return peers, nil
}

// PendingRequests returns pending edges addressed to userID, newest first.
func (s *Service) PendingRequests(userID string) ([]models.Connection, error) {
	var requests []models.Connection
	err := s.db.Where("following_id = ? AND status = ?", userID, models.ConnectionStatusPending).
		Preload("Follower").
		Order("created_at DESC").
		Find(&requests).Error
	return requests, err
}
