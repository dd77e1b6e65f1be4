package repository

import (
	"context"
	"errors"

	"shukku-list-backend/internal/models"
)

var (
	// ErrNotFound is returned when a user or pair does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned by Create when the document is already stored
	ErrAlreadyExists = errors.New("already exists")
	// ErrVersionConflict is returned when a guarded write sees a newer document
	ErrVersionConflict = errors.New("version conflict")
	// ErrMemberLimit is returned by AddMember when the pair is full
	ErrMemberLimit = errors.New("member limit reached")
)

// PairEvent is one delivery of a pair subscription. Exactly one of Pair and Err is set.
type PairEvent struct {
	Pair *models.Pair
	Err  error
}

// PairStore is the persistence contract for pair documents
type PairStore interface {
	// Get returns the pair or ErrNotFound
	Get(ctx context.Context, pairID string) (*models.Pair, error)

	// GetByInviteCode returns the pair owning the invite code or ErrNotFound
	GetByInviteCode(ctx context.Context, code string) (*models.Pair, error)

	// InviteCodeExists checks if an invite code is taken
	InviteCodeExists(ctx context.Context, code string) (bool, error)

	// Create stores a new pair. It never overwrites and returns ErrAlreadyExists instead.
	Create(ctx context.Context, pair *models.Pair) error

	// AddMember appends the user id if absent and returns the stored pair.
	// A new member beyond maxMembers gets ErrMemberLimit; maxMembers <= 0 means no limit.
	AddMember(ctx context.Context, pairID, userID string, maxMembers int) (*models.Pair, error)

	// ReplaceItems sets the whole items array if the stored version still equals
	// expectedVersion, otherwise it returns ErrVersionConflict.
	ReplaceItems(ctx context.Context, pairID string, items []models.Item, expectedVersion int64) (*models.Pair, error)

	// Subscribe delivers the current pair and then every change. A missing pair
	// yields a single ErrNotFound event. The channel is closed when ctx is
	// cancelled or after an event carrying Err.
	Subscribe(ctx context.Context, pairID string) (<-chan PairEvent, error)
}

// UserStore is the persistence contract for users
type UserStore interface {
	// Create stores a new user or returns ErrAlreadyExists
	Create(ctx context.Context, user *models.User) error

	// GetByID returns the user or ErrNotFound
	GetByID(ctx context.Context, id string) (*models.User, error)

	// AddToken adds a push token unless already present
	AddToken(ctx context.Context, userID, token string) error

	// SetListID persists the user's selected list
	SetListID(ctx context.Context, userID, listID string) error

	// ClearListID drops the selected list so the user falls back to their own
	ClearListID(ctx context.Context, userID string) error
}
