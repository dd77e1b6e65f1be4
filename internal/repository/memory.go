package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shukku-list-backend/internal/models"
)

// MemoryPairStore is an in-process PairStore for development and tests
type MemoryPairStore struct {
	mu    sync.RWMutex
	pairs map[string]*models.Pair
	feed  *feed
	now   func() time.Time
}

// NewMemoryPairStore creates an empty in-memory pair store
func NewMemoryPairStore() *MemoryPairStore {
	return &MemoryPairStore{
		pairs: make(map[string]*models.Pair),
		feed:  newFeed(),
		now:   time.Now,
	}
}

// Get retrieves a pair by ID
func (s *MemoryPairStore) Get(ctx context.Context, pairID string) (*models.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pairs[pairID]
	if !ok {
		return nil, fmt.Errorf("pair %s: %w", pairID, ErrNotFound)
	}
	return p.Clone(), nil
}

// GetByInviteCode retrieves a pair by its invite code
func (s *MemoryPairStore) GetByInviteCode(ctx context.Context, code string) (*models.Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.pairs {
		if p.InviteCode == code {
			return p.Clone(), nil
		}
	}
	return nil, fmt.Errorf("invite code: %w", ErrNotFound)
}

// InviteCodeExists checks if an invite code is taken
func (s *MemoryPairStore) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	_, err := s.GetByInviteCode(ctx, code)
	if err != nil {
		return false, nil
	}
	return true, nil
}

// Create stores a new pair
func (s *MemoryPairStore) Create(ctx context.Context, pair *models.Pair) error {
	s.mu.Lock()
	if _, exists := s.pairs[pair.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("pair %s: %w", pair.ID, ErrAlreadyExists)
	}
	stored := pair.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	if stored.Items == nil {
		stored.Items = []models.Item{}
	}
	s.pairs[pair.ID] = stored
	snapshot := stored.Clone()
	s.mu.Unlock()

	pair.Version = snapshot.Version
	s.feed.publish(snapshot)
	return nil
}

// AddMember appends a user id to the pair if absent
func (s *MemoryPairStore) AddMember(ctx context.Context, pairID, userID string, maxMembers int) (*models.Pair, error) {
	s.mu.Lock()
	p, ok := s.pairs[pairID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("pair %s: %w", pairID, ErrNotFound)
	}
	if p.HasMember(userID) {
		snapshot := p.Clone()
		s.mu.Unlock()
		return snapshot, nil
	}
	if maxMembers > 0 && len(p.Users) >= maxMembers {
		s.mu.Unlock()
		return nil, fmt.Errorf("pair %s has %d members: %w", pairID, maxMembers, ErrMemberLimit)
	}
	p.Users = append(p.Users, userID)
	p.Version++
	p.UpdatedAt = s.now()
	snapshot := p.Clone()
	s.mu.Unlock()

	s.feed.publish(snapshot)
	return snapshot.Clone(), nil
}

// ReplaceItems sets the items array guarded by the document version
func (s *MemoryPairStore) ReplaceItems(ctx context.Context, pairID string, items []models.Item, expectedVersion int64) (*models.Pair, error) {
	s.mu.Lock()
	p, ok := s.pairs[pairID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("pair %s: %w", pairID, ErrNotFound)
	}
	if p.Version != expectedVersion {
		current := p.Version
		s.mu.Unlock()
		return nil, fmt.Errorf("pair %s at version %d, expected %d: %w", pairID, current, expectedVersion, ErrVersionConflict)
	}
	p.Items = append([]models.Item{}, items...)
	p.Version++
	p.UpdatedAt = s.now()
	snapshot := p.Clone()
	s.mu.Unlock()

	s.feed.publish(snapshot)
	return snapshot.Clone(), nil
}

// Subscribe delivers the current pair and every later change
func (s *MemoryPairStore) Subscribe(ctx context.Context, pairID string) (<-chan PairEvent, error) {
	sub := s.feed.add(ctx, pairID)

	s.mu.RLock()
	p, ok := s.pairs[pairID]
	var snapshot *models.Pair
	if ok {
		snapshot = p.Clone()
	}
	s.mu.RUnlock()

	if snapshot == nil {
		sub.fail(fmt.Errorf("pair %s: %w", pairID, ErrNotFound))
		return sub.ch, nil
	}
	sub.offer(snapshot)
	return sub.ch, nil
}

// Delete removes a pair. Live subscribers see ErrNotFound and are closed.
func (s *MemoryPairStore) Delete(ctx context.Context, pairID string) error {
	s.mu.Lock()
	if _, ok := s.pairs[pairID]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("pair %s: %w", pairID, ErrNotFound)
	}
	delete(s.pairs, pairID)
	s.mu.Unlock()

	s.feed.fail(pairID, fmt.Errorf("pair %s deleted: %w", pairID, ErrNotFound))
	return nil
}

// MemoryUserStore is an in-process UserStore for development and tests
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*models.User
}

// NewMemoryUserStore creates an empty in-memory user store
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*models.User)}
}

// Create stores a new user
func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
	}
	s.users[user.ID] = copyUser(user)
	return nil
}

// GetByID retrieves a user by ID
func (s *MemoryUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return copyUser(u), nil
}

// AddToken adds a push token unless already present
func (s *MemoryUserStore) AddToken(ctx context.Context, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if !u.HasToken(token) {
		u.Tokens = append(u.Tokens, token)
	}
	return nil
}

// SetListID persists the user's selected list
func (s *MemoryUserStore) SetListID(ctx context.Context, userID, listID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.ListID = &listID
	return nil
}

// ClearListID drops the user's selected list
func (s *MemoryUserStore) ClearListID(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	u.ListID = nil
	return nil
}

func copyUser(u *models.User) *models.User {
	c := *u
	c.Tokens = append([]string(nil), u.Tokens...)
	if u.ListID != nil {
		id := *u.ListID
		c.ListID = &id
	}
	return &c
}
