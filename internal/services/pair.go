package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

const (
	inviteCodeLength      = 6
	inviteCodeMaxAttempts = 10
	ensurePairAttempts    = 3
)

// PairService handles pair-related business logic
type PairService struct {
	pairRepo   repository.PairStore
	userRepo   repository.UserStore
	maxMembers int
}

// NewPairService creates a new pair service. maxMembers <= 0 lets any number of users join.
func NewPairService(pairRepo repository.PairStore, userRepo repository.UserStore, maxMembers int) *PairService {
	return &PairService{
		pairRepo:   pairRepo,
		userRepo:   userRepo,
		maxMembers: maxMembers,
	}
}

// GenerateInviteCode generates an unused 6-digit invite code
func (s *PairService) GenerateInviteCode(ctx context.Context) (string, error) {
	for i := 0; i < inviteCodeMaxAttempts; i++ {
		code, err := generateInviteCode()
		if err != nil {
			return "", err
		}
		exists, err := s.pairRepo.InviteCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check invite code: %w: %w", ErrUpstream, err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique invite code after %d attempts", inviteCodeMaxAttempts)
}

// generateInviteCode returns a random number in [100000, 999999]
func generateInviteCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("failed to generate invite code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}

func isInviteCode(code string) bool {
	if len(code) != inviteCodeLength {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// ResolvePairID returns the user's persisted list, falling back to the user's own id
func (s *PairService) ResolvePairID(ctx context.Context, userID string) (string, error) {
	pairID, _, err := s.resolvePairID(ctx, userID)
	return pairID, err
}

// resolvePairID also reports whether pairID is already the persisted choice
func (s *PairService) resolvePairID(ctx context.Context, userID string) (pairID string, persisted bool, err error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	switch {
	case err == nil:
		if user.ListID != nil && *user.ListID != "" {
			return *user.ListID, true, nil
		}
	case errors.Is(err, repository.ErrNotFound):
		log.Warn().Str("user_id", userID).Msg("Attaching unknown user to own list")
	default:
		return "", false, fmt.Errorf("failed to load user: %w: %w", ErrUpstream, err)
	}
	return userID, false, nil
}

// EnsurePair returns the pair, creating it with userID as the only member if absent
func (s *PairService) EnsurePair(ctx context.Context, pairID, userID string) (*models.Pair, error) {
	for i := 0; i < ensurePairAttempts; i++ {
		pair, err := s.pairRepo.Get(ctx, pairID)
		if err == nil {
			return pair, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("failed to get pair: %w: %w", ErrUpstream, err)
		}

		code, err := s.GenerateInviteCode(ctx)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		pair = &models.Pair{
			ID:         pairID,
			Users:      []string{userID},
			Items:      []models.Item{},
			InviteCode: code,
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		err = s.pairRepo.Create(ctx, pair)
		if err == nil {
			log.Info().
				Str("pair_id", pairID).
				Str("user_id", userID).
				Str("invite_code", code).
				Msg("Pair created")
			return pair, nil
		}
		if !errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("failed to create pair: %w: %w", ErrUpstream, err)
		}
		// Created concurrently or the invite code was taken meanwhile; look again
	}
	return nil, fmt.Errorf("failed to ensure pair %s after %d attempts: %w", pairID, ensurePairAttempts, ErrUpstream)
}

// Attach resolves the user's list, makes sure it exists and persists the choice
func (s *PairService) Attach(ctx context.Context, userID string) (*models.Pair, error) {
	pairID, persisted, err := s.resolvePairID(ctx, userID)
	if err != nil {
		return nil, err
	}

	pair, err := s.EnsurePair(ctx, pairID, userID)
	if err != nil {
		return nil, err
	}

	if !persisted {
		s.rememberList(ctx, userID, pair.ID)
	}
	return pair, nil
}

// ResetList drops the user's list choice and returns their own list.
// Membership of a previously joined pair is kept.
func (s *PairService) ResetList(ctx context.Context, userID string) (*models.Pair, error) {
	if err := s.userRepo.ClearListID(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to reset list: %w: %w", ErrUpstream, err)
	}

	pair, err := s.EnsurePair(ctx, userID, userID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID).Msg("List choice reset")
	return pair, nil
}

// GetPair retrieves a pair by ID
func (s *PairService) GetPair(ctx context.Context, pairID string) (*models.Pair, error) {
	pair, err := s.pairRepo.Get(ctx, pairID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrPairNotFound, err)
		}
		return nil, fmt.Errorf("failed to get pair: %w: %w", ErrUpstream, err)
	}
	return pair, nil
}

// JoinByInviteCode adds the user to the pair owning the code and switches their list to it
func (s *PairService) JoinByInviteCode(ctx context.Context, userID, code string) (*models.Pair, error) {
	code = strings.TrimSpace(code)
	if !isInviteCode(code) {
		return nil, fmt.Errorf("invite code must be %d digits: %w", inviteCodeLength, ErrInvalidInput)
	}

	pair, err := s.pairRepo.GetByInviteCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrPairNotFound, err)
		}
		return nil, fmt.Errorf("failed to find pair: %w: %w", ErrUpstream, err)
	}

	pair, err = s.pairRepo.AddMember(ctx, pair.ID, userID, s.maxMembers)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrPairNotFound, err)
		}
		if errors.Is(err, repository.ErrMemberLimit) {
			return nil, fmt.Errorf("%w: %w", ErrPairFull, err)
		}
		return nil, fmt.Errorf("failed to join pair: %w: %w", ErrUpstream, err)
	}

	s.rememberList(ctx, userID, pair.ID)

	log.Info().
		Str("pair_id", pair.ID).
		Str("user_id", userID).
		Int("members", len(pair.Users)).
		Msg("User joined pair")

	return pair, nil
}

// rememberList persists the list preference. Failure only costs the preference.
func (s *PairService) rememberList(ctx context.Context, userID, pairID string) {
	if err := s.userRepo.SetListID(ctx, userID, pairID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("pair_id", pairID).Msg("Failed to persist list preference")
	}
}
