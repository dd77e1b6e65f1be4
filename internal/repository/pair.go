package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shukku-list-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// pairChangesChannel is the NOTIFY channel fed by the pairs trigger
const pairChangesChannel = "pair_changes"

const pairColumns = `id, users, items, invite_code, version, created_at, updated_at`

// PairRepository handles database operations for pairs
type PairRepository struct {
	db   *pgxpool.Pool
	feed *feed

	mu        sync.Mutex
	listening bool
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPairRepository creates a new pair repository
func NewPairRepository(db *pgxpool.Pool) *PairRepository {
	ctx, cancel := context.WithCancel(context.Background())
	return &PairRepository{
		db:     db,
		feed:   newFeed(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close stops the change listener and ends all subscriptions
func (r *PairRepository) Close() {
	r.cancel()
}

func scanPair(row pgx.Row) (*models.Pair, error) {
	var pair models.Pair
	err := row.Scan(
		&pair.ID, &pair.Users, &pair.Items, &pair.InviteCode,
		&pair.Version, &pair.CreatedAt, &pair.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pair.Items == nil {
		pair.Items = []models.Item{}
	}
	return &pair, nil
}

// Create creates a new pair
func (r *PairRepository) Create(ctx context.Context, pair *models.Pair) error {
	query := `
		INSERT INTO pairs (id, users, items, invite_code, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	items := pair.Items
	if items == nil {
		items = []models.Item{}
	}
	result, err := r.db.Exec(ctx, query,
		pair.ID, pair.Users, items, pair.InviteCode, pair.CreatedAt, pair.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("pair %s: invite code taken: %w", pair.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create pair: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("pair %s: %w", pair.ID, ErrAlreadyExists)
	}
	pair.Version = 1
	return nil
}

// Get retrieves a pair by ID
func (r *PairRepository) Get(ctx context.Context, id string) (*models.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE id = $1`
	pair, err := scanPair(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("pair %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pair: %w", err)
	}
	return pair, nil
}

// GetByInviteCode retrieves a pair by its invite code
func (r *PairRepository) GetByInviteCode(ctx context.Context, code string) (*models.Pair, error) {
	query := `SELECT ` + pairColumns + ` FROM pairs WHERE invite_code = $1`
	pair, err := scanPair(r.db.QueryRow(ctx, query, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invite code: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get pair by invite code: %w", err)
	}
	return pair, nil
}

// InviteCodeExists checks if an invite code already exists
func (r *PairRepository) InviteCodeExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM pairs WHERE invite_code = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check invite code existence: %w", err)
	}
	return exists, nil
}

// AddMember appends a user id to the pair if absent and the pair has room
func (r *PairRepository) AddMember(ctx context.Context, pairID, userID string, maxMembers int) (*models.Pair, error) {
	query := `
		UPDATE pairs
		SET users = array_append(users, $2), version = version + 1, updated_at = $3
		WHERE id = $1 AND NOT ($2 = ANY(users)) AND ($4 <= 0 OR cardinality(users) < $4)
		RETURNING ` + pairColumns
	pair, err := scanPair(r.db.QueryRow(ctx, query, pairID, userID, time.Now(), maxMembers))
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to add pair member: %w", err)
	}

	// The pair is missing, the user is already a member, or the pair is full
	pair, err = r.Get(ctx, pairID)
	if err != nil {
		return nil, err
	}
	if pair.HasMember(userID) {
		return pair, nil
	}
	return nil, fmt.Errorf("pair %s has %d members: %w", pairID, len(pair.Users), ErrMemberLimit)
}

// ReplaceItems sets the items array if the stored version matches
func (r *PairRepository) ReplaceItems(ctx context.Context, pairID string, items []models.Item, expectedVersion int64) (*models.Pair, error) {
	if items == nil {
		items = []models.Item{}
	}
	query := `
		UPDATE pairs
		SET items = $2, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $3
		RETURNING ` + pairColumns
	pair, err := scanPair(r.db.QueryRow(ctx, query, pairID, items, expectedVersion, time.Now()))
	if err == nil {
		return pair, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to replace items: %w", err)
	}

	current, err := r.Get(ctx, pairID)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("pair %s at version %d, expected %d: %w", pairID, current.Version, expectedVersion, ErrVersionConflict)
}

// Subscribe delivers the current pair and every later change
func (r *PairRepository) Subscribe(ctx context.Context, pairID string) (<-chan PairEvent, error) {
	if err := r.ensureListener(ctx); err != nil {
		return nil, err
	}

	sub := r.feed.add(ctx, pairID)

	// LISTEN is active before this read, so no change can fall in between
	pair, err := r.Get(ctx, pairID)
	if err != nil {
		sub.fail(err)
		return sub.ch, nil
	}
	sub.offer(pair)
	return sub.ch, nil
}

// ensureListener starts the shared LISTEN connection if it is not running
func (r *PairRepository) ensureListener(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.listening {
		return nil
	}

	conn, err := r.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire listener connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pairChangesChannel); err != nil {
		conn.Release()
		return fmt.Errorf("failed to listen for pair changes: %w", err)
	}

	r.listening = true
	go r.listen(conn.Hijack())
	return nil
}

func (r *PairRepository) listen(conn *pgx.Conn) {
	defer conn.Close(context.Background())

	log.Info().Str("channel", pairChangesChannel).Msg("Pair change listener started")

	for {
		n, err := conn.WaitForNotification(r.ctx)
		if err != nil {
			r.mu.Lock()
			r.listening = false
			r.mu.Unlock()

			if r.ctx.Err() == nil {
				log.Error().Err(err).Msg("Pair change listener failed")
			}
			r.feed.failAll(fmt.Errorf("pair change listener: %w", err))
			return
		}

		pairID := n.Payload
		if !r.feed.watching(pairID) {
			continue
		}

		pair, err := r.Get(r.ctx, pairID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				r.feed.fail(pairID, err)
				continue
			}
			log.Error().Err(err).Str("pair_id", pairID).Msg("Failed to load changed pair")
			continue
		}
		r.feed.publish(pair)
	}
}
