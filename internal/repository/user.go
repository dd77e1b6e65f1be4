package repository

import (
	"context"
	"errors"
	"fmt"

	"shukku-list-backend/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// UserRepository handles database operations for users
type UserRepository struct {
	db *pgxpool.Pool
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, tokens, list_id, created_at)
		VALUES ($1, $2, $3, $4)
	`
	tokens := user.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	_, err := r.db.Exec(ctx, query, user.ID, tokens, user.ListID, user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("user %s: %w", user.ID, ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `
		SELECT id, tokens, list_id, created_at
		FROM users
		WHERE id = $1
	`
	var user models.User
	err := r.db.QueryRow(ctx, query, id).Scan(
		&user.ID, &user.Tokens, &user.ListID, &user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// AddToken adds a push token to the user's set unless already present
func (r *UserRepository) AddToken(ctx context.Context, userID, token string) error {
	query := `
		UPDATE users SET tokens = array_append(tokens, $2)
		WHERE id = $1 AND NOT ($2 = ANY(tokens))
	`
	result, err := r.db.Exec(ctx, query, userID, token)
	if err != nil {
		return fmt.Errorf("failed to add push token: %w", err)
	}
	if result.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: token already present or user missing
	_, err = r.GetByID(ctx, userID)
	return err
}

// SetListID persists the user's selected list
func (r *UserRepository) SetListID(ctx context.Context, userID, listID string) error {
	query := `UPDATE users SET list_id = $1 WHERE id = $2`
	result, err := r.db.Exec(ctx, query, listID, userID)
	if err != nil {
		return fmt.Errorf("failed to update list id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// ClearListID drops the user's selected list
func (r *UserRepository) ClearListID(ctx context.Context, userID string) error {
	query := `UPDATE users SET list_id = NULL WHERE id = $1`
	result, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to clear list id: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}
