package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"shukku-list-backend/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// newPostgresStores connects to SHUKKU_TEST_DATABASE_URL and skips without it
func newPostgresStores(t *testing.T) (*PairRepository, *UserRepository) {
	t.Helper()
	url := os.Getenv("SHUKKU_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("SHUKKU_TEST_DATABASE_URL not set")
	}
	if err := Migrate(url); err != nil {
		t.Fatalf("Migrate returned error: %v", err)
	}

	pool, err := pgxpool.New(context.Background(), url)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(pool.Close)

	pairs := NewPairRepository(pool)
	t.Cleanup(pairs.Close)
	return pairs, NewUserRepository(pool)
}

func createPostgresPair(t *testing.T, repo *PairRepository) *models.Pair {
	t.Helper()
	id := uuid.NewString()
	pair := newTestPair(id)
	pair.InviteCode = uuid.NewString()
	if err := repo.Create(context.Background(), pair); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	t.Cleanup(func() {
		repo.db.Exec(context.Background(), `DELETE FROM pairs WHERE id = $1`, id)
	})
	return pair
}

func TestPairRepositoryReplaceItemsGuard(t *testing.T) {
	ctx := context.Background()
	repo, _ := newPostgresStores(t)
	pair := createPostgresPair(t, repo)

	if err := repo.Create(ctx, newTestPair(pair.ID)); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	updated, err := repo.ReplaceItems(ctx, pair.ID, []models.Item{{ID: "a", Name: "bread", Qty: 1}}, 1)
	if err != nil {
		t.Fatalf("ReplaceItems returned error: %v", err)
	}
	if updated.Version != 2 || len(updated.Items) != 1 {
		t.Fatalf("unexpected pair after write: %+v", updated)
	}

	if _, err := repo.ReplaceItems(ctx, pair.ID, []models.Item{{ID: "b", Name: "eggs", Qty: 1}}, 1); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	stored, err := repo.Get(ctx, pair.ID)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if len(stored.Items) != 1 || stored.Items[0].Name != "bread" {
		t.Fatalf("stale write leaked: %+v", stored.Items)
	}

	if _, err := repo.ReplaceItems(ctx, uuid.NewString(), nil, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPairRepositoryAddMember(t *testing.T) {
	ctx := context.Background()
	repo, _ := newPostgresStores(t)
	pair := createPostgresPair(t, repo)

	for i := 0; i < 2; i++ {
		p, err := repo.AddMember(ctx, pair.ID, "u2", 2)
		if err != nil {
			t.Fatalf("AddMember returned error: %v", err)
		}
		if len(p.Users) != 2 || p.Version != 2 {
			t.Fatalf("unexpected pair after join: %+v", p)
		}
	}

	if _, err := repo.AddMember(ctx, pair.ID, "u3", 2); !errors.Is(err, ErrMemberLimit) {
		t.Fatalf("expected ErrMemberLimit, got %v", err)
	}
	if _, err := repo.AddMember(ctx, uuid.NewString(), "u2", 2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPairRepositorySubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	repo, _ := newPostgresStores(t)
	pair := createPostgresPair(t, repo)

	events, err := repo.Subscribe(ctx, pair.ID)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if first := receive(t, events); first.Err != nil || first.Pair.Version != 1 {
		t.Fatalf("unexpected first snapshot: %+v", first)
	}

	if _, err := repo.ReplaceItems(ctx, pair.ID, []models.Item{{ID: "a", Name: "milk", Qty: 1}}, 1); err != nil {
		t.Fatalf("ReplaceItems returned error: %v", err)
	}
	if ev := receive(t, events); ev.Err != nil || ev.Pair.Version != 2 {
		t.Fatalf("expected version 2 from the listener, got %+v", ev)
	}

	if _, err := repo.db.Exec(ctx, `DELETE FROM pairs WHERE id = $1`, pair.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if ev := receive(t, events); !errors.Is(ev.Err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound event, got %+v", ev)
	}

	missing, err := repo.Subscribe(ctx, uuid.NewString())
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	if ev := receive(t, missing); !errors.Is(ev.Err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing pair, got %+v", ev)
	}
}

func TestUserRepositoryListID(t *testing.T) {
	ctx := context.Background()
	_, users := newPostgresStores(t)
	id := uuid.NewString()
	if err := users.Create(ctx, &models.User{ID: id, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	t.Cleanup(func() {
		users.db.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, id)
	})

	for _, tok := range []string{"t1", "t1"} {
		if err := users.AddToken(ctx, id, tok); err != nil {
			t.Fatalf("AddToken returned error: %v", err)
		}
	}
	if err := users.SetListID(ctx, id, "p1"); err != nil {
		t.Fatalf("SetListID returned error: %v", err)
	}
	if err := users.ClearListID(ctx, id); err != nil {
		t.Fatalf("ClearListID returned error: %v", err)
	}

	u, err := users.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("GetByID returned error: %v", err)
	}
	if len(u.Tokens) != 1 || u.ListID != nil {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := users.ClearListID(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
