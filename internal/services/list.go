package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"shukku-list-backend/internal/metrics"
	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Notification types carried in the push data payload
const (
	NotifyItemAdded   = "item_added"
	NotifyItemToggled = "item_toggled"
	NotifyItemRemoved = "item_removed"
)

// errUnchanged tells mutate that the operation has nothing to write
var errUnchanged = errors.New("unchanged")

// Previewer produces a product preview for a URL
type Previewer interface {
	Fetch(ctx context.Context, rawURL string) (*models.Metadata, error)
}

// NotificationQueue accepts best-effort notifications
type NotificationQueue interface {
	NotifyAsync(pairID string, payload Payload) bool
}

// ListService applies item mutations to a pair with a version-guarded write
type ListService struct {
	pairRepo    repository.PairStore
	previews    Previewer
	notifier    NotificationQueue
	maxAttempts int
	now         func() time.Time
}

// NewListService creates a new list service. previews and notifier may be nil.
func NewListService(pairRepo repository.PairStore, previews Previewer, notifier NotificationQueue, maxAttempts int) *ListService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &ListService{
		pairRepo:    pairRepo,
		previews:    previews,
		notifier:    notifier,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// AddItem appends an item built from text. An http(s) link is enriched with its preview.
func (s *ListService) AddItem(ctx context.Context, pairID, actor, text string, qty int) (*models.Pair, *models.Item, error) {
	name := strings.TrimSpace(text)
	if name == "" {
		return nil, nil, fmt.Errorf("item name is required: %w", ErrInvalidInput)
	}
	if qty < models.MinQty || qty > models.MaxQty {
		return nil, nil, fmt.Errorf("qty must be between %d and %d: %w", models.MinQty, models.MaxQty, ErrInvalidInput)
	}

	item := models.Item{
		ID:        uuid.New().String(),
		Name:      name,
		Qty:       qty,
		AddedBy:   actor,
		CreatedAt: s.now(),
	}
	s.applyPreview(ctx, &item)

	pair, err := s.mutate(ctx, "add", pairID, func(items []models.Item) ([]models.Item, error) {
		return append(items, item), nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.notify(pairID, actor, NotifyItemAdded, "Item added", item.Name+" added to list")
	return pair, &item, nil
}

// applyPreview fills link fields for URL items. A failed preview keeps the raw text.
func (s *ListService) applyPreview(ctx context.Context, item *models.Item) {
	u, ok := ParseItemURL(item.Name)
	if !ok {
		return
	}
	href := u.String()
	item.Link = href

	if s.previews == nil {
		return
	}
	meta, err := s.previews.Fetch(ctx, href)
	if err != nil {
		log.Debug().Err(err).Str("url", href).Msg("Adding item without preview")
		return
	}

	if meta.Title != "" {
		item.Name = meta.Title
	}
	if meta.URL != "" {
		item.Link = meta.URL
	}
	item.Image = meta.Image
	item.Price = meta.Price
	item.Site = meta.Site
}

// ToggleItem flips the done flag of an item
func (s *ListService) ToggleItem(ctx context.Context, pairID, actor, itemID string) (*models.Pair, error) {
	var toggled models.Item
	pair, err := s.mutate(ctx, "toggle", pairID, func(items []models.Item) ([]models.Item, error) {
		i := indexOf(items, itemID)
		if i < 0 {
			return nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
		}
		items[i].Done = !items[i].Done
		toggled = items[i]
		return items, nil
	})
	if err != nil {
		return nil, err
	}

	if toggled.Done {
		s.notify(pairID, actor, NotifyItemToggled, "Item bought", toggled.Name+" was bought")
	} else {
		s.notify(pairID, actor, NotifyItemToggled, "Item marked undone", toggled.Name+" is marked not bought")
	}
	return pair, nil
}

// DeleteItem removes an item
func (s *ListService) DeleteItem(ctx context.Context, pairID, actor, itemID string) (*models.Pair, error) {
	var removed models.Item
	pair, err := s.mutate(ctx, "delete", pairID, func(items []models.Item) ([]models.Item, error) {
		i := indexOf(items, itemID)
		if i < 0 {
			return nil, fmt.Errorf("item %s: %w", itemID, ErrItemNotFound)
		}
		removed = items[i]
		return append(items[:i], items[i+1:]...), nil
	})
	if err != nil {
		return nil, err
	}

	name := removed.Name
	if name == "" {
		name = "An item"
	}
	s.notify(pairID, actor, NotifyItemRemoved, "Item removed", name+" was removed")
	return pair, nil
}

// ClearCompleted removes every done item. It sends no notification.
func (s *ListService) ClearCompleted(ctx context.Context, pairID, actor string) (*models.Pair, error) {
	return s.mutate(ctx, "clear_done", pairID, func(items []models.Item) ([]models.Item, error) {
		kept := items[:0]
		for _, it := range items {
			if !it.Done {
				kept = append(kept, it)
			}
		}
		if len(kept) == len(items) {
			return nil, errUnchanged
		}
		return kept, nil
	})
}

// mutate runs read-modify-write until the guarded write lands or attempts run out.
// apply receives a private copy of the items.
func (s *ListService) mutate(ctx context.Context, op, pairID string, apply func([]models.Item) ([]models.Item, error)) (*models.Pair, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		pair, err := s.pairRepo.Get(ctx, pairID)
		if err != nil {
			metrics.Mutations.WithLabelValues(op, "error").Inc()
			return nil, pairError(err)
		}

		items, err := apply(append([]models.Item(nil), pair.Items...))
		if errors.Is(err, errUnchanged) {
			metrics.Mutations.WithLabelValues(op, "noop").Inc()
			return pair, nil
		}
		if err != nil {
			metrics.Mutations.WithLabelValues(op, "rejected").Inc()
			return nil, err
		}

		updated, err := s.pairRepo.ReplaceItems(ctx, pairID, items, pair.Version)
		if err == nil {
			metrics.Mutations.WithLabelValues(op, "ok").Inc()
			return updated, nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			metrics.Mutations.WithLabelValues(op, "error").Inc()
			return nil, pairError(err)
		}

		metrics.VersionConflicts.Inc()
		log.Debug().
			Str("pair_id", pairID).
			Str("op", op).
			Int("attempt", attempt).
			Msg("List changed during write, retrying")
	}

	metrics.Mutations.WithLabelValues(op, "conflict").Inc()
	return nil, fmt.Errorf("pair %s after %d attempts: %w", pairID, s.maxAttempts, repository.ErrVersionConflict)
}

func (s *ListService) notify(pairID, actor, kind, title, body string) {
	if s.notifier == nil {
		return
	}
	s.notifier.NotifyAsync(pairID, Payload{
		Title:      title,
		Body:       body,
		ExcludeUID: actor,
		Data:       map[string]string{"type": kind},
	})
}

func indexOf(items []models.Item, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

func pairError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrPairNotFound, err)
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}
