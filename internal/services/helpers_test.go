package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/push"
	"shukku-list-backend/internal/repository"
)

// countingPairStore counts every call that reaches the store
type countingPairStore struct {
	repository.PairStore
	mu    sync.Mutex
	calls int
}

func (s *countingPairStore) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *countingPairStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *countingPairStore) Get(ctx context.Context, pairID string) (*models.Pair, error) {
	s.count()
	return s.PairStore.Get(ctx, pairID)
}

func (s *countingPairStore) ReplaceItems(ctx context.Context, pairID string, items []models.Item, v int64) (*models.Pair, error) {
	s.count()
	return s.PairStore.ReplaceItems(ctx, pairID, items, v)
}

// racingPairStore runs beforeWrite once, right before the first guarded write
type racingPairStore struct {
	repository.PairStore
	once        sync.Once
	beforeWrite func()
}

func (s *racingPairStore) ReplaceItems(ctx context.Context, pairID string, items []models.Item, v int64) (*models.Pair, error) {
	s.once.Do(s.beforeWrite)
	return s.PairStore.ReplaceItems(ctx, pairID, items, v)
}

// conflictingPairStore rejects every guarded write
type conflictingPairStore struct {
	repository.PairStore
}

func (s *conflictingPairStore) ReplaceItems(ctx context.Context, pairID string, items []models.Item, v int64) (*models.Pair, error) {
	return nil, repository.ErrVersionConflict
}

type fakeSender struct {
	mu     sync.Mutex
	calls  [][]string
	msgs   []models.PushMessage
	err    error
	block  chan struct{}
	called chan struct{}
}

func (s *fakeSender) SendMulticast(ctx context.Context, tokens []string, msg models.PushMessage) (*push.BatchResult, error) {
	if s.called != nil {
		s.called <- struct{}{}
	}
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]string(nil), tokens...))
	s.msgs = append(s.msgs, msg)
	if s.err != nil {
		return nil, s.err
	}
	return &push.BatchResult{SuccessCount: len(tokens)}, nil
}

func (s *fakeSender) Calls() [][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]string(nil), s.calls...)
}

type recordingQueue struct {
	mu       sync.Mutex
	payloads []Payload
}

func (q *recordingQueue) NotifyAsync(pairID string, payload Payload) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return true
}

func (q *recordingQueue) Payloads() []Payload {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Payload(nil), q.payloads...)
}

type stubPreviewer struct {
	mu   sync.Mutex
	meta *models.Metadata
	err  error
	urls []string
}

func (p *stubPreviewer) Fetch(ctx context.Context, rawURL string) (*models.Metadata, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, rawURL)
	if p.err != nil {
		return nil, p.err
	}
	m := *p.meta
	m.URL = rawURL
	return &m, nil
}

func (p *stubPreviewer) URLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.urls...)
}

type previewEvent struct {
	url  string
	meta *models.Metadata
}

type fakeSink struct {
	snapshots chan *models.ListView
	previews  chan previewEvent
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		snapshots: make(chan *models.ListView, 32),
		previews:  make(chan previewEvent, 8),
	}
}

func (s *fakeSink) Snapshot(view *models.ListView) error {
	s.snapshots <- view
	return nil
}

func (s *fakeSink) Preview(url string, meta *models.Metadata) error {
	s.previews <- previewEvent{url: url, meta: meta}
	return nil
}

// nextSnapshot waits for a snapshot matching ok
func (s *fakeSink) nextSnapshot(t *testing.T, ok func(*models.ListView) bool) *models.ListView {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-s.snapshots:
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for snapshot")
			return nil
		}
	}
}

func seedPair(t *testing.T, store repository.PairStore, id string, users []string, items ...models.Item) {
	t.Helper()
	now := time.Now()
	err := store.Create(context.Background(), &models.Pair{
		ID:         id,
		Users:      users,
		Items:      items,
		InviteCode: "654321",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatalf("failed to seed pair: %v", err)
	}
}

func seedUser(t *testing.T, store repository.UserStore, id string, tokens ...string) {
	t.Helper()
	if err := store.Create(context.Background(), &models.User{ID: id, Tokens: tokens, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

var errBoom = errors.New("boom")
