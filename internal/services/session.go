package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shukku-list-backend/internal/metrics"
	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// SessionState is the lifecycle stage of a sync session
type SessionState int

const (
	SessionUnattached SessionState = iota
	SessionAttaching
	SessionLive
	SessionDetached
)

func (s SessionState) String() string {
	switch s {
	case SessionUnattached:
		return "unattached"
	case SessionAttaching:
		return "attaching"
	case SessionLive:
		return "live"
	case SessionDetached:
		return "detached"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var errSubscriptionClosed = errors.New("subscription closed")

// SessionSink receives everything a session renders for its client
type SessionSink interface {
	Snapshot(view *models.ListView) error
	Preview(url string, meta *models.Metadata) error
}

// SessionConfig controls reconnects and preview debouncing
type SessionConfig struct {
	ReconnectDelay       time.Duration
	MaxReconnectDelay    time.Duration
	MaxReconnectAttempts int // 0 retries forever
	PreviewDebounce      time.Duration
}

// SessionDeps are the services a session drives
type SessionDeps struct {
	Pairs    *PairService
	List     *ListService
	Store    repository.PairStore
	Previews Previewer
}

// Session keeps one client in sync with its pair's list
type Session struct {
	userID string
	deps   SessionDeps
	cfg    SessionConfig
	sink   SessionSink

	mu           sync.Mutex
	state        SessionState
	pairID       string
	ctx          context.Context
	cancel       context.CancelFunc
	previewURL   string
	previewTimer *time.Timer
}

// NewSession creates an unattached session for userID
func NewSession(userID string, deps SessionDeps, cfg SessionConfig, sink SessionSink) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		userID: userID,
		deps:   deps,
		cfg:    cfg,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
}

// State returns the current lifecycle stage
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PairID returns the attached pair, empty before Attach
func (s *Session) PairID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairID
}

func (s *Session) setState(state SessionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionDetached {
		return false
	}
	s.state = state
	return true
}

// Attach resolves the user's list and makes sure the pair exists
func (s *Session) Attach(ctx context.Context) (*models.Pair, error) {
	s.mu.Lock()
	switch s.state {
	case SessionDetached:
		s.mu.Unlock()
		return nil, ErrSessionDetached
	case SessionUnattached:
		s.state = SessionAttaching
	default:
		pairID := s.pairID
		s.mu.Unlock()
		return nil, fmt.Errorf("session already attached to %q", pairID)
	}
	s.mu.Unlock()

	pair, err := s.deps.Pairs.Attach(ctx, s.userID)
	if err != nil {
		s.mu.Lock()
		if s.state == SessionAttaching {
			s.state = SessionUnattached
		}
		s.mu.Unlock()
		return nil, err
	}

	s.mu.Lock()
	s.pairID = pair.ID
	s.mu.Unlock()

	log.Info().Str("user_id", s.userID).Str("pair_id", pair.ID).Msg("Session attached")
	return pair, nil
}

// Run keeps the subscription open and renders every snapshot until the
// session is closed or ctx ends. It returns an error only when reconnect
// attempts are exhausted.
func (s *Session) Run(ctx context.Context) error {
	pairID := s.PairID()
	if pairID == "" {
		return ErrSessionNotAttached
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	delay := s.cfg.ReconnectDelay
	attempts := 0

	for {
		subCtx, subCancel := context.WithCancel(runCtx)
		live, err := s.subscribe(subCtx, pairID)
		subCancel()
		if runCtx.Err() != nil || s.State() == SessionDetached {
			s.Close()
			return nil
		}
		if live {
			delay = s.cfg.ReconnectDelay
			attempts = 0
		}

		if errors.Is(err, repository.ErrNotFound) {
			log.Warn().Str("pair_id", pairID).Msg("Pair disappeared, recreating")
			if _, err = s.deps.Pairs.EnsurePair(runCtx, pairID, s.userID); err == nil {
				continue
			}
		}

		attempts++
		if s.cfg.MaxReconnectAttempts > 0 && attempts > s.cfg.MaxReconnectAttempts {
			s.Close()
			return fmt.Errorf("subscription to pair %s lost after %d attempts: %w", pairID, attempts-1, err)
		}

		s.setState(SessionAttaching)
		log.Warn().
			Err(err).
			Str("pair_id", pairID).
			Int("attempt", attempts).
			Dur("delay", delay).
			Msg("Subscription failed, reconnecting")

		select {
		case <-runCtx.Done():
			s.Close()
			return nil
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

// subscribe consumes one subscription. live reports whether any snapshot arrived.
func (s *Session) subscribe(ctx context.Context, pairID string) (live bool, err error) {
	events, err := s.deps.Store.Subscribe(ctx, pairID)
	if err != nil {
		return false, err
	}

	defer func() {
		if live {
			metrics.LiveSessions.Dec()
		}
	}()

	for ev := range events {
		if ev.Err != nil {
			return live, ev.Err
		}
		if !live {
			if !s.setState(SessionLive) {
				return live, ErrSessionDetached
			}
			live = true
			metrics.LiveSessions.Inc()
		}
		if err := s.sink.Snapshot(models.NewListView(ev.Pair)); err != nil {
			log.Warn().Err(err).Str("user_id", s.userID).Msg("Failed to render snapshot")
		}
	}

	if ctx.Err() != nil {
		return live, ctx.Err()
	}
	return live, errSubscriptionClosed
}

// Close detaches the session and cancels its subscription
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionDetached {
		return
	}
	s.state = SessionDetached
	if s.previewTimer != nil {
		s.previewTimer.Stop()
	}
	s.cancel()

	log.Info().Str("user_id", s.userID).Str("pair_id", s.pairID).Msg("Session detached")
}

// target returns the pair mutations apply to
func (s *Session) target() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionDetached {
		return "", ErrSessionDetached
	}
	if s.pairID == "" {
		return "", ErrSessionNotAttached
	}
	return s.pairID, nil
}

// withPair runs op and recreates the pair once if it vanished
func (s *Session) withPair(ctx context.Context, op func(pairID string) error) error {
	pairID, err := s.target()
	if err != nil {
		return err
	}

	err = op(pairID)
	if !errors.Is(err, ErrPairNotFound) {
		return err
	}
	if _, ensureErr := s.deps.Pairs.EnsurePair(ctx, pairID, s.userID); ensureErr != nil {
		return err
	}
	return op(pairID)
}

// AddItem adds an item to the session's list
func (s *Session) AddItem(ctx context.Context, text string, qty int) (*models.Item, error) {
	var item *models.Item
	err := s.withPair(ctx, func(pairID string) error {
		var err error
		_, item, err = s.deps.List.AddItem(ctx, pairID, s.userID, text, qty)
		return err
	})
	return item, err
}

// ToggleItem flips the done flag of an item
func (s *Session) ToggleItem(ctx context.Context, itemID string) error {
	return s.withPair(ctx, func(pairID string) error {
		_, err := s.deps.List.ToggleItem(ctx, pairID, s.userID, itemID)
		return err
	})
}

// DeleteItem removes an item
func (s *Session) DeleteItem(ctx context.Context, itemID string) error {
	return s.withPair(ctx, func(pairID string) error {
		_, err := s.deps.List.DeleteItem(ctx, pairID, s.userID, itemID)
		return err
	})
}

// ClearDone removes every done item
func (s *Session) ClearDone(ctx context.Context) error {
	return s.withPair(ctx, func(pairID string) error {
		_, err := s.deps.List.ClearCompleted(ctx, pairID, s.userID)
		return err
	})
}

// RequestPreview schedules a preview fetch for url. Requests arriving within
// the debounce window replace the pending one.
func (s *Session) RequestPreview(url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionDetached {
		return ErrSessionDetached
	}

	s.previewURL = url
	if s.previewTimer != nil {
		s.previewTimer.Stop()
	}
	s.previewTimer = time.AfterFunc(s.cfg.PreviewDebounce, s.firePreview)
	return nil
}

func (s *Session) firePreview() {
	s.mu.Lock()
	url := s.previewURL
	detached := s.state == SessionDetached
	s.mu.Unlock()

	if detached || url == "" || s.deps.Previews == nil {
		return
	}

	meta, err := s.deps.Previews.Fetch(s.ctx, url)
	if err != nil {
		meta = nil
	}

	s.mu.Lock()
	stale := s.previewURL != url || s.state == SessionDetached
	s.mu.Unlock()
	if stale {
		return
	}

	if err := s.sink.Preview(url, meta); err != nil {
		log.Warn().Err(err).Str("user_id", s.userID).Msg("Failed to send preview")
	}
}
