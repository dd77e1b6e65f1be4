package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"shukku-list-backend/internal/metrics"
	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/push"
	"shukku-list-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

// Payload is a notification request for the members of a pair
type Payload struct {
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	ExcludeUID string            `json:"excludeUid,omitempty"`
	Data       map[string]string `json:"data,omitempty"`
}

// NotifyResult reports the outcome of one dispatch
type NotifyResult struct {
	Sent         bool `json:"-"`
	SuccessCount int  `json:"successCount"`
	FailureCount int  `json:"failureCount"`
}

// ForegroundDelivery pushes messages to users with an open connection
type ForegroundDelivery interface {
	SendToUser(userID string, message WSMessage) error
}

// NotifierConfig bounds asynchronous dispatch
type NotifierConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

type notifyTask struct {
	pairID  string
	payload Payload
}

// Notifier resolves member tokens and sends one batched push per notification
type Notifier struct {
	pairRepo   repository.PairStore
	userRepo   repository.UserStore
	sender     push.Sender
	foreground ForegroundDelivery

	queue       chan notifyTask
	taskTimeout time.Duration
	wg          sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewNotifier creates a notifier and starts its workers. foreground may be nil.
func NewNotifier(pairRepo repository.PairStore, userRepo repository.UserStore, sender push.Sender, foreground ForegroundDelivery, cfg NotifierConfig) *Notifier {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 10 * time.Second
	}

	n := &Notifier{
		pairRepo:    pairRepo,
		userRepo:    userRepo,
		sender:      sender,
		foreground:  foreground,
		queue:       make(chan notifyTask, cfg.QueueSize),
		taskTimeout: cfg.TaskTimeout,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify sends payload to every member of the pair except payload.ExcludeUID
func (n *Notifier) Notify(ctx context.Context, pairID string, payload Payload) (*NotifyResult, error) {
	pair, err := n.pairRepo.Get(ctx, pairID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			metrics.Notifications.WithLabelValues("pair_not_found").Inc()
			return nil, fmt.Errorf("%w: %w", ErrPairNotFound, err)
		}
		metrics.Notifications.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to load pair: %w: %w", ErrUpstream, err)
	}

	msg := push.WithDefaults(models.PushMessage{
		Notification: models.PushNotification{Title: payload.Title, Body: payload.Body},
		Data:         messageData(pairID, payload.Data),
	})

	n.deliverForeground(pair, payload.ExcludeUID, msg)

	tokens, err := n.collectTokens(ctx, pair, payload.ExcludeUID)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return nil, err
	}

	if len(tokens) == 0 {
		metrics.Notifications.WithLabelValues("no_tokens").Inc()
		return &NotifyResult{}, nil
	}

	res, err := n.sender.SendMulticast(ctx, tokens, msg)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to send push: %w: %w", ErrUpstream, err)
	}

	metrics.Notifications.WithLabelValues("sent").Inc()
	metrics.PushTokens.WithLabelValues("success").Add(float64(res.SuccessCount))
	metrics.PushTokens.WithLabelValues("failure").Add(float64(res.FailureCount))

	log.Info().
		Str("pair_id", pairID).
		Int("tokens", len(tokens)).
		Int("success", res.SuccessCount).
		Int("failure", res.FailureCount).
		Msg("Push notification sent")

	return &NotifyResult{
		Sent:         true,
		SuccessCount: res.SuccessCount,
		FailureCount: res.FailureCount,
	}, nil
}

// collectTokens gathers de-duplicated tokens of all members except exclude.
// Users that no longer exist are skipped.
func (n *Notifier) collectTokens(ctx context.Context, pair *models.Pair, exclude string) ([]string, error) {
	seen := make(map[string]struct{})
	var tokens []string

	for _, uid := range pair.Users {
		if exclude != "" && uid == exclude {
			continue
		}
		user, err := n.userRepo.GetByID(ctx, uid)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load user %s: %w: %w", uid, ErrUpstream, err)
		}
		for _, t := range user.Tokens {
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			tokens = append(tokens, t)
		}
	}
	return tokens, nil
}

func (n *Notifier) deliverForeground(pair *models.Pair, exclude string, msg models.PushMessage) {
	if n.foreground == nil {
		return
	}
	for _, uid := range pair.Users {
		if uid == exclude {
			continue
		}
		// Offline members are expected here
		_ = n.foreground.SendToUser(uid, WSMessage{Type: WSTypeNotification, Data: msg})
	}
}

func messageData(pairID string, extra map[string]string) map[string]string {
	data := map[string]string{
		"pair_id":      pairID,
		"click_action": "/",
	}
	for k, v := range extra {
		data[k] = v
	}
	if data["type"] == "" {
		data["type"] = "list_updated"
	}
	return data
}

// NotifyAsync queues a notification. It reports false when the queue is full
// or the notifier is closed; the notification is dropped in that case.
func (n *Notifier) NotifyAsync(pairID string, payload Payload) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return false
	}

	select {
	case n.queue <- notifyTask{pairID: pairID, payload: payload}:
		return true
	default:
		metrics.Notifications.WithLabelValues("dropped").Inc()
		log.Warn().Str("pair_id", pairID).Msg("Notification queue full, dropping notification")
		return false
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()

	for task := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), n.taskTimeout)
		if _, err := n.Notify(ctx, task.pairID, task.payload); err != nil {
			log.Error().Err(err).Str("pair_id", task.pairID).Msg("Failed to send notification")
		}
		cancel()
	}
}

// Close stops accepting notifications and waits for queued ones to finish
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}
