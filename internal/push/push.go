package push

import (
	"context"
	"strings"

	"shukku-list-backend/internal/models"
)

// Sender delivers one message to a batch of device tokens
type Sender interface {
	// SendMulticast sends msg to every token and reports per-token results.
	// An error means the batch as a whole could not be submitted.
	SendMulticast(ctx context.Context, tokens []string, msg models.PushMessage) (*BatchResult, error)
}

// BatchResult summarizes a multicast send
type BatchResult struct {
	SuccessCount int      `json:"successCount"`
	FailureCount int      `json:"failureCount"`
	Failed       []string `json:"-"`
}

func (r *BatchResult) add(token string, ok bool) {
	if ok {
		r.SuccessCount++
		return
	}
	r.FailureCount++
	r.Failed = append(r.Failed, token)
}

// WithDefaults fills an empty title with the app name. An empty body is sent as is.
func WithDefaults(msg models.PushMessage) models.PushMessage {
	if strings.TrimSpace(msg.Notification.Title) == "" {
		msg.Notification.Title = models.DefaultPushTitle
	}
	return msg
}
