package push

import (
	"context"
	"fmt"

	"shukku-list-backend/internal/models"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const (
	// fcmBatchLimit is the maximum number of tokens per multicast request
	fcmBatchLimit = 500

	webpushTag  = "shukku-background-notification"
	webpushIcon = "/icons/icon-192.png"
	webpushLink = "/"
)

// FCMConfig holds Firebase credentials. CredentialsJSON wins over CredentialsFile.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
}

// FCMSender sends through Firebase Cloud Messaging
type FCMSender struct {
	client *messaging.Client
}

// NewFCMSender initializes the Firebase app and its messaging client
func NewFCMSender(ctx context.Context, cfg FCMConfig) (*FCMSender, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	var fbConfig *firebase.Config
	if cfg.ProjectID != "" {
		fbConfig = &firebase.Config{ProjectID: cfg.ProjectID}
	}

	app, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create messaging client: %w", err)
	}

	return &FCMSender{client: client}, nil
}

// SendMulticast sends msg to all tokens, chunked to the provider limit
func (s *FCMSender) SendMulticast(ctx context.Context, tokens []string, msg models.PushMessage) (*BatchResult, error) {
	result := &BatchResult{}

	for start := 0; start < len(tokens); start += fcmBatchLimit {
		end := start + fcmBatchLimit
		if end > len(tokens) {
			end = len(tokens)
		}
		batch := tokens[start:end]

		resp, err := s.client.SendEachForMulticast(ctx, buildMulticast(batch, msg))
		if err != nil {
			return nil, fmt.Errorf("failed to send multicast: %w", err)
		}

		for i, r := range resp.Responses {
			if !r.Success {
				log.Warn().Err(r.Error).Int("index", start+i).Msg("FCM token delivery failed")
			}
			result.add(batch[i], r.Success)
		}
	}

	return result, nil
}

func buildMulticast(tokens []string, msg models.PushMessage) *messaging.MulticastMessage {
	msg = WithDefaults(msg)

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: msg.Notification.Title,
			Body:  msg.Notification.Body,
		},
		Data: msg.Data,
		Webpush: &messaging.WebpushConfig{
			Notification: &messaging.WebpushNotification{
				Title: msg.Notification.Title,
				Body:  msg.Notification.Body,
				Icon:  webpushIcon,
				Tag:   webpushTag,
			},
			FCMOptions: &messaging.WebpushFCMOptions{
				Link: webpushLink,
			},
		},
	}
}
