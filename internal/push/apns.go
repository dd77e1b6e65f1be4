package push

import (
	"context"
	"fmt"

	"shukku-list-backend/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/certificate"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// APNsConfig selects token auth (KeyFile) or certificate auth (CertFile)
type APNsConfig struct {
	KeyFile      string
	KeyID        string
	TeamID       string
	CertFile     string
	CertPassword string
	Topic        string
	Production   bool
}

// APNsSender sends through the Apple Push Notification service
type APNsSender struct {
	client *apns2.Client
	topic  string
}

// NewAPNsSender creates an APNs client from a .p8 key or a .p12 certificate
func NewAPNsSender(cfg APNsConfig) (*APNsSender, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("apns topic is required")
	}

	var client *apns2.Client
	switch {
	case cfg.KeyFile != "":
		authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load apns auth key: %w", err)
		}
		client = apns2.NewTokenClient(&token.Token{
			AuthKey: authKey,
			KeyID:   cfg.KeyID,
			TeamID:  cfg.TeamID,
		})
	case cfg.CertFile != "":
		cert, err := certificate.FromP12File(cfg.CertFile, cfg.CertPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to load apns certificate: %w", err)
		}
		client = apns2.NewClient(cert)
	default:
		return nil, fmt.Errorf("apns key_file or cert_file is required")
	}

	if cfg.Production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsSender{client: client, topic: cfg.Topic}, nil
}

// SendMulticast pushes to each token in turn. APNs has no batch endpoint.
func (s *APNsSender) SendMulticast(ctx context.Context, tokens []string, msg models.PushMessage) (*BatchResult, error) {
	result := &BatchResult{}

	for _, deviceToken := range tokens {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("apns batch interrupted: %w", err)
		}

		res, err := s.client.PushWithContext(ctx, buildNotification(deviceToken, s.topic, msg))
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("APNs push failed")
			result.add(deviceToken, false)
		case !res.Sent():
			log.Warn().Int("status", res.StatusCode).Str("reason", res.Reason).Msg("APNs rejected push")
			result.add(deviceToken, false)
		default:
			result.add(deviceToken, true)
		}
	}

	return result, nil
}

func buildNotification(deviceToken, topic string, msg models.PushMessage) *apns2.Notification {
	msg = WithDefaults(msg)

	p := payload.NewPayload().
		AlertTitle(msg.Notification.Title).
		AlertBody(msg.Notification.Body).
		Sound("default")
	if pairID := msg.Data["pair_id"]; pairID != "" {
		p = p.ThreadID(pairID)
	}
	for k, v := range msg.Data {
		p = p.Custom(k, v)
	}

	return &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       topic,
		Payload:     p,
	}
}
