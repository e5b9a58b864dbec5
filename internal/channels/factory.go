/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channels

import (
	"fmt"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/interview_scheduler/internal/config"
	"github.com/friendsincode/interview_scheduler/internal/telemetry"
)

// FromConfig builds the configured channel.
func FromConfig(cfg *config.Config, logger zerolog.Logger) (Channel, error) {
	switch cfg.Channel {
	case config.ChannelWebhook:
		client := &http.Client{
			Timeout:   cfg.Policy.DeliveryTimeout,
			Transport: telemetry.HTTPTransport(nil),
		}
		return NewWebhook(cfg.WebhookURL, cfg.WebhookSecret, client), nil
	case config.ChannelEmail:
		return NewEmail(EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			FromName: cfg.SMTPFromName,
		}, nil), nil
	case config.ChannelWebPush:
		return NewWebPush(&webpush.Options{
			Subscriber:      cfg.VAPIDSubject,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.WebPushTTL,
			HTTPClient:      &http.Client{Transport: telemetry.HTTPTransport(nil)},
		}, nil), nil
	case config.ChannelLog:
		return NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown delivery channel %q", cfg.Channel)
	}
}
