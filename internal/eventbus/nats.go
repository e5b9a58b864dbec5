/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus forwards in-process events to NATS so other systems
// (chat bots, dashboards, the admin UI) can react to slot and reminder
// changes without polling the database.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/interview_scheduler/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "interviews.events",
		Name:          "interviewd",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect dials NATS with reconnect logging.
func Connect(cfg NATSConfig, logger zerolog.Logger) (*nats.Conn, error) {
	logger = logger.With().Str("component", "nats").Logger()
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	logger.Info().Str("url", nc.ConnectedUrl()).Msg("connected to nats")
	return nc, nil
}

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Message is the envelope written to NATS.
type Message struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

// Bridge republishes every bus event on <prefix>.<event type>. Delivery is
// best effort; a failed publish is logged and dropped.
type Bridge struct {
	bus    *events.Bus
	pub    Publisher
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewBridge creates a bridge from bus to pub.
func NewBridge(bus *events.Bus, pub Publisher, prefix string, logger zerolog.Logger) *Bridge {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &Bridge{
		bus:    bus,
		pub:    pub,
		prefix: prefix,
		nodeID: nodeID(),
		logger: logger.With().Str("component", "nats_bridge").Logger(),
	}
}

// Subject returns the NATS subject for an event type.
func (b *Bridge) Subject(t events.EventType) string {
	return b.prefix + "." + string(t)
}

// Run forwards events until ctx ends.
func (b *Bridge) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, et := range events.AllEventTypes {
		sub := b.bus.Subscribe(et)
		wg.Add(1)
		go func(et events.EventType, sub events.Subscriber) {
			defer wg.Done()
			defer b.bus.Unsubscribe(et, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					b.forward(et, payload)
				}
			}
		}(et, sub)
	}

	b.logger.Info().Str("prefix", b.prefix).Msg("forwarding events to nats")
	wg.Wait()
	return ctx.Err()
}

func (b *Bridge) forward(et events.EventType, payload events.Payload) {
	data, err := json.Marshal(Message{
		EventType: et,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    b.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		b.logger.Error().Err(err).Str("event_type", string(et)).Msg("failed to marshal event")
		return
	}
	if err := b.pub.Publish(b.Subject(et), data); err != nil {
		b.logger.Warn().Err(err).Str("event_type", string(et)).Msg("failed to publish event")
	}
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
