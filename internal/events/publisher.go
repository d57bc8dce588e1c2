// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) 2025-2026 spike-sync contributors
// https://github.com/spikeapp/spike-sync

// Package events publishes typed job lifecycle events on the
// sync.job.<created|queued|started|progress|retrying|completed|failed|cancelled>
// subjects. Delivery is at-least-once and fire-and-forget: the relational
// store is the source of truth, the bus is a best-effort notification layer,
// and a publish failure never rolls back or blocks a committed state change.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spikeapp/spike-sync/internal/models"
	"github.com/spikeapp/spike-sync/internal/pkg/logger"
)

// Conn is the messaging surface the publisher needs. *nats.Client satisfies
// it; tests substitute a recording func.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher serializes lifecycle events onto the bus.
type Publisher struct {
	conn   Conn
	logger *logger.Logger
}

// NewPublisher creates an event publisher over the given connection.
func NewPublisher(conn Conn, log *logger.Logger) *Publisher {
	if log == nil {
		log = logger.Nop()
	}
	return &Publisher{
		conn:   conn,
		logger: log.Named("events"),
	}
}

// Publish sends one lifecycle event. Consumers must be idempotent (dedupe on
// (job_id, type) or treat status as monotonic).
func (p *Publisher) Publish(ctx context.Context, event models.JobEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal job event: %w", err)
	}
	if err := p.conn.Publish(event.Type.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type.Subject(), err)
	}
	return nil
}

// NopPublisher discards events. Used in tests and when no bus is configured.
type NopPublisher struct{}

// Publish implements the publisher interface and does nothing.
func (NopPublisher) Publish(ctx context.Context, event models.JobEvent) error {
	return nil
}
