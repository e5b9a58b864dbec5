/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/audit"
	"github.com/friendsincode/interview_scheduler/internal/channels"
	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/config"
	"github.com/friendsincode/interview_scheduler/internal/delivery"
	"github.com/friendsincode/interview_scheduler/internal/events"
	"github.com/friendsincode/interview_scheduler/internal/outbox"
	"github.com/friendsincode/interview_scheduler/internal/reminders"
	"github.com/friendsincode/interview_scheduler/internal/slots"
	"github.com/friendsincode/interview_scheduler/internal/timezone"
)

// App holds the core components over one database. The HTTP server and the
// one-shot CLI commands share it.
type App struct {
	DB         *gorm.DB
	Bus        *events.Bus
	Clock      clock.Clock
	Resolver   *timezone.Resolver
	Queue      *outbox.Queue
	Log        *audit.Log
	Scheduler  *reminders.Scheduler
	Machine    *slots.Machine
	Pool       *delivery.Pool
	Maintainer *delivery.Maintainer
}

// NewApp wires the core around database, delivering through ch.
func NewApp(cfg *config.Config, database *gorm.DB, ch channels.Channel, clk clock.Clock, logger zerolog.Logger) (*App, error) {
	resolver, err := timezone.NewResolver(cfg.DefaultTimezone, logger)
	if err != nil {
		return nil, fmt.Errorf("timezone resolver: %w", err)
	}

	bus := events.NewBus()
	queue := outbox.New(database, logger)
	notificationLog := audit.New(database, logger)
	scheduler := reminders.New(database, queue, clk, cfg.Policy.GraceWindow, bus, logger)
	machine := slots.New(database, scheduler, clk, bus, logger)

	deps := delivery.Deps{
		DB:       database,
		Queue:    queue,
		Log:      notificationLog,
		Channel:  ch,
		Composer: delivery.NewComposer(resolver),
		Clock:    clk,
		Bus:      bus,
		Logger:   logger,
	}

	opts := delivery.OptionsFromPolicy(cfg.Policy)
	opts.WorkerID = cfg.InstanceID

	maintainer := delivery.NewMaintainer(deps, delivery.MaintainerOptions{
		Lease:       cfg.Policy.ClaimLease,
		MaxAttempts: cfg.Policy.MaxAttempts,
		BackoffBase: cfg.Policy.BackoffBase,
		BackoffMax:  cfg.Policy.BackoffMax,
		BatchSize:   cfg.Policy.BatchSize,
	})

	return &App{
		DB:         database,
		Bus:        bus,
		Clock:      clk,
		Resolver:   resolver,
		Queue:      queue,
		Log:        notificationLog,
		Scheduler:  scheduler,
		Machine:    machine,
		Pool:       delivery.NewPool(cfg.Policy.Workers, deps, opts),
		Maintainer: maintainer,
	}, nil
}
