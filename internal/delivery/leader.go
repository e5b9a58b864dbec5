/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package delivery

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Leadership reports whether this instance may run singleton work.
type Leadership interface {
	IsLeader() bool
	LeaderCh() <-chan bool
}

// Runner is a loop that runs until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// LeaderAware runs a Runner only while this instance holds leadership.
type LeaderAware struct {
	runner   Runner
	election Leadership
	logger   zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware wraps runner.
func NewLeaderAware(runner Runner, election Leadership, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		runner:   runner,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_maintainer").Logger(),
	}
}

// Run follows leadership changes until ctx ends. The election must already
// be started.
func (l *LeaderAware) Run(ctx context.Context) error {
	defer l.stopRunner()

	if l.election.IsLeader() {
		l.startRunner(ctx)
	}

	leaderCh := l.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case isLeader := <-leaderCh:
			if isLeader {
				l.logger.Info().Msg("became leader, starting maintenance")
				l.startRunner(ctx)
			} else {
				l.logger.Warn().Msg("lost leadership, stopping maintenance")
				l.stopRunner()
			}
		}
	}
}

// Running reports whether the wrapped runner is active.
func (l *LeaderAware) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

func (l *LeaderAware) startRunner(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	l.cancel = cancel
	l.stopped = done

	go func() {
		defer close(done)
		if err := l.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("maintenance loop exited")
		}
	}()
}

func (l *LeaderAware) stopRunner() {
	l.mu.Lock()
	cancel, done := l.cancel, l.stopped
	l.cancel, l.stopped = nil, nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
