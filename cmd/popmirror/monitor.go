// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"src.bluestatic.org/popmirror/pkg/mirror"
	"src.bluestatic.org/popmirror/pkg/pop3"
)

type passRunner interface {
	Sync(ctx context.Context) (*mirror.Outcome, error)
}

// Monitor runs a pass for one account every poll interval.
type Monitor struct {
	account  string
	interval time.Duration
	log      *zap.Logger

	s passRunner
}

func NewMonitor(account string, interval time.Duration, s passRunner, log *zap.Logger) *Monitor {
	return &Monitor{
		account:  account,
		interval: interval,
		log:      log.With(zap.String("account", account)),
		s:        s,
	}
}

// Run polls until ctx is done, which is not an error. A pass that fails on
// credentials or configuration stops the monitor with that error; any other
// failed pass is retried at the next interval.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("Starting monitor", zap.Duration("interval", m.interval))
	for {
		if err := m.runOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			m.log.Info("Monitor stopping")
			return nil
		case <-time.After(m.interval):
		}
	}
}

func (m *Monitor) runOnce(ctx context.Context) error {
	_, err := m.s.Sync(ctx)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	switch pop3.KindOf(err) {
	case pop3.ErrAuth, pop3.ErrConfiguration:
		return fmt.Errorf("Monitor for %q stopped: %w", m.account, err)
	}
	m.log.Warn("Pass failed, retrying at next interval", zap.Error(err))
	return nil
}
