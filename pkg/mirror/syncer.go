// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package mirror copies the messages of a remote POP3 maildrop that are not
// yet in local storage, leaving the maildrop untouched.
package mirror

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"src.bluestatic.org/popmirror/pkg/metrics"
	"src.bluestatic.org/popmirror/pkg/pop3"
)

const DefaultBatchSize = 50

type Options struct {
	// Account names the remote account in logs and metrics.
	Account string
	// Mailbox is the local mailbox messages are stored in.
	Mailbox string
	// BatchSize bounds how many messages are fetched between progress
	// checkpoints. Zero means DefaultBatchSize.
	BatchSize int

	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Failure is a message the server refused, or that could not be parsed or
// stored.
type Failure struct {
	Number int
	UIDL   string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("message %d (%s): %v", f.Number, f.UIDL, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Outcome is the result of a completed pass.
type Outcome struct {
	New      int
	Failures []Failure
}

type Syncer struct {
	conn   Connector
	store  Store
	parser Parser
	opts   Options
	log    *zap.Logger
}

func NewSyncer(conn Connector, store Store, parser Parser, opts Options, log *zap.Logger) *Syncer {
	if opts.BatchSize < 1 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Syncer{
		conn:   conn,
		store:  store,
		parser: parser,
		opts:   opts,
		log: log.With(zap.String("account", opts.Account),
			zap.String("mailbox", opts.Mailbox)),
	}
}

// Sync runs one pass. It returns an error only if the pass could not
// complete; failures of individual messages are reported in the Outcome. A
// lost connection ends the pass, since no later message can be fetched.
// The connection is closed before Sync returns.
func (s *Syncer) Sync(ctx context.Context) (*Outcome, error) {
	start := time.Now()
	out, err := s.sync(ctx)
	if err != nil {
		s.opts.Metrics.ObservePass(s.opts.Account, 0, 0, err, time.Since(start))
		s.log.Error("Sync failed", zap.Error(err))
		return nil, err
	}
	s.opts.Metrics.ObservePass(s.opts.Account, out.New, len(out.Failures), nil, time.Since(start))
	return out, nil
}

func (s *Syncer) sync(ctx context.Context) (*Outcome, error) {
	s.log.Info("Polling for messages")

	sess, err := s.conn.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("Could not connect: %w", err)
	}
	defer sess.Disconnect()

	stat, err := sess.Stat(ctx)
	if err != nil {
		return nil, fmt.Errorf("Could not stat mailbox: %w", err)
	}
	s.log.Debug("Mailbox status", zap.Int("count", stat.Count), zap.Int64("size", stat.Size))

	remote, err := sess.UniqueIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("Could not list messages: %w", err)
	}
	out := &Outcome{}
	if len(remote) == 0 {
		s.log.Info("Remote mailbox is empty")
		return out, nil
	}

	sizes, err := sess.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("Could not list message sizes: %w", err)
	}

	known, err := s.store.KnownIdentifiers(ctx, s.opts.Mailbox)
	if err != nil {
		return nil, fmt.Errorf("Could not load stored identifiers: %w", err)
	}

	pending := Diff(remote, known)
	s.log.Info("Computed new messages", zap.Int("remote", len(remote)), zap.Int("new", len(pending)))

	for i, batch := range batches(pending, s.opts.BatchSize) {
		s.log.Debug("Fetching batch", zap.Int("batch", i+1), zap.Int("messages", len(batch)))
		for _, p := range batch {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("Sync interrupted: %w", err)
			}
			log := s.log.With(zap.Int("msg", p.Number), zap.String("uidl", p.UIDL))
			if err := s.transfer(ctx, sess, p, sizes[p.Number]); err != nil {
				if pop3.IsKind(err, pop3.ErrConnection) {
					return nil, fmt.Errorf("Could not fetch messages: %w", err)
				}
				log.Error("Failed to store message", zap.Error(err))
				out.Failures = append(out.Failures, Failure{Number: p.Number, UIDL: p.UIDL, Err: err})
				continue
			}
			log.Debug("Stored message")
			out.New++
		}
	}

	s.log.Info("Sync complete", zap.Int("new", out.New), zap.Int("failures", len(out.Failures)))
	return out, nil
}

func (s *Syncer) transfer(ctx context.Context, sess Session, p Pending, size int64) error {
	raw, err := sess.Retrieve(ctx, p.Number)
	if err != nil {
		return fmt.Errorf("Failed to retrieve message: %w", err)
	}
	h, err := s.parser.Parse(raw)
	if err != nil {
		return fmt.Errorf("Failed to parse message: %w", err)
	}
	rec := NewRecord(s.opts.Mailbox, p.UIDL, raw, h, size, s.opts.Now())
	if err := s.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("Failed to store message: %w", err)
	}
	return nil
}
