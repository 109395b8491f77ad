// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"src.bluestatic.org/popmirror/pkg/config"
	"src.bluestatic.org/popmirror/pkg/credentials"
	"src.bluestatic.org/popmirror/pkg/metrics"
	"src.bluestatic.org/popmirror/pkg/mime"
	"src.bluestatic.org/popmirror/pkg/mirror"
	"src.bluestatic.org/popmirror/pkg/store/mbox"
	"src.bluestatic.org/popmirror/pkg/store/sqlite"
	"src.bluestatic.org/popmirror/pkg/version"
)

type localStore interface {
	mirror.Store
	Count(ctx context.Context, mailbox string) (int, error)
	Close() error
}

type rootOptions struct {
	configPath     string
	promptPassword bool
}

// app is everything the commands share: the loaded config, the logger and
// the open local store.
type app struct {
	config  *config.Config
	log     *zap.Logger
	store   localStore
	creds   credentials.Provider
	parser  *mime.Parser
	metrics *metrics.Metrics
}

// newApp loads the config and opens the store. With a nil reg no metrics
// are recorded.
func newApp(opts *rootOptions, reg prometheus.Registerer) (*app, error) {
	c, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	log, err := newLogger(c.Log)
	if err != nil {
		return nil, fmt.Errorf("Failed to create logger: %w", err)
	}
	log.Info("Starting popmirror", zap.String("version", version.String()))

	store, err := openStore(c.Store, log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	a := &app{
		config: c,
		log:    log,
		store:  store,
		creds:  c.Credentials(),
		parser: mime.NewParser(log),
	}
	if opts.promptPassword {
		a.creds = credentials.NewPrompt(c.Credentials(), os.Stderr)
	}
	if reg != nil {
		a.metrics = metrics.New(reg)
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("Failed to close store", zap.Error(err))
	}
	a.log.Sync()
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	logConfig := zap.NewDevelopmentConfig()
	if c.Format == "json" {
		logConfig = zap.NewProductionConfig()
	}
	logConfig.Development = false
	logConfig.DisableStacktrace = true

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return nil, err
	}
	logConfig.Level.SetLevel(level)
	return logConfig.Build()
}

func openStore(c config.StoreConfig, log *zap.Logger) (localStore, error) {
	var (
		store localStore
		err   error
	)
	switch c.Type {
	case config.StoreSQLite:
		store, err = sqlite.Open(c.Path, log)
	case config.StoreMbox:
		store, err = mbox.Open(c.Path, log)
	default:
		err = fmt.Errorf("Unknown store type %q", c.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// accounts returns the named accounts, or all of them if names is empty.
func (a *app) accounts(names []string) ([]config.Account, error) {
	if len(names) == 0 {
		return a.config.Accounts, nil
	}
	var out []config.Account
	for _, name := range names {
		acct, ok := a.config.Account(name)
		if !ok {
			return nil, fmt.Errorf("Unknown account %q", name)
		}
		out = append(out, acct)
	}
	return out, nil
}

func (a *app) connector(acct config.Account) *mirror.POP3Connector {
	return &mirror.POP3Connector{
		Account:     acct.Name,
		Server:      acct.ServerConfig(),
		Credentials: a.creds,
		Log:         a.log.With(zap.String("account", acct.Name)),
	}
}

func (a *app) syncer(acct config.Account) *mirror.Syncer {
	return mirror.NewSyncer(a.connector(acct), a.store, a.parser, mirror.Options{
		Account:   acct.Name,
		Mailbox:   acct.Mailbox,
		BatchSize: acct.BatchSize,
		Metrics:   a.metrics,
	}, a.log)
}
