// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"src.bluestatic.org/popmirror/pkg/pop3"
	"src.bluestatic.org/popmirror/pkg/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(exitCode(err))
	}
}

// exitCode maps the error kinds to distinct statuses for scripts.
func exitCode(err error) int {
	switch pop3.KindOf(err) {
	case pop3.ErrConfiguration:
		return 2
	case pop3.ErrAuth:
		return 3
	case pop3.ErrConnection, pop3.ErrProtocol:
		return 4
	}
	return 1
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:          "popmirror",
		Short:        "Mirror POP3 mailboxes into local storage without deleting anything",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "popmirror.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&opts.promptPassword, "prompt-password", false, "Prompt for passwords the configuration does not provide")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "sync [account...]",
			Short: "Run one pass for each account and exit",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runSync(cmd, opts, args)
			},
		},
		&cobra.Command{
			Use:   "run",
			Short: "Poll every account at its poll interval until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runMonitors(cmd, opts)
			},
		},
		&cobra.Command{
			Use:   "stat [account...]",
			Short: "Show remote and stored message counts",
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStat(cmd, opts, args)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Args:  cobra.NoArgs,
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return rootCmd
}

// runSync runs the accounts' passes concurrently. Every pass runs to
// completion; the first fatal error is returned.
func runSync(cmd *cobra.Command, opts *rootOptions, names []string) error {
	a, err := newApp(opts, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.accounts(names)
	if err != nil {
		return err
	}

	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	for _, acct := range accounts {
		g.Go(func() error {
			out, err := a.syncer(acct).Sync(cmd.Context())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", acct.Name, err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d new, %d failed\n", acct.Name, out.New, len(out.Failures))
			return nil
		})
	}
	return g.Wait()
}

func runMonitors(cmd *cobra.Command, opts *rootOptions) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a, err := newApp(opts, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(cmd.Context())

	if addr := a.config.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsHandler(reg)}
		g.Go(func() error {
			a.log.Info("Serving metrics", zap.String("address", addr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("Metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	for _, acct := range a.config.Accounts {
		m := NewMonitor(acct.Name, acct.PollInterval, a.syncer(acct), a.log)
		g.Go(func() error {
			return m.Run(ctx)
		})
	}

	err = g.Wait()
	if err != nil {
		a.log.Error("Stopped", zap.Error(err))
	}
	return err
}

func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

// runStat logs in to each account, reports STAT and LIST, and compares with
// the local store. Nothing is fetched.
func runStat(cmd *cobra.Command, opts *rootOptions, names []string) error {
	a, err := newApp(opts, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	accounts, err := a.accounts(names)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	w := cmd.OutOrStdout()
	for _, acct := range accounts {
		if err := statAccount(ctx, a, acct.Name, w); err != nil {
			return fmt.Errorf("%s: %w", acct.Name, err)
		}
	}
	return nil
}
