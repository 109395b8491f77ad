// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package main

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"src.bluestatic.org/popmirror/pkg/config"
	"src.bluestatic.org/popmirror/pkg/mirror"
	"src.bluestatic.org/popmirror/pkg/pop3"
)

type accountStat struct {
	Greeting string
	Remote   pop3.MailboxStat
	Listed   int
	New      int
	Stored   int
}

func statAccount(ctx context.Context, a *app, name string, w io.Writer) error {
	acct, ok := a.config.Account(name)
	if !ok {
		return fmt.Errorf("Unknown account %q", name)
	}
	st, err := collectStat(ctx, a, acct)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %s\n", acct.Name, st.Greeting)
	fmt.Fprintf(w, "  remote: %d messages, %d octets (%d listed)\n", st.Remote.Count, st.Remote.Size, st.Listed)
	fmt.Fprintf(w, "  local %s: %d stored, %d not yet mirrored\n", acct.Mailbox, st.Stored, st.New)
	return nil
}

func collectStat(ctx context.Context, a *app, acct config.Account) (*accountStat, error) {
	creds, err := a.creds.Resolve(ctx, acct.Name)
	if err != nil {
		return nil, err
	}
	c, err := pop3.NewClient(acct.ServerConfig(), a.log.With(zap.String("account", acct.Name)))
	if err != nil {
		return nil, err
	}
	defer c.Disconnect()

	mb, err := c.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		return nil, err
	}

	st := &accountStat{Greeting: c.Greeting()}
	if st.Remote, err = mb.Stat(ctx); err != nil {
		return nil, err
	}
	sizes, err := mb.List(ctx)
	if err != nil {
		return nil, err
	}
	st.Listed = len(sizes)
	uids, err := mb.UniqueIDs(ctx)
	if err != nil {
		return nil, err
	}

	known, err := a.store.KnownIdentifiers(ctx, acct.Mailbox)
	if err != nil {
		return nil, err
	}
	st.New = len(mirror.Diff(uids, known))
	if st.Stored, err = a.store.Count(ctx, acct.Mailbox); err != nil {
		return nil, err
	}
	return st, nil
}
