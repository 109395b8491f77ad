// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package mirror

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"src.bluestatic.org/popmirror/pkg/credentials"
	"src.bluestatic.org/popmirror/pkg/mime"
	"src.bluestatic.org/popmirror/pkg/pop3"
)

var (
	// ErrDuplicate is returned by a Store when (Mailbox, UIDL) is already
	// stored.
	ErrDuplicate = errors.New("Message is already stored")

	// ErrKeyCollision is returned by a Store when a different (Mailbox, UIDL)
	// already holds the record's Key.
	ErrKeyCollision = errors.New("Record key collides with another message")
)

// Store is the local message storage. Implementations must be safe for
// concurrent use by passes over different accounts.
type Store interface {
	// KnownIdentifiers returns every UIDL stored for mailbox.
	KnownIdentifiers(ctx context.Context, mailbox string) (map[string]struct{}, error)

	// Insert stores rec. A record is either fully stored or not at all.
	Insert(ctx context.Context, rec *Record) error
}

type Parser interface {
	Parse(raw []byte) (mime.Header, error)
}

// Session is an authenticated mailbox. *pop3.Mailbox implements it.
type Session interface {
	Stat(ctx context.Context) (pop3.MailboxStat, error)
	List(ctx context.Context) (map[int]int64, error)
	UniqueIDs(ctx context.Context) (map[int]string, error)
	Retrieve(ctx context.Context, msg int) ([]byte, error)
	Disconnect()
}

// Connector opens a Session. If Open fails, no connection is left open.
type Connector interface {
	Open(ctx context.Context) (Session, error)
}

// POP3Connector logs in to a POP3 server with credentials resolved for
// Account.
type POP3Connector struct {
	Account     string
	Server      pop3.ServerConfig
	Credentials credentials.Provider
	Log         *zap.Logger
}

func (pc *POP3Connector) Open(ctx context.Context) (Session, error) {
	creds, err := pc.Credentials.Resolve(ctx, pc.Account)
	if err != nil {
		return nil, err
	}
	c, err := pop3.NewClient(pc.Server, pc.Log)
	if err != nil {
		return nil, err
	}
	mb, err := c.Login(ctx, creds.Username, creds.Password)
	if err != nil {
		c.Disconnect()
		return nil, err
	}
	return mb, nil
}
