// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package mbox stores messages in one mbox file per mailbox. Each message
// carries its UIDL in an X-Popmirror-UIDL header so that the set of stored
// identifiers can be rebuilt by scanning the file.
package mbox

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/emersion/go-mbox"
	"github.com/emersion/go-message/textproto"
	"go.uber.org/zap"

	"src.bluestatic.org/popmirror/pkg/mirror"
)

const UIDLHeader = "X-Popmirror-UIDL"

type Store struct {
	dir string
	log *zap.Logger

	mu sync.Mutex
}

// Open uses dir for mailbox files, creating it if needed.
func Open(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("Failed to create mbox directory: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) Close() error { return nil }

// Path returns the mbox file that holds mailbox.
func (s *Store) Path(mailbox string) string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			return r
		}
		return '_'
	}, mailbox)
	return filepath.Join(s.dir, name+".mbox")
}

func (s *Store) KnownIdentifiers(ctx context.Context, mailbox string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := make(map[string]struct{})
	err := s.scan(mailbox, func(h textproto.Header) error {
		if uidl := h.Get(UIDLHeader); uidl != "" {
			known[uidl] = struct{}{}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, err
	}
	return known, nil
}

// Count returns the number of messages in mailbox's file.
func (s *Store) Count(ctx context.Context, mailbox string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	err := s.scan(mailbox, func(textproto.Header) error {
		n++
		return ctx.Err()
	})
	return n, err
}

func (s *Store) scan(mailbox string, fn func(textproto.Header) error) error {
	f, err := os.Open(s.Path(mailbox))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("Failed to open mbox: %w", err)
	}
	defer f.Close()

	r := mbox.NewReader(f)
	for {
		mr, err := r.NextMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("Failed to read mbox: %w", err)
		}
		h, err := textproto.ReadHeader(bufio.NewReader(mr))
		if err != nil {
			return fmt.Errorf("Failed to read stored message header: %w", err)
		}
		if err := fn(h); err != nil {
			return err
		}
	}
}

// Insert appends rec to its mailbox file in one write. If the write fails the
// file is truncated back to its previous length.
func (s *Store) Insert(ctx context.Context, rec *mirror.Record) error {
	if strings.ContainsAny(rec.UIDL, "\r\n") {
		return fmt.Errorf("UIDL %q cannot be stored in a header", rec.UIDL)
	}

	var buf bytes.Buffer
	w := mbox.NewWriter(&buf)
	mw, err := w.CreateMessage(envelopeSender(rec), rec.FetchedAt)
	if err != nil {
		return fmt.Errorf("Failed to create mbox message: %w", err)
	}
	fmt.Fprintf(mw, "%s: %s\n", UIDLHeader, rec.UIDL)
	if _, err := mw.Write(bytes.ReplaceAll(rec.Raw, []byte("\r\n"), []byte("\n"))); err != nil {
		return fmt.Errorf("Failed to write mbox message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("Failed to write mbox message: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	f, err := os.OpenFile(s.Path(rec.Mailbox), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("Failed to open mbox: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("Failed to stat mbox: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		if terr := f.Truncate(fi.Size()); terr != nil {
			s.log.Error("Failed to roll back partial mbox write",
				zap.String("path", f.Name()), zap.Error(terr))
		}
		return fmt.Errorf("Failed to append to mbox: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("Failed to sync mbox: %w", err)
	}
	return nil
}

// envelopeSender is the address on the mbox "From " separator line.
func envelopeSender(rec *mirror.Record) string {
	if len(rec.From) > 0 {
		if addr, err := mail.ParseAddress(rec.From[0]); err == nil {
			return addr.Address
		}
	}
	return "MAILER-DAEMON"
}
