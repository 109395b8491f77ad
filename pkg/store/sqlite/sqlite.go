// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package sqlite stores message records in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"src.bluestatic.org/popmirror/pkg/mirror"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	msg_key INTEGER NOT NULL UNIQUE,
	mailbox TEXT NOT NULL,
	uidl TEXT NOT NULL,
	subject TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL DEFAULT '',
	recipients TEXT NOT NULL DEFAULT '',
	cc TEXT NOT NULL DEFAULT '',
	date_sent TEXT NOT NULL,
	message_id TEXT NOT NULL DEFAULT '',
	in_reply_to TEXT NOT NULL DEFAULT '',
	refs TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	raw_message BLOB NOT NULL,
	flags TEXT NOT NULL DEFAULT '',
	fetched_at TEXT NOT NULL,
	UNIQUE(mailbox, uidl)
);
CREATE INDEX IF NOT EXISTS messages_mailbox ON messages (mailbox);
`

// addressSep joins address lists. A display name may contain a comma, so a
// newline is used.
const addressSep = "\n"

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens or creates the database at path.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("Failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to create schema: %w", err)
	}
	log.Debug("Opened message database", zap.String("path", path))
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) KnownIdentifiers(ctx context.Context, mailbox string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT uidl FROM messages WHERE mailbox = ?", mailbox)
	if err != nil {
		return nil, fmt.Errorf("Failed to query identifiers: %w", err)
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var uidl string
		if err := rows.Scan(&uidl); err != nil {
			return nil, fmt.Errorf("Failed to read identifier: %w", err)
		}
		known[uidl] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Failed to read identifiers: %w", err)
	}
	return known, nil
}

// Insert adds rec with a single INSERT. A record whose (Mailbox, UIDL) is
// already stored fails with mirror.ErrDuplicate; one whose Key is held by a
// different message fails with mirror.ErrKeyCollision.
func (s *Store) Insert(ctx context.Context, rec *mirror.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (msg_key, mailbox, uidl, subject, sender, recipients, cc,
			date_sent, message_id, in_reply_to, refs, size, raw_message, flags, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Key, rec.Mailbox, rec.UIDL, rec.Subject,
		strings.Join(rec.From, addressSep),
		strings.Join(rec.To, addressSep),
		strings.Join(rec.Cc, addressSep),
		rec.Date.UTC().Format(time.RFC3339),
		rec.MessageID, rec.InReplyTo,
		strings.Join(rec.References, " "),
		rec.Size, rec.Raw,
		formatFlags(rec.Flags),
		rec.FetchedAt.UTC().Format(time.RFC3339))
	if err == nil {
		return nil
	}

	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		if s.exists(ctx, rec.Mailbox, rec.UIDL) {
			return fmt.Errorf("%w: %s", mirror.ErrDuplicate, rec.UIDL)
		}
		s.log.Warn("Record key collision",
			zap.String("mailbox", rec.Mailbox),
			zap.String("uidl", rec.UIDL),
			zap.Int64("key", rec.Key))
		return fmt.Errorf("%w: %s", mirror.ErrKeyCollision, rec.UIDL)
	}
	return fmt.Errorf("Failed to insert message: %w", err)
}

func (s *Store) exists(ctx context.Context, mailbox, uidl string) bool {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE mailbox = ? AND uidl = ?", mailbox, uidl).Scan(&n)
	return err == nil && n > 0
}

// Count returns the number of messages stored for mailbox.
func (s *Store) Count(ctx context.Context, mailbox string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE mailbox = ?", mailbox).Scan(&n); err != nil {
		return 0, fmt.Errorf("Failed to count messages: %w", err)
	}
	return n, nil
}

// Get returns the stored record for (mailbox, uidl), or sql.ErrNoRows.
func (s *Store) Get(ctx context.Context, mailbox, uidl string) (*mirror.Record, error) {
	var (
		rec                       mirror.Record
		from, to, cc, refs, flags string
		dateSent, fetchedAt       string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT msg_key, mailbox, uidl, subject, sender, recipients, cc, date_sent,
			message_id, in_reply_to, refs, size, raw_message, flags, fetched_at
		FROM messages WHERE mailbox = ? AND uidl = ?`, mailbox, uidl).Scan(
		&rec.Key, &rec.Mailbox, &rec.UIDL, &rec.Subject, &from, &to, &cc, &dateSent,
		&rec.MessageID, &rec.InReplyTo, &refs, &rec.Size, &rec.Raw, &flags, &fetchedAt)
	if err != nil {
		return nil, err
	}
	rec.From = split(from, addressSep)
	rec.To = split(to, addressSep)
	rec.Cc = split(cc, addressSep)
	rec.References = split(refs, " ")
	rec.Flags = parseFlags(flags)
	rec.Date, _ = time.Parse(time.RFC3339, dateSent)
	rec.FetchedAt, _ = time.Parse(time.RFC3339, fetchedAt)
	return &rec, nil
}

func split(s, sep string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, sep)
}

var flagNames = []string{`\Seen`, `\Answered`, `\Flagged`, `\Deleted`, `\Draft`}

func flagValues(f *mirror.Flags) []*bool {
	return []*bool{&f.Seen, &f.Answered, &f.Flagged, &f.Deleted, &f.Draft}
}

func formatFlags(f mirror.Flags) string {
	var set []string
	for i, v := range flagValues(&f) {
		if *v {
			set = append(set, flagNames[i])
		}
	}
	return strings.Join(set, " ")
}

func parseFlags(s string) mirror.Flags {
	var f mirror.Flags
	values := flagValues(&f)
	for _, name := range strings.Fields(s) {
		for i, n := range flagNames {
			if name == n {
				*values[i] = true
			}
		}
	}
	return f
}
