// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// maxPreallocate caps how much of a RETR reply's advertised size is
// allocated up front.
const maxPreallocate = 32 << 20

// Mailbox is the set of TRANSACTION-state commands of an authenticated
// Client. None of them modify the maildrop: there is no DELE.
type Mailbox struct {
	c *Client
}

// MailboxStat is the reply to STAT.
type MailboxStat struct {
	Count int
	Size  int64
}

// Client returns the connection this Mailbox runs on.
func (mb *Mailbox) Client() *Client { return mb.c }

// Disconnect ends the session. See Client.Disconnect.
func (mb *Mailbox) Disconnect() { mb.c.Disconnect() }

// begin locks the client for one command and arranges for the socket to be
// closed if ctx is cancelled mid-command.
func (mb *Mailbox) begin(ctx context.Context, op string) (func(), error) {
	mb.c.mu.Lock()
	if err := mb.c.requireAuth(op); err != nil {
		mb.c.mu.Unlock()
		return nil, err
	}
	stop := mb.c.watch(ctx)
	return func() {
		stop()
		mb.c.mu.Unlock()
	}, nil
}

func (mb *Mailbox) Stat(ctx context.Context) (MailboxStat, error) {
	end, err := mb.begin(ctx, "STAT")
	if err != nil {
		return MailboxStat{}, err
	}
	defer end()

	reply, err := mb.c.transaction(ctx, "STAT")
	if err != nil {
		return MailboxStat{}, err
	}
	var stat MailboxStat
	n, err := fmt.Sscanf(reply, "%d %d", &stat.Count, &stat.Size)
	if n != 2 || err != nil || stat.Count < 0 || stat.Size < 0 {
		return MailboxStat{}, protocolError("STAT", "Bad STAT reply: %q", reply)
	}
	return stat, nil
}

// List returns the size in octets of every message, keyed by message number.
// Lines that are not "<number> <size>" are skipped.
func (mb *Mailbox) List(ctx context.Context) (map[int]int64, error) {
	end, err := mb.begin(ctx, "LIST")
	if err != nil {
		return nil, err
	}
	defer end()

	if _, err := mb.c.transaction(ctx, "LIST"); err != nil {
		return nil, err
	}
	sizes := make(map[int]int64)
	err = mb.c.readDotLines(ctx, "LIST", func(line string) error {
		id, size, ok := parseListLine(line)
		if !ok {
			mb.c.log.Debug("Skipping bad LIST line", zap.String("line", line))
			return nil
		}
		sizes[id] = size
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sizes, nil
}

func parseListLine(line string) (int, int64, bool) {
	var id int
	var size int64
	n, err := fmt.Sscanf(line, "%d %d", &id, &size)
	if n != 2 || err != nil || id < 1 || size < 0 {
		return 0, 0, false
	}
	return id, size, true
}

// UniqueIDs returns the UIDL token of every message, keyed by message number.
// The first field, up to any whitespace, is the number; the rest of the line,
// trimmed, is the token. Lines that do not fit are skipped.
func (mb *Mailbox) UniqueIDs(ctx context.Context) (map[int]string, error) {
	end, err := mb.begin(ctx, "UIDL")
	if err != nil {
		return nil, err
	}
	defer end()

	if _, err := mb.c.transaction(ctx, "UIDL"); err != nil {
		return nil, err
	}
	uids := make(map[int]string)
	err = mb.c.readDotLines(ctx, "UIDL", func(line string) error {
		id, uid, ok := parseUIDLLine(line)
		if !ok {
			mb.c.log.Debug("Skipping bad UIDL line", zap.String("line", line))
			return nil
		}
		uids[id] = uid
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uids, nil
}

func parseUIDLLine(line string) (int, string, bool) {
	line = strings.TrimSpace(line)
	num, rest := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		num, rest = line[:i], line[i:]
	}
	id, err := strconv.Atoi(num)
	if err != nil || id < 1 {
		return 0, "", false
	}
	uid := strings.TrimSpace(rest)
	if uid == "" {
		return 0, "", false
	}
	return id, uid, true
}

// Retrieve fetches message msg with RETR. Payload lines are unstuffed and
// rejoined with CRLF, whatever line endings the server used, and the result
// ends with CRLF.
func (mb *Mailbox) Retrieve(ctx context.Context, msg int) ([]byte, error) {
	if msg < 1 {
		return nil, protocolError("RETR", "Invalid message number %d", msg)
	}
	end, err := mb.begin(ctx, "RETR")
	if err != nil {
		return nil, err
	}
	defer end()

	reply, err := mb.c.transaction(ctx, "RETR %d", msg)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	// Most servers reply "+OK <octets> octets".
	if size, _, _ := strings.Cut(reply, " "); size != "" {
		if n, err := strconv.Atoi(size); err == nil && n > 0 && n <= maxPreallocate {
			buf.Grow(n)
		}
	}
	err = mb.c.readDotLines(ctx, "RETR", func(line string) error {
		buf.WriteString(line)
		buf.WriteString("\r\n")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Noop sends NOOP to keep the session alive.
func (mb *Mailbox) Noop(ctx context.Context) error {
	end, err := mb.begin(ctx, "NOOP")
	if err != nil {
		return err
	}
	defer end()

	_, err = mb.c.transaction(ctx, "NOOP")
	return err
}
