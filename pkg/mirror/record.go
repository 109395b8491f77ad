// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package mirror

import (
	"hash/fnv"
	"time"

	"src.bluestatic.org/popmirror/pkg/mime"
)

// Flags are the client-side message flags. POP3 has no flags, so a new
// Record has them all unset.
type Flags struct {
	Seen     bool
	Answered bool
	Flagged  bool
	Deleted  bool
	Draft    bool
}

// Record is a stored copy of one remote message.
type Record struct {
	// Key is derived from (Mailbox, UIDL) by RecordKey. Stores index it, but
	// duplicates are detected on (Mailbox, UIDL) itself.
	Key     int64
	Mailbox string
	UIDL    string

	Subject    string
	From       []string
	To         []string
	Cc         []string
	Date       time.Time
	MessageID  string
	InReplyTo  string
	References []string

	// Size is the size reported by LIST, or len(Raw) if the server did not
	// list the message.
	Size int64
	Raw  []byte

	Flags     Flags
	FetchedAt time.Time
}

// RecordKey is the 64-bit FNV-1a hash of mailbox and uidl, cleared of its sign
// bit. Distinct pairs can collide.
func RecordKey(mailbox, uidl string) int64 {
	h := fnv.New64a()
	h.Write([]byte(mailbox))
	h.Write([]byte{0})
	h.Write([]byte(uidl))
	return int64(h.Sum64() &^ (1 << 63))
}

// NewRecord builds the Record for a retrieved message. A message without a
// usable Date is dated now.
func NewRecord(mailbox, uidl string, raw []byte, h mime.Header, size int64, now time.Time) *Record {
	date := h.Date
	if date.IsZero() {
		date = now
	}
	if size <= 0 {
		size = int64(len(raw))
	}
	return &Record{
		Key:        RecordKey(mailbox, uidl),
		Mailbox:    mailbox,
		UIDL:       uidl,
		Subject:    h.Subject,
		From:       h.From,
		To:         h.To,
		Cc:         h.Cc,
		Date:       date,
		MessageID:  h.MessageID,
		InReplyTo:  h.InReplyTo,
		References: h.References,
		Size:       size,
		Raw:        raw,
		FetchedAt:  now,
	}
}
