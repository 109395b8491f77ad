// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package mime extracts the header fields a stored message record needs from
// a raw RFC 5322 message.
package mime

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
)

// Header is the subset of message headers that is recorded. Missing or
// unparseable fields are left empty; Date is zero in that case.
type Header struct {
	Subject    string
	From       []string
	To         []string
	Cc         []string
	Date       time.Time
	MessageID  string
	InReplyTo  string
	References []string
}

type Parser struct {
	log *zap.Logger
}

func NewParser(log *zap.Logger) *Parser {
	return &Parser{log: log}
}

// Parse reads the header block of raw. Only a header block that cannot be
// read at all is an error; individual bad fields fall back to defaults.
func (p *Parser) Parse(raw []byte) (Header, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if entity == nil {
		return Header{}, fmt.Errorf("Failed to read message header: %w", err)
	}
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return Header{}, fmt.Errorf("Failed to read message header: %w", err)
	}

	h := mail.Header{Header: entity.Header}
	var out Header

	if out.Subject, err = h.Subject(); err != nil {
		p.log.Debug("Undecodable Subject", zap.Error(err))
		out.Subject = h.Get("Subject")
	}
	out.From = p.addresses(&h, "From")
	out.To = p.addresses(&h, "To")
	out.Cc = p.addresses(&h, "Cc")

	if h.Has("Date") {
		if out.Date, err = h.Date(); err != nil {
			p.log.Debug("Unparseable Date", zap.String("date", h.Get("Date")), zap.Error(err))
			out.Date = time.Time{}
		}
	}

	if id, err := h.MessageID(); err == nil {
		out.MessageID = id
	}
	if ids, err := h.MsgIDList("In-Reply-To"); err == nil && len(ids) > 0 {
		out.InReplyTo = ids[0]
	}
	if ids, err := h.MsgIDList("References"); err == nil {
		out.References = ids
	}
	return out, nil
}

func (p *Parser) addresses(h *mail.Header, key string) []string {
	if !h.Has(key) {
		return nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		// Keep the raw value rather than lose the participant.
		p.log.Debug("Unparseable address list", zap.String("field", key), zap.Error(err))
		if v := strings.TrimSpace(h.Get(key)); v != "" {
			return []string{v}
		}
		return nil
	}
	out := make([]string, 0, len(list))
	for _, addr := range list {
		if addr.Name != "" {
			out = append(out, fmt.Sprintf("%s <%s>", addr.Name, addr.Address))
		} else {
			out = append(out, addr.Address)
		}
	}
	return out
}
