// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure so callers can branch on it without knowing
// which layer produced it.
type ErrorKind int

const (
	// ErrUnknown is reported by KindOf for errors that did not come from this
	// package.
	ErrUnknown ErrorKind = iota
	// ErrConnection is a transport failure: DNS, refused, timeout, certificate
	// rejection or an unexpected close.
	ErrConnection
	// ErrProtocol is a reply that violates the expected framing, or a negative
	// reply to a command outside of authentication.
	ErrProtocol
	// ErrAuth is a negative reply to USER or PASS.
	ErrAuth
	// ErrConfiguration is a precondition the caller must fix before retrying.
	ErrConfiguration
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConnection:
		return "connection"
	case ErrProtocol:
		return "protocol"
	case ErrAuth:
		return "auth"
	case ErrConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by the client.
type Error struct {
	Kind ErrorKind
	// Op is the command or step that failed, e.g. "RETR" or "dial".
	Op string
	// Reply is the text of a negative server reply, if there was one.
	Reply string
	Err   error

	negative bool
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("pop3 %s error", e.Kind)
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.negative {
		msg += ": Server error: " + e.Reply
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the ErrorKind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func connectionError(op string, err error) *Error {
	return &Error{Kind: ErrConnection, Op: op, Err: err}
}

func protocolError(op string, format string, args ...any) *Error {
	return &Error{Kind: ErrProtocol, Op: op, Err: fmt.Errorf(format, args...)}
}

// ConfigError builds an ErrConfiguration error. It is exported so that
// collaborators resolving credentials or settings report the same kind.
func ConfigError(format string, args ...any) *Error {
	return &Error{Kind: ErrConfiguration, Err: fmt.Errorf(format, args...)}
}
