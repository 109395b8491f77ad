// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import (
	"context"
	"crypto/tls"
	"net"
	"net/textproto"
	"strconv"
	"sync"
	"time"
)

// SecurityMode selects how the connection to the server is encrypted.
type SecurityMode string

const (
	// SecurityPlain never encrypts.
	SecurityPlain SecurityMode = "plain"
	// SecurityImplicitTLS wraps the socket in TLS before the greeting.
	SecurityImplicitTLS SecurityMode = "implicit-tls"
	// SecurityStartTLS reads the greeting in plaintext and then upgrades with STLS.
	SecurityStartTLS SecurityMode = "starttls"
)

// DefaultTimeout bounds every read and write when ServerConfig.Timeout is unset.
const DefaultTimeout = 60 * time.Second

// ServerConfig describes one POP3 server. It is copied into the Client and
// must not be changed afterwards.
type ServerConfig struct {
	Host     string
	Port     int
	Security SecurityMode

	// TLSConfig is used for implicit TLS and STLS. Peer and hostname
	// verification are always on unless this config explicitly disables them.
	// ServerName defaults to Host.
	TLSConfig *tls.Config

	// Timeout is applied to the dial and to every line read or written.
	Timeout time.Duration
}

func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c ServerConfig) Validate() error {
	if c.Host == "" {
		return ConfigError("Missing server host")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return ConfigError("Invalid server port %d", c.Port)
	}
	switch c.Security {
	case SecurityPlain, SecurityImplicitTLS, SecurityStartTLS:
	default:
		return ConfigError("Unsupported security mode %q", c.Security)
	}
	if c.Timeout < 0 {
		return ConfigError("Invalid timeout %s", c.Timeout)
	}
	return nil
}

func (c ServerConfig) timeout() time.Duration {
	if c.Timeout == 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c ServerConfig) tlsConfig() *tls.Config {
	var config *tls.Config
	if c.TLSConfig != nil {
		config = c.TLSConfig.Clone()
	} else {
		config = &tls.Config{}
	}
	if config.ServerName == "" {
		config.ServerName = c.Host
	}
	return config
}

// transport is a single line-oriented connection with a bounded timeout on
// every operation. It knows nothing about POP3.
type transport struct {
	// raw is the socket as dialed. nc is the same socket, possibly wrapped in
	// TLS.
	raw     net.Conn
	nc      net.Conn
	tp      *textproto.Conn
	timeout time.Duration

	closeOnce sync.Once
}

func dial(ctx context.Context, config ServerConfig) (*transport, error) {
	d := &net.Dialer{Timeout: config.timeout()}

	var nc net.Conn
	var err error
	if config.Security == SecurityImplicitTLS {
		td := &tls.Dialer{NetDialer: d, Config: config.tlsConfig()}
		nc, err = td.DialContext(ctx, "tcp", config.Addr())
	} else {
		nc, err = d.DialContext(ctx, "tcp", config.Addr())
	}
	if err != nil {
		return nil, connectionError("dial", err)
	}
	return newTransport(nc, config.timeout()), nil
}

func newTransport(nc net.Conn, timeout time.Duration) *transport {
	return &transport{
		raw:     nc,
		nc:      nc,
		tp:      textproto.NewConn(nc),
		timeout: timeout,
	}
}

// upgrade performs a TLS client handshake over the open plaintext connection.
func (t *transport) upgrade(ctx context.Context, config *tls.Config) error {
	tc := tls.Client(t.nc, config)
	t.nc.SetDeadline(time.Now().Add(t.timeout))
	if err := tc.HandshakeContext(ctx); err != nil {
		return connectionError("tls handshake", err)
	}
	t.nc.SetDeadline(time.Time{})
	t.nc = tc
	t.tp = textproto.NewConn(tc)
	return nil
}

func (t *transport) isTLS() bool {
	_, ok := t.nc.(*tls.Conn)
	return ok
}

// readLine returns one line without its terminator.
func (t *transport) readLine() (string, error) {
	t.nc.SetReadDeadline(time.Now().Add(t.timeout))
	line, err := t.tp.ReadLine()
	if err != nil {
		return "", connectionError("read", err)
	}
	return line, nil
}

// writeLine sends line followed by CRLF.
func (t *transport) writeLine(line string) error {
	t.nc.SetWriteDeadline(time.Now().Add(t.timeout))
	if err := t.tp.PrintfLine("%s", line); err != nil {
		return connectionError("write", err)
	}
	return nil
}

func (t *transport) remoteAddr() net.Addr {
	return t.raw.RemoteAddr()
}

// close is idempotent and never fails.
func (t *transport) close() {
	t.closeOnce.Do(func() {
		t.nc.Close()
		t.raw.Close()
	})
}

// abort closes the socket from another goroutine to unblock pending I/O.
func (t *transport) abort() {
	t.raw.Close()
}
