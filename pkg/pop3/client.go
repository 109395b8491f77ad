// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package pop3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the lifecycle of a Client. It only moves forward, and StateClosed
// is terminal.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	errClosed        = errors.New("Client is closed")
	errNotAuth       = errors.New("Mailbox is not open")
	errAlreadyOpen   = errors.New("Mailbox is already open")
	errNoTerminator  = errors.New("Missing multi-line terminator")
	errMissingSecret = errors.New("Missing password")
)

// Client speaks POP3 to one server over one connection. POP3 has no
// pipelining, so every call holds the Client for its full round trip,
// including any multi-line payload, and a second command is never sent
// before the previous reply has been consumed. Any I/O or framing failure
// closes the connection, since the reply stream can no longer be trusted.
//
// A Client is single-use: after Disconnect it cannot be reconnected.
type Client struct {
	config ServerConfig
	log    *zap.Logger

	mu       sync.Mutex
	t        *transport
	state    State
	greeting string
}

// NewClient validates the server configuration and returns a disconnected
// Client.
func NewClient(config ServerConfig, log *zap.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		log: log.With(zap.String("server", config.Addr()),
			zap.String("security", string(config.Security))),
	}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Greeting returns the text of the server's greeting, without the +OK.
func (c *Client) Greeting() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.greeting
}

// Connect dials the server and consumes the greeting. In STLS mode it also
// upgrades the connection to TLS. It is a no-op if already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	switch c.state {
	case StateConnected, StateAuthenticated:
		return nil
	case StateClosed:
		return connectionError("connect", errClosed)
	}

	t, err := dial(ctx, c.config)
	if err != nil {
		c.log.Error("Failed to connect", zap.Error(err))
		c.state = StateClosed
		return err
	}
	c.t = t
	c.log = c.log.With(zap.Stringer("address", t.remoteAddr()))

	stop := c.watch(ctx)
	defer stop()

	greeting, err := c.readReply(ctx, "greeting")
	if err != nil {
		c.log.Error("Bad server greeting", zap.Error(err))
		c.fail()
		return err
	}
	c.greeting = greeting

	if c.config.Security == SecurityStartTLS {
		if _, err := c.transaction(ctx, "STLS"); err != nil {
			c.fail()
			return err
		}
		if err := c.t.upgrade(ctx, c.config.tlsConfig()); err != nil {
			c.log.Error("Failed to upgrade connection", zap.Error(err))
			c.fail()
			return c.ioError(ctx, err)
		}
		c.log.Info("Upgraded connection to TLS")
	}

	c.state = StateConnected
	c.log.Info("Connected", zap.String("greeting", greeting))
	return nil
}

// Login connects if needed and authenticates with USER and PASS. A negative
// reply to either is an ErrAuth error. The returned Mailbox is valid until
// Disconnect.
func (c *Client) Login(ctx context.Context, user, pass string) (*Mailbox, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateAuthenticated {
		return nil, &Error{Kind: ErrProtocol, Op: "USER", Err: errAlreadyOpen}
	}
	if user == "" {
		return nil, ConfigError("Missing username")
	}
	if pass == "" {
		return nil, &Error{Kind: ErrConfiguration, Op: "PASS", Err: errMissingSecret}
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	stop := c.watch(ctx)
	defer stop()

	if _, err := c.transaction(ctx, "USER %s", user); err != nil {
		return nil, asAuthError(err)
	}
	if _, err := c.transaction(ctx, "PASS %s", pass); err != nil {
		return nil, asAuthError(err)
	}

	c.state = StateAuthenticated
	c.log.Info("Opened mailbox", zap.String("user", user))
	return &Mailbox{c: c}, nil
}

// quitTimeout bounds the QUIT exchange in Disconnect, whatever the
// configured Timeout.
var quitTimeout = 5 * time.Second

// Disconnect sends QUIT if a session is open, ignoring any failure of that
// exchange, and then closes the connection. It is safe to call in any state
// and any number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateConnected || c.state == StateAuthenticated {
		ctx, cancel := context.WithTimeout(context.Background(), quitTimeout)
		stop := c.watch(ctx)
		if _, err := c.transaction(ctx, "QUIT"); err != nil {
			c.log.Debug("QUIT failed", zap.Error(err))
		}
		stop()
		cancel()
	}
	if c.t != nil {
		c.t.close()
	}
	if c.state != StateClosed {
		c.log.Debug("Disconnected")
	}
	c.state = StateClosed
}

// watch closes the socket if ctx is done while a command is in flight.
func (c *Client) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, c.t.abort)
}

// fail drops a connection whose reply stream is no longer in a known state.
func (c *Client) fail() {
	if c.t != nil {
		c.t.close()
	}
	c.state = StateClosed
}

func (c *Client) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		var pe *Error
		op := ""
		if errors.As(err, &pe) {
			op = pe.Op
		}
		return connectionError(op, ctxErr)
	}
	return err
}

func (c *Client) requireAuth(op string) error {
	switch c.state {
	case StateAuthenticated:
		return nil
	case StateClosed:
		return connectionError(op, errClosed)
	default:
		return &Error{Kind: ErrProtocol, Op: op, Err: errNotAuth}
	}
}

// transaction sends one command and reads its status line. Only the command
// verb is logged, never its arguments.
func (c *Client) transaction(ctx context.Context, format string, args ...any) (string, error) {
	verb, _, _ := strings.Cut(format, " ")
	log := c.log.With(zap.String("command", verb))
	log.Debug("Sending transaction")

	if err := c.t.writeLine(fmt.Sprintf(format, args...)); err != nil {
		err = c.ioError(ctx, err)
		log.Error("Failed to send command", zap.Error(err))
		c.fail()
		return "", err
	}
	reply, err := c.readReply(ctx, verb)
	if err != nil {
		log.Error("Command failed", zap.Error(err))
		return "", err
	}
	log.Debug("Command succeeded", zap.String("reply", reply))
	return reply, nil
}

// readReply reads a status line and strips its +OK marker. A -ERR reply is an
// ErrProtocol error carrying the server text. Anything else is a framing
// violation and drops the connection.
func (c *Client) readReply(ctx context.Context, op string) (string, error) {
	line, err := c.t.readLine()
	if err != nil {
		c.fail()
		return "", withOp(c.ioError(ctx, err), op)
	}
	reply, err := parseReply(op, line)
	if err != nil {
		var pe *Error
		if errors.As(err, &pe) && !pe.negative {
			c.fail()
		}
		return "", err
	}
	return reply, nil
}

func parseReply(op, line string) (string, error) {
	if strings.HasPrefix(line, "+OK") {
		return strings.TrimPrefix(line[3:], " "), nil
	}
	if strings.HasPrefix(line, "-ERR") {
		return "", &Error{
			Kind:     ErrProtocol,
			Op:       op,
			Reply:    strings.TrimSpace(line[4:]),
			negative: true,
		}
	}
	return "", protocolError(op, "Unexpected server reply: %q", line)
}

// readDotLines reads a multi-line payload up to the lone "." terminator,
// passing each unstuffed line to fn. The payload is always read to the end,
// even after fn fails, so the next command starts on a clean reply. The first
// error from fn is returned.
func (c *Client) readDotLines(ctx context.Context, op string, fn func(line string) error) error {
	var fnErr error
	for {
		line, err := c.t.readLine()
		if err != nil {
			c.fail()
			eof := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
			if eof && ctx.Err() == nil {
				return &Error{Kind: ErrProtocol, Op: op, Err: errNoTerminator}
			}
			return withOp(c.ioError(ctx, err), op)
		}
		if line == "." {
			return fnErr
		}
		if fnErr == nil {
			fnErr = fn(unstuff(line))
		}
	}
}

// unstuff removes the single leading "." that the server adds to any payload
// line starting with ".".
func unstuff(line string) string {
	if strings.HasPrefix(line, ".") {
		return line[1:]
	}
	return line
}

func asAuthError(err error) error {
	var pe *Error
	if errors.As(err, &pe) && pe.negative {
		return &Error{Kind: ErrAuth, Op: pe.Op, Reply: pe.Reply, negative: true}
	}
	return err
}

func withOp(err error, op string) error {
	var pe *Error
	if errors.As(err, &pe) {
		pe.Op = op
	}
	return err
}
