// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package pop3test runs an in-process POP3 server for tests. It implements
// the read-only subset of RFC 1939 (USER, PASS, STAT, LIST, UIDL, RETR, NOOP,
// QUIT) plus CAPA and STLS, and lets a test replace any reply verbatim.
package pop3test

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
)

type state int

const (
	stateAuth state = iota
	stateTxn
)

const (
	errStateAuth = "not in AUTHORIZATION"
	errStateTxn  = "not in TRANSACTION"
	errSyntax    = "syntax error"
)

// Message is one message in the test maildrop. Its message number is its
// 1-based position.
type Message struct {
	UID  string
	Body string
}

// Server is a POP3 server listening on 127.0.0.1.
type Server struct {
	User, Pass string

	// TLSConfig enables STLS. With ImplicitTLS the listener itself is TLS.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	log *zap.Logger
	l   net.Listener

	mu        sync.Mutex
	msgs      []Message
	responses map[string]scripted
	commands  []string
	upgrades  int
	conns     int
}

// NewServer returns a server that accepts user "u" with password "p".
func NewServer() *Server {
	return &Server{
		User:      "u",
		Pass:      "p",
		log:       zap.NewNop(),
		responses: make(map[string]scripted),
	}
}

// Start listens on a random port. The listener is closed when the test ends.
func (s *Server) Start(t testing.TB) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if s.ImplicitTLS {
		l = tls.NewListener(l, s.TLSConfig)
	}
	s.l = l
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns++
			s.mu.Unlock()
			go s.acceptConnection(conn)
		}
	}()
}

// Host and Port are where the server listens.
func (s *Server) Host() string { return s.l.Addr().(*net.TCPAddr).IP.String() }
func (s *Server) Port() int    { return s.l.Addr().(*net.TCPAddr).Port }

// AddMessage appends a message and returns its message number.
func (s *Server) AddMessage(uid, body string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, Message{UID: uid, Body: body})
	return len(s.msgs)
}

// Respond replaces the reply to a command. key is either a full command line
// such as "RETR 2" or just a verb such as "STAT"; a full line wins. The key
// "greeting" replaces the greeting. The lines are sent verbatim, each followed
// by CRLF.
func (s *Server) Respond(key string, lines ...string) {
	s.script(key, scripted{lines: lines})
}

// RespondAndClose is Respond, then the server drops the connection. With no
// lines it drops without replying.
func (s *Server) RespondAndClose(key string, lines ...string) {
	s.script(key, scripted{lines: lines, close: true})
}

// Stall makes the server read the command and never reply.
func (s *Server) Stall(key string) {
	s.script(key, scripted{})
}

func (s *Server) script(key string, r scripted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[key] = r
}

type scripted struct {
	lines []string
	close bool
}

// Commands returns every command line received, with PASS arguments masked.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Count returns how many times a verb was received.
func (s *Server) Count(verb string) int {
	n := 0
	for _, c := range s.Commands() {
		if v, _, _ := strings.Cut(c, " "); v == verb {
			n++
		}
	}
	return n
}

// Upgrades is the number of completed STLS handshakes.
func (s *Server) Upgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upgrades
}

// Connections is the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

type connection struct {
	s   *Server
	nc  net.Conn
	tp  *textproto.Conn
	log *zap.Logger

	state
	line string
	user string
}

func (s *Server) acceptConnection(nc net.Conn) {
	conn := &connection{
		s:     s,
		nc:    nc,
		tp:    textproto.NewConn(nc),
		state: stateAuth,
		log:   s.log.With(zap.Stringer("client", nc.RemoteAddr())),
	}
	defer func() {
		if conn.tp != nil {
			conn.tp.Close()
		}
	}()

	if conn.override("greeting") {
		if conn.tp == nil {
			return
		}
	} else {
		conn.ok("POP3 (popmirror test) server ready")
	}

	for {
		var err error
		conn.line, err = conn.tp.ReadLine()
		if err != nil {
			return
		}

		var cmd string
		if _, err := fmt.Sscanf(conn.line, "%s", &cmd); err != nil {
			conn.err("invalid command")
			continue
		}
		cmd = strings.ToUpper(cmd)
		conn.record(cmd)

		if conn.override(cmd) {
			if conn.tp == nil {
				return
			}
			if cmd == "QUIT" && !conn.stalled(cmd) {
				return
			}
			continue
		}

		switch cmd {
		case "QUIT":
			conn.ok("goodbye")
			return
		case "CAPA":
			conn.doCAPA()
		case "STLS":
			if !conn.doSTLS() {
				return
			}
		case "USER":
			conn.doUSER()
		case "PASS":
			conn.doPASS()
		case "STAT":
			conn.doSTAT()
		case "LIST":
			conn.doLIST()
		case "UIDL":
			conn.doUIDL()
		case "RETR":
			conn.doRETR()
		case "NOOP":
			if conn.requireTxn() {
				conn.ok("")
			}
		default:
			conn.err("unknown command")
		}
	}
}

func (conn *connection) record(cmd string) {
	line := conn.line
	if cmd == "PASS" {
		line = "PASS ****"
	}
	conn.s.mu.Lock()
	conn.s.commands = append(conn.s.commands, line)
	conn.s.mu.Unlock()
}

// override sends a scripted reply if one is registered. A scripted close
// clears conn.tp.
func (conn *connection) override(cmd string) bool {
	conn.s.mu.Lock()
	r, ok := conn.s.responses[strings.ToUpper(conn.line)]
	if !ok {
		r, ok = conn.s.responses[cmd]
	}
	conn.s.mu.Unlock()
	if !ok {
		return false
	}
	for _, l := range r.lines {
		io.WriteString(conn.tp.W, l+"\r\n")
	}
	conn.tp.W.Flush()
	if r.close {
		conn.tp.Close()
		conn.tp = nil
	}
	return true
}

// stalled reports whether cmd was scripted with Stall.
func (conn *connection) stalled(cmd string) bool {
	conn.s.mu.Lock()
	defer conn.s.mu.Unlock()
	r, ok := conn.s.responses[strings.ToUpper(conn.line)]
	if !ok {
		r = conn.s.responses[cmd]
	}
	return len(r.lines) == 0 && !r.close
}

func (conn *connection) ok(msg string) {
	if len(msg) > 0 {
		msg = " " + msg
	}
	conn.tp.PrintfLine("+OK%s", msg)
}

func (conn *connection) err(msg string) {
	conn.log.Debug("error", zap.String("message", msg))
	conn.tp.PrintfLine("-ERR %s", msg)
}

func (conn *connection) requireTxn() bool {
	if conn.state != stateTxn {
		conn.err(errStateTxn)
		return false
	}
	return true
}

func (conn *connection) doCAPA() {
	conn.ok("capability list")
	caps := []string{"USER", "UIDL"}
	if conn.s.TLSConfig != nil && !conn.s.ImplicitTLS {
		caps = append(caps, "STLS")
	}
	for _, c := range caps {
		conn.tp.PrintfLine("%s", c)
	}
	conn.tp.PrintfLine(".")
}

func (conn *connection) doSTLS() bool {
	if conn.state != stateAuth {
		conn.err(errStateAuth)
		return true
	}
	if conn.s.TLSConfig == nil || conn.s.ImplicitTLS {
		conn.err("STLS not available")
		return true
	}
	if _, ok := conn.nc.(*tls.Conn); ok {
		conn.err("already using TLS")
		return true
	}
	conn.ok("begin TLS negotiation")
	tc := tls.Server(conn.nc, conn.s.TLSConfig)
	if err := tc.Handshake(); err != nil {
		conn.log.Debug("STLS handshake failed", zap.Error(err))
		return false
	}
	conn.nc = tc
	conn.tp = textproto.NewConn(tc)
	conn.s.mu.Lock()
	conn.s.upgrades++
	conn.s.mu.Unlock()
	return true
}

func (conn *connection) doUSER() {
	if conn.state != stateAuth {
		conn.err(errStateAuth)
		return
	}
	cmd := len("USER ")
	if len(conn.line) <= cmd {
		conn.err("invalid user")
		return
	}
	conn.user = conn.line[cmd:]
	conn.ok("")
}

func (conn *connection) doPASS() {
	if conn.state != stateAuth {
		conn.err(errStateAuth)
		return
	}
	if len(conn.user) == 0 {
		conn.err("no USER")
		return
	}
	cmd := len("PASS ")
	if len(conn.line) <= cmd {
		conn.err("invalid pass")
		return
	}
	if conn.user != conn.s.User || conn.line[cmd:] != conn.s.Pass {
		conn.err("bad username/pass")
		return
	}
	conn.state = stateTxn
	conn.ok("maildrop locked and ready")
}

func (conn *connection) messages() []Message {
	conn.s.mu.Lock()
	defer conn.s.mu.Unlock()
	return append([]Message(nil), conn.s.msgs...)
}

func (conn *connection) doSTAT() {
	if !conn.requireTxn() {
		return
	}
	size := 0
	msgs := conn.messages()
	for _, msg := range msgs {
		size += wireSize(msg.Body)
	}
	conn.ok(fmt.Sprintf("%d %d", len(msgs), size))
}

func (conn *connection) doLIST() {
	if !conn.requireTxn() {
		return
	}
	msgs := conn.messages()
	conn.ok("scan listing")
	for i, msg := range msgs {
		conn.tp.PrintfLine("%d %d", i+1, wireSize(msg.Body))
	}
	conn.tp.PrintfLine(".")
}

func (conn *connection) doUIDL() {
	if !conn.requireTxn() {
		return
	}
	msgs := conn.messages()
	conn.ok("unique-id listing")
	for i, msg := range msgs {
		conn.tp.PrintfLine("%d %s", i+1, msg.UID)
	}
	conn.tp.PrintfLine(".")
}

func (conn *connection) doRETR() {
	if !conn.requireTxn() {
		return
	}
	var cmd string
	var idx int
	if _, err := fmt.Sscanf(conn.line, "%s %d", &cmd, &idx); err != nil {
		conn.err(errSyntax)
		return
	}
	msgs := conn.messages()
	if idx < 1 || idx > len(msgs) {
		conn.err("no such message")
		return
	}
	body := msgs[idx-1].Body
	conn.ok(fmt.Sprintf("%d octets", wireSize(body)))
	w := conn.tp.DotWriter()
	io.WriteString(w, body)
	w.Close()
}

// wireSize is the size of body with CRLF line endings.
func wireSize(body string) int {
	return len(strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n"))
}
