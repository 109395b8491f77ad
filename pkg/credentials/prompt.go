// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package credentials

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/term"

	"src.bluestatic.org/popmirror/pkg/pop3"
)

// Prompt asks on the terminal for any password the Static source lacks. An
// answer is remembered for the life of the Prompt.
type Prompt struct {
	Static Static
	Out    io.Writer

	readPassword func() ([]byte, error)

	mu    sync.Mutex
	cache map[string]string
}

func NewPrompt(static Static, out io.Writer) *Prompt {
	return &Prompt{
		Static:       static,
		Out:          out,
		readPassword: readTerminalPassword,
		cache:        make(map[string]string),
	}
}

func readTerminalPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, pop3.ConfigError("Cannot prompt for password: stdin is not a terminal")
	}
	return term.ReadPassword(fd)
}

func (p *Prompt) Resolve(ctx context.Context, account string) (Credentials, error) {
	creds, err := p.Static.Resolve(ctx, account)
	if err == nil {
		return creds, nil
	}
	src, ok := p.Static[account]
	if !ok || src.Username == "" {
		return Credentials{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if pass, ok := p.cache[account]; ok {
		return Credentials{Username: src.Username, Password: pass}, nil
	}

	fmt.Fprintf(p.Out, "Password for %s (%s): ", account, src.Username)
	b, rerr := p.readPassword()
	fmt.Fprintln(p.Out)
	if rerr != nil {
		return Credentials{}, rerr
	}
	if len(b) == 0 {
		return Credentials{}, err
	}
	p.cache[account] = string(b)
	return Credentials{Username: src.Username, Password: string(b)}, nil
}
