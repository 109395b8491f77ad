// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"src.bluestatic.org/popmirror/pkg/pop3"
)

const example = `
log:
  level: debug
store:
  type: mbox
  path: /var/lib/popmirror
metrics_addr: ":9465"
accounts:
  - name: work
    host: pop.example.com
    username: me@example.com
    password_env: WORK_PASS
    timeout: 30s
    poll_interval: 1m
  - name: home
    mailbox: Home
    host: mail.example.net
    security: starttls
    username: me
    password: secret
    batch_size: 10
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "popmirror.yaml")
	if err := os.WriteFile(path, []byte(example), 0600); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if want, got := "debug", c.Log.Level; want != got {
		t.Errorf("Log.Level: want %q, got %q", want, got)
	}
	if want, got := "text", c.Log.Format; want != got {
		t.Errorf("Log.Format default: want %q, got %q", want, got)
	}
	if want, got := StoreMbox, c.Store.Type; want != got {
		t.Errorf("Store.Type: want %q, got %q", want, got)
	}
	if want, got := 2, len(c.Accounts); want != got {
		t.Fatalf("want %d accounts, got %d", want, got)
	}

	work := c.Accounts[0]
	if want, got := "work", work.Mailbox; want != got {
		t.Errorf("Mailbox: want %q, got %q", want, got)
	}
	if want, got := pop3.SecurityImplicitTLS, work.Security; want != got {
		t.Errorf("Security: want %q, got %q", want, got)
	}
	if want, got := 995, work.Port; want != got {
		t.Errorf("Port: want %d, got %d", want, got)
	}
	if want, got := 30*time.Second, work.Timeout; want != got {
		t.Errorf("Timeout: want %s, got %s", want, got)
	}
	if want, got := time.Minute, work.PollInterval; want != got {
		t.Errorf("PollInterval: want %s, got %s", want, got)
	}
	if want, got := 50, work.BatchSize; want != got {
		t.Errorf("BatchSize: want %d, got %d", want, got)
	}

	home, ok := c.Account("home")
	if !ok {
		t.Fatal("Account home not found")
	}
	if want, got := 110, home.Port; want != got {
		t.Errorf("Port: want %d, got %d", want, got)
	}
	if want, got := 10, home.BatchSize; want != got {
		t.Errorf("BatchSize: want %d, got %d", want, got)
	}
	if want, got := pop3.DefaultTimeout, home.Timeout; want != got {
		t.Errorf("Timeout: want %s, got %s", want, got)
	}

	creds := c.Credentials()
	if want, got := "WORK_PASS", creds["work"].PasswordEnv; want != got {
		t.Errorf("PasswordEnv: want %q, got %q", want, got)
	}
	if want, got := "secret", creds["home"].Password; want != got {
		t.Errorf("Password: want %q, got %q", want, got)
	}
}

func TestMailboxDefaultsToAccountName(t *testing.T) {
	c, err := Parse([]byte("accounts: [{name: alice, host: h, username: u}, {name: bob, host: h, username: u}]\n"))
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range c.Accounts {
		if a.Mailbox != a.Name {
			t.Errorf("%s: want mailbox %q, got %q", a.Name, a.Name, a.Mailbox)
		}
	}
}

func TestServerConfig(t *testing.T) {
	a := Account{Host: "h", Port: 995, Security: pop3.SecurityImplicitTLS, Timeout: time.Second}
	sc := a.ServerConfig()
	if sc.TLSConfig != nil {
		t.Errorf("Expected default TLS config")
	}
	a.InsecureSkipVerify = true
	if sc = a.ServerConfig(); sc.TLSConfig == nil || !sc.TLSConfig.InsecureSkipVerify {
		t.Errorf("InsecureSkipVerify not applied")
	}
}

func TestInvalidConfigs(t *testing.T) {
	configs := []string{
		// No accounts.
		"store: {type: sqlite, path: x.db}\n",
		// Unknown store.
		"store: {type: maildir, path: x}\naccounts: [{name: a, host: h, username: u}]\n",
		// Missing store path.
		"store: {type: sqlite, path: ''}\naccounts: [{name: a, host: h, username: u}]\n",
		// Missing host.
		"accounts: [{name: a, username: u}]\n",
		// Missing username.
		"accounts: [{name: a, host: h}]\n",
		// Missing name.
		"accounts: [{host: h, username: u}]\n",
		// Bad security mode.
		"accounts: [{name: a, host: h, username: u, security: ssl}]\n",
		// Bad port.
		"accounts: [{name: a, host: h, username: u, port: 70000}]\n",
		// Duplicate names.
		"accounts: [{name: a, host: h, username: u}, {name: a, host: h, username: u}]\n",
		// Shared mailbox.
		"accounts: [{name: a, host: h, username: u, mailbox: m}, {name: b, host: h, username: u, mailbox: m}]\n",
		// Mailbox defaulted from another account's name.
		"accounts: [{name: a, host: h, username: u}, {name: b, host: h, username: u, mailbox: a}]\n",
		// Bad log level.
		"log: {level: loud}\naccounts: [{name: a, host: h, username: u}]\n",
		// Unknown field.
		"accounts: [{name: a, host: h, username: u, pasword: x}]\n",
		// Not YAML.
		"accounts: [",
	}
	for i, config := range configs {
		_, err := Parse([]byte(config))
		if err == nil {
			t.Errorf("Expected error for config %d: %q", i, config)
			continue
		}
		if !pop3.IsKind(err, pop3.ErrConfiguration) {
			t.Errorf("Config %d: expected configuration error, got %v", i, err)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if !pop3.IsKind(err, pop3.ErrConfiguration) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}
