// popmirror
// Copyright 2025 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package config loads the popmirror YAML configuration file.
package config

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"src.bluestatic.org/popmirror/pkg/credentials"
	"src.bluestatic.org/popmirror/pkg/mirror"
	"src.bluestatic.org/popmirror/pkg/pop3"
)

type StoreType string

const (
	StoreSQLite StoreType = "sqlite"
	StoreMbox   StoreType = "mbox"
)

const DefaultPollInterval = 5 * time.Minute

type Config struct {
	Log         LogConfig   `yaml:"log"`
	Store       StoreConfig `yaml:"store"`
	MetricsAddr string      `yaml:"metrics_addr"`
	Accounts    []Account   `yaml:"accounts"`
}

type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

type StoreConfig struct {
	Type StoreType `yaml:"type"`
	// Path is the database file for sqlite and the directory for mbox.
	Path string `yaml:"path"`
}

type Account struct {
	Name string `yaml:"name"`
	// Mailbox is the local mailbox the account's messages are stored in. It
	// defaults to Name. UIDLs are only unique per server, so no two accounts
	// may share a mailbox.
	Mailbox string `yaml:"mailbox"`

	Host               string            `yaml:"host"`
	Port               int               `yaml:"port"`
	Security           pop3.SecurityMode `yaml:"security"`
	InsecureSkipVerify bool              `yaml:"insecure_skip_verify"`

	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	PasswordEnv  string `yaml:"password_env"`
	PasswordFile string `yaml:"password_file"`

	Timeout      time.Duration `yaml:"timeout"`
	BatchSize    int           `yaml:"batch_size"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

func Default() *Config {
	return &Config{
		Log:   LogConfig{Level: "info", Format: "text"},
		Store: StoreConfig{Type: StoreSQLite, Path: "popmirror.db"},
	}
}

// Load reads path over Default, fills in per-account defaults and validates
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, pop3.ConfigError("Failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return nil, pop3.ConfigError("Failed to parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyDefaults() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if a.Mailbox == "" {
			a.Mailbox = a.Name
		}
		if a.Security == "" {
			a.Security = pop3.SecurityImplicitTLS
		}
		if a.Port == 0 {
			if a.Security == pop3.SecurityImplicitTLS {
				a.Port = 995
			} else {
				a.Port = 110
			}
		}
		if a.Timeout == 0 {
			a.Timeout = pop3.DefaultTimeout
		}
		if a.BatchSize == 0 {
			a.BatchSize = mirror.DefaultBatchSize
		}
		if a.PollInterval == 0 {
			a.PollInterval = DefaultPollInterval
		}
	}
}

// Validate checks the configuration. Errors are pop3.ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return pop3.ConfigError("Invalid log level: %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return pop3.ConfigError("Invalid log format: %q", c.Log.Format)
	}
	if err := validateStore(c.Store); err != nil {
		return pop3.ConfigError("Invalid Store: %w", err)
	}
	if len(c.Accounts) == 0 {
		return pop3.ConfigError("No accounts configured")
	}
	names := make(map[string]bool)
	mailboxes := make(map[string]string)
	for _, a := range c.Accounts {
		if names[a.Name] {
			return pop3.ConfigError("Duplicate account name %q", a.Name)
		}
		names[a.Name] = true
		if err := validateAccount(a); err != nil {
			return pop3.ConfigError("Invalid account %q: %w", a.Name, err)
		}
		if other, ok := mailboxes[a.Mailbox]; ok {
			return pop3.ConfigError("Accounts %q and %q share mailbox %q", other, a.Name, a.Mailbox)
		}
		mailboxes[a.Mailbox] = a.Name
	}
	return nil
}

func validateStore(s StoreConfig) error {
	if s.Type != StoreSQLite && s.Type != StoreMbox {
		return fmt.Errorf("Invalid Type: %q", s.Type)
	}
	if s.Path == "" {
		return fmt.Errorf("Missing Path")
	}
	return nil
}

func validateAccount(a Account) error {
	if a.Name == "" {
		return fmt.Errorf("Missing Name")
	}
	if a.Username == "" {
		return fmt.Errorf("Missing Username")
	}
	if a.Mailbox == "" {
		return fmt.Errorf("Missing Mailbox")
	}
	if err := a.ServerConfig().Validate(); err != nil {
		return err
	}
	if a.BatchSize < 0 {
		return fmt.Errorf("Invalid BatchSize: %d", a.BatchSize)
	}
	if a.PollInterval < 0 {
		return fmt.Errorf("Invalid PollInterval: %s", a.PollInterval)
	}
	return nil
}

func (a Account) ServerConfig() pop3.ServerConfig {
	c := pop3.ServerConfig{
		Host:     a.Host,
		Port:     a.Port,
		Security: a.Security,
		Timeout:  a.Timeout,
	}
	if a.InsecureSkipVerify {
		c.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return c
}

// Credentials returns the password sources of every account, by name.
func (c *Config) Credentials() credentials.Static {
	s := make(credentials.Static)
	for _, a := range c.Accounts {
		s[a.Name] = credentials.Source{
			Username:     a.Username,
			Password:     a.Password,
			PasswordEnv:  a.PasswordEnv,
			PasswordFile: a.PasswordFile,
		}
	}
	return s
}

// Account returns the account called name.
func (c *Config) Account(name string) (Account, bool) {
	for _, a := range c.Accounts {
		if a.Name == name {
			return a, true
		}
	}
	return Account{}, false
}
