/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kentakayama/updates-over-http/internal/util"
)

const (
	defaultDatabasePath = "updates_state.db"
	defaultFetchTimeout = 60 * time.Second
	defaultServerAddr   = ":3000"
	defaultPlatform     = "android"
)

var (
	ErrMissingUpdateURL      = errors.New("updates.url is required")
	ErrMissingRuntimeVersion = errors.New("updates.runtimeVersion is required")
	ErrUnsupportedPlatform   = errors.New("updates.platform must be android or ios")
)

// SupportedPlatforms are the expo-platform values clients send and the
// server answers.
var SupportedPlatforms = util.SetOf("android", "ios")

// Config is the file layout read by Load.
type Config struct {
	Updates     UpdatesConfig     `yaml:"updates"`
	CodeSigning CodeSigningConfig `yaml:"codeSigning"`
	Server      ServerConfig      `yaml:"server"`
	Logs        LogConfig         `yaml:"logs"`
}

// UpdatesConfig captures the tunables of the update client.
type UpdatesConfig struct {
	URL            string            `yaml:"url"`
	ScopeKey       string            `yaml:"scopeKey"`
	RuntimeVersion string            `yaml:"runtimeVersion"`
	Platform       string            `yaml:"platform"`
	RequestHeaders map[string]string `yaml:"requestHeaders"`
	DatabasePath   string            `yaml:"databasePath"`
	// EmbeddedManifest overrides the app.manifest compiled into the binary.
	EmbeddedManifest string        `yaml:"embeddedManifest"`
	AssetsDirectory  string        `yaml:"assetsDirectory"`
	Timeout          time.Duration `yaml:"timeout"`
	InsecureTLS      bool          `yaml:"insecureTLS"`
	Logger           *log.Logger   `yaml:"-"`
}

// CodeSigningConfig is empty unless the app pins a code signing certificate.
type CodeSigningConfig struct {
	Certificate                             string            `yaml:"certificate"`
	Metadata                                map[string]string `yaml:"metadata"`
	IncludeManifestResponseCertificateChain bool              `yaml:"includeManifestResponseCertificateChain"`
	AllowUnsignedManifests                  bool              `yaml:"allowUnsignedManifests"`
}

func (c CodeSigningConfig) Enabled() bool {
	return c.Certificate != ""
}

// ServerConfig captures the tunables of the update server.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// PublicURL prefixes asset URLs; the request host is used when empty.
	PublicURL       string `yaml:"publicURL"`
	UpdateDirectory string `yaml:"updateDirectory"`
	// RuntimeVersion is served to clients that do not send one.
	RuntimeVersion string `yaml:"runtimeVersion"`
	// ProtocolVersion is assumed for requests without expo-protocol-version.
	ProtocolVersion int    `yaml:"protocolVersion"`
	ScopeKey        string `yaml:"scopeKey"`
	ProjectID       string `yaml:"projectId"`
	PrivateKey      string `yaml:"privateKey"`
	// CertificateChain is sent in the certificate_chain part when set.
	CertificateChain string      `yaml:"certificateChain"`
	KeyID            string      `yaml:"keyid"`
	Logger           *log.Logger `yaml:"-"`
}

type FetchConfig struct {
	Timeout     time.Duration
	InsecureTLS bool
	UserAgent   string
	Logger      *log.Logger
}

type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

// Load reads path, applies defaults and resolves relative file paths against
// the directory holding the file.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	resolve := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || p == ":memory:" {
			return p
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}

	if c.Updates.Platform == "" {
		c.Updates.Platform = defaultPlatform
	}
	if c.Updates.Timeout <= 0 {
		c.Updates.Timeout = defaultFetchTimeout
	}
	if c.Updates.DatabasePath == "" {
		c.Updates.DatabasePath = defaultDatabasePath
	}
	c.Updates.DatabasePath = resolve(c.Updates.DatabasePath)
	c.Updates.EmbeddedManifest = resolve(c.Updates.EmbeddedManifest)
	c.Updates.AssetsDirectory = resolve(c.Updates.AssetsDirectory)
	c.CodeSigning.Certificate = resolve(c.CodeSigning.Certificate)

	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Server.RuntimeVersion == "" {
		c.Server.RuntimeVersion = c.Updates.RuntimeVersion
	}
	if c.Server.ProtocolVersion == 0 {
		c.Server.ProtocolVersion = 1
	}
	c.Server.UpdateDirectory = resolve(c.Server.UpdateDirectory)
	c.Server.PrivateKey = resolve(c.Server.PrivateKey)
	c.Server.CertificateChain = resolve(c.Server.CertificateChain)

	if c.Logs.Directory != "" {
		c.Logs.Directory = resolve(c.Logs.Directory)
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
}

// ValidateClient checks the settings needed to talk to an update server.
func (c *Config) ValidateClient() error {
	if c.Updates.URL == "" {
		return ErrMissingUpdateURL
	}
	if c.Updates.RuntimeVersion == "" {
		return ErrMissingRuntimeVersion
	}
	if !SupportedPlatforms.Has(c.Updates.Platform) {
		return fmt.Errorf("%w: %q", ErrUnsupportedPlatform, c.Updates.Platform)
	}
	return nil
}
