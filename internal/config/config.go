// Package config holds runtime settings shared by the presence service and
// the device CLI.
//
// Sources, lowest precedence first:
//
//  1. built-in defaults (Default)
//  2. an optional JSON file (Load)
//  3. command-line flags the user actually set (BindFlags, Flags.Resolve)
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

const (
	DefaultChunkSize       = 64 * 1024
	DefaultMaxItemSize     = 100 * 1024 * 1024
	DefaultConnectTimeout  = 20 * time.Second
	DefaultOpenTimeout     = 20 * time.Second
	DefaultPurgeGrace      = 5 * time.Minute
	DefaultIdentityRetries = 3
	DefaultIdentityBackoff = 500 * time.Millisecond
	DefaultPresenceRetries = 5
	DefaultPresenceBackoff = time.Second
	DefaultChunkTimeout    = 5 * time.Second
	DefaultResetDelay      = 3 * time.Second
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
	"stun:stun4.l.google.com:19302",
}

var (
	ErrInvalidChunkSize   = errors.New("chunk size must be positive")
	ErrInvalidMaxItemSize = errors.New("max item size must be positive")
	ErrInvalidRetries     = errors.New("identity retries must be at least 1")
	ErrInvalidRedials     = errors.New("presence retries must not be negative")
)

type Config struct {
	// ListenAddr is where `serve` binds the presence service.
	ListenAddr string
	// ServerURL is the presence service base URL a device dials.
	ServerURL string

	DataDir     string
	DownloadDir string

	DeviceName string
	DeviceType string

	ChunkSize       int
	MaxItemSize     int64
	ConnectTimeout  time.Duration
	OpenTimeout     time.Duration
	PurgeGrace      time.Duration
	IdentityRetries int
	IdentityBackoff time.Duration
	// PresenceRetries bounds the redials after the presence connection
	// drops; the wait between them doubles from PresenceBackoff.
	PresenceRetries int
	PresenceBackoff time.Duration
	ChunkTimeout    time.Duration
	ResetDelay      time.Duration

	STUNServers []string
	LogLevel    string
}

func Default() *Config {
	return &Config{
		ListenAddr:      ":3001",
		ServerURL:       "http://localhost:3001",
		DataDir:         ".peer-drop",
		DownloadDir:     "downloads",
		DeviceType:      "desktop",
		ChunkSize:       DefaultChunkSize,
		MaxItemSize:     DefaultMaxItemSize,
		ConnectTimeout:  DefaultConnectTimeout,
		OpenTimeout:     DefaultOpenTimeout,
		PurgeGrace:      DefaultPurgeGrace,
		IdentityRetries: DefaultIdentityRetries,
		IdentityBackoff: DefaultIdentityBackoff,
		PresenceRetries: DefaultPresenceRetries,
		PresenceBackoff: DefaultPresenceBackoff,
		ChunkTimeout:    DefaultChunkTimeout,
		ResetDelay:      DefaultResetDelay,
		STUNServers:     append([]string(nil), defaultSTUNServers...),
		LogLevel:        "info",
	}
}

func (c *Config) Validate() error {
	if c.ChunkSize <= 0 {
		return ErrInvalidChunkSize
	}
	if c.MaxItemSize <= 0 {
		return ErrInvalidMaxItemSize
	}
	if c.IdentityRetries < 1 {
		return ErrInvalidRetries
	}
	if c.PresenceRetries < 0 {
		return ErrInvalidRedials
	}
	for name, d := range map[string]time.Duration{
		"connect timeout":  c.ConnectTimeout,
		"open timeout":     c.OpenTimeout,
		"purge grace":      c.PurgeGrace,
		"chunk timeout":    c.ChunkTimeout,
		"presence backoff": c.PresenceBackoff,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	return nil
}

// IdentityDBPath is the sqlite file holding the local device identity.
func (c *Config) IdentityDBPath() string {
	return filepath.Join(c.DataDir, "identity.sqlite3")
}
