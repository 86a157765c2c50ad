package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Duration accepts either a Go duration string ("5s") or integer nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}

type fileConfig struct {
	ListenAddr      *string   `json:"listen_addr"`
	ServerURL       *string   `json:"server_url"`
	DataDir         *string   `json:"data_dir"`
	DownloadDir     *string   `json:"download_dir"`
	DeviceName      *string   `json:"device_name"`
	DeviceType      *string   `json:"device_type"`
	ChunkSize       *int      `json:"chunk_size"`
	MaxItemSize     *int64    `json:"max_item_size"`
	ConnectTimeout  *Duration `json:"connect_timeout"`
	OpenTimeout     *Duration `json:"open_timeout"`
	PurgeGrace      *Duration `json:"purge_grace"`
	IdentityRetries *int      `json:"identity_retries"`
	IdentityBackoff *Duration `json:"identity_backoff"`
	PresenceRetries *int      `json:"presence_retries"`
	PresenceBackoff *Duration `json:"presence_backoff"`
	ChunkTimeout    *Duration `json:"chunk_timeout"`
	ResetDelay      *Duration `json:"reset_delay"`
	STUNServers     []string  `json:"stun_servers"`
	LogLevel        *string   `json:"log_level"`
}

// Load returns the defaults overlaid with the JSON file at path. An empty
// path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	fc.apply(cfg)
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.ServerURL, fc.ServerURL)
	setString(&cfg.DataDir, fc.DataDir)
	setString(&cfg.DownloadDir, fc.DownloadDir)
	setString(&cfg.DeviceName, fc.DeviceName)
	setString(&cfg.DeviceType, fc.DeviceType)
	setString(&cfg.LogLevel, fc.LogLevel)

	if fc.ChunkSize != nil {
		cfg.ChunkSize = *fc.ChunkSize
	}
	if fc.MaxItemSize != nil {
		cfg.MaxItemSize = *fc.MaxItemSize
	}
	if fc.IdentityRetries != nil {
		cfg.IdentityRetries = *fc.IdentityRetries
	}
	if fc.PresenceRetries != nil {
		cfg.PresenceRetries = *fc.PresenceRetries
	}

	setDuration(&cfg.ConnectTimeout, fc.ConnectTimeout)
	setDuration(&cfg.OpenTimeout, fc.OpenTimeout)
	setDuration(&cfg.PurgeGrace, fc.PurgeGrace)
	setDuration(&cfg.IdentityBackoff, fc.IdentityBackoff)
	setDuration(&cfg.PresenceBackoff, fc.PresenceBackoff)
	setDuration(&cfg.ChunkTimeout, fc.ChunkTimeout)
	setDuration(&cfg.ResetDelay, fc.ResetDelay)

	if len(fc.STUNServers) > 0 {
		cfg.STUNServers = fc.STUNServers
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *Duration) {
	if src != nil {
		*dst = src.Duration
	}
}
