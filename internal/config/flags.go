package config

import (
	"github.com/spf13/pflag"
)

// Flags carries flag values until the JSON layer has been applied, so that
// only flags the user set on the command line override the file.
type Flags struct {
	fs   *pflag.FlagSet
	vals *Config

	ConfigPath string
}

func BindFlags(fs *pflag.FlagSet) *Flags {
	d := Default()
	f := &Flags{fs: fs, vals: d}

	fs.StringVarP(&f.ConfigPath, "config", "c", "", "path to a JSON config file")
	fs.StringVar(&d.ListenAddr, "listen", d.ListenAddr, "address the presence service listens on")
	fs.StringVarP(&d.ServerURL, "server", "s", d.ServerURL, "presence service URL")
	fs.StringVar(&d.DataDir, "data-dir", d.DataDir, "directory for local identity state")
	fs.StringVarP(&d.DownloadDir, "download-dir", "o", d.DownloadDir, "directory received files are saved to")
	fs.StringVarP(&d.DeviceName, "name", "n", d.DeviceName, "device name shown to other devices")
	fs.StringVarP(&d.DeviceType, "type", "t", d.DeviceType, "device type: phone, tablet, laptop or desktop")
	fs.IntVar(&d.ChunkSize, "chunk-size", d.ChunkSize, "transfer chunk size in bytes")
	fs.Int64Var(&d.MaxItemSize, "max-item-size", d.MaxItemSize, "largest file accepted for sending, in bytes")
	fs.DurationVar(&d.ConnectTimeout, "connect-timeout", d.ConnectTimeout, "peer connect timeout")
	fs.DurationVar(&d.PurgeGrace, "purge-grace", d.PurgeGrace, "how long an offline device is kept")
	fs.IntVar(&d.IdentityRetries, "identity-retries", d.IdentityRetries, "attempts at claiming a peer address")
	fs.IntVar(&d.PresenceRetries, "presence-retries", d.PresenceRetries, "redials after losing the presence service")
	fs.DurationVar(&d.ChunkTimeout, "chunk-timeout", d.ChunkTimeout, "per-chunk inactivity timeout")
	fs.StringSliceVar(&d.STUNServers, "stun", d.STUNServers, "STUN server URLs")
	fs.StringVar(&d.LogLevel, "log-level", d.LogLevel, "log level")

	return f
}

// Resolve loads the JSON file (if any) and applies changed flags on top.
func (f *Flags) Resolve() (*Config, error) {
	cfg, err := Load(f.ConfigPath)
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		fl := f.fs.Lookup(name)
		return fl != nil && fl.Changed
	}

	if changed("listen") {
		cfg.ListenAddr = f.vals.ListenAddr
	}
	if changed("server") {
		cfg.ServerURL = f.vals.ServerURL
	}
	if changed("data-dir") {
		cfg.DataDir = f.vals.DataDir
	}
	if changed("download-dir") {
		cfg.DownloadDir = f.vals.DownloadDir
	}
	if changed("name") {
		cfg.DeviceName = f.vals.DeviceName
	}
	if changed("type") {
		cfg.DeviceType = f.vals.DeviceType
	}
	if changed("chunk-size") {
		cfg.ChunkSize = f.vals.ChunkSize
	}
	if changed("max-item-size") {
		cfg.MaxItemSize = f.vals.MaxItemSize
	}
	if changed("connect-timeout") {
		cfg.ConnectTimeout = f.vals.ConnectTimeout
	}
	if changed("purge-grace") {
		cfg.PurgeGrace = f.vals.PurgeGrace
	}
	if changed("identity-retries") {
		cfg.IdentityRetries = f.vals.IdentityRetries
	}
	if changed("presence-retries") {
		cfg.PresenceRetries = f.vals.PresenceRetries
	}
	if changed("chunk-timeout") {
		cfg.ChunkTimeout = f.vals.ChunkTimeout
	}
	if changed("stun") {
		cfg.STUNServers = f.vals.STUNServers
	}
	if changed("log-level") {
		cfg.LogLevel = f.vals.LogLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
