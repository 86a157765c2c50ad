package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 65536, cfg.ChunkSize)
	assert.Equal(t, int64(100*1024*1024), cfg.MaxItemSize)
	assert.Equal(t, 20*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 5*time.Minute, cfg.PurgeGrace)
	assert.Equal(t, 3, cfg.IdentityRetries)
	assert.Equal(t, 5, cfg.PresenceRetries)
	assert.Equal(t, time.Second, cfg.PresenceBackoff)
	assert.Len(t, cfg.STUNServers, 5)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.ChunkSize = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidChunkSize)

	cfg = Default()
	cfg.IdentityRetries = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidRetries)

	cfg = Default()
	cfg.ChunkTimeout = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.PresenceRetries = -1
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidRedials)

	cfg = Default()
	cfg.PresenceRetries = 0
	assert.NoError(t, cfg.Validate(), "zero retries still redials once")
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"server_url": "http://10.0.0.2:3001",
		"chunk_size": 1024,
		"purge_grace": "30s",
		"presence_retries": 9,
		"presence_backoff": "250ms",
		"chunk_timeout": 2000000000
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.2:3001", cfg.ServerURL)
	assert.Equal(t, 1024, cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.PurgeGrace)
	assert.Equal(t, 2*time.Second, cfg.ChunkTimeout)
	assert.Equal(t, 9, cfg.PresenceRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.PresenceBackoff)
	assert.Equal(t, DefaultMaxItemSize, int(cfg.MaxItemSize))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"chunk_size": 1024, "device_name": "desk"}`), 0o644))

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"-c", path, "--chunk-size", "2048"}))

	cfg, err := flags.Resolve()
	require.NoError(t, err)

	assert.Equal(t, 2048, cfg.ChunkSize)
	assert.Equal(t, "desk", cfg.DeviceName)
}
