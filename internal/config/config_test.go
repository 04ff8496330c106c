package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yacall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, StoreMemory, cfg.Server.Store)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "yacall", cfg.Store.Redis.Prefix)
	assert.Len(t, cfg.Client.ICEServers, 2)
	assert.Equal(t, uint8(10), cfg.Client.CandidatePoolSize)
	assert.Equal(t, 5*time.Second, cfg.Client.BadInputInterval)
	assert.Equal(t, []string{"audio", "video"}, cfg.Client.Media)
}

func TestFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
server:
  addr: ":9000"
  store: sqlite
store:
  sqlite_path: /tmp/calls.db
client:
  media: [audio]
  bad_input_interval: 2s
`)
	t.Setenv("YACALL_SERVER_ADDR", ":9100")
	t.Setenv("YACALL_STORE_REDIS_DB", "3")

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, StoreSQLite, cfg.Server.Store)
	assert.Equal(t, "/tmp/calls.db", cfg.Store.SQLitePath)
	assert.Equal(t, 3, cfg.Store.Redis.DB)
	assert.Equal(t, []string{"audio"}, cfg.Client.Media)
	assert.Equal(t, 2*time.Second, cfg.Client.BadInputInterval)
}

func TestInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Store", "server:\n  store: postgres\n"},
		{"LogLevel", "log:\n  level: loud\n"},
		{"Media", "client:\n  media: [smell]\n"},
		{"RateLimit", "server:\n  rate_limit: -1\n"},
		{"ZeroBadInputInterval", "client:\n  bad_input_interval: 0s\n"},
		{"NegativeBadInputInterval", "client:\n  bad_input_interval: -2s\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(viper.New(), writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestMissingExplicitFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestConfigChangeUpdatesLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	path := writeConfig(t, "log:\n  level: info\n")
	v := viper.New()
	cfg, err := Load(v, path)
	require.NoError(t, err)
	require.NoError(t, SetupLogging(LogConfig{Level: cfg.Log.Level}))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))
	require.NoError(t, v.ReadInConfig())
	onConfigChange(v)(fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	// Invalid levels leave the current one in place.
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: loud\n"), 0o644))
	require.NoError(t, v.ReadInConfig())
	onConfigChange(v)(fsnotify.Event{Name: path, Op: fsnotify.Write})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	onConfigChange(v)(fsnotify.Event{Name: path, Op: fsnotify.Chmod})
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
