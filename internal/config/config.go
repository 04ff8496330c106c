// Package config loads yacall settings from defaults, an optional YAML file
// and YACALL_* environment variables, in that order of precedence.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "YACALL"

type Config struct {
	Log    LogConfig    `mapstructure:"log"`
	Server ServerConfig `mapstructure:"server"`
	Store  StoreConfig  `mapstructure:"store"`
	Client ClientConfig `mapstructure:"client"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Store           string        `mapstructure:"store"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	Burst           int           `mapstructure:"burst"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type StoreConfig struct {
	SQLitePath string      `mapstructure:"sqlite_path"`
	Redis      RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type ClientConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	ICEServers        []string      `mapstructure:"ice_servers"`
	CandidatePoolSize uint8         `mapstructure:"candidate_pool_size"`
	BadInputInterval  time.Duration `mapstructure:"bad_input_interval"`
	Media             []string      `mapstructure:"media"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.store", StoreMemory)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.burst", 40)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("store.sqlite_path", "data/yacall.db")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.prefix", "yacall")

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.ice_servers", []string{
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	})
	v.SetDefault("client.candidate_pool_size", 10)
	v.SetDefault("client.bad_input_interval", 5*time.Second)
	v.SetDefault("client.media", []string{"audio", "video"})
}

// Load reads configuration into v. When path is empty, yacall.yaml is looked
// up in the working directory and $HOME/.config/yacall and may be absent.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName("yacall")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/yacall")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrapf(err, "log.level")
	}
	switch c.Server.Store {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return errors.Errorf("server.store: unknown store %q", c.Server.Store)
	}
	if c.Server.RateLimit < 0 || c.Server.Burst < 0 {
		return errors.New("server.rate_limit and server.burst must not be negative")
	}
	if c.Client.BadInputInterval <= 0 {
		return errors.Errorf("client.bad_input_interval must be positive, got %s", c.Client.BadInputInterval)
	}
	for _, m := range c.Client.Media {
		if m != "audio" && m != "video" {
			return errors.Errorf("client.media: unknown kind %q", m)
		}
	}
	return nil
}

// SetupLogging configures the global zerolog logger.
func SetupLogging(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrap(err, "log level")
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return nil
}

// WatchLogLevel reapplies log.level whenever the config file changes.
func WatchLogLevel(v *viper.Viper) {
	v.OnConfigChange(onConfigChange(v))
	v.WatchConfig()
}

func onConfigChange(v *viper.Viper) func(fsnotify.Event) {
	return func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		raw := v.GetString("log.level")
		level, err := zerolog.ParseLevel(raw)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid log level")
			return
		}
		if level == zerolog.GlobalLevel() {
			return
		}
		zerolog.SetGlobalLevel(level)
		log.Info().Str("level", level.String()).Str("file", e.Name).Msg("Log level changed")
	}
}
