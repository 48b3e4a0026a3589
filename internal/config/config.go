package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type AuthConfig struct {
	JWTSecret    string `mapstructure:"jwt_secret"`
	NameClaim    string `mapstructure:"name_claim"`
	DisplayClaim string `mapstructure:"display_claim"`
	Issuer       string `mapstructure:"issuer"`
}

type CallsConfig struct {
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

type TransferConfig struct {
	ChunkSize     int           `mapstructure:"chunk_size"`
	HighWatermark uint64        `mapstructure:"high_watermark"`
	LowWatermark  uint64        `mapstructure:"low_watermark"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxSize       int64         `mapstructure:"max_size"`
}

type ICEConfig struct {
	URLs []string `mapstructure:"urls"`
}

type Config struct {
	Mode         string         `mapstructure:"mode"`
	Port         int            `mapstructure:"port"`
	LogLevel     string         `mapstructure:"log_level"`
	ReadLimit    int64          `mapstructure:"read_limit"`
	PingPeriod   time.Duration  `mapstructure:"ping_period"`
	WriteTimeout time.Duration  `mapstructure:"write_timeout"`
	SendBuffer   int            `mapstructure:"send_buffer"`
	Backpressure string         `mapstructure:"backpressure"`
	Secret       string         `mapstructure:"secret"`
	Auth         AuthConfig     `mapstructure:"auth"`
	Calls        CallsConfig    `mapstructure:"calls"`
	Transfer     TransferConfig `mapstructure:"transfer"`
	ICE          ICEConfig      `mapstructure:"ice"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("backpressure", "kick")
	v.SetDefault("secret", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.name_claim", "unique_name")
	v.SetDefault("auth.display_claim", "name")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("calls.rate_limit", 10)
	v.SetDefault("calls.rate_window", "1m")
	v.SetDefault("transfer.chunk_size", 65536)
	v.SetDefault("transfer.high_watermark", 1<<20)
	v.SetDefault("transfer.low_watermark", 256<<10)
	v.SetDefault("transfer.retry_delay", "50ms")
	v.SetDefault("transfer.max_size", 1<<30)
	v.SetDefault("ice.urls", []string{"stun:stun.l.google.com:19302"})
}

// Path returns config/config.<CONFIG_ENV>.yaml, with CONFIG_ENV defaulting to dev.
func Path() string {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

// Load reads the file named by Path and DIALTONE_* environment overrides on
// top of the defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

func newViper(fileName string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("dialtone")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func LoadFile(fileName string) (*Config, error) {
	v := newViper(fileName)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return cfg, nil
}

// Watch re-reads fileName whenever it changes and passes each valid result to
// onChange. Invalid edits are logged and skipped.
func Watch(fileName string, onChange func(*Config)) error {
	v := newViper(fileName)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watch config %s: %w", fileName, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Str("module", "config").Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}

func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive, got %d", c.SendBuffer)
	}
	if c.Transfer.LowWatermark > c.Transfer.HighWatermark {
		return fmt.Errorf("transfer.low_watermark %d above high_watermark %d", c.Transfer.LowWatermark, c.Transfer.HighWatermark)
	}
	return nil
}
