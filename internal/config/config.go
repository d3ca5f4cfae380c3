package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RelayConfig struct {
	BindHost    string `mapstructure:"bind_host"`
	PortStart   int    `mapstructure:"port_start"`
	PortCount   int    `mapstructure:"port_count"`
	MaxDatagram int    `mapstructure:"max_datagram"`
}

type WatchdogConfig struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
	Interval    time.Duration `mapstructure:"interval"`
}

type SignalConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`

	// AllowedOrigins are browser origins accepted on the signaling socket
	// besides the server's own host.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	Relay    RelayConfig    `mapstructure:"relay"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Signal   SignalConfig   `mapstructure:"signal"`

	// Credentials maps a decimal client id to its secret.
	Credentials map[string]string `mapstructure:"credentials"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 4096)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")

	v.SetDefault("relay.bind_host", "127.0.0.1")
	v.SetDefault("relay.port_start", 42000)
	v.SetDefault("relay.port_count", 100)
	v.SetDefault("relay.max_datagram", 2000)

	v.SetDefault("watchdog.grace_period", "60s")
	v.SetDefault("watchdog.interval", "2s")

	v.SetDefault("signal.rate_limit", 20)
	v.SetDefault("signal.rate_interval", "10s")
	v.SetDefault("signal.allowed_origins", []string{})
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults.
// A missing file is not an error.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("podcast")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Int("relay_port_start", cfg.Relay.PortStart).
		Int("relay_port_count", cfg.Relay.PortCount).
		Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Relay.PortCount <= 0 {
		errs = append(errs, fmt.Errorf("relay.port_count must be positive, got %d", c.Relay.PortCount))
	}
	if c.Relay.PortStart <= 0 || c.Relay.PortStart+c.Relay.PortCount-1 > 65535 {
		errs = append(errs, fmt.Errorf("relay port range %d+%d exceeds 65535", c.Relay.PortStart, c.Relay.PortCount))
	}
	if c.Relay.MaxDatagram <= 0 {
		errs = append(errs, errors.New("relay.max_datagram must be positive"))
	}
	if c.Watchdog.GracePeriod <= 0 || c.Watchdog.Interval <= 0 {
		errs = append(errs, errors.New("watchdog durations must be positive"))
	}
	if c.Signal.RateLimit <= 0 || c.Signal.RateInterval <= 0 {
		errs = append(errs, errors.New("signal rate limit must be positive"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
