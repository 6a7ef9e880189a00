package rtsp

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TransportMode selects how RTP/RTCP is delivered after SETUP.
type TransportMode string

const (
	// TransportTCP requests RTP/RTCP interleaved on the RTSP connection.
	TransportTCP TransportMode = "tcp"
	// TransportUDP requests RTP/RTCP on a pair of local UDP ports.
	TransportUDP TransportMode = "udp"
)

const (
	DefaultMaxURLLength         = 64
	DefaultMaxDescriptionLength = 1024
	DefaultReceiveBufferSize    = 0x10000
	DefaultExpirySlack          = 2 * time.Second
)

type Config struct {
	UserAgent      string        `yaml:"user_agent"`
	Transport      TransportMode `yaml:"transport"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// KeepAliveInterval is the GET_PARAMETER period while playing.
	// Zero derives it from the server's session timeout, negative disables it.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// ExpirySlack is added to the described session duration before the
	// session is closed by the expiry timer.
	ExpirySlack time.Duration `yaml:"expiry_slack"`

	ReceiveBufferSize int `yaml:"receive_buffer_size"`

	// Length bounds of the session URL and the received description.
	// Zero disables the check.
	MaxURLLength         int `yaml:"max_url_length"`
	MaxDescriptionLength int `yaml:"max_description_length"`

	Logging LoggingConfig `yaml:"logging"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Transport:            TransportTCP,
		ConnectTimeout:       defaultTimeout,
		RequestTimeout:       defaultTimeout,
		ExpirySlack:          DefaultExpirySlack,
		ReceiveBufferSize:    DefaultReceiveBufferSize,
		MaxURLLength:         DefaultMaxURLLength,
		MaxDescriptionLength: DefaultMaxDescriptionLength,
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from the yaml file.
// Options missing in the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultTimeout
	}
	if c.ReceiveBufferSize == 0 {
		c.ReceiveBufferSize = DefaultReceiveBufferSize
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// validate checks if the configuration is valid
func (c *Config) validate() error {
	switch TransportMode(strings.ToLower(string(c.Transport))) {
	case TransportTCP, TransportUDP:
		c.Transport = TransportMode(strings.ToLower(string(c.Transport)))
	default:
		return fmt.Errorf("invalid transport: %q (must be tcp or udp)", c.Transport)
	}

	if c.ConnectTimeout < 0 {
		return fmt.Errorf("invalid connect_timeout: %s", c.ConnectTimeout)
	}

	if c.RequestTimeout < 0 {
		return fmt.Errorf("invalid request_timeout: %s", c.RequestTimeout)
	}

	if c.ExpirySlack < 0 {
		return fmt.Errorf("invalid expiry_slack: %s (must be non-negative)", c.ExpirySlack)
	}

	// an RTP header alone is 12 bytes
	if c.ReceiveBufferSize < 12 {
		return fmt.Errorf("invalid receive_buffer_size: %d", c.ReceiveBufferSize)
	}

	if c.MaxURLLength < 0 {
		return fmt.Errorf("invalid max_url_length: %d", c.MaxURLLength)
	}

	if c.MaxDescriptionLength < 0 {
		return fmt.Errorf("invalid max_description_length: %d", c.MaxDescriptionLength)
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			return nil
		}
	}

	return fmt.Errorf("invalid log level: %s (must be one of: %v)", c.Logging.Level, validLevels)
}

// SlogLevel returns slog.Level from config
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
