package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Perpscan PerpscanConfig `yaml:"perpscan"`
	Display  DisplayConfig  `yaml:"display"`
	Feed     FeedConfig     `yaml:"feed"`
	Channels ChannelsConfig `yaml:"channels"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type PerpscanConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DisplayConfig holds the operator tunables for the render loop. They are
// read once at startup.
type DisplayConfig struct {
	PrintEvery  time.Duration `yaml:"print_every"`
	MaxRows     int           `yaml:"max_rows"`
	StaleFor    time.Duration `yaml:"stale_for"`
	ClearScreen bool          `yaml:"clear_screen"`
	OrderMode   string        `yaml:"order_mode"`
	PerpsOnly   bool          `yaml:"perps_only"`
}

type FeedConfig struct {
	RestURL            string        `yaml:"rest_url"`
	WsURL              string        `yaml:"ws_url"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	QuietAfter         time.Duration `yaml:"quiet_after"`
	ReconnectBackoff   time.Duration `yaml:"reconnect_backoff"`
	SubscribePerSecond int           `yaml:"subscribe_per_second"`
	SubscribeBurst     int           `yaml:"subscribe_burst"`
}

type ChannelsConfig struct {
	RawBuffer int `yaml:"raw_buffer"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

const (
	OrderModeRandom  = "random"
	OrderModeFunding = "funding"
)

// LoadConfig reads and validates the yaml configuration at path. Values are
// seeded with defaults first so an absent key keeps its default rather than
// collapsing to the zero value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Display: DisplayConfig{
			PrintEvery:  7 * time.Second,
			MaxRows:     250,
			StaleFor:    20 * time.Second,
			ClearScreen: true,
			OrderMode:   OrderModeRandom,
			PerpsOnly:   true,
		},
		Feed: FeedConfig{
			RestURL:            "https://api.prod.paradex.trade/v1",
			WsURL:              "wss://ws.api.prod.paradex.trade/v1",
			ConnectTimeout:     10 * time.Second,
			QuietAfter:         45 * time.Second,
			ReconnectBackoff:   2 * time.Second,
			SubscribePerSecond: 50,
			SubscribeBurst:     10,
		},
		Channels: ChannelsConfig{
			RawBuffer: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PERPSCAN_REST_URL"); v != "" {
		cfg.Feed.RestURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("PERPSCAN_WS_URL"); v != "" {
		cfg.Feed.WsURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("PERPSCAN_ORDER_MODE"); v != "" {
		cfg.Display.OrderMode = strings.ToLower(strings.TrimSpace(v))
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Perpscan.Name == "" {
		return fmt.Errorf("perpscan.name is required")
	}
	if cfg.Perpscan.Version == "" {
		return fmt.Errorf("perpscan.version is required")
	}

	if cfg.Display.PrintEvery <= 0 {
		return fmt.Errorf("display.print_every must be greater than 0")
	}
	if cfg.Display.MaxRows <= 0 {
		return fmt.Errorf("display.max_rows must be greater than 0")
	}
	if cfg.Display.StaleFor <= 0 {
		return fmt.Errorf("display.stale_for must be greater than 0")
	}
	switch cfg.Display.OrderMode {
	case OrderModeRandom, OrderModeFunding:
	default:
		return fmt.Errorf("display.order_mode '%s' is invalid (want %s or %s)", cfg.Display.OrderMode, OrderModeRandom, OrderModeFunding)
	}

	if cfg.Feed.RestURL == "" {
		return fmt.Errorf("feed.rest_url is required")
	}
	if cfg.Feed.WsURL == "" {
		return fmt.Errorf("feed.ws_url is required")
	}
	if cfg.Feed.QuietAfter <= 0 {
		return fmt.Errorf("feed.quiet_after must be greater than 0")
	}
	if cfg.Feed.ReconnectBackoff < 0 {
		return fmt.Errorf("feed.reconnect_backoff must not be negative")
	}
	if cfg.Feed.SubscribePerSecond <= 0 {
		return fmt.Errorf("feed.subscribe_per_second must be greater than 0")
	}
	if cfg.Feed.SubscribeBurst <= 0 {
		return fmt.Errorf("feed.subscribe_burst must be greater than 0")
	}

	if cfg.Channels.RawBuffer <= 0 {
		return fmt.Errorf("channels.raw_buffer must be greater than 0")
	}

	return nil
}
