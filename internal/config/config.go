package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port         int           `yaml:"port" env:"BOT_PORT"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level    string `yaml:"level" env:"BOT_LOG_LEVEL"`
		Encoding string `yaml:"encoding"`
	} `yaml:"logging"`
	Storage struct {
		Path string `yaml:"path" env:"BOT_DB_PATH"`
	} `yaml:"storage"`
	Broker     BrokerConfig     `yaml:"broker"`
	MarketData MarketDataConfig `yaml:"market_data"`
	Trading    TradingConfig    `yaml:"trading"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Kafka      struct {
		Brokers []string `yaml:"brokers" env:"BOT_KAFKA_BROKERS" envSeparator:","`
		Topic   string   `yaml:"topic" env:"BOT_KAFKA_TOPIC"`
	} `yaml:"kafka"`
	Profiling struct {
		ServerAddress string `yaml:"server_address" env:"BOT_PYROSCOPE_ADDR"`
	} `yaml:"profiling"`
}

type BrokerConfig struct {
	// Mode selects the gateway implementation: "alpaca" or "simulated".
	Mode            string        `yaml:"mode" env:"BOT_BROKER_MODE"`
	PaperEndpoint   string        `yaml:"paper_endpoint"`
	LiveEndpoint    string        `yaml:"live_endpoint"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	SimulatedCash   float64       `yaml:"simulated_cash"`
	AccountCacheTTL time.Duration `yaml:"account_cache_ttl"`
}

type MarketDataConfig struct {
	// Source selects the tick feed: "broker" (streaming API) or "simulator".
	Source     string   `yaml:"source" env:"BOT_MARKET_SOURCE"`
	WSEndpoint string   `yaml:"ws_endpoint"`
	APIKey     string   `yaml:"api_key" env:"BOT_DATA_API_KEY"`
	APISecret  string   `yaml:"api_secret" env:"BOT_DATA_API_SECRET"`
	Symbols    []string `yaml:"symbols"`
	// SimulatorInterval is the tick cadence of the simulator feed.
	SimulatorInterval time.Duration `yaml:"simulator_interval"`
	HistorySize       int           `yaml:"history_size"`
	RecentWindow      int           `yaml:"recent_window"`
}

type TradingConfig struct {
	AdmissionThreshold float64 `yaml:"admission_threshold"`
	DefaultQty         float64 `yaml:"default_qty"`
	RiskFraction       float64 `yaml:"risk_fraction"`
	MinQtyIncrement    float64 `yaml:"min_qty_increment"`
	AllowShort         bool    `yaml:"allow_short"`
}

type SchedulerConfig struct {
	Low    time.Duration `yaml:"low"`
	Medium time.Duration `yaml:"medium"`
	High   time.Duration `yaml:"high"`
}

// Defaults returns a config that runs fully in simulation.
func Defaults() *Config {
	cfg := &Config{}
	cfg.Server.Port = 8080
	cfg.Server.WriteTimeout = 5 * time.Second
	cfg.Logging.Level = "info"
	cfg.Logging.Encoding = "json"
	cfg.Storage.Path = "bot.db"
	cfg.Broker = BrokerConfig{
		Mode:            "simulated",
		PaperEndpoint:   "https://paper-api.alpaca.markets",
		LiveEndpoint:    "https://api.alpaca.markets",
		RequestTimeout:  10 * time.Second,
		SimulatedCash:   10000,
		AccountCacheTTL: 15 * time.Second,
	}
	cfg.MarketData = MarketDataConfig{
		Source:            "simulator",
		WSEndpoint:        "wss://stream.data.alpaca.markets/v1beta3/crypto/us",
		Symbols:           []string{"BTCUSD", "ETHUSD"},
		SimulatorInterval: time.Second,
		HistorySize:       200,
		RecentWindow:      20,
	}
	cfg.Trading = TradingConfig{
		AdmissionThreshold: 70,
		DefaultQty:         0.001,
		RiskFraction:       0.02,
		MinQtyIncrement:    0.0001,
	}
	cfg.Kafka.Topic = "bot-events"
	cfg.Scheduler = SchedulerConfig{
		Low:    5 * time.Minute,
		Medium: time.Minute,
		High:   10 * time.Second,
	}
	return cfg
}

// Load reads the YAML file at path over the defaults and then applies BOT_*
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			decoder := yaml.NewDecoder(f)
			if err := decoder.Decode(cfg); err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		case os.IsNotExist(err):
		default:
			return nil, err
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Broker.Mode {
	case "alpaca", "simulated":
	default:
		return fmt.Errorf("broker.mode must be alpaca or simulated, got %q", c.Broker.Mode)
	}
	switch c.MarketData.Source {
	case "broker", "simulator":
	default:
		return fmt.Errorf("market_data.source must be broker or simulator, got %q", c.MarketData.Source)
	}
	if c.Trading.AdmissionThreshold < 0 || c.Trading.AdmissionThreshold > 100 {
		return fmt.Errorf("trading.admission_threshold must be within [0,100]")
	}
	if c.Trading.MinQtyIncrement <= 0 {
		return fmt.Errorf("trading.min_qty_increment must be positive")
	}
	if c.Scheduler.Low <= 0 || c.Scheduler.Medium <= 0 || c.Scheduler.High <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}
	if c.MarketData.RecentWindow <= 0 || c.MarketData.HistorySize < c.MarketData.RecentWindow {
		return fmt.Errorf("market_data.history_size must be >= recent_window > 0")
	}
	return nil
}
