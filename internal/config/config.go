// Package config loads agent configuration from built-in defaults, an
// optional YAML file, and ATLAS_-prefixed environment variables, in that
// order of increasing precedence, via Viper.
package config

import (
	"fmt"
	"time"

	"github.com/atlas-desktop/derivatives-agent/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the agent's full runtime configuration.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Agent  AgentConfig  `mapstructure:"agent"`
	Data   DataConfig   `mapstructure:"data"`
}

// ServerConfig mirrors types.ServerConfig with mapstructure tags.
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	WebSocketPath  string        `mapstructure:"websocketPath"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	MaxConnections int           `mapstructure:"maxConnections"`
	EnableMetrics  bool          `mapstructure:"enableMetrics"`
	MetricsPort    int           `mapstructure:"metricsPort"`
}

// AgentConfig carries the trading-domain settings: symbols traded, default
// risk/leverage, and the circuit breaker threshold.
type AgentConfig struct {
	Symbols               []string `mapstructure:"symbols"`
	Timeframe             string   `mapstructure:"timeframe"`
	DefaultLeverage       int      `mapstructure:"defaultLeverage"`
	DefaultRiskPercent    float64  `mapstructure:"defaultRiskPercent"`
	CircuitBreakerLossPct float64  `mapstructure:"circuitBreakerLossPct"`
	StartingBalance       float64  `mapstructure:"startingBalance"`
	Paper                 bool     `mapstructure:"paper"`
}

// DataConfig carries persistence settings.
type DataConfig struct {
	DataDir string `mapstructure:"dataDir"`
}

// ToServerConfig adapts this package's ServerConfig to types.ServerConfig
// for internal/api.
func (c ServerConfig) ToServerConfig() *types.ServerConfig {
	return &types.ServerConfig{
		Host: c.Host, Port: c.Port, WebSocketPath: c.WebSocketPath,
		ReadTimeout: c.ReadTimeout, WriteTimeout: c.WriteTimeout,
		MaxConnections: c.MaxConnections, EnableMetrics: c.EnableMetrics, MetricsPort: c.MetricsPort,
	}
}

// DefaultRiskPercentDecimal returns AgentConfig.DefaultRiskPercent as a
// decimal.Decimal, the type the sizing and contract packages expect.
func (a AgentConfig) DefaultRiskPercentDecimal() decimal.Decimal {
	return decimal.NewFromFloat(a.DefaultRiskPercent)
}

// Load reads config from the optional file at path (if non-empty) and
// ATLAS_-prefixed environment variables over the built-in defaults, and
// returns the merged Config. It binds no command-line flags.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ATLAS")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocketPath", "/ws")
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 15*time.Second)
	v.SetDefault("server.maxConnections", 100)
	v.SetDefault("server.enableMetrics", true)
	v.SetDefault("server.metricsPort", 9090)

	v.SetDefault("agent.symbols", []string{"BTCUSDT"})
	v.SetDefault("agent.timeframe", "1h")
	v.SetDefault("agent.defaultLeverage", 3)
	v.SetDefault("agent.defaultRiskPercent", 1.0)
	v.SetDefault("agent.circuitBreakerLossPct", 50.0)
	v.SetDefault("agent.startingBalance", 10000.0)
	v.SetDefault("agent.paper", true)

	v.SetDefault("data.dataDir", "./data")
}
