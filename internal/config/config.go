package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Feed     FeedConfig
	Analysis AnalysisConfig
	Broker   BrokerConfig
	Strategy StrategyConfig
	Logging  LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port int
	Host string
}

// DatabaseConfig - настройки подключения к БД
//
// Enabled=false запускает сервер без Postgres: журнал сделок живет
// только в памяти сессии.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// FeedConfig - настройки менеджера рыночных данных
type FeedConfig struct {
	Symbols            []string
	BarInterval        time.Duration
	MaxSymbols         int
	RingCapacity       int
	StaleAfter         time.Duration
	ReconnectDelay     time.Duration
	MaxReconnectDelay  time.Duration
	RefRefreshInterval time.Duration
}

// AnalysisConfig - настройки lead-lag анализа
type AnalysisConfig struct {
	Interval   time.Duration
	MaxLag     int
	Window     int
	TopK       int
	MinAbsCorr float64
}

// BrokerConfig - настройки бумажного брокера
type BrokerConfig struct {
	InitialCash  float64
	FeeBps       float64
	SlippageBps  float64
	TP1CloseFrac float64
	BEDwellBars  int
}

// StrategyConfig - настройки торговой стратегии
type StrategyConfig struct {
	AutoStart bool
	Interval  time.Duration

	MinCorrelation float64
	ImpulseZ       float64
	ConfirmZ       float64
	Notional       float64
	EdgeMultiple   float64

	SetupTTLBars     int
	CooldownBars     int
	MaxHoldBars      int
	MaxTradesPerHour int
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level       string
	Format      string
	Output      string
	Development bool
}

// Load загружает конфигурацию из переменных окружения
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "leadlag"),
			User:     getEnv("DB_USER", "leadlag"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Feed: FeedConfig{
			Symbols:            getEnvAsList("FEED_SYMBOLS", []string{"BTCUSDT", "ETHUSDT"}),
			BarInterval:        getEnvAsDuration("FEED_BAR_INTERVAL", 500*time.Millisecond),
			MaxSymbols:         getEnvAsInt("FEED_MAX_SYMBOLS", 50),
			RingCapacity:       getEnvAsInt("FEED_RING_CAPACITY", 2048),
			StaleAfter:         getEnvAsDuration("FEED_STALE_AFTER", 10*time.Second),
			ReconnectDelay:     getEnvAsDuration("FEED_RECONNECT_DELAY", 500*time.Millisecond),
			MaxReconnectDelay:  getEnvAsDuration("FEED_MAX_RECONNECT_DELAY", 15*time.Second),
			RefRefreshInterval: getEnvAsDuration("FEED_REF_REFRESH_INTERVAL", 5*time.Minute),
		},
		Analysis: AnalysisConfig{
			Interval:   getEnvAsDuration("ANALYSIS_INTERVAL", 5*time.Second),
			MaxLag:     getEnvAsInt("ANALYSIS_MAX_LAG", 10),
			Window:     getEnvAsInt("ANALYSIS_WINDOW", 600),
			TopK:       getEnvAsInt("ANALYSIS_TOP_K", 20),
			MinAbsCorr: getEnvAsFloat("ANALYSIS_MIN_ABS_CORR", 0.0),
		},
		Broker: BrokerConfig{
			InitialCash:  getEnvAsFloat("BROKER_INITIAL_CASH", 10000),
			FeeBps:       getEnvAsFloat("BROKER_FEE_BPS", 6),
			SlippageBps:  getEnvAsFloat("BROKER_SLIPPAGE_BPS", 2),
			TP1CloseFrac: getEnvAsFloat("BROKER_TP1_CLOSE_FRAC", 0.5),
			BEDwellBars:  getEnvAsInt("BROKER_BE_DWELL_BARS", 2),
		},
		Strategy: StrategyConfig{
			AutoStart:        getEnvAsBool("STRATEGY_AUTO_START", false),
			Interval:         getEnvAsDuration("STRATEGY_INTERVAL", 250*time.Millisecond),
			MinCorrelation:   getEnvAsFloat("STRATEGY_MIN_CORRELATION", 0.35),
			ImpulseZ:         getEnvAsFloat("STRATEGY_IMPULSE_Z", 2.5),
			ConfirmZ:         getEnvAsFloat("STRATEGY_CONFIRM_Z", 0.5),
			Notional:         getEnvAsFloat("STRATEGY_NOTIONAL", 100),
			EdgeMultiple:     getEnvAsFloat("STRATEGY_EDGE_MULTIPLE", 5),
			SetupTTLBars:     getEnvAsInt("STRATEGY_SETUP_TTL_BARS", 3),
			CooldownBars:     getEnvAsInt("STRATEGY_COOLDOWN_BARS", 10),
			MaxHoldBars:      getEnvAsInt("STRATEGY_MAX_HOLD_BARS", 60),
			MaxTradesPerHour: getEnvAsInt("STRATEGY_MAX_TRADES_PER_HOUR", 6),
		},
		Logging: LoggingConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Format:      getEnv("LOG_FORMAT", "json"),
			Output:      getEnv("LOG_OUTPUT", "stdout"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет числовые диапазоны параметров
func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled {
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
		}
		if c.Database.Name == "" || c.Database.User == "" {
			return fmt.Errorf("DB_NAME and DB_USER are required when DB_ENABLED=true")
		}
	}

	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("FEED_SYMBOLS must not be empty")
	}
	if c.Feed.BarInterval <= 0 {
		return fmt.Errorf("FEED_BAR_INTERVAL must be positive, got %v", c.Feed.BarInterval)
	}
	if c.Feed.StaleAfter <= 0 {
		return fmt.Errorf("FEED_STALE_AFTER must be positive, got %v", c.Feed.StaleAfter)
	}

	if c.Analysis.MaxLag < 1 {
		return fmt.Errorf("ANALYSIS_MAX_LAG must be at least 1, got %d", c.Analysis.MaxLag)
	}
	if c.Analysis.Window < c.Analysis.MaxLag*2 {
		return fmt.Errorf("ANALYSIS_WINDOW must be at least twice ANALYSIS_MAX_LAG, got %d", c.Analysis.Window)
	}

	if c.Broker.InitialCash <= 0 {
		return fmt.Errorf("BROKER_INITIAL_CASH must be positive, got %v", c.Broker.InitialCash)
	}
	if c.Broker.FeeBps < 0 || c.Broker.SlippageBps < 0 {
		return fmt.Errorf("fee and slippage bps cannot be negative")
	}
	if c.Broker.TP1CloseFrac <= 0 || c.Broker.TP1CloseFrac >= 1 {
		return fmt.Errorf("BROKER_TP1_CLOSE_FRAC must be in (0, 1), got %v", c.Broker.TP1CloseFrac)
	}

	if c.Strategy.Notional <= 0 {
		return fmt.Errorf("STRATEGY_NOTIONAL must be positive, got %v", c.Strategy.Notional)
	}
	if c.Strategy.Notional > c.Broker.InitialCash {
		return fmt.Errorf("STRATEGY_NOTIONAL %v exceeds BROKER_INITIAL_CASH %v",
			c.Strategy.Notional, c.Broker.InitialCash)
	}

	return nil
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
