// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Ledger LedgerConfig
	Engine EngineConfig
	Kafka  KafkaConfig
	Outbox OutboxConfig
	Server ServerConfig
}

// LedgerConfig sizes the balance ledger.
type LedgerConfig struct {
	MaxUsers       uint32
	MaxSymbols     uint32
	DefaultBalance uint64
}

// EngineConfig sizes the matching engine and its rings.
type EngineConfig struct {
	Symbols           []uint32
	ArenaCapacity     int
	RingCapacity      int
	EventRingCapacity int
}

// KafkaConfig holds broker endpoints and topics.
type KafkaConfig struct {
	Brokers         []string
	TradesTopic     string
	MarketDataTopic string
	Enabled         bool
}

// OutboxConfig holds the durable event store settings.
type OutboxConfig struct {
	Dir           string
	FlushInterval time.Duration
}

// ServerConfig holds the operational HTTP surface.
type ServerConfig struct {
	MetricsAddr string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load() // missing .env is fine

	cfg := &Config{
		Ledger: LedgerConfig{
			MaxUsers:       uint32(getEnvInt("FENRIR_MAX_USERS", 100000)),
			MaxSymbols:     uint32(getEnvInt("FENRIR_MAX_SYMBOLS", 64)),
			DefaultBalance: uint64(getEnvInt("FENRIR_DEFAULT_BALANCE", 0)),
		},
		Engine: EngineConfig{
			Symbols:           getEnvSymbols("FENRIR_SYMBOLS", []uint32{1}),
			ArenaCapacity:     getEnvInt("FENRIR_ARENA_CAPACITY", 1<<20),
			RingCapacity:      getEnvInt("FENRIR_RING_CAPACITY", 32768),
			EventRingCapacity: getEnvInt("FENRIR_EVENT_RING_CAPACITY", 65536),
		},
		Kafka: KafkaConfig{
			Brokers:         strings.Split(getEnvString("FENRIR_KAFKA_BROKERS", "localhost:9092"), ","),
			TradesTopic:     getEnvString("FENRIR_TRADES_TOPIC", "fenrir.trades"),
			MarketDataTopic: getEnvString("FENRIR_MARKET_DATA_TOPIC", "fenrir.depth"),
			Enabled:         getEnvBool("FENRIR_KAFKA_ENABLED", true),
		},
		Outbox: OutboxConfig{
			Dir:           getEnvString("FENRIR_OUTBOX_DIR", "data/outbox"),
			FlushInterval: getEnvDuration("FENRIR_OUTBOX_FLUSH_INTERVAL", 250*time.Millisecond),
		},
		Server: ServerConfig{
			MetricsAddr: getEnvString("FENRIR_METRICS_ADDR", ":9100"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the rings and ledger cannot honor.
func (c *Config) Validate() error {
	if c.Ledger.MaxUsers == 0 {
		return fmt.Errorf("max users must be positive")
	}
	if c.Ledger.MaxSymbols == 0 {
		return fmt.Errorf("max symbols must be positive")
	}
	if len(c.Engine.Symbols) == 0 {
		return fmt.Errorf("at least one symbol required")
	}
	for _, s := range c.Engine.Symbols {
		if s >= c.Ledger.MaxSymbols {
			return fmt.Errorf("symbol %d outside ledger range (max %d)", s, c.Ledger.MaxSymbols)
		}
	}
	if c.Engine.ArenaCapacity <= 0 {
		return fmt.Errorf("invalid arena capacity: %d", c.Engine.ArenaCapacity)
	}
	if !isPowerOfTwo(c.Engine.RingCapacity) {
		return fmt.Errorf("ring capacity must be a power of two, got %d", c.Engine.RingCapacity)
	}
	if !isPowerOfTwo(c.Engine.EventRingCapacity) {
		return fmt.Errorf("event ring capacity must be a power of two, got %d", c.Engine.EventRingCapacity)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka enabled but no brokers configured")
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Ledger{Users:%d, Symbols:%d}, Engine{Books:%d, Arena:%d, Ring:%d}, Kafka{Enabled:%v, Brokers:%d}",
		c.Ledger.MaxUsers, c.Ledger.MaxSymbols,
		len(c.Engine.Symbols), c.Engine.ArenaCapacity, c.Engine.RingCapacity,
		c.Kafka.Enabled, len(c.Kafka.Brokers),
	)
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// ---- env helpers ----

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSymbols(key string, defaultValue []uint32) []uint32 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []uint32
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
		if err != nil {
			return defaultValue
		}
		out = append(out, uint32(n))
	}
	return out
}
