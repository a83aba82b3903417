package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the coordinator's configuration.
type Config struct {
	// Service name
	ServiceName string

	// HTTP port for health probes
	HTTPPort int

	// Log level: debug, info, warn, error
	LogLevel string

	// Directory for the order store
	DataDir string

	// Kafka brokers (comma-separated)
	KafkaBrokers string

	// Topic carrying inbound order commands
	OrdersTopic string

	// Topic the public price feed is published to
	FeedTopic string

	// Consumer group for the order intake
	ConsumerGroup string

	// Instrument this coordinator trades
	Symbol string

	// Price oracle attached to every match
	OraclePubkey string
}

// defaultOraclePubkey is the x-only public key of the platform's price
// oracle.
const defaultOraclePubkey = "16f88cf7d21e6c0f46bcbc983a4e3b19726c6c98858cc31c83551a88fde171c0"

// LoadConfig loads configuration from a .env file (if present) and
// environment variables, with defaults.
func LoadConfig(serviceName string) *Config {
	_ = godotenv.Load()

	return &Config{
		ServiceName:   serviceName,
		HTTPPort:      getEnvAsInt("PORT_HTTP", 8080),
		LogLevel:      getEnvAsString("LOG_LEVEL", "info"),
		DataDir:       getEnvAsString("DATA_DIR", "./data"),
		KafkaBrokers:  getEnvAsString("KAFKA_BROKERS", "127.0.0.1:9092"),
		OrdersTopic:   getEnvAsString("ORDERS_TOPIC", "orderbook.orders"),
		FeedTopic:     getEnvAsString("FEED_TOPIC", "orderbook.feed"),
		ConsumerGroup: getEnvAsString("CONSUMER_GROUP", "coordinator-v1"),
		Symbol:        getEnvAsString("SYMBOL", "BTCUSD"),
		OraclePubkey:  getEnvAsString("ORACLE_PUBKEY", defaultOraclePubkey),
	}
}

// HTTPAddr returns the health server address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// Brokers returns the Kafka broker list.
func (c *Config) Brokers() []string {
	brokers := strings.Split(c.KafkaBrokers, ",")
	for i := range brokers {
		brokers[i] = strings.TrimSpace(brokers[i])
	}
	return brokers
}

func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
