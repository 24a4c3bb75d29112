package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Device gateway configuration
	GatewayListenAddr  string
	DevicePathPrefix   string
	FrameChannelSize   int
	ReadingChannelSize int

	// MQTT fan-out configuration
	MQTTBroker            string
	MQTTClientID          string
	MQTTUsername          string
	MQTTPassword          string
	MQTTTopicTelemetryPub string
	MQTTTopicTelemetrySub string

	// ClickHouse configuration
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Monitor configuration
	MonitorListenAddr        string
	MonitorTickSeconds       int
	MonitorActivePollSeconds int

	// Logging
	LogLevel string
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// Device gateway configuration
		GatewayListenAddr:  getEnv("GATEWAY_LISTEN_ADDR", ":8090"),
		DevicePathPrefix:   getEnv("GATEWAY_DEVICE_PATH_PREFIX", "/ws/device/"),
		FrameChannelSize:   getEnvInt("GATEWAY_FRAME_CHANNEL_SIZE", 256),
		ReadingChannelSize: getEnvInt("READING_CHANNEL_SIZE", 256),

		// MQTT fan-out configuration
		MQTTBroker:            getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:          getEnv("MQTT_CLIENT_ID", "pump-backend"),
		MQTTUsername:          getEnv("MQTT_USERNAME", ""),
		MQTTPassword:          getEnv("MQTT_PASSWORD", ""),
		MQTTTopicTelemetryPub: getEnv("MQTT_TOPIC_TELEMETRY_PUB", "telemetry/{device_id}"),
		MQTTTopicTelemetrySub: getEnv("MQTT_TOPIC_TELEMETRY_SUB", "telemetry/+"),

		// ClickHouse configuration
		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "pump"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		// Monitor configuration
		MonitorListenAddr:        getEnv("MONITOR_LISTEN_ADDR", ":8091"),
		MonitorTickSeconds:       getEnvInt("MONITOR_TICK_SECONDS", 10),
		MonitorActivePollSeconds: getEnvInt("MONITOR_ACTIVE_POLL_SECONDS", 30),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %s, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
