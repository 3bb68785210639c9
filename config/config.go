package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wattwatch/models"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreFirebase = "firebase"
	StoreNats     = "nats"
	StoreSqlite   = "sqlite"
)

type Config struct {
	// Durable store
	StoreBackend               string
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	NatsURL                    string
	NatsBucket                 string
	SqlitePath                 string

	// Sample sources
	MQTTBroker       string
	MQTTUsername     string
	MQTTPassword     string
	MQTTTopic        string
	RabbitMQURL      string
	RabbitMQExchange string
	RabbitMQQueue    string

	FirebaseReadingsPath string

	// Notifications
	TelegramBotToken         string
	TelegramChatID           string
	TelegramStarted          string
	TelegramFinished         string
	VoiceURL                 string
	VoiceStarted             string
	VoiceFinished            string
	KafkaBrokers             []string
	KafkaTopic               string
	RabbitMQEventsRoutingKey string

	// Metering engine
	DevicesFile      string
	WindowSize       int
	MeteringInterval time.Duration
	RollupInterval   time.Duration
	PricePerKWh      float64
	JobHistoryLimit  int
	SampleTimeout    time.Duration

	HTTPAddr string
	LogLevel string
	Timezone string

	Devices []models.DeviceConfig
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		StoreBackend:               getEnv("STORE_BACKEND", StoreMemory),
		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		NatsURL:                    getEnv("NATS_URL", ""),
		NatsBucket:                 getEnv("NATS_BUCKET", "wattwatch"),
		SqlitePath:                 getEnv("SQLITE_PATH", "wattwatch.db"),

		MQTTBroker:       getEnv("MQTT_BROKER", ""),
		MQTTUsername:     getEnv("MQTT_USERNAME", ""),
		MQTTPassword:     getEnv("MQTT_PASSWORD", ""),
		MQTTTopic:        getEnv("MQTT_TOPIC", "wattwatch/+/power"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "wattwatch"),
		RabbitMQQueue:    getEnv("RABBITMQ_QUEUE", "power_readings"),

		FirebaseReadingsPath: getEnv("FIREBASE_READINGS_PATH", ""),

		TelegramBotToken:         getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:           getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramStarted:          getEnv("TELEGRAM_STARTED", "%device% has started."),
		TelegramFinished:         getEnv("TELEGRAM_FINISHED", "%device% has finished."),
		VoiceURL:                 getEnv("VOICE_URL", ""),
		VoiceStarted:             getEnv("VOICE_STARTED", "%device% has started."),
		VoiceFinished:            getEnv("VOICE_FINISHED", "%device% has finished."),
		KafkaBrokers:             getEnvList("KAFKA_BROKERS"),
		KafkaTopic:               getEnv("KAFKA_TOPIC", "wattwatch.jobs"),
		RabbitMQEventsRoutingKey: getEnv("RABBITMQ_EVENTS_ROUTING_KEY", "device_events"),

		DevicesFile:      getEnv("DEVICES_FILE", ""),
		WindowSize:       getEnvInt("WINDOW_SIZE", 12),
		MeteringInterval: getEnvDuration("METERING_INTERVAL", 10*time.Second),
		RollupInterval:   getEnvDuration("ROLLUP_INTERVAL", time.Minute),
		PricePerKWh:      getEnvFloat("PRICE_PER_KWH", 0),
		JobHistoryLimit:  getEnvInt("JOB_HISTORY_LIMIT", 0),
		SampleTimeout:    getEnvDuration("SAMPLE_TIMEOUT", 10*time.Minute),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Timezone: getEnv("TIMEZONE", "Local"),
	}

	devices, err := loadDevices(config.DevicesFile, os.Getenv("DEVICES_JSON"))
	if err != nil {
		return nil, err
	}
	config.Devices = devices

	return config, nil
}

// Validate checks that the selected backends have what they need
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreMemory:
	case StoreFirebase:
		if c.FirebaseDbUrl == "" || c.FirebaseServiceAccountJSON == "" {
			return errors.New("firebase store requires FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON")
		}
	case StoreNats:
		if c.NatsURL == "" {
			return errors.New("nats store requires NATS_URL")
		}
	case StoreSqlite:
		if c.SqlitePath == "" {
			return errors.New("sqlite store requires SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.WindowSize < 1 {
		return fmt.Errorf("WINDOW_SIZE must be positive, got %d", c.WindowSize)
	}
	if c.MeteringInterval <= 0 || c.RollupInterval <= 0 {
		return errors.New("METERING_INTERVAL and ROLLUP_INTERVAL must be positive")
	}
	if c.TelegramBotToken != "" && c.TelegramChatID == "" {
		return errors.New("TELEGRAM_CHAT_ID is required when TELEGRAM_BOT_TOKEN is set")
	}
	if c.FirebaseReadingsPath != "" && (c.FirebaseDbUrl == "" || c.FirebaseServiceAccountJSON == "") {
		return errors.New("FIREBASE_READINGS_PATH requires FIREBASE_DB_URL and FIREBASE_SERVICE_ACCOUNT_JSON")
	}
	if c.MQTTBroker == "" && c.RabbitMQURL == "" && c.FirebaseReadingsPath == "" {
		return errors.New("at least one sample source (MQTT_BROKER, RABBITMQ_URL or FIREBASE_READINGS_PATH) is required")
	}

	return nil
}

// loadDevices reads the device list from a JSON file, falling back to inline JSON
func loadDevices(path, inline string) ([]models.DeviceConfig, error) {
	var raw []byte

	switch {
	case path != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read devices file: %w", err)
		}
		raw = data
	case strings.TrimSpace(inline) != "":
		raw = []byte(inline)
	default:
		return nil, nil
	}

	var devices []models.DeviceConfig
	if err := json.Unmarshal(raw, &devices); err != nil {
		return nil, fmt.Errorf("failed to parse devices: %w", err)
	}

	return devices, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
