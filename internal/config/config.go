package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds runtime configuration for the monitor.
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	MQTT     MQTTConfig     `mapstructure:"mqtt"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Events   EventsConfig   `mapstructure:"events"`
}

// HTTPConfig configures the HTTP API surface.
type HTTPConfig struct {
	Addr        string `mapstructure:"addr"`
	MaxBodySize int64  `mapstructure:"max_body_size"`
}

// MQTTConfig configures the ingestion listener.
type MQTTConfig struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Topics         []string      `mapstructure:"topics"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// StorageConfig selects and configures the reading store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // postgres or memory
	DSN     string `mapstructure:"dsn"`
}

// AlertingConfig toggles rule evaluation. When disabled, readings are
// still persisted and fanned out but no rules fire.
type AlertingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// KafkaConfig configures the optional Kafka event mirror.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// WatchdogConfig configures the device offline sweep.
type WatchdogConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	OfflineAfter time.Duration `mapstructure:"offline_after"`
}

// EventsConfig configures the notification dispatcher.
type EventsConfig struct {
	QueueSize int `mapstructure:"queue_size"`
	Workers   int `mapstructure:"workers"`
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:        ":8080",
			MaxBodySize: 10 * 1024 * 1024,
		},
		MQTT: MQTTConfig{
			Broker:   "tcp://localhost:1883",
			ClientID: "iotmon-server",
			Topics: []string{
				"devices/+/sensors/+/readings",
				"sensor/reading/+/+",
			},
			ConnectTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Alerting: AlertingConfig{
			Enabled: true,
		},
		Kafka: KafkaConfig{
			Enabled:      false,
			Brokers:      []string{"localhost:9092"},
			Topic:        "iotmon.events",
			BatchTimeout: 100 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
			MaxRetries:   3,
		},
		Watchdog: WatchdogConfig{
			Enabled:      true,
			Interval:     30 * time.Second,
			OfflineAfter: 5 * time.Minute,
		},
		Events: EventsConfig{
			QueueSize: 1000,
			Workers:   4,
		},
	}
}

// Load reads configuration from the given YAML file, falling back to
// defaults for any key the file omits.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("http.addr", cfg.HTTP.Addr)
	v.SetDefault("http.max_body_size", cfg.HTTP.MaxBodySize)
	v.SetDefault("mqtt.broker", cfg.MQTT.Broker)
	v.SetDefault("mqtt.client_id", cfg.MQTT.ClientID)
	v.SetDefault("mqtt.topics", cfg.MQTT.Topics)
	v.SetDefault("mqtt.connect_timeout", cfg.MQTT.ConnectTimeout)
	v.SetDefault("storage.backend", cfg.Storage.Backend)
	v.SetDefault("alerting.enabled", cfg.Alerting.Enabled)
	v.SetDefault("kafka.enabled", cfg.Kafka.Enabled)
	v.SetDefault("kafka.brokers", cfg.Kafka.Brokers)
	v.SetDefault("kafka.topic", cfg.Kafka.Topic)
	v.SetDefault("kafka.batch_timeout", cfg.Kafka.BatchTimeout)
	v.SetDefault("kafka.write_timeout", cfg.Kafka.WriteTimeout)
	v.SetDefault("kafka.max_retries", cfg.Kafka.MaxRetries)
	v.SetDefault("watchdog.enabled", cfg.Watchdog.Enabled)
	v.SetDefault("watchdog.interval", cfg.Watchdog.Interval)
	v.SetDefault("watchdog.offline_after", cfg.Watchdog.OfflineAfter)
	v.SetDefault("events.queue_size", cfg.Events.QueueSize)
	v.SetDefault("events.workers", cfg.Events.Workers)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var loaded Config
	if err := v.Unmarshal(&loaded); err != nil {
		return nil, err
	}

	return &loaded, nil
}
