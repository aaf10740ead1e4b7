package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	WeighBox WeighBoxConfig `yaml:"weighbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                            string `yaml:"host"`
	Port                            int    `yaml:"port"`
	AppointmentBookedTopicName      string `yaml:"appointment_booked_topic_name"`
	AppointmentCompensatedTopicName string `yaml:"appointment_compensated_topic_name"`
	SADRegisteredTopicName          string `yaml:"sad_registered_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type WeighBoxConfig struct {
	HTTPAddr                   string `yaml:"http_addr"`
	KafkaConsumerGroup         string `yaml:"kafka_consumer_group"`
	AppointmentCacheTTLSeconds int    `yaml:"appointment_cache_ttl_seconds"`

	// "count" (default) or "redis".
	SequenceSource string `yaml:"sequence_source"`

	BookingMaxAttempts        int `yaml:"booking_max_attempts"`
	BookingJitterMinMillis    int `yaml:"booking_jitter_min_millis"`
	BookingJitterMaxMillis    int `yaml:"booking_jitter_max_millis"`
	StoreCallTimeoutMillis    int `yaml:"store_call_timeout_millis"`
	BookingRateLimitPerMinute int `yaml:"booking_rate_limit_per_minute"`

	// Actors allowed to delete appointments created by someone else.
	AdminIDs []string `yaml:"admin_ids"`

	SADRegistryMode    string `yaml:"sad_registry_mode"` // "db" | "http" | "fake"
	SADRegistryBaseURL string `yaml:"sad_registry_base_url"`
	SADRegistryAPIKey  string `yaml:"sad_registry_api_key"`

	// SAD numbers the fake registry treats as registered.
	SADRegistryFakeSADs []string `yaml:"sad_registry_fake_sads"`

	WorkerSweepIntervalSeconds int    `yaml:"worker_sweep_interval_seconds"`
	WorkerOrphanGraceSeconds   int    `yaml:"worker_orphan_grace_seconds"`
	WorkerBatchSize            int    `yaml:"worker_batch_size"`
	WorkerConcurrency          int    `yaml:"worker_concurrency"`
	WorkerHTTPAddr             string `yaml:"worker_http_addr"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
