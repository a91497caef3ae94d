package config

import "time"

// ChatSync definition chat_sync YAML structure
type ChatSync struct {
	Port     string         `mapstructure:"port"`
	MongoSQL DatabaseConfig `mapstructure:"mongo"`
	Postgres DatabaseConfig `mapstructure:"pg"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	RabbitMQ DatabaseConfig `mapstructure:"rabbitmq"`
	Bus      BusConfig      `mapstructure:"bus"`
	Sync     SyncConfig     `mapstructure:"sync"`
	JWT      JWTConfig      `mapstructure:"jwt"`
}

// BusDriver selects the change bus transport
type BusDriver string

const (
	// BusRedis redis pub/sub
	BusRedis BusDriver = "redis"
	// BusKafka kafka topics
	BusKafka BusDriver = "kafka"
	// BusRabbitMQ rabbitmq fanout exchanges
	BusRabbitMQ BusDriver = "rabbitmq"
	// BusMemory in-process, single node only
	BusMemory BusDriver = "memory"
)

// BusConfig definition change bus setting
type BusConfig struct {
	Driver BusDriver `mapstructure:"driver"`
	// Prefix is prepended to every topic name on the wire
	Prefix string `mapstructure:"prefix"`
}

// SyncConfig definition sync engine setting
type SyncConfig struct {
	TypingIdleTimeout time.Duration `mapstructure:"typing_idle_timeout"`
	FetchTimeout      time.Duration `mapstructure:"fetch_timeout"`
	StatusTimeout     time.Duration `mapstructure:"status_timeout"`
	QueueSize         int           `mapstructure:"queue_size"`
}

// JWTConfig definition token verify setting
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	RedisDB  int    `mapstructure:"redis_db"`
}

// KafkaConfig definition kafka setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// WithDefaults fill zero values with the service defaults
func (s SyncConfig) WithDefaults() SyncConfig {
	if s.TypingIdleTimeout <= 0 {
		s.TypingIdleTimeout = 2 * time.Second
	}
	if s.FetchTimeout <= 0 {
		s.FetchTimeout = 10 * time.Second
	}
	if s.StatusTimeout <= 0 {
		s.StatusTimeout = 3 * time.Second
	}
	if s.QueueSize <= 0 {
		s.QueueSize = 256
	}
	return s
}
