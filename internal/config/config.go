package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var (
	globalConfig *Config
	loadOnce     sync.Once
)

// ErrMissingOTPSecret is returned when no OTP secret material is configured.
// The service refuses to start without it.
var ErrMissingOTPSecret = errors.New("OTP_SECRET or OTP_SECRET_CIPHERTEXT must be set")

type Config struct {
	Environment string

	Server        ServerConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Mail          MailConfig
	Hashing       HashingConfig
	KMS           KMSConfig
	OTP           OTPConfig
	Bucketing     BucketingConfig
	Logging       LoggingConfig
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	EnableTLS    bool
	CertFile     string
	KeyFile      string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers []string

	OTPTopic        string
	AuditTopic      string
	DeadLetterTopic string

	NotificationGroupID string
	AuditGroupID        string

	// Handler-level redelivery policy before a message is dead-lettered.
	MaxDeliveryAttempts int
	RetryBackoffMin     time.Duration
	RetryBackoffMax     time.Duration
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Enabled  bool
}

type MailConfig struct {
	PostmarkServerToken  string
	PostmarkAccountToken string
	FromAddress          string
	LoginURL             string
}

type HashingConfig struct {
	// OTPSecret keys the HMAC digest binding an OTP to its session token.
	// Never logged. May arrive KMS-encrypted, see KMSConfig.
	OTPSecret           string
	OTPSecretCiphertext string
	Argon2MemoryCost    int
	Argon2TimeCost      int
	Argon2Parallelism   int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type OTPConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	IssueCooldown  time.Duration
	StoreTimeout   time.Duration
	PublishTimeout time.Duration
}

type BucketingConfig struct {
	EventBuckets int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig reads configuration from the environment, loading a local
// .env file first when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", "localhost:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "verification"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Kafka: KafkaConfig{
			Brokers:             getEnvList("KAFKA_BROKERS", "localhost:9092"),
			OTPTopic:            getEnv("KAFKA_OTP_TOPIC", "otp-messages"),
			AuditTopic:          getEnv("KAFKA_AUDIT_TOPIC", "auth.audit.events"),
			DeadLetterTopic:     getEnv("KAFKA_DLQ_TOPIC", "otp-messages-dlq"),
			NotificationGroupID: getEnv("KAFKA_NOTIFICATION_GROUP", "notification-group"),
			AuditGroupID:        getEnv("KAFKA_AUDIT_GROUP", "audit-sink-group"),
			MaxDeliveryAttempts: getEnvInt("KAFKA_MAX_DELIVERY_ATTEMPTS", 3),
			RetryBackoffMin:     getEnvDuration("KAFKA_RETRY_BACKOFF_MIN", 500*time.Millisecond),
			RetryBackoffMax:     getEnvDuration("KAFKA_RETRY_BACKOFF_MAX", 10*time.Second),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Database: getEnv("CLICKHOUSE_DATABASE", "audit"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Enabled:  getEnvBool("ELASTICSEARCH_ENABLED", false),
		},
		Mail: MailConfig{
			PostmarkServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
			PostmarkAccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),
			FromAddress:          getEnv("MAIL_FROM_ADDRESS", "no-reply@localhost"),
			LoginURL:             getEnv("MAIL_LOGIN_URL", ""),
		},
		Hashing: HashingConfig{
			OTPSecret:           getEnv("OTP_SECRET", ""),
			OTPSecretCiphertext: getEnv("OTP_SECRET_CIPHERTEXT", ""),
			Argon2MemoryCost:    getEnvInt("ARGON2_MEMORY_COST", 65536),
			Argon2TimeCost:      getEnvInt("ARGON2_TIME_COST", 3),
			Argon2Parallelism:   getEnvInt("ARGON2_PARALLELISM", 2),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "ap-south-1"),
		},
		OTP: OTPConfig{
			TTL:            getEnvDuration("OTP_TTL", 10*time.Minute),
			MaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 5),
			IssueCooldown:  getEnvDuration("OTP_ISSUE_COOLDOWN", 60*time.Second),
			StoreTimeout:   getEnvDuration("OTP_STORE_TIMEOUT", 5*time.Second),
			PublishTimeout: getEnvDuration("OTP_PUBLISH_TIMEOUT", 10*time.Second),
		},
		Bucketing: BucketingConfig{
			EventBuckets: getEnvInt("EVENT_BUCKETS", 64),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Hashing.OTPSecret == "" && c.Hashing.OTPSecretCiphertext == "" {
		return ErrMissingOTPSecret
	}
	if c.Hashing.OTPSecretCiphertext != "" && !c.KMS.Enabled {
		return errors.New("OTP_SECRET_CIPHERTEXT requires KMS_ENABLED=true")
	}
	if c.OTP.MaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be >= 1, got %d", c.OTP.MaxAttempts)
	}
	if c.OTP.TTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive, got %s", c.OTP.TTL)
	}
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("KAFKA_BROKERS must not be empty")
	}
	return nil
}

// Get returns the last loaded configuration.
func Get() *Config {
	loadOnce.Do(func() {
		if globalConfig == nil {
			cfg, err := LoadConfig()
			if err != nil {
				panic("config not loaded: " + err.Error())
			}
			globalConfig = cfg
		}
	})
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
