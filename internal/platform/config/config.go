package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration assembled from the environment.
type Config struct {
	Environment string
	LogLevel    string
	Server      Server
	Auth        Auth
	Postgres    PostgresConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Audit       AuditConfig
	Approval    ApprovalConfig
	Notify      NotifyConfig
	Forms       FormsConfig
	RateLimit   RateLimitConfig
	Tracing     TracingConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
}

// PostgresConfig is empty (URL == "") when Postgres is not configured.
type PostgresConfig struct {
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	ConnMaxLife  time.Duration
}

// RedisConfig is empty (URL == "") when Redis is not configured.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig is empty (no Brokers) when no audit anchor is configured.
type KafkaConfig struct {
	Brokers           []string
	AnchorTopic       string
	AnchorPartitions  int32
	AnchorReplication int16
}

// AuditConfig sizes the queue between workflows and the audit store.
type AuditConfig struct {
	QueueSize int
}

type ApprovalConfig struct {
	RequiredApprovals int
	RejectThreshold   int
	MaxRetries        int
}

type NotifyConfig struct {
	Workers     int
	BufferSize  int
	MaxAttempts int
	BaseBackoff time.Duration
}

type FormsConfig struct {
	SeedFile string
}

type RateLimitConfig struct {
	Disabled       bool
	ApprovalLimit  int
	ApprovalWindow time.Duration
}

type TracingConfig struct {
	ServiceName string
}

// Load reads an optional .env file, then the environment.
func Load() Config {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	return Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: Server{
			Addr:            getEnv("BIZPORTAL_ADDR", ":8080"),
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Auth: Auth{
			// development default; must be overridden in production
			JWTSigningKey: getEnv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
			JWTIssuer:     getEnv("JWT_ISSUER", "bizportal"),
		},
		Postgres: PostgresConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLife:  getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers:           splitList(os.Getenv("KAFKA_BROKERS")),
			AnchorTopic:       getEnv("AUDIT_ANCHOR_TOPIC", "bizportal.audit.anchor"),
			AnchorPartitions:  int32(getEnvInt("AUDIT_ANCHOR_PARTITIONS", 3)),
			AnchorReplication: int16(getEnvInt("AUDIT_ANCHOR_REPLICATION", 1)),
		},
		Audit: AuditConfig{
			QueueSize: getEnvInt("AUDIT_QUEUE_SIZE", 1024),
		},
		Approval: ApprovalConfig{
			RequiredApprovals: getEnvInt("APPROVAL_REQUIRED_APPROVALS", 2),
			RejectThreshold:   getEnvInt("APPROVAL_REJECT_THRESHOLD", 1),
			MaxRetries:        getEnvInt("APPROVAL_MAX_RETRIES", 5),
		},
		Notify: NotifyConfig{
			Workers:     getEnvInt("NOTIFY_WORKERS", 4),
			BufferSize:  getEnvInt("NOTIFY_BUFFER", 1024),
			MaxAttempts: getEnvInt("NOTIFY_MAX_ATTEMPTS", 3),
			BaseBackoff: getEnvDuration("NOTIFY_BASE_BACKOFF", 200*time.Millisecond),
		},
		Forms: FormsConfig{
			SeedFile: os.Getenv("FORMS_SEED_FILE"),
		},
		RateLimit: RateLimitConfig{
			Disabled:       getEnvBool("RATE_LIMIT_DISABLED", false),
			ApprovalLimit:  getEnvInt("APPROVAL_RATE_LIMIT", 10),
			ApprovalWindow: getEnvDuration("APPROVAL_RATE_WINDOW", time.Hour),
		},
		Tracing: TracingConfig{
			ServiceName: getEnv("OTEL_SERVICE_NAME", "bizportal"),
		},
	}
}

// IsDevelopment reports whether the process runs with development defaults.
func (c Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
