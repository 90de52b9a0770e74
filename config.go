package herald

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds configuration for every Herald subsystem.
type Config struct {
	Redis   RedisConfig   `yaml:"redis"`
	HTTP    HTTPConfig    `yaml:"http"`
	Auth    AuthConfig    `yaml:"auth"`
	Cache   CacheConfig   `yaml:"cache"`
	Queue   QueueConfig   `yaml:"queue"`
	Gateway GatewayConfig `yaml:"gateway"`
	Mail    MailConfig    `yaml:"mail"`
	Log     LogConfig     `yaml:"log"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Credentials embedded in the URL
	// are used for AUTH.
	URL string `yaml:"url"`

	// OpTimeout bounds every individual store operation.
	OpTimeout time.Duration `yaml:"op_timeout"`

	// DialRetries is how many times a failed dial is retried before the
	// command fails. Delay between dials is min(attempt*50ms, 2s).
	DialRetries int `yaml:"dial_retries"`

	// PoolSize is the connection pool size. Zero uses the driver default.
	PoolSize int `yaml:"pool_size"`
}

// HTTPConfig configures the HTTP listener.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// AuthConfig configures bearer token verification. The same secret signs
// HTTP and realtime credentials.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// CacheConfig configures the response cache.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// Disabled turns every cache lookup into a miss and skips writes.
	Disabled bool `yaml:"disabled"`
}

// QueueConfig configures the email job queue and its workers.
type QueueConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffBase       time.Duration `yaml:"backoff_base"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	BackoffJitter     bool          `yaml:"backoff_jitter"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleThreshold    time.Duration `yaml:"stale_threshold"`

	FailedRetention RetentionConfig   `yaml:"failed_retention"`
	RateLimits      []RateLimitConfig `yaml:"rate_limits"`
}

// RetentionConfig bounds the failed job list.
type RetentionConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	MaxAge     time.Duration `yaml:"max_age"`
}

// RateLimitConfig limits how fast jobs of one type are processed.
type RateLimitConfig struct {
	Type           string  `yaml:"type"`
	PerSecond      float64 `yaml:"per_second"`
	Burst          int     `yaml:"burst"`
	MaxConcurrency int     `yaml:"max_concurrency"`
}

// GatewayConfig configures the realtime WebSocket gateway.
type GatewayConfig struct {
	Path       string  `yaml:"path"`
	BufferSize int     `yaml:"buffer_size"`
	EventRate  float64 `yaml:"event_rate"`
	EventBurst int     `yaml:"event_burst"`
}

// MailConfig configures the email transport used by job handlers.
type MailConfig struct {
	// Transport is "smtp" or "log".
	Transport    string `yaml:"transport"`
	From         string `yaml:"from"`
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`

	// FrontendURL is the base URL used to build links in emails.
	FrontendURL string `yaml:"frontend_url"`
}

// LogConfig configures the root logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Redis: RedisConfig{
			URL:         "redis://localhost:6379/0",
			OpTimeout:   5 * time.Second,
			DialRetries: 10,
		},
		HTTP: HTTPConfig{
			Addr:              ":5000",
			ReadHeaderTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Issuer: "herald",
		},
		Cache: CacheConfig{
			DefaultTTL: 5 * time.Minute,
		},
		Queue: QueueConfig{
			Concurrency:       5,
			PollInterval:      500 * time.Millisecond,
			MaxAttempts:       3,
			BackoffBase:       2 * time.Second,
			BackoffMax:        time.Minute,
			HeartbeatInterval: 10 * time.Second,
			StaleThreshold:    time.Minute,
			FailedRetention: RetentionConfig{
				MaxEntries: 1000,
				MaxAge:     7 * 24 * time.Hour,
			},
		},
		Gateway: GatewayConfig{
			Path:       "/ws",
			BufferSize: 256,
			EventRate:  20,
			EventBurst: 40,
		},
		Mail: MailConfig{
			Transport:   "log",
			From:        "no-reply@localhost",
			SMTPPort:    587,
			FrontendURL: "http://localhost:3000",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: 30 * time.Second,
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file, optional
// dotenv files and the process environment, in that order. Missing dotenv
// files are skipped; a missing YAML file is an error when path is set.
func LoadConfig(path string, envFiles ...string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("herald: read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("herald: parse config %s: %w", path, err)
		}
	}

	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return cfg, fmt.Errorf("herald: load env file %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// applyEnv overrides fields from well-known environment variables.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}

	setString("REDIS_URL", &c.Redis.URL)
	setString("JWT_SECRET", &c.Auth.JWTSecret)
	setString("HTTP_ADDR", &c.HTTP.Addr)
	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		c.HTTP.Addr = ":" + port
	}
	setString("MAIL_TRANSPORT", &c.Mail.Transport)
	setString("MAIL_FROM", &c.Mail.From)
	setString("SMTP_HOST", &c.Mail.SMTPHost)
	setString("SMTP_USER", &c.Mail.SMTPUsername)
	setString("SMTP_PASS", &c.Mail.SMTPPassword)
	setString("FRONTEND_URL", &c.Mail.FrontendURL)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("LOG_FORMAT", &c.Log.Format)

	if v, ok := os.LookupEnv("SMTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("herald: SMTP_PORT: %w", err)
		}
		c.Mail.SMTPPort = port
	}
	if v, ok := os.LookupEnv("QUEUE_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("herald: QUEUE_CONCURRENCY: %w", err)
		}
		c.Queue.Concurrency = n
	}
	return nil
}

// Validate reports configuration that cannot produce a working pipeline.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return ErrNoSecret
	}
	if c.Queue.Concurrency <= 0 {
		return fmt.Errorf("herald: queue concurrency must be positive, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("herald: queue max attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	switch c.Mail.Transport {
	case "smtp":
		if c.Mail.SMTPHost == "" {
			return errors.New("herald: smtp transport requires mail.smtp_host")
		}
	case "log":
	default:
		return fmt.Errorf("herald: unknown mail transport %q", c.Mail.Transport)
	}
	return nil
}
