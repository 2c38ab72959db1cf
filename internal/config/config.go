package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Priya8975/federation-engine/internal/queue"
	"github.com/Priya8975/federation-engine/internal/queue/redisq"
	"github.com/Priya8975/federation-engine/internal/queue/stompq"
	"github.com/Priya8975/federation-engine/internal/websub"
)

// Broker backends.
const (
	BrokerSTOMP = "stomp"
	BrokerRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	NumWorkers  int

	// BaseURL is the public root of the default site, for example
	// https://social.example.
	BaseURL    string
	Site       string
	SitesFile  string
	Migrations string
	// InstanceActor is the nickname of the local account whose key signs
	// outgoing document fetches. Fetches go out unsigned when empty.
	InstanceActor string
	MonitorPort   string

	Broker          string
	StompServers    []string
	StompUsername   string
	StompPassword   string
	StompFailover   queue.FailoverMode
	QueueBase       string
	QueueControl    string
	QueueBreakout   []string
	QueuePersistent queue.Persistence
	UseTransactions bool
	UseAcks         bool
	MaxRetries      int
	RetryTTL        time.Duration
	DeadLetterDir   string

	PushRetries      int
	HTTPTimeout      time.Duration
	RenewHorizon     time.Duration
	GCErrorThreshold time.Duration
	HTTPSUpgrade     bool
	StrictValidation bool
	StrictChallenge  bool
	PushRateLimit    int
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// Load reads configuration from environment variables, after loading a
// .env file from the working directory if there is one.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		NumWorkers:  getEnvInt("NUM_WORKERS", 4),
		BaseURL:     strings.TrimRight(getEnv("BASE_URL", "http://localhost:8080"), "/"),
		Site:        getEnv("SITE", "main"),
		SitesFile:   getEnv("SITES_FILE", ""),
		Migrations:  getEnv("MIGRATIONS_DIR", "migrations"),

		InstanceActor: getEnv("INSTANCE_ACTOR", ""),
		MonitorPort:   getEnv("MONITOR_PORT", "9090"),

		Broker:          getEnv("BROKER", BrokerSTOMP),
		StompServers:    getEnvList("STOMP_SERVERS", []string{"tcp://localhost:61613"}),
		StompUsername:   getEnv("STOMP_USERNAME", ""),
		StompPassword:   getEnv("STOMP_PASSWORD", ""),
		StompFailover:   queue.FailoverMode(getEnv("STOMP_FAILOVER", string(queue.FailoverAuto))),
		QueueBase:       getEnv("QUEUE_BASE", "/queue/federation/"),
		QueueControl:    getEnv("QUEUE_CONTROL", "/topic/federation/control"),
		QueueBreakout:   getEnvList("QUEUE_BREAKOUT", nil),
		QueuePersistent: queue.ParsePersistence(getEnv("QUEUE_PERSISTENT", "true")),
		UseTransactions: getEnvBool("QUEUE_USE_TRANSACTIONS", false),
		UseAcks:         getEnvBool("QUEUE_USE_ACKS", true),
		MaxRetries:      getEnvInt("QUEUE_MAX_RETRIES", 10),
		RetryTTL:        getEnvSeconds("QUEUE_RETRY_TTL", 24*time.Hour),
		DeadLetterDir:   getEnv("DEAD_LETTER_DIR", ""),

		PushRetries:      getEnvInt("PUSH_RETRIES", 5),
		HTTPTimeout:      getEnvSeconds("HTTP_TIMEOUT", websub.DefaultTimeout),
		RenewHorizon:     getEnvSeconds("RENEW_HORIZON", 24*time.Hour),
		GCErrorThreshold: getEnvSeconds("GC_ERROR_THRESHOLD", 7*24*time.Hour),
		HTTPSUpgrade:     getEnvBool("HTTPS_UPGRADE", true),
		StrictValidation: getEnvBool("STRICT_VALIDATION", false),
		StrictChallenge:  getEnvBool("STRICT_CHALLENGE", false),
		PushRateLimit:    getEnvInt("PUSH_RATE_LIMIT", 0),
		BreakerThreshold: getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  getEnvSeconds("BREAKER_COOLDOWN", 30*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.Broker != BrokerSTOMP && cfg.Broker != BrokerRedis {
		return nil, fmt.Errorf("BROKER must be %q or %q, got %q", BrokerSTOMP, BrokerRedis, cfg.Broker)
	}
	if cfg.StompFailover != queue.FailoverAuto && cfg.StompFailover != queue.FailoverManual {
		return nil, fmt.Errorf("STOMP_FAILOVER must be auto or manual, got %q", cfg.StompFailover)
	}

	return cfg, nil
}

// Queue builds the queue manager settings. With the Redis broker the
// queue runs on REDIS_URL.
func (c *Config) Queue(sites []string) queue.Config {
	servers := c.StompServers
	if c.Broker == BrokerRedis {
		servers = []string{c.RedisURL}
	}
	return queue.Config{
		Servers:         servers,
		Failover:        c.StompFailover,
		Base:            c.QueueBase,
		Control:         c.QueueControl,
		Breakout:        c.QueueBreakout,
		Persistent:      c.QueuePersistent,
		UseTransactions: c.UseTransactions,
		UseAcks:         c.UseAcks,
		MaxRetries:      c.MaxRetries,
		Site:            c.Site,
		Sites:           sites,
		ReconnectDelay:  5 * time.Second,
	}
}

// QueueDialer opens broker sessions for the configured backend.
func (c *Config) QueueDialer(logger *slog.Logger) queue.Dialer {
	if c.Broker == BrokerRedis {
		return &redisq.Dialer{Options: redisq.DefaultOptions(), Logger: logger}
	}
	return &stompq.Dialer{
		Login:     c.StompUsername,
		Passcode:  c.StompPassword,
		HeartBeat: 30 * time.Second,
		Logger:    logger,
	}
}

// WebSub builds the subscription manager settings.
func (c *Config) WebSub() websub.Config {
	cfg := websub.DefaultConfig()
	cfg.Timeout = c.HTTPTimeout
	cfg.StrictChallenge = c.StrictChallenge
	cfg.RenewHorizon = c.RenewHorizon
	cfg.ErrorThreshold = c.GCErrorThreshold
	if !c.HTTPSUpgrade {
		cfg.Upgrade = websub.NoUpgrade{}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvSeconds reads a whole number of seconds.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, v := range strings.Split(val, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
