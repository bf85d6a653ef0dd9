package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Rate limiter backends.
const (
	RateLimitPostgres = "postgres"
	RateLimitRedis    = "redis"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers     []string
	KafkaSourceTopic string
	KafkaAlertTopic  string
	KafkaGroupID     string
	HTTPAddr         string
	LogLevel         string
	LogFormat        string
	ShutdownTimeout  time.Duration

	BatchSize          int
	BatchFlushInterval time.Duration

	DatabaseURL string

	RateLimitBackend string
	RateLimitWindow  time.Duration
	RedisAddr        string
	RedisPassword    string

	SMS  SMSConfig
	SMTP SMTPConfig
	Push PushConfig
}

// SMSConfig configures the outbound SMS gateway.
type SMSConfig struct {
	GatewayURL    string
	AccountID     string
	AuthToken     string
	FromNumber    string
	DefaultRegion string
	Timeout       time.Duration
	SendInterval  time.Duration
}

// Enabled reports whether enough is configured to send SMS.
func (c SMSConfig) Enabled() bool { return c.GatewayURL != "" && c.FromNumber != "" }

// SMTPConfig configures the outbound email relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to send email.
func (c SMTPConfig) Enabled() bool { return c.Host != "" && c.From != "" }

// Addr returns host:port for dialing.
func (c SMTPConfig) Addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// PushConfig configures the push notification gateway.
type PushConfig struct {
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
}

// Enabled reports whether push delivery is configured.
func (c PushConfig) Enabled() bool { return c.GatewayURL != "" }

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	window, err := parsePositiveDuration("RATE_LIMIT_WINDOW", "1h")
	if err != nil {
		return nil, err
	}

	smsTimeout, err := parsePositiveDuration("SMS_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	sendInterval, err := time.ParseDuration(sharedcfg.EnvOrDefault("SMS_SEND_INTERVAL", "1s"))
	if err != nil || sendInterval < 0 {
		return nil, errors.New("invalid SMS_SEND_INTERVAL")
	}

	pushTimeout, err := parsePositiveDuration("PUSH_TIMEOUT", "10s")
	if err != nil {
		return nil, err
	}

	smtpPort, err := strconv.Atoi(sharedcfg.EnvOrDefault("SMTP_PORT", "587"))
	if err != nil || smtpPort <= 0 || smtpPort > 65535 {
		return nil, errors.New("invalid SMTP_PORT")
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaSourceTopic:   sharedcfg.EnvOrDefault("KAFKA_SOURCE_TOPIC", "transformed-weather-data"),
		KafkaAlertTopic:    sharedcfg.EnvOrDefault("KAFKA_ALERT_TOPIC", "storm-impact-alerts"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "storm-impact-alerts"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,

		DatabaseURL: databaseURL(),

		RateLimitBackend: strings.ToLower(sharedcfg.EnvOrDefault("RATE_LIMIT_BACKEND", RateLimitPostgres)),
		RateLimitWindow:  window,
		RedisAddr:        sharedcfg.EnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),

		SMS: SMSConfig{
			GatewayURL:    os.Getenv("SMS_GATEWAY_URL"),
			AccountID:     os.Getenv("SMS_ACCOUNT_ID"),
			AuthToken:     os.Getenv("SMS_AUTH_TOKEN"),
			FromNumber:    os.Getenv("SMS_FROM_NUMBER"),
			DefaultRegion: strings.ToUpper(sharedcfg.EnvOrDefault("SMS_DEFAULT_REGION", "US")),
			Timeout:       smsTimeout,
			SendInterval:  sendInterval,
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     smtpPort,
			Username: os.Getenv("SMTP_USERNAME"),
			Password: os.Getenv("SMTP_PASSWORD"),
			From:     os.Getenv("SMTP_FROM"),
		},
		Push: PushConfig{
			GatewayURL: os.Getenv("PUSH_GATEWAY_URL"),
			APIKey:     os.Getenv("PUSH_API_KEY"),
			Timeout:    pushTimeout,
		},
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if cfg.KafkaSourceTopic == "" {
		return nil, errors.New("KAFKA_SOURCE_TOPIC is required")
	}
	if cfg.KafkaAlertTopic == "" {
		return nil, errors.New("KAFKA_ALERT_TOPIC is required")
	}
	switch cfg.RateLimitBackend {
	case RateLimitPostgres, RateLimitRedis:
	default:
		return nil, fmt.Errorf("invalid RATE_LIMIT_BACKEND %q: must be %s or %s", cfg.RateLimitBackend, RateLimitPostgres, RateLimitRedis)
	}
	if cfg.RateLimitBackend == RateLimitRedis && cfg.RedisAddr == "" {
		return nil, errors.New("REDIS_ADDR is required when RATE_LIMIT_BACKEND is redis")
	}
	if cfg.SMS.GatewayURL != "" && cfg.SMS.FromNumber == "" {
		return nil, errors.New("SMS_GATEWAY_URL is set but SMS_FROM_NUMBER is not")
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// libpq-style PG* variables.
func databaseURL() string {
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		return dsn
	}

	u := &url.URL{
		Scheme: "postgres",
		Host: net.JoinHostPort(
			sharedcfg.EnvOrDefault("PGHOST", "localhost"),
			sharedcfg.EnvOrDefault("PGPORT", "5432"),
		),
		Path: sharedcfg.EnvOrDefault("PGDATABASE", "storm_alerts"),
	}
	user := sharedcfg.EnvOrDefault("PGUSER", "postgres")
	if password := os.Getenv("PGPASSWORD"); password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	q := u.Query()
	q.Set("sslmode", sharedcfg.EnvOrDefault("PGSSLMODE", "disable"))
	u.RawQuery = q.Encode()
	return u.String()
}
