package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ClientConfig captures everything a rider/driver client process needs to
// run a matching session and its chat channel. Values come from the
// environment with defaults that point at a local devserver.
type ClientConfig struct {
	APIBaseURL    string
	WebsocketURL  string
	ChatNamespace string
	AccessToken   string

	StatusPollInterval time.Duration
	RequestTimeout     time.Duration
	DialTimeout        time.Duration
	SendBuffer         int

	RedisAddr     string
	RedisPassword string
	ChatLogPrefix string
	ChatLogTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	OSRMURL     string
	PricingFile string

	LogLevel string
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIBaseURL:         "http://localhost:8080",
		WebsocketURL:       "ws://localhost:8080",
		ChatNamespace:      "/chatroom",
		StatusPollInterval: 2 * time.Second,
		RequestTimeout:     5 * time.Second,
		DialTimeout:        10 * time.Second,
		SendBuffer:         64,
		ChatLogPrefix:      "chatlog",
		ChatLogTTL:         6 * time.Hour,
		KafkaTopic:         "ride-session-transitions",
		LogLevel:           "info",
	}
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.APIBaseURL, "API_BASE_URL")
	setStringFromEnv(&cfg.WebsocketURL, "WEBSOCKET_URL")
	setStringFromEnv(&cfg.ChatNamespace, "CHAT_NAMESPACE")
	cfg.AccessToken = strings.TrimSpace(os.Getenv("ACCESS_TOKEN"))

	setDurationFromEnv(&cfg.StatusPollInterval, "STATUS_POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.RequestTimeout, "API_REQUEST_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.DialTimeout, "WS_DIAL_TIMEOUT", &errs)
	setIntFromEnv(&cfg.SendBuffer, "WS_SEND_BUFFER", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.ChatLogPrefix, "CHATLOG_KEY_PREFIX")
	setDurationFromEnv(&cfg.ChatLogTTL, "CHATLOG_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.OSRMURL = strings.TrimSpace(os.Getenv("OSRM_URL"))
	cfg.PricingFile = strings.TrimSpace(os.Getenv("PRICING_FILE"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.StatusPollInterval <= 0 {
		errs = append(errs, fmt.Errorf("STATUS_POLL_INTERVAL must be > 0"))
	}
	if cfg.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("WS_SEND_BUFFER must be > 0"))
	}
	if !strings.HasPrefix(cfg.ChatNamespace, "/") {
		cfg.ChatNamespace = "/" + cfg.ChatNamespace
	}

	return cfg, errors.Join(errs...)
}

// ChatURL joins the websocket base URL and the chat namespace.
func (c ClientConfig) ChatURL() string {
	return strings.TrimRight(c.WebsocketURL, "/") + c.ChatNamespace
}

// DevServerConfig drives the local stand-in backend.
type DevServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	JWTSecret string
	TokenTTL  time.Duration

	PricingFile string
	LogLevel    string
}

func defaultDevServerConfig() DevServerConfig {
	return DevServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		JWTSecret:       "dev-secret",
		TokenTTL:        24 * time.Hour,
		LogLevel:        "info",
	}
}

func LoadDevServerConfig() (DevServerConfig, error) {
	cfg := defaultDevServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setStringFromEnv(&cfg.JWTSecret, "JWT_SECRET")
	setDurationFromEnv(&cfg.TokenTTL, "JWT_TTL", &errs)
	cfg.PricingFile = strings.TrimSpace(os.Getenv("PRICING_FILE"))

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.JWTSecret) < 8 {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least 8 bytes"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig drives cmd/consumer, which persists the transition stream.
type ConsumerConfig struct {
	MetricsAddr  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string
	PGDSN        string
	LogLevel     string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-session-transitions",
		KafkaGroup:   "ride-session-consumer",
		LogLevel:     "info",
	}
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	cfg.PGDSN = os.Getenv("PG_DSN")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		errs = append(errs, fmt.Errorf("KAFKA_BROKERS must name at least one broker"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
