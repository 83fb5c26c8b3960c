package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for webhook deliveries
	DLQTopic        string // operator alert topic for exhausted deliveries
	WorkerChannel   string // NSQ channel name for workers
}

type Redis struct {
	Addr     string
	Password string
	DB       int
	LeaseTTL time.Duration // per-endpoint in-flight lease lifetime
}

type Worker struct {
	MaxAttempts    int           // delivery attempt ceiling
	BackoffBase    time.Duration // first retry interval
	BackoffCap     time.Duration // retry interval ceiling
	JitterPercent  float64       // backoff jitter percentage (0.0-1.0)
	RequestTimeout time.Duration // outbound HTTP timeout per attempt
	ClaimTTL       time.Duration // job claim expiry (crash recovery window)
	Concurrency    int           // concurrent NSQ handlers per worker
	PublishDLQ     bool          // publish exhausted deliveries to the DLQ topic
	HTTPPort       string        // worker HTTP metrics port
}

type Auth struct {
	PublicKeyPEM string // RSA public key for token validation
	JWKSURL      string // fetched at startup when no PEM is set
	Issuer       string
	Audience     string
	Disabled     bool // dev mode: trust x-tenant-id header only
}

type FakeSIEM struct {
	FailFirstN           int           // number of requests to fail initially
	FailStatus           int           // status code for injected failures
	EndpointSecret       string        // secret for webhook signature verification
	SigningLeewaySeconds int           // allowed timestamp skew in seconds
	ResponseDelayMS      int           // simulated response delay in milliseconds
	Port                 string        // server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName  string
	HTTPPort string // :8080
	DB       DB
	NSQ      NSQ
	Redis    Redis
	Worker   Worker
	Auth     Auth
	FakeSIEM FakeSIEM
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:  getenv("APP_NAME", "aegishook"),
		HTTPPort: getenv("HTTP_PORT", ":8080"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "aegishook"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DLQTopic:        getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Redis: Redis{
			Addr:     getenv("REDIS_ADDR", "redis:6379"),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
			LeaseTTL: getenvDuration("ENDPOINT_LEASE_TTL", 15*time.Second),
		},
		Worker: Worker{
			MaxAttempts:    getenvInt("MAX_ATTEMPTS", 5),
			BackoffBase:    getenvDuration("BACKOFF_BASE", 2*time.Second),
			BackoffCap:     getenvDuration("BACKOFF_CAP", 60*time.Second),
			JitterPercent:  getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			RequestTimeout: getenvDuration("REQUEST_TIMEOUT", 10*time.Second),
			ClaimTTL:       getenvDuration("CLAIM_TTL", 30*time.Second),
			Concurrency:    getenvInt("WORKER_CONCURRENCY", 8),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", true),
			HTTPPort:       ":" + getenv("WORKER_HTTP_PORT", "8083"),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("AUTH_JWT_PUBLIC_KEY", ""),
			JWKSURL:      getenv("AUTH_JWKS_URL", ""),
			Issuer:       getenv("AUTH_ISSUER", "aegishook"),
			Audience:     getenv("AUTH_AUDIENCE", "aegishook-api"),
			Disabled:     getenvBool("AUTH_DISABLED", false),
		},
		FakeSIEM: FakeSIEM{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			FailStatus:           getenvInt("FAIL_STATUS", 500),
			EndpointSecret:       getenv("ENDPOINT_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 getenv("FAKE_SIEM_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_SIEM_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_SIEM_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_SIEM_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
