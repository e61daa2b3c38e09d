package domain

import "time"

// Config holds the complete FormFlow process configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Repository RepositoryConfig `mapstructure:"repository" validate:"required"`
	Cache      CacheConfig      `mapstructure:"cache" validate:"required"`
	EventBus   EventBusConfig   `mapstructure:"eventbus" validate:"required"`
	Security   SecurityConfig   `mapstructure:"security"`
	SMTP       SMTPConfig       `mapstructure:"smtp"`
	Resend     ResendConfig     `mapstructure:"resend"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Session    SessionConfig    `mapstructure:"session"`

	Logging LoggingConfig `mapstructure:"logging"`
	Sentry  SentryConfig  `mapstructure:"sentry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout  int    `mapstructure:"readtimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writetimeout"` // seconds

	// TrustedProxies lists proxy networks whose X-Forwarded-For and
	// X-Real-IP headers are believed. Empty means the socket address is
	// always the client address.
	TrustedProxies []string `mapstructure:"trustedproxies" validate:"dive,cidr"`
}

// SecurityConfig controls the admin endpoint.
// AdminToken is the capability check; NonceSecret signs per-action nonces.
type SecurityConfig struct {
	AdminToken  string        `mapstructure:"admintoken"`
	NonceSecret string        `mapstructure:"noncesecret"`
	NonceTTL    time.Duration `mapstructure:"noncettl"`
}

// SMTPConfig configures outbound email.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from" validate:"omitempty,email"`
}

// ResendConfig selects the Resend API for outbound email. When APIKey is
// set it takes precedence over SMTP.
type ResendConfig struct {
	APIKey  string `mapstructure:"apikey"`
	From    string `mapstructure:"from" validate:"required_with=APIKey"`
	ReplyTo string `mapstructure:"replyto" validate:"omitempty,email"`
}

// HTTPConfig configures outbound calls to third-party providers.
type HTTPConfig struct {
	TimeoutSeconds int `mapstructure:"timeoutseconds" validate:"min=0"`
}

// RateLimitConfig throttles public POST endpoints per client IP.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requestsperminute" validate:"min=0"`
	Burst             int `mapstructure:"burst" validate:"min=0"`
}

// SessionConfig controls the server-side visitor session store.
type SessionConfig struct {
	CookieName string        `mapstructure:"cookiename"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// SentryConfig reports panics and server errors to Sentry.
type SentryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	DSN         string  `mapstructure:"dsn" validate:"required_if=Enabled true"`
	Environment string  `mapstructure:"environment"`
	SampleRate  float64 `mapstructure:"samplerate" validate:"min=0,max=1"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=json text"`
}

// DefaultConfig returns a configuration suitable for a single-node install:
// SQLite, in-process cache and channel bus.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./formflow.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Security: SecurityConfig{
			NonceTTL: 12 * time.Hour,
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		HTTP: HTTPConfig{
			TimeoutSeconds: 15,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			Burst:             10,
		},
		Session: SessionConfig{
			CookieName: "ff_session",
			TTL:        2 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Sentry: SentryConfig{
			Environment: "production",
			SampleRate:  1.0,
		},
	}
}
