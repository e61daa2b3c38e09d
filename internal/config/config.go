// Package config loads the FormFlow process configuration from an optional
// yaml file and FORMFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/formflow/formflow/internal/domain"
)

// EnvPrefix prefixes every environment override, e.g. FORMFLOW_SERVER_PORT.
const EnvPrefix = "FORMFLOW"

// Load reads configuration. An empty path searches the usual locations for
// formflow.yaml; a missing file is not an error. Values not set anywhere
// fall back to domain.DefaultConfig.
func Load(path string) (*domain.Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("formflow")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/formflow")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v, domain.DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		slog.Debug("using config file", "path", v.ConfigFileUsed())
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv exports the variables in a .env file without overriding ones
// already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate checks the struct tags on a configuration.
func Validate(cfg *domain.Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// setDefaults registers every key so environment variables can override
// values that no file sets.
func setDefaults(v *viper.Viper, d *domain.Config) {
	defaults := map[string]any{
		"debug": false,

		"server.host":           d.Server.Host,
		"server.port":           d.Server.Port,
		"server.readtimeout":    d.Server.ReadTimeout,
		"server.writetimeout":   d.Server.WriteTimeout,
		"server.trustedproxies": d.Server.TrustedProxies,

		"repository.driver":           d.Repository.Driver,
		"repository.sqlitepath":       d.Repository.SQLitePath,
		"repository.postgreshost":     d.Repository.PostgresHost,
		"repository.postgresport":     d.Repository.PostgresPort,
		"repository.postgresuser":     d.Repository.PostgresUser,
		"repository.postgrespassword": d.Repository.PostgresPassword,
		"repository.postgresdb":       d.Repository.PostgresDB,
		"repository.postgressslmode":  d.Repository.PostgresSSLMode,
		"repository.maxopenconns":     d.Repository.MaxOpenConns,
		"repository.maxidleconns":     d.Repository.MaxIdleConns,
		"repository.connmaxlifetime":  d.Repository.ConnMaxLifetime,

		"cache.type":           d.Cache.Type,
		"cache.localmaxsize":   d.Cache.LocalMaxSize,
		"cache.localttl":       d.Cache.LocalTTL,
		"cache.redisaddr":      d.Cache.RedisAddr,
		"cache.redispassword":  d.Cache.RedisPassword,
		"cache.redisdb":        d.Cache.RedisDB,
		"cache.enabletwophase": d.Cache.EnableTwoPhase,

		"eventbus.type":              d.EventBus.Type,
		"eventbus.channelbuffersize": d.EventBus.ChannelBufferSize,
		"eventbus.natsurl":           d.EventBus.NATSUrl,
		"eventbus.natstoken":         d.EventBus.NATSToken,
		"eventbus.natsmaxreconnects": d.EventBus.NATSMaxReconnects,
		"eventbus.natsreconnectwait": d.EventBus.NATSReconnectWait,

		"security.admintoken":  d.Security.AdminToken,
		"security.noncesecret": d.Security.NonceSecret,
		"security.noncettl":    d.Security.NonceTTL,

		"smtp.host":     d.SMTP.Host,
		"smtp.port":     d.SMTP.Port,
		"smtp.username": d.SMTP.Username,
		"smtp.password": d.SMTP.Password,
		"smtp.from":     d.SMTP.From,

		"resend.apikey":  d.Resend.APIKey,
		"resend.from":    d.Resend.From,
		"resend.replyto": d.Resend.ReplyTo,

		"http.timeoutseconds": d.HTTP.TimeoutSeconds,

		"ratelimit.requestsperminute": d.RateLimit.RequestsPerMinute,
		"ratelimit.burst":             d.RateLimit.Burst,

		"session.cookiename": d.Session.CookieName,
		"session.ttl":        d.Session.TTL,

		"logging.level":  d.Logging.Level,
		"logging.format": d.Logging.Format,

		"sentry.enabled":     d.Sentry.Enabled,
		"sentry.dsn":         d.Sentry.DSN,
		"sentry.environment": d.Sentry.Environment,
		"sentry.samplerate":  d.Sentry.SampleRate,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}
