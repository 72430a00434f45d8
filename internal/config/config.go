package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "COURSEPULSE"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "coursepulse.db"
	defaultLogLevel         = "info"
	defaultSessionIssuer    = "coursepulse-auth"
	defaultSessionCookie    = "cp_session"
	defaultStreamTTLMinutes = 15
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SessionSigningSecret string
	SessionIssuer        string
	SessionCookieName    string
	StreamTokenTTLMin    int
	RedisAddress         string
	RedisPassword        string
	RedisDB              int
	RedisChannelPrefix   string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.cookie_name", defaultSessionCookie)
	configViper.SetDefault("stream_token.ttl_minutes", defaultStreamTTLMinutes)
	configViper.SetDefault("redis.address", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("redis.channel_prefix", "coursepulse")
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		StreamTokenTTLMin:    configViper.GetInt("stream_token.ttl_minutes"),
		RedisAddress:         configViper.GetString("redis.address"),
		RedisPassword:        configViper.GetString("redis.password"),
		RedisDB:              configViper.GetInt("redis.db"),
		RedisChannelPrefix:   configViper.GetString("redis.channel_prefix"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.StreamTokenTTLMin <= 0 {
		return fmt.Errorf("stream_token.ttl_minutes must be positive")
	}
	return nil
}
