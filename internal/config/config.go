package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	OAuth    OAuthConfig    `mapstructure:"oauth"`
	Session  SessionConfig  `mapstructure:"session"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// AuthConfig controls the static token authenticator.
type AuthConfig struct {
	// TokenHeader is the header carrying static API tokens.
	TokenHeader string `mapstructure:"token_header"`
	// TokenKeyword is the scheme keyword preceding the key.
	TokenKeyword string `mapstructure:"token_keyword"`
}

// OAuthConfig holds the Azure AD client application settings for the
// browser sign-in flow.
type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Tenant       string   `mapstructure:"tenant"`
	RedirectURL  string   `mapstructure:"redirect_url"`
	Scopes       []string `mapstructure:"scopes"`
}

type SessionConfig struct {
	CookieName string `mapstructure:"cookie_name"`
	TTLMinutes int    `mapstructure:"ttl_minutes"`
}

// TTL returns the session lifetime.
func (s SessionConfig) TTL() time.Duration {
	return time.Duration(s.TTLMinutes) * time.Minute
}

type GraphConfig struct {
	// BaseURL overrides the Microsoft Graph endpoint, mainly for tests.
	BaseURL string `mapstructure:"base_url"`
}

// KafkaConfig configures the audit event producer. Empty brokers disable
// publishing.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// Load reads configuration from environment variables and config files.
// Environment variables override file values. Prefix: FIR_
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "fir")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "password")
	v.SetDefault("auth.token_header", "X-Api")
	v.SetDefault("auth.token_keyword", "Token")
	v.SetDefault("oauth.scopes", []string{"User.Read"})
	v.SetDefault("oauth.redirect_url", "http://localhost:8000/ms_auth/redirect")
	v.SetDefault("session.cookie_name", "fir_session")
	v.SetDefault("session.ttl_minutes", 720)
	v.SetDefault("kafka.topic", "fir-audit-events")

	// Environment variables (e.g. FIR_DATABASE_HOST -> database.host)
	v.SetEnvPrefix("FIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Also support simple env vars without prefix for Docker Compose convenience
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.name", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("oauth.client_id", "AZURE_CLIENT_ID")
	v.BindEnv("oauth.client_secret", "AZURE_CLIENT_SECRET")
	v.BindEnv("oauth.tenant", "AZURE_TENANT")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("server.port", "PORT")

	// Try loading config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	_ = v.ReadInConfig() // Not required

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + strconv.Itoa(d.Port) +
		" dbname=" + d.Name +
		" user=" + d.User +
		" password=" + d.Password +
		" sslmode=disable"
}
