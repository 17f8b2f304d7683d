package config

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"
)

const (
	envPrefix              = "SUPERDIALER"
	defaultHTTPAddress     = "127.0.0.1:8080"
	defaultDatabasePath    = "superdialer.db"
	defaultLogLevel        = "info"
	defaultCallLogPath     = "calllog.db"
	defaultContactsPath    = "contacts.yaml"
	defaultAuthIssuer      = "superdialer"
	defaultAuthAudience    = "superdialer-device"
	defaultTokenTTLMinutes = 60 * 24 * 30
)

// AppConfig captures runtime configuration for the dialer service.
type AppConfig struct {
	HTTPAddress     string
	AllowedOrigins  []string
	DatabasePath    string
	LogLevel        string
	CallLogPath     string
	ContactsPath    string
	WatchRegistries bool
	AuthSigningKey  string
	AuthIssuer      string
	AuthAudience    string
	TokenTTLMinutes int
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
	configViper.SetDefault("http.allowed_origins", []string{})
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("registry.call_log_path", defaultCallLogPath)
	configViper.SetDefault("registry.contacts_path", defaultContactsPath)
	configViper.SetDefault("registry.watch", true)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.audience", defaultAuthAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     strings.TrimSpace(configViper.GetString("http.address")),
		AllowedOrigins:  configViper.GetStringSlice("http.allowed_origins"),
		DatabasePath:    strings.TrimSpace(configViper.GetString("database.path")),
		LogLevel:        strings.ToLower(strings.TrimSpace(configViper.GetString("log.level"))),
		CallLogPath:     strings.TrimSpace(configViper.GetString("registry.call_log_path")),
		ContactsPath:    strings.TrimSpace(configViper.GetString("registry.contacts_path")),
		WatchRegistries: configViper.GetBool("registry.watch"),
		AuthSigningKey:  configViper.GetString("auth.signing_secret"),
		AuthIssuer:      strings.TrimSpace(configViper.GetString("auth.issuer")),
		AuthAudience:    strings.TrimSpace(configViper.GetString("auth.audience")),
		TokenTTLMinutes: configViper.GetInt("auth.token_ttl_minutes"),
	}

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// Validate reports every invalid field, keyed by field name.
func (c *AppConfig) Validate() error {
	authEnabled := c.AuthEnabled()
	return validation.ValidateStruct(c,
		validation.Field(&c.HTTPAddress, validation.Required),
		validation.Field(&c.DatabasePath, validation.Required),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "warning", "error")),
		validation.Field(&c.CallLogPath, validation.Required),
		validation.Field(&c.ContactsPath, validation.Required),
		validation.Field(&c.AuthSigningKey, validation.Length(16, 0)),
		validation.Field(&c.AuthIssuer, validation.When(authEnabled, validation.Required)),
		validation.Field(&c.AuthAudience, validation.When(authEnabled, validation.Required)),
		validation.Field(&c.TokenTTLMinutes, validation.When(authEnabled, validation.Required, validation.Min(1))),
	)
}

// AuthEnabled reports whether device tokens guard the HTTP API.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.AuthSigningKey) != ""
}

// TokenTTL converts the configured token lifetime.
func (c AppConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}
