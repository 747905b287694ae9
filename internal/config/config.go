package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "DAILYNOTES"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "daily-notes.db"
	defaultLocalPath       = "daily-notes-local.db"
	defaultLogLevel        = "info"
	defaultRemoteURL       = "http://127.0.0.1:8080"
	defaultTokenIssuer     = "daily-notes"
	defaultTokenAudience   = "daily-notes-api"
	defaultTokenTTLMinutes = 60 * 24 * 30
	defaultDebounceMillis  = 1500
	defaultHistoryLimit    = 20
	defaultProbeMillis     = 5000
)

// AppConfig captures runtime configuration shared by the API server and the sync client.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	LogFile       string
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	TokenTTL      time.Duration
	LocalPath     string
	RemoteURL     string
	RemoteToken   string
	UserID        string
	Debounce      time.Duration
	HistoryLimit  int
	ProbeInterval time.Duration
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
	configViper.SetDefault("log.file", "")
	configViper.SetDefault("auth.issuer", defaultTokenIssuer)
	configViper.SetDefault("auth.audience", defaultTokenAudience)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("local.path", defaultLocalPath)
	configViper.SetDefault("remote.url", defaultRemoteURL)
	configViper.SetDefault("sync.debounce_ms", defaultDebounceMillis)
	configViper.SetDefault("sync.history_limit", defaultHistoryLimit)
	configViper.SetDefault("netstatus.interval_ms", defaultProbeMillis)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		LogFile:       configViper.GetString("log.file"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenIssuer:   configViper.GetString("auth.issuer"),
		TokenAudience: configViper.GetString("auth.audience"),
		TokenTTL:      time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		LocalPath:     configViper.GetString("local.path"),
		RemoteURL:     configViper.GetString("remote.url"),
		RemoteToken:   configViper.GetString("remote.token"),
		UserID:        configViper.GetString("user.id"),
		Debounce:      time.Duration(configViper.GetInt("sync.debounce_ms")) * time.Millisecond,
		HistoryLimit:  configViper.GetInt("sync.history_limit"),
		ProbeInterval: time.Duration(configViper.GetInt("netstatus.interval_ms")) * time.Millisecond,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if c.Debounce <= 0 {
		return fmt.Errorf("sync.debounce_ms must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("sync.history_limit must be positive")
	}
	if c.ProbeInterval <= 0 {
		return fmt.Errorf("netstatus.interval_ms must be positive")
	}
	return nil
}

// ValidateServer checks the settings required by the API server and token minting.
func (c AppConfig) ValidateServer() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.TokenIssuer) == "" {
		return fmt.Errorf("auth.issuer is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

// ValidateClient checks the settings required by the sync client.
func (c AppConfig) ValidateClient() error {
	if strings.TrimSpace(c.LocalPath) == "" {
		return fmt.Errorf("local.path is required")
	}
	if strings.TrimSpace(c.RemoteURL) == "" {
		return fmt.Errorf("remote.url is required")
	}
	if strings.TrimSpace(c.RemoteToken) == "" {
		return fmt.Errorf("remote.token is required")
	}
	return nil
}
