package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App    ApplicationConfig `yaml:"app"`
	Joplin JoplinConfig      `yaml:"joplin"`
	Anki   AnkiConfig        `yaml:"anki"`
	Sync   SyncConfig        `yaml:"sync"`
	Server ServerConfig      `yaml:"server"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Joplin.Validate(); err != nil {
		return fmt.Errorf("joplin: %w", err)
	}
	if err := c.Anki.Validate(); err != nil {
		return fmt.Errorf("anki: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	return c.Server.Validate()
}

func httpURL(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	Log      LogConfig  `yaml:"log"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.Log.Validate()
}

// LogConfig configures the optional rotating log file. Logs always go to
// stderr; File adds a second sink.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// JoplinConfig holds the Joplin data API settings.
type JoplinConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
	// Timeout is the base per-attempt timeout; attempt n waits n×Timeout.
	Timeout   time.Duration `yaml:"timeout"`
	PageDelay time.Duration `yaml:"page_delay"`
}

// Validate validates the Joplin configuration.
func (c *JoplinConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.Token, validation.Required),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.PageDelay, validation.Min(time.Duration(0))),
	)
}

// AnkiConfig holds the AnkiConnect settings.
type AnkiConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
	// SyncAfterRun asks Anki to sync with AnkiWeb after a clean run.
	SyncAfterRun bool `yaml:"sync_after_run"`
}

// Validate validates the Anki configuration.
func (c *AnkiConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URL, validation.Required, validation.By(httpURL)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
	)
}

// SyncConfig tunes a sync run.
type SyncConfig struct {
	// Since limits the export to notes updated at or after this instant
	// (RFC 3339 or YYYY-MM-DD). Empty means "since the last clean run".
	Since        string `yaml:"since"`
	BatchSize    int    `yaml:"batch_size"`
	AlwaysUpdate bool   `yaml:"always_update"`
	// LedgerPath is the SQLite ledger file; empty disables the ledger.
	LedgerPath string `yaml:"ledger_path"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1), validation.Max(100)),
	); err != nil {
		return err
	}
	_, err := c.SinceTime()
	return err
}

// SinceTime parses Since. A zero time means no explicit cutoff.
func (c *SyncConfig) SinceTime() (time.Time, error) {
	if c.Since == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, c.Since); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, c.Since)
	if err != nil {
		return time.Time{}, fmt.Errorf("since: %q is neither RFC 3339 nor YYYY-MM-DD", c.Since)
	}
	return t, nil
}

// ServerConfig configures the `serve` daemon.
type ServerConfig struct {
	HTTP     HTTPConfig    `yaml:"http"`
	Interval time.Duration `yaml:"interval"`
	Auth     AuthConfig    `yaml:"auth"`
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
	); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// AuthConfig holds authentication configuration for the daemon API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for localhost.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			Log: LogConfig{
				MaxSizeMB:  10,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
		},
		Joplin: JoplinConfig{
			URL:       "http://127.0.0.1:41184",
			Timeout:   10 * time.Second,
			PageDelay: 100 * time.Millisecond,
		},
		Anki: AnkiConfig{
			URL:     "http://127.0.0.1:8765",
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:  10,
			LedgerPath: "./decksync.db",
		},
		Server: ServerConfig{
			HTTP:     HTTPConfig{Port: 8080},
			Interval: 10 * time.Minute,
			Auth:     AuthConfig{Mode: AuthModeDisabled},
		},
	}
}
