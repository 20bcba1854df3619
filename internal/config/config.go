package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	PlatformX      = "x"
	PlatformDryRun = "dryrun"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	configPathEnv = "AUTOBOT_CONFIG"
)

// Config holds all application configuration
type Config struct {
	Version   int             `toml:"version"`
	Database  DatabaseConfig  `toml:"database"`
	Schedule  ScheduleConfig  `toml:"schedule"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Generator GeneratorConfig `toml:"generator"`
	Email     EmailConfig     `toml:"email"`
	Publisher PublisherConfig `toml:"publisher"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Logging   LoggingConfig   `toml:"logging"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// ScheduleConfig controls the periodic trigger. The cadence is deployment
// configuration, not a property of the pipeline.
type ScheduleConfig struct {
	Enabled  bool   `toml:"enabled"`
	Cron     string `toml:"cron"`
	Timezone string `toml:"timezone"`
}

type PipelineConfig struct {
	ConfirmationWindow Duration `toml:"confirmation_window"`
	Workers            int      `toml:"workers"`
	GeneratorRPS       float64  `toml:"generator_rps"`
	NotifierRPS        float64  `toml:"notifier_rps"`
	PublishMaxAttempts int      `toml:"publish_max_attempts"`
	PublishBackoff     Duration `toml:"publish_backoff"`
	ResumeAfter        Duration `toml:"resume_after"`
	LeaseTTL           Duration `toml:"lease_ttl"`
	RunTimeout         Duration `toml:"run_timeout"`
}

type GeneratorConfig struct {
	Provider  string   `toml:"provider"`
	APIKey    string   `toml:"api_key"`
	Model     string   `toml:"model"`
	Endpoint  string   `toml:"endpoint"`
	MaxTokens int      `toml:"max_tokens"`
	Timeout   Duration `toml:"timeout"`
	// CacheExchanges writes every prompt/response pair to the cache dir.
	CacheExchanges bool `toml:"cache_exchanges"`
}

type EmailConfig struct {
	Provider string   `toml:"provider"`
	SMTPHost string   `toml:"smtp_host"`
	SMTPPort int      `toml:"smtp_port"`
	SMTPUser string   `toml:"smtp_user"`
	SMTPPass string   `toml:"smtp_pass"`
	FromAddr string   `toml:"from_address"`
	Timeout  Duration `toml:"timeout"`
}

type PublisherConfig struct {
	Platform       string   `toml:"platform"`
	Endpoint       string   `toml:"endpoint"`
	ConsumerKey    string   `toml:"consumer_key"`
	ConsumerSecret string   `toml:"consumer_secret"`
	Timeout        Duration `toml:"timeout"`
}

type ServerConfig struct {
	Addr       string `toml:"addr"`
	BaseURL    string `toml:"base_url"`
	CronSecret string `toml:"cron_secret"`
	SigningKey string `toml:"signing_key"`
}

type AuthConfig struct {
	// SealKey is a 32-byte key, hex encoded, used to seal stored credentials.
	SealKey string `toml:"seal_key"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration that reads "90s" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	return &Config{
		Version: 1,
		Database: DatabaseConfig{
			Driver: DriverSQLite,
		},
		Schedule: ScheduleConfig{
			Enabled:  true,
			Cron:     "0 9 * * *",
			Timezone: "UTC",
		},
		Pipeline: PipelineConfig{
			ConfirmationWindow: Duration{24 * time.Hour},
			Workers:            4,
			GeneratorRPS:       1,
			NotifierRPS:        2,
			PublishMaxAttempts: 3,
			PublishBackoff:     Duration{2 * time.Second},
			ResumeAfter:        Duration{15 * time.Minute},
			LeaseTTL:           Duration{time.Hour},
			RunTimeout:         Duration{30 * time.Minute},
		},
		Generator: GeneratorConfig{
			Provider:  ProviderAnthropic,
			Model:     "claude-sonnet-4-20250514",
			MaxTokens: 512,
			Timeout:   Duration{60 * time.Second},
		},
		Email: EmailConfig{
			Provider: "smtp",
			SMTPPort: 587,
			Timeout:  Duration{20 * time.Second},
		},
		Publisher: PublisherConfig{
			Platform: PlatformX,
			Endpoint: "https://api.twitter.com",
			Timeout:  Duration{15 * time.Second},
		},
		Server: ServerConfig{
			Addr:    ":8080",
			BaseURL: "http://localhost:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the platform-appropriate config directory
func ConfigDir() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "autobot"), nil
}

// ConfigPath returns the full path to the config file. AUTOBOT_CONFIG wins
// over the per-user location.
func ConfigPath() (string, error) {
	if p := os.Getenv(configPathEnv); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// CacheDir returns the directory for debug artifacts such as LLM exchanges.
func CacheDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "autobot"), nil
}

// DefaultDatabasePath is where the sqlite ledger lives when no DSN is set.
func DefaultDatabasePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "autobot.db"), nil
}

// Load reads config from disk, layering it over Default and applying
// environment overrides.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile is Load for an explicit path.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env string
		dst *string
	}{
		{"AUTOBOT_DATABASE_DRIVER", &c.Database.Driver},
		{"AUTOBOT_DATABASE_DSN", &c.Database.DSN},
		{"AUTOBOT_BASE_URL", &c.Server.BaseURL},
		{"AUTOBOT_SEAL_KEY", &c.Auth.SealKey},
		{"CRON_SECRET", &c.Server.CronSecret},
		{"CRON_SIGNING_KEY", &c.Server.SigningKey},
		{"SMTP_PASSWORD", &c.Email.SMTPPass},
		{"X_CONSUMER_KEY", &c.Publisher.ConsumerKey},
		{"X_CONSUMER_SECRET", &c.Publisher.ConsumerSecret},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.dst = v
		}
	}

	switch c.Generator.Provider {
	case ProviderAnthropic:
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			c.Generator.APIKey = v
		}
	case ProviderOpenAI:
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			c.Generator.APIKey = v
		}
	}
}

// Validate reports configuration that would make the pipeline misbehave.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	if c.Database.Driver == DriverPostgres && c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn: required for postgres"))
	}
	if c.Pipeline.ConfirmationWindow.Duration <= 0 {
		errs = append(errs, errors.New("pipeline.confirmation_window: must be positive"))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.workers: must be at least 1"))
	}
	if c.Pipeline.PublishMaxAttempts < 1 {
		errs = append(errs, errors.New("pipeline.publish_max_attempts: must be at least 1"))
	}
	if c.Pipeline.LeaseTTL.Duration <= c.Pipeline.RunTimeout.Duration {
		errs = append(errs, errors.New("pipeline.lease_ttl: must exceed run_timeout"))
	}
	if c.Schedule.Enabled && strings.TrimSpace(c.Schedule.Cron) == "" {
		errs = append(errs, errors.New("schedule.cron: required when schedule is enabled"))
	}
	if !strings.HasPrefix(c.Server.BaseURL, "http://") && !strings.HasPrefix(c.Server.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("server.base_url: %q is not an absolute URL", c.Server.BaseURL))
	}
	return errors.Join(errs...)
}

// Save writes config to disk
func (c *Config) Save() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}
