package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPPort      int      `json:"http_port" validate:"gte=0"`
	MetricsPort   int      `json:"metrics_port" validate:"gte=0"`
	LogLevel      string   `json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string   `json:"log_format" validate:"oneof=json console"`
	NumWorkers    int      `json:"num_workers" validate:"min=1"`
	DBPath        string   `json:"db_path" validate:"required"`
	EncryptionKey string   `json:"encryption_key" validate:"required,len=32"`
	TimeZone      string   `json:"time_zone" validate:"required"`
	SessionTTL    Duration `json:"session_ttl" validate:"min=1m"`
	SessionStore  string   `json:"session_store" validate:"oneof=memory sqlite"`

	Google  Provider `json:"google"`
	Outlook Provider `json:"outlook"`

	Scheduler struct {
		TokenRefreshSchedule string   `json:"token_refresh_schedule" validate:"required"`
		RefreshWindow        Duration `json:"refresh_window" validate:"min=1m"`
		CleanupSchedule      string   `json:"cleanup_schedule" validate:"required"`
		CredentialRetention  Duration `json:"credential_retention" validate:"min=1h"`
	} `json:"scheduler"`
}

// Provider holds the OAuth client settings of one calendar provider.
// ClientID and ClientSecret may be empty; the provider then reports
// missing credentials when it is used.
type Provider struct {
	ClientID       string `json:"client_id"`
	ClientSecret   string `json:"client_secret"`
	PublicClientID string `json:"public_client_id"`
	RedirectURL    string `json:"redirect_url" validate:"omitempty,url"`
	CalendarID     string `json:"calendar_id" validate:"required"`
}

// Duration is a wrapper around time.Duration that implements JSON marshaling/unmarshaling
type Duration struct {
	time.Duration
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		if err != nil {
			return err
		}
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns a configuration with every optional field populated.
func Default() Config {
	var cfg Config
	cfg.HTTPPort = 8080
	cfg.MetricsPort = 9090
	cfg.LogLevel = "info"
	cfg.LogFormat = "json"
	cfg.NumWorkers = 4
	cfg.DBPath = "taskcal.db"
	cfg.TimeZone = "UTC"
	if tz := os.Getenv("TZ"); tz != "" {
		cfg.TimeZone = tz
	}
	cfg.SessionTTL = Duration{24 * time.Hour}
	cfg.SessionStore = "sqlite"
	cfg.Google.CalendarID = "primary"
	cfg.Outlook.CalendarID = "default" // the user's default Outlook calendar
	cfg.Scheduler.TokenRefreshSchedule = "*/15 * * * *"
	cfg.Scheduler.RefreshWindow = Duration{10 * time.Minute}
	cfg.Scheduler.CleanupSchedule = "0 3 * * *"
	cfg.Scheduler.CredentialRetention = Duration{30 * 24 * time.Hour}
	return cfg
}

// Load reads configuration from a file, loads a .env file next to the
// working directory if one exists, and overrides with environment variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides overrides config fields with environment variables.
func (c *Config) applyEnvOverrides() error {
	overrideString("LOG_LEVEL", &c.LogLevel)
	overrideString("LOG_FORMAT", &c.LogFormat)
	overrideString("DB_PATH", &c.DBPath)
	overrideString("ENCRYPTION_KEY", &c.EncryptionKey)
	overrideString("TIME_ZONE", &c.TimeZone)
	overrideString("SESSION_STORE", &c.SessionStore)

	if err := overrideInt("HTTP_PORT", &c.HTTPPort); err != nil {
		return err
	}
	if err := overrideInt("METRICS_PORT", &c.MetricsPort); err != nil {
		return err
	}

	// Provider secrets
	c.Google.applyEnvOverrides("GOOGLE")
	c.Outlook.applyEnvOverrides("OUTLOOK")

	return nil
}

func (p *Provider) applyEnvOverrides(prefix string) {
	overrideString(prefix+"_CLIENT_ID", &p.ClientID)
	overrideString(prefix+"_CLIENT_SECRET", &p.ClientSecret)
	overrideString(prefix+"_PUBLIC_CLIENT_ID", &p.PublicClientID)
	overrideString(prefix+"_REDIRECT_URL", &p.RedirectURL)
}

func overrideString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", key, err)
	}
	*dst = n
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	validate := validator.New()

	// Register custom validation for Duration
	validate.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if duration, ok := field.Interface().(Duration); ok {
			return duration.Duration
		}
		return nil
	}, Duration{})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return fmt.Errorf("unknown time zone %q: %w", c.TimeZone, err)
	}

	return nil
}
