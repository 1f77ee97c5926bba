package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile           = ".env"
	defaultPort              = "8080"
	defaultReadTimeout       = 15 * time.Second
	defaultWriteTimeout      = 30 * time.Second
	defaultIdleTimeout       = 120 * time.Second
	defaultBusinessTimezone  = "Asia/Ho_Chi_Minh"
	defaultAnalyticsTimeout  = 10 * time.Second
	defaultAnalyticsRPS      = 5.0
	defaultAnalyticsBurst    = 10
	defaultSignedURLTTL      = 15 * time.Minute
	defaultExportMaxRows     = 5000
	defaultOrderEventsSource = "crm-backend"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server    ServerConfig
	Firebase  FirebaseConfig
	Firestore FirestoreConfig
	PubSub    PubSubConfig
	Storage   StorageConfig
	Reporting ReportingConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings used for staff authentication.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	AuthEnabled     bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig controls publication of order lifecycle events.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
	EventSource      string
}

// StorageConfig configures order exports to Cloud Storage.
type StorageConfig struct {
	ExportsBucket   string
	SignerEmail     string
	SignedURLTTL    time.Duration
	ExportMaxRows   int
	CredentialsFile string
}

// ReportingConfig drives the analytics endpoints.
type ReportingConfig struct {
	BusinessTimezone string
	AnalyticsTimeout time.Duration
	RatePerSecond    float64
	Burst            int
}

// Location resolves the configured business timezone.
func (c ReportingConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.BusinessTimezone)
	if name == "" {
		name = defaultBusinessTimezone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("config: load business timezone %q: %w", name, err)
	}
	return loc, nil
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load resolves the configuration from the explicit map, the process environment and the
// optional .env file, in that order of precedence.
func Load(_ context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "CRM_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "CRM_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "CRM_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "CRM_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "CRM_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "CRM_FIREBASE_CREDENTIALS_FILE", ""),
			AuthEnabled:     boolWithDefault(lookup, "CRM_AUTH_ENABLED", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "CRM_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "CRM_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "CRM_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "CRM_PUBSUB_ORDER_EVENTS_TOPIC", ""),
			EventSource:      stringWithDefault(lookup, "CRM_PUBSUB_EVENT_SOURCE", defaultOrderEventsSource),
		},
		Storage: StorageConfig{
			ExportsBucket:   stringWithDefault(lookup, "CRM_STORAGE_EXPORTS_BUCKET", ""),
			SignerEmail:     stringWithDefault(lookup, "CRM_STORAGE_SIGNER_EMAIL", ""),
			SignedURLTTL:    durationWithDefault(lookup, "CRM_STORAGE_SIGNED_URL_TTL", defaultSignedURLTTL),
			ExportMaxRows:   intWithDefault(lookup, "CRM_STORAGE_EXPORT_MAX_ROWS", defaultExportMaxRows),
			CredentialsFile: stringWithDefault(lookup, "CRM_STORAGE_CREDENTIALS_FILE", ""),
		},
		Reporting: ReportingConfig{
			BusinessTimezone: stringWithDefault(lookup, "CRM_REPORTING_TIMEZONE", defaultBusinessTimezone),
			AnalyticsTimeout: durationWithDefault(lookup, "CRM_REPORTING_TIMEOUT", defaultAnalyticsTimeout),
			RatePerSecond:    floatWithDefault(lookup, "CRM_REPORTING_RATE_PER_SEC", defaultAnalyticsRPS),
			Burst:            intWithDefault(lookup, "CRM_REPORTING_BURST", defaultAnalyticsBurst),
		},
	}

	// Firestore and Pub/Sub default to the Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var invalid []string

	if cfg.Server.Port == "" {
		invalid = append(invalid, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		invalid = append(invalid, "Firestore.ProjectID")
	}
	if cfg.Firebase.AuthEnabled && cfg.Firebase.ProjectID == "" {
		invalid = append(invalid, "Firebase.ProjectID")
	}
	if cfg.Reporting.AnalyticsTimeout <= 0 {
		invalid = append(invalid, "Reporting.AnalyticsTimeout")
	}
	if _, err := cfg.Reporting.Location(); err != nil {
		invalid = append(invalid, "Reporting.BusinessTimezone")
	}
	if cfg.Reporting.RatePerSecond < 0 {
		invalid = append(invalid, "Reporting.RatePerSecond")
	}
	if cfg.Storage.ExportsBucket != "" && cfg.Storage.SignedURLTTL <= 0 {
		invalid = append(invalid, "Storage.SignedURLTTL")
	}
	if cfg.Storage.ExportMaxRows <= 0 {
		invalid = append(invalid, "Storage.ExportMaxRows")
	}

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	if _, err := os.Stat(absPath); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	values, err := godotenv.Read(absPath)
	if err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func floatWithDefault(lookup func(string) (string, bool), key string, fallback float64) float64 {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
