// Package config provides configuration loading and validation for the
// matching API and the weight learner. It uses koanf to merge environment
// variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the lostfound binaries.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Storage. Empty URLs select in-memory stores outside production.
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	// JWT Authentication
	JWTSecret string `koanf:"jwt_secret"`

	// External analysis services
	NLPEnabled bool `koanf:"nlp_on"`
	CVEnabled  bool `koanf:"cv_on"`

	// Matching
	MatchMaxRadiusKm       float64 `koanf:"match_max_radius_km"`
	MatchMaxDays           float64 `koanf:"match_max_days"`
	MatchCandidateCap      int     `koanf:"match_candidate_cap"`
	MatchProviderTimeoutMS int     `koanf:"match_provider_timeout_ms"`
	MatchWorkers           int     `koanf:"match_workers"`
	MatchLedgerTTLHours    int     `koanf:"match_ledger_ttl_hours"`
	VisionEmbeddingWeight  float64 `koanf:"vision_embedding_weight"`
	RankingCalibrationPath string  `koanf:"ranking_calibration_path"`
	WeightSyncIntervalSecs int     `koanf:"weight_sync_interval_seconds"`

	// Weight learner
	LearnerIntervalHours int     `koanf:"learner_interval_hours"`
	LearnerLookbackDays  int     `koanf:"learner_lookback_days"`
	LearnerMaxDelta      float64 `koanf:"learner_max_delta"`
	LearnerMinSamples    int     `koanf:"learner_min_samples"`
	LearnerGridStep      float64 `koanf:"learner_grid_step"`
	LearnerHoldoutEvery  int     `koanf:"learner_holdout_every"`
	LearnerAutoPromote   bool    `koanf:"learner_auto_promote"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingEndpoint     string  `koanf:"tracing_endpoint"`
	TracingSampleRate   float64 `koanf:"tracing_sample_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required in production")
	ErrMissingRedisURL    = errors.New("REDIS_URL is required in production")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidInteger     = errors.New("must be a valid integer")
	ErrOutOfRange         = errors.New("value out of range")
)

// Default values for non-secret configuration.
const (
	DefaultPort                   = 8080
	DefaultEnv                    = "development"
	DefaultMatchMaxRadiusKm       = 5.0
	DefaultMatchMaxDays           = 30.0
	DefaultMatchCandidateCap      = 500
	DefaultMatchProviderTimeoutMS = 250
	DefaultMatchWorkers           = 8
	DefaultMatchLedgerTTLHours    = 168
	DefaultVisionEmbeddingWeight  = 0.5
	DefaultWeightSyncIntervalSecs = 30
	DefaultLearnerIntervalHours   = 24
	DefaultLearnerLookbackDays    = 30
	DefaultLearnerMaxDelta        = 0.1
	DefaultLearnerMinSamples      = 50
	DefaultLearnerGridStep        = 0.05
	DefaultLearnerHoldoutEvery    = 5
	DefaultTracingExporterType    = "otlp-http"
	DefaultTracingSampleRate      = 0.1
)

// Load reads configuration from environment variables and an optional config file.
// Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if valid).
// If a config file path is provided and the file cannot be loaded, an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try LOSTFOUND_PORT first, then PORT
	port, portErr := getEnvIntOrDefaultMulti([]string{"LOSTFOUND_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
		port = DefaultPort
	}

	intVal := func(envKey, koanfKey string, def int) int {
		v, err := getEnvIntOrDefault(envKey, k.Int(koanfKey), def)
		if err != nil {
			loadErrs = append(loadErrs, err)
			return def
		}
		return v
	}
	floatVal := func(envKey, koanfKey string, def float64) float64 {
		v, err := getEnvFloatOrDefault(envKey, k.Float64(koanfKey), def)
		if err != nil {
			loadErrs = append(loadErrs, err)
			return def
		}
		return v
	}

	cfg := &Config{
		Port:        port,
		Env:         getEnvOrDefaultMulti([]string{"LOSTFOUND_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL: getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		RedisURL:    getEnvOrKoanf("REDIS_URL", k, "redis_url"),
		JWTSecret:   getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),

		NLPEnabled: getEnvBoolOrKoanf("NLP_ON", k, "nlp_on", false),
		CVEnabled:  getEnvBoolOrKoanf("CV_ON", k, "cv_on", false),

		MatchMaxRadiusKm:       floatVal("MATCH_MAX_RADIUS_KM", "match_max_radius_km", DefaultMatchMaxRadiusKm),
		MatchMaxDays:           floatVal("MATCH_MAX_DAYS", "match_max_days", DefaultMatchMaxDays),
		MatchCandidateCap:      intVal("MATCH_CANDIDATE_CAP", "match_candidate_cap", DefaultMatchCandidateCap),
		MatchProviderTimeoutMS: intVal("MATCH_PROVIDER_TIMEOUT_MS", "match_provider_timeout_ms", DefaultMatchProviderTimeoutMS),
		MatchWorkers:           intVal("MATCH_WORKERS", "match_workers", DefaultMatchWorkers),
		MatchLedgerTTLHours:    intVal("MATCH_LEDGER_TTL_HOURS", "match_ledger_ttl_hours", DefaultMatchLedgerTTLHours),
		VisionEmbeddingWeight:  floatVal("VISION_EMBEDDING_WEIGHT", "vision_embedding_weight", DefaultVisionEmbeddingWeight),
		RankingCalibrationPath: getEnvOrKoanf("RANKING_CALIBRATION_PATH", k, "ranking_calibration_path"),
		WeightSyncIntervalSecs: intVal("WEIGHT_SYNC_INTERVAL_SECONDS", "weight_sync_interval_seconds", DefaultWeightSyncIntervalSecs),

		LearnerIntervalHours: intVal("LEARNER_INTERVAL_HOURS", "learner_interval_hours", DefaultLearnerIntervalHours),
		LearnerLookbackDays:  intVal("LEARNER_LOOKBACK_DAYS", "learner_lookback_days", DefaultLearnerLookbackDays),
		LearnerMaxDelta:      floatVal("LEARNER_MAX_DELTA", "learner_max_delta", DefaultLearnerMaxDelta),
		LearnerMinSamples:    intVal("LEARNER_MIN_SAMPLES", "learner_min_samples", DefaultLearnerMinSamples),
		LearnerGridStep:      floatVal("LEARNER_GRID_STEP", "learner_grid_step", DefaultLearnerGridStep),
		LearnerHoldoutEvery:  intVal("LEARNER_HOLDOUT_EVERY", "learner_holdout_every", DefaultLearnerHoldoutEvery),
		LearnerAutoPromote:   getEnvBoolOrKoanf("LEARNER_AUTO_PROMOTE", k, "learner_auto_promote", false),

		TracingEnabled:      getEnvBoolOrKoanf("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporterType: getEnvOrDefault("TRACING_EXPORTER_TYPE", k.String("tracing_exporter_type"), DefaultTracingExporterType),
		TracingEndpoint:     getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_endpoint"),
		TracingSampleRate:   floatVal("TRACING_SAMPLE_RATE", "tracing_sample_rate", DefaultTracingSampleRate),
		TracingInsecure:     getEnvBoolOrKoanf("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// IsProduction reports whether the binaries run with production requirements.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ProviderTimeout is the per-signal scoring deadline.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.MatchProviderTimeoutMS) * time.Millisecond
}

// LedgerTTL is how long issued matches accept feedback.
func (c *Config) LedgerTTL() time.Duration {
	return time.Duration(c.MatchLedgerTTLHours) * time.Hour
}

// WeightSyncInterval is the polling period for shared weight snapshots.
func (c *Config) WeightSyncInterval() time.Duration {
	return time.Duration(c.WeightSyncIntervalSecs) * time.Second
}

// LearnerInterval is the period of the scheduled learning job.
func (c *Config) LearnerInterval() time.Duration {
	return time.Duration(c.LearnerIntervalHours) * time.Hour
}

// LearnerLookback is how far back feedback is read for learning.
func (c *Config) LearnerLookback() time.Duration {
	return time.Duration(c.LearnerLookbackDays) * 24 * time.Hour
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvBoolOrKoanf resolves a feature flag. The environment wins over the
// file; unrecognised env values leave the file or default value in place.
func getEnvBoolOrKoanf(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	v := defaultVal
	if k.Exists(koanfKey) {
		v = k.Bool(koanfKey)
	}
	if val := os.Getenv(envKey); val != "" {
		switch strings.ToLower(val) {
		case "true", "1", "yes", "on":
			v = true
		case "false", "0", "no", "off":
			v = false
		}
	}
	return v
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s %w", envKey, ErrInvalidInteger)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
// Returns an error if any environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as a float.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that required values are present and tunables are in range.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.IsProduction() {
		if c.DatabaseURL == "" {
			errs = append(errs, ErrMissingDatabaseURL)
		}
		if c.RedisURL == "" {
			errs = append(errs, ErrMissingRedisURL)
		}
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}

	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v: %w", name, v, ErrOutOfRange))
		}
	}
	unit := func(name string, v float64, openLow bool) {
		if v > 1 || v < 0 || (openLow && v == 0) {
			errs = append(errs, fmt.Errorf("%s must be within [0,1], got %v: %w", name, v, ErrOutOfRange))
		}
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d: %w", c.Port, ErrOutOfRange))
	}
	positive("MATCH_MAX_RADIUS_KM", c.MatchMaxRadiusKm)
	positive("MATCH_MAX_DAYS", c.MatchMaxDays)
	positive("MATCH_CANDIDATE_CAP", float64(c.MatchCandidateCap))
	positive("MATCH_PROVIDER_TIMEOUT_MS", float64(c.MatchProviderTimeoutMS))
	positive("MATCH_WORKERS", float64(c.MatchWorkers))
	positive("MATCH_LEDGER_TTL_HOURS", float64(c.MatchLedgerTTLHours))
	positive("WEIGHT_SYNC_INTERVAL_SECONDS", float64(c.WeightSyncIntervalSecs))
	unit("VISION_EMBEDDING_WEIGHT", c.VisionEmbeddingWeight, false)

	positive("LEARNER_INTERVAL_HOURS", float64(c.LearnerIntervalHours))
	positive("LEARNER_LOOKBACK_DAYS", float64(c.LearnerLookbackDays))
	positive("LEARNER_MIN_SAMPLES", float64(c.LearnerMinSamples))
	unit("LEARNER_MAX_DELTA", c.LearnerMaxDelta, true)
	unit("LEARNER_GRID_STEP", c.LearnerGridStep, true)
	if c.LearnerHoldoutEvery < 2 {
		errs = append(errs, fmt.Errorf("LEARNER_HOLDOUT_EVERY must be at least 2, got %d: %w", c.LearnerHoldoutEvery, ErrOutOfRange))
	}

	unit("TRACING_SAMPLE_RATE", c.TracingSampleRate, false)
	if c.TracingEnabled && c.TracingExporterType != "otlp-http" && c.TracingExporterType != "otlp-grpc" {
		errs = append(errs, fmt.Errorf("TRACING_EXPORTER_TYPE %q: %w", c.TracingExporterType, ErrOutOfRange))
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                      strconv.Itoa(c.Port),
		"env":                       c.Env,
		"database_url":              maskDatabaseURL(c.DatabaseURL),
		"redis_url":                 maskDatabaseURL(c.RedisURL),
		"jwt_secret":                maskSecret(c.JWTSecret),
		"nlp_on":                    strconv.FormatBool(c.NLPEnabled),
		"cv_on":                     strconv.FormatBool(c.CVEnabled),
		"match_max_radius_km":       strconv.FormatFloat(c.MatchMaxRadiusKm, 'f', -1, 64),
		"match_max_days":            strconv.FormatFloat(c.MatchMaxDays, 'f', -1, 64),
		"match_candidate_cap":       strconv.Itoa(c.MatchCandidateCap),
		"match_provider_timeout_ms": strconv.Itoa(c.MatchProviderTimeoutMS),
		"match_workers":             strconv.Itoa(c.MatchWorkers),
		"ranking_calibration_path":  c.RankingCalibrationPath,
		"learner_max_delta":         strconv.FormatFloat(c.LearnerMaxDelta, 'f', -1, 64),
		"learner_auto_promote":      strconv.FormatBool(c.LearnerAutoPromote),
		"tracing_enabled":           strconv.FormatBool(c.TracingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a connection URL.
// Works for postgres://, postgresql:// and redis:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
