package contract

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/huangsam/devyear/schema"
)

// Default values for configuration.
const (
	DefaultAIWorkers    = 4
	DefaultAIAttempts   = 3
	DefaultDiffAttempts = 3
	DefaultPrecision    = 1
	DefaultModel        = "gpt-4o-mini"
	DefaultListen       = ":8080"
	MinYear             = 2005
)

// DefaultWorkers is the default number of repositories processed concurrently.
var DefaultWorkers = min(runtime.GOMAXPROCS(0), 8)

// DateTimeFormat is the default date time representation.
var DateTimeFormat = time.RFC3339

// ProfileConfig holds profiling settings.
type ProfileConfig struct {
	Enabled bool
	Prefix  string
}

// ClusteringRawInput holds optional clustering overrides from the config file.
type ClusteringRawInput struct {
	RapidGap      *string  `mapstructure:"rapid-gap"`
	LongGap       *string  `mapstructure:"long-gap"`
	MinSimilarity *float64 `mapstructure:"min-similarity"`
	PrefixDepth   *int     `mapstructure:"prefix-depth"`
}

// ScoringRawInput holds optional scoring overrides from the config file.
type ScoringRawInput struct {
	SizeCap        *float64 `mapstructure:"size-cap"`
	SizeSaturation *float64 `mapstructure:"size-saturation"`
	CommitLineCap  *int     `mapstructure:"commit-line-cap"`
	CoreCap        *float64 `mapstructure:"core-cap"`
	HotspotCap     *float64 `mapstructure:"hotspot-cap"`
	ConfigBonus    *float64 `mapstructure:"config-bonus"`
	TestCap        *float64 `mapstructure:"test-cap"`
	HotspotWindow  *string  `mapstructure:"hotspot-window"`
	HotspotLimit   *int     `mapstructure:"hotspot-limit"`
}

// SamplingRawInput holds optional sampling overrides from the config file.
type SamplingRawInput struct {
	TopK    *int `mapstructure:"top-k"`
	Random  *int `mapstructure:"random"`
	Special *int `mapstructure:"special"`
}

// Config holds the runtime configuration.
// This struct is the "final, validated" config.
type Config struct {
	Backend   schema.DatabaseBackend
	DBConnect string // Please use env var as this is plaintext

	ReposRoot       string
	OrgSettingsPath string

	Workers      int
	AIWorkers    int
	AIAttempts   int
	DiffAttempts int

	Model         string
	OpenAIAPIKey  string // Please use env var as this is plaintext
	OpenAIBaseURL string
	Offline       bool

	LogLevel  slog.Level
	LogFormat string

	Output     schema.OutputMode
	OutputFile string
	Precision  int
	Width      int // Terminal width override (0 = auto-detect)
	UseColors  bool

	Listen string

	Clustering schema.ClusterSettings
	Scoring    schema.ScoreSettings
	Sampling   schema.SampleSettings
	Hotspots   schema.HotspotSettings
}

// ConfigRawInput holds the raw inputs from all sources (flags, env, config file).
// Viper unmarshals into this struct.
type ConfigRawInput struct {
	DBBackend     string `mapstructure:"db-backend"`
	DBConnect     string `mapstructure:"db-connect"`
	ReposRoot     string `mapstructure:"repos-root"`
	OrgSettings   string `mapstructure:"org-settings"`
	Workers       int    `mapstructure:"workers"`
	AIWorkers     int    `mapstructure:"ai-workers"`
	AIAttempts    int    `mapstructure:"ai-attempts"`
	DiffAttempts  int    `mapstructure:"diff-attempts"`
	Model         string `mapstructure:"model"`
	OpenAIAPIKey  string `mapstructure:"openai-api-key"`
	OpenAIBaseURL string `mapstructure:"openai-base-url"`
	Offline       bool   `mapstructure:"offline"`
	LogLevel      string `mapstructure:"log-level"`
	LogFormat     string `mapstructure:"log-format"`
	Output        string `mapstructure:"output"`
	OutputFile    string `mapstructure:"output-file"`
	Precision     int    `mapstructure:"precision"`
	Width         int    `mapstructure:"width"`
	Color         string `mapstructure:"color"`
	Listen        string `mapstructure:"listen"`

	// --- Calibration sections from config file ---
	Clustering ClusteringRawInput `mapstructure:"clustering"`
	Scoring    ScoringRawInput    `mapstructure:"scoring"`
	Sampling   SamplingRawInput   `mapstructure:"sampling"`
}

// ProcessAndValidate performs all parsing and validation on the raw inputs
// and updates the final Config struct.
func ProcessAndValidate(cfg *Config, input *ConfigRawInput) error {
	if err := validateSimpleInputs(cfg, input); err != nil {
		return err
	}
	if err := validateBackendConfig(cfg, input); err != nil {
		return err
	}
	if err := processClustering(cfg, input.Clustering); err != nil {
		return err
	}
	if err := processScoring(cfg, input.Scoring); err != nil {
		return err
	}
	return processSampling(cfg, input.Sampling)
}

// ValidateRunRequest checks the identity of a run before it is created.
func ValidateRunRequest(org, user string, year int, now time.Time) error {
	if strings.TrimSpace(org) == "" {
		return NewValidationError("org", "must not be empty")
	}
	if strings.TrimSpace(user) == "" {
		return NewValidationError("user", "must not be empty")
	}
	if year < MinYear || year > now.Year() {
		return NewValidationError("year", "must be between %d and %d (received %d)", MinYear, now.Year(), year)
	}
	return nil
}

// ValidateDatabaseConnectionString validates the format of database connection strings
// for MySQL and PostgreSQL backends.
func ValidateDatabaseConnectionString(backend schema.DatabaseBackend, connStr string) error {
	switch backend {
	case schema.SQLiteBackend:
		return nil
	case schema.MySQLBackend:
		if connStr == "" {
			return fmt.Errorf("db-connect is required when using %s backend", backend)
		}
		if !strings.Contains(connStr, "@tcp(") {
			return fmt.Errorf("MySQL connection string must contain '@tcp(' for host:port specification")
		}
		if !strings.Contains(connStr, "/") {
			return fmt.Errorf("MySQL connection string must contain '/' followed by database name")
		}
	case schema.PostgreSQLBackend:
		if connStr == "" {
			return fmt.Errorf("db-connect is required when using %s backend", backend)
		}
		if strings.HasPrefix(connStr, "postgres://") || strings.HasPrefix(connStr, "postgresql://") {
			return nil
		}
		if !strings.Contains(connStr, "host=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'host=' parameter")
		}
		if !strings.Contains(connStr, "dbname=") {
			return fmt.Errorf("PostgreSQL connection string must contain 'dbname=' parameter")
		}
	default:
		return fmt.Errorf("unsupported backend: %s", backend)
	}
	return nil
}

// ParseLogLevel maps a level name to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level '%s'. must be debug, info, warn, error", s)
	}
	return level, nil
}

// validateSimpleInputs processes and validates all non-calibration fields.
func validateSimpleInputs(cfg *Config, input *ConfigRawInput) error {
	cfg.ReposRoot = input.ReposRoot
	cfg.OrgSettingsPath = input.OrgSettings
	cfg.OutputFile = input.OutputFile
	cfg.Width = input.Width
	cfg.OpenAIAPIKey = input.OpenAIAPIKey
	cfg.OpenAIBaseURL = input.OpenAIBaseURL
	cfg.Offline = input.Offline
	cfg.Listen = input.Listen
	if cfg.Listen == "" {
		cfg.Listen = DefaultListen
	}
	cfg.Model = input.Model
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	colors, err := ParseBoolString(input.Color)
	if err != nil {
		return fmt.Errorf("invalid --color value: %w", err)
	}
	cfg.UseColors = colors

	if input.Workers <= 0 {
		return fmt.Errorf("workers must be greater than 0 (received %d)", input.Workers)
	}
	cfg.Workers = input.Workers

	if input.AIWorkers <= 0 {
		return fmt.Errorf("ai-workers must be greater than 0 (received %d)", input.AIWorkers)
	}
	cfg.AIWorkers = input.AIWorkers

	if input.AIAttempts < 1 || input.DiffAttempts < 1 {
		return fmt.Errorf("ai-attempts and diff-attempts must be at least 1 (received %d and %d)", input.AIAttempts, input.DiffAttempts)
	}
	cfg.AIAttempts = input.AIAttempts
	cfg.DiffAttempts = input.DiffAttempts

	if input.Precision < 1 || input.Precision > 2 {
		return fmt.Errorf("precision must be 1 or 2 (received %d)", input.Precision)
	}
	cfg.Precision = input.Precision

	cfg.Output = schema.OutputMode(strings.ToLower(input.Output))
	if _, ok := schema.ValidOutputModes[cfg.Output]; !ok {
		return fmt.Errorf("invalid output format '%s'. must be text, csv, json", input.Output)
	}

	level, err := ParseLogLevel(input.LogLevel)
	if err != nil {
		return err
	}
	cfg.LogLevel = level

	cfg.LogFormat = strings.ToLower(input.LogFormat)
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log format '%s'. must be text or json", input.LogFormat)
	}
	return nil
}

// validateBackendConfig validates the run store backend.
func validateBackendConfig(cfg *Config, input *ConfigRawInput) error {
	cfg.Backend = schema.DatabaseBackend(strings.ToLower(input.DBBackend))
	if cfg.Backend == "" {
		cfg.Backend = schema.SQLiteBackend
	}
	if _, ok := schema.ValidDatabaseBackends[cfg.Backend]; !ok {
		return fmt.Errorf("invalid db backend '%s'. must be sqlite, mysql, postgresql", input.DBBackend)
	}
	cfg.DBConnect = input.DBConnect
	return ValidateDatabaseConnectionString(cfg.Backend, cfg.DBConnect)
}

// processClustering overlays clustering overrides on the defaults.
func processClustering(cfg *Config, raw ClusteringRawInput) error {
	c := schema.DefaultClusterSettings()
	if raw.RapidGap != nil {
		d, err := time.ParseDuration(*raw.RapidGap)
		if err != nil {
			return fmt.Errorf("invalid clustering.rapid-gap: %w", err)
		}
		c.RapidGap = d
	}
	if raw.LongGap != nil {
		d, err := time.ParseDuration(*raw.LongGap)
		if err != nil {
			return fmt.Errorf("invalid clustering.long-gap: %w", err)
		}
		c.LongGap = d
	}
	if raw.MinSimilarity != nil {
		c.MinSimilarity = *raw.MinSimilarity
	}
	if raw.PrefixDepth != nil {
		c.PrefixDepth = *raw.PrefixDepth
	}

	if c.RapidGap < 0 || c.LongGap < c.RapidGap {
		return fmt.Errorf("clustering gaps must satisfy 0 <= rapid-gap <= long-gap (received %s and %s)", c.RapidGap, c.LongGap)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("clustering.min-similarity must be between 0.0 and 1.0 (received %.2f)", c.MinSimilarity)
	}
	if c.PrefixDepth < 1 {
		return fmt.Errorf("clustering.prefix-depth must be at least 1 (received %d)", c.PrefixDepth)
	}
	cfg.Clustering = c
	return nil
}

// processScoring overlays scoring overrides on the defaults.
func processScoring(cfg *Config, raw ScoringRawInput) error {
	s := schema.DefaultScoreSettings()
	h := schema.DefaultHotspotSettings()
	overrides := []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"size-cap", raw.SizeCap, &s.SizeCap},
		{"size-saturation", raw.SizeSaturation, &s.SizeSaturation},
		{"core-cap", raw.CoreCap, &s.CoreCap},
		{"hotspot-cap", raw.HotspotCap, &s.HotspotCap},
		{"config-bonus", raw.ConfigBonus, &s.ConfigBonus},
		{"test-cap", raw.TestCap, &s.TestCap},
	}
	for _, o := range overrides {
		if o.src == nil {
			continue
		}
		if *o.src < 0 || *o.src > schema.MaxImpactScore {
			return fmt.Errorf("scoring.%s must be between 0 and %.0f (received %.2f)", o.name, schema.MaxImpactScore, *o.src)
		}
		*o.dst = *o.src
	}
	if s.SizeSaturation < 1 {
		return fmt.Errorf("scoring.size-saturation must be at least 1 (received %.2f)", s.SizeSaturation)
	}
	if raw.CommitLineCap != nil {
		if *raw.CommitLineCap < 1 {
			return fmt.Errorf("scoring.commit-line-cap must be at least 1 (received %d)", *raw.CommitLineCap)
		}
		s.CommitLineCap = *raw.CommitLineCap
	}
	if raw.HotspotWindow != nil {
		d, err := ParseLookbackDuration(*raw.HotspotWindow)
		if err != nil {
			return fmt.Errorf("invalid scoring.hotspot-window: %w", err)
		}
		h.Window = d
	}
	if raw.HotspotLimit != nil {
		if *raw.HotspotLimit < 0 {
			return fmt.Errorf("scoring.hotspot-limit must not be negative (received %d)", *raw.HotspotLimit)
		}
		h.Limit = *raw.HotspotLimit
	}
	cfg.Scoring = s
	cfg.Hotspots = h
	return nil
}

// processSampling overlays sampling overrides on the defaults.
func processSampling(cfg *Config, raw SamplingRawInput) error {
	s := schema.DefaultSampleSettings()
	if raw.TopK != nil {
		s.TopK = *raw.TopK
	}
	if raw.Random != nil {
		s.Random = *raw.Random
	}
	if raw.Special != nil {
		s.Special = *raw.Special
	}
	if s.TopK < 0 || s.Random < 0 || s.Special < 0 {
		return fmt.Errorf("sampling sizes must not be negative (received top-k=%d random=%d special=%d)", s.TopK, s.Random, s.Special)
	}
	if s.Ceiling() == 0 {
		return fmt.Errorf("sampling must select at least one unit")
	}
	cfg.Sampling = s
	return nil
}

// ProcessProfilingConfig handles the profiling flag and sets up profiling configuration.
func ProcessProfilingConfig(profile *ProfileConfig, profilePrefix string) error {
	if profilePrefix != "" {
		profile.Enabled = true
		profile.Prefix = profilePrefix
	}
	return nil
}
