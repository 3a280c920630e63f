// Package config loads service configuration. Values come from built-in
// defaults, then an optional YAML file, then environment variables, so a
// deployment can ship a file and still override secrets through the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// Auth holds token validation and admin guard settings.
type Auth struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
	JWTIssuer     string `yaml:"jwt_issuer"`
	JWTAudience   string `yaml:"jwt_audience"`
	AdminToken    string `yaml:"admin_token"`
}

// Database configures the Postgres hot store. An empty URL selects the
// in-memory stores (development only).
type Database struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RedisConfig configures the Redis client used for the retention lock.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Kafka configures outbox fan-out and report distribution. No brokers
// disables both.
type Kafka struct {
	Brokers           []string      `yaml:"brokers"`
	Topic             string        `yaml:"topic"`
	DistributionTopic string        `yaml:"distribution_topic"`
	Partitions        int32         `yaml:"partitions"`
	ReplicationFactor int16         `yaml:"replication_factor"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	BatchSize         int           `yaml:"batch_size"`
}

// Audit configures the event recorder.
type Audit struct {
	ChecksumAlgorithm     string `yaml:"checksum_algorithm"`
	DefaultRetentionYears int    `yaml:"default_retention_years"`
	MaxPageSize           int    `yaml:"max_page_size"`
}

// Reports configures report generation.
type Reports struct {
	ArtifactDir          string        `yaml:"artifact_dir"`
	Workers              int           `yaml:"workers"`
	QueueSize            int           `yaml:"queue_size"`
	ViolationWeight      float64       `yaml:"violation_weight"`
	WarningWeight        float64       `yaml:"warning_weight"`
	ScanPageSize         int           `yaml:"scan_page_size"`
	RetentionYears       int           `yaml:"retention_years"`
	SegregationOfDuties  bool          `yaml:"segregation_of_duties"`
	GenerationTimeout    time.Duration `yaml:"generation_timeout"`
	Schedules            []Schedule    `yaml:"schedules"`
	ScheduleCheckEvery   time.Duration `yaml:"schedule_check_every"`
	FailedLoginThreshold int           `yaml:"failed_login_threshold"`
}

// Schedule describes a recurring report generation.
type Schedule struct {
	ReportType       string   `yaml:"report_type"`
	Framework        string   `yaml:"framework"`
	Format           string   `yaml:"format"`
	Every            string   `yaml:"every"` // daily, weekly or monthly
	DistributionList []string `yaml:"distribution_list"`
}

// Retention configures the retention manager.
type Retention struct {
	Policy      string        `yaml:"policy"` // archive or purge
	ArchivePath string        `yaml:"archive_path"`
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
}

// RateLimit configures per-caller request budgets. A zero budget leaves
// that class unlimited.
type RateLimit struct {
	Enabled  bool          `yaml:"enabled"`
	Window   time.Duration `yaml:"window"`
	Read     int           `yaml:"read"`
	Write    int           `yaml:"write"`
	Generate int           `yaml:"generate"`
}

// Log configures the structured logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

// Config is the full service configuration.
type Config struct {
	Environment string      `yaml:"environment"`
	Server      Server      `yaml:"server"`
	Auth        Auth        `yaml:"auth"`
	Database    Database    `yaml:"database"`
	Redis       RedisConfig `yaml:"redis"`
	Kafka       Kafka       `yaml:"kafka"`
	Audit       Audit       `yaml:"audit"`
	Reports     Reports     `yaml:"reports"`
	Retention   Retention   `yaml:"retention"`
	RateLimit   RateLimit   `yaml:"rate_limit"`
	Log         Log         `yaml:"log"`
}

const devSigningKey = "dev-secret-key-change-in-production"

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Environment: "development",
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		Auth: Auth{
			JWTSigningKey: devSigningKey,
			JWTIssuer:     "pharmacy-platform",
			JWTAudience:   "pharmaudit",
		},
		Database: Database{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 1,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Topic:             "pharmaudit.audit-events",
			DistributionTopic: "pharmaudit.report-distribution",
			Partitions:        3,
			ReplicationFactor: 1,
			PollInterval:      time.Second,
			BatchSize:         100,
		},
		Audit: Audit{
			ChecksumAlgorithm:     "sha256",
			DefaultRetentionYears: 7,
			MaxPageSize:           200,
		},
		Reports: Reports{
			ArtifactDir:          "./var/reports",
			Workers:              2,
			QueueSize:            32,
			ViolationWeight:      1.0,
			WarningWeight:        0.25,
			ScanPageSize:         500,
			RetentionYears:       7,
			GenerationTimeout:    10 * time.Minute,
			ScheduleCheckEvery:   time.Hour,
			FailedLoginThreshold: 5,
		},
		Retention: Retention{
			Policy:      "archive",
			ArchivePath: "./var/archive.db",
			Interval:    24 * time.Hour,
			BatchSize:   500,
			LockTTL:     30 * time.Minute,
		},
		RateLimit: RateLimit{
			Enabled:  true,
			Window:   time.Minute,
			Read:     300,
			Write:    120,
			Generate: 10,
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// non-empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds a config from defaults and environment variables only.
func FromEnv() (*Config, error) {
	return Load("")
}

// IsProduction reports whether the service runs in a production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Audit.DefaultRetentionYears <= 0 {
		return fmt.Errorf("audit.default_retention_years must be positive")
	}
	if c.Reports.RetentionYears <= 0 {
		return fmt.Errorf("reports.retention_years must be positive")
	}
	switch c.Retention.Policy {
	case "archive", "purge":
	default:
		return fmt.Errorf("retention.policy must be 'archive' or 'purge'")
	}
	if c.Reports.Workers <= 0 || c.Reports.QueueSize <= 0 {
		return fmt.Errorf("reports.workers and reports.queue_size must be positive")
	}
	if c.Reports.ViolationWeight < 0 || c.Reports.WarningWeight < 0 {
		return fmt.Errorf("report scoring weights cannot be negative")
	}
	if c.RateLimit.Enabled && c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be positive")
	}
	for _, s := range c.Reports.Schedules {
		switch s.Every {
		case "daily", "weekly", "monthly":
		default:
			return fmt.Errorf("reports.schedules: unknown interval %q", s.Every)
		}
	}
	if c.IsProduction() {
		if c.Auth.JWTSigningKey == devSigningKey {
			return fmt.Errorf("JWT_SIGNING_KEY must be set in production")
		}
		if c.Auth.AdminToken == "" {
			return fmt.Errorf("ADMIN_API_TOKEN must be set in production")
		}
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL must be set in production")
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []string
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(key); ok && v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = f
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = d
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, key)
				return
			}
			*dst = b
		}
	}

	str("ENVIRONMENT", &cfg.Environment)
	str("PHARMAUDIT_ADDR", &cfg.Server.Addr)
	duration("PHARMAUDIT_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	str("JWT_SIGNING_KEY", &cfg.Auth.JWTSigningKey)
	str("JWT_ISSUER", &cfg.Auth.JWTIssuer)
	str("JWT_AUDIENCE", &cfg.Auth.JWTAudience)
	str("ADMIN_API_TOKEN", &cfg.Auth.AdminToken)

	str("DATABASE_URL", &cfg.Database.URL)
	integer("DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns)
	boolean("DATABASE_AUTO_MIGRATE", &cfg.Database.AutoMigrate)

	str("REDIS_URL", &cfg.Redis.URL)
	integer("REDIS_POOL_SIZE", &cfg.Redis.PoolSize)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_AUDIT_TOPIC", &cfg.Kafka.Topic)
	str("KAFKA_DISTRIBUTION_TOPIC", &cfg.Kafka.DistributionTopic)

	str("AUDIT_CHECKSUM_ALGORITHM", &cfg.Audit.ChecksumAlgorithm)
	integer("AUDIT_DEFAULT_RETENTION_YEARS", &cfg.Audit.DefaultRetentionYears)

	str("REPORTS_ARTIFACT_DIR", &cfg.Reports.ArtifactDir)
	integer("REPORTS_WORKERS", &cfg.Reports.Workers)
	integer("REPORTS_QUEUE_SIZE", &cfg.Reports.QueueSize)
	float("REPORTS_VIOLATION_WEIGHT", &cfg.Reports.ViolationWeight)
	float("REPORTS_WARNING_WEIGHT", &cfg.Reports.WarningWeight)
	boolean("REPORTS_SEGREGATION_OF_DUTIES", &cfg.Reports.SegregationOfDuties)

	str("RETENTION_POLICY", &cfg.Retention.Policy)
	str("RETENTION_ARCHIVE_PATH", &cfg.Retention.ArchivePath)
	duration("RETENTION_INTERVAL", &cfg.Retention.Interval)

	boolean("RATE_LIMIT_ENABLED", &cfg.RateLimit.Enabled)
	duration("RATE_LIMIT_WINDOW", &cfg.RateLimit.Window)
	integer("RATE_LIMIT_GENERATE", &cfg.RateLimit.Generate)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment values: %s", strings.Join(errs, ", "))
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
