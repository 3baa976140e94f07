package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is read when it exists; environment variables always win.
const DefaultPath = "config.yaml"

// Config is the whole runtime configuration. Secrets only come from the
// environment.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Ingest   IngestConfig   `yaml:"ingest"`
	Retry    RetryConfig    `yaml:"retry"`
	Server   ServerConfig   `yaml:"server"`
	S3       S3Config       `yaml:"s3"`

	DataDir   string `yaml:"data_dir" env:"AUSTARCH_DATA_DIR" env-default:"./data"`
	SourceURL string `yaml:"source_url" env:"AUSTARCH_SOURCE_URL" env-default:"https://doi.org/10.5284/1027216"`
	// Baselines is an optional YAML file of expected record counts.
	Baselines string `yaml:"baselines" env:"AUSTARCH_BASELINES" env-default:""`
	LogMode   string `yaml:"log_mode" env:"AUSTARCH_LOG_MODE" env-default:"dev"`
}

type DatabaseConfig struct {
	// URL, when set, is used as-is and the discrete fields are ignored.
	URL      string `yaml:"-" env:"DATABASE_URL"`
	Host     string `yaml:"host" env:"AUSTARCH_DB_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"AUSTARCH_DB_PORT" env-default:"5432"`
	Name     string `yaml:"name" env:"AUSTARCH_DB_NAME" env-default:"austarch"`
	User     string `yaml:"user" env:"AUSTARCH_DB_USER" env-default:"postgres"`
	Password string `yaml:"-" env:"AUSTARCH_DB_PASSWORD"`
	SSLMode  string `yaml:"ssl_mode" env:"AUSTARCH_DB_SSLMODE" env-default:"disable"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"AUSTARCH_DB_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"AUSTARCH_DB_MAX_IDLE_CONNS" env-default:"20"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"AUSTARCH_DB_CONN_MAX_LIFETIME" env-default:"30m"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" env:"AUSTARCH_DB_SLOW_THRESHOLD" env-default:"200ms"`
}

// DSN returns a postgres connection URL.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else {
		u.User = url.User(d.User)
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type IngestConfig struct {
	Workers        int     `yaml:"workers" env:"AUSTARCH_WORKERS" env-default:"1"`
	Strict         bool    `yaml:"strict" env:"AUSTARCH_STRICT" env-default:"false"`
	SkipExisting   bool    `yaml:"skip_existing" env:"AUSTARCH_SKIP_EXISTING" env-default:"true"`
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" env:"AUSTARCH_FUZZY_THRESHOLD" env-default:"0.8"`
	MaxDistanceKm  float64 `yaml:"max_match_distance_km" env:"AUSTARCH_MAX_MATCH_DISTANCE_KM" env-default:"5"`
	// RowsPerSecond throttles datastore round trips; 0 disables the limiter.
	RowsPerSecond float64 `yaml:"rows_per_second" env:"AUSTARCH_ROWS_PER_SECOND" env-default:"0"`
	AuditEnabled  bool    `yaml:"audit_enabled" env:"AUSTARCH_AUDIT_ENABLED" env-default:"true"`
	// LogRowWarnings caps how many row issues are logged in detail.
	LogRowWarnings int `yaml:"log_row_warnings" env:"AUSTARCH_LOG_ROW_WARNINGS" env-default:"20"`
}

type RetryConfig struct {
	Attempts     int           `yaml:"attempts" env:"AUSTARCH_RETRY_ATTEMPTS" env-default:"3"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"AUSTARCH_RETRY_INITIAL_DELAY" env-default:"200ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"AUSTARCH_RETRY_MAX_DELAY" env-default:"5s"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr" env:"AUSTARCH_HTTP_ADDR" env-default:":5050"`
	AllowedOrigins string `yaml:"allowed_origins" env:"AUSTARCH_ALLOWED_ORIGINS" env-default:"http://localhost:5173"`
}

// Origins splits AllowedOrigins on commas.
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// S3Config applies when DataDir is an s3:// location.
type S3Config struct {
	Region    string `yaml:"region" env:"AUSTARCH_S3_REGION" env-default:"ap-southeast-2"`
	Endpoint  string `yaml:"endpoint" env:"AUSTARCH_S3_ENDPOINT" env-default:""`
	PathStyle bool   `yaml:"path_style" env:"AUSTARCH_S3_PATH_STYLE" env-default:"false"`
}

// Load reads path when it exists and then applies environment overrides.
// An empty path means environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			return cfg, cfg.Validate()
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("ingest.workers must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.FuzzyThreshold <= 0 || c.Ingest.FuzzyThreshold > 1 {
		return fmt.Errorf("ingest.fuzzy_threshold must be in (0, 1], got %v", c.Ingest.FuzzyThreshold)
	}
	if c.Ingest.MaxDistanceKm < 0 {
		return fmt.Errorf("ingest.max_match_distance_km must not be negative")
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	return nil
}
