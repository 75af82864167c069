package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Database drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Circulation CirculationConfig `yaml:"circulation"`
	JWT         JWTConfig         `yaml:"jwt"`
	Log         LogConfig         `yaml:"log"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
}

// ServerConfig contains gRPC and HTTP listener settings
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	HTTPPort int    `yaml:"http_port"`
}

// DatabaseConfig contains storage settings. Driver "memory" needs nothing else.
type DatabaseConfig struct {
	Driver          string `yaml:"driver"` // "memory", "postgres" (lib/pq) or "pgx"
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	SSLMode         string `yaml:"ssl_mode"`
	ReplicaHost     string `yaml:"replica_host"` // optional, serves eventually consistent reads
	NotifyChannel   string `yaml:"notify_channel"`
	BootstrapSchema bool   `yaml:"bootstrap_schema"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
}

// CirculationConfig contains loan, fine and concurrency settings
type CirculationConfig struct {
	LoanPeriodDays      int    `yaml:"loan_period_days"`
	FineRatePerDay      string `yaml:"fine_rate_per_day"`
	LateReturnThreshold int    `yaml:"late_return_threshold"`
	MaxAttempts         int    `yaml:"max_attempts"`
	BaseDelayMS         int    `yaml:"base_delay_ms"`
	OperationTimeoutMS  int    `yaml:"operation_timeout_ms"`
	TimeZone            string `yaml:"time_zone"`
}

// JWTConfig contains JWT token settings. An empty secret disables authentication.
type JWTConfig struct {
	Secret            string `yaml:"secret"`
	AccessTokenExpiry int    `yaml:"access_token_expiry_minutes"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "text"
}

// SchedulerConfig contains cron schedule settings (with seconds field)
type SchedulerConfig struct {
	Enabled             bool   `yaml:"enabled"`
	ReconcileDefaulters string `yaml:"reconcile_defaulters"`
	ReportOverdueLoans  string `yaml:"report_overdue_loans"`
	AuditInventory      string `yaml:"audit_inventory"`
}

// Load reads configuration from a YAML file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and validates
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.overrideWithEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() {
	// Database
	if val := os.Getenv("DB_DRIVER"); val != "" {
		c.Database.Driver = val
	}
	if val := os.Getenv("DB_HOST"); val != "" {
		c.Database.Host = val
	}
	if val := os.Getenv("DB_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Database.Port)
	}
	if val := os.Getenv("DB_USER"); val != "" {
		c.Database.User = val
	}
	if val := os.Getenv("DB_PASSWORD"); val != "" {
		c.Database.Password = val
	}
	if val := os.Getenv("DB_NAME"); val != "" {
		c.Database.Database = val
	}
	if val := os.Getenv("DB_SSL_MODE"); val != "" {
		c.Database.SSLMode = val
	}
	if val := os.Getenv("DB_REPLICA_HOST"); val != "" {
		c.Database.ReplicaHost = val
	}

	// Circulation
	if val := os.Getenv("LOAN_PERIOD_DAYS"); val != "" {
		fmt.Sscanf(val, "%d", &c.Circulation.LoanPeriodDays)
	}
	if val := os.Getenv("FINE_RATE_PER_DAY"); val != "" {
		c.Circulation.FineRatePerDay = val
	}
	if val := os.Getenv("LATE_RETURN_THRESHOLD"); val != "" {
		fmt.Sscanf(val, "%d", &c.Circulation.LateReturnThreshold)
	}

	// JWT
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}

	// Server
	if val := os.Getenv("SERVER_HOST"); val != "" {
		c.Server.Host = val
	}
	if val := os.Getenv("SERVER_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.Port)
	}
	if val := os.Getenv("SERVER_HTTP_PORT"); val != "" {
		fmt.Sscanf(val, "%d", &c.Server.HTTPPort)
	}

	// Log
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks if the configuration is valid and fills in defaults
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port == 0 {
		c.Server.Port = 50051
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8080
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}

	// Database validation
	if c.Database.Driver == "" {
		c.Database.Driver = DriverMemory
	}
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres, DriverPgx:
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if c.Database.Port == 0 {
			c.Database.Port = 5432
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = "disable"
		}
		if c.Database.NotifyChannel == "" {
			c.Database.NotifyChannel = "circulation_changes"
		}
	default:
		return fmt.Errorf("unknown database driver: %q", c.Database.Driver)
	}

	// Circulation defaults
	if c.Circulation.LoanPeriodDays == 0 {
		c.Circulation.LoanPeriodDays = 7
	}
	if c.Circulation.LoanPeriodDays < 0 {
		return fmt.Errorf("invalid loan period: %d days", c.Circulation.LoanPeriodDays)
	}
	if c.Circulation.FineRatePerDay == "" {
		c.Circulation.FineRatePerDay = "0.50"
	}
	rate, err := decimal.NewFromString(c.Circulation.FineRatePerDay)
	if err != nil || rate.IsNegative() {
		return fmt.Errorf("invalid fine rate per day: %q", c.Circulation.FineRatePerDay)
	}
	if c.Circulation.LateReturnThreshold == 0 {
		c.Circulation.LateReturnThreshold = 2
	}
	if c.Circulation.LateReturnThreshold < 0 {
		return fmt.Errorf("invalid late return threshold: %d", c.Circulation.LateReturnThreshold)
	}
	if c.Circulation.MaxAttempts == 0 {
		c.Circulation.MaxAttempts = 6
	}
	if c.Circulation.MaxAttempts < 0 {
		return fmt.Errorf("invalid max attempts: %d", c.Circulation.MaxAttempts)
	}
	if c.Circulation.BaseDelayMS == 0 {
		c.Circulation.BaseDelayMS = 10
	}
	if c.Circulation.OperationTimeoutMS == 0 {
		c.Circulation.OperationTimeoutMS = 5000
	}
	if c.Circulation.TimeZone == "" {
		c.Circulation.TimeZone = "UTC"
	}
	if _, err := time.LoadLocation(c.Circulation.TimeZone); err != nil {
		return fmt.Errorf("invalid time zone %q: %w", c.Circulation.TimeZone, err)
	}

	// JWT validation
	if c.JWT.Secret != "" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 characters")
	}
	if c.JWT.AccessTokenExpiry == 0 {
		c.JWT.AccessTokenExpiry = 60
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	// Scheduler defaults
	if c.Scheduler.ReconcileDefaulters == "" {
		c.Scheduler.ReconcileDefaulters = "0 */15 * * * *" // every 15 minutes
	}
	if c.Scheduler.ReportOverdueLoans == "" {
		c.Scheduler.ReportOverdueLoans = "0 0 2 * * *" // 2 AM UTC
	}
	if c.Scheduler.AuditInventory == "" {
		c.Scheduler.AuditInventory = "0 30 3 * * *" // 3:30 AM UTC
	}

	return nil
}

// GetDatabaseConnectionString returns a PostgreSQL connection string for the primary
func (c *Config) GetDatabaseConnectionString() string {
	return c.connectionString(c.Database.Host)
}

// GetReplicaConnectionString returns the replica connection string, empty when none is configured
func (c *Config) GetReplicaConnectionString() string {
	if c.Database.ReplicaHost == "" {
		return ""
	}
	return c.connectionString(c.Database.ReplicaHost)
}

func (c *Config) connectionString(host string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		host,
		c.Database.Port,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetServerAddress returns the gRPC server address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetHTTPAddress returns the HTTP server address
func (c *Config) GetHTTPAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.HTTPPort)
}

// LoanPeriod returns the loan duration
func (c CirculationConfig) LoanPeriod() time.Duration {
	return time.Duration(c.LoanPeriodDays) * 24 * time.Hour
}

// RatePerDay returns the parsed fine rate. Validate has already checked it.
func (c CirculationConfig) RatePerDay() decimal.Decimal {
	rate, err := decimal.NewFromString(c.FineRatePerDay)
	if err != nil {
		return decimal.Zero
	}
	return rate
}

func (c CirculationConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMS) * time.Millisecond
}

func (c CirculationConfig) OperationTimeout() time.Duration {
	return time.Duration(c.OperationTimeoutMS) * time.Millisecond
}

// Location returns the time zone used for calendar grouping, UTC when unset
func (c CirculationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AuthEnabled reports whether bearer tokens are checked
func (c *Config) AuthEnabled() bool {
	return c.JWT.Secret != ""
}
