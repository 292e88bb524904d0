package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"salonbook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Salon         SalonConfig         `yaml:"salon"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Booking       BookingConfig       `yaml:"booking"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Google        GoogleConfig        `yaml:"google"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Exports       ExportConfig        `yaml:"exports"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type SalonConfig struct {
	Name         string        `yaml:"name"`
	Timezone     string        `yaml:"timezone"`
	SlotCacheTTL time.Duration `yaml:"slot_cache_ttl"`
}

type DatabaseConfig struct {
	Driver      string         `yaml:"driver"`
	Path        string         `yaml:"path"`
	BusyTimeout time.Duration  `yaml:"busy_timeout"`
	LockTimeout time.Duration  `yaml:"lock_timeout"`
	Postgres    PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	DBName         string `yaml:"dbname"`
	SSLMode        string `yaml:"sslmode"`
	MaxConnections int    `yaml:"max_connections"`
	MinConnections int    `yaml:"min_connections"`
	MigrationTable string `yaml:"migration_table"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// DSN builds a postgres:// connection string.
func (p PostgresConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.DBName,
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	q := url.Values{}
	if p.SSLMode != "" {
		q.Set("sslmode", p.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	Timeout  time.Duration `yaml:"timeout"`
}

type BookingConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	MaxRetryDelay time.Duration `yaml:"max_retry_delay"`
}

type NotificationsConfig struct {
	Enabled   bool           `yaml:"enabled"`
	FromEmail string         `yaml:"from_email"`
	FromName  string         `yaml:"from_name"`
	SendGrid  SendGridConfig `yaml:"sendgrid"`
	Telegram  TelegramConfig `yaml:"telegram"`
	Worker    WorkerConfig   `yaml:"worker"`
}

type SendGridConfig struct {
	APIKey string `yaml:"api_key"`
}

type TelegramConfig struct {
	BotToken string  `yaml:"bot_token"`
	ChatIDs  []int64 `yaml:"chat_ids"`
	Debug    bool    `yaml:"debug"`
}

type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
	MaxRetries   int           `yaml:"max_retries"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Lease        time.Duration `yaml:"lease"`
}

type RemindersConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Window   time.Duration `yaml:"window"`
}

type GoogleConfig struct {
	CalendarEnabled bool   `yaml:"calendar_enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	CalendarID      string `yaml:"calendar_id"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// APIAuthConfig covers bearer tokens (HTTP users) and partner keys
// (booking widgets and aggregators on the gRPC API).
type APIAuthConfig struct {
	Enabled             bool         `yaml:"enabled"`
	JWTSecret           string       `yaml:"jwt_secret"`
	JWTIssuer           string       `yaml:"jwt_issuer"`
	HeaderPartnerKey    string       `yaml:"header_partner_key"`
	HeaderPartnerSecret string       `yaml:"header_partner_secret"`
	Partners            []PartnerKey `yaml:"partners"`
}

// PartnerKey is one partner integration. An empty Scopes list grants every
// scope.
type PartnerKey struct {
	Name   string   `yaml:"name"`
	Key    string   `yaml:"key"`
	Secret string   `yaml:"secret"`
	Scopes []string `yaml:"scopes"`
}

type APIRateLimitConfig struct {
	RPS    float64       `yaml:"rps"`
	Burst  int           `yaml:"burst"`
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Salon.Timezone); err != nil {
		return fmt.Errorf("salon timezone %q: %w", c.Salon.Timezone, err)
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverPostgres:
		if c.Database.Postgres.Host == "" || c.Database.Postgres.DBName == "" {
			return errors.New("postgres host and dbname are required")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.API.Enabled && c.API.HTTP.Enabled && c.API.Auth.Enabled && strings.TrimSpace(c.API.Auth.JWTSecret) == "" {
		return errors.New("api.auth.jwt_secret is required when auth is enabled")
	}

	if c.Google.CalendarEnabled && (c.Google.CredentialsFile == "" || c.Google.CalendarID == "") {
		return errors.New("google calendar mirror requires credentials_file and calendar_id")
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("kafka topic is required when brokers are set")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "salonbook"
	}
	if c.Salon.Timezone == "" {
		c.Salon.Timezone = models.DefaultTimezone
	}
	if c.Salon.SlotCacheTTL == 0 {
		c.Salon.SlotCacheTTL = 30 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}
	if c.Database.LockTimeout == 0 {
		c.Database.LockTimeout = 5 * time.Second
	}
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = 5432
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}
	if c.Database.Postgres.MaxConnections == 0 {
		c.Database.Postgres.MaxConnections = 10
	}
	if c.Database.Postgres.MigrationTable == "" {
		c.Database.Postgres.MigrationTable = "schema_migrations"
	}

	if c.Booking.MaxAttempts == 0 {
		c.Booking.MaxAttempts = 3
	}
	if c.Booking.RetryDelay == 0 {
		c.Booking.RetryDelay = 50 * time.Millisecond
	}
	if c.Booking.MaxRetryDelay == 0 {
		c.Booking.MaxRetryDelay = time.Second
	}

	if c.Notifications.FromName == "" {
		c.Notifications.FromName = "Salon Booking"
	}
	w := &c.Notifications.Worker
	if w.PollInterval == 0 {
		w.PollInterval = 2 * time.Second
	}
	if w.BatchSize == 0 {
		w.BatchSize = 20
	}
	if w.MaxRetries == 0 {
		w.MaxRetries = 5
	}
	if w.InitialDelay == 0 {
		w.InitialDelay = 2 * time.Second
	}
	if w.MaxDelay == 0 {
		w.MaxDelay = time.Minute
	}
	if w.Lease == 0 {
		w.Lease = 5 * time.Minute
	}

	if c.Reminders.Interval == 0 {
		c.Reminders.Interval = time.Hour
	}
	if c.Reminders.Window == 0 {
		c.Reminders.Window = time.Hour
	}

	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderPartnerKey == "" {
		c.API.Auth.HeaderPartnerKey = "x-partner-key"
	}
	if c.API.Auth.HeaderPartnerSecret == "" {
		c.API.Auth.HeaderPartnerSecret = "x-partner-secret"
	}
	if c.API.RateLimit.Window == 0 {
		c.API.RateLimit.Window = time.Minute
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "./exports"
	}
}
