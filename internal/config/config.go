package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" json:"allowed_origins"`
	RateLimit       string        `yaml:"rate_limit" json:"rate_limit"` // per client IP, e.g. "600-M"; empty disables
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// DatabaseConfig represents storage configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" json:"driver"` // sqlite or postgres
	DSN    string `yaml:"dsn" json:"dsn"`
	// MaxOpenConns stays at 1 for sqlite: one writer avoids lock contention between
	// writes. Queries go to a separate pool of ReadMaxOpenConns connections on the same
	// WAL file; 0 keeps them on the writer.
	MaxOpenConns     int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ReadMaxOpenConns int           `yaml:"read_max_open_conns" json:"read_max_open_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	BusyTimeout      time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
	RetryAttempts    int           `yaml:"retry_attempts" json:"retry_attempts"`
	RetryBaseDelay   time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay    time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
}

// ExchangeConfig represents the upstream exchange endpoints
type ExchangeConfig struct {
	InfoURL        string        `yaml:"info_url" json:"info_url"`
	WSURL          string        `yaml:"ws_url" json:"ws_url"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	Dexes          []string      `yaml:"dexes" json:"dexes"`
	Instruments    []string      `yaml:"instruments" json:"instruments"`
	ReconnectMin   time.Duration `yaml:"reconnect_min" json:"reconnect_min"`
	ReconnectMax   time.Duration `yaml:"reconnect_max" json:"reconnect_max"`
}

// IngestConfig represents the trade ingestion pipeline
type IngestConfig struct {
	BatchSize       int           `yaml:"batch_size" json:"batch_size"`
	FlushInterval   time.Duration `yaml:"flush_interval" json:"flush_interval"`
	PollTimeout     time.Duration `yaml:"poll_timeout" json:"poll_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RecentPerCoin   int           `yaml:"recent_per_coin" json:"recent_per_coin"`
}

// PollerConfig represents the market snapshot poller
type PollerConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// StatsConfig represents the summary statistics refresher
type StatsConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
	RefreshEvery    int           `yaml:"refresh_every" json:"refresh_every"`
}

// RetentionConfig represents the age-based cleanup sweep
type RetentionConfig struct {
	TradeDays     int           `yaml:"trade_days" json:"trade_days"`
	SnapshotDays  int           `yaml:"snapshot_days" json:"snapshot_days"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// CacheConfig represents the aggregation response cache
type CacheConfig struct {
	Driver   string        `yaml:"driver" json:"driver"` // memory, redis or none
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Address  string        `yaml:"address" json:"address"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
}

// KafkaConfig represents the optional flushed-trade fan-out
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

// TelemetryConfig represents tracing configuration
type TelemetryConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled" json:"tracing_enabled"`
	ServiceName    string `yaml:"service_name" json:"service_name"`
}

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Database  DatabaseConfig  `yaml:"database" json:"database"`
	Exchange  ExchangeConfig  `yaml:"exchange" json:"exchange"`
	Ingest    IngestConfig    `yaml:"ingest" json:"ingest"`
	Poller    PollerConfig    `yaml:"poller" json:"poller"`
	Stats     StatsConfig     `yaml:"stats" json:"stats"`
	Retention RetentionConfig `yaml:"retention" json:"retention"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			RateLimit:       "600-M",
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Database: DatabaseConfig{
			Driver:           "sqlite",
			DSN:              "perpstats.db",
			MaxOpenConns:     1,
			MaxIdleConns:     1,
			ReadMaxOpenConns: 4,
			ConnMaxLifetime:  time.Hour,
			BusyTimeout:      5 * time.Second,
			RetryAttempts:    3,
			RetryBaseDelay:   100 * time.Millisecond,
			RetryMaxDelay:    2 * time.Second,
		},
		Exchange: ExchangeConfig{
			InfoURL:        "https://api.hyperliquid.xyz/info",
			WSURL:          "wss://api.hyperliquid.xyz/ws",
			RequestTimeout: 10 * time.Second,
			Dexes:          []string{"xyz", "flx", "vntl"},
			ReconnectMin:   time.Second,
			ReconnectMax:   time.Minute,
		},
		Ingest: IngestConfig{
			BatchSize:       100,
			FlushInterval:   time.Second,
			PollTimeout:     100 * time.Millisecond,
			ShutdownTimeout: 5 * time.Second,
			RecentPerCoin:   50,
		},
		Poller: PollerConfig{Enabled: true, Interval: time.Minute},
		Stats: StatsConfig{
			RefreshInterval: 5 * time.Minute,
			RefreshEvery:    1000,
		},
		Retention: RetentionConfig{
			TradeDays:     30,
			SnapshotDays:  30,
			SweepInterval: 24 * time.Hour,
		},
		Cache: CacheConfig{
			Driver:  "memory",
			TTL:     30 * time.Second,
			Address: "localhost:6379",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "perpstats.trades",
		},
		Telemetry: TelemetryConfig{ServiceName: "perpstats"},
	}
}

// LoadConfig loads configuration from defaults, environment variables and an optional config.yaml.
func LoadConfig() (*Config, error) {
	config := Default()

	applyEnv(config)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/perpstats")

	if err := viper.ReadInConfig(); err != nil {
		// Config file is optional
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		applyViper(viper.GetViper(), config)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks values that would otherwise break the background loops.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Cache.Driver {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported cache driver %q", c.Cache.Driver)
	}
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("ingest.batch_size must be positive")
	}
	if c.Ingest.FlushInterval <= 0 || c.Ingest.PollTimeout <= 0 {
		return fmt.Errorf("ingest intervals must be positive")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be positive")
	}
	if c.Database.RetryAttempts < 1 {
		return fmt.Errorf("database.retry_attempts must be at least 1")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka requires brokers and topic when enabled")
	}
	return nil
}

func applyEnv(config *Config) {
	if port, err := strconv.Atoi(os.Getenv("SERVER_PORT")); err == nil {
		config.Server.Port = port
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if rate, ok := os.LookupEnv("SERVER_RATE_LIMIT"); ok {
		config.Server.RateLimit = rate
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Log.Format = format
	}

	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if attempts, err := strconv.Atoi(os.Getenv("DATABASE_RETRY_ATTEMPTS")); err == nil {
		config.Database.RetryAttempts = attempts
	}
	if conns, err := strconv.Atoi(os.Getenv("DATABASE_READ_MAX_OPEN_CONNS")); err == nil {
		config.Database.ReadMaxOpenConns = conns
	}

	if infoURL := os.Getenv("EXCHANGE_INFO_URL"); infoURL != "" {
		config.Exchange.InfoURL = infoURL
	}
	if wsURL := os.Getenv("EXCHANGE_WS_URL"); wsURL != "" {
		config.Exchange.WSURL = wsURL
	}
	if dexes := os.Getenv("EXCHANGE_DEXES"); dexes != "" {
		config.Exchange.Dexes = splitList(dexes)
	}
	if instruments := os.Getenv("EXCHANGE_INSTRUMENTS"); instruments != "" {
		config.Exchange.Instruments = splitList(instruments)
	}

	if size, err := strconv.Atoi(os.Getenv("INGEST_BATCH_SIZE")); err == nil {
		config.Ingest.BatchSize = size
	}
	if d, err := time.ParseDuration(os.Getenv("INGEST_FLUSH_INTERVAL")); err == nil {
		config.Ingest.FlushInterval = d
	}
	if d, err := time.ParseDuration(os.Getenv("POLLER_INTERVAL")); err == nil {
		config.Poller.Interval = d
	}
	if enabled := os.Getenv("POLLER_ENABLED"); enabled != "" {
		config.Poller.Enabled = enabled == "true"
	}

	if days, err := strconv.Atoi(os.Getenv("RETENTION_TRADE_DAYS")); err == nil {
		config.Retention.TradeDays = days
	}
	if days, err := strconv.Atoi(os.Getenv("RETENTION_SNAPSHOT_DAYS")); err == nil {
		config.Retention.SnapshotDays = days
	}

	if driver := os.Getenv("CACHE_DRIVER"); driver != "" {
		config.Cache.Driver = driver
	}
	if redisAddr := os.Getenv("REDIS_ADDRESS"); redisAddr != "" {
		config.Cache.Address = redisAddr
	}
	if redisPassword := os.Getenv("REDIS_PASSWORD"); redisPassword != "" {
		config.Cache.Password = redisPassword
	}
	if redisDB, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		config.Cache.DB = redisDB
	}

	if kafkaBrokers := os.Getenv("KAFKA_BROKERS"); kafkaBrokers != "" {
		config.Kafka.Brokers = splitList(kafkaBrokers)
	}
	if enabled := os.Getenv("KAFKA_ENABLED"); enabled != "" {
		config.Kafka.Enabled = enabled == "true"
	}
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		config.Kafka.Topic = topic
	}

	if enabled := os.Getenv("TRACING_ENABLED"); enabled != "" {
		config.Telemetry.TracingEnabled = enabled == "true"
	}
}

func applyViper(v *viper.Viper, config *Config) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	setInt := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	setBool := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}
	setList := func(key string, dst *[]string) {
		if v.IsSet(key) {
			*dst = v.GetStringSlice(key)
		}
	}

	setString("server.host", &config.Server.Host)
	setInt("server.port", &config.Server.Port)
	setDuration("server.read_timeout", &config.Server.ReadTimeout)
	setDuration("server.write_timeout", &config.Server.WriteTimeout)
	setDuration("server.shutdown_timeout", &config.Server.ShutdownTimeout)
	setList("server.allowed_origins", &config.Server.AllowedOrigins)
	setString("server.rate_limit", &config.Server.RateLimit)

	setString("log.level", &config.Log.Level)
	setString("log.format", &config.Log.Format)

	setString("database.driver", &config.Database.Driver)
	setString("database.dsn", &config.Database.DSN)
	setInt("database.max_open_conns", &config.Database.MaxOpenConns)
	setInt("database.max_idle_conns", &config.Database.MaxIdleConns)
	setInt("database.read_max_open_conns", &config.Database.ReadMaxOpenConns)
	setDuration("database.conn_max_lifetime", &config.Database.ConnMaxLifetime)
	setDuration("database.busy_timeout", &config.Database.BusyTimeout)
	setInt("database.retry_attempts", &config.Database.RetryAttempts)
	setDuration("database.retry_base_delay", &config.Database.RetryBaseDelay)
	setDuration("database.retry_max_delay", &config.Database.RetryMaxDelay)

	setString("exchange.info_url", &config.Exchange.InfoURL)
	setString("exchange.ws_url", &config.Exchange.WSURL)
	setDuration("exchange.request_timeout", &config.Exchange.RequestTimeout)
	setList("exchange.dexes", &config.Exchange.Dexes)
	setList("exchange.instruments", &config.Exchange.Instruments)
	setDuration("exchange.reconnect_min", &config.Exchange.ReconnectMin)
	setDuration("exchange.reconnect_max", &config.Exchange.ReconnectMax)

	setInt("ingest.batch_size", &config.Ingest.BatchSize)
	setDuration("ingest.flush_interval", &config.Ingest.FlushInterval)
	setDuration("ingest.poll_timeout", &config.Ingest.PollTimeout)
	setDuration("ingest.shutdown_timeout", &config.Ingest.ShutdownTimeout)
	setInt("ingest.recent_per_coin", &config.Ingest.RecentPerCoin)

	setBool("poller.enabled", &config.Poller.Enabled)
	setDuration("poller.interval", &config.Poller.Interval)

	setDuration("stats.refresh_interval", &config.Stats.RefreshInterval)
	setInt("stats.refresh_every", &config.Stats.RefreshEvery)

	setInt("retention.trade_days", &config.Retention.TradeDays)
	setInt("retention.snapshot_days", &config.Retention.SnapshotDays)
	setDuration("retention.sweep_interval", &config.Retention.SweepInterval)

	setString("cache.driver", &config.Cache.Driver)
	setDuration("cache.ttl", &config.Cache.TTL)
	setString("cache.address", &config.Cache.Address)
	setString("cache.password", &config.Cache.Password)
	setInt("cache.db", &config.Cache.DB)

	setBool("kafka.enabled", &config.Kafka.Enabled)
	setList("kafka.brokers", &config.Kafka.Brokers)
	setString("kafka.topic", &config.Kafka.Topic)

	setBool("telemetry.tracing_enabled", &config.Telemetry.TracingEnabled)
	setString("telemetry.service_name", &config.Telemetry.ServiceName)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
