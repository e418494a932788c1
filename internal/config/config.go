// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/forum-crawler/internal/sink/postgres"
)

// Output methods accepted by crawl.output_method.
const (
	OutputJSON     = "json"
	OutputPostgres = "postgres"
)

// ErrSinkNotConfigured reports that the selected sink lacks required settings.
var ErrSinkNotConfigured = postgres.ErrNotConfigured

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Forum    ForumConfig    `mapstructure:"forum"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Output   OutputConfig   `mapstructure:"output"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ForumConfig describes the forum being crawled and the HTTP client.
type ForumConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Concurrency    int    `mapstructure:"concurrency"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int    `mapstructure:"max_body_bytes"`
}

// CrawlConfig governs the recency window and pipeline sizing.
type CrawlConfig struct {
	Days         int    `mapstructure:"days"`
	OutputMethod string `mapstructure:"output_method"`
	QueueDepth   int    `mapstructure:"queue_depth"`
	MaxPages     int    `mapstructure:"max_pages"`
}

// OutputConfig sets the JSON file path and its optional GCS archive.
type OutputConfig struct {
	Path      string `mapstructure:"path"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PostgresConfig holds connection settings for the relational sink.
type PostgresConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	User      string `mapstructure:"user"`
	Password  string `mapstructure:"password"`
	DBName    string `mapstructure:"dbname"`
	SSLMode   string `mapstructure:"sslmode"`
	Table     string `mapstructure:"table"`
	BatchSize int    `mapstructure:"batch_size"`
	MaxConns  int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for crawl-finished notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Option adjusts how Load builds the Viper instance.
type Option func(*loader)

type loader struct {
	envFiles []string
	flags    map[string]*pflag.Flag
}

// WithEnvFiles replaces the dotenv files read before the environment is consulted.
func WithEnvFiles(paths ...string) Option {
	return func(l *loader) {
		l.envFiles = paths
	}
}

// WithFlag binds a command-line flag to a config key. Flags only override
// other sources when set explicitly.
func WithFlag(key string, flag *pflag.Flag) Option {
	return func(l *loader) {
		if flag != nil {
			l.flags[key] = flag
		}
	}
}

// Load builds a Config from dotenv files, an optional config file, the
// environment and bound flags, in increasing order of precedence.
func Load(path string, opts ...Option) (Config, error) {
	l := &loader{envFiles: []string{".env"}, flags: map[string]*pflag.Flag{}}
	for _, opt := range opts {
		opt(l)
	}
	for _, f := range l.envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	setDefaults(v)

	for key, flag := range l.flags {
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", flag.Name, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv accepts the unprefixed POSTGRES_* names used by existing deployments.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("postgres.host", "CRAWLER_POSTGRES_HOST", "POSTGRES_URI", "POSTGRES_HOST")
	_ = v.BindEnv("postgres.user", "CRAWLER_POSTGRES_USER", "POSTGRES_USER")
	_ = v.BindEnv("postgres.password", "CRAWLER_POSTGRES_PASSWORD", "POSTGRES_PASS", "POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres.dbname", "CRAWLER_POSTGRES_DBNAME", "POSTGRES_DB")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("forum.base_url", "https://community.openai.com")
	v.SetDefault("forum.concurrency", 4)
	v.SetDefault("forum.user_agent", "forum-crawler/1.0")
	v.SetDefault("forum.timeout_seconds", 30)
	v.SetDefault("forum.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawl.days", 7)
	v.SetDefault("crawl.output_method", OutputJSON)
	v.SetDefault("crawl.queue_depth", 64)
	v.SetDefault("crawl.max_pages", 0)
	v.SetDefault("output.path", "data/topics.json")
	v.SetDefault("output.gcs_bucket", "")
	v.SetDefault("output.prefix", "topics")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "")
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("postgres.table", "topic_details")
	v.SetDefault("postgres.batch_size", 100)
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Forum.BaseURL) == "" {
		return fmt.Errorf("forum.base_url is required")
	}
	if c.Forum.Concurrency <= 0 {
		return fmt.Errorf("forum.concurrency must be > 0")
	}
	if c.Forum.TimeoutSeconds <= 0 {
		return fmt.Errorf("forum.timeout_seconds must be > 0")
	}
	if c.Crawl.Days <= 0 {
		return fmt.Errorf("crawl.days must be > 0")
	}
	if c.Crawl.QueueDepth <= 0 {
		return fmt.Errorf("crawl.queue_depth must be > 0")
	}
	if c.Crawl.MaxPages < 0 {
		return fmt.Errorf("crawl.max_pages must be >= 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	switch c.Crawl.OutputMethod {
	case OutputJSON:
		if strings.TrimSpace(c.Output.Path) == "" {
			return fmt.Errorf("output.path is required for the json output method")
		}
	case OutputPostgres:
		if err := c.Postgres.SinkConfig().Validate(); err != nil {
			return fmt.Errorf("postgres output: %w", err)
		}
	default:
		return fmt.Errorf("crawl.output_method must be %q or %q, got %q", OutputJSON, OutputPostgres, c.Crawl.OutputMethod)
	}
	return nil
}

// SinkConfig converts the section into the relational sink's settings.
func (p PostgresConfig) SinkConfig() postgres.Config {
	return postgres.Config{
		Host:      p.Host,
		Port:      p.Port,
		User:      p.User,
		Password:  p.Password,
		DBName:    p.DBName,
		SSLMode:   p.SSLMode,
		Table:     p.Table,
		BatchSize: p.BatchSize,
		MaxConns:  p.MaxConns,
	}
}

// RequestTimeout converts the forum timeout into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Forum.TimeoutSeconds) * time.Second
}
