package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultSourceURL = "https://fakestoreapi.com/products"

const MaxFetchAttempts = 20

type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Transform TransformConfig `yaml:"transform"`
	DBPath    string          `yaml:"db_path"`
	Logging   LoggingConfig   `yaml:"logging"`
	Alert     AlertConfig     `yaml:"alert"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Export    ExportConfig    `yaml:"export"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type SourceConfig struct {
	URL          string        `yaml:"url"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseBackoff  time.Duration `yaml:"base_backoff"`
	ProxyURL     string        `yaml:"proxy_url"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type TransformConfig struct {
	MinPrice            float64 `yaml:"min_price"`
	MinRating           float64 `yaml:"min_rating"`
	ConversionRate      float64 `yaml:"conversion_rate"`
	TargetCurrency      string  `yaml:"target_currency"`
	ExpensiveThreshold  float64 `yaml:"expensive_threshold"`
	RatingWeightDivisor float64 `yaml:"rating_weight_divisor"`
	DescriptionMaxLen   int     `yaml:"description_max_len"`
}

type LoggingConfig struct {
	Path      string `yaml:"path"`
	ErrorPath string `yaml:"error_path"`
	Level     string `yaml:"level"`
}

type AlertConfig struct {
	WebhookURL string     `yaml:"webhook_url"`
	SMTP       SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && len(c.To) > 0
}

type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
	Port         string `yaml:"port"`
}

type ExportConfig struct {
	Path string   `yaml:"path"`
	S3   S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Key             string `yaml:"key"`
}

func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

type SchedulerConfig struct {
	Cron       string `yaml:"cron"`
	RunOnStart bool   `yaml:"run_on_start"` // daemon runs once before the first tick
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() *Config {
	return &Config{
		Source: SourceConfig{
			URL:          DefaultSourceURL,
			Timeout:      10 * time.Second,
			MaxAttempts:  3,
			BaseBackoff:  time.Second,
			MaxBodyBytes: 10 << 20,
		},
		Transform: TransformConfig{
			MinPrice:            50,
			MinRating:           3.0,
			ConversionRate:      83,
			TargetCurrency:      "INR",
			ExpensiveThreshold:  100,
			RatingWeightDivisor: 10,
			DescriptionMaxLen:   100,
		},
		DBPath: "products.db",
		Logging: LoggingConfig{
			Path:      "pipeline.log",
			ErrorPath: "error.log",
			Level:     "info",
		},
		Alert: AlertConfig{
			SMTP: SMTPConfig{Port: 587},
		},
		Export: ExportConfig{
			Path: "dashboard/products.json",
			S3: S3Config{
				Region: "us-east-1",
				Key:    "products.json",
			},
		},
		Scheduler: SchedulerConfig{
			Cron:       "@daily",
			RunOnStart: true,
		},
	}
}

// Load builds the configuration from defaults, an optional yaml file and the
// environment, in that order of precedence. An empty path falls back to
// PIPELINE_CONFIG and then pipeline.yaml; a missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path == "" {
		path = getEnv("PIPELINE_CONFIG", "pipeline.yaml")
	}
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Source.URL = getEnv("SOURCE_URL", c.Source.URL)
	c.Source.Timeout = getEnvDuration("FETCH_TIMEOUT", c.Source.Timeout)
	c.Source.MaxAttempts = getEnvInt("FETCH_MAX_ATTEMPTS", c.Source.MaxAttempts)
	c.Source.BaseBackoff = getEnvDuration("FETCH_BACKOFF", c.Source.BaseBackoff)
	c.Source.ProxyURL = getEnv("HTTP_PROXY_URL", c.Source.ProxyURL)

	c.Transform.MinPrice = getEnvFloat("MIN_PRICE", c.Transform.MinPrice)
	c.Transform.MinRating = getEnvFloat("MIN_RATING", c.Transform.MinRating)
	c.Transform.ConversionRate = getEnvFloat("CONVERSION_RATE", c.Transform.ConversionRate)
	c.Transform.TargetCurrency = getEnv("TARGET_CURRENCY", c.Transform.TargetCurrency)
	c.Transform.ExpensiveThreshold = getEnvFloat("EXPENSIVE_THRESHOLD", c.Transform.ExpensiveThreshold)
	c.Transform.RatingWeightDivisor = getEnvFloat("RATING_WEIGHT_DIVISOR", c.Transform.RatingWeightDivisor)
	c.Transform.DescriptionMaxLen = getEnvInt("DESCRIPTION_MAX_LEN", c.Transform.DescriptionMaxLen)

	c.DBPath = getEnv("DB_PATH", c.DBPath)
	c.Logging.Path = getEnv("LOG_PATH", c.Logging.Path)
	c.Logging.ErrorPath = getEnv("ERROR_LOG_PATH", c.Logging.ErrorPath)
	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)

	c.Alert.WebhookURL = getEnv("ALERT_WEBHOOK_URL", c.Alert.WebhookURL)
	c.Alert.SMTP.Host = getEnv("SMTP_HOST", c.Alert.SMTP.Host)
	c.Alert.SMTP.Port = getEnvInt("SMTP_PORT", c.Alert.SMTP.Port)
	c.Alert.SMTP.Username = getEnv("SMTP_USERNAME", c.Alert.SMTP.Username)
	c.Alert.SMTP.Password = getEnv("SMTP_PASSWORD", c.Alert.SMTP.Password)
	c.Alert.SMTP.From = getEnv("SMTP_FROM", c.Alert.SMTP.From)
	if to := os.Getenv("ALERT_EMAIL_TO"); to != "" {
		c.Alert.SMTP.To = splitList(to)
	}

	c.Metrics.TextfilePath = getEnv("METRICS_TEXTFILE", c.Metrics.TextfilePath)
	c.Metrics.Port = getEnv("METRICS_PORT", c.Metrics.Port)

	c.Export.Path = getEnv("EXPORT_PATH", c.Export.Path)
	c.Export.S3.Bucket = getEnv("S3_BUCKET", c.Export.S3.Bucket)
	c.Export.S3.Region = getEnv("S3_REGION", c.Export.S3.Region)
	c.Export.S3.Endpoint = getEnv("S3_ENDPOINT", c.Export.S3.Endpoint)
	c.Export.S3.AccessKeyID = getEnv("S3_ACCESS_KEY_ID", c.Export.S3.AccessKeyID)
	c.Export.S3.SecretAccessKey = getEnv("S3_SECRET_ACCESS_KEY", c.Export.S3.SecretAccessKey)
	c.Export.S3.Key = getEnv("S3_KEY", c.Export.S3.Key)

	c.Postgres.DSN = getEnv("PG_DSN", c.Postgres.DSN)
	c.Scheduler.Cron = getEnv("PIPELINE_CRON", c.Scheduler.Cron)
	c.Scheduler.RunOnStart = getEnvBool("PIPELINE_RUN_ON_START", c.Scheduler.RunOnStart)
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Source.URL) == "" {
		errs = append(errs, errors.New("source url is empty"))
	}
	if c.Source.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("fetch timeout must be positive, got %s", c.Source.Timeout))
	}
	if c.Source.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("fetch max attempts must be at least 1, got %d", c.Source.MaxAttempts))
	}
	if c.Source.MaxAttempts > MaxFetchAttempts {
		errs = append(errs, fmt.Errorf("fetch max attempts must be at most %d, got %d", MaxFetchAttempts, c.Source.MaxAttempts))
	}
	if c.Source.BaseBackoff < 0 {
		errs = append(errs, fmt.Errorf("fetch backoff must not be negative, got %s", c.Source.BaseBackoff))
	}
	for name, v := range map[string]float64{
		"min price":             c.Transform.MinPrice,
		"min rating":            c.Transform.MinRating,
		"conversion rate":       c.Transform.ConversionRate,
		"expensive threshold":   c.Transform.ExpensiveThreshold,
		"rating weight divisor": c.Transform.RatingWeightDivisor,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s must be a finite number, got %g", name, v))
		}
	}
	if c.Transform.ConversionRate <= 0 {
		errs = append(errs, fmt.Errorf("conversion rate must be positive, got %g", c.Transform.ConversionRate))
	}
	if c.Transform.RatingWeightDivisor <= 0 {
		errs = append(errs, fmt.Errorf("rating weight divisor must be positive, got %g", c.Transform.RatingWeightDivisor))
	}
	if c.Transform.DescriptionMaxLen < 0 {
		errs = append(errs, fmt.Errorf("description max length must not be negative, got %d", c.Transform.DescriptionMaxLen))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db path is empty"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
