package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"HistPull/pkg/logger"
	"HistPull/pkg/util"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Provider rate limits; configured ceilings may not exceed them.
const (
	ProviderPerSecond  = 10
	ProviderPerMinute  = 200
	ProviderPerDay     = 100000
	ProviderBlockAfter = 3
)

var supportedTimeframes = map[string]struct{}{
	"1m": {}, "2m": {}, "3m": {}, "5m": {}, "10m": {}, "15m": {}, "20m": {}, "30m": {},
	"1h": {}, "2h": {}, "4h": {}, "1D": {},
}

type Config struct {
	Environment string        `yaml:"environment" default:"development" validate:"required"`
	Log         logger.Config `yaml:"log"`

	Provider struct {
		BaseURL     string        `yaml:"base_url" validate:"required,url"`
		HistoryPath string        `yaml:"history_path" default:"/data/history"`
		AppID       string        `yaml:"app_id" validate:"required"`
		AccessToken string        `yaml:"access_token" validate:"required"`
		Timezone    string        `yaml:"timezone" default:"UTC"`
		Watchdog    time.Duration `yaml:"watchdog" default:"30s" validate:"gt=0"`
		HTTPTimeout time.Duration `yaml:"http_timeout" default:"45s" validate:"gt=0"`
	} `yaml:"provider"`

	RateLimit struct {
		PerSecond     int `yaml:"per_second" default:"5" validate:"gt=0"`
		PerMinute     int `yaml:"per_minute" default:"100" validate:"gt=0"`
		PerDay        int `yaml:"per_day" default:"50000" validate:"gt=0"`
		MaxViolations int `yaml:"max_violations" default:"2" validate:"gt=0"`
	} `yaml:"rate_limit"`

	Retry struct {
		MaxAttempts    int           `yaml:"max_attempts" default:"3" validate:"gte=1,lte=10"`
		InitialBackoff time.Duration `yaml:"initial_backoff" default:"1s"`
		MaxBackoff     time.Duration `yaml:"max_backoff" default:"30s"`
		Multiplier     float64       `yaml:"multiplier" default:"2"`
	} `yaml:"retry"`

	Acquisition struct {
		Workers     int           `yaml:"workers" default:"4" validate:"gte=1,lte=64"`
		StatePath   string        `yaml:"state_path" default:"data/state/tasks.json" validate:"required"`
		From        string        `yaml:"from" validate:"required"`
		To          string        `yaml:"to"`
		Timeframes  []string      `yaml:"timeframes" default:"[\"1D\"]" validate:"min=1"`
		Categories  []string      `yaml:"categories"`
		WriteWindow time.Duration `yaml:"write_window" default:"2m"`
	} `yaml:"acquisition"`

	// Catalog maps a category to its symbols.
	Catalog map[string][]string `yaml:"catalog" validate:"required,min=1"`

	Backend struct {
		Type string `yaml:"type" default:"clickhouse" validate:"oneof=clickhouse kafka"`
	} `yaml:"backend"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"histpull.candles"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"5"`
			Linger       time.Duration `yaml:"linger" default:"200ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
	} `yaml:"kafka"`

	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"histpull"`
		Table            string        `yaml:"table" default:"candles"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`

	Redis struct {
		Enabled    bool          `yaml:"enabled"`
		Addr       string        `yaml:"addr"`
		Password   string        `yaml:"password"`
		DB         int           `yaml:"db"`
		LockTTL    time.Duration `yaml:"lock_ttl" default:"24h"`
		SummaryTTL time.Duration `yaml:"summary_ttl" default:"720h"`
	} `yaml:"redis"`

	Server struct {
		Enabled         bool          `yaml:"enabled"`
		Host            string        `yaml:"host" default:"127.0.0.1"`
		Port            int           `yaml:"port" default:"9102" validate:"gte=0,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, applies defaults and validates it.
func Load(path string) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, overrides it with environment variables and validates.
func LoadWithEnv(path string) (*Config, error) {
	return LoadWithOverrides(path, nil)
}

// LoadWithOverrides is LoadWithEnv with a final override step, used for command-line
// flags, applied before validation.
func LoadWithOverrides(path string, apply func(*Config)) (*Config, error) {
	c, err := parse(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("PROVIDER_ACCESS_TOKEN"); v != "" {
		c.Provider.AccessToken = v
	}
	if v := os.Getenv("PROVIDER_APP_ID"); v != "" {
		c.Provider.AppID = v
	}
	if v := os.Getenv("BACKEND"); v != "" {
		c.Backend.Type = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitCSV(v)
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if apply != nil {
		apply(c)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}
	return &c, nil
}

// Validate checks field rules and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.StructCtx(context.Background(), c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s failed %q check", fe.Namespace(), fe.Tag())
		}
		return err
	}

	if c.RateLimit.PerSecond > ProviderPerSecond ||
		c.RateLimit.PerMinute > ProviderPerMinute ||
		c.RateLimit.PerDay > ProviderPerDay {
		return fmt.Errorf("rate_limit exceeds provider limits (%d/s, %d/min, %d/day)",
			ProviderPerSecond, ProviderPerMinute, ProviderPerDay)
	}
	if c.RateLimit.MaxViolations >= ProviderBlockAfter {
		return fmt.Errorf("rate_limit.max_violations must be below the provider block threshold %d", ProviderBlockAfter)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, _, err := c.DateRange(); err != nil {
		return err
	}
	for _, tf := range c.Acquisition.Timeframes {
		if _, ok := supportedTimeframes[tf]; !ok {
			return fmt.Errorf("acquisition.timeframes: unsupported timeframe %q", tf)
		}
	}
	for _, cat := range c.Acquisition.Categories {
		if _, ok := c.Catalog[cat]; !ok {
			return fmt.Errorf("acquisition.categories: %q not in catalog", cat)
		}
	}

	switch c.Backend.Type {
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers cannot be empty for backend kafka")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for backend clickhouse")
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}
	return nil
}

// Location is the provider timezone used for the daily quota reset.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Provider.Timezone)
	if err != nil {
		return nil, fmt.Errorf("provider.timezone: %w", err)
	}
	return loc, nil
}

// DateRange parses acquisition.from and acquisition.to. An empty "to" means today.
func (c *Config) DateRange() (time.Time, time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, ok := util.ParseDate(c.Acquisition.From, loc)
	if !ok {
		return time.Time{}, time.Time{}, fmt.Errorf("acquisition.from: invalid date %q", c.Acquisition.From)
	}
	to := time.Now().In(loc).Truncate(time.Second)
	if c.Acquisition.To != "" {
		if to, ok = util.ParseDate(c.Acquisition.To, loc); !ok {
			return time.Time{}, time.Time{}, fmt.Errorf("acquisition.to: invalid date %q", c.Acquisition.To)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("acquisition.from %s is after acquisition.to %s",
			c.Acquisition.From, c.Acquisition.To)
	}
	return from, to, nil
}

// SelectedCategories returns the category filter, or every catalog category when unset.
func (c *Config) SelectedCategories() []string {
	cats := c.Acquisition.Categories
	if len(cats) == 0 {
		cats = make([]string, 0, len(c.Catalog))
		for k := range c.Catalog {
			cats = append(cats, k)
		}
	}
	out := append([]string(nil), cats...)
	sort.Strings(out)
	return out
}

// Redacted returns a short description safe for logs.
func (c *Config) Redacted() string {
	return fmt.Sprintf("env=%s backend=%s workers=%d timeframes=%s categories=%s",
		c.Environment, c.Backend.Type, c.Acquisition.Workers,
		strings.Join(c.Acquisition.Timeframes, ","), strings.Join(c.SelectedCategories(), ","))
}
