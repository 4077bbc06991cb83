// Package config loads trendpress settings from a YAML file, a .env file and
// the environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/FranksOps/trendpress/internal/fingerprint"
	"github.com/FranksOps/trendpress/internal/scheduler"
)

// DefaultFile is read when no explicit config path is given and it exists.
const DefaultFile = "trendpress.yaml"

// EnvPrefix namespaces environment overrides, e.g. TRENDPRESS_DATABASE_DSN.
const EnvPrefix = "TRENDPRESS"

type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Trends     TrendsConfig     `mapstructure:"trends"`
	Fetch      FetchConfig      `mapstructure:"fetch"`
	Render     RenderConfig     `mapstructure:"render"`
	Extract    ExtractConfig    `mapstructure:"extract"`
	Search     SearchConfig     `mapstructure:"search"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Categorize CategorizeConfig `mapstructure:"categorize"`
	Images     ImagesConfig     `mapstructure:"images"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MetricsConfig is the standalone metrics listener used by one-shot commands.
// Port 0 disables it.
type MetricsConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the Redis seen-query set when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

type TrendsConfig struct {
	Source        string `mapstructure:"source"`
	URL           string `mapstructure:"url"`
	ItemSelector  string `mapstructure:"item_selector"`
	TitleSelector string `mapstructure:"title_selector"`
}

type FetchConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRedirects     int           `mapstructure:"max_redirects"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
	CookieJar        bool          `mapstructure:"cookie_jar"`
	AcceptLanguage   string        `mapstructure:"accept_language"`
	Fingerprint      string        `mapstructure:"fingerprint"`
	UserAgents       []string      `mapstructure:"user_agents"`
	Proxies          []string      `mapstructure:"proxies"`
	ProxyFile        string        `mapstructure:"proxy_file"`
	ProxyMaxFailures int           `mapstructure:"proxy_max_failures"`
	ProxyCooldown    time.Duration `mapstructure:"proxy_cooldown"`
	RateLimit        float64       `mapstructure:"rate_limit"`
	Jitter           float64       `mapstructure:"jitter"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
}

type RenderConfig struct {
	Mode       string        `mapstructure:"mode"`
	Headless   bool          `mapstructure:"headless"`
	ExecPath   string        `mapstructure:"exec_path"`
	NavTimeout time.Duration `mapstructure:"nav_timeout"`
	Settle     time.Duration `mapstructure:"settle"`
}

type ExtractConfig struct {
	Mode        string `mapstructure:"mode"`
	Concurrency int64  `mapstructure:"concurrency"`
}

type SearchConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	CX           string  `mapstructure:"cx"`
	TextSuffix   string  `mapstructure:"text_suffix"`
	TextResults  int     `mapstructure:"text_results"`
	ImageResults int     `mapstructure:"image_results"`
	Endpoint     string  `mapstructure:"endpoint"`
	RateLimit    float64 `mapstructure:"rate_limit"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Model    string `mapstructure:"model"`
	BaseURL  string `mapstructure:"base_url"`
	// Conventional per-vendor keys; APIKey is resolved from them by provider.
	OpenAIKey string `mapstructure:"openai_key"`
	GeminiKey string `mapstructure:"gemini_key"`
}

type CategorizeConfig struct {
	MaxRunes  int `mapstructure:"max_runes"`
	MaxTokens int `mapstructure:"max_tokens"`
}

type ImagesConfig struct {
	Width   int      `mapstructure:"width"`
	Height  int      `mapstructure:"height"`
	Quality float32  `mapstructure:"quality"`
	Store   string   `mapstructure:"store"`
	Dir     string   `mapstructure:"dir"`
	S3      S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

type PipelineConfig struct {
	QueriesPerRun  int    `mapstructure:"queries_per_run"`
	Concurrency    int    `mapstructure:"concurrency"`
	SourceMaxRunes int    `mapstructure:"source_max_runes"`
	Journal        string `mapstructure:"journal"`
}

type ScheduleConfig struct {
	Pipeline     string `mapstructure:"pipeline"`
	Clear        string `mapstructure:"clear"`
	Timezone     string `mapstructure:"timezone"`
	RunOnStart   bool   `mapstructure:"run_on_start"`
	ClearOnStart bool   `mapstructure:"clear_on_start"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("metrics.port", 0)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:trendpress.db")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key", "")

	v.SetDefault("trends.source", "page")
	v.SetDefault("trends.url", "")
	v.SetDefault("trends.item_selector", "")
	v.SetDefault("trends.title_selector", "")

	v.SetDefault("fetch.timeout", 30*time.Second)
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.max_body_bytes", 15<<20)
	v.SetDefault("fetch.cookie_jar", true)
	v.SetDefault("fetch.accept_language", "")
	v.SetDefault("fetch.fingerprint", string(fingerprint.ProfileChrome))
	v.SetDefault("fetch.user_agents", []string{})
	v.SetDefault("fetch.proxies", []string{})
	v.SetDefault("fetch.proxy_file", "")
	v.SetDefault("fetch.proxy_max_failures", 3)
	v.SetDefault("fetch.proxy_cooldown", 5*time.Minute)
	v.SetDefault("fetch.rate_limit", 0.0)
	v.SetDefault("fetch.jitter", 0.3)
	v.SetDefault("fetch.respect_robots", false)

	v.SetDefault("render.mode", "chrome")
	v.SetDefault("render.headless", true)
	v.SetDefault("render.exec_path", "")
	v.SetDefault("render.nav_timeout", 90*time.Second)
	v.SetDefault("render.settle", 5*time.Second)

	v.SetDefault("extract.mode", "paragraphs")
	v.SetDefault("extract.concurrency", 3)

	v.SetDefault("search.api_key", "")
	v.SetDefault("search.cx", "")
	v.SetDefault("search.text_suffix", "новости сегодня")
	v.SetDefault("search.text_results", 5)
	v.SetDefault("search.image_results", 10)
	v.SetDefault("search.endpoint", "")
	v.SetDefault("search.rate_limit", 0.0)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.openai_key", "")
	v.SetDefault("llm.gemini_key", "")

	v.SetDefault("categorize.max_runes", 6000)
	v.SetDefault("categorize.max_tokens", 100)

	v.SetDefault("images.width", 800)
	v.SetDefault("images.height", 400)
	v.SetDefault("images.quality", 80)
	v.SetDefault("images.store", "local")
	v.SetDefault("images.dir", "images")
	v.SetDefault("images.s3.bucket", "")
	v.SetDefault("images.s3.prefix", "")
	v.SetDefault("images.s3.region", "")
	v.SetDefault("images.s3.endpoint", "")
	v.SetDefault("images.s3.access_key", "")
	v.SetDefault("images.s3.secret_key", "")
	v.SetDefault("images.s3.path_style", false)

	v.SetDefault("pipeline.queries_per_run", 1)
	v.SetDefault("pipeline.concurrency", 2)
	v.SetDefault("pipeline.source_max_runes", 60000)
	v.SetDefault("pipeline.journal", "")

	v.SetDefault("schedule.pipeline", scheduler.DefaultPipelineSpec)
	v.SetDefault("schedule.clear", scheduler.DefaultClearSpec)
	v.SetDefault("schedule.timezone", scheduler.DefaultTimezone)
	v.SetDefault("schedule.run_on_start", false)
	v.SetDefault("schedule.clear_on_start", false)
}

// conventional environment names, checked after the prefixed form.
var envAliases = map[string][]string{
	"server.port":    {"PORT"},
	"search.api_key": {"GOOGLE_SEARCH_API_KEY"},
	"search.cx":      {"GOOGLE_SEARCH_CX"},
	"llm.openai_key": {"OPENAI_API_KEY"},
	"llm.gemini_key": {"GEMINI_API_KEY"},
	"database.dsn":   {"DATABASE_URL"},
}

// Load reads configuration. path may be empty, in which case DefaultFile is
// used when present. A .env file in the working directory is loaded first and
// never overrides variables already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, aliases := range envAliases {
		names := append([]string{EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, aliases...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return nil, fmt.Errorf("config: bind %s: %w", key, err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.Is(err, fs.ErrNotExist) || errors.As(err, &notFound)
		if explicit || !missing {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "gemini":
			c.LLM.APIKey = c.LLM.GeminiKey
		default:
			c.LLM.APIKey = c.LLM.OpenAIKey
		}
	}
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("config: %s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// Validate checks enums, schedules and dependent settings.
func (c *Config) Validate() error {
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	add(oneOf("log.level", strings.ToLower(c.Log.Level), "debug", "info", "warn", "error"))
	add(oneOf("log.format", c.Log.Format, "text", "json"))
	add(oneOf("database.driver", c.Database.Driver, "sqlite", "postgres"))
	add(oneOf("trends.source", c.Trends.Source, "page", "feed"))
	add(oneOf("render.mode", c.Render.Mode, "http", "chrome"))
	add(oneOf("extract.mode", c.Extract.Mode, "paragraphs", "readability"))
	add(oneOf("llm.provider", c.LLM.Provider, "openai", "gemini"))
	add(oneOf("images.store", c.Images.Store, "local", "s3"))

	if c.Database.DSN == "" {
		add(errors.New("config: database.dsn is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add(fmt.Errorf("config: server.port %d out of range", c.Server.Port))
	}
	if _, err := fingerprint.ParseProfile(c.Fetch.Fingerprint); err != nil {
		add(fmt.Errorf("config: fetch.fingerprint: %w", err))
	}
	if c.Images.Store == "s3" && c.Images.S3.Bucket == "" {
		add(errors.New("config: images.s3.bucket is required for the s3 store"))
	}
	if c.Images.Store == "local" && c.Images.Dir == "" {
		add(errors.New("config: images.dir is required for the local store"))
	}
	if c.Images.Quality <= 0 || c.Images.Quality > 100 {
		add(fmt.Errorf("config: images.quality %v out of range", c.Images.Quality))
	}
	if c.Pipeline.QueriesPerRun < 1 {
		add(errors.New("config: pipeline.queries_per_run must be at least 1"))
	}
	if c.Extract.Concurrency < 1 {
		add(errors.New("config: extract.concurrency must be at least 1"))
	}
	add(scheduler.Validate(c.Schedule.Pipeline))
	add(scheduler.Validate(c.Schedule.Clear))
	if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
		add(fmt.Errorf("config: schedule.timezone: %w", err))
	}
	return errors.Join(errs...)
}

// RequireLLM reports a missing generative-text key. Only commands that run
// the pipeline need one.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey != "" {
		return nil
	}
	name := "OPENAI_API_KEY"
	if c.LLM.Provider == "gemini" {
		name = "GEMINI_API_KEY"
	}
	return fmt.Errorf("config: %s (or %s_LLM_API_KEY) is required to run the pipeline", name, EnvPrefix)
}

// SearchConfigured reports whether both search credentials are present.
func (c *Config) SearchConfigured() bool {
	return c.Search.APIKey != "" && c.Search.CX != ""
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
