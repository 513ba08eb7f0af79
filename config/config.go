package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	AI       AIConfig       `mapstructure:"ai"`
	Filter   FilterConfig   `mapstructure:"filter"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	Sentry   SentryConfig   `mapstructure:"sentry"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" validate:"min=1,max=65535"`
	Mode         string        `mapstructure:"mode" validate:"oneof=debug release test"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// RedisConfig 为空地址时冷却记录走数据库
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url" validate:"required,url"`
	Model             string        `mapstructure:"model" validate:"required"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxAttempts       int           `mapstructure:"max_attempts" validate:"min=1"`
	MaxRetries        int           `mapstructure:"max_retries" validate:"min=0"`
	MaxTokens         int           `mapstructure:"max_tokens" validate:"min=1"`
	Temperature       float64       `mapstructure:"temperature" validate:"min=0,max=2"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" validate:"min=0"`
	Referer           string        `mapstructure:"referer"`
	Title             string        `mapstructure:"title"`
}

type FilterConfig struct {
	MinLikes      int      `mapstructure:"min_likes" validate:"min=0"`
	MinRetweets   int      `mapstructure:"min_retweets" validate:"min=0"`
	MinTextLength int      `mapstructure:"min_text_length" validate:"min=0"`
	Keywords      []string `mapstructure:"keywords"`
	Ignore        []string `mapstructure:"ignore"`
}

type MonitorConfig struct {
	Interval          time.Duration `mapstructure:"interval" validate:"gt=0"`
	Jitter            time.Duration `mapstructure:"jitter" validate:"min=0"`
	FeedSize          int           `mapstructure:"feed_size" validate:"min=1"`
	AutoPost          bool          `mapstructure:"auto_post"`
	MaxRepliesPerHour int           `mapstructure:"max_replies_per_hour" validate:"min=1"`
	Cooldown          time.Duration `mapstructure:"cooldown" validate:"min=0"`
	MinDelay          time.Duration `mapstructure:"min_delay" validate:"min=0"`
	MaxDelay          time.Duration `mapstructure:"max_delay" validate:"min=0,gtefield=MinDelay"`
	SkipProbability   float64       `mapstructure:"skip_probability" validate:"min=0,max=1"`
	SleepStart        int           `mapstructure:"sleep_start" validate:"min=0,max=23"`
	SleepEnd          int           `mapstructure:"sleep_end" validate:"min=0,max=23"`
	SessionMin        int           `mapstructure:"session_min" validate:"min=0"`
	SessionMax        int           `mapstructure:"session_max" validate:"min=0,gtefield=SessionMin"`
	BreakMin          time.Duration `mapstructure:"break_min" validate:"min=0"`
	BreakMax          time.Duration `mapstructure:"break_max" validate:"min=0,gtefield=BreakMin"`
	HistorySize       int           `mapstructure:"history_size" validate:"min=0"`
}

type BrowserConfig struct {
	Headless       bool          `mapstructure:"headless"`
	BinPath        string        `mapstructure:"bin_path"`
	ProfileDir     string        `mapstructure:"profile_dir"`
	SessionFile    string        `mapstructure:"session_file" validate:"required"`
	BaseURL        string        `mapstructure:"base_url" validate:"required,url"`
	ActionTimeout  time.Duration `mapstructure:"action_timeout" validate:"gt=0"`
	RetryBudget    int           `mapstructure:"retry_budget" validate:"min=0"`
	TypingDelayMin time.Duration `mapstructure:"typing_delay_min" validate:"min=0"`
	TypingDelayMax time.Duration `mapstructure:"typing_delay_max" validate:"min=0,gtefield=TypingDelayMin"`
	LoginTimeout   time.Duration `mapstructure:"login_timeout" validate:"gt=0"`
}

// AuthConfig JWTSecret 为空时控制接口不鉴权
type AuthConfig struct {
	JWTSecret         string        `mapstructure:"jwt_secret"`
	AdminPasswordHash string        `mapstructure:"admin_password_hash"`
	TokenTTL          time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio" validate:"min=0,max=1"`
}

// legacyEnv 保持与旧版 .env 键名兼容
var legacyEnv = map[string]string{
	"server.port":                  "SERVER_PORT",
	"server.mode":                  "SERVER_MODE",
	"database.driver":              "DATABASE_DRIVER",
	"database.dsn":                 "DATABASE_DSN",
	"redis.addr":                   "REDIS_ADDR",
	"redis.password":               "REDIS_PASSWORD",
	"ai.api_key":                   "OPENROUTER_API_KEY",
	"ai.base_url":                  "AI_BASE_URL",
	"ai.model":                     "AI_MODEL",
	"ai.timeout":                   "AI_TIMEOUT",
	"ai.max_attempts":              "AI_MAX_ATTEMPTS",
	"ai.requests_per_minute":       "AI_REQUESTS_PER_MINUTE",
	"filter.min_likes":             "MIN_LIKES",
	"filter.min_retweets":          "MIN_RETWEETS",
	"filter.keywords":              "KEYWORDS",
	"filter.ignore":                "IGNORE_PATTERNS",
	"monitor.interval":             "POLL_INTERVAL",
	"monitor.feed_size":            "FEED_SIZE",
	"monitor.auto_post":            "AUTO_POST",
	"monitor.max_replies_per_hour": "MAX_REPLIES_PER_HOUR",
	"monitor.cooldown":             "COOLDOWN_WINDOW",
	"monitor.min_delay":            "MIN_DELAY",
	"monitor.max_delay":            "MAX_DELAY",
	"monitor.skip_probability":     "SKIP_PROBABILITY",
	"monitor.sleep_start":          "SLEEP_WINDOW_START",
	"monitor.sleep_end":            "SLEEP_WINDOW_END",
	"monitor.session_min":          "SESSION_MIN_REPLIES",
	"monitor.session_max":          "SESSION_MAX_REPLIES",
	"monitor.break_min":            "BREAK_MIN",
	"monitor.break_max":            "BREAK_MAX",
	"browser.headless":             "BROWSER_HEADLESS",
	"browser.bin_path":             "BROWSER_BIN",
	"browser.session_file":         "BROWSER_SESSION_FILE",
	"browser.profile_dir":          "BROWSER_PROFILE_DIR",
	"browser.action_timeout":       "BROWSER_ACTION_TIMEOUT",
	"browser.retry_budget":         "BROWSER_RETRY_BUDGET",
	"browser.typing_delay_min":     "TYPING_DELAY_MIN",
	"browser.typing_delay_max":     "TYPING_DELAY_MAX",
	"auth.jwt_secret":              "AUTH_JWT_SECRET",
	"auth.admin_password_hash":     "AUTH_ADMIN_PASSWORD_HASH",
	"auth.token_ttl":               "AUTH_TOKEN_TTL",
	"log.level":                    "LOG_LEVEL",
	"log.format":                   "LOG_FORMAT",
	"sentry.dsn":                   "SENTRY_DSN",
	"sentry.environment":           "SENTRY_ENVIRONMENT",
	"tracing.endpoint":             "OTEL_EXPORTER_OTLP_ENDPOINT",
	"tracing.insecure":             "OTEL_EXPORTER_OTLP_INSECURE",
}

var defaultKeywords = []string{
	"AI", "OpenAI", "Gemini", "Claude", "GPT",
	"Web3", "crypto", "bitcoin", "BTC", "ETH", "Solana",
	"Nvidia", "trading", "startups", "markets",
}

var defaultIgnore = []string{
	"giveaway", "airdrop", "free nft", "dm me",
	"politics", "maga", "trump", "biden",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	// stop 会等待当前周期结束，写超时要放宽
	v.SetDefault("server.write_timeout", 10*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "ghostreply.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ai.model", "meta-llama/llama-3-8b-instruct:free")
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("ai.max_attempts", 2)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("ai.max_tokens", 1000)
	v.SetDefault("ai.temperature", 0.8)
	v.SetDefault("ai.requests_per_minute", 20)
	v.SetDefault("ai.referer", "https://ghostreply.local")
	v.SetDefault("ai.title", "GhostReply")

	v.SetDefault("filter.min_likes", 50)
	v.SetDefault("filter.min_retweets", 10)
	v.SetDefault("filter.min_text_length", 20)
	v.SetDefault("filter.keywords", defaultKeywords)
	v.SetDefault("filter.ignore", defaultIgnore)

	v.SetDefault("monitor.interval", 60*time.Second)
	v.SetDefault("monitor.jitter", 0)
	v.SetDefault("monitor.feed_size", 15)
	v.SetDefault("monitor.auto_post", false)
	v.SetDefault("monitor.max_replies_per_hour", 15)
	v.SetDefault("monitor.cooldown", 24*time.Hour)
	v.SetDefault("monitor.min_delay", 30*time.Second)
	v.SetDefault("monitor.max_delay", 180*time.Second)
	v.SetDefault("monitor.skip_probability", 0.0)
	v.SetDefault("monitor.sleep_start", 2)
	v.SetDefault("monitor.sleep_end", 7)
	v.SetDefault("monitor.session_min", 3)
	v.SetDefault("monitor.session_max", 7)
	v.SetDefault("monitor.break_min", 5*time.Minute)
	v.SetDefault("monitor.break_max", 25*time.Minute)
	v.SetDefault("monitor.history_size", 30)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.bin_path", "")
	v.SetDefault("browser.profile_dir", "auth/profile")
	v.SetDefault("browser.session_file", "auth/session.json")
	v.SetDefault("browser.base_url", "https://x.com")
	v.SetDefault("browser.action_timeout", 60*time.Second)
	v.SetDefault("browser.retry_budget", 3)
	v.SetDefault("browser.typing_delay_min", 30*time.Millisecond)
	v.SetDefault("browser.typing_delay_max", 120*time.Millisecond)
	v.SetDefault("browser.login_timeout", 5*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.admin_password_hash", "")
	v.SetDefault("auth.token_ttl", 12*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "ghostreply")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load 读取 .env、可选的 config.yaml 与环境变量
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	if path := os.Getenv("GHOSTREPLY_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("GHOSTREPLY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "GHOSTREPLY_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Filter.Keywords = splitList(cfg.Filter.Keywords)
	cfg.Filter.Ignore = splitList(cfg.Filter.Ignore)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// splitList 环境变量里的逗号分隔列表会被 viper 当作单个元素
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// AuthEnabled 是否开启控制接口鉴权
func (c *Config) AuthEnabled() bool { return c.Auth.JWTSecret != "" }

// SleepWindowEnabled 起止相同视为关闭
func (m MonitorConfig) SleepWindowEnabled() bool { return m.SleepStart != m.SleepEnd }
