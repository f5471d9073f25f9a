package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/codingconcepts/env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Name            string        `yaml:"name"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type SessionConfig struct {
	TimeoutMinutes    int           `yaml:"timeout_minutes"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	QueueSize         int           `yaml:"queue_size"`
	EnqueueTimeout    time.Duration `yaml:"enqueue_timeout"`
}

type BrowserConfig struct {
	Headless          bool   `yaml:"headless"`
	ChromePath        string `yaml:"chrome_path"`
	NoSandbox         bool   `yaml:"no_sandbox"`
	DebuggingPort     int    `yaml:"debugging_port"`
	UserDataDir       string `yaml:"user_data_dir"`
	MaxSessions       int    `yaml:"max_sessions"`
	ActionTimeoutSecs int    `yaml:"action_timeout_secs"`
}

type DisplayConfig struct {
	Display     string `yaml:"display"`
	Screen      string `yaml:"screen"`
	XvfbPath    string `yaml:"xvfb_path"`
	EnableVNC   bool   `yaml:"enable_vnc"`
	VNCPassword string `yaml:"vnc_password"`
	VNCPort     int    `yaml:"vnc_port"`
	X11VNCPath  string `yaml:"x11vnc_path"`
}

type MountsConfig struct {
	DataDir      string `yaml:"data_dir"`
	DownloadsDir string `yaml:"downloads_dir"`
	PUID         int    `yaml:"puid"`
	PGID         int    `yaml:"pgid"`
}

type LoggerConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type CacheConfig struct {
	RedisHost     string `yaml:"redis_host"`
	SessionDB     int    `yaml:"redis_session_db"`
	RateLimitDB   int    `yaml:"redis_rate_db"`
	SessionPrefix string `yaml:"session_prefix"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type AuthConfig struct {
	Required       bool           `yaml:"required"`
	Postgres       PostgresConfig `yaml:"postgres"`
	ReloadInterval time.Duration  `yaml:"reload_interval"`
}

// Enabled reports whether API tokens are loaded at all.
func (a AuthConfig) Enabled() bool {
	return a.Postgres.Host != ""
}

type RateLimiterConfig struct {
	Interval           time.Duration `yaml:"interval"`
	EnableTokenLimiter bool          `yaml:"enable_token_limiter"`
	EnableUserLimiter  bool          `yaml:"enable_user_limiter"`
	UserLimit          int           `yaml:"user_limit"`
}

type LLMConfig struct {
	OpenAIAPIKey     string `yaml:"openai_api_key"`
	AnthropicAPIKey  string `yaml:"anthropic_api_key"`
	GoogleAPIKey     string `yaml:"google_api_key"`
	BrowserUseAPIKey string `yaml:"browser_use_api_key"`
}

// Configured returns the names of the API key variables that carry a value.
func (l LLMConfig) Configured() []string {
	var out []string
	if l.OpenAIAPIKey != "" {
		out = append(out, "OPENAI_API_KEY")
	}
	if l.AnthropicAPIKey != "" {
		out = append(out, "ANTHROPIC_API_KEY")
	}
	if l.GoogleAPIKey != "" {
		out = append(out, "GOOGLE_API_KEY")
	}
	if l.BrowserUseAPIKey != "" {
		out = append(out, "BROWSER_USE_API_KEY")
	}
	return out
}

type SmokeConfig struct {
	BaseURL string        `yaml:"base_url"`
	Wait    time.Duration `yaml:"wait"`
	Timeout time.Duration `yaml:"timeout"`
}

type ReleaseConfig struct {
	RequiredFiles []string `yaml:"required_files"`
}

// Config is the full runtime configuration of the service and its tooling.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Browser     BrowserConfig     `yaml:"browser"`
	Display     DisplayConfig     `yaml:"display"`
	Mounts      MountsConfig      `yaml:"mounts"`
	Logger      LoggerConfig      `yaml:"logger"`
	Cache       CacheConfig       `yaml:"cache"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	LLM         LLMConfig         `yaml:"llm"`
	Smoke       SmokeConfig       `yaml:"smoke"`
	Release     ReleaseConfig     `yaml:"release"`
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func (c Config) SessionTimeout() time.Duration {
	return time.Duration(c.Session.TimeoutMinutes) * time.Minute
}

func (c Config) ActionTimeout() time.Duration {
	return time.Duration(c.Browser.ActionTimeoutSecs) * time.Second
}

// Defaults returns the configuration used when neither file nor environment say otherwise.
func Defaults() Config {
	var cfg Config
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8000
	cfg.Server.Name = "browser-mcp"
	cfg.Server.ShutdownTimeout = 5 * time.Second

	cfg.Session.TimeoutMinutes = 10
	cfg.Session.CleanupInterval = 2 * time.Minute
	cfg.Session.KeepaliveInterval = 15 * time.Second
	cfg.Session.QueueSize = 64
	cfg.Session.EnqueueTimeout = 5 * time.Second

	cfg.Browser.Headless = true
	cfg.Browser.NoSandbox = true
	cfg.Browser.DebuggingPort = 9222
	cfg.Browser.MaxSessions = 10
	cfg.Browser.ActionTimeoutSecs = 30

	cfg.Display.Display = ":99"
	cfg.Display.Screen = "1920x1080x24"
	cfg.Display.XvfbPath = "Xvfb"
	cfg.Display.VNCPort = 5900
	cfg.Display.X11VNCPath = "x11vnc"

	cfg.Mounts.DataDir = "/app/data"
	cfg.Mounts.DownloadsDir = "/app/downloads"

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 50
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 14

	cfg.Cache.SessionPrefix = "browsermcp:session:"
	cfg.Cache.RateLimitDB = 1

	cfg.Auth.ReloadInterval = time.Minute
	cfg.RateLimiter.Interval = time.Minute

	cfg.Smoke.BaseURL = "http://localhost:8000"
	cfg.Smoke.Wait = 60 * time.Second
	cfg.Smoke.Timeout = 10 * time.Second

	cfg.Release.RequiredFiles = []string{"README.md", "Dockerfile", "docker-compose.yml", ".env.example"}
	return cfg
}

// envOverlay maps the container environment onto the config. Fields are
// pre-filled from the current config so unset variables keep their values.
type envOverlay struct {
	Host           string `env:"HOST"`
	Port           int    `env:"PORT"`
	SessionTimeout int    `env:"SESSION_TIMEOUT_MINUTES"`
	Headless       bool   `env:"BROWSER_USE_HEADLESS"`
	ChromePath     string `env:"CHROME_BIN"`
	EnableVNC      bool   `env:"ENABLE_VNC"`
	VNCPassword    string `env:"VNC_PASSWORD"`
	PUID           int    `env:"PUID"`
	PGID           int    `env:"PGID"`
	DataDir        string `env:"DATA_DIR"`
	DownloadsDir   string `env:"DOWNLOADS_DIR"`
	LogLevel       string `env:"LOG_LEVEL"`
	LogFile        string `env:"LOG_FILE"`
	RedisAddr      string `env:"REDIS_ADDR"`
	PostgresDSN    string `env:"POSTGRES_DSN"`
	OpenAI         string `env:"OPENAI_API_KEY"`
	Anthropic      string `env:"ANTHROPIC_API_KEY"`
	Google         string `env:"GOOGLE_API_KEY"`
	BrowserUse     string `env:"BROWSER_USE_API_KEY"`
}

func applyEnv(cfg *Config) error {
	o := envOverlay{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		SessionTimeout: cfg.Session.TimeoutMinutes,
		Headless:       cfg.Browser.Headless,
		ChromePath:     cfg.Browser.ChromePath,
		EnableVNC:      cfg.Display.EnableVNC,
		VNCPassword:    cfg.Display.VNCPassword,
		PUID:           cfg.Mounts.PUID,
		PGID:           cfg.Mounts.PGID,
		DataDir:        cfg.Mounts.DataDir,
		DownloadsDir:   cfg.Mounts.DownloadsDir,
		LogLevel:       cfg.Logger.Level,
		LogFile:        cfg.Logger.File,
		RedisAddr:      cfg.Cache.RedisHost,
		PostgresDSN:    cfg.Auth.Postgres.Host,
		OpenAI:         cfg.LLM.OpenAIAPIKey,
		Anthropic:      cfg.LLM.AnthropicAPIKey,
		Google:         cfg.LLM.GoogleAPIKey,
		BrowserUse:     cfg.LLM.BrowserUseAPIKey,
	}
	if err := env.Set(&o); err != nil {
		return err
	}

	cfg.Server.Host = o.Host
	cfg.Server.Port = o.Port
	cfg.Session.TimeoutMinutes = o.SessionTimeout
	cfg.Browser.Headless = o.Headless
	cfg.Browser.ChromePath = o.ChromePath
	cfg.Display.EnableVNC = o.EnableVNC
	cfg.Display.VNCPassword = o.VNCPassword
	cfg.Mounts.PUID = o.PUID
	cfg.Mounts.PGID = o.PGID
	cfg.Mounts.DataDir = o.DataDir
	cfg.Mounts.DownloadsDir = o.DownloadsDir
	cfg.Logger.Level = o.LogLevel
	cfg.Logger.File = o.LogFile
	cfg.Cache.RedisHost = o.RedisAddr
	// A DSN in the host field is passed through untouched by the token repository.
	cfg.Auth.Postgres.Host = o.PostgresDSN
	cfg.LLM.OpenAIAPIKey = o.OpenAI
	cfg.LLM.AnthropicAPIKey = o.Anthropic
	cfg.LLM.GoogleAPIKey = o.Google
	cfg.LLM.BrowserUseAPIKey = o.BrowserUse
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535, got %d", c.Server.Port)
	}
	if c.Session.TimeoutMinutes <= 0 {
		return fmt.Errorf("session timeout must be positive, got %d minutes", c.Session.TimeoutMinutes)
	}
	if c.Session.CleanupInterval <= 0 {
		return errors.New("session.cleanup_interval must be positive")
	}
	if c.Session.CleanupInterval > c.SessionTimeout() {
		c.Session.CleanupInterval = c.SessionTimeout()
	}
	if c.Session.KeepaliveInterval <= 0 {
		return errors.New("session.keepalive_interval must be positive")
	}
	if c.Session.QueueSize <= 0 {
		return errors.New("session.queue_size must be positive")
	}
	if c.Browser.MaxSessions < 1 {
		return fmt.Errorf("browser.max_sessions must be at least 1, got %d", c.Browser.MaxSessions)
	}
	if c.Browser.ActionTimeoutSecs <= 0 {
		return errors.New("browser.action_timeout_secs must be positive")
	}
	if c.Display.EnableVNC && (c.Display.VNCPort <= 0 || c.Display.VNCPort > 65535) {
		return fmt.Errorf("display.vnc_port must be between 1 and 65535, got %d", c.Display.VNCPort)
	}
	if c.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	if (c.RateLimiter.EnableUserLimiter || c.RateLimiter.EnableTokenLimiter) && c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	if c.Auth.Enabled() && c.Auth.ReloadInterval <= 0 {
		return errors.New("auth.reload_interval must be positive")
	}
	if c.Mounts.DataDir == "" || c.Mounts.DownloadsDir == "" {
		return errors.New("mounts.data_dir and mounts.downloads_dir are required")
	}
	return nil
}

// LoadFrom reads the YAML file at path (a missing file means defaults), loads
// .env, applies the environment overlay and validates. Invalid values panic.
func LoadFrom(path string) Config {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("config: parse %s: %v", path, err))
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	// Existing variables win over .env entries.
	_ = godotenv.Load()

	if err := applyEnv(&cfg); err != nil {
		panic(fmt.Sprintf("config: environment: %v", err))
	}
	if err := cfg.validate(); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Load reads the file named by CONFIG_PATH, defaulting to config.yaml.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}
