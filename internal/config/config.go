package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/idlereboot/internal/logger"
	"github.com/MrSnakeDoc/idlereboot/internal/scheduler"
	"github.com/MrSnakeDoc/idlereboot/internal/window"
)

// EnvConfigPath names the variable holding the config file path when no
// --config flag is given.
const EnvConfigPath = "IDLEREBOOT_CONFIG"

const (
	LedgerFile  = "file"
	LedgerRedis = "redis"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Window  WindowConfig  `yaml:"window"`
	Timing  TimingConfig  `yaml:"timing"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Restart RestartConfig `yaml:"restart"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
	Watch   WatchConfig   `yaml:"watch"`
	Redis   RedisConfig   `yaml:"redis"`
}

type ServerConfig struct {
	Host string `yaml:"host"` // game server host, usually given on the command line
	Port int    `yaml:"port"` // query port (default: 27015)
}

type WindowConfig struct {
	Start    string        `yaml:"start"`    // local start of day, "HH:MM[:SS]"
	Duration time.Duration `yaml:"duration"` // elapsed length, 0 < d < 24h
	Timezone string        `yaml:"timezone"` // IANA name, ex: "America/New_York"
}

type TimingConfig struct {
	MaxSleep     time.Duration `yaml:"max_sleep"`     // cap on any sleep before exit
	EmptyTime    time.Duration `yaml:"empty_time"`    // sustained idle requirement
	PollInterval time.Duration `yaml:"poll_interval"` // delay between confirmation queries
	BusyBackoff  time.Duration `yaml:"busy_backoff"`  // sleep after seeing players (0 = poll interval)
	QueryTimeout time.Duration `yaml:"query_timeout"` // per query receive timeout
}

type LedgerConfig struct {
	Backend   string `yaml:"backend"`    // "file" | "redis"
	StampFile string `yaml:"stamp_file"` // path of the stamp file for the file backend
	Service   string `yaml:"service"`    // key suffix for the redis backend
}

type RestartConfig struct {
	Command string        `yaml:"command"` // ex: "sudo sv restart kf2"
	Timeout time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Pretty bool   `yaml:"pretty"` // true => zap dev (color), false => zap prod (JSON)
}

type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // node_exporter textfile written after each one-shot run (optional)
}

type WatchConfig struct {
	Schedule        string        `yaml:"schedule"`         // cron spec, ex: "@every 1m"
	StatusListen    string        `yaml:"status_listen"`    // ex: ":9127", empty = no HTTP server
	AllowedCIDRS    []string      `yaml:"allowed_cidrs"`    // optional, restrict the HTTP server
	TrustProxy      bool          `yaml:"trust_proxy"`      // trust X-Forwarded-For
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // HTTP graceful shutdown
}

type RedisConfig struct {
	Addr           string        `yaml:"addr"` // ex: "localhost:6379"
	User           string        `yaml:"user"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	PoolSize       int           `yaml:"pool_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"` // total time to retry connecting
	RetryInterval  time.Duration `yaml:"retry_interval"`  // initial wait, grows exponentially
	MaxWait        time.Duration `yaml:"max_wait"`        // cap between retries
	PingTimeout    time.Duration `yaml:"ping_timeout"`
	WarnThreshold  int           `yaml:"warn_threshold"` // warn after this many attempts
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 27015},
		Window: WindowConfig{
			Start:    "01:00",
			Duration: 4 * time.Hour,
			Timezone: "America/New_York",
		},
		Timing: TimingConfig{
			MaxSleep:     time.Hour,
			EmptyTime:    10 * time.Minute,
			PollInterval: 10 * time.Second,
			QueryTimeout: 3 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend:   LedgerFile,
			StampFile: "restart-stamp",
			Service:   "kf2",
		},
		Restart: RestartConfig{
			Command: "sudo sv restart kf2",
			Timeout: 2 * time.Minute,
		},
		Log: LogConfig{Level: "info", Pretty: true},
		Watch: WatchConfig{
			Schedule:        "@every 1m",
			ShutdownTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			User:           "default",
			DialTimeout:    5 * time.Second,
			ReadTimeout:    3 * time.Second,
			WriteTimeout:   3 * time.Second,
			PoolSize:       2,
			ConnectTimeout: 30 * time.Second,
			RetryInterval:  2 * time.Second,
			MaxWait:        10 * time.Second,
			PingTimeout:    5 * time.Second,
			WarnThreshold:  3,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// (or $IDLEREBOOT_CONFIG), then IDLEREBOOT_* environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.Server.Host = getenv("IDLEREBOOT_HOST", c.Server.Host)
	c.Server.Port = getenvInt("IDLEREBOOT_PORT", c.Server.Port)

	// Window
	c.Window.Start = getenv("IDLEREBOOT_WINDOW_START", c.Window.Start)
	c.Window.Duration = mustDuration("IDLEREBOOT_WINDOW_DURATION", c.Window.Duration)
	c.Window.Timezone = getenv("IDLEREBOOT_WINDOW_TIMEZONE", c.Window.Timezone)

	// Timing
	c.Timing.MaxSleep = mustDuration("IDLEREBOOT_MAX_SLEEP", c.Timing.MaxSleep)
	c.Timing.EmptyTime = mustDuration("IDLEREBOOT_EMPTY_TIME", c.Timing.EmptyTime)
	c.Timing.PollInterval = mustDuration("IDLEREBOOT_POLL_INTERVAL", c.Timing.PollInterval)
	c.Timing.BusyBackoff = mustDuration("IDLEREBOOT_BUSY_BACKOFF", c.Timing.BusyBackoff)
	c.Timing.QueryTimeout = mustDuration("IDLEREBOOT_QUERY_TIMEOUT", c.Timing.QueryTimeout)

	// Ledger
	c.Ledger.Backend = getenv("IDLEREBOOT_LEDGER", c.Ledger.Backend)
	c.Ledger.StampFile = getenv("IDLEREBOOT_STAMP_FILE", c.Ledger.StampFile)
	c.Ledger.Service = getenv("IDLEREBOOT_LEDGER_SERVICE", c.Ledger.Service)

	// Restart
	c.Restart.Command = getenv("IDLEREBOOT_RESTART_COMMAND", c.Restart.Command)
	c.Restart.Timeout = mustDuration("IDLEREBOOT_RESTART_TIMEOUT", c.Restart.Timeout)

	// Logging and metrics
	c.Log.Level = getenv("IDLEREBOOT_LOG_LEVEL", c.Log.Level)
	c.Log.Pretty = mustBool("IDLEREBOOT_PRETTY_LOG", c.Log.Pretty)
	c.Metrics.Textfile = getenv("IDLEREBOOT_METRICS_TEXTFILE", c.Metrics.Textfile)

	// Watch mode
	c.Watch.Schedule = getenv("IDLEREBOOT_WATCH_SCHEDULE", c.Watch.Schedule)
	c.Watch.StatusListen = getenv("IDLEREBOOT_STATUS_LISTEN", c.Watch.StatusListen)
	if v := os.Getenv("IDLEREBOOT_ALLOWED_CIDRS"); v != "" {
		c.Watch.AllowedCIDRS = splitAndTrim(v)
	}
	c.Watch.TrustProxy = mustBool("IDLEREBOOT_TRUST_PROXY", c.Watch.TrustProxy)
	c.Watch.ShutdownTimeout = mustDuration("IDLEREBOOT_SHUTDOWN_TIMEOUT", c.Watch.ShutdownTimeout)

	// Redis
	c.Redis.Addr = getenv("IDLEREBOOT_REDIS_ADDR", c.Redis.Addr)
	c.Redis.User = getenv("IDLEREBOOT_REDIS_USERNAME", c.Redis.User)
	c.Redis.Password = getenv("IDLEREBOOT_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getenvInt("IDLEREBOOT_REDIS_DB", c.Redis.DB)
	c.Redis.DialTimeout = mustDuration("REDIS_DIAL_TIMEOUT", c.Redis.DialTimeout)
	c.Redis.ReadTimeout = mustDuration("REDIS_READ_TIMEOUT", c.Redis.ReadTimeout)
	c.Redis.WriteTimeout = mustDuration("REDIS_WRITE_TIMEOUT", c.Redis.WriteTimeout)
	c.Redis.PoolSize = getenvInt("REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.ConnectTimeout = mustDuration("REDIS_CONNECT_TIMEOUT", c.Redis.ConnectTimeout)
	c.Redis.RetryInterval = mustDuration("REDIS_RETRY_INTERVAL", c.Redis.RetryInterval)
	c.Redis.MaxWait = mustDuration("REDIS_MAX_WAIT", c.Redis.MaxWait)
	c.Redis.PingTimeout = mustDuration("REDIS_PING_TIMEOUT", c.Redis.PingTimeout)
	c.Redis.WarnThreshold = getenvInt("REDIS_WARN_THRESHOLD", c.Redis.WarnThreshold)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	if _, err := window.ParseClock(c.Window.Start); err != nil {
		errs = append(errs, fmt.Errorf("window.start: %w", err))
	}
	if c.Window.Duration <= 0 || c.Window.Duration >= 24*time.Hour {
		add("window.duration must be > 0 and < 24h, got %v", c.Window.Duration)
	}
	if _, err := time.LoadLocation(c.Window.Timezone); err != nil || c.Window.Timezone == "" {
		add("window.timezone %q is not a known location", c.Window.Timezone)
	}

	if c.Timing.MaxSleep <= 0 {
		add("timing.max_sleep must be > 0, got %v", c.Timing.MaxSleep)
	}
	if c.Timing.EmptyTime < 0 {
		add("timing.empty_time must be >= 0, got %v", c.Timing.EmptyTime)
	}
	if c.Timing.PollInterval <= 0 {
		add("timing.poll_interval must be > 0, got %v", c.Timing.PollInterval)
	}
	if c.Timing.BusyBackoff < 0 {
		add("timing.busy_backoff must be >= 0, got %v", c.Timing.BusyBackoff)
	}
	if c.Timing.QueryTimeout <= 0 {
		add("timing.query_timeout must be > 0, got %v", c.Timing.QueryTimeout)
	}

	switch c.Ledger.Backend {
	case LedgerFile:
		if strings.TrimSpace(c.Ledger.StampFile) == "" {
			add("ledger.stamp_file is required for the file backend")
		}
	case LedgerRedis:
		if c.Redis.Addr == "" {
			add("redis.addr is required for the redis backend")
		}
		if c.Ledger.Service == "" {
			add("ledger.service is required for the redis backend")
		}
	default:
		add("ledger.backend must be %q or %q, got %q", LedgerFile, LedgerRedis, c.Ledger.Backend)
	}

	if strings.TrimSpace(c.Restart.Command) == "" {
		add("restart.command is required")
	}
	if c.Restart.Timeout <= 0 {
		add("restart.timeout must be > 0, got %v", c.Restart.Timeout)
	}

	if !logger.ValidLevel(c.Log.Level) {
		add("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}

	if _, err := scheduler.ParseSpec(c.Watch.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("watch.schedule: %w", err))
	}
	for _, cidr := range c.Watch.AllowedCIDRS {
		if _, _, err := net.ParseCIDR(cidr); err != nil && net.ParseIP(cidr) == nil {
			add("watch.allowed_cidrs: %q is neither an IP nor a CIDR", cidr)
		}
	}

	return errors.Join(errs...)
}

// Schedule builds the window schedule. The config must be valid.
func (c *Config) Schedule() (*window.Schedule, error) {
	start, err := window.ParseClock(c.Window.Start)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(c.Window.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Window.Timezone, err)
	}
	return window.NewSchedule(start, c.Window.Duration, loc)
}

// ServerAddr returns the query address, "host:port".
func (c *Config) ServerAddr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Redacted returns a copy safe to log.
func (c *Config) Redacted() Config {
	cp := *c
	if cp.Redis.Password != "" {
		cp.Redis.Password = "***REDACTED***"
	}
	if cp.Redis.User != "" {
		cp.Redis.User = "***REDACTED***"
	}
	return cp
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
