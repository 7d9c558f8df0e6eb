package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/viper"

	manager "github.com/bprzybys-nc/manager-sub001"
)

// Config is the daemon configuration, read from config.yaml and
// INCIDENTD_* environment variables.
type Config struct {
	Server struct {
		Addr  string `mapstructure:"addr"`
		URL   string `mapstructure:"url"`
		Token string `mapstructure:"token"`
	} `mapstructure:"server"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Store struct {
		Driver   string `mapstructure:"driver"`
		DSN      string `mapstructure:"dsn"`
		Database string `mapstructure:"database"`
	} `mapstructure:"store"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Queue    bool   `mapstructure:"queue"`
		Lock     bool   `mapstructure:"lock"`
	} `mapstructure:"redis"`
	Engine struct {
		Concurrency          int           `mapstructure:"concurrency"`
		Queues               []string      `mapstructure:"queues"`
		PollInterval         time.Duration `mapstructure:"poll_interval"`
		ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
		ExecutionWaitTimeout time.Duration `mapstructure:"execution_wait_timeout"`
		ApprovalWaitTimeout  time.Duration `mapstructure:"approval_wait_timeout"`
		StaleSweep           string        `mapstructure:"stale_sweep"`
		MaxOutputBytes       int           `mapstructure:"max_output_bytes"`
		MinDiagnostics       int           `mapstructure:"min_diagnostics"`
		AdvancedDiagnostics  bool          `mapstructure:"advanced_diagnostics"`
	} `mapstructure:"engine"`
	Oracle struct {
		Provider      string  `mapstructure:"provider"`
		Model         string  `mapstructure:"model"`
		AdvancedModel string  `mapstructure:"advanced_model"`
		APIKey        string  `mapstructure:"api_key"`
		BaseURL       string  `mapstructure:"base_url"`
		Project       string  `mapstructure:"project"`
		Location      string  `mapstructure:"location"`
		Attempts      int     `mapstructure:"attempts"`
		RateLimit     float64 `mapstructure:"rate_limit"`
	} `mapstructure:"oracle"`
	Chat struct {
		WebhookURL string `mapstructure:"webhook_url"`
	} `mapstructure:"chat"`
	Executor struct {
		Endpoint    string `mapstructure:"endpoint"`
		CallbackURL string `mapstructure:"callback_url"`
	} `mapstructure:"executor"`
}

func setDefaults(v *viper.Viper) {
	def := manager.DefaultConfig()
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.url", "http://localhost:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "tint")
	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.database", "incidents")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.queue", false)
	v.SetDefault("redis.lock", false)
	v.SetDefault("engine.concurrency", def.Concurrency)
	v.SetDefault("engine.queues", def.Queues)
	v.SetDefault("engine.poll_interval", def.PollInterval)
	v.SetDefault("engine.shutdown_timeout", def.ShutdownTimeout)
	v.SetDefault("engine.execution_wait_timeout", def.ExecutionWaitTimeout)
	v.SetDefault("engine.approval_wait_timeout", def.ApprovalWaitTimeout)
	v.SetDefault("engine.stale_sweep", def.StaleSweepSchedule)
	v.SetDefault("engine.max_output_bytes", def.MaxOutputBytes)
	v.SetDefault("engine.advanced_diagnostics", def.AdvancedDiagnostics)
	v.SetDefault("engine.min_diagnostics", def.MinDiagnostics)
	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.attempts", def.OracleAttempts)
	v.SetDefault("oracle.rate_limit", def.OracleRateLimit)

	// Keys without a useful default are still registered so that
	// AutomaticEnv can fill them on Unmarshal.
	for _, key := range []string{
		"server.token", "store.dsn",
		"redis.addr", "redis.password",
		"oracle.model", "oracle.advanced_model", "oracle.api_key", "oracle.base_url",
		"oracle.project", "oracle.location",
		"chat.webhook_url", "executor.endpoint", "executor.callback_url",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
}

// loadConfig reads the config file (if any) and the environment.
func loadConfig(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/incidentd")
	}
	v.SetEnvPrefix("INCIDENTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// managerConfig maps the engine section onto the manager configuration.
func (c *Config) managerConfig() manager.Config {
	mc := manager.DefaultConfig()
	mc.Concurrency = c.Engine.Concurrency
	mc.Queues = c.Engine.Queues
	mc.PollInterval = c.Engine.PollInterval
	mc.ShutdownTimeout = c.Engine.ShutdownTimeout
	mc.ExecutionWaitTimeout = c.Engine.ExecutionWaitTimeout
	mc.ApprovalWaitTimeout = c.Engine.ApprovalWaitTimeout
	mc.StaleSweepSchedule = c.Engine.StaleSweep
	mc.MaxOutputBytes = c.Engine.MaxOutputBytes
	mc.MinDiagnostics = c.Engine.MinDiagnostics
	mc.AdvancedDiagnostics = c.Engine.AdvancedDiagnostics
	mc.OracleAttempts = c.Oracle.Attempts
	mc.OracleRateLimit = c.Oracle.RateLimit
	mc.CallbackURL = c.Executor.CallbackURL
	return mc
}

// newLogger builds the process logger. "tint" is colored text for
// terminals, "json" is for log shippers.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
	case "", "tint":
		f, isFile := w.(*os.File)
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      lvl,
			TimeFormat: time.Kitchen,
			NoColor:    !isFile || os.Getenv("NO_COLOR") != "" || !isTerminal(f),
		})), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
