// Package config loads the wizard's settings with Viper.
//
// Priority (highest to lowest):
//  1. Environment variables (WIZARD_ prefix, dots become underscores:
//     WIZARD_REDIS_ADDR, WIZARD_EXECUTOR_TIMEOUT)
//  2. The YAML file named by WIZARD_CONFIG_PATH
//  3. ./wizard.yaml
//  4. [DefaultConfig]
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix      = "WIZARD"
	ConfigPathEnv  = "WIZARD_CONFIG_PATH"
	DefaultCfgFile = "wizard.yaml"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Jira     JiraConfig     `mapstructure:"jira"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Events   EventsConfig   `mapstructure:"events"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// Mode is the gin mode: debug, release or test.
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// StorageConfig selects backends. Runs: memory|postgres. Artifacts:
// memory|fs|postgres.
type StorageConfig struct {
	Runs      string `mapstructure:"runs"`
	Artifacts string `mapstructure:"artifacts"`
	FSRoot    string `mapstructure:"fs_root"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig switches the queue and event bus from in-process to Redis.
type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type ExecutorConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// JiraConfig enables the real JIRA client; otherwise keys are mocked.
type JiraConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	URL       string `mapstructure:"url"`
	Username  string `mapstructure:"username"`
	Token     string `mapstructure:"token"`
	Project   string `mapstructure:"project"`
	IssueType string `mapstructure:"issue_type"`
}

// LLMConfig enables model-backed story and code generation.
type LLMConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

type EventsConfig struct {
	// Buffer is how many events are kept per run for the execution log.
	Buffer int `mapstructure:"buffer"`
}

func DefaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080", Mode: "release"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Storage:  StorageConfig{Runs: "memory", Artifacts: "fs", FSRoot: "./data/artifacts"},
		Postgres: PostgresConfig{DSN: ""},
		Redis:    RedisConfig{Enabled: false, Addr: "localhost:6379"},
		Worker:   WorkerConfig{Concurrency: 2},
		Executor: ExecutorConfig{Timeout: 2 * time.Minute, MaxRetries: 0},
		Jira:     JiraConfig{Project: "SDLC", IssueType: "Story"},
		LLM:      LLMConfig{Model: "gpt-4o-mini", Temperature: 0.2},
		Events:   EventsConfig{Buffer: 200},
	}
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch c.Storage.Runs {
	case "memory", "postgres":
	default:
		return fmt.Errorf("storage.runs: unknown backend %q", c.Storage.Runs)
	}
	switch c.Storage.Artifacts {
	case "memory", "fs", "postgres":
	default:
		return fmt.Errorf("storage.artifacts: unknown backend %q", c.Storage.Artifacts)
	}
	if c.UsesPostgres() && c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required for the postgres backend")
	}
	if c.Storage.Artifacts == "fs" && c.Storage.FSRoot == "" {
		return errors.New("storage.fs_root is required for the fs backend")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be at least 1, got %d", c.Worker.Concurrency)
	}
	if c.Executor.Timeout < 0 || c.Executor.MaxRetries < 0 {
		return errors.New("executor.timeout and executor.max_retries must not be negative")
	}
	if c.Jira.Enabled && c.Jira.URL == "" {
		return errors.New("jira.url is required when jira is enabled")
	}
	return nil
}

func (c *Config) UsesPostgres() bool {
	return c.Storage.Runs == "postgres" || c.Storage.Artifacts == "postgres"
}

// Loader handles Viper-based configuration loading.
type Loader struct {
	v *viper.Viper
}

func NewLoader() *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())
	return &Loader{v: v}
}

// Load reads WIZARD_CONFIG_PATH or ./wizard.yaml when present, applies
// environment overrides and validates the result.
func (l *Loader) Load() (*Config, error) {
	path := os.Getenv(ConfigPathEnv)
	if path == "" {
		if _, err := os.Stat(DefaultCfgFile); err == nil {
			path = DefaultCfgFile
		}
	}
	if path != "" {
		return l.LoadFromFile(path)
	}
	return l.unmarshal()
}

func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("storage.runs", d.Storage.Runs)
	v.SetDefault("storage.artifacts", d.Storage.Artifacts)
	v.SetDefault("storage.fs_root", d.Storage.FSRoot)
	v.SetDefault("postgres.dsn", d.Postgres.DSN)
	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("worker.concurrency", d.Worker.Concurrency)
	v.SetDefault("executor.timeout", d.Executor.Timeout)
	v.SetDefault("executor.max_retries", d.Executor.MaxRetries)
	v.SetDefault("jira.enabled", d.Jira.Enabled)
	v.SetDefault("jira.url", d.Jira.URL)
	v.SetDefault("jira.username", d.Jira.Username)
	v.SetDefault("jira.token", d.Jira.Token)
	v.SetDefault("jira.project", d.Jira.Project)
	v.SetDefault("jira.issue_type", d.Jira.IssueType)
	v.SetDefault("llm.enabled", d.LLM.Enabled)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key", d.LLM.APIKey)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("events.buffer", d.Events.Buffer)
}
