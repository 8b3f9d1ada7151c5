// Package config loads the YAML configuration for offlinesync.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/offlinesync/internal/queue"
	"github.com/roach88/offlinesync/internal/store"
)

// Agent kinds.
const (
	AgentNone  = "none"
	AgentFile  = "file"
	AgentRedis = "redis"
)

type Config struct {
	Store struct {
		PrimaryDSN  string `yaml:"primary_dsn"`  // "sqlite://./offlinesync.db", "postgres://..."
		FallbackDSN string `yaml:"fallback_dsn"` // "file://./offlinesync.json", "redis://..."
		KeyPrefix   string `yaml:"key_prefix"`
	} `yaml:"store"`

	Remote struct {
		BaseURL  string        `yaml:"base_url"`
		Token    string        `yaml:"token"`
		Timeout  time.Duration `yaml:"timeout"`
		SyncPath string        `yaml:"sync_path"`
	} `yaml:"remote"`

	Queue struct {
		RetryPolicy   string        `yaml:"retry_policy"` // retry_always | dead_letter_client_errors
		DrainInterval time.Duration `yaml:"drain_interval"`
	} `yaml:"queue"`

	Sync struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"sync"`

	Connectivity struct {
		ProbeURL      string        `yaml:"probe_url"`
		ProbeInterval time.Duration `yaml:"probe_interval"`
		StartOffline  bool          `yaml:"start_offline"`
	} `yaml:"connectivity"`

	Agent struct {
		Kind          string `yaml:"kind"` // none | file | redis
		SpoolDir      string `yaml:"spool_dir"`
		RedisURL      string `yaml:"redis_url"`
		ChannelPrefix string `yaml:"channel_prefix"`
	} `yaml:"agent"`

	HTTP struct {
		Addr string `yaml:"addr"` // ":8780"
	} `yaml:"http"`
}

// Load supports comma-separated config files: "base.yml,local.yml". Later
// files override earlier ones. An empty list yields the defaults.
func Load(pathList string) (*Config, error) {
	var c Config
	for _, p := range strings.Split(pathList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", p, err)
		}
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

func (c *Config) applyDefaults() {
	if c.Store.PrimaryDSN == "" && c.Store.FallbackDSN == "" {
		c.Store.PrimaryDSN = "sqlite://offlinesync.db"
		c.Store.FallbackDSN = "file://offlinesync.json"
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = store.DefaultKeyPrefix
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = queue.DefaultRequestTimeout
	}
	if c.Remote.SyncPath == "" {
		c.Remote.SyncPath = "/sync/changes"
	}
	if c.Queue.RetryPolicy == "" {
		c.Queue.RetryPolicy = queue.RetryAlways.String()
	}
	if c.Queue.DrainInterval == 0 {
		c.Queue.DrainInterval = 30 * time.Second
	}
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 15 * time.Minute
	}
	if c.Connectivity.ProbeInterval == 0 {
		c.Connectivity.ProbeInterval = 10 * time.Second
	}
	if c.Agent.Kind == "" {
		c.Agent.Kind = AgentNone
	}
	if c.Agent.SpoolDir == "" {
		c.Agent.SpoolDir = "spool"
	}
	if c.Agent.ChannelPrefix == "" {
		c.Agent.ChannelPrefix = c.Store.KeyPrefix
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8780"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, ok := queue.ParseRetryPolicy(c.Queue.RetryPolicy); !ok {
		return fmt.Errorf("queue.retry_policy: unknown policy %q", c.Queue.RetryPolicy)
	}
	switch c.Agent.Kind {
	case AgentNone, AgentFile:
	case AgentRedis:
		if c.Agent.RedisURL == "" {
			return fmt.Errorf("agent.redis_url required for agent kind %q", AgentRedis)
		}
	default:
		return fmt.Errorf("agent.kind: unknown kind %q", c.Agent.Kind)
	}
	if c.Remote.BaseURL != "" {
		if _, err := c.BaseURL(); err != nil {
			return err
		}
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	return nil
}

// BaseURL parses remote.base_url. It returns nil when unset.
func (c *Config) BaseURL() (*url.URL, error) {
	if c.Remote.BaseURL == "" {
		return nil, nil
	}
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("remote.base_url: invalid url %q", c.Remote.BaseURL)
	}
	return u, nil
}

// SyncURL is the endpoint the change coordinator posts batches to.
func (c *Config) SyncURL() string {
	base := strings.TrimRight(c.Remote.BaseURL, "/")
	return base + "/" + strings.TrimLeft(c.Remote.SyncPath, "/")
}

// StoreConfig maps the store section onto store.Config.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		PrimaryDSN:  c.Store.PrimaryDSN,
		FallbackDSN: c.Store.FallbackDSN,
		KeyPrefix:   c.Store.KeyPrefix,
	}
}

// RetryPolicy returns the parsed queue.retry_policy.
func (c *Config) RetryPolicy() queue.RetryPolicy {
	p, _ := queue.ParseRetryPolicy(c.Queue.RetryPolicy)
	return p
}
