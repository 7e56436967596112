package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Identity struct {
		ID string `yaml:"id"`
		// PublicKey is base64 encoded.
		PublicKey string `yaml:"public_key"`
	} `yaml:"identity"`

	Rendezvous struct {
		DirectoryURL      string        `yaml:"directory_url"`
		DirectoryCacheTTL time.Duration `yaml:"directory_cache_ttl"`
		DirectoryTimeout  time.Duration `yaml:"directory_timeout"`
		Cooldown          time.Duration `yaml:"cooldown"`
		Tick              time.Duration `yaml:"tick"`
		ConnectTimeout    time.Duration `yaml:"connect_timeout"`
		HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
		WriteTimeout      time.Duration `yaml:"write_timeout"`
		ListenerIdle      time.Duration `yaml:"listener_idle"`
		InsecureTLS       bool          `yaml:"insecure_tls"`
	} `yaml:"rendezvous"`

	Direct struct {
		BindHost      string        `yaml:"bind_host"`
		Poll          time.Duration `yaml:"poll"`
		AcceptTimeout time.Duration `yaml:"accept_timeout"`
	} `yaml:"direct"`

	Lan struct {
		Enabled         bool          `yaml:"enabled"`
		BroadcastAddr   string        `yaml:"broadcast_addr"`
		ListenAddr      string        `yaml:"listen_addr"`
		Inactivity      time.Duration `yaml:"inactivity"`
		PersistInterval time.Duration `yaml:"persist_interval"`
		RepliesPerSec   float64       `yaml:"replies_per_second"`
		ReplyBurst      int           `yaml:"reply_burst"`
	} `yaml:"lan"`

	STUN struct {
		Servers    []string      `yaml:"servers"`
		Timeout    time.Duration `yaml:"timeout"`
		CacheTTL   time.Duration `yaml:"cache_ttl"`
		PublicAddr string        `yaml:"public_addr"`
	} `yaml:"stun"`

	Session struct {
		ForwardAddress string        `yaml:"forward_address"`
		DialTimeout    time.Duration `yaml:"dial_timeout"`
	} `yaml:"session"`

	Store struct {
		Backend     string `yaml:"backend"` // memory, file or redis
		OptionsFile string `yaml:"options_file"`
		PeersFile   string `yaml:"peers_file"`
	} `yaml:"store"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Admin struct {
		Address           string `yaml:"address"`
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	} `yaml:"admin"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Identity
	if c.Identity.ID == "" {
		return fmt.Errorf("identity.id must not be empty")
	}

	// Rendezvous
	if c.Rendezvous.Cooldown <= 0 {
		return fmt.Errorf("rendezvous.cooldown must be > 0")
	}
	if c.Rendezvous.Tick <= 0 {
		return fmt.Errorf("rendezvous.tick must be > 0")
	}
	if c.Rendezvous.ConnectTimeout <= 0 {
		return fmt.Errorf("rendezvous.connect_timeout must be > 0")
	}
	if c.Rendezvous.HandshakeTimeout <= 0 {
		return fmt.Errorf("rendezvous.handshake_timeout must be > 0")
	}
	if c.Rendezvous.ListenerIdle <= 0 {
		return fmt.Errorf("rendezvous.listener_idle must be > 0")
	}
	if c.Rendezvous.DirectoryURL != "" && c.Rendezvous.DirectoryCacheTTL <= 0 {
		return fmt.Errorf("rendezvous.directory_cache_ttl must be > 0 when directory_url is set")
	}

	// Direct
	if c.Direct.Poll <= 0 {
		return fmt.Errorf("direct.poll must be > 0")
	}
	if c.Direct.AcceptTimeout <= 0 {
		return fmt.Errorf("direct.accept_timeout must be > 0")
	}

	// LAN
	if c.Lan.Inactivity <= 0 {
		return fmt.Errorf("lan.inactivity must be > 0")
	}
	if c.Lan.PersistInterval <= 0 {
		return fmt.Errorf("lan.persist_interval must be > 0")
	}
	if c.Lan.Enabled && (c.Lan.RepliesPerSec <= 0 || c.Lan.ReplyBurst <= 0) {
		return fmt.Errorf("lan.replies_per_second and lan.reply_burst must be > 0 when lan is enabled")
	}

	// STUN
	if c.STUN.PublicAddr == "" && len(c.STUN.Servers) == 0 {
		return fmt.Errorf("stun.servers must not be empty when stun.public_addr is unset")
	}

	// Store
	switch c.Store.Backend {
	case "memory":
	case "file":
		if c.Store.OptionsFile == "" || c.Store.PeersFile == "" {
			return fmt.Errorf("store.options_file and store.peers_file must be set for the file backend")
		}
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when store.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when store.backend=redis")
		}
	default:
		return fmt.Errorf("store.backend must be one of memory, file, redis; got %q", c.Store.Backend)
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Identity.ID = hostnameOr("rendezlink")

	cfg.Rendezvous.DirectoryCacheTTL = time.Hour
	cfg.Rendezvous.DirectoryTimeout = 10 * time.Second
	cfg.Rendezvous.Cooldown = time.Second
	cfg.Rendezvous.Tick = time.Second
	cfg.Rendezvous.ConnectTimeout = 18 * time.Second
	cfg.Rendezvous.HandshakeTimeout = 12 * time.Second
	cfg.Rendezvous.WriteTimeout = 10 * time.Second
	cfg.Rendezvous.ListenerIdle = 30 * time.Second

	cfg.Direct.BindHost = "0.0.0.0"
	cfg.Direct.Poll = time.Second
	cfg.Direct.AcceptTimeout = time.Second

	cfg.Lan.Enabled = true
	cfg.Lan.BroadcastAddr = "255.255.255.255"
	cfg.Lan.ListenAddr = "0.0.0.0"
	cfg.Lan.Inactivity = 3 * time.Second
	cfg.Lan.PersistInterval = 300 * time.Millisecond
	cfg.Lan.RepliesPerSec = 5
	cfg.Lan.ReplyBurst = 10

	cfg.STUN.Servers = []string{"stun.l.google.com:19302", "stun.cloudflare.com:3478"}
	cfg.STUN.Timeout = 5 * time.Second
	cfg.STUN.CacheTTL = 5 * time.Minute

	cfg.Session.DialTimeout = 5 * time.Second

	cfg.Store.Backend = "memory"
	cfg.Store.OptionsFile = "rendezlink_options.yaml"
	cfg.Store.PeersFile = "rendezlink_lan_peers.yaml"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Admin.PrometheusEnabled = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if id := os.Getenv("RENDEZLINK_ID"); id != "" {
		c.Identity.ID = id
	}
	if url := os.Getenv("RENDEZLINK_DIRECTORY_URL"); url != "" {
		c.Rendezvous.DirectoryURL = url
	}
	if addr := os.Getenv("RENDEZLINK_ADMIN_ADDRESS"); addr != "" {
		c.Admin.Address = addr
	}
	if addr := os.Getenv("RENDEZLINK_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if level := os.Getenv("RENDEZLINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

func hostnameOr(fallback string) string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return fallback
	}
	return name
}
