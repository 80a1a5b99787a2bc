package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable, e.g. DLK_SERVER_PORT.
// Each field's tag also works unprefixed, e.g. PORT.
const EnvPrefix = "DLK"

// EnvFile names the variable holding the optional TOML file path.
const EnvFile = "DLK_CONFIG"

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Kernel    KernelConfig    `toml:"kernel"`
	Loader    LoaderConfig    `toml:"loader"`
	Remote    RemoteConfig    `toml:"remote"`
	Logging   LogConfig       `toml:"logging" envconfig:"LOG"`
	RateLimit RateLimitConfig `toml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `toml:"host" envconfig:"HOST"`
	Port            int      `toml:"port" envconfig:"PORT"`
	ShutdownTimeout Duration `toml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	MaxConns        int      `toml:"max_conns" envconfig:"MAX_CONNS"`
	ShellWait       Duration `toml:"shell_wait" envconfig:"SHELL_WAIT"`
	CORSOrigins     []string `toml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// KernelConfig sizes the hosted kernel.
type KernelConfig struct {
	PriorityMax int  `toml:"priority_max" envconfig:"PRIORITY_MAX"`
	HeapSize    int  `toml:"heap_size" envconfig:"HEAP_SIZE"`
	Coherent    bool `toml:"coherent" envconfig:"COHERENT"`
	NameMax     int  `toml:"name_max" envconfig:"NAME_MAX"`
}

// LoaderConfig says where images come from and what starts at boot.
type LoaderConfig struct {
	Root     string   `toml:"root" envconfig:"MODULE_ROOT"`
	Manifest string   `toml:"manifest" envconfig:"MANIFEST"`
	Autoload bool     `toml:"autoload" envconfig:"AUTOLOAD"`
	Include  []string `toml:"include" envconfig:"INCLUDE"`
	MaxImage int64    `toml:"max_image" envconfig:"MAX_IMAGE"`
}

// RemoteConfig points at an optional HTTP module registry.
type RemoteConfig struct {
	URL           string   `toml:"url" envconfig:"REGISTRY_URL"`
	Token         string   `toml:"token" envconfig:"REGISTRY_TOKEN"`
	Timeout       Duration `toml:"timeout" envconfig:"REGISTRY_TIMEOUT"`
	Retries       int      `toml:"retries" envconfig:"REGISTRY_RETRIES"`
	RatePerSecond float64  `toml:"rate_per_second" envconfig:"REGISTRY_RPS"`
	Burst         int      `toml:"burst" envconfig:"REGISTRY_BURST"`
	TripAfter     uint32   `toml:"trip_after" envconfig:"REGISTRY_TRIP_AFTER"`
	Cooldown      Duration `toml:"cooldown" envconfig:"REGISTRY_COOLDOWN"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `toml:"level" envconfig:"LOG_LEVEL"`
	Development bool   `toml:"development" envconfig:"LOG_DEV"`
}

// RateLimitConfig holds API rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `toml:"requests_per_second" envconfig:"RATE_LIMIT_RPS"`
	Burst             int  `toml:"burst" envconfig:"RATE_LIMIT_BURST"`
	Enabled           bool `toml:"enabled" envconfig:"RATE_LIMIT_ENABLED"`
}

// Duration is a time.Duration written as "30s" in files and variables.
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxConns:        256,
			ShellWait:       Duration(time.Minute),
			CORSOrigins:     []string{"*"},
		},
		Kernel: KernelConfig{
			PriorityMax: 32,
			HeapSize:    4 << 20,
			Coherent:    true,
			NameMax:     8,
		},
		Loader: LoaderConfig{
			Root:     ".",
			Include:  []string{"**/*.mo", "**/*.so"},
			MaxImage: 4 << 20,
		},
		Remote: RemoteConfig{
			Timeout:   Duration(30 * time.Second),
			Retries:   3,
			TripAfter: 5,
			Cooldown:  Duration(30 * time.Second),
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Load builds the configuration from defaults, then the TOML file at path
// (or $DLK_CONFIG when path is empty), then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault loads configuration or returns defaults on any error.
func LoadOrDefault() *Config {
	cfg, err := Load("")
	if err != nil {
		return Default()
	}
	return cfg
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	if err := toml.NewDecoder(f).DisallowUnknownFields().Decode(c); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config %s: %s", path, strict.String())
		}
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the kernel or server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxConns < 0 {
		errs = append(errs, fmt.Errorf("server.max_conns %d is negative", c.Server.MaxConns))
	}
	if c.Kernel.PriorityMax < 2 || c.Kernel.PriorityMax > 256 {
		errs = append(errs, fmt.Errorf("kernel.priority_max %d out of range", c.Kernel.PriorityMax))
	}
	if c.Kernel.HeapSize < 64<<10 {
		errs = append(errs, fmt.Errorf("kernel.heap_size %d below 64KiB", c.Kernel.HeapSize))
	}
	if c.Kernel.NameMax < 2 {
		errs = append(errs, fmt.Errorf("kernel.name_max %d too small", c.Kernel.NameMax))
	}
	if c.Loader.MaxImage <= 0 {
		errs = append(errs, errors.New("loader.max_image must be positive"))
	}
	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("remote.url %q is not an http(s) url", c.Remote.URL))
		}
	}
	if _, err := toLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

func toLevel(s string) (string, error) {
	switch s {
	case "debug", "info", "warn", "error":
		return s, nil
	}
	return "", fmt.Errorf("unknown level %q", s)
}
