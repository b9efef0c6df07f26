// Package config loads the gridctl application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Database is one named PostgreSQL connection.
type Database struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Schema   string `yaml:"schema"`
	SSLMode  string `yaml:"sslmode"`
	Default  bool   `yaml:"default"`
}

// DSN renders a lib/pq connection string.
func (d Database) DSN() string {
	sslmode := d.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Database, sslmode)
	if d.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s,public", d.Schema)
	}
	return dsn
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type Cache struct {
	Backend           string `yaml:"backend"`
	Redis             Redis  `yaml:"redis"`
	TTL               string `yaml:"ttl"`
	MaxDistinctValues int    `yaml:"max_distinct_values"`
	SingleFlight      bool   `yaml:"single_flight"`
}

type State struct {
	Backend string `yaml:"backend"`
	Redis   Redis  `yaml:"redis"`
	TTL     string `yaml:"ttl"`
}

type Export struct {
	ChunkSize   int    `yaml:"chunk_size"`
	UseCursor   bool   `yaml:"use_cursor"`
	MaxCursors  int    `yaml:"max_cursors"`
	IdleTimeout string `yaml:"idle_timeout"`
	AbsTimeout  string `yaml:"abs_timeout"`
}

// Config is the gridengine.yaml document.
type Config struct {
	Application struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"application"`
	Database []Database `yaml:"database"`
	Cache    Cache      `yaml:"cache"`
	State    State      `yaml:"state"`
	Export   Export     `yaml:"export"`
	Catalog  struct {
		Path string `yaml:"path"`
	} `yaml:"catalog"`
	Tables []string `yaml:"tables"`

	dir string
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"

	DefaultChunkSize  = 500
	DefaultMaxCursors = 10
)

// Load reads .env (when present), expands environment references in the
// YAML file at path and decodes it. Relative catalog and table paths are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Parse expands environment references and decodes data.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) check() error {
	for _, b := range []struct{ section, backend string }{
		{"cache", c.Cache.Backend},
		{"state", c.State.Backend},
	} {
		switch b.backend {
		case "", BackendMemory, BackendRedis:
		default:
			return fmt.Errorf("%s: unknown backend %q", b.section, b.backend)
		}
	}
	for _, d := range []struct{ name, value string }{
		{"cache.ttl", c.Cache.TTL},
		{"state.ttl", c.State.TTL},
		{"export.idle_timeout", c.Export.IdleTimeout},
		{"export.abs_timeout", c.Export.AbsTimeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	return nil
}

// DefaultDatabase returns the database marked default, or the only one.
func (c *Config) DefaultDatabase() (Database, error) {
	for _, d := range c.Database {
		if d.Default {
			return d, nil
		}
	}
	if len(c.Database) == 1 {
		return c.Database[0], nil
	}
	return Database{}, fmt.Errorf("no default database among %d configured", len(c.Database))
}

// Path resolves p against the config file's directory.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// CatalogPath is the resolved entity catalog path.
func (c *Config) CatalogPath() string {
	if p := os.Getenv("CATALOG_PATH"); p != "" {
		return p
	}
	return c.Path(c.Catalog.Path)
}

// TablePaths are the resolved table config paths.
func (c *Config) TablePaths() []string {
	out := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		out[i] = c.Path(t)
	}
	return out
}

func duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// CacheTTL is zero when unset, leaving the distinct cache default in place.
func (c *Config) CacheTTL() time.Duration { return duration(c.Cache.TTL, 0) }

func (c *Config) StateTTL() time.Duration { return duration(c.State.TTL, 0) }

func (c *Config) ChunkSize() int {
	if c.Export.ChunkSize > 0 {
		return c.Export.ChunkSize
	}
	return DefaultChunkSize
}

func (c *Config) MaxCursors() int {
	if c.Export.MaxCursors > 0 {
		return c.Export.MaxCursors
	}
	return DefaultMaxCursors
}

func (c *Config) IdleTimeout() time.Duration { return duration(c.Export.IdleTimeout, 5*time.Minute) }

func (c *Config) AbsTimeout() time.Duration { return duration(c.Export.AbsTimeout, time.Hour) }
