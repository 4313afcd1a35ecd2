// Package config loads the run configuration from a TOML file and applies
// defaults. Command-line flags are merged on top by the CLI layer; a flag
// explicitly set always wins over the file.
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/cratemap/cratemap/pkg/archive"
	"github.com/cratemap/cratemap/pkg/callgraph"
	"github.com/cratemap/cratemap/pkg/errors"
)

// Duration is a time.Duration that decodes from TOML strings like "24h".
type Duration time.Duration

// UnmarshalText implements TOML string decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Store configures the graph store connection.
type Store struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Registry configures the index client and its cache.
type Registry struct {
	Mirror    string   `toml:"mirror"`     // "" uses the public registry
	CacheDir  string   `toml:"cache_dir"`  // "" uses the default location
	CacheTTL  Duration `toml:"cache_ttl"`
	RedisAddr string   `toml:"redis_addr"` // non-empty selects the Redis cache backend
}

// Analysis configures the pipeline.
type Analysis struct {
	Concurrency       int      `toml:"concurrency"`
	RetryCap          int      `toml:"retry_cap"`
	BufferSize        int      `toml:"buffer_size"`
	MaxExtractBytes   int64    `toml:"max_extract_bytes"`
	WorkDir           string   `toml:"work_dir"`
	SkipPrefixes      []string `toml:"skip_prefixes"`
	IncludePrerelease bool     `toml:"include_prerelease"`
}

// Config is the full run configuration.
type Config struct {
	Store    Store    `toml:"store"`
	Registry Registry `toml:"registry"`
	Analysis Analysis `toml:"analysis"`
}

// Default returns the configuration used when no file and no flags are
// given.
func Default() Config {
	return Config{
		Store: Store{
			URI:  "bolt://localhost:7687",
			User: "neo4j",
		},
		Registry: Registry{
			CacheTTL: Duration(24 * time.Hour),
		},
		Analysis: Analysis{
			Concurrency:     4,
			RetryCap:        3,
			BufferSize:      16,
			MaxExtractBytes: archive.DefaultMaxExtractSize,
			SkipPrefixes:    callgraph.DefaultSkipPrefixes,
		},
	}
}

// Load reads a TOML config file over the defaults. An empty path returns
// the defaults untouched; a named file that is missing or malformed is a
// configuration error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(errors.ErrCodeConfig, err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeConfig, err, "parse config %s", path)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Analysis.Concurrency < 1 {
		return errors.New(errors.ErrCodeConfig, "concurrency must be at least 1")
	}
	if c.Analysis.RetryCap < 0 {
		return errors.New(errors.ErrCodeConfig, "retry_cap cannot be negative")
	}
	if c.Analysis.BufferSize < 1 {
		return errors.New(errors.ErrCodeConfig, "buffer_size must be at least 1")
	}
	if c.Store.URI == "" {
		return errors.New(errors.ErrCodeConfig, "store.uri cannot be empty")
	}
	return nil
}
