// Package config resolves pkgrestore settings from defaults, an optional
// pkgrestore.toml, PKGRESTORE_* environment variables and command-line
// flags, in increasing order of precedence.
package config

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/matzehuels/pkgrestore/pkg/cache"
	"github.com/matzehuels/pkgrestore/pkg/errors"
)

const (
	// AppName names the cache and packages directories.
	AppName = "pkgrestore"
	// FileName is the settings file looked up in the project directory.
	FileName = "pkgrestore.toml"
	// EnvPrefix prefixes environment overrides, e.g. PKGRESTORE_PACKAGES_DIR.
	EnvPrefix = "PKGRESTORE"

	// DefaultParallel is the default install and lookup concurrency.
	DefaultParallel = 8
	// DefaultLockTimeout bounds one wait for an install lock.
	DefaultLockTimeout = 30 * time.Second
)

// HTTP cache backends.
const (
	CacheFile  = "file"
	CacheRedis = "redis"
	CacheNone  = "none"
)

// Keys and the flags that override them.
const (
	KeySources         = "sources"
	KeyFallbackSources = "fallback_sources"
	KeyPackagesDir     = "packages_dir"
	KeyParallel        = "parallel"
	KeyNoCache         = "no_cache"
	KeyLockTimeout     = "lock_timeout"
	KeyHTTPCache       = "http_cache"
	KeyRedisURL        = "redis_url"
	KeyCacheDir        = "cache_dir"
)

var flagNames = map[string]string{
	KeySources:         "source",
	KeyFallbackSources: "fallback-source",
	KeyPackagesDir:     "packages",
	KeyParallel:        "parallel",
	KeyNoCache:         "no-cache",
	KeyLockTimeout:     "lock-timeout",
	KeyHTTPCache:       "http-cache",
	KeyRedisURL:        "redis-url",
	KeyCacheDir:        "cache-dir",
}

var validate = validator.New()

// Config is the resolved configuration.
type Config struct {
	Sources         []string      `mapstructure:"sources"`
	FallbackSources []string      `mapstructure:"fallback_sources"`
	PackagesDir     string        `mapstructure:"packages_dir" validate:"required"`
	Parallel        string        `mapstructure:"parallel"`
	NoCache         bool          `mapstructure:"no_cache"`
	LockTimeout     time.Duration `mapstructure:"lock_timeout" validate:"gt=0"`
	HTTPCache       string        `mapstructure:"http_cache" validate:"oneof=file redis none"`
	RedisURL        string        `mapstructure:"redis_url" validate:"required_if=HTTPCache redis"`
	CacheDir        string        `mapstructure:"cache_dir"`

	// MaxConcurrency is Parallel as a number; "none" and 0 mean 1.
	MaxConcurrency int `mapstructure:"-"`
	// File is the settings file that was read, if any.
	File string `mapstructure:"-"`
}

// LoadOptions selects where settings come from.
type LoadOptions struct {
	// ConfigFile is an explicit settings file. It must exist.
	ConfigFile string
	// Dir is searched for FileName when ConfigFile is empty.
	Dir string
	// Flags are bound on top of everything else. Only flags that were set
	// override lower layers.
	Flags *pflag.FlagSet
}

// Load resolves the configuration.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	file := opts.ConfigFile
	if file == "" && opts.Dir != "" {
		if candidate := filepath.Join(opts.Dir, FileName); fileExists(candidate) {
			file = candidate
		}
	} else if file != "" && !fileExists(file) {
		return nil, errors.New(errors.ErrCodeFileNotFound, "config file not found: %s", file)
	}
	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidFormat, err, "read config %s", file)
		}
	}

	if opts.Flags != nil {
		for key, name := range flagNames {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.Wrap(errors.ErrCodeInternal, err, "bind flag --%s", name)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "decode config")
	}
	cfg.File = file
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "invalid config")
	}
	n, err := ParseParallel(cfg.Parallel)
	if err != nil {
		return nil, err
	}
	cfg.MaxConcurrency = n
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeySources, []string{})
	v.SetDefault(KeyFallbackSources, []string{})
	v.SetDefault(KeyPackagesDir, DefaultPackagesDir())
	v.SetDefault(KeyParallel, strconv.Itoa(DefaultParallel))
	v.SetDefault(KeyNoCache, false)
	v.SetDefault(KeyLockTimeout, DefaultLockTimeout)
	v.SetDefault(KeyHTTPCache, CacheFile)
	v.SetDefault(KeyRedisURL, "")
	v.SetDefault(KeyCacheDir, DefaultCacheDir())
}

// ParseParallel parses a concurrency setting: a non-negative integer or
// "none". Zero and "none" both mean sequential.
func ParseParallel(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultParallel, nil
	}
	if strings.EqualFold(s, "none") {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, errors.New(errors.ErrCodeInvalidInput, "parallel must be a non-negative number or \"none\", got %q", s)
	}
	if n == 0 {
		return 1, nil
	}
	return n, nil
}

// Cache opens the configured HTTP response cache. NoCache and "none" yield
// a null cache.
func (c *Config) Cache(ctx context.Context) (cache.Cache, error) {
	if c.NoCache {
		return cache.NewNullCache(), nil
	}
	switch c.HTTPCache {
	case CacheRedis:
		return cache.NewRedisCache(ctx, c.RedisURL)
	case CacheNone:
		return cache.NewNullCache(), nil
	}
	return cache.NewFileCache(c.CacheDir)
}

// DefaultCacheDir returns $XDG_CACHE_HOME/pkgrestore, else
// ~/.cache/pkgrestore.
func DefaultCacheDir() string {
	if cacheHome := os.Getenv("XDG_CACHE_HOME"); cacheHome != "" {
		return filepath.Join(cacheHome, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppName, "cache")
	}
	return filepath.Join(home, ".cache", AppName)
}

// DefaultPackagesDir returns ~/.pkgrestore/packages.
func DefaultPackagesDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), AppName, "packages")
	}
	return filepath.Join(home, "."+AppName, "packages")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
