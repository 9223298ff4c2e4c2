// Package config reads the settings of the fatfs command from dotenv files and
// the process environment. Environment variables win over file values.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	KeyImage        = "FATFS_IMAGE"
	KeySectors      = "FATFS_SECTORS"
	KeyFormat       = "FATFS_FORMAT"
	KeyCacheSectors = "FATFS_CACHE_SECTORS"
	KeySyncWrites   = "FATFS_SYNC_WRITES"
	KeyLogLevel     = "FATFS_LOG_LEVEL"
)

var keys = []string{KeyImage, KeySectors, KeyFormat, KeyCacheSectors, KeySyncWrites, KeyLogLevel}

// Provider reads key value pairs from files.
type Provider interface {
	Read(filenames ...string) (map[string]string, error)
}

type GodotenvProvider struct{}

func (*GodotenvProvider) Read(filenames ...string) (map[string]string, error) {
	data, err := godotenv.Read(filenames...)
	if err != nil {
		return nil, fmt.Errorf("(config-godotenv) %w", err)
	}

	return data, nil
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type Config struct {
	// Image is the path of the disk image.
	Image string

	// Sectors is the size of a newly created image.
	Sectors uint32

	// Format formats the image when it is mounted.
	Format bool

	// CacheSectors is the capacity of the sector cache, 0 disables it.
	CacheSectors int

	// SyncWrites flushes the image after every sector write.
	SyncWrites bool

	LogLevel slog.Level
}

func Default() Config {
	return Config{
		Image:        "fatfs.img",
		Sectors:      8192,
		CacheSectors: 64,
		LogLevel:     slog.LevelInfo,
	}
}

// Load starts with Default, applies the values of filenames and then the
// environment values found by lookup. Without filenames no file is read.
func Load(provider Provider, lookup LookupFunc, filenames ...string) (Config, error) {
	values := make(map[string]string)

	if len(filenames) > 0 {
		data, err := provider.Read(filenames...)
		if err != nil {
			return Config{}, err
		}
		for k, v := range data {
			values[k] = v
		}
	}

	if lookup != nil {
		for _, key := range keys {
			if v, ok := lookup(key); ok {
				values[key] = v
			}
		}
	}

	return parse(values)
}

func parse(values map[string]string) (Config, error) {
	cfg := Default()

	if v, ok := values[KeyImage]; ok && v != "" {
		cfg.Image = v
	}

	if v, ok := values[KeySectors]; ok {
		sectors, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("(config) %s: %w", KeySectors, err)
		}
		cfg.Sectors = uint32(sectors)
	}

	if v, ok := values[KeyFormat]; ok {
		format, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("(config) %s: %w", KeyFormat, err)
		}
		cfg.Format = format
	}

	if v, ok := values[KeyCacheSectors]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("(config) %s: %w", KeyCacheSectors, err)
		}
		if n < 0 {
			return Config{}, fmt.Errorf("(config) %s: negative cache size %d", KeyCacheSectors, n)
		}
		cfg.CacheSectors = n
	}

	if v, ok := values[KeySyncWrites]; ok {
		sync, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("(config) %s: %w", KeySyncWrites, err)
		}
		cfg.SyncWrites = sync
	}

	if v, ok := values[KeyLogLevel]; ok {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
			return Config{}, fmt.Errorf("(config) %s: %w", KeyLogLevel, err)
		}
	}

	return cfg, nil
}
