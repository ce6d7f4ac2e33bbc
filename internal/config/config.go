// Package config holds the CLI configuration model.
package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/stardustai/webdav-viewer/storage"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"

	LogFormatText = "text"
	LogFormatJSON = "json"

	// DefaultPreviewMaxSize caps previews when no size is configured.
	DefaultPreviewMaxSize uint64 = 1 << 20

	DefaultCacheMemorySize uint64 = 32 << 20
	DefaultCacheDiskSize   uint64 = 512 << 20
)

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{LogFormatText, LogFormatJSON}
	outputs    = []string{OutputTable, OutputJSON, OutputYAML}
)

type Config struct {
	Log        LogConfig                `mapstructure:"log" yaml:"log" json:"log"`
	Connection storage.ConnectionConfig `mapstructure:"connection" yaml:"connection" json:"connection"`
	Preview    PreviewConfig            `mapstructure:"preview" yaml:"preview" json:"preview"`
	Cache      CacheConfig              `mapstructure:"cache" yaml:"cache" json:"cache"`
	Output     string                   `mapstructure:"output" yaml:"output" json:"output"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

type PreviewConfig struct {
	// MaxSize accepts plain byte counts or sizes such as "64KiB" and "4MB".
	MaxSize uint64 `mapstructure:"max_size" yaml:"max_size" json:"max_size"`
}

// CacheConfig sizes the block cache. Blocks are also persisted under Dir
// when it is set.
type CacheConfig struct {
	Dir        string `mapstructure:"dir" yaml:"dir" json:"dir"`
	MemorySize uint64 `mapstructure:"memory_size" yaml:"memory_size" json:"memory_size"`
	// DiskSize bounds Dir; 0 means unbounded.
	DiskSize uint64 `mapstructure:"disk_size" yaml:"disk_size" json:"disk_size"`
}

// New returns a Config with defaults applied.
func New() *Config {
	return &Config{
		Log:        LogConfig{Level: "info", Format: LogFormatText},
		Connection: storage.ConnectionConfig{Protocol: "local"},
		Preview:    PreviewConfig{MaxSize: DefaultPreviewMaxSize},
		Cache:      CacheConfig{MemorySize: DefaultCacheMemorySize, DiskSize: DefaultCacheDiskSize},
		Output:     OutputTable,
	}
}

// Load decodes v on top of the defaults and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	cfg := New()
	err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			ByteSizeHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(logLevels, c.Log.Level) {
		errs = append(errs, fmt.Errorf("log.level: unknown level %q, want one of %s", c.Log.Level, strings.Join(logLevels, "|")))
	}
	if !slices.Contains(logFormats, c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format: unknown format %q, want one of %s", c.Log.Format, strings.Join(logFormats, "|")))
	}
	if !slices.Contains(outputs, c.Output) {
		errs = append(errs, fmt.Errorf("output: unknown output %q, want one of %s", c.Output, strings.Join(outputs, "|")))
	}
	if c.Connection.Protocol == "" {
		errs = append(errs, errors.New("connection.protocol: required"))
	}
	if c.Preview.MaxSize == 0 {
		errs = append(errs, errors.New("preview.max_size: must be positive"))
	}
	if c.Cache.MemorySize == 0 || c.Cache.MemorySize > math.MaxInt64 {
		errs = append(errs, errors.New("cache.memory_size: must be positive"))
	}
	if c.Cache.DiskSize > math.MaxInt64 {
		errs = append(errs, errors.New("cache.disk_size: too large"))
	}
	return errors.Join(errs...)
}

var byteUnits = []struct {
	suffix string
	mult   uint64
}{
	{"kib", 1 << 10}, {"mib", 1 << 20}, {"gib", 1 << 30}, {"tib", 1 << 40},
	{"kb", 1000}, {"mb", 1000 * 1000}, {"gb", 1000 * 1000 * 1000}, {"tb", 1000 * 1000 * 1000 * 1000},
	{"k", 1 << 10}, {"m", 1 << 20}, {"g", 1 << 30}, {"t", 1 << 40},
	{"b", 1},
}

// ParseByteSize parses "1024", "64KiB", "1.5MB" or "2g". Binary suffixes
// and single letters use powers of 1024; KB, MB, GB and TB use powers of
// 1000.
func ParseByteSize(s string) (uint64, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return 0, errors.New("empty size")
	}
	mult := uint64(1)
	for _, u := range byteUnits {
		if strings.HasSuffix(in, u.suffix) {
			in = strings.TrimSpace(strings.TrimSuffix(in, u.suffix))
			mult = u.mult
			break
		}
	}
	if n, err := strconv.ParseUint(in, 10, 64); err == nil {
		return n * mult, nil
	}
	f, err := strconv.ParseFloat(in, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return uint64(f * float64(mult)), nil
}

// ByteSizeHookFunc decodes strings into unsigned integers with
// ParseByteSize.
func ByteSizeHookFunc() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Uint64 {
			return data, nil
		}
		return ParseByteSize(data.(string))
	}
}
