package core

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the render engine configuration. It is usually read from a TOML
// file; every field has a default in DefaultConfig.
type Config struct {
	Cache    CacheConfig    `toml:"cache"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Renderer RendererConfig `toml:"renderer"`
	Assets   AssetsConfig   `toml:"assets"`
	Log      LogConfig      `toml:"log"`
}

// CacheConfig configures the resource cache.
type CacheConfig struct {
	// CapacityBytes is the device memory budget for realized resources.
	// The budget is advisory: a single resource larger than it is still admitted.
	CapacityBytes uint64 `toml:"capacity_bytes"`
}

// PipelineConfig configures the resource worker pipeline.
type PipelineConfig struct {
	// DecompressWorkers is the size of the decompress worker pool.
	DecompressWorkers int `toml:"decompress_workers"`
	// LoadWorkers is the number of I/O goroutines of the load stage.
	LoadWorkers int `toml:"load_workers"`
}

// RendererConfig configures the device thread and the draw command rings.
type RendererConfig struct {
	// MaxDrawCommands is the capacity of one draw command ring. It should be
	// large enough to hold one frame.
	MaxDrawCommands int `toml:"max_draw_commands"`
	// PollInterval is how long the device thread sleeps while the head draw
	// command waits for resources.
	PollInterval Duration `toml:"poll_interval"`
}

// AssetsConfig configures asset loading and hot reload.
type AssetsConfig struct {
	BasePath  string `toml:"base_path"`
	HotReload bool   `toml:"hot_reload"`
	// LoadRetries is the number of extra attempts for a failed load.
	LoadRetries uint64 `toml:"load_retries"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that reads "250ms"-style strings from TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns a configuration with every field populated.
func DefaultConfig() *Config {
	workers := runtime.NumCPU() - 2
	if workers < 1 {
		workers = 1
	}
	return &Config{
		Cache: CacheConfig{
			CapacityBytes: 256 << 20,
		},
		Pipeline: PipelineConfig{
			DecompressWorkers: workers,
			LoadWorkers:       1,
		},
		Renderer: RendererConfig{
			MaxDrawCommands: 4096,
			PollInterval:    Duration{time.Millisecond},
		},
		Assets: AssetsConfig{
			BasePath:    "assets",
			HotReload:   false,
			LoadRetries: 2,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a TOML configuration file on top of DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := ParseConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes TOML from r on top of DefaultConfig. Unknown keys are an error.
func ParseConfig(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	if err := toml.NewDecoder(r).DisallowUnknownFields().Decode(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	if c.Cache.CapacityBytes == 0 {
		return fmt.Errorf("cache.capacity_bytes must be > 0")
	}
	if c.Pipeline.DecompressWorkers <= 0 {
		return fmt.Errorf("pipeline.decompress_workers must be > 0")
	}
	if c.Pipeline.LoadWorkers <= 0 {
		return fmt.Errorf("pipeline.load_workers must be > 0")
	}
	if c.Renderer.MaxDrawCommands <= 0 {
		return fmt.Errorf("renderer.max_draw_commands must be > 0")
	}
	if c.Renderer.PollInterval.Duration <= 0 {
		return fmt.Errorf("renderer.poll_interval must be > 0")
	}
	return nil
}

// Encode writes the configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(c)
}
