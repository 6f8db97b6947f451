// Package config loads the engine settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

const DefaultPath = "lumen.toml"

type Application struct {
	Name    string `toml:"name"`
	Width   uint32 `toml:"width"`
	Height  uint32 `toml:"height"`
	Backend string `toml:"backend"`
}

type Log struct {
	Level string `toml:"level"`
}

type RayTracing struct {
	ObjectCapacity   int `toml:"object_capacity"`
	MaterialCapacity int `toml:"material_capacity"`
	TextureCapacity  int `toml:"texture_capacity"`
	InstanceCapacity int `toml:"instance_capacity"`
	BuildWorkers     int `toml:"build_workers"`
}

type Frame struct {
	// MaxFrames stops the loop after that many frames. Zero runs until quit.
	MaxFrames uint64 `toml:"max_frames"`
}

type Config struct {
	Application Application `toml:"application"`
	Log         Log         `toml:"log"`
	RayTracing  RayTracing  `toml:"raytracing"`
	Frame       Frame       `toml:"frame"`
}

func Default() *Config {
	return &Config{
		Application: Application{
			Name:    "Lumen",
			Width:   1280,
			Height:  720,
			Backend: "software",
		},
		Log: Log{Level: "info"},
		RayTracing: RayTracing{
			ObjectCapacity:   256,
			MaterialCapacity: 64,
			TextureCapacity:  64,
			InstanceCapacity: 64,
			BuildWorkers:     2,
		},
	}
}

// Load decodes the file at path over the defaults. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := Parse(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes data over cfg and validates the result.
func Parse(data []byte, cfg *Config) error {
	if err := toml.Unmarshal(data, cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return fmt.Errorf("line %d column %d: %w", row, col, err)
		}
		return err
	}
	return cfg.Validate()
}

func (c *Config) Validate() error {
	if c.Application.Width == 0 || c.Application.Height == 0 {
		return fmt.Errorf("window size %dx%d must not be empty", c.Application.Width, c.Application.Height)
	}
	switch c.Application.Backend {
	case "software", "vulkan":
	default:
		return fmt.Errorf("unknown backend %q", c.Application.Backend)
	}
	if c.RayTracing.BuildWorkers < 1 {
		return fmt.Errorf("build_workers must be at least 1, got %d", c.RayTracing.BuildWorkers)
	}
	if c.RayTracing.ObjectCapacity < 0 || c.RayTracing.InstanceCapacity < 0 ||
		c.RayTracing.MaterialCapacity < 0 || c.RayTracing.TextureCapacity < 0 {
		return errors.New("raytracing capacities must not be negative")
	}
	return nil
}

// Encode renders the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}
