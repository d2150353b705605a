package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/pipeline"
	"gopkg.in/yaml.v3"
)

const (
	DefaultBodies      = 1000
	DefaultSteps       = 1000
	DefaultDt          = 0.1
	DefaultTheta       = 0.5
	DefaultThreads     = 1
	DefaultProcs       = 1
	DefaultSeed        = 1
	DefaultMassMax     = 1e3
	DefaultPosMax      = 1e2
	DefaultVelocityMax = 1.0
	DefaultAddress     = "127.0.0.1:7946"
	DefaultTimeout     = 30 * time.Second
)

// Transport modes.
const (
	ModeLocal = "local"
	ModeTCP   = "tcp"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	Bodies      int             `yaml:"bodies"`
	Steps       int             `yaml:"steps"`
	Dt          float64         `yaml:"dt"`
	Theta       float64         `yaml:"theta"`
	Threads     int             `yaml:"threads"`
	Procs       int             `yaml:"procs"`
	Seed        uint64          `yaml:"seed"`
	MassMax     float64         `yaml:"mass_max"`
	PosMax      float64         `yaml:"pos_max"`
	VelocityMax float64         `yaml:"velocity_max"`
	Layout      body.Layout     `yaml:"layout"`
	Print       bool            `yaml:"print"`
	EnergyEvery int             `yaml:"energy_every"`
	Transport   TransportConfig `yaml:"transport"`
}

type TransportConfig struct {
	Mode    string        `yaml:"mode"`
	Address string        `yaml:"address"`
	Rank    int           `yaml:"rank"`
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultConfig() *Config {
	return &Config{
		Bodies:      DefaultBodies,
		Steps:       DefaultSteps,
		Dt:          DefaultDt,
		Theta:       DefaultTheta,
		Threads:     DefaultThreads,
		Procs:       DefaultProcs,
		Seed:        DefaultSeed,
		MassMax:     DefaultMassMax,
		PosMax:      DefaultPosMax,
		VelocityMax: DefaultVelocityMax,
		Layout:      body.Uniform,
		Transport: TransportConfig{
			Mode:    ModeLocal,
			Address: DefaultAddress,
			Timeout: DefaultTimeout,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
}

// Validate rejects configurations that must not reach step 0.
func (c *Config) Validate() error {
	switch {
	case c.Bodies < 1:
		return invalid("bodies must be >= 1, got %d", c.Bodies)
	case c.Steps < 0:
		return invalid("steps must be >= 0, got %d", c.Steps)
	case !(c.Dt > 0):
		return invalid("dt must be > 0, got %v", c.Dt)
	case !(c.Theta >= 0):
		return invalid("theta must be >= 0, got %v", c.Theta)
	case c.Threads < 1:
		return invalid("threads must be >= 1, got %d", c.Threads)
	case c.Procs < 1:
		return invalid("procs must be >= 1, got %d", c.Procs)
	case c.MassMax <= 0:
		return invalid("mass_max must be > 0, got %v", c.MassMax)
	case c.PosMax <= 0:
		return invalid("pos_max must be > 0, got %v", c.PosMax)
	case c.VelocityMax < 0:
		return invalid("velocity_max must be >= 0, got %v", c.VelocityMax)
	case c.EnergyEvery < 0:
		return invalid("energy_every must be >= 0, got %d", c.EnergyEvery)
	case !c.Layout.Valid():
		return invalid("unknown layout %q", c.Layout)
	}

	switch c.Transport.Mode {
	case ModeLocal:
	case ModeTCP:
		if c.Transport.Rank < 0 || c.Transport.Rank >= c.Procs {
			return invalid("transport rank %d outside 0..%d", c.Transport.Rank, c.Procs-1)
		}
		if c.Transport.Address == "" {
			return invalid("tcp transport needs an address")
		}
	default:
		return invalid("unknown transport mode %q", c.Transport.Mode)
	}
	return nil
}

func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{Dt: c.Dt, Theta: c.Theta, Threads: c.Threads}
}

func (c *Config) Generator() body.GenConfig {
	return body.GenConfig{
		MassMax:     c.MassMax,
		PosMax:      c.PosMax,
		VelocityMax: c.VelocityMax,
		Layout:      c.Layout,
	}
}
