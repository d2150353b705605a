package config

import (
	"sort"

	"github.com/san-kum/nbody/internal/body"
)

// Presets are applied on top of DefaultConfig.
var Presets = map[string]func(*Config){
	"two-body": func(c *Config) {
		c.Bodies, c.Steps, c.Dt, c.Theta = 2, 100, 1, 0
		c.MassMax, c.PosMax = 1e10, 10
		c.Layout = body.Pair
	},
	"small": func(c *Config) {
		c.Bodies, c.Steps = 100, 200
	},
	"galaxy": func(c *Config) {
		c.Bodies, c.Steps, c.Dt = 2000, 500, 0.5
		c.MassMax, c.PosMax = 1e6, 1e3
		c.Layout = body.Disk
		c.Threads = 4
	},
	"clusters": func(c *Config) {
		c.Bodies, c.Steps = 500, 500
		c.VelocityMax = 0.1
		c.Layout = body.Clusters
		c.Procs = 2
	},
}

func GetPreset(name string) *Config {
	apply, ok := Presets[name]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	apply(cfg)
	return cfg
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
