package automation

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/metrics"
	"github.com/san-kum/nbody/internal/sim"
	"github.com/san-kum/nbody/internal/storage"
	"gopkg.in/yaml.v3"
)

// Scenario is a batch of runs executed in order.
type Scenario struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Runs        []ScenarioRun `yaml:"runs"`
}

// ScenarioRun starts from a preset, or the defaults when Preset is empty,
// and applies Config on top. Config uses the same keys as a config file.
type ScenarioRun struct {
	Preset string    `yaml:"preset"`
	Config yaml.Node `yaml:"config"`
	SaveAs string    `yaml:"save_as"`
}

type Outcome struct {
	Name   string
	RunID  string
	Result *sim.Result
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, err
	}
	if len(scenario.Runs) == 0 {
		return nil, fmt.Errorf("scenario %q has no runs", scenario.Name)
	}
	return &scenario, nil
}

// Resolve builds the configuration for one run.
func (r *ScenarioRun) Resolve() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if r.Preset != "" {
		if cfg = config.GetPreset(r.Preset); cfg == nil {
			return nil, fmt.Errorf("unknown preset %q", r.Preset)
		}
	}
	if !r.Config.IsZero() {
		if err := r.Config.Decode(cfg); err != nil {
			return nil, err
		}
	}
	cfg.Transport.Mode = config.ModeLocal
	return cfg, cfg.Validate()
}

func (r *ScenarioRun) name(scenario string, i int) string {
	if r.SaveAs != "" {
		return r.SaveAs
	}
	if r.Preset != "" {
		return r.Preset
	}
	return fmt.Sprintf("%s-%d", scenario, i+1)
}

// RunScenario executes every run in process. Results are saved when store is
// not nil. The outcomes of completed runs are returned even on error.
func RunScenario(ctx context.Context, scenario *Scenario, store *storage.Store, logger *log.Logger) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(scenario.Runs))

	for i := range scenario.Runs {
		run := &scenario.Runs[i]
		name := run.name(scenario.Name, i)
		if logger != nil {
			logger.Printf("running %d/%d: %s", i+1, len(scenario.Runs), name)
		}

		cfg, err := run.Resolve()
		if err != nil {
			return outcomes, fmt.Errorf("run %d: %w", i+1, err)
		}

		res, err := sim.RunLocal(ctx, cfg, logger, metrics.NewEnergyDrift(), metrics.NewMomentumDrift())
		if err != nil {
			return outcomes, fmt.Errorf("run %d: %w", i+1, err)
		}

		out := Outcome{Name: name, Result: res}
		if store != nil {
			if out.RunID, err = store.Save(name, cfg, res); err != nil {
				return outcomes, fmt.Errorf("run %d save: %w", i+1, err)
			}
		}
		outcomes = append(outcomes, out)
	}

	return outcomes, nil
}
