package automation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/storage"
)

const scenarioYAML = `
name: theta-check
description: two quick runs
runs:
  - preset: small
    config:
      bodies: 30
      steps: 3
      theta: 0
    save_as: exact
  - config:
      bodies: 20
      steps: 2
      procs: 2
      layout: disk
`

func TestParseScenario(t *testing.T) {
	sc, err := ParseScenario([]byte(scenarioYAML))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if sc.Name != "theta-check" || len(sc.Runs) != 2 {
		t.Fatalf("unexpected scenario: %+v", sc)
	}

	cfg, err := sc.Runs[0].Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.Bodies != 30 || cfg.Steps != 3 || cfg.Theta != 0 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Dt != config.DefaultDt {
		t.Errorf("preset fields lost: %+v", cfg)
	}

	cfg, err = sc.Runs[1].Resolve()
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if cfg.Procs != 2 || cfg.Layout != body.Disk {
		t.Errorf("overrides not applied: %+v", cfg)
	}
}

func TestParseScenarioErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no runs", "name: empty\n"},
		{"bad yaml", "runs: [1, 2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseScenario([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestResolveErrors(t *testing.T) {
	sc, err := ParseScenario([]byte("runs:\n  - preset: nope\n  - config:\n      dt: -1\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sc.Runs[0].Resolve(); err == nil {
		t.Error("expected error for unknown preset")
	}
	if _, err := sc.Runs[1].Resolve(); !errors.Is(err, config.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestRunScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte(scenarioYAML), 0644); err != nil {
		t.Fatal(err)
	}
	sc, err := LoadScenario(path)
	if err != nil {
		t.Fatal(err)
	}

	store := storage.New(filepath.Join(dir, "runs"))
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}

	outcomes, err := RunScenario(context.Background(), sc, store, nil)
	if err != nil {
		t.Fatalf("scenario failed: %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].Name != "exact" || outcomes[1].Name != "theta-check-2" {
		t.Errorf("unexpected names: %q, %q", outcomes[0].Name, outcomes[1].Name)
	}
	if outcomes[1].Result.Steps != 2 || len(outcomes[1].Result.Final) != 20 {
		t.Errorf("unexpected result: %+v", outcomes[1].Result)
	}

	runs, err := store.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("expected 2 saved runs, got %d", len(runs))
	}
}
