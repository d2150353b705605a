package storage

import (
	"encoding/json"
	"io"

	"github.com/san-kum/nbody/internal/body"
)

type ExportStep struct {
	Step   int         `json:"step"`
	Energy *float64    `json:"energy,omitempty"`
	Phases PhaseMillis `json:"phases"`
}

type ExportBody struct {
	ID   int64      `json:"id"`
	Mass float64    `json:"mass"`
	Pos  [2]float64 `json:"pos"`
	Vel  [2]float64 `json:"vel"`
}

type ExportData struct {
	Metadata *RunMetadata `json:"metadata"`
	Steps    []ExportStep `json:"steps"`
	Bodies   []ExportBody `json:"bodies"`
}

func exportBodies(bodies []body.Body) []ExportBody {
	out := make([]ExportBody, len(bodies))
	for i, b := range bodies {
		out[i] = ExportBody{
			ID:   b.ID,
			Mass: b.Mass,
			Pos:  [2]float64{b.Position.X, b.Position.Y},
			Vel:  [2]float64{b.Velocity.X, b.Velocity.Y},
		}
	}
	return out
}

// ExportJSON writes a saved run as one indented JSON document.
func (s *Store) ExportJSON(w io.Writer, runID string) error {
	meta, err := s.Load(runID)
	if err != nil {
		return err
	}
	records, err := s.LoadSteps(runID)
	if err != nil {
		return err
	}
	bodies, err := s.LoadBodies(runID)
	if err != nil {
		return err
	}

	data := ExportData{
		Metadata: meta,
		Steps:    make([]ExportStep, len(records)),
		Bodies:   exportBodies(bodies),
	}
	for i, r := range records {
		data.Steps[i] = ExportStep{Step: r.Step, Phases: toMillis(r.Phases)}
		if r.Sampled() {
			e := r.Energy
			data.Steps[i].Energy = &e
		}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
