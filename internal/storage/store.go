package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/metrics"
	"github.com/san-kum/nbody/internal/sim"
)

const (
	metadataFile = "metadata.json"
	stepsFile    = "steps.csv"
	bodiesFile   = "bodies.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

// PhaseMillis is metrics.Phases in milliseconds.
type PhaseMillis struct {
	Build    float64 `json:"build_ms"`
	Exchange float64 `json:"exchange_ms"`
	Force    float64 `json:"force_ms"`
	Gather   float64 `json:"gather_ms"`
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func duration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}

func toMillis(p metrics.Phases) PhaseMillis {
	return PhaseMillis{
		Build:    millis(p.Build),
		Exchange: millis(p.Exchange),
		Force:    millis(p.Force),
		Gather:   millis(p.Gather),
	}
}

type RunMetadata struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Timestamp    time.Time          `json:"timestamp"`
	Config       *config.Config     `json:"config"`
	Steps        int                `json:"steps"`
	Average      PhaseMillis        `json:"average"`
	RankAverages []PhaseMillis      `json:"rank_averages,omitempty"`
	FinalEnergy  *float64           `json:"final_energy,omitempty"`
	Metrics      map[string]float64 `json:"metrics"`
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Save writes a run directory and returns its id. Non-finite metric values
// are left out of the metadata because JSON cannot carry them.
func (s *Store) Save(name string, cfg *config.Config, result *sim.Result) (string, error) {
	now := time.Now()
	runID := fmt.Sprintf("%s_%d", name, now.UnixNano())
	runDir := filepath.Join(s.baseDir, runID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:        runID,
		Name:      name,
		Timestamp: now,
		Config:    cfg,
		Steps:     result.Steps,
		Average:   toMillis(result.Timings.Average()),
		Metrics:   make(map[string]float64),
	}
	for _, avg := range result.RankAverages {
		meta.RankAverages = append(meta.RankAverages, toMillis(avg))
	}
	for k, v := range result.Metrics {
		if finite(v) {
			meta.Metrics[k] = v
		}
	}
	if _, energy := result.Energies(); len(energy) > 0 && finite(energy[len(energy)-1]) {
		e := energy[len(energy)-1]
		meta.FinalEnergy = &e
	}

	if err := writeJSON(filepath.Join(runDir, metadataFile), meta); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, stepsFile), stepRows(result.Records)); err != nil {
		return "", err
	}
	if err := writeCSV(filepath.Join(runDir, bodiesFile), bodyRows(result.Final)); err != nil {
		return "", err
	}
	return runID, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatMillis(d time.Duration) string {
	return strconv.FormatFloat(millis(d), 'f', 6, 64)
}

func stepRows(records []sim.StepRecord) [][]string {
	rows := [][]string{{"step", "energy", "build_ms", "exchange_ms", "force_ms", "gather_ms"}}
	for _, r := range records {
		energy := ""
		if r.Sampled() {
			energy = formatFloat(r.Energy)
		}
		rows = append(rows, []string{
			strconv.Itoa(r.Step),
			energy,
			formatMillis(r.Phases.Build),
			formatMillis(r.Phases.Exchange),
			formatMillis(r.Phases.Force),
			formatMillis(r.Phases.Gather),
		})
	}
	return rows
}

func bodyRows(bodies []body.Body) [][]string {
	rows := [][]string{{"id", "mass", "x", "y", "vx", "vy"}}
	for _, b := range bodies {
		rows = append(rows, []string{
			strconv.FormatInt(b.ID, 10),
			formatFloat(b.Mass),
			formatFloat(b.Position.X),
			formatFloat(b.Position.Y),
			formatFloat(b.Velocity.X),
			formatFloat(b.Velocity.Y),
		})
	}
	return rows
}

// List returns every readable run, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Timestamp.Before(runs[j].Timestamp)
	})
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func (s *Store) readCSV(runID, name string, fields int) ([][]string, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, name))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = fields

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("storage: %s/%s: %w", runID, name, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[1:], nil
}

// LoadSteps reads steps.csv back. Unsampled energies come back as NaN.
func (s *Store) LoadSteps(runID string) ([]sim.StepRecord, error) {
	rows, err := s.readCSV(runID, stepsFile, 6)
	if err != nil {
		return nil, err
	}

	records := make([]sim.StepRecord, 0, len(rows))
	for i, row := range rows {
		var p parser
		rec := sim.StepRecord{
			Step:   p.integer(row[0]),
			Energy: math.NaN(),
			Phases: metrics.Phases{
				Build:    duration(p.float(row[2])),
				Exchange: duration(p.float(row[3])),
				Force:    duration(p.float(row[4])),
				Gather:   duration(p.float(row[5])),
			},
		}
		if row[1] != "" {
			rec.Energy = p.float(row[1])
		}
		if p.err != nil {
			return nil, fmt.Errorf("storage: %s/%s row %d: %w", runID, stepsFile, i+1, p.err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Store) LoadBodies(runID string) ([]body.Body, error) {
	rows, err := s.readCSV(runID, bodiesFile, 6)
	if err != nil {
		return nil, err
	}

	bodies := make([]body.Body, 0, len(rows))
	for i, row := range rows {
		var p parser
		b := body.Body{
			ID:   int64(p.integer(row[0])),
			Mass: p.float(row[1]),
		}
		b.Position.X = p.float(row[2])
		b.Position.Y = p.float(row[3])
		b.Velocity.X = p.float(row[4])
		b.Velocity.Y = p.float(row[5])
		if p.err != nil {
			return nil, fmt.Errorf("storage: %s/%s row %d: %w", runID, bodiesFile, i+1, p.err)
		}
		bodies = append(bodies, b)
	}
	return bodies, nil
}

// parser keeps the first conversion error of a row.
type parser struct {
	err error
}

func (p *parser) float(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}

func (p *parser) integer(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil && p.err == nil {
		p.err = err
	}
	return v
}
