package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/nbody/internal/automation"
	"github.com/san-kum/nbody/internal/body"
	"github.com/san-kum/nbody/internal/comm"
	"github.com/san-kum/nbody/internal/config"
	"github.com/san-kum/nbody/internal/export"
	"github.com/san-kum/nbody/internal/metrics"
	"github.com/san-kum/nbody/internal/optim"
	"github.com/san-kum/nbody/internal/sim"
	"github.com/san-kum/nbody/internal/storage"
	"github.com/san-kum/nbody/internal/tui"
	"github.com/san-kum/nbody/internal/viz"
)

var (
	dataDir string
	// Simulation parameters, named after their short flags.
	numBodies   int
	numSteps    int
	stepTime    float64
	theta       float64
	threads     int
	massMax     float64
	posMax      float64
	velocityMax float64
	printSteps  bool
	procs       int
	seed        uint64
	layout      string
	energyEvery int
	// Config file
	configFile string
	// Preset name
	preset string
	// run
	watch     bool
	frameRate int
	noSave    bool
	// worker
	rank    int
	addr    string
	timeout time.Duration
	// accuracy and tune
	thetas     string
	threadList string
	maxRMS     float64
	// export
	outFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "nbody",
		Short:        "distributed barnes-hut n-body simulator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := tea.NewProgram(viz.NewApp(cmd.Context()), tea.WithAltScreen()).Run()
			return err
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".nbody", "data directory")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation with all ranks in this process",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	addSimFlags(runCmd)
	runCmd.Flags().BoolVar(&watch, "watch", false, "draw the population while running")
	runCmd.Flags().IntVar(&frameRate, "fps", 10, "frame rate for --watch")
	runCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	workerCmd := &cobra.Command{
		Use:   "worker",
		Short: "run one rank of a tcp group",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
	addSimFlags(workerCmd)
	workerCmd.Flags().IntVar(&rank, "rank", 0, "rank of this process; rank 0 listens")
	workerCmd.Flags().StringVar(&addr, "addr", config.DefaultAddress, "address rank 0 listens on")
	workerCmd.Flags().DurationVar(&timeout, "timeout", config.DefaultTimeout, "bootstrap timeout")
	workerCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run on rank 0")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot energy and phase timings of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run as json",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list presets",
		RunE:  listPresets,
	}

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "run a simulation with live visualization",
		Args:  cobra.NoArgs,
		RunE:  runLive,
	}
	addSimFlags(liveCmd)

	accuracyCmd := &cobra.Command{
		Use:   "accuracy",
		Short: "compare tree forces against a reference for several theta",
		Args:  cobra.NoArgs,
		RunE:  runAccuracy,
	}
	addSimFlags(accuracyCmd)
	accuracyCmd.Flags().StringVar(&thetas, "thetas", "0,0.25,0.5,0.75,1,1.5", "comma separated theta values")

	tuneCmd := &cobra.Command{
		Use:   "tune",
		Short: "find the fastest theta and thread count within an error budget",
		Args:  cobra.NoArgs,
		RunE:  runTune,
	}
	addSimFlags(tuneCmd)
	tuneCmd.Flags().StringVar(&thetas, "thetas", "0.25,0.5,0.75,1", "comma separated theta values")
	tuneCmd.Flags().StringVar(&threadList, "threads-list", "1,2,4", "comma separated thread counts")
	tuneCmd.Flags().Float64Var(&maxRMS, "max-rms", 1e-2, "largest acceptable relative rms force error")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run every simulation listed in a yaml scenario",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}
	scenarioCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")

	svgCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "draw the final bodies of a run as svg",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	svgCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	rootCmd.AddCommand(runCmd, workerCmd, listCmd, plotCmd, exportCmd, svgCmd, presetsCmd, liveCmd, accuracyCmd, tuneCmd, scenarioCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func addSimFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVarP(&numBodies, "bodies", "n", config.DefaultBodies, "number of bodies")
	f.IntVarP(&numSteps, "steps", "s", config.DefaultSteps, "number of steps")
	f.Float64VarP(&stepTime, "dt", "l", config.DefaultDt, "step time")
	f.Float64VarP(&theta, "theta", "T", config.DefaultTheta, "opening angle, 0 is exact")
	f.IntVarP(&threads, "threads", "t", config.DefaultThreads, "threads per rank")
	f.Float64VarP(&massMax, "mass-max", "M", config.DefaultMassMax, "maximum generated mass")
	f.Float64VarP(&posMax, "pos-max", "P", config.DefaultPosMax, "maximum generated coordinate")
	f.Float64VarP(&velocityMax, "velocity-max", "S", config.DefaultVelocityMax, "maximum generated speed")
	f.BoolVarP(&printSteps, "print", "p", false, "log every step")
	f.IntVar(&procs, "procs", config.DefaultProcs, "number of ranks")
	f.Uint64Var(&seed, "seed", config.DefaultSeed, "generator seed")
	f.StringVar(&layout, "layout", string(body.Uniform), "initial layout: uniform, disk, clusters, pair")
	f.IntVar(&energyEvery, "energy-every", 10, "sample total energy every N steps, 0 disables")
	f.StringVar(&configFile, "config", "", "config file path (yaml)")
	f.StringVar(&preset, "preset", "", "use preset configuration")
}

// buildConfig layers defaults, preset, config file and explicitly set flags,
// in that order.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.EnergyEvery = energyEvery

	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		cfg.EnergyEvery = energyEvery
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	f := cmd.Flags()
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("bodies", func() { cfg.Bodies = numBodies })
	set("steps", func() { cfg.Steps = numSteps })
	set("dt", func() { cfg.Dt = stepTime })
	set("theta", func() { cfg.Theta = theta })
	set("threads", func() { cfg.Threads = threads })
	set("mass-max", func() { cfg.MassMax = massMax })
	set("pos-max", func() { cfg.PosMax = posMax })
	set("velocity-max", func() { cfg.VelocityMax = velocityMax })
	set("print", func() { cfg.Print = printSteps })
	set("procs", func() { cfg.Procs = procs })
	set("seed", func() { cfg.Seed = seed })
	set("layout", func() { cfg.Layout = body.Layout(layout) })
	set("energy-every", func() { cfg.EnergyEvery = energyEvery })

	if f.Lookup("rank") != nil {
		cfg.Transport.Mode = config.ModeTCP
		set("rank", func() { cfg.Transport.Rank = rank })
		set("addr", func() { cfg.Transport.Address = addr })
		set("timeout", func() { cfg.Transport.Timeout = timeout })
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runName(cfg *config.Config) string {
	if preset != "" {
		return preset
	}
	return fmt.Sprintf("n%d_p%d", cfg.Bodies, cfg.Procs)
}

func newLogger() *log.Logger {
	return log.New(os.Stderr, "", log.LstdFlags)
}

func defaultMetrics(cfg *config.Config) []metrics.Metric {
	return []metrics.Metric{
		metrics.NewEnergyDrift(),
		metrics.NewMomentumDrift(),
		metrics.NewStability(1e3 * cfg.PosMax),
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Transport.Mode == config.ModeTCP {
		return errors.New("config selects the tcp transport; start one `nbody worker` per rank instead")
	}

	run := sim.NewLocalRun(cfg, newLogger())
	defer run.Close()
	for _, m := range defaultMetrics(cfg) {
		run.AddMetric(m)
	}
	if watch {
		r := tui.NewLiveRenderer(os.Stdout, runName(cfg), cfg.Steps, frameRate)
		r.Start()
		defer r.Stop()
		run.AddObserver(r)
	}

	fmt.Printf("running %d bodies for %d steps on %d ranks x %d threads...\n",
		cfg.Bodies, cfg.Steps, cfg.Procs, cfg.Threads)
	start := time.Now()

	result, err := run.Run(cmd.Context())
	if err != nil {
		return err
	}

	elapsed := time.Since(start)
	fmt.Printf("completed in %v\n", elapsed)
	printResult(result)

	return save(cfg, result)
}

func save(cfg *config.Config, result *sim.Result) error {
	if noSave {
		return nil
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(runName(cfg), cfg, result)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func printResult(result *sim.Result) {
	fmt.Printf("steps: %d\n", result.Steps)
	if _, energy := result.Energies(); len(energy) > 0 {
		fmt.Printf("final energy: %.6e\n", energy[len(energy)-1])
	}

	fmt.Println("\nmetrics:")
	for name, val := range result.Metrics {
		fmt.Printf("  %s: %.6g\n", name, val)
	}

	fmt.Println("\naverage step:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  RANK\tBUILD\tEXCHANGE\tFORCE\tGATHER\tTOTAL")
	averages := result.RankAverages
	if len(averages) == 0 {
		averages = []metrics.Phases{result.Timings.Average()}
	}
	for i, p := range averages {
		fmt.Fprintf(w, "  %d\t%v\t%v\t%v\t%v\t%v\n", i,
			p.Build.Round(time.Microsecond), p.Exchange.Round(time.Microsecond),
			p.Force.Round(time.Microsecond), p.Gather.Round(time.Microsecond),
			p.Total().Round(time.Microsecond))
	}
	w.Flush()
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger()
	logger.SetPrefix(fmt.Sprintf("rank %d: ", cfg.Transport.Rank))

	ctx := cmd.Context()
	bootCtx, cancel := context.WithTimeout(ctx, cfg.Transport.Timeout)
	defer cancel()

	var group *comm.TCP
	if cfg.Transport.Rank == 0 {
		logger.Printf("waiting for %d ranks on %s", cfg.Procs-1, cfg.Transport.Address)
		group, err = comm.Listen(bootCtx, cfg.Transport.Address, cfg.Procs, logger)
	} else {
		group, err = comm.Dial(bootCtx, cfg.Transport.Address, cfg.Transport.Rank, cfg.Procs, logger)
	}
	if err != nil {
		return err
	}
	defer group.Close()

	s := sim.New(group, cfg, logger)
	if group.Rank() == 0 {
		for _, m := range defaultMetrics(cfg) {
			s.AddMetric(m)
		}
	}

	start := time.Now()
	result, err := s.Run(ctx)
	if err != nil {
		return err
	}
	logger.Printf("completed %d steps in %v", result.Steps, time.Since(start))

	if group.Rank() != 0 {
		return nil
	}
	printResult(result)
	return save(cfg, result)
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tBODIES\tSTEPS\tPROCS\tTHETA\tSTEP MS")

	for _, run := range runs {
		bodies, procs, theta := 0, 0, 0.0
		if run.Config != nil {
			bodies, procs, theta = run.Config.Bodies, run.Config.Procs, run.Config.Theta
		}
		avg := run.Average
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.2f\t%.3f\n",
			run.ID,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			bodies,
			run.Steps,
			procs,
			theta,
			avg.Build+avg.Exchange+avg.Force+avg.Gather,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	records, err := st.LoadSteps(runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("steps: %d\n\n", meta.Steps)

	var energy []float64
	phases := map[string][]float64{}
	names := []string{"build", "exchange", "force", "gather"}
	for _, r := range records {
		if r.Sampled() {
			energy = append(energy, r.Energy)
		}
		if r.Step == 0 {
			continue
		}
		for i, d := range []time.Duration{r.Phases.Build, r.Phases.Exchange, r.Phases.Force, r.Phases.Gather} {
			phases[names[i]] = append(phases[names[i]], float64(d)/float64(time.Millisecond))
		}
	}

	if len(energy) > 1 {
		fmt.Println(asciigraph.Plot(energy,
			asciigraph.Height(10),
			asciigraph.Width(70),
			asciigraph.Caption("total energy"),
		))
		fmt.Println()
	}
	for _, name := range names {
		data := phases[name]
		if len(data) < 2 {
			continue
		}
		fmt.Println(asciigraph.Plot(data,
			asciigraph.Height(6),
			asciigraph.Width(70),
			asciigraph.Caption(name+" ms"),
		))
		fmt.Println()
	}

	return nil
}

// writeOut sends write to stdout, or to outFile when it is set.
func writeOut(write func(io.Writer) error) error {
	if outFile == "" {
		return write(os.Stdout)
	}

	f, err := os.Create(outFile)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	return writeOut(func(w io.Writer) error { return st.ExportJSON(w, args[0]) })
}

func exportSVG(cmd *cobra.Command, args []string) error {
	bodies, err := storage.New(dataDir).LoadBodies(args[0])
	if err != nil {
		return err
	}
	return writeOut(func(w io.Writer) error { return export.WriteSVG(w, bodies, export.SVGOptions{}) })
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBODIES\tSTEPS\tDT\tTHETA\tPROCS\tTHREADS\tLAYOUT")
	for _, name := range config.ListPresets() {
		c := config.GetPreset(name)
		fmt.Fprintf(w, "%s\t%d\t%d\t%g\t%g\t%d\t%d\t%s\n",
			name, c.Bodies, c.Steps, c.Dt, c.Theta, c.Procs, c.Threads, c.Layout)
	}
	return w.Flush()
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	m, err := viz.NewModel(cmd.Context(), runName(cfg), cfg)
	if err != nil {
		return err
	}

	final, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return err
	}
	if fm, ok := final.(viz.Model); ok && fm.Err() != nil {
		return fm.Err()
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, field := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			return nil, fmt.Errorf("bad count %q: %w", field, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseThetas(s string) ([]float64, error) {
	var out []float64
	for _, field := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("bad theta %q: %w", field, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func runAccuracy(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	values, err := parseThetas(thetas)
	if err != nil {
		return err
	}

	bodies := body.Generate(cfg.Bodies, cfg.Generator(), cfg.Seed)
	fmt.Printf("force error of %d bodies against the direct sum\n\n", len(bodies))

	results, err := metrics.Sweep(bodies, values)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "THETA\tRMS\tMAX")
	for _, r := range results {
		fmt.Fprintf(w, "%.2f\t%.3e\t%.3e\n", r.Theta, r.RMS, r.Max)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if len(results) > 1 && !math.IsNaN(results[len(results)-1].RMS) {
		rms := make([]float64, len(results))
		for i, r := range results {
			rms[i] = r.RMS
		}
		fmt.Println()
		fmt.Println(asciigraph.Plot(rms, asciigraph.Height(8), asciigraph.Caption("rms error by theta")))
	}
	return nil
}

func runTune(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("steps") {
		cfg.Steps = 10
	}

	g := &optim.GridSearch{MaxRMS: maxRMS}
	if g.Thetas, err = parseThetas(thetas); err != nil {
		return err
	}
	if g.Threads, err = parseInts(threadList); err != nil {
		return err
	}

	fmt.Printf("tuning %d bodies over %d steps per trial\n\n", cfg.Bodies, cfg.Steps)
	trials, best, err := g.Search(cmd.Context(), cfg)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "THETA\tTHREADS\tPROCS\tSTEP\tRMS")
	for _, t := range trials {
		fmt.Fprintf(w, "%.2f\t%d\t%d\t%v\t%.3e\n", t.Theta, t.Threads, t.Procs, t.StepAvg.Round(time.Microsecond), t.RMS)
	}
	w.Flush()

	if err != nil {
		return err
	}
	fmt.Printf("\nbest: theta=%g threads=%d (%v per step)\n", best.Theta, best.Threads, best.StepAvg.Round(time.Microsecond))
	return nil
}

func runScenario(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}

	var st *storage.Store
	if !noSave {
		st = storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
	}

	outcomes, err := automation.RunScenario(cmd.Context(), sc, st, newLogger())
	for _, o := range outcomes {
		fmt.Printf("%s: %d steps, energy drift %.3e", o.Name, o.Result.Steps, o.Result.Metrics["energy_drift"])
		if o.RunID != "" {
			fmt.Printf(", run id %s", o.RunID)
		}
		fmt.Println()
	}
	return err
}
