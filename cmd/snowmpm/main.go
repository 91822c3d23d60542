package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/logging"
	"github.com/san-kum/snowmpm/internal/sim"
	"github.com/san-kum/snowmpm/internal/viz"
	"github.com/spf13/cobra"
)

var (
	dataDir    string
	logLevel   string
	configFile string
	method     string
	renderKind string
	particles  int
	seed       int64
	workers    int
	duration   float64
	record     bool
	oneStep    bool
	steps      int
	outFile    string
	svgFile    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "snowmpm",
		Short: "sparse grid material point snow simulator",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := viz.NewApp(cmd.Context(), launchPreset)
			defer app.Close()
			_, err := tea.NewProgram(app, tea.WithAltScreen()).Run()
			return err
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".snowmpm", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "off", "log level (off, debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [preset]",
		Short: "run the frame loop headless for a fixed wall time",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHeadless,
	}
	addSessionFlags(runCmd)
	runCmd.Flags().Float64Var(&duration, "time", 5.0, "wall time in seconds")
	runCmd.Flags().BoolVar(&record, "record", false, "record frames and metrics under --data")
	runCmd.Flags().StringVar(&svgFile, "svg", "", "write the final frame as svg")

	liveCmd := &cobra.Command{
		Use:   "live [preset]",
		Short: "run with the live terminal view",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addSessionFlags(liveCmd)

	benchCmd := &cobra.Command{
		Use:   "bench [preset]",
		Short: "measure simulation step throughput",
		Args:  cobra.MaximumNArgs(1),
		RunE:  benchSteps,
	}
	addSessionFlags(benchCmd)
	benchCmd.Flags().IntVar(&steps, "steps", 60, "steps per measurement")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list recorded runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list available presets",
		Run: func(cmd *cobra.Command, args []string) {
			for _, p := range config.ListPresets() {
				fmt.Printf("  %s\n", p)
			}
		},
	}

	configCmd := &cobra.Command{
		Use:   "config [preset]",
		Short: "print or save the resolved configuration as yaml",
		Args:  cobra.MaximumNArgs(1),
		RunE:  dumpConfig,
	}
	addSessionFlags(configCmd)
	configCmd.Flags().StringVarP(&outFile, "out", "o", "", "write to file instead of stdout")

	rootCmd.AddCommand(runCmd, liveCmd, benchCmd, runsCmd, plotCmd, presetsCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml), overrides the preset")
	cmd.Flags().StringVar(&method, "method", "", "simulation method (snow, fluid)")
	cmd.Flags().StringVar(&renderKind, "render", "", "render method (points, density)")
	cmd.Flags().IntVar(&particles, "particles", 0, "particle count")
	cmd.Flags().Int64Var(&seed, "seed", 0, "scatter seed")
	cmd.Flags().IntVar(&workers, "workers", 0, "compute workers, 0 for GOMAXPROCS")
	cmd.Flags().BoolVar(&oneStep, "one-step", false, "execute at most one step per frame")
}

// resolveConfig builds the configuration from preset, config file and
// flags, in that order of precedence from lowest to highest.
func resolveConfig(args []string) (string, *config.Config, error) {
	name := "small"
	if len(args) > 0 {
		name = args[0]
	}
	var cfg *config.Config
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return "", nil, err
		}
		name = strings.TrimSuffix(filepath.Base(configFile), filepath.Ext(configFile))
	} else if cfg = config.GetPreset(name); cfg == nil {
		return "", nil, fmt.Errorf("unknown preset: %s (available: %v)", name, config.ListPresets())
	}

	if method != "" {
		cfg.Simulation.Method = method
	}
	if renderKind != "" {
		cfg.Render.Method = renderKind
	}
	if particles > 0 {
		cfg.Simulation.Particles = particles
	}
	if seed != 0 {
		cfg.Simulation.Seed = seed
	}
	if workers > 0 {
		cfg.Device.Workers = workers
	}
	if oneStep {
		cfg.Loop.OneStepPerFrame = true
	}
	return name, cfg, cfg.Validate()
}

func launchPreset(ctx context.Context, preset string, obs sim.Observer) (*sim.Session, error) {
	cfg := config.GetPreset(preset)
	if cfg == nil {
		return nil, fmt.Errorf("unknown preset: %s", preset)
	}
	return sim.New(ctx, cfg, sim.WithObserver(obs))
}

// setupLogging routes the shared logger to stderr at level. "off"
// leaves the packages silent.
func setupLogging(level string) error {
	if level == "off" {
		return nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
	slog.SetDefault(logger)
	logging.SetLogger(logger)
	return nil
}
