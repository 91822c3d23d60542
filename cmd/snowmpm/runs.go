package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

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
	fmt.Fprintln(w, "ID\tPRESET\tMETHOD\tSTARTED\tPARTICLES\tFRAMES\tSIM TIME\tSTABILITY")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%.2fs\t%.2f\n",
			run.ID,
			run.Preset,
			run.Method,
			run.Started.Format("2006-01-02 15:04:05"),
			run.Particles,
			run.Frames,
			run.SimulatedTime,
			run.Metrics["stability"],
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

	frames, err := st.LoadFrames(runID)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("method: %s, particles: %d\n", meta.Method, meta.Particles)
	fmt.Printf("frames: %d\n\n", len(frames))

	series := []struct {
		caption string
		value   func(storage.FrameRecord) float64
	}{
		{"frame wall time (ms)", func(f storage.FrameRecord) float64 { return float64(f.WallUS) / 1000 }},
		{"steps executed", func(f storage.FrameRecord) float64 { return float64(f.StepsExecuted) }},
		{"steps dropped", func(f storage.FrameRecord) float64 { return float64(f.StepsDropped) }},
		{"allocated blocks", func(f storage.FrameRecord) float64 { return float64(f.Blocks) }},
	}
	for _, s := range series {
		data := make([]float64, len(frames))
		for i, f := range frames {
			data[i] = s.value(f)
		}
		graph := asciigraph.Plot(data,
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(s.caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	for name, v := range meta.Metrics {
		fmt.Printf("  %-14s %.6g\n", name, v)
	}
	return nil
}

func dumpConfig(cmd *cobra.Command, args []string) error {
	_, cfg, err := resolveConfig(args)
	if err != nil {
		return err
	}
	if outFile != "" {
		if err := config.Save(outFile, cfg); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", outFile)
		return nil
	}
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}
