package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/san-kum/snowmpm/internal/config"
	"github.com/san-kum/snowmpm/internal/perf"
)

// Store keeps one directory per recorded run under baseDir.
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID            string             `json:"id"`
	Preset        string             `json:"preset"`
	Method        string             `json:"method"`
	Particles     int                `json:"particles"`
	Resolution    [3]int             `json:"resolution"`
	Seed          int64              `json:"seed"`
	Timestep      float64            `json:"timestep"`
	Started       time.Time          `json:"started"`
	Finished      time.Time          `json:"finished"`
	Frames        uint64             `json:"frames"`
	SimulatedTime float64            `json:"simulated_time"`
	Metrics       map[string]float64 `json:"metrics"`
}

// FrameRecord is one row of frames.csv.
type FrameRecord struct {
	Frame         uint64  `csv:"frame"`
	SimTime       float64 `csv:"sim_time"`
	WallUS        int64   `csv:"wall_us"`
	StepsExecuted int     `csv:"steps_executed"`
	StepsOwed     int     `csv:"steps_owed"`
	StepsDropped  int     `csv:"steps_dropped"`
	Blocks        uint32  `csv:"blocks"`
	BlocksDropped uint32  `csv:"blocks_dropped"`
	Overflows     uint32  `csv:"fixed_point_overflows"`
}

// Run is an open recording. Writes are serialized, so frames may be
// recorded from the loop goroutine while perf rows come from elsewhere.
type Run struct {
	mu   sync.Mutex
	dir  string
	meta RunMetadata

	frames, perf                 *os.File
	framesHeader, perfHeader bool
}

// Create opens a new run directory and writes the configuration it uses.
func (s *Store) Create(preset string, cfg *config.Config) (*Run, error) {
	if err := s.Init(); err != nil {
		return nil, err
	}
	now := time.Now()
	id := fmt.Sprintf("%s_%s_%d", preset, cfg.Simulation.Method, now.UnixNano())
	dir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	if err := config.Save(filepath.Join(dir, "config.yaml"), cfg); err != nil {
		return nil, fmt.Errorf("writing config: %w", err)
	}

	r := &Run{
		dir: dir,
		meta: RunMetadata{
			ID:         id,
			Preset:     preset,
			Method:     cfg.Simulation.Method,
			Particles:  cfg.Simulation.Particles,
			Resolution: cfg.Grid.Resolution,
			Seed:       cfg.Simulation.Seed,
			Timestep:   cfg.Timestep(),
			Started:    now,
		},
	}
	var err error
	if r.frames, err = os.Create(filepath.Join(dir, "frames.csv")); err != nil {
		return nil, fmt.Errorf("creating frames.csv: %w", err)
	}
	if r.perf, err = os.Create(filepath.Join(dir, "perf.csv")); err != nil {
		r.frames.Close()
		return nil, fmt.Errorf("creating perf.csv: %w", err)
	}
	return r, nil
}

func (r *Run) ID() string  { return r.meta.ID }
func (r *Run) Dir() string { return r.dir }

// WriteFrame appends one row to frames.csv.
func (r *Run) WriteFrame(rec FrameRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := []FrameRecord{rec}
	if !r.framesHeader {
		if err := gocsv.Marshal(records, r.frames); err != nil {
			return fmt.Errorf("writing frame: %w", err)
		}
		r.framesHeader = true
	} else if err := gocsv.MarshalWithoutHeaders(records, r.frames); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	r.meta.Frames = rec.Frame + 1
	r.meta.SimulatedTime = rec.SimTime
	return nil
}

// WritePerf appends one windowed perf summary to perf.csv.
func (r *Run) WritePerf(stats perf.Stats) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	records := []perf.StatsCSV{stats.ToCSV()}
	if !r.perfHeader {
		if err := gocsv.Marshal(records, r.perf); err != nil {
			return fmt.Errorf("writing perf: %w", err)
		}
		r.perfHeader = true
	} else if err := gocsv.MarshalWithoutHeaders(records, r.perf); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// Close writes metadata.json with the final metrics and closes the CSVs.
func (r *Run) Close(metrics map[string]float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.meta.Finished = time.Now()
	r.meta.Metrics = metrics

	metaFile, err := os.Create(filepath.Join(r.dir, "metadata.json"))
	if err != nil {
		return err
	}
	defer metaFile.Close()

	enc := json.NewEncoder(metaFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.meta); err != nil {
		return err
	}
	if err := r.frames.Close(); err != nil {
		return err
	}
	return r.perf.Close()
}

// List returns finished runs, oldest first. Directories without metadata
// are runs that never closed and are skipped.
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
	sort.Slice(runs, func(i, j int) bool { return runs[i].Started.Before(runs[j].Started) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, "metadata.json"))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// LoadFrames reads frames.csv back.
func (s *Store) LoadFrames(runID string) ([]FrameRecord, error) {
	f, err := os.Open(filepath.Join(s.baseDir, runID, "frames.csv"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var frames []FrameRecord
	if err := gocsv.UnmarshalFile(f, &frames); err != nil {
		return nil, err
	}
	return frames, nil
}

// LoadConfig reads the configuration a run was recorded with.
func (s *Store) LoadConfig(runID string) (*config.Config, error) {
	return config.Load(filepath.Join(s.baseDir, runID, "config.yaml"))
}
