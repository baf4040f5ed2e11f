package cosim

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Reporter performs optional end-of-run reporting. Its failures are
// reporting faults: logged, never fatal.
type Reporter interface {
	Report(ctx context.Context, result *RunResult, series *TimeSeries) error
}

// FileReporter writes the observed time series as CSV and a run summary as
// YAML into Dir.
type FileReporter struct {
	Dir  string
	Role Role
}

type runSummaryFile struct {
	RunID       string    `yaml:"run_id"`
	Role        Role      `yaml:"role"`
	Requested   float64   `yaml:"requested_length"`
	Achieved    float64   `yaml:"achieved_length"`
	Steps       int64     `yaml:"steps"`
	Cycles      int       `yaml:"cycles"`
	Flushed     bool      `yaml:"flushed"`
	Nodes       []int     `yaml:"nodes,omitempty"`
	Samples     int       `yaml:"samples"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

// Report implements Reporter.
func (r FileReporter) Report(_ context.Context, result *RunResult, series *TimeSeries) error {
	if result == nil {
		return fmt.Errorf("%w: no run result", ErrReporting)
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrReporting, err)
	}

	summary := runSummaryFile{
		RunID:       result.RunID,
		Role:        r.Role,
		Requested:   result.Requested,
		Achieved:    result.Length,
		Steps:       result.Steps,
		Cycles:      result.Cycles,
		Flushed:     result.Flushed,
		GeneratedAt: time.Now().UTC(),
	}
	if series != nil {
		summary.Nodes = series.Nodes()
		summary.Samples = series.Len()
		if err := r.writeSeries(series); err != nil {
			return fmt.Errorf("%w: %w", ErrReporting, err)
		}
	}

	raw, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrReporting, err)
	}
	if err := os.WriteFile(r.path("summary.yaml"), raw, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrReporting, err)
	}
	return nil
}

func (r FileReporter) path(name string) string {
	prefix := string(r.Role)
	if prefix == "" {
		prefix = "run"
	}
	return filepath.Join(r.Dir, prefix+"_"+name)
}

func (r FileReporter) writeSeries(series *TimeSeries) (err error) {
	f, err := os.Create(r.path("timeseries.csv"))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	w := csv.NewWriter(f)
	nodes := series.Nodes()
	header := []string{"time"}
	for _, n := range nodes {
		header = append(header, "node_"+strconv.Itoa(n))
	}
	if err := w.Write(header); err != nil {
		return err
	}

	if series.Representation() == RepresentationSpikes {
		for _, n := range nodes {
			for _, t := range series.Spikes(n) {
				row := make([]string, len(header))
				row[0] = strconv.FormatFloat(t, 'g', -1, 64)
				for i, m := range nodes {
					if m == n {
						row[i+1] = "1"
					}
				}
				if err := w.Write(row); err != nil {
					return err
				}
			}
		}
	} else {
		columns := make([][]float64, len(nodes))
		for i, n := range nodes {
			columns[i] = series.Values(n)
		}
		for s, t := range series.Times() {
			row := []string{strconv.FormatFloat(t, 'g', -1, 64)}
			for _, col := range columns {
				row = append(row, strconv.FormatFloat(col[s], 'g', -1, 64))
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	return w.Error()
}
