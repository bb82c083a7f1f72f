// Package persistence provides sinks for a coupling scheme's iteration
// and convergence bookkeeping: the flat-file TXT table writer the
// original always produces, plus an optional sqlite mirror for
// querying a run's history after the fact.
package persistence

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/cynidn2x/precice/pkg/cplscheme"
	"github.com/cynidn2x/precice/pkg/errors"
)

// TXTTableWriter is a cplscheme.IterationLogger that writes the two
// tab-separated tables described for a primary-rank, implicit-mode
// participant: an iterations table and a convergence table. Column sets
// are fixed on the first row written (acceleration/residual columns
// appear only if that first row carries them); later rows are padded
// with empty fields for columns they don't supply rather than
// reshaping the header.
type TXTTableWriter struct {
	participant string
	runID       string

	mu                sync.Mutex
	iterationsFile    io.WriteCloser
	convergenceFile   io.WriteCloser
	iterationsHeader  []string
	convergenceHeader []string
}

// NewTXTTableWriter creates the writer for participant, rooted at dir
// (an empty dir means the current working directory). Files are named
// precice-<participant>-iterations.log and
// precice-<participant>-convergence.log, matching the original's naming.
func NewTXTTableWriter(dir, participant string) (*TXTTableWriter, error) {
	iterPath := joinPath(dir, fmt.Sprintf("precice-%s-iterations.log", participant))
	convPath := joinPath(dir, fmt.Sprintf("precice-%s-convergence.log", participant))

	iterFile, err := os.Create(iterPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrUsage, "failed to create iterations log")
	}
	convFile, err := os.Create(convPath)
	if err != nil {
		iterFile.Close()
		return nil, errors.Wrap(err, errors.ErrUsage, "failed to create convergence log")
	}

	return &TXTTableWriter{
		participant:     participant,
		runID:           uuid.NewString(),
		iterationsFile:  iterFile,
		convergenceFile: convFile,
	}, nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return strings.TrimRight(dir, "/") + "/" + name
}

// RunID identifies this writer's run, so separate invocations of the
// same participant can be told apart in a shared log directory.
func (w *TXTTableWriter) RunID() string { return w.runID }

// LogIteration appends one row to the iterations table, writing the
// header first if this is the first row.
func (w *TXTTableWriter) LogIteration(row cplscheme.IterationRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.iterationsHeader == nil {
		header := []string{"TimeWindow", "TotalIterations", "Iterations", "Convergence"}
		if row.HasAcceleration {
			header = append(header, "QNColumns", "DeletedQNColumns", "DroppedQNColumns")
		}
		w.iterationsHeader = header
		if _, err := fmt.Fprintln(w.iterationsFile, strings.Join(header, "\t")); err != nil {
			return errors.Wrap(err, errors.ErrUsage, "failed to write iterations header")
		}
	}

	convergence := 0
	if row.Converged {
		convergence = 1
	}
	fields := []string{
		fmt.Sprintf("%d", row.TimeWindow),
		fmt.Sprintf("%d", row.TotalIterations),
		fmt.Sprintf("%d", row.Iterations),
		fmt.Sprintf("%d", convergence),
	}
	if len(w.iterationsHeader) > 4 && row.HasAcceleration {
		fields = append(fields,
			fmt.Sprintf("%d", row.Diagnostics.QNColumns),
			fmt.Sprintf("%d", row.Diagnostics.DeletedQNColumns),
			fmt.Sprintf("%d", row.Diagnostics.DroppedQNColumns),
		)
	} else if len(w.iterationsHeader) > 4 {
		fields = append(fields, "", "", "")
	}
	if _, err := fmt.Fprintln(w.iterationsFile, strings.Join(fields, "\t")); err != nil {
		return errors.Wrap(err, errors.ErrUsage, "failed to write iterations row")
	}
	return nil
}

// LogConvergence appends one row to the convergence table. The set of
// residual columns is taken from the first row that carries any; rows
// from iterations with zero or fewer measures than that first row get
// blank fields for the columns they're missing.
func (w *TXTTableWriter) LogConvergence(row cplscheme.ConvergenceRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.convergenceHeader == nil && len(row.Residuals) > 0 {
		header := []string{"TimeWindow", "Iteration"}
		header = append(header, sortedKeys(row.Residuals)...)
		w.convergenceHeader = header
		if _, err := fmt.Fprintln(w.convergenceFile, strings.Join(header, "\t")); err != nil {
			return errors.Wrap(err, errors.ErrUsage, "failed to write convergence header")
		}
	}
	if w.convergenceHeader == nil {
		// No measure has logged a residual yet; nothing to write until one does.
		return nil
	}

	fields := []string{fmt.Sprintf("%d", row.TimeWindow), fmt.Sprintf("%d", row.Iteration)}
	for _, key := range w.convergenceHeader[2:] {
		if v, ok := row.Residuals[key]; ok {
			fields = append(fields, fmt.Sprintf("%g", v))
		} else {
			fields = append(fields, "")
		}
	}
	if _, err := fmt.Fprintln(w.convergenceFile, strings.Join(fields, "\t")); err != nil {
		return errors.Wrap(err, errors.ErrUsage, "failed to write convergence row")
	}
	return nil
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close closes both underlying files.
func (w *TXTTableWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	err1 := w.iterationsFile.Close()
	err2 := w.convergenceFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
