package persistence

import "github.com/cynidn2x/precice/pkg/cplscheme"

// MultiLogger fans a scheme's iteration/convergence rows out to every
// configured sink, e.g. the required TXT tables plus an optional
// sqlite mirror. The first sink to error aborts the call; earlier
// sinks in the list have already received the row.
type MultiLogger struct {
	sinks []cplscheme.IterationLogger
}

// NewMultiLogger returns a logger that writes every row to each of sinks.
func NewMultiLogger(sinks ...cplscheme.IterationLogger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

func (m *MultiLogger) LogIteration(row cplscheme.IterationRow) error {
	for _, sink := range m.sinks {
		if err := sink.LogIteration(row); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiLogger) LogConvergence(row cplscheme.ConvergenceRow) error {
	for _, sink := range m.sinks {
		if err := sink.LogConvergence(row); err != nil {
			return err
		}
	}
	return nil
}
