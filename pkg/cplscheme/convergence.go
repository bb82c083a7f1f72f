package cplscheme

import "github.com/cynidn2x/precice/pkg/errors"

// ConvergenceMeasure computes whether the gap between two iterations
// of a coupling datum's values has closed enough to call the iteration
// converged.
type ConvergenceMeasure interface {
	// Measure updates the measure's internal state from the previous
	// and current iteration's values.
	Measure(previous, current []float64)
	// IsConvergence reports whether the last Measure call converged.
	IsConvergence() bool
	// NormResidual returns the residual norm of the last Measure call,
	// for logging.
	NormResidual() float64
}

// ConvergenceMeasureContext binds a measure to the datum it watches
// and the role that measure plays in the overall convergence decision.
type ConvergenceMeasureContext struct {
	Datum       *CouplingDatum
	Measure     ConvergenceMeasure
	Suffices    bool
	Strict      bool
	DoesLogging bool
}

// LogHeader returns the column name this measure's residual is logged
// under in the convergence log.
func (c ConvergenceMeasureContext) LogHeader() string {
	return "Res(" + c.Datum.Name() + ")"
}

// ConvergenceResult is the outcome of evaluating a full ConvergenceSet
// for one iteration.
type ConvergenceResult struct {
	Converged bool
	Residuals map[string]float64
}

// ConvergenceSet is the collection of convergence measures an implicit
// coupling scheme checks every iteration.
type ConvergenceSet struct {
	measures []ConvergenceMeasureContext
}

// NewConvergenceSet returns an empty set.
func NewConvergenceSet() *ConvergenceSet {
	return &ConvergenceSet{}
}

// Add registers a measure.
func (s *ConvergenceSet) Add(ctx ConvergenceMeasureContext) {
	s.measures = append(s.measures, ctx)
}

// Empty reports whether the set has no measures configured, in which
// case a scheme can never converge and must run until max_iterations.
func (s *ConvergenceSet) Empty() bool {
	return len(s.measures) == 0
}

// Reset clears every measure's internal state, called after an
// iteration converges and a fresh time window begins accumulating
// iterations of its own.
func (s *ConvergenceSet) Reset() {
	for i := range s.measures {
		if r, ok := s.measures[i].Measure.(interface{ Reset() }); ok {
			r.Reset()
		}
	}
}

// Evaluate measures convergence across every registered measure given
// the current iteration count and the iteration bounds configured on
// the scheme. It mirrors the original's "strict convergence measure
// failed to converge within the iteration budget" fatal abort: a
// strict measure that has not converged by the time iterations reaches
// maxIterations returns an ErrConvergence error instead of a result.
func (s *ConvergenceSet) Evaluate(iterations, minIterations, maxIterations int) (ConvergenceResult, error) {
	if s.Empty() {
		return ConvergenceResult{Converged: false}, nil
	}

	allConverged := true
	oneSuffices := false
	oneStrict := false
	reachedMinIterations := iterations >= minIterations
	residuals := make(map[string]float64, len(s.measures))

	for _, m := range s.measures {
		m.Measure.Measure(m.Datum.PreviousIterationSnapshot(), m.Datum.Values())
		if m.DoesLogging {
			residuals[m.LogHeader()] = m.Measure.NormResidual()
		}

		if !m.Measure.IsConvergence() {
			allConverged = false
			if m.Strict {
				if maxIterations <= 0 {
					return ConvergenceResult{}, errors.WithFields(
						errors.New(errors.ErrAssertion, "a strict convergence measure requires a finite positive max_iterations"),
						errors.Fields{"data": m.Datum.Name(), "max_iterations": maxIterations},
					)
				}
				oneStrict = true
				if iterations >= maxIterations {
					return ConvergenceResult{}, errors.WithFields(
						errors.New(errors.ErrConvergence, "strict convergence measure did not converge within the maximum allowed iterations"),
						errors.Fields{"data": m.Datum.Name(), "iterations": iterations, "max_iterations": maxIterations},
					)
				}
			}
		} else if m.Suffices {
			oneSuffices = true
		}
	}

	converged := reachedMinIterations && (allConverged || (oneSuffices && !oneStrict))
	return ConvergenceResult{Converged: converged, Residuals: residuals}, nil
}
