package cplscheme

// AccelerationDiagnostics reports the bookkeeping numbers a
// quasi-Newton style acceleration scheme logs alongside each
// iteration: how many columns its least-squares system currently
// carries, how many were deleted for being redundant, and how many
// were dropped for exceeding the reuse window.
type AccelerationDiagnostics struct {
	QNColumns        int
	DeletedQNColumns int
	DroppedQNColumns int
}

// Acceleration transforms the working values of a set of coupling data
// in place to speed up convergence of the implicit coupling iteration,
// e.g. Aitken relaxation or a quasi-Newton least-squares update.
type Acceleration interface {
	// Initialize prepares the acceleration for a fresh simulation run
	// given the data it will operate on.
	Initialize(data map[int]*CouplingDatum) error
	// Perform applies the acceleration transform to data in place,
	// using each datum's latest sample as both input and output.
	Perform(data map[int]*CouplingDatum) error
	// IterationsConverged notifies the acceleration that the current
	// time window's iteration has converged, so it can fold the
	// accepted step into its history.
	IterationsConverged(data map[int]*CouplingDatum)
	// Diagnostics reports the current least-squares system bookkeeping
	// for logging.
	Diagnostics() AccelerationDiagnostics
}
