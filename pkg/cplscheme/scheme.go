// Package cplscheme implements the coupling-scheme core: the state
// machine that drives a fixed-point data exchange between two or more
// independently stepping participants, window by window, with
// optional implicit sub-iteration and acceleration.
package cplscheme

import (
	"context"
	"math"

	"github.com/cynidn2x/precice/pkg/errors"
)

// CouplingMode selects whether a time window is accepted after a
// single data exchange (Explicit) or only after the exchanged data
// has converged across repeated sub-iterations (Implicit).
type CouplingMode int

const (
	Explicit CouplingMode = iota
	Implicit
)

// String provides human-readable coupling mode names.
func (m CouplingMode) String() string {
	return [...]string{"explicit", "implicit"}[m]
}

// DtMethod selects how a time window's size is determined.
type DtMethod int

const (
	// FixedDt uses a time window size fixed at construction time.
	FixedDt DtMethod = iota
	// FirstParticipantDt lets the first participant dictate the time
	// window size for every window, by doing exactly one step per window.
	FirstParticipantDt
)

// String provides human-readable dt method names.
func (d DtMethod) String() string {
	return [...]string{"fixed", "first_participant"}[d]
}

// InfiniteMaxIterations is the sentinel MaxIterations value meaning
// "no upper bound on sub-iterations" rather than "undefined".
const InfiniteMaxIterations = -1

// Params are the construction-time parameters of a coupling scheme,
// matching the checks performed before any window is advanced. Nil
// pointer fields mean "undefined" the way the scheme's sentinel
// constants do in the original design.
type Params struct {
	LocalParticipant string
	CouplingMode     CouplingMode
	DtMethod         DtMethod
	TimeWindowSize   *float64
	MaxTime          *float64
	MaxTimeWindows   *int
	MinIterations    *int
	MaxIterations    *int
	// DoesFirstStep marks the participant that dictates dt under
	// FirstParticipantDt and that never owns the convergence decision
	// under implicit coupling.
	DoesFirstStep bool
}

// IterationRow is one row of the per-window iteration log.
type IterationRow struct {
	TimeWindow       int
	TotalIterations  int
	Iterations       int
	Converged        bool
	HasAcceleration  bool
	Diagnostics      AccelerationDiagnostics
}

// ConvergenceRow is one row of the per-iteration convergence log.
type ConvergenceRow struct {
	TimeWindow int
	Iteration  int
	Residuals  map[string]float64
}

// IterationLogger receives the iteration and convergence bookkeeping a
// scheme produces every window/iteration, decoupling pkg/cplscheme from
// any concrete persistence mechanism.
type IterationLogger interface {
	LogIteration(row IterationRow) error
	LogConvergence(row ConvergenceRow) error
}

// BaseCouplingScheme is the generic, capability-agnostic coupling
// scheme state machine. Concrete partner topologies (serial/parallel,
// explicit/implicit, one partner or many) are layered on top via an
// ExchangeHooks implementation; this type owns time/window/iteration
// bookkeeping, the action ledger, convergence evaluation, and the
// generic send/receive helpers hooks call into.
type BaseCouplingScheme struct {
	participant   string
	doesFirstStep bool
	couplingMode  CouplingMode
	dtMethod      DtMethod

	clock            *CompensatedClock
	windowStartClock *CompensatedClock
	timeWindowSize   float64
	hasWindowSize    bool
	nextWindowSize   float64

	maxTime        *float64
	maxTimeWindows *int
	timeWindows    int

	minIterations *int
	maxIterations *int
	iterations    int
	totalIterations int

	hasConverged         bool
	isTimeWindowComplete bool
	hasDataBeenReceived  bool
	sendsInitializedData bool
	receivesInitializedData bool
	isInitialized bool

	actions *ActionLedger
	data    map[int]*CouplingDatum

	acceleration Acceleration
	convergence  *ConvergenceSet

	logger  IterationLogger
	verbose bool
}

// NewBaseCouplingScheme validates p and returns a freshly constructed,
// not-yet-initialized scheme.
func NewBaseCouplingScheme(p Params, logger IterationLogger) (*BaseCouplingScheme, error) {
	if p.LocalParticipant == "" {
		return nil, errors.New(errors.ErrConfiguration, "local participant name must not be empty")
	}
	if p.DtMethod == FixedDt && p.TimeWindowSize == nil {
		return nil, errors.New(errors.ErrConfiguration, "fixed dt method requires a time window size")
	}
	if p.MaxTime != nil && *p.MaxTime <= 0 {
		return nil, errors.New(errors.ErrConfiguration, "maximum time must be larger than zero")
	}
	if p.MaxTimeWindows != nil && *p.MaxTimeWindows <= 0 {
		return nil, errors.New(errors.ErrConfiguration, "maximum number of time windows must be larger than zero")
	}
	if p.TimeWindowSize != nil && *p.TimeWindowSize <= 0 {
		return nil, errors.New(errors.ErrConfiguration, "time window size must be larger than zero")
	}

	if p.CouplingMode == Explicit {
		if p.MinIterations != nil || p.MaxIterations != nil {
			return nil, errors.New(errors.ErrConfiguration, "explicit coupling must not configure iteration bounds")
		}
	} else {
		if p.MinIterations == nil || p.MaxIterations == nil {
			return nil, errors.New(errors.ErrConfiguration, "implicit coupling requires min and max iteration bounds")
		}
		if *p.MinIterations <= 0 {
			return nil, errors.New(errors.ErrConfiguration, "minimal iteration limit must be larger than zero")
		}
		if *p.MaxIterations != InfiniteMaxIterations && *p.MaxIterations <= 0 {
			return nil, errors.New(errors.ErrConfiguration, "maximal iteration limit must be larger than zero or -1 (unlimited)")
		}
		if *p.MaxIterations != InfiniteMaxIterations && *p.MinIterations > *p.MaxIterations {
			return nil, errors.New(errors.ErrConfiguration, "minimal iteration limit must not exceed the maximal iteration limit")
		}
	}

	s := &BaseCouplingScheme{
		participant:      p.LocalParticipant,
		doesFirstStep:    p.DoesFirstStep,
		couplingMode:     p.CouplingMode,
		dtMethod:         p.DtMethod,
		clock:            NewCompensatedClock(0),
		windowStartClock: NewCompensatedClock(0),
		maxTime:          p.MaxTime,
		maxTimeWindows:   p.MaxTimeWindows,
		minIterations:    p.MinIterations,
		maxIterations:    p.MaxIterations,
		actions:          NewActionLedger(),
		data:             make(map[int]*CouplingDatum),
		convergence:      NewConvergenceSet(),
		logger:           logger,
	}
	if p.TimeWindowSize != nil {
		s.hasWindowSize = true
		s.timeWindowSize = *p.TimeWindowSize
		s.nextWindowSize = *p.TimeWindowSize
	}
	return s, nil
}

// SetAcceleration installs the acceleration used on non-converged
// implicit iterations.
func (s *BaseCouplingScheme) SetAcceleration(a Acceleration) {
	s.acceleration = a
}

// AddConvergenceMeasure registers a convergence measure.
func (s *BaseCouplingScheme) AddConvergenceMeasure(ctx ConvergenceMeasureContext) {
	s.convergence.Add(ctx)
}

// AddCouplingData registers datum, or returns the already-registered
// datum sharing its ID. Re-adding the same ID with a conflicting
// direction is a configuration error.
func (s *BaseCouplingScheme) AddCouplingData(datum *CouplingDatum) (*CouplingDatum, error) {
	if existing, ok := s.data[datum.ID()]; ok {
		if existing.Direction() != datum.Direction() {
			return nil, errors.WithFields(
				errors.New(errors.ErrConfiguration, "data cannot be added for both sending and receiving"),
				errors.Fields{"data": datum.Name()},
			)
		}
		return existing, nil
	}
	s.data[datum.ID()] = datum
	return datum, nil
}

// DoesFirstStep reports whether this participant dictates dt and never
// owns the convergence decision.
func (s *BaseCouplingScheme) DoesFirstStep() bool { return s.doesFirstStep }

// CouplingMode reports whether this scheme runs explicit or implicit
// coupling.
func (s *BaseCouplingScheme) CouplingMode() CouplingMode { return s.couplingMode }

// HasTimeWindowSize reports whether a time window size is defined.
func (s *BaseCouplingScheme) HasTimeWindowSize() bool { return s.hasWindowSize }

// TimeWindowSize returns the current time window's size. Only valid
// when HasTimeWindowSize is true.
func (s *BaseCouplingScheme) TimeWindowSize() float64 { return s.timeWindowSize }

// SetTimeWindowSize overrides the current window's size, e.g. when the
// first participant dictates it for the upcoming window.
func (s *BaseCouplingScheme) SetTimeWindowSize(v float64) {
	s.hasWindowSize = true
	s.timeWindowSize = v
}

// SetNextTimeWindowSize records the size to adopt once the current
// window finishes (converges or is rolled back).
func (s *BaseCouplingScheme) SetNextTimeWindowSize(v float64) {
	s.nextWindowSize = v
}

// Time returns the current accumulated simulation time.
func (s *BaseCouplingScheme) Time() float64 { return s.clock.Sum() }

// WindowStartTime returns the start time of the current time window.
func (s *BaseCouplingScheme) WindowStartTime() float64 { return s.windowStartClock.Sum() }

// TimeWindows returns the number of time windows completed or in
// progress so far.
func (s *BaseCouplingScheme) TimeWindows() int { return s.timeWindows }

// Iterations returns the current implicit sub-iteration count within
// the active time window (always 1 for explicit coupling).
func (s *BaseCouplingScheme) Iterations() int { return s.iterations }

// HasConverged reports the current iteration's convergence state.
func (s *BaseCouplingScheme) HasConverged() bool { return s.hasConverged }

// SetHasConverged records the convergence decision for the current
// iteration. Participants that do not own the convergence decision
// call this after receiving it over the network from the partner that
// does.
func (s *BaseCouplingScheme) SetHasConverged(v bool) { s.hasConverged = v }

// IsTimeWindowComplete reports whether the current time window has
// finished (converged, for implicit coupling).
func (s *BaseCouplingScheme) IsTimeWindowComplete() bool { return s.isTimeWindowComplete }

// HasDataBeenReceived reports whether data has been received during
// the current exchange phase.
func (s *BaseCouplingScheme) HasDataBeenReceived() bool { return s.hasDataBeenReceived }

// NotifyDataHasBeenReceived marks that data was received this phase.
// Calling it twice within the same phase is a programming error.
func (s *BaseCouplingScheme) NotifyDataHasBeenReceived() error {
	if s.hasDataBeenReceived {
		return errors.New(errors.ErrAssertion, "notifyDataHasBeenReceived called twice within one coupling iteration")
	}
	s.hasDataBeenReceived = true
	return nil
}

// IsCouplingOngoing reports whether the simulation has time or time
// windows left to run.
func (s *BaseCouplingScheme) IsCouplingOngoing() bool {
	timeLeft := s.maxTime == nil || greater(*s.maxTime, s.Time())
	windowsLeft := s.maxTimeWindows == nil || *s.maxTimeWindows >= s.timeWindows
	return timeLeft && windowsLeft
}

// NextTimeStepMaxSize returns the largest dt the local solver may
// still compute within the current time window without overshooting
// it or the overall max simulation time.
func (s *BaseCouplingScheme) NextTimeStepMaxSize() float64 {
	if !s.IsCouplingOngoing() {
		return 0
	}
	if s.hasWindowSize {
		maxDt := s.WindowStartTime() + s.timeWindowSize - s.Time()
		if s.maxTime == nil {
			return maxDt
		}
		leftover := *s.maxTime - s.Time()
		return math.Min(maxDt, leftover)
	}
	if s.maxTime == nil {
		return math.MaxFloat64
	}
	return *s.maxTime - s.Time()
}

// ReachedEndOfTimeWindow reports whether the local solver has computed
// exactly up to the end of the current time window.
func (s *BaseCouplingScheme) ReachedEndOfTimeWindow() bool {
	if !s.hasWindowSize {
		return true
	}
	windowEnd := s.WindowStartTime() + s.timeWindowSize
	if s.maxTime != nil && smaller(*s.maxTime, windowEnd) {
		return equals(s.Time(), *s.maxTime)
	}
	return equals(s.Time(), windowEnd)
}

// WillDataBeExchanged reports whether computing one more step of size
// lastSolverTimeStepSize would reach the end of the time window.
func (s *BaseCouplingScheme) WillDataBeExchanged(lastSolverTimeStepSize float64) bool {
	remainder := s.NextTimeStepMaxSize() - lastSolverTimeStepSize
	return !greater(remainder, 0)
}

// AddComputedTime advances the scheme's clock by timeToAdd and reports
// whether the end of the current time window has now been reached. It
// is an error to call this once the simulation has already ended, or
// with a dt that would overshoot the remaining window.
func (s *BaseCouplingScheme) AddComputedTime(timeToAdd float64) (bool, error) {
	if !s.IsCouplingOngoing() {
		return false, errors.New(errors.ErrUsage, "addComputedTime called after simulation end")
	}
	s.clock.Add(timeToAdd)
	if !greaterEquals(s.NextTimeStepMaxSize(), 0) {
		return false, errors.WithFields(
			errors.New(errors.ErrUsage, "the computed time step exceeds the maximum allowed time step size remaining in this time window"),
			errors.Fields{"time_to_add": timeToAdd},
		)
	}
	return s.ReachedEndOfTimeWindow(), nil
}

// RequireAction marks action as required before the next exchange
// phase can proceed.
func (s *BaseCouplingScheme) RequireAction(action Action) { s.actions.Require(action) }

// IsActionRequired reports whether action is currently required.
func (s *BaseCouplingScheme) IsActionRequired(action Action) bool { return s.actions.IsRequired(action) }

// MarkActionFulfilled marks action as fulfilled by the adapter.
func (s *BaseCouplingScheme) MarkActionFulfilled(action Action) error {
	return s.actions.Fulfill(action)
}

// SendsInitializedData reports whether this participant sends data
// during the initial data exchange.
func (s *BaseCouplingScheme) SendsInitializedData() bool { return s.sendsInitializedData }

// ReceivesInitializedData reports whether this participant receives
// data during the initial data exchange.
func (s *BaseCouplingScheme) ReceivesInitializedData() bool { return s.receivesInitializedData }

// Initialize prepares the scheme to begin advancing from startTime /
// startTimeWindow. For implicit coupling it snapshots the current
// values for the first convergence comparison, initializes the
// acceleration on the side that owns convergence, and requires an
// initial checkpoint write on both sides.
func (s *BaseCouplingScheme) Initialize(ctx context.Context, startTime float64, startTimeWindow int, hooks ExchangeHooks) error {
	if s.isInitialized {
		return errors.New(errors.ErrAssertion, "initialize called twice")
	}
	if startTime < 0 {
		return errors.New(errors.ErrUsage, "start time must not be negative")
	}
	s.windowStartClock.Reset(startTime)
	s.clock.Reset(startTime)
	s.timeWindows = startTimeWindow
	s.hasDataBeenReceived = false
	s.iterations = 1

	s.initializeReceiveDataStorage()

	if s.couplingMode == Implicit {
		s.storeIteration()
		if !s.doesFirstStep && s.acceleration != nil {
			if err := s.acceleration.Initialize(s.data); err != nil {
				return err
			}
		}
		s.actions.Require(WriteCheckpoint)
	}

	for _, datum := range s.data {
		if datum.Direction() == Send && datum.RequiresInitialization() {
			s.sendsInitializedData = true
			s.actions.Require(InitializeData)
		}
		if datum.Direction() == Receive && datum.RequiresInitialization() {
			s.receivesInitializedData = true
		}
	}

	if err := hooks.ExchangeInitialData(ctx, s); err != nil {
		return err
	}

	s.isInitialized = true
	return nil
}

// Advance runs the four-phase advance step: first synchronization,
// first data exchange, second synchronization, second data exchange
// (including, for implicit coupling, the convergence/acceleration
// loop's bookkeeping).
func (s *BaseCouplingScheme) Advance(ctx context.Context, hooks ExchangeHooks) error {
	if err := hooks.FirstSynchronization(ctx, s); err != nil {
		return err
	}
	if err := s.firstExchange(ctx, hooks); err != nil {
		return err
	}
	if err := hooks.SecondSynchronization(ctx, s); err != nil {
		return err
	}
	return s.secondExchange(ctx, hooks)
}

func (s *BaseCouplingScheme) firstExchange(ctx context.Context, hooks ExchangeHooks) error {
	if err := s.actions.CheckCompleteness(); err != nil {
		return err
	}
	if !s.isInitialized {
		return errors.New(errors.ErrAssertion, "advance called before initialize")
	}
	s.hasDataBeenReceived = false
	s.isTimeWindowComplete = false

	if s.ReachedEndOfTimeWindow() {
		s.timeWindows++
		if err := hooks.ExchangeFirstData(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (s *BaseCouplingScheme) secondExchange(ctx context.Context, hooks ExchangeHooks) error {
	if err := s.actions.CheckCompleteness(); err != nil {
		return err
	}
	if !s.isInitialized {
		return errors.New(errors.ErrAssertion, "advance called before initialize")
	}

	if !s.ReachedEndOfTimeWindow() {
		return nil
	}

	// ExchangeSecondData is responsible for calling DoImplicitStep itself
	// (if this participant owns the convergence decision) at the point
	// in the exchange where the current iteration's values have arrived
	// but before the convergence boolean is sent to the other partner.
	if err := hooks.ExchangeSecondData(ctx, s); err != nil {
		return err
	}

	if s.couplingMode == Implicit {
		if !s.hasConverged {
			s.actions.Require(ReadCheckpoint)
			if !greater(s.Time(), s.WindowStartTime()) {
				return errors.New(errors.ErrAssertion, "non-converged time window did not advance past its start time")
			}
			s.timeWindows--
			s.isTimeWindowComplete = false
		} else {
			if err := s.advanceLogs(); err != nil {
				return err
			}
			s.isTimeWindowComplete = true
			if s.IsCouplingOngoing() {
				s.actions.Require(WriteCheckpoint)
			}
		}
		s.totalIterations++
		if !s.hasConverged {
			s.iterations++
		} else {
			s.iterations = 1
		}
	} else {
		s.isTimeWindowComplete = true
	}

	if s.IsCouplingOngoing() && !s.hasDataBeenReceived {
		return errors.New(errors.ErrAssertion, "coupling is ongoing but no data was received this time window")
	}

	if s.isTimeWindowComplete {
		performed := s.Time() - s.WindowStartTime()
		if equals(performed, s.timeWindowSize) {
			s.windowStartClock.Add(s.timeWindowSize)
		} else {
			s.windowStartClock.Add(performed)
		}
	}
	s.clock.Reset(s.WindowStartTime())
	s.timeWindowSize = s.nextWindowSize

	return nil
}

// DoImplicitStep measures convergence of the current iteration,
// forces convergence once the iteration budget is exhausted, and
// either folds the accepted step into the acceleration's history or
// runs the acceleration transform on the non-converged working values.
// The participant that owns the convergence decision calls this from
// its ExchangeSecondData hook once the iteration's values have
// arrived, before sending the resulting convergence boolean onward.
func (s *BaseCouplingScheme) DoImplicitStep() error {
	maxIterations := InfiniteMaxIterations
	if s.maxIterations != nil {
		maxIterations = *s.maxIterations
	}
	minIterations := 1
	if s.minIterations != nil {
		minIterations = *s.minIterations
	}

	result, err := s.convergence.Evaluate(s.iterations, minIterations, maxIterations)
	if err != nil {
		return err
	}
	s.hasConverged = result.Converged
	if s.logger != nil && len(result.Residuals) > 0 {
		_ = s.logger.LogConvergence(ConvergenceRow{TimeWindow: s.timeWindows - 1, Iteration: s.iterations, Residuals: result.Residuals})
	}

	if maxIterations != InfiniteMaxIterations && s.iterations == maxIterations {
		s.hasConverged = true
	}

	if s.hasConverged {
		if s.acceleration != nil {
			s.acceleration.IterationsConverged(s.data)
		}
		s.convergence.Reset()
		return nil
	}

	if s.acceleration != nil {
		for _, datum := range s.data {
			stamples := datum.Stamples()
			if len(stamples) == 0 {
				continue
			}
			datum.SetSampleAtTime(stamples[len(stamples)-1].Time, stamples[len(stamples)-1].Sample)
		}
		if err := s.acceleration.Perform(s.data); err != nil {
			return err
		}
		for _, datum := range s.data {
			datum.SetSampleAtTime(s.Time(), datum.Sample())
		}
	}
	// Snapshot this round's accepted values so the next iteration's
	// convergence measures compare against them.
	s.storeIteration()
	return nil
}

func (s *BaseCouplingScheme) storeIteration() {
	for _, datum := range s.data {
		datum.StoreIteration()
	}
}

// initializeReceiveDataStorage seeds every receive-side datum's storage
// with a zero sample at the current time, so StoreIteration and the
// first convergence measure always have something to snapshot against
// even before exchangeInitialData or the first exchange overwrites it.
func (s *BaseCouplingScheme) initializeReceiveDataStorage() {
	for _, datum := range s.data {
		if datum.Direction() != Receive {
			continue
		}
		if len(datum.Stamples()) > 0 {
			continue
		}
		datum.SetSampleAtTime(s.Time(), Sample{Values: make([]float64, datum.Dimension())})
	}
}

// MoveToNextWindow rebases every registered datum's stample history
// onto the new window, keeping only its last sample. An adapter calls
// this once a window has fully completed.
func (s *BaseCouplingScheme) MoveToNextWindow() {
	for _, datum := range s.data {
		datum.MoveToNextWindow()
	}
}

func (s *BaseCouplingScheme) advanceLogs() error {
	if s.logger == nil {
		return nil
	}
	converged := s.iterations >= func() int {
		if s.minIterations != nil {
			return *s.minIterations
		}
		return 1
	}() && (s.maxIterations == nil || *s.maxIterations == InfiniteMaxIterations || s.iterations < *s.maxIterations)

	row := IterationRow{
		TimeWindow:      s.timeWindows - 1,
		TotalIterations: s.totalIterations,
		Iterations:      s.iterations,
		Converged:       converged,
	}
	if s.acceleration != nil {
		row.HasAcceleration = true
		row.Diagnostics = s.acceleration.Diagnostics()
	}
	return s.logger.LogIteration(row)
}

// Finalize checks that every action required by the last exchange
// phase has been fulfilled.
func (s *BaseCouplingScheme) Finalize() error {
	if err := s.actions.CheckCompleteness(); err != nil {
		return err
	}
	if !s.isInitialized {
		return errors.New(errors.ErrAssertion, "finalize called before initialize")
	}
	return nil
}

// Data returns the registered coupling datum for id, if any.
func (s *BaseCouplingScheme) Data(id int) (*CouplingDatum, bool) {
	d, ok := s.data[id]
	return d, ok
}

// AllData returns every registered coupling datum.
func (s *BaseCouplingScheme) AllData() map[int]*CouplingDatum {
	return s.data
}
