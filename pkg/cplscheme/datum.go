package cplscheme

import "sort"

// Direction indicates whether a participant sends or receives a piece
// of coupling data.
type Direction int

const (
	Send Direction = iota
	Receive
)

func (d Direction) String() string {
	if d == Send {
		return "Send"
	}
	return "Receive"
}

// Sample is one snapshot of a coupling datum's values, optionally with
// gradients when the underlying mesh supports gradient exchange.
type Sample struct {
	Values    []float64
	Gradients []float64
}

func (s Sample) clone() Sample {
	var out Sample
	if s.Values != nil {
		out.Values = append([]float64(nil), s.Values...)
	}
	if s.Gradients != nil {
		out.Gradients = append([]float64(nil), s.Gradients...)
	}
	return out
}

// Stample pairs a Sample with the point in time (relative to the
// current time window) it was recorded at.
type Stample struct {
	Time   float64
	Sample Sample
}

// CouplingDatum is one named quantity exchanged between two
// participants: a vector field (displacements, forces, temperatures,
// ...) living on a mesh of a given dimension, carried across the
// window either as a single end-of-window sample or as a dense
// sequence of substep samples.
type CouplingDatum struct {
	id           int
	name         string
	direction    Direction
	dimension    int
	meshDim      int
	meshID       int
	hasGradient  bool
	exchangeSub  bool
	requiresInit bool

	stamples []Stample
	previous Sample
}

// NewCouplingDatum constructs a datum. dimension is the number of
// vector components per mesh node; meshDim is the spatial dimension of
// the mesh it lives on.
func NewCouplingDatum(id int, name string, direction Direction, dimension, meshDim, meshID int, hasGradient, exchangeSubsteps, requiresInitialization bool) *CouplingDatum {
	return &CouplingDatum{
		id:           id,
		name:         name,
		direction:    direction,
		dimension:    dimension,
		meshDim:      meshDim,
		meshID:       meshID,
		hasGradient:  hasGradient,
		exchangeSub:  exchangeSubsteps,
		requiresInit: requiresInitialization,
	}
}

func (d *CouplingDatum) ID() int                  { return d.id }
func (d *CouplingDatum) Name() string             { return d.name }
func (d *CouplingDatum) Direction() Direction      { return d.direction }
func (d *CouplingDatum) Dimension() int            { return d.dimension }
func (d *CouplingDatum) MeshDimension() int        { return d.meshDim }
func (d *CouplingDatum) MeshID() int               { return d.meshID }
func (d *CouplingDatum) HasGradient() bool         { return d.hasGradient }
func (d *CouplingDatum) ExchangeSubsteps() bool     { return d.exchangeSub }
func (d *CouplingDatum) RequiresInitialization() bool { return d.requiresInit }

// Stamples returns the datum's recorded samples for the current time
// window, ordered ascending by time.
func (d *CouplingDatum) Stamples() []Stample {
	return d.stamples
}

// Sample returns the most recently recorded sample, or the zero Sample
// if nothing has been recorded yet in the current window.
func (d *CouplingDatum) Sample() Sample {
	if len(d.stamples) == 0 {
		return Sample{}
	}
	return d.stamples[len(d.stamples)-1].Sample
}

// Values is shorthand for Sample().Values.
func (d *CouplingDatum) Values() []float64 {
	return d.Sample().Values
}

// Gradients is shorthand for Sample().Gradients.
func (d *CouplingDatum) Gradients() []float64 {
	return d.Sample().Gradients
}

// SetSampleAtTime records sample at the given time, keeping the
// stample sequence sorted ascending by time. A sample recorded at a
// time that already has an entry replaces it, matching the semantics
// of repeated substep writes within the same window.
func (d *CouplingDatum) SetSampleAtTime(t float64, sample Sample) {
	for i := range d.stamples {
		if equals(d.stamples[i].Time, t) {
			d.stamples[i].Sample = sample.clone()
			return
		}
	}
	d.stamples = append(d.stamples, Stample{Time: t, Sample: sample.clone()})
	sort.Slice(d.stamples, func(i, j int) bool { return d.stamples[i].Time < d.stamples[j].Time })
}

// StoreIteration snapshots the current end-of-window sample's values
// so a subsequent convergence measure can compare against it once the
// next iteration's values arrive.
func (d *CouplingDatum) StoreIteration() {
	d.previous = d.Sample().clone()
}

// PreviousIterationSnapshot returns the values captured by the most
// recent StoreIteration call.
func (d *CouplingDatum) PreviousIterationSnapshot() []float64 {
	return d.previous.Values
}

// MoveToNextWindow clears the stample history in preparation for a new
// time window, keeping only the last sample as the new window's
// starting point (time rebased to 0).
func (d *CouplingDatum) MoveToNextWindow() {
	if len(d.stamples) == 0 {
		return
	}
	last := d.stamples[len(d.stamples)-1]
	d.stamples = []Stample{{Time: 0, Sample: last.Sample}}
}
