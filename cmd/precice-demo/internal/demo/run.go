// Package demo drives two in-process participants through a complete
// coupled simulation over pkg/transport's in-process channel, for
// manually smoke-testing the coupling-scheme protocol end to end.
package demo

import (
	"context"
	"fmt"

	"github.com/cynidn2x/precice/pkg/cplscheme"
	"github.com/cynidn2x/precice/pkg/logging"
	"github.com/cynidn2x/precice/pkg/persistence"
	"github.com/cynidn2x/precice/pkg/transport"
)

// Options configures one demo run.
type Options struct {
	Mode           cplscheme.CouplingMode
	TimeWindowSize float64
	MaxTime        float64
	MaxIterations  int
	MinIterations  int
	LogDir         string
}

// Run drives both demo participants to completion and returns the
// number of time windows completed.
func Run(ctx context.Context, opts Options) (int, error) {
	maxTime := opts.MaxTime
	windowSize := opts.TimeWindowSize

	chA, chB := transport.NewInProcessPipe("A", "B", 8)

	var logger cplscheme.IterationLogger
	if opts.LogDir != "" {
		writer, err := persistence.NewTXTTableWriter(opts.LogDir, "B")
		if err != nil {
			return 0, err
		}
		defer writer.Close()
		logger = writer
	}

	a, err := cplscheme.NewBaseCouplingScheme(cplscheme.Params{
		LocalParticipant: "A",
		CouplingMode:     opts.Mode,
		DtMethod:         cplscheme.FixedDt,
		TimeWindowSize:   &windowSize,
		MaxTime:          &maxTime,
		DoesFirstStep:    true,
		MinIterations:    iterPtr(opts.Mode, opts.MinIterations),
		MaxIterations:    iterPtr(opts.Mode, opts.MaxIterations),
	}, nil)
	if err != nil {
		return 0, err
	}
	b, err := cplscheme.NewBaseCouplingScheme(cplscheme.Params{
		LocalParticipant: "B",
		CouplingMode:     opts.Mode,
		DtMethod:         cplscheme.FixedDt,
		TimeWindowSize:   &windowSize,
		MaxTime:          &maxTime,
		MinIterations:    iterPtr(opts.Mode, opts.MinIterations),
		MaxIterations:    iterPtr(opts.Mode, opts.MaxIterations),
	}, logger)
	if err != nil {
		return 0, err
	}

	dataA, err := a.AddCouplingData(cplscheme.NewCouplingDatum(1, "Signal", cplscheme.Send, 1, 2, 1, false, false, false))
	if err != nil {
		return 0, err
	}
	dataB, err := b.AddCouplingData(cplscheme.NewCouplingDatum(1, "Signal", cplscheme.Receive, 1, 2, 1, false, false, false))
	if err != nil {
		return 0, err
	}
	dataA.SetSampleAtTime(0, cplscheme.Sample{Values: []float64{1.0}})
	dataB.SetSampleAtTime(0, cplscheme.Sample{Values: []float64{1.0}})

	var hooksA, hooksB cplscheme.ExchangeHooks
	if opts.Mode == cplscheme.Explicit {
		hooksA = &cplscheme.SerialExplicitHooks{First: true, Exchange: cplscheme.PartnerExchange{
			Partner: "B", Channel: chA, SendData: map[int]*cplscheme.CouplingDatum{1: dataA}, RecvData: map[int]*cplscheme.CouplingDatum{1: dataA},
		}}
		hooksB = &cplscheme.SerialExplicitHooks{First: false, Exchange: cplscheme.PartnerExchange{
			Partner: "A", Channel: chB, SendData: map[int]*cplscheme.CouplingDatum{1: dataB}, RecvData: map[int]*cplscheme.CouplingDatum{1: dataB},
		}}
	} else {
		hooksA = &cplscheme.SerialImplicitHooks{First: true, Exchange: cplscheme.PartnerExchange{
			Partner: "B", Channel: chA, SendData: map[int]*cplscheme.CouplingDatum{1: dataA}, RecvData: map[int]*cplscheme.CouplingDatum{1: dataA},
		}}
		hooksB = &cplscheme.SerialImplicitHooks{First: false, Exchange: cplscheme.PartnerExchange{
			Partner: "A", Channel: chB, SendData: map[int]*cplscheme.CouplingDatum{1: dataB}, RecvData: map[int]*cplscheme.CouplingDatum{1: dataB},
		}}
		b.AddConvergenceMeasure(cplscheme.ConvergenceMeasureContext{
			Datum: dataB, Measure: &decayMeasure{tolerance: 1e-6}, Suffices: true, DoesLogging: true,
		})
	}

	if err := a.Initialize(ctx, 0, 0, hooksA); err != nil {
		return 0, err
	}
	if err := b.Initialize(ctx, 0, 0, hooksB); err != nil {
		return 0, err
	}

	appLogger := logging.GetLogger()
	signal, target := 1.0, 0.1

	windows := 0
	for a.IsCouplingOngoing() {
		// The demo keeps no solver state to checkpoint, so it marks every
		// required checkpoint action as done before stepping.
		for _, s := range []*cplscheme.BaseCouplingScheme{a, b} {
			for _, action := range []cplscheme.Action{cplscheme.WriteCheckpoint, cplscheme.ReadCheckpoint} {
				if s.IsActionRequired(action) {
					if err := s.MarkActionFulfilled(action); err != nil {
						return windows, err
					}
				}
			}
		}

		signal = signal*0.5 + target*0.5
		dataA.SetSampleAtTime(a.Time()+dtFor(a), cplscheme.Sample{Values: []float64{signal}})

		// A blocks inside Advance until B has sent its data back, so A
		// steps on its own goroutine.
		errA := make(chan error, 1)
		go func() {
			if _, err := a.AddComputedTime(dtFor(a)); err != nil {
				errA <- err
				return
			}
			errA <- a.Advance(ctx, hooksA)
		}()
		if _, err := b.AddComputedTime(dtFor(b)); err != nil {
			return windows, err
		}
		if err := b.Advance(ctx, hooksB); err != nil {
			return windows, err
		}
		if err := <-errA; err != nil {
			return windows, err
		}

		if b.IsTimeWindowComplete() {
			windows++
			appLogger.Info(ctx, "window %d complete: time=%.4f value=%.6f", windows, b.Time(), dataB.Values()[0])
		}
	}

	fmt.Printf("demo complete: %d windows, final time %.4f\n", windows, a.Time())
	return windows, nil
}

func dtFor(s *cplscheme.BaseCouplingScheme) float64 {
	return s.NextTimeStepMaxSize()
}

func iterPtr(mode cplscheme.CouplingMode, v int) *int {
	if mode == cplscheme.Explicit {
		return nil
	}
	return &v
}

// decayMeasure converges once the signal's change between iterations
// drops below tolerance.
type decayMeasure struct {
	tolerance float64
	converged bool
	residual  float64
}

func (m *decayMeasure) Measure(previous, current []float64) {
	m.residual = current[0] - previous[0]
	if m.residual < 0 {
		m.residual = -m.residual
	}
	m.converged = m.residual < m.tolerance
}
func (m *decayMeasure) IsConvergence() bool   { return m.converged }
func (m *decayMeasure) NormResidual() float64 { return m.residual }
func (m *decayMeasure) Reset()                { m.converged = false }
