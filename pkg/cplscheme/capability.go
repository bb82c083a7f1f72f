package cplscheme

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/cynidn2x/precice/pkg/errors"
	"github.com/cynidn2x/precice/pkg/transport"
)

// PartnerExchange binds one remote partner's channel to the subset of
// coupling data sent to it and received from it.
type PartnerExchange struct {
	Partner  string
	Channel  transport.Channel
	SendData map[int]*CouplingDatum
	RecvData map[int]*CouplingDatum
}

// ExchangeHooks implements the partner-topology-specific part of an
// advance step: which data crosses the wire in which phase, in which
// order, and who owns the convergence decision. BaseCouplingScheme
// calls these at the right points of its four-phase advance and
// exposes SendData/ReceiveData/DoImplicitStep for hooks to use.
type ExchangeHooks interface {
	// IsFirst reports whether this participant dictates dt and never
	// owns the convergence decision.
	IsFirst() bool
	// OwnsConvergence reports whether this participant's hooks call
	// DoImplicitStep and send the resulting boolean, as opposed to
	// receiving it from a partner that does.
	OwnsConvergence() bool

	// Partners reports the participant name(s) this topology exchanges
	// with, for adapters and log messages.
	Partners() []string

	// ReceiveResultOfFirstAdvance reports, as an error, whether the data
	// produced by the partner's first Advance() has already been
	// received; it does not receive anything itself. A no-op on
	// topologies it doesn't apply to.
	ReceiveResultOfFirstAdvance(ctx context.Context, s *BaseCouplingScheme) error

	FirstSynchronization(ctx context.Context, s *BaseCouplingScheme) error
	SecondSynchronization(ctx context.Context, s *BaseCouplingScheme) error
	ExchangeInitialData(ctx context.Context, s *BaseCouplingScheme) error
	ExchangeFirstData(ctx context.Context, s *BaseCouplingScheme) error
	ExchangeSecondData(ctx context.Context, s *BaseCouplingScheme) error
}

func exchangeInitialData(ctx context.Context, s *BaseCouplingScheme, first bool, ex PartnerExchange) error {
	if first {
		if s.SendsInitializedData() {
			return s.SendData(ctx, ex.Channel, ex.SendData)
		}
		return nil
	}
	if s.ReceivesInitializedData() {
		return s.ReceiveData(ctx, ex.Channel, ex.RecvData)
	}
	return nil
}

// SerialExplicitHooks implements a two-participant serial explicit
// coupling: the first participant sends at the end of its step, the
// second receives, computes, and sends back; the first receives that
// result to start its next window.
type SerialExplicitHooks struct {
	Exchange PartnerExchange
	First    bool
}

func (h *SerialExplicitHooks) IsFirst() bool         { return h.First }
func (h *SerialExplicitHooks) OwnsConvergence() bool { return false }
func (h *SerialExplicitHooks) Partners() []string    { return []string{h.Exchange.Partner} }

// ReceiveResultOfFirstAdvance reports whether the second participant has
// received the data the first participant's Advance produced; a no-op
// for the first participant, who has nothing to wait on.
func (h *SerialExplicitHooks) ReceiveResultOfFirstAdvance(ctx context.Context, s *BaseCouplingScheme) error {
	if h.First {
		return nil
	}
	if !s.HasDataBeenReceived() {
		return errors.New(errors.ErrAssertion, "no data has been received from the first participant's advance yet")
	}
	return nil
}

func (h *SerialExplicitHooks) FirstSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *SerialExplicitHooks) SecondSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *SerialExplicitHooks) ExchangeInitialData(ctx context.Context, s *BaseCouplingScheme) error {
	return exchangeInitialData(ctx, s, h.First, h.Exchange)
}

func (h *SerialExplicitHooks) ExchangeFirstData(ctx context.Context, s *BaseCouplingScheme) error {
	if h.First {
		return s.SendData(ctx, h.Exchange.Channel, h.Exchange.SendData)
	}
	if err := s.ReceiveData(ctx, h.Exchange.Channel, h.Exchange.RecvData); err != nil {
		return err
	}
	return s.NotifyDataHasBeenReceived()
}

func (h *SerialExplicitHooks) ExchangeSecondData(ctx context.Context, s *BaseCouplingScheme) error {
	if h.First {
		if err := s.ReceiveDataForWindowEnd(ctx, h.Exchange.Channel, h.Exchange.RecvData); err != nil {
			return err
		}
		return s.NotifyDataHasBeenReceived()
	}
	return s.SendData(ctx, h.Exchange.Channel, h.Exchange.SendData)
}

// ParallelExplicitHooks implements a two-participant parallel explicit
// coupling: both participants exchange their full data set
// concurrently in the first phase; the second phase is a no-op.
type ParallelExplicitHooks struct {
	Exchange PartnerExchange
	First    bool
}

func (h *ParallelExplicitHooks) IsFirst() bool         { return h.First }
func (h *ParallelExplicitHooks) OwnsConvergence() bool { return false }
func (h *ParallelExplicitHooks) Partners() []string    { return []string{h.Exchange.Partner} }

// ReceiveResultOfFirstAdvance is a no-op: both participants exchange
// their full data set concurrently, so neither waits on the other's
// advance() result specifically.
func (h *ParallelExplicitHooks) ReceiveResultOfFirstAdvance(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *ParallelExplicitHooks) FirstSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *ParallelExplicitHooks) SecondSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *ParallelExplicitHooks) ExchangeInitialData(ctx context.Context, s *BaseCouplingScheme) error {
	return exchangeInitialData(ctx, s, h.First, h.Exchange)
}

func (h *ParallelExplicitHooks) ExchangeFirstData(ctx context.Context, s *BaseCouplingScheme) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error { return s.SendData(ctx, h.Exchange.Channel, h.Exchange.SendData) })
	p.Go(func(ctx context.Context) error { return s.ReceiveData(ctx, h.Exchange.Channel, h.Exchange.RecvData) })
	if err := p.Wait(); err != nil {
		return err
	}
	return s.NotifyDataHasBeenReceived()
}

func (h *ParallelExplicitHooks) ExchangeSecondData(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

// SerialImplicitHooks implements a two-participant serial implicit
// coupling. The second participant owns the convergence decision: it
// receives the first's data, runs DoImplicitStep, then sends the
// convergence boolean and its own data back; the first receives both.
type SerialImplicitHooks struct {
	Exchange PartnerExchange
	First    bool
}

func (h *SerialImplicitHooks) IsFirst() bool         { return h.First }
func (h *SerialImplicitHooks) OwnsConvergence() bool { return !h.First }
func (h *SerialImplicitHooks) Partners() []string    { return []string{h.Exchange.Partner} }

// ReceiveResultOfFirstAdvance reports whether the second participant has
// received both the convergence flag and data the first participant's
// Advance produced; a no-op for the first participant.
func (h *SerialImplicitHooks) ReceiveResultOfFirstAdvance(ctx context.Context, s *BaseCouplingScheme) error {
	if h.First {
		return nil
	}
	if !s.HasDataBeenReceived() {
		return errors.New(errors.ErrAssertion, "no data has been received from the first participant's advance yet")
	}
	return nil
}

func (h *SerialImplicitHooks) FirstSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *SerialImplicitHooks) SecondSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *SerialImplicitHooks) ExchangeInitialData(ctx context.Context, s *BaseCouplingScheme) error {
	return exchangeInitialData(ctx, s, h.First, h.Exchange)
}

func (h *SerialImplicitHooks) ExchangeFirstData(ctx context.Context, s *BaseCouplingScheme) error {
	if h.First {
		return s.SendData(ctx, h.Exchange.Channel, h.Exchange.SendData)
	}
	if err := s.ReceiveData(ctx, h.Exchange.Channel, h.Exchange.RecvData); err != nil {
		return err
	}
	return s.NotifyDataHasBeenReceived()
}

func (h *SerialImplicitHooks) ExchangeSecondData(ctx context.Context, s *BaseCouplingScheme) error {
	if h.First {
		converged, err := h.Exchange.Channel.ReceiveBool(ctx)
		if err != nil {
			return err
		}
		s.SetHasConverged(converged)
		if err := s.ReceiveDataForWindowEnd(ctx, h.Exchange.Channel, h.Exchange.RecvData); err != nil {
			return err
		}
		return s.NotifyDataHasBeenReceived()
	}

	if err := s.DoImplicitStep(); err != nil {
		return err
	}
	if err := h.Exchange.Channel.SendBool(ctx, s.HasConverged()); err != nil {
		return err
	}
	return s.SendData(ctx, h.Exchange.Channel, h.Exchange.SendData)
}

// ParallelImplicitHooks implements a two-participant parallel implicit
// coupling: data is exchanged concurrently in the first phase, and the
// convergence decision (owned by the second participant) is exchanged
// in the second phase after both sides' values have arrived.
type ParallelImplicitHooks struct {
	Exchange PartnerExchange
	First    bool
}

func (h *ParallelImplicitHooks) IsFirst() bool         { return h.First }
func (h *ParallelImplicitHooks) OwnsConvergence() bool { return !h.First }
func (h *ParallelImplicitHooks) Partners() []string    { return []string{h.Exchange.Partner} }

// ReceiveResultOfFirstAdvance is a no-op: data is exchanged concurrently
// and the convergence flag is handled by ExchangeSecondData, so there is
// no separate first-advance result to wait on.
func (h *ParallelImplicitHooks) ReceiveResultOfFirstAdvance(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *ParallelImplicitHooks) FirstSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *ParallelImplicitHooks) SecondSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *ParallelImplicitHooks) ExchangeInitialData(ctx context.Context, s *BaseCouplingScheme) error {
	return exchangeInitialData(ctx, s, h.First, h.Exchange)
}

func (h *ParallelImplicitHooks) ExchangeFirstData(ctx context.Context, s *BaseCouplingScheme) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(func(ctx context.Context) error { return s.SendData(ctx, h.Exchange.Channel, h.Exchange.SendData) })
	p.Go(func(ctx context.Context) error { return s.ReceiveData(ctx, h.Exchange.Channel, h.Exchange.RecvData) })
	if err := p.Wait(); err != nil {
		return err
	}
	return s.NotifyDataHasBeenReceived()
}

func (h *ParallelImplicitHooks) ExchangeSecondData(ctx context.Context, s *BaseCouplingScheme) error {
	if h.First {
		converged, err := h.Exchange.Channel.ReceiveBool(ctx)
		if err != nil {
			return err
		}
		s.SetHasConverged(converged)
		return nil
	}
	if err := s.DoImplicitStep(); err != nil {
		return err
	}
	return h.Exchange.Channel.SendBool(ctx, s.HasConverged())
}

// MultiHooks implements the hub side of a one-to-many coupling: the
// hub exchanges with every remote partner concurrently each phase, and
// owns the combined convergence decision, which DoImplicitStep makes
// from all measures registered on the hub's ConvergenceSet.
type MultiHooks struct {
	Remotes []PartnerExchange
}

func (h *MultiHooks) IsFirst() bool         { return false }
func (h *MultiHooks) OwnsConvergence() bool { return true }

func (h *MultiHooks) Partners() []string {
	names := make([]string, len(h.Remotes))
	for i, partner := range h.Remotes {
		names[i] = partner.Partner
	}
	return names
}

// ReceiveResultOfFirstAdvance is a no-op: the hub exchanges with every
// partner concurrently and owns the combined convergence decision
// itself, so there is no upstream first-advance result to wait on.
func (h *MultiHooks) ReceiveResultOfFirstAdvance(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *MultiHooks) FirstSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *MultiHooks) SecondSynchronization(ctx context.Context, s *BaseCouplingScheme) error {
	return nil
}

func (h *MultiHooks) ExchangeInitialData(ctx context.Context, s *BaseCouplingScheme) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, partner := range h.Remotes {
		partner := partner
		p.Go(func(ctx context.Context) error { return exchangeInitialData(ctx, s, false, partner) })
	}
	return p.Wait()
}

func (h *MultiHooks) ExchangeFirstData(ctx context.Context, s *BaseCouplingScheme) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, partner := range h.Remotes {
		partner := partner
		p.Go(func(ctx context.Context) error { return s.ReceiveData(ctx, partner.Channel, partner.RecvData) })
	}
	if err := p.Wait(); err != nil {
		return err
	}
	return s.NotifyDataHasBeenReceived()
}

func (h *MultiHooks) ExchangeSecondData(ctx context.Context, s *BaseCouplingScheme) error {
	if err := s.DoImplicitStep(); err != nil {
		return err
	}
	converged := s.HasConverged()

	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, partner := range h.Remotes {
		partner := partner
		p.Go(func(ctx context.Context) error {
			if err := partner.Channel.SendBool(ctx, converged); err != nil {
				return err
			}
			return s.SendData(ctx, partner.Channel, partner.SendData)
		})
	}
	return p.Wait()
}
