package cplscheme

import (
	"context"
	"sort"

	"github.com/cynidn2x/precice/pkg/errors"
	"github.com/cynidn2x/precice/pkg/transport"
)

// SendData writes every datum in data across ch. Data flagged for
// substep exchange sends its full stample history (time count,
// ascending times, then packed values/gradients); everything else
// sends only its latest sample.
func (s *BaseCouplingScheme) SendData(ctx context.Context, ch transport.Channel, data map[int]*CouplingDatum) error {
	ids := sortedIDs(data)
	for _, id := range ids {
		datum := data[id]
		stamples := datum.Stamples()
		if len(stamples) == 0 {
			return errors.WithFields(
				errors.New(errors.ErrAssertion, "attempted to send a datum with no recorded samples"),
				errors.Fields{"data": datum.Name()},
			)
		}

		if datum.ExchangeSubsteps() {
			if err := ch.SendInt(ctx, int32(len(stamples))); err != nil {
				return err
			}
			times := make([]float64, len(stamples))
			for i, st := range stamples {
				times[i] = st.Time
			}
			if err := ch.SendDoubleVector(ctx, times); err != nil {
				return err
			}
			values := make([][]float64, len(stamples))
			for i, st := range stamples {
				values[i] = st.Sample.Values
			}
			if err := ch.SendDoubleVector(ctx, transport.PackValues(values)); err != nil {
				return err
			}
			if datum.HasGradient() {
				grads := make([][]float64, len(stamples))
				for i, st := range stamples {
					grads[i] = st.Sample.Gradients
				}
				if err := ch.SendDoubleVector(ctx, transport.PackValues(grads)); err != nil {
					return err
				}
			}
		} else {
			latest := stamples[len(stamples)-1].Sample
			if err := ch.SendDoubleVector(ctx, latest.Values); err != nil {
				return err
			}
			if datum.HasGradient() {
				if err := ch.SendDoubleVector(ctx, latest.Gradients); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ReceiveData reads every datum in data from ch, storing it at the
// scheme's current time. Callers are responsible for calling
// NotifyDataHasBeenReceived once all of a phase's receives complete.
func (s *BaseCouplingScheme) ReceiveData(ctx context.Context, ch transport.Channel, data map[int]*CouplingDatum) error {
	ids := sortedIDs(data)
	for _, id := range ids {
		datum := data[id]

		if datum.ExchangeSubsteps() {
			n, err := ch.ReceiveInt(ctx)
			if err != nil {
				return err
			}
			times, err := ch.ReceiveDoubleVector(ctx)
			if err != nil {
				return err
			}
			flat, err := ch.ReceiveDoubleVector(ctx)
			if err != nil {
				return err
			}
			width := datum.Dimension()
			values, err := transport.UnpackValues(flat, int(n), width)
			if err != nil {
				return err
			}
			var grads [][]float64
			if datum.HasGradient() {
				flatGrads, err := ch.ReceiveDoubleVector(ctx)
				if err != nil {
					return err
				}
				grads, err = transport.UnpackValues(flatGrads, int(n), width*datum.MeshDimension())
				if err != nil {
					return err
				}
			}
			for i := 0; i < int(n); i++ {
				sample := Sample{Values: values[i]}
				if grads != nil {
					sample.Gradients = grads[i]
				}
				datum.SetSampleAtTime(times[i], sample)
			}
		} else {
			values, err := ch.ReceiveDoubleVector(ctx)
			if err != nil {
				return err
			}
			sample := Sample{Values: values}
			if datum.HasGradient() {
				grads, err := ch.ReceiveDoubleVector(ctx)
				if err != nil {
					return err
				}
				sample.Gradients = grads
			}
			datum.SetSampleAtTime(s.Time(), sample)
		}
	}
	return nil
}

// ReceiveDataForWindowEnd receives data the way ReceiveData does, but
// with the scheme's clock temporarily advanced to the end of the
// upcoming time window, then restored. This is used by the first
// participant to receive data whose sender already moved on to the
// next window's end time.
func (s *BaseCouplingScheme) ReceiveDataForWindowEnd(ctx context.Context, ch transport.Channel, data map[int]*CouplingDatum) error {
	oldTime := s.Time()
	s.clock.Reset(oldTime + s.nextWindowSize)
	defer s.clock.Reset(oldTime)
	return s.ReceiveData(ctx, ch, data)
}

func sortedIDs(data map[int]*CouplingDatum) []int {
	ids := make([]int, 0, len(data))
	for id := range data {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
