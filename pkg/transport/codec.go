package transport

import "github.com/cynidn2x/precice/pkg/errors"

// PackValues flattens a time-ordered sequence of per-stample value
// vectors into the row-major layout the wire format uses: time-major,
// then node, then component. Every stample's vector must have the same
// width (dim*mesh_size).
func PackValues(values [][]float64) []float64 {
	if len(values) == 0 {
		return nil
	}
	width := len(values[0])
	flat := make([]float64, 0, len(values)*width)
	for _, v := range values {
		flat = append(flat, v...)
	}
	return flat
}

// UnpackValues splits a flat row-major vector of n*width doubles back
// into n per-stample value vectors.
func UnpackValues(flat []float64, n, width int) ([][]float64, error) {
	if n < 0 || width < 0 {
		return nil, errors.New(errors.ErrTransport, "negative n or width in UnpackValues")
	}
	if len(flat) != n*width {
		return nil, errors.WithFields(
			errors.New(errors.ErrTransport, "flat vector length does not match n*width"),
			errors.Fields{"len": len(flat), "n": n, "width": width},
		)
	}
	values := make([][]float64, n)
	for i := 0; i < n; i++ {
		v := make([]float64, width)
		copy(v, flat[i*width:(i+1)*width])
		values[i] = v
	}
	return values, nil
}
