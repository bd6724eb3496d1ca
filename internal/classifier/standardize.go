package classifier

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// scaler centres and scales each input column with statistics fitted on the
// training set. Zero-variance columns are only centred.
type scaler struct {
	mean []float64
	std  []float64
}

func fitScaler(rows [][]float64, width int) *scaler {
	s := &scaler{mean: make([]float64, width), std: make([]float64, width)}
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		mean, variance := stat.PopMeanVariance(col, nil)
		s.mean[j] = mean
		s.std[j] = math.Sqrt(variance)
		if s.std[j] == 0 || math.IsNaN(s.std[j]) {
			s.std[j] = 1
		}
	}
	return s
}

// transform writes the scaled copy of x into dst and returns it.
func (s *scaler) transform(dst, x []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(x))
	}
	for j, v := range x {
		dst[j] = (v - s.mean[j]) / s.std[j]
	}
	return dst
}
