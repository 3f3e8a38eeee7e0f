package model

import (
	"fmt"
	"math"
)

// Scaler standardizes feature columns to zero mean and unit variance,
// using the statistics captured at fit time.
type Scaler struct {
	Means []float64 `json:"means"`
	Stds  []float64 `json:"stds"`
}

// Fit computes column means and standard deviations from the training matrix.
func (s *Scaler) Fit(rows [][]float64) error {
	if len(rows) == 0 {
		return fmt.Errorf("scaler: no training rows")
	}

	cols := len(rows[0])
	s.Means = make([]float64, cols)
	s.Stds = make([]float64, cols)

	for _, row := range rows {
		for j, v := range row {
			s.Means[j] += v
		}
	}
	n := float64(len(rows))
	for j := range s.Means {
		s.Means[j] /= n
	}

	for _, row := range rows {
		for j, v := range row {
			d := v - s.Means[j]
			s.Stds[j] += d * d
		}
	}
	for j := range s.Stds {
		s.Stds[j] = math.Sqrt(s.Stds[j] / n)
		// Constant columns scale to zero offset instead of dividing by zero.
		if s.Stds[j] == 0 {
			s.Stds[j] = 1
		}
	}

	return nil
}

// Transform scales a single row in place using the fitted statistics.
func (s *Scaler) Transform(row []float64) []float64 {
	out := make([]float64, len(row))
	for j, v := range row {
		if j >= len(s.Means) {
			break
		}
		out[j] = (v - s.Means[j]) / s.Stds[j]
	}
	return out
}

// TransformAll scales every row of a matrix.
func (s *Scaler) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		out[i] = s.Transform(row)
	}
	return out
}
