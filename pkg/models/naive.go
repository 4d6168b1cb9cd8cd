package models

import "math"

// Naive repeats the last observed value, rounded to the nearest integer with
// ties to even, for horizon steps.
func Naive(last float64, horizon int) []float64 {
	if horizon < 1 {
		return nil
	}
	out := make([]float64, horizon)
	v := math.RoundToEven(last)
	for i := range out {
		out[i] = v
	}
	return out
}
