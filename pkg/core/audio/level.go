package audio

import "math"

// Level is the root-mean-square energy of samples, normalized to [0, 1].
func Level(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		n := float64(s) / 32768.0
		sum += n * n
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak is the largest absolute amplitude in samples, normalized to [0, 1].
func Peak(samples []int16) float64 {
	var peak float64
	for _, s := range samples {
		// float64 so that negating -32768 cannot overflow
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak / 32768.0
}
