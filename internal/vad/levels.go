package vad

import (
	"math"

	"github.com/voxloop/voxloop/pkg/audio"
)

// RMS computes the root-mean-square energy of one capture frame on the
// normalised [-1, 1] scale. It is the level-monitor step of the pipeline:
// pure, allocation-light, and called once per monitoring tick.
func RMS(frame audio.Frame) float64 {
	return RMSSamples(frame.Samples())
}

// RMSSamples computes the root-mean-square energy of a sample window.
// An empty window has zero energy.
func RMSSamples(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}
