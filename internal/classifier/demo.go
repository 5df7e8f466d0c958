package classifier

import (
	"fmt"
	"math"

	"github.com/example/tumor-report/internal/domain"
)

// Demo strategy names.
const (
	DemoRandom    = "random"
	DemoHeuristic = "heuristic"
)

// Rand is the randomness a demo strategy draws from.
type Rand interface {
	Float64() float64
}

// DemoStrategy picks a label when no real classifier answered.
type DemoStrategy interface {
	Name() string
	Choose(t Tensor) domain.Label
}

// NewDemoStrategy returns the strategy registered under name.
func NewDemoStrategy(name string, rng Rand) (DemoStrategy, error) {
	switch name {
	case "", DemoRandom:
		return &RandomDemo{rng: rng}, nil
	case DemoHeuristic:
		return &HeuristicDemo{rng: rng}, nil
	}
	return nil, fmt.Errorf("unknown demo strategy %q", name)
}

// RandomDemo picks either label with equal probability.
type RandomDemo struct {
	rng Rand
}

func (d *RandomDemo) Name() string { return DemoRandom }

func (d *RandomDemo) Choose(Tensor) domain.Label {
	return coinFlip(d.rng)
}

// HeuristicDemo scores simple image statistics and flips one verdict in ten
// at random.
type HeuristicDemo struct {
	rng Rand
}

func (d *HeuristicDemo) Name() string { return DemoHeuristic }

func (d *HeuristicDemo) Choose(t Tensor) domain.Label {
	label := ComputeStats(t).Verdict()
	if d.rng.Float64() < 0.1 {
		return coinFlip(d.rng)
	}
	return label
}

func coinFlip(rng Rand) domain.Label {
	if rng.Float64() < 0.5 {
		return domain.LabelTumor
	}
	return domain.LabelNoTumor
}

// Stats are grayscale statistics of a tensor.
type Stats struct {
	Brightness      float64
	Contrast        float64
	EdgeDensity     float64
	TextureVariance float64
	HistogramStd    float64
}

// Verdict scores the statistics; two or more points means tumor.
func (s Stats) Verdict() domain.Label {
	score := 0
	switch {
	case s.Brightness > 120:
		score++
	case s.Brightness < 80:
		score--
	}
	if s.Contrast > 40 {
		score++
	}
	if s.EdgeDensity > 0.1 {
		score++
	}
	if s.TextureVariance > 500 {
		score++
	}
	if s.HistogramStd > 2000 {
		score++
	}
	if score >= 2 {
		return domain.LabelTumor
	}
	return domain.LabelNoTumor
}

const (
	edgeThreshold = 150
	textureRadius = 2
)

func ComputeStats(t Tensor) Stats {
	gray := t.Gray()
	w, h := t.Width, t.Height
	if len(gray) == 0 {
		return Stats{}
	}

	var stats Stats
	stats.Brightness, stats.Contrast = meanStd(gray)

	var hist [256]float64
	for _, v := range gray {
		hist[int(math.Min(255, math.Round(v)))]++
	}
	_, stats.HistogramStd = meanStd(hist[:])

	at := func(x, y int) float64 { return gray[y*w+x] }

	// Sobel magnitude over interior pixels.
	edges, interior := 0, 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			gx := at(x+1, y-1) + 2*at(x+1, y) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x-1, y) - at(x-1, y+1)
			gy := at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1) - at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1)
			if math.Hypot(gx, gy) > edgeThreshold {
				edges++
			}
			interior++
		}
	}
	if interior > 0 {
		stats.EdgeDensity = float64(edges) / float64(interior)
	}

	// Residual against a 5x5 box blur.
	var residual []float64
	side := float64((2*textureRadius + 1) * (2*textureRadius + 1))
	for y := textureRadius; y < h-textureRadius; y++ {
		for x := textureRadius; x < w-textureRadius; x++ {
			sum := 0.0
			for dy := -textureRadius; dy <= textureRadius; dy++ {
				for dx := -textureRadius; dx <= textureRadius; dx++ {
					sum += at(x+dx, y+dy)
				}
			}
			residual = append(residual, at(x, y)-sum/side)
		}
	}
	if len(residual) > 0 {
		_, std := meanStd(residual)
		stats.TextureVariance = std * std
	}
	return stats
}

func meanStd(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
