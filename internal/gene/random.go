package gene

import (
	"math"
	"math/rand"
)

// Randomness is a seeded random source shared by the genes of one search pipeline.
// It is not safe for concurrent use.
type Randomness struct {
	r *rand.Rand
}

// NewRandomness creates a deterministic random source
func NewRandomness(seed int64) *Randomness {
	return &Randomness{r: rand.New(rand.NewSource(seed))}
}

// Float64 returns a value in [0, 1)
func (r *Randomness) Float64() float64 {
	return r.r.Float64()
}

// Bool returns true with probability p
func (r *Randomness) Bool(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.r.Float64() < p
}

// Intn returns a value in [0, n); n <= 0 yields 0
func (r *Randomness) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	return r.r.Intn(n)
}

// IntRange returns a value in [min, max], both inclusive
func (r *Randomness) IntRange(min, max int64) int64 {
	if min >= max {
		return min
	}
	span := uint64(max) - uint64(min)
	if span == math.MaxUint64 {
		return int64(r.r.Uint64())
	}
	return min + int64(r.r.Uint64()%(span+1))
}

// FloatRange returns a value in [min, max)
func (r *Randomness) FloatRange(min, max float64) float64 {
	if min >= max {
		return min
	}
	return min + r.r.Float64()*(max-min)
}

// Gaussian returns a normally distributed value with mean 0 and deviation 1
func (r *Randomness) Gaussian() float64 {
	return r.r.NormFloat64()
}

// Weighted picks an index with probability proportional to its weight.
// Non-positive weights are never picked; -1 means nothing is pickable.
func (r *Randomness) Weighted(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		if w > 0 {
			total += w
		}
	}
	if total <= 0 {
		return -1
	}
	x := r.r.Float64() * total
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if x < w {
			return i
		}
		x -= w
	}
	for i := len(weights) - 1; i >= 0; i-- {
		if weights[i] > 0 {
			return i
		}
	}
	return -1
}

// Perm returns a random permutation of [0, n)
func (r *Randomness) Perm(n int) []int {
	return r.r.Perm(n)
}
