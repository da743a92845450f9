package gene

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// unboundedSpan is the range above which random values are drawn close to zero
const unboundedSpan = 1 << 20

// IntegerGene is a whole number within [Min, Max]
type IntegerGene struct {
	base
	value        int64
	Min          int64
	Max          int64
	AllowInvalid bool
}

// NewIntegerGene creates an integer gene; a reversed range is swapped
func NewIntegerGene(name string, min, max int64) *IntegerGene {
	if min > max {
		min, max = max, min
	}
	g := &IntegerGene{base: newBase(name), Min: min, Max: max}
	g.value = clampInt(0, min, max)
	return g
}

func (g *IntegerGene) Kind() Kind       { return KindScalar }
func (g *IntegerGene) Children() []Gene { return nil }
func (g *IntegerGene) Active() bool     { return true }
func (g *IntegerGene) Weight() float64  { return g.weight }
func (g *IntegerGene) Value() any       { return g.value }

// Int returns the current value
func (g *IntegerGene) Int() int64 { return g.value }

func (g *IntegerGene) Randomize(rnd *Randomness) {
	lo, hi := g.Min, g.Max
	if uint64(hi)-uint64(lo) > unboundedSpan && rnd.Bool(0.9) {
		lo = clampInt(-1000, g.Min, g.Max)
		hi = clampInt(1000, g.Min, g.Max)
	}
	g.value = rnd.IntRange(lo, hi)

	if g.AllowInvalid && rnd.Bool(0.1) {
		if g.Min > math.MinInt64 && rnd.Bool(0.5) {
			g.value = g.Min - 1
		} else if g.Max < math.MaxInt64 {
			g.value = g.Max + 1
		}
	}
}

func (g *IntegerGene) Mutate(rnd *Randomness) bool {
	if g.Min == g.Max && !g.AllowInvalid {
		return false
	}
	old := g.value
	delta := int64(1) << uint(rnd.Intn(11))
	if rnd.Bool(0.5) {
		delta = -delta
	}
	for _, d := range []int64{delta, -delta, 1, -1} {
		next := addSaturating(old, d)
		if !g.AllowInvalid {
			next = clampInt(next, g.Min, g.Max)
		}
		if next != old {
			g.value = next
			return true
		}
	}
	return false
}

func (g *IntegerGene) Copy() Gene {
	c := *g
	c.base = g.clone()
	return &c
}

func (g *IntegerGene) SetValue(v any) error {
	n, err := toInt64(v)
	if err != nil {
		return err
	}
	if !g.AllowInvalid && (n < g.Min || n > g.Max) {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrOutOfDomain, n, g.Min, g.Max)
	}
	g.value = n
	return nil
}

// FloatGene is a real number within [Min, Max], optionally rounded to Precision decimals
type FloatGene struct {
	base
	value        float64
	Min          float64
	Max          float64
	Precision    int
	AllowInvalid bool
}

// NewFloatGene creates a float gene; use math.Inf for open bounds
func NewFloatGene(name string, min, max float64) *FloatGene {
	if min > max {
		min, max = max, min
	}
	g := &FloatGene{base: newBase(name), Min: min, Max: max}
	g.value = math.Max(min, math.Min(0, max))
	return g
}

func (g *FloatGene) Kind() Kind       { return KindScalar }
func (g *FloatGene) Children() []Gene { return nil }
func (g *FloatGene) Active() bool     { return true }
func (g *FloatGene) Weight() float64  { return g.weight }
func (g *FloatGene) Value() any       { return g.value }

// Float returns the current value
func (g *FloatGene) Float() float64 { return g.value }

func (g *FloatGene) Randomize(rnd *Randomness) {
	lo, hi := g.Min, g.Max
	if math.IsInf(lo, -1) || lo < -unboundedSpan {
		lo = math.Max(g.Min, -1000)
	}
	if math.IsInf(hi, 1) || hi > unboundedSpan {
		hi = math.Min(g.Max, 1000)
	}
	if lo > hi {
		lo, hi = g.Min, g.Max
		if math.IsInf(lo, -1) {
			lo = hi - 1000
		}
		if math.IsInf(hi, 1) {
			hi = lo + 1000
		}
	}
	g.value = g.fit(rnd.FloatRange(lo, hi))
}

func (g *FloatGene) Mutate(rnd *Randomness) bool {
	if g.Min == g.Max && !g.AllowInvalid {
		return false
	}
	scale := 1.0
	if !math.IsInf(g.Min, 0) && !math.IsInf(g.Max, 0) {
		scale = math.Max((g.Max-g.Min)/100, math.Pow(10, -float64(g.Precision)))
	}
	old := g.value
	for attempt := 0; attempt < 4; attempt++ {
		next := old + rnd.Gaussian()*scale
		if g.AllowInvalid {
			next = g.round(next)
		} else {
			next = g.fit(next)
		}
		if next != old {
			g.value = next
			return true
		}
		scale *= 2
	}
	return false
}

func (g *FloatGene) Copy() Gene {
	c := *g
	c.base = g.clone()
	return &c
}

func (g *FloatGene) SetValue(v any) error {
	f, err := toFloat64(v)
	if err != nil {
		return err
	}
	if !g.AllowInvalid && (f < g.Min || f > g.Max || math.IsNaN(f)) {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrOutOfDomain, f, g.Min, g.Max)
	}
	g.value = f
	return nil
}

func (g *FloatGene) round(f float64) float64 {
	if g.Precision <= 0 {
		return f
	}
	p := math.Pow(10, float64(g.Precision))
	return math.Round(f*p) / p
}

// fit rounds f to Precision while staying in [Min, Max]. A rounding that
// leaves the range goes to the closest grid point inside it, or to the bound
// itself when the grid has no point in range.
func (g *FloatGene) fit(f float64) float64 {
	f = math.Max(g.Min, math.Min(f, g.Max))
	r := g.round(f)
	if r >= g.Min && r <= g.Max {
		return r
	}
	p := math.Pow(10, float64(g.Precision))
	if r < g.Min {
		r = math.Ceil(g.Min*p) / p
	} else {
		r = math.Floor(g.Max*p) / p
	}
	return math.Max(g.Min, math.Min(r, g.Max))
}

// BooleanGene is true or false
type BooleanGene struct {
	base
	value bool
}

// NewBooleanGene creates a boolean gene set to false
func NewBooleanGene(name string) *BooleanGene {
	return &BooleanGene{base: newBase(name)}
}

func (g *BooleanGene) Kind() Kind                  { return KindScalar }
func (g *BooleanGene) Children() []Gene            { return nil }
func (g *BooleanGene) Active() bool                { return true }
func (g *BooleanGene) Weight() float64             { return g.weight }
func (g *BooleanGene) Value() any                  { return g.value }
func (g *BooleanGene) Randomize(rnd *Randomness)   { g.value = rnd.Bool(0.5) }
func (g *BooleanGene) Mutate(rnd *Randomness) bool { g.value = !g.value; return true }

func (g *BooleanGene) Copy() Gene {
	c := *g
	c.base = g.clone()
	return &c
}

func (g *BooleanGene) SetValue(v any) error {
	switch b := v.(type) {
	case bool:
		g.value = b
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return fmt.Errorf("%w: %q is not a boolean", ErrOutOfDomain, b)
		}
		g.value = parsed
	default:
		return fmt.Errorf("%w: %T is not a boolean", ErrOutOfDomain, v)
	}
	return nil
}

func clampInt(v, min, max int64) int64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func addSaturating(a, b int64) int64 {
	s := a + b
	if b > 0 && s < a {
		return math.MaxInt64
	}
	if b < 0 && s > a {
		return math.MinInt64
	}
	return s
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("%w: %v is not integral", ErrOutOfDomain, n)
		}
		return int64(n), nil
	case json.Number:
		return toInt64(n.String())
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrOutOfDomain, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrOutOfDomain, v)
	}
}

func toFloat64(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrOutOfDomain, n)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("%w: %T is not a number", ErrOutOfDomain, v)
	}
}
