package gene

import (
	"fmt"
	"unicode/utf8"
)

const (
	minPrintable = ' '
	maxPrintable = '~'

	// random strings stay short unless the schema forces otherwise
	defaultRandomLength = 16
)

// AttackSource proposes hostile variants of a string value, such as SQL
// metacharacter suffixes for a parameter tagged as an injection point
type AttackSource interface {
	Variants(value string) []string
}

// StringGene is a text value with bounded length
type StringGene struct {
	base
	value     string
	MinLength int
	MaxLength int

	// Seeds are values learnt from the SUT (examples, taint specializations)
	Seeds []string
	// Attacks, when set, is tried with AttackProbability before a plain edit
	Attacks           AttackSource
	AttackProbability float64
	AllowInvalid      bool
}

// NewStringGene creates a string gene; maxLength <= 0 means unbounded
func NewStringGene(name string, minLength, maxLength int) *StringGene {
	if minLength < 0 {
		minLength = 0
	}
	if maxLength > 0 && maxLength < minLength {
		maxLength = minLength
	}
	g := &StringGene{base: newBase(name), MinLength: minLength, MaxLength: maxLength}
	g.value = fillTo("", minLength)
	return g
}

func (g *StringGene) Kind() Kind       { return KindScalar }
func (g *StringGene) Children() []Gene { return nil }
func (g *StringGene) Active() bool     { return true }
func (g *StringGene) Weight() float64  { return g.weight }
func (g *StringGene) Value() any       { return g.value }

// String returns the current value
func (g *StringGene) String() string { return g.value }

// AddSeed registers a value learnt from the SUT, ignoring duplicates
func (g *StringGene) AddSeed(s string) {
	for _, existing := range g.Seeds {
		if existing == s {
			return
		}
	}
	g.Seeds = append(g.Seeds, s)
}

func (g *StringGene) Randomize(rnd *Randomness) {
	if len(g.Seeds) > 0 && rnd.Bool(0.2) {
		seed := g.Seeds[rnd.Intn(len(g.Seeds))]
		if g.fits(seed) {
			g.value = seed
			return
		}
	}

	hi := g.MinLength + defaultRandomLength
	if g.MaxLength > 0 && hi > g.MaxLength {
		hi = g.MaxLength
	}
	n := int(rnd.IntRange(int64(g.MinLength), int64(hi)))
	runes := make([]rune, n)
	for i := range runes {
		runes[i] = randomChar(rnd)
	}
	g.value = string(runes)
}

// Mutate follows the classic string operator mix: rare seeding, mostly single
// character deltas, then deletion of the last character, then insertion.
func (g *StringGene) Mutate(rnd *Randomness) bool {
	if g.Attacks != nil && rnd.Bool(g.AttackProbability) && g.attack(rnd) {
		return true
	}

	p := rnd.Float64()
	switch {
	case p < 0.02 && g.seed(rnd):
		return true
	case p < 0.8 && g.changeChar(rnd):
		return true
	case p < 0.9 && g.deleteLast():
		return true
	}
	if g.insertChar(rnd) {
		return true
	}
	// the picked operator was not applicable, fall back in order
	return g.changeChar(rnd) || g.deleteLast() || g.seed(rnd)
}

func (g *StringGene) Copy() Gene {
	c := *g
	c.base = g.clone()
	c.Seeds = append([]string(nil), g.Seeds...)
	return &c
}

func (g *StringGene) SetValue(v any) error {
	var s string
	switch x := v.(type) {
	case string:
		s = x
	case fmt.Stringer:
		s = x.String()
	case nil:
		return fmt.Errorf("%w: null string", ErrOutOfDomain)
	default:
		s = fmt.Sprint(x)
	}
	if !g.fits(s) {
		return fmt.Errorf("%w: length %d not in [%d, %d]", ErrOutOfDomain, utf8.RuneCountInString(s), g.MinLength, g.MaxLength)
	}
	g.value = s
	return nil
}

func (g *StringGene) fits(s string) bool {
	if g.AllowInvalid {
		return true
	}
	n := utf8.RuneCountInString(s)
	return n >= g.MinLength && (g.MaxLength <= 0 || n <= g.MaxLength)
}

func (g *StringGene) attack(rnd *Randomness) bool {
	var candidates []string
	for _, v := range g.Attacks.Variants(g.value) {
		if v != g.value && g.fits(v) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return false
	}
	g.value = candidates[rnd.Intn(len(candidates))]
	return true
}

func (g *StringGene) seed(rnd *Randomness) bool {
	var candidates []string
	for _, s := range g.Seeds {
		if s != g.value && g.fits(s) {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return false
	}
	g.value = candidates[rnd.Intn(len(candidates))]
	return true
}

func (g *StringGene) changeChar(rnd *Randomness) bool {
	runes := []rune(g.value)
	if len(runes) == 0 {
		return false
	}
	i := rnd.Intn(len(runes))
	delta := rune(1 + rnd.Intn(3))
	if rnd.Bool(0.5) {
		delta = -delta
	}
	next := runes[i] + delta
	if next < minPrintable || next > maxPrintable {
		next = runes[i] - delta
	}
	if next < minPrintable || next > maxPrintable || next == runes[i] {
		next = randomChar(rnd)
	}
	if next == runes[i] {
		return false
	}
	runes[i] = next
	g.value = string(runes)
	return true
}

func (g *StringGene) deleteLast() bool {
	runes := []rune(g.value)
	if len(runes) == 0 || (len(runes) <= g.MinLength && !g.AllowInvalid) {
		return false
	}
	g.value = string(runes[:len(runes)-1])
	return true
}

func (g *StringGene) insertChar(rnd *Randomness) bool {
	runes := []rune(g.value)
	if g.MaxLength > 0 && len(runes) >= g.MaxLength && !g.AllowInvalid {
		return false
	}
	c := randomChar(rnd)
	if rnd.Bool(0.5) || len(runes) == 0 {
		runes = append(runes, c)
	} else {
		i := rnd.Intn(len(runes))
		runes = append(runes[:i], append([]rune{c}, runes[i:]...)...)
	}
	g.value = string(runes)
	return true
}

func randomChar(rnd *Randomness) rune {
	// letters and digits are favoured over punctuation
	if rnd.Bool(0.8) {
		const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
		return rune(alnum[rnd.Intn(len(alnum))])
	}
	return rune(int(minPrintable) + rnd.Intn(int(maxPrintable-minPrintable)+1))
}

func fillTo(s string, n int) string {
	for utf8.RuneCountInString(s) < n {
		s += "a"
	}
	return s
}

// EnumGene picks one value from a finite domain
type EnumGene struct {
	base
	Values []any
	index  int
}

// NewEnumGene creates an enum gene positioned on the first value
func NewEnumGene(name string, values ...any) *EnumGene {
	return &EnumGene{base: newBase(name), Values: values}
}

func (g *EnumGene) Kind() Kind       { return KindScalar }
func (g *EnumGene) Children() []Gene { return nil }
func (g *EnumGene) Active() bool     { return true }
func (g *EnumGene) Weight() float64  { return g.weight }

func (g *EnumGene) Value() any {
	if len(g.Values) == 0 {
		return nil
	}
	return g.Values[g.index]
}

// Index returns the position of the current value in Values
func (g *EnumGene) Index() int { return g.index }

func (g *EnumGene) Randomize(rnd *Randomness) {
	g.index = rnd.Intn(len(g.Values))
}

// Mutate re-rolls to a different value; an enum with fewer than two values cannot change
func (g *EnumGene) Mutate(rnd *Randomness) bool {
	if len(g.Values) < 2 {
		return false
	}
	next := rnd.Intn(len(g.Values) - 1)
	if next >= g.index {
		next++
	}
	g.index = next
	return true
}

func (g *EnumGene) Copy() Gene {
	c := *g
	c.base = g.clone()
	c.Values = append([]any(nil), g.Values...)
	return &c
}

func (g *EnumGene) SetValue(v any) error {
	want := fmt.Sprint(v)
	for i, candidate := range g.Values {
		if fmt.Sprint(candidate) == want {
			g.index = i
			return nil
		}
	}
	return fmt.Errorf("%w: %v not in enum %v", ErrOutOfDomain, v, g.Values)
}
