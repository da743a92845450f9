package gene

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGenes() map[string]func() Gene {
	return map[string]func() Gene{
		"integer": func() Gene { return NewIntegerGene("n", -50, 50) },
		"float":   func() Gene { return NewFloatGene("f", 0, 10) },
		"boolean": func() Gene { return NewBooleanGene("b") },
		"string":  func() Gene { return NewStringGene("s", 1, 12) },
		"enum":    func() Gene { return NewEnumGene("e", "red", "green", "blue") },
		"object": func() Gene {
			return NewObjectGene("body",
				NewIntegerGene("id", 1, 1000),
				NewStringGene("name", 0, 8),
				Nullable(NewBooleanGene("admin")),
			)
		},
		"array":  func() Gene { return NewArrayGene("tags", NewStringGene("tag", 1, 5), 1, 4) },
		"choice": func() Gene { return NewChoiceGene("pick", NewIntegerGene("num", 0, 9), NewStringGene("text", 1, 3)) },
		"wrapper": func() Gene {
			return NewWrapperGene(Nullable(NewIntegerGene("limit", 0, 100)), WrapperPolicy{Weight: 2})
		},
	}
}

func TestCopyRoundTrip(t *testing.T) {
	for name, build := range sampleGenes() {
		t.Run(name, func(t *testing.T) {
			rnd := NewRandomness(42)
			original := build()
			original.Randomize(rnd)
			before := original.Value()

			cp := original.Copy()
			assert.Equal(t, before, cp.Value())
			assert.Equal(t, original.Kind(), cp.Kind())
			assert.Nil(t, cp.Parent())

			for i := 0; i < 25; i++ {
				cp.Mutate(rnd)
			}
			assert.Equal(t, before, original.Value(), "mutating the copy must not touch the original")
		})
	}
}

func TestDomainContainment(t *testing.T) {
	rnd := NewRandomness(7)

	t.Run("integer", func(t *testing.T) {
		g := NewIntegerGene("n", -5, 5)
		for i := 0; i < 1000; i++ {
			if i%3 == 0 {
				g.Randomize(rnd)
			} else {
				g.Mutate(rnd)
			}
			require.GreaterOrEqual(t, g.Int(), int64(-5))
			require.LessOrEqual(t, g.Int(), int64(5))
		}
	})

	t.Run("float", func(t *testing.T) {
		g := NewFloatGene("f", 0.5, 2.5)
		g.Precision = 2
		for i := 0; i < 1000; i++ {
			if i%3 == 0 {
				g.Randomize(rnd)
			} else {
				g.Mutate(rnd)
			}
			require.GreaterOrEqual(t, g.Float(), 0.5)
			require.LessOrEqual(t, g.Float(), 2.5)
		}
	})

	t.Run("float grid off the bounds", func(t *testing.T) {
		for _, tt := range []struct{ lo, hi float64 }{{0.14, 0.2}, {0.11, 0.19}, {-0.26, -0.21}} {
			g := NewFloatGene("f", tt.lo, tt.hi)
			g.Precision = 1
			for i := 0; i < 500; i++ {
				if i%2 == 0 {
					g.Randomize(rnd)
				} else {
					g.Mutate(rnd)
				}
				require.GreaterOrEqual(t, g.Float(), tt.lo)
				require.LessOrEqual(t, g.Float(), tt.hi)
			}
		}
	})

	t.Run("string", func(t *testing.T) {
		g := NewStringGene("s", 2, 4)
		for i := 0; i < 1000; i++ {
			if i%3 == 0 {
				g.Randomize(rnd)
			} else {
				g.Mutate(rnd)
			}
			n := len([]rune(g.String()))
			require.GreaterOrEqual(t, n, 2)
			require.LessOrEqual(t, n, 4)
		}
	})

	t.Run("enum", func(t *testing.T) {
		g := NewEnumGene("e", "a", "b", "c")
		for i := 0; i < 300; i++ {
			g.Mutate(rnd)
			require.Contains(t, []any{"a", "b", "c"}, g.Value())
		}
	})

	t.Run("array", func(t *testing.T) {
		g := NewArrayGene("xs", NewIntegerGene("x", 0, 3), 1, 3)
		for i := 0; i < 1000; i++ {
			if i%5 == 0 {
				g.Randomize(rnd)
			} else {
				g.Mutate(rnd)
			}
			require.GreaterOrEqual(t, g.Len(), 1)
			require.LessOrEqual(t, g.Len(), 3)
			for _, e := range g.Children() {
				v := e.Value().(int64)
				require.True(t, v >= 0 && v <= 3)
			}
		}
	})
}

func TestAllowInvalidLeavesDomain(t *testing.T) {
	g := NewIntegerGene("n", 3, 3)
	assert.False(t, g.Mutate(NewRandomness(1)), "single value domain cannot mutate")

	g.AllowInvalid = true
	assert.True(t, g.Mutate(NewRandomness(1)))
	assert.NotEqual(t, int64(3), g.Int())
	assert.NoError(t, g.SetValue(int64(99)))
}

func TestUnproductiveMutationIsNoOp(t *testing.T) {
	rnd := NewRandomness(3)

	empty := NewEnumGene("e")
	assert.False(t, empty.Mutate(rnd))
	assert.Nil(t, empty.Value())

	single := NewEnumGene("e", "only")
	assert.False(t, single.Mutate(rnd))

	frozen := Pinned(NewStringGene("s", 0, 4))
	assert.False(t, frozen.Mutate(rnd))
	assert.Equal(t, "", frozen.Value())

	noChoice := NewChoiceGene("c")
	assert.False(t, noChoice.Mutate(rnd))
}

func TestSetValueRejectsOutOfDomain(t *testing.T) {
	tests := []struct {
		name  string
		gene  Gene
		value any
	}{
		{"integer above max", NewIntegerGene("n", 0, 10), 11},
		{"integer not integral", NewIntegerGene("n", 0, 10), 1.5},
		{"float below min", NewFloatGene("f", 1, 2), 0.5},
		{"string too long", NewStringGene("s", 0, 3), "abcd"},
		{"enum unknown", NewEnumGene("e", "x", "y"), "z"},
		{"boolean garbage", NewBooleanGene("b"), "maybe"},
		{"array too large", NewArrayGene("a", NewBooleanGene("x"), 0, 1), []any{true, false}},
		{"object wrong type", NewObjectGene("o"), "text"},
		{"null for required", NewWrapperGene(NewIntegerGene("n", 0, 1), WrapperPolicy{}), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.gene.SetValue(tt.value)
			assert.ErrorIs(t, err, ErrOutOfDomain)
		})
	}
}

func TestWrapperIsTransparent(t *testing.T) {
	inner := NewIntegerGene("limit", 0, 100)
	stack := NewWrapperGene(Nullable(inner), WrapperPolicy{Weight: 3})

	require.NoError(t, stack.SetValue(42))
	assert.Equal(t, int64(42), stack.Value())
	assert.Equal(t, int64(42), inner.Value())
	assert.Equal(t, "limit", stack.Name())
	assert.Same(t, inner, Unwrap(stack))
	assert.InDelta(t, 3.0, stack.Weight(), 1e-9)

	require.NoError(t, stack.SetValue(nil))
	assert.Nil(t, stack.Value())
	assert.False(t, stack.Active())

	// an absent nullable comes back on the next mutation
	assert.True(t, stack.Mutate(NewRandomness(5)))
	assert.True(t, stack.Active())
	assert.Equal(t, int64(42), stack.Value())
}

func TestPinnedWrapperVetoesMutation(t *testing.T) {
	rnd := NewRandomness(11)

	frozen := Pinned(NewStringGene("version", 1, 5), "v1")
	frozen.Randomize(rnd)
	assert.Equal(t, "v1", frozen.Value())
	assert.False(t, frozen.Mutate(rnd))

	// writes reach the inner gene; only mutation is restricted
	require.NoError(t, frozen.SetValue("v9"))
	assert.Equal(t, "v9", frozen.Value())
	assert.ErrorIs(t, frozen.SetValue("toolong"), ErrOutOfDomain)

	examples := Pinned(NewStringGene("version", 1, 5), "v1", "v2", "v3")
	examples.Randomize(rnd)
	before := examples.Value()
	assert.True(t, examples.Mutate(rnd))
	assert.NotEqual(t, before, examples.Value())
	assert.Contains(t, []any{"v1", "v2", "v3"}, examples.Value())
}

func TestSeededWrapper(t *testing.T) {
	rnd := NewRandomness(17)
	id := Seeded(NewIntegerGene("id", 1, 1000), 1)

	seen := map[int64]bool{}
	productive := 0
	for i := 0; i < 100; i++ {
		if id.Mutate(rnd) {
			productive++
		}
		seen[id.Value().(int64)] = true
	}
	assert.Greater(t, productive, 50)
	assert.Greater(t, len(seen), 2, "a single example does not freeze the gene")

	require.NoError(t, id.SetValue(411))
	assert.Equal(t, int64(411), id.Value())

	hits := 0
	for i := 0; i < 200; i++ {
		id.Randomize(rnd)
		if id.Value() == int64(1) {
			hits++
		}
	}
	assert.Greater(t, hits, 20, "examples are favoured when randomizing")
}

func TestChoiceSetValueSelectsVariant(t *testing.T) {
	g := NewChoiceGene("id", NewIntegerGene("num", 0, 9), NewStringGene("text", 1, 10))

	require.NoError(t, g.SetValue(7))
	assert.Equal(t, 0, g.ActiveIndex())
	assert.Equal(t, int64(7), g.Value())

	require.NoError(t, g.SetValue("hello"))
	assert.Equal(t, 1, g.ActiveIndex())
	assert.Equal(t, "hello", g.Value())

	// the active variant is tried first
	require.NoError(t, g.SetValue(3))
	assert.Equal(t, 1, g.ActiveIndex())
	assert.Equal(t, "3", g.Value())
}

func TestObjectValueOmitsAbsentFields(t *testing.T) {
	g := NewObjectGene("body",
		NewIntegerGene("id", 0, 10),
		Nullable(NewStringGene("note", 0, 10)),
	)
	require.NoError(t, g.SetValue(map[string]any{"id": 3}))

	v := g.Value().(map[string]any)
	assert.Equal(t, int64(3), v["id"])
	_, present := v["note"]
	assert.False(t, present)
}

type suffixAttacks []string

func (s suffixAttacks) Variants(value string) []string {
	out := make([]string, 0, len(s))
	for _, suffix := range s {
		out = append(out, value+suffix)
	}
	return out
}

func TestStringAttackMutation(t *testing.T) {
	g := NewStringGene("q", 0, 20)
	require.NoError(t, g.SetValue("abc"))
	g.Attacks = suffixAttacks{"'", "' OR '1'='1"}
	g.AttackProbability = 1

	assert.True(t, g.Mutate(NewRandomness(2)))
	assert.Contains(t, []string{"abc'", "abc' OR '1'='1"}, g.String())

	// variants breaking the length bound are never applied
	short := NewStringGene("q", 0, 3)
	require.NoError(t, short.SetValue("abc"))
	short.Attacks = suffixAttacks{"' OR '1'='1"}
	short.AttackProbability = 1
	for i := 0; i < 50; i++ {
		short.Mutate(NewRandomness(int64(i)))
		assert.LessOrEqual(t, len(short.String()), 3)
	}
}

func TestPathAndFind(t *testing.T) {
	note := NewStringGene("note", 0, 10)
	root := NewObjectGene("body",
		NewIntegerGene("id", 0, 10),
		NewObjectGene("meta", Nullable(note)),
	)

	p := PathOf(note)
	assert.Equal(t, Path{"body", "meta", "note"}, p)
	assert.Equal(t, "body.meta.note", p.String())
	assert.True(t, p.Equal(ParsePath("body.meta.note")))

	found := Find(root, p)
	require.NotNil(t, found)
	assert.Equal(t, KindWrapper, found.Kind())
	assert.Same(t, note, Unwrap(found))

	cp := root.Copy()
	inCopy := Find(cp, p)
	require.NotNil(t, inCopy)
	assert.NotSame(t, found, inCopy)
	assert.Equal(t, p, PathOf(Unwrap(inCopy)))

	assert.Nil(t, Find(root, Path{"other", "id"}))
	assert.Nil(t, Find(root, Path{"body", "missing"}))
}

func TestArrayElementsAreAddressable(t *testing.T) {
	g := NewArrayGene("ids", NewIntegerGene("id", 0, 9), 3, 3)
	for i, e := range g.Children() {
		assert.Equal(t, Path{"ids", strconv.Itoa(i)}, PathOf(e))
	}
	assert.NotNil(t, Find(g, Path{"ids", "2"}))
}

func TestImpactSurvivesCopy(t *testing.T) {
	g := NewIntegerGene("n", 0, 10)
	g.Impact().Record(true)
	g.Impact().Record(false)

	cp := g.Copy()
	assert.Equal(t, 2, cp.Impact().Mutations)
	assert.InDelta(t, 0.5, cp.Impact().Rate(), 1e-9)

	cp.Impact().Record(true)
	assert.Equal(t, 2, g.Impact().Mutations)
}
