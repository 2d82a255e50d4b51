package vclock_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/kamiazya/scopes/pkg/vclock"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		name string
		a, b vclock.Clock
		want vclock.Ordering
	}{
		{"empty vs empty", vclock.Clock{}, vclock.Clock{}, vclock.Equal},
		{"nil vs empty", nil, vclock.Clock{}, vclock.Equal},
		{"identical", vclock.Clock{"d1": 3}, vclock.Clock{"d1": 3}, vclock.Equal},
		{"strictly before", vclock.Clock{"d1": 1}, vclock.Clock{"d1": 2}, vclock.Before},
		{"before with extra component", vclock.Clock{"d1": 1}, vclock.Clock{"d1": 1, "d2": 1}, vclock.Before},
		{"strictly after", vclock.Clock{"d1": 5, "d2": 1}, vclock.Clock{"d1": 4, "d2": 1}, vclock.After},
		{"concurrent", vclock.Clock{"d1": 2, "d2": 0}, vclock.Clock{"d1": 1, "d2": 3}, vclock.Concurrent},
		{"disjoint devices", vclock.Clock{"d1": 1}, vclock.Clock{"d2": 1}, vclock.Concurrent},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.a.Compare(tc.b))
		})
	}
}

func TestIncrementDoesNotMutate(t *testing.T) {
	a := vclock.Clock{"d1": 1}
	b := a.Increment("d1")

	assert.Equal(t, uint64(1), a.Get("d1"))
	assert.Equal(t, uint64(2), b.Get("d1"))
	assert.Equal(t, vclock.Before, a.Compare(b))
}

func TestMergeExample(t *testing.T) {
	a := vclock.Clock{"d1": 5, "d2": 0}
	b := vclock.Clock{"d1": 0, "d2": 3}

	m := a.Merge(b)
	assert.Equal(t, vclock.Clock{"d1": 5, "d2": 3}, m)
}

func genClock() *rapid.Generator[vclock.Clock] {
	return rapid.Custom(func(t *rapid.T) vclock.Clock {
		devices := rapid.SliceOfDistinct(
			rapid.SampledFrom([]string{"d1", "d2", "d3", "d4"}),
			func(s string) string { return s },
		).Draw(t, "devices")

		c := vclock.New()
		for _, d := range devices {
			c[d] = rapid.Uint64Range(0, 8).Draw(t, "counter-"+d)
		}
		return c
	})
}

func TestMergeLaws(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genClock().Draw(t, "a")
			if a.Merge(a).Compare(a) != vclock.Equal {
				t.Fatalf("merge(a, a) != a for %v", a)
			}
		})
	})

	t.Run("commutative", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genClock().Draw(t, "a")
			b := genClock().Draw(t, "b")
			if a.Merge(b).Compare(b.Merge(a)) != vclock.Equal {
				t.Fatalf("merge(a, b) != merge(b, a) for %v, %v", a, b)
			}
		})
	})

	t.Run("associative", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genClock().Draw(t, "a")
			b := genClock().Draw(t, "b")
			c := genClock().Draw(t, "c")
			if a.Merge(b).Merge(c).Compare(a.Merge(b.Merge(c))) != vclock.Equal {
				t.Fatalf("merge not associative for %v, %v, %v", a, b, c)
			}
		})
	})

	t.Run("dominates both inputs", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genClock().Draw(t, "a")
			b := genClock().Draw(t, "b")
			m := a.Merge(b)
			if !m.Descends(a) || !m.Descends(b) {
				t.Fatalf("merge result %v does not dominate inputs %v, %v", m, a, b)
			}
		})
	})
}

func TestCompareLaws(t *testing.T) {
	t.Run("antisymmetric", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genClock().Draw(t, "a")
			b := genClock().Draw(t, "b")

			ab := a.Compare(b)
			ba := b.Compare(a)

			switch ab {
			case vclock.Before:
				if ba != vclock.After {
					t.Fatalf("a<b but b.Compare(a)=%v", ba)
				}
			case vclock.After:
				if ba != vclock.Before {
					t.Fatalf("a>b but b.Compare(a)=%v", ba)
				}
			case vclock.Equal:
				if ba != vclock.Equal {
					t.Fatalf("a=b but b.Compare(a)=%v", ba)
				}
			case vclock.Concurrent:
				if ba != vclock.Concurrent {
					t.Fatalf("a||b but b.Compare(a)=%v", ba)
				}
			}
		})
	})

	t.Run("increment always happens after", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			a := genClock().Draw(t, "a")
			d := rapid.SampledFrom([]string{"d1", "d2", "d3", "d4"}).Draw(t, "device")
			if a.Increment(d).Compare(a) != vclock.After {
				t.Fatalf("increment(%v, %s) is not after the original", a, d)
			}
		})
	})
}
