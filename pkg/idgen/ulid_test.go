package idgen_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kamiazya/scopes/pkg/idgen"
)

func TestGeneratorProducesSortedIDs(t *testing.T) {
	gen := idgen.NewGenerator()

	prev := ""
	for i := 0; i < 1000; i++ {
		id := gen.New()
		assert.Len(t, id, idgen.EncodedLen)
		assert.True(t, idgen.IsULID(id), "generated id %q is not a ULID", id)
		if prev != "" {
			assert.Greater(t, id, prev, "ids must be strictly monotonic")
		}
		prev = id
	}
}

func TestIsULID(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{"generated", idgen.MustGenerateSortableID(), true},
		{"empty", "", false},
		{"too short", "01ARZ3NDEKTSV4RRFFQ69G5FA", false},
		{"too long", "01ARZ3NDEKTSV4RRFFQ69G5FAVV", false},
		{"invalid characters", "01ARZ3NDEKTSV4RRFFQ69G5FAU", false}, // U not in Crockford set
		{"alias-looking", "quiet-river-x7k2", false},
		{"valid canonical", "01ARZ3NDEKTSV4RRFFQ69G5FAV", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, idgen.IsULID(tc.input))
		})
	}
}
