package scope_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kamiazya/scopes/pkg/domain"
	"github.com/kamiazya/scopes/pkg/scope"
)

func testDefs() scope.DefinitionLookup {
	defs := map[string]scope.AspectDefinition{
		"priority": {Key: "priority", Type: scope.AspectOrdinal, AllowedValues: []string{"low", "medium", "high"}},
		"estimate": {Key: "estimate", Type: scope.AspectNumeric},
		"done":     {Key: "done", Type: scope.AspectBoolean},
		"owner":    {Key: "owner", Type: scope.AspectString},
	}
	return func(key string) (scope.AspectDefinition, bool) {
		def, ok := defs[key]
		return def, ok
	}
}

func TestParseFilter(t *testing.T) {
	t.Run("valid expressions", func(t *testing.T) {
		for _, src := range []string{
			`priority = high`,
			`priority >= medium and done != true`,
			`(owner = "Alice Smith" or owner = bob) and not done = true`,
			`estimate < 5`,
		} {
			_, err := scope.ParseFilter(src)
			assert.NoError(t, err, src)
		}
	})

	t.Run("invalid expressions", func(t *testing.T) {
		for _, src := range []string{
			``,
			`priority =`,
			`priority high`,
			`(priority = high`,
			`priority = "unterminated`,
			`= high`,
			`priority ! high`,
		} {
			_, err := scope.ParseFilter(src)
			assert.Equal(t, domain.ReasonInvalidFilter, domain.ReasonOf(err), "src=%q", src)
		}
	})
}

func TestFilterMatches(t *testing.T) {
	defs := testDefs()

	aspects := map[string][]string{
		"priority": {"high"},
		"estimate": {"3"},
		"owner":    {"alice", "bob"},
	}

	cases := []struct {
		src  string
		want bool
	}{
		{`priority = high`, true},
		{`priority = low`, false},
		{`priority != low`, true},
		{`priority >= medium`, true},
		{`priority < medium`, false},
		{`estimate < 5`, true},
		{`estimate > 5`, false},
		{`owner = bob`, true},
		{`owner != bob`, false},
		{`done = true`, false},
		{`done != true`, true}, // absent key satisfies !=
		{`priority = high and estimate < 5`, true},
		{`priority = low or estimate < 5`, true},
		{`not priority = low`, true},
		{`not (priority = high and owner = alice)`, false},
	}

	for _, tc := range cases {
		t.Run(tc.src, func(t *testing.T) {
			filter, err := scope.ParseFilter(tc.src)
			require.NoError(t, err)
			assert.Equal(t, tc.want, filter.Matches(aspects, defs))
		})
	}
}

func TestFilterCheck(t *testing.T) {
	defs := testDefs()

	t.Run("well-typed", func(t *testing.T) {
		filter, err := scope.ParseFilter(`priority >= medium and estimate < 5`)
		require.NoError(t, err)
		assert.NoError(t, filter.Check(defs))
	})

	t.Run("undefined aspect", func(t *testing.T) {
		filter, err := scope.ParseFilter(`mystery = x`)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonInvalidFilter, domain.ReasonOf(filter.Check(defs)))
	})

	t.Run("order on unordered type", func(t *testing.T) {
		filter, err := scope.ParseFilter(`owner > alice`)
		require.NoError(t, err)
		assert.Equal(t, domain.ReasonInvalidFilter, domain.ReasonOf(filter.Check(defs)))
	})

	t.Run("ordinal value outside scale", func(t *testing.T) {
		filter, err := scope.ParseFilter(`priority > urgent`)
		require.NoError(t, err)
		assert.Error(t, filter.Check(defs))
	})
}
