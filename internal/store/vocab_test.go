package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slateci/slate-api-server/internal/store"
)

func TestNormalizeScienceField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{name: "canonical spelling", input: "Physics", want: "Physics", ok: true},
		{name: "lower case", input: "physics", want: "Physics", ok: true},
		{name: "shouting", input: "HIGH ENERGY PHYSICS", want: "High Energy Physics", ok: true},
		{name: "surrounding whitespace", input: "  Astrophysics ", want: "Astrophysics", ok: true},
		{name: "multi word", input: "condensed matter physics", want: "Condensed Matter Physics", ok: true},
		{name: "unknown field", input: "Underwater Basket Weaving", ok: false},
		{name: "empty", input: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := store.NormalizeScienceField(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestScienceFieldsListedOnce(t *testing.T) {
	fields := store.ScienceFields()
	assert.NotEmpty(t, fields)
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		assert.False(t, seen[f], "duplicate science field %q", f)
		seen[f] = true
		canonical, ok := store.NormalizeScienceField(f)
		assert.True(t, ok)
		assert.Equal(t, f, canonical)
	}
}

func TestIDGeneratorPrefixes(t *testing.T) {
	var gen store.IDGenerator

	assert.True(t, store.IsUserID(gen.NewUserID()))
	assert.True(t, store.IsGroupID(gen.NewGroupID()))
	assert.True(t, store.IsClusterID(gen.NewClusterID()))
	assert.True(t, store.IsInstanceID(gen.NewInstanceID()))
	assert.True(t, store.IsSecretID(gen.NewSecretID()))

	assert.False(t, store.IsGroupID(gen.NewUserID()))
	assert.False(t, store.IsUserID("atlas"))
	assert.NotEqual(t, gen.NewToken(), gen.NewToken())
}
