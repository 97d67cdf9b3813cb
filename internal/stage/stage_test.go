package stage

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()
	for _, d := range Builtins() {
		assert.True(t, r.Valid(d.Stage), d.Stage)
	}
	assert.False(t, r.Valid("Nope"))
	assert.Equal(t, []Stage{Archived, Published, Rejected}, r.Terminal())
	assert.True(t, r.IsTerminal(Published))
	assert.False(t, r.IsTerminal(Proofing))
}

func TestAllowed(t *testing.T) {
	r := Default()
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{Unsubmitted, Unassigned, true},
		{Unassigned, Assigned, true},
		{Assigned, UnderReview, true},
		{UnderReview, Accepted, true},
		{Accepted, EditorCopyediting, true},
		{PrePublication, Published, true},
		{Proofing, Rejected, true},
		{Typesetting, Archived, true},
		{Published, Archived, true},
		{Rejected, Unassigned, true},
		{Published, Rejected, false},
		{Archived, Unassigned, false},
		{Unsubmitted, Published, false},
		{Unassigned, "Nope", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Allowed(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestPluginRegistration(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.Register(Definition{
		Stage: "plugin_review",
		From:  []Stage{Accepted},
		To:    []Stage{PrePublication},
	}))
	r, err := b.Build()
	require.NoError(t, err)
	assert.True(t, r.Valid("plugin_review"))
	assert.True(t, r.Allowed(Accepted, "plugin_review"))
	assert.True(t, r.Allowed("plugin_review", PrePublication))
	assert.False(t, r.Allowed("plugin_review", Published))
	assert.Equal(t, "plugin_review", r.defs["plugin_review"].Label)
}

func TestRegisterRejectsDuplicatesAndBadEdges(t *testing.T) {
	b := NewBuilder()
	assert.Error(t, b.Register(Definition{Stage: Accepted}))
	_, err := b.Build()
	assert.Error(t, err)

	b = NewBuilder()
	require.NoError(t, b.Register(Definition{Stage: "x", To: []Stage{"missing"}}))
	_, err = b.Build()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownStage))
}

func TestMustValidPanics(t *testing.T) {
	r := Default()
	assert.Panics(t, func() { r.MustValid("bogus") })
	assert.NotPanics(t, func() { r.MustValid(Accepted) })
}
