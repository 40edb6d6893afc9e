package expert

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryCatalog(t *testing.T) {
	r := DefaultRegistry()

	assert.Len(t, r.All(), 6)
	for _, id := range []string{"claude", "codex", "gemini", "qwen", "aider", "opencode"} {
		assert.True(t, r.Has(id), id)
	}

	// Local assistants are free.
	for _, id := range []string{"qwen", "aider", "opencode"} {
		d, err := r.Get(id)
		require.NoError(t, err)
		assert.Zero(t, d.RelativeCost, id)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Get("gpt5")
	require.Error(t, err)

	var unknown *UnknownExpertError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "gpt5", unknown.ID)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry([]Descriptor{{ID: "a"}, {ID: "a"}})
	assert.Error(t, err)

	_, err = NewRegistry([]Descriptor{{ID: ""}})
	assert.Error(t, err)
}

func TestShortlistFallsBackToCatalogOrder(t *testing.T) {
	r := DefaultRegistry()

	assert.Equal(t, []string{"claude", "gemini", "codex"}, r.Shortlist("security"))
	assert.Len(t, r.Shortlist("no-such-category"), 6)
}

func TestHasSpecialty(t *testing.T) {
	r := DefaultRegistry()
	claude, err := r.Get("claude")
	require.NoError(t, err)

	assert.True(t, claude.HasSpecialty("security"))
	assert.False(t, claude.HasSpecialty("frontend"))
}

func TestBuildInstancesSingleReplica(t *testing.T) {
	specs := BuildInstances("claude", 1)
	require.Len(t, specs, 1)

	// The single-replica path must stay identical to a plain invocation.
	assert.Equal(t, FocusGeneral, specs[0].FocusLabel)
	assert.Empty(t, specs[0].Instructions)
	assert.Equal(t, 1000, specs[0].Seed)
	assert.Equal(t, 0.3, specs[0].Temperature)
}

func TestBuildInstancesReplicaDiversity(t *testing.T) {
	specs := BuildInstances("codex", 5)
	require.Len(t, specs, 5)

	wantFocus := []string{FocusConservative, FocusInnovative, FocusOptimizing, "alternative-1", "alternative-2"}
	wantTemp := []float64{0.3, 0.45, 0.6, 0.75, 0.9}

	for i, spec := range specs {
		assert.Equal(t, i+1, spec.InstanceIndex)
		assert.Equal(t, 5, spec.ReplicaCount)
		assert.Equal(t, (i+1)*1000, spec.Seed)
		assert.InDelta(t, wantTemp[i], spec.Temperature, 1e-9)
		assert.Equal(t, wantFocus[i], spec.FocusLabel)
		assert.NotEmpty(t, spec.Instructions)
	}
}

func TestBuildInstancesTemperatureCap(t *testing.T) {
	specs := BuildInstances("qwen", 8)
	for _, spec := range specs {
		assert.LessOrEqual(t, spec.Temperature, 0.9)
	}
	assert.Equal(t, 0.9, specs[7].Temperature)
	assert.Equal(t, fmt.Sprintf("alternative-%d", 5), specs[7].FocusLabel)
}

func TestSynthesisInstance(t *testing.T) {
	spec := SynthesisInstance("gemini", 3)

	assert.Equal(t, SynthesisSeed, spec.Seed)
	assert.Equal(t, SynthesisTemperature, spec.Temperature)
	assert.Equal(t, FocusSynthesizer, spec.FocusLabel)
	assert.Equal(t, 4, spec.InstanceIndex)
	assert.NotEmpty(t, spec.Instructions)
}
