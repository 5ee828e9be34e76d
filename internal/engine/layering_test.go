package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildLayersLinearChain(t *testing.T) {
	layering := BuildLayers(
		[]string{"a", "b", "c"},
		map[string][]string{"b": {"a"}, "c": {"b"}},
	)

	require.Len(t, layering.Layers, 3)
	assert.Equal(t, [][]string{{"a"}, {"b"}, {"c"}}, layering.Layers)
	assert.Equal(t, 3, layering.AcyclicLayers)
	assert.Empty(t, layering.CycleMembers)
}

func TestBuildLayersDiamond(t *testing.T) {
	layering := BuildLayers(
		[]string{"root", "left", "right", "join"},
		map[string][]string{
			"left":  {"root"},
			"right": {"root"},
			"join":  {"left", "right"},
		},
	)

	require.Len(t, layering.Layers, 3)
	assert.Equal(t, []string{"root"}, layering.Layers[0])
	assert.Equal(t, []string{"left", "right"}, layering.Layers[1])
	assert.Equal(t, []string{"join"}, layering.Layers[2])
}

func TestBuildLayersTieBreakByInsertionOrder(t *testing.T) {
	// z registered before a; both are roots.
	layering := BuildLayers(
		[]string{"z", "a", "m"},
		map[string][]string{"m": {"z", "a"}},
	)

	require.Len(t, layering.Layers, 2)
	assert.Equal(t, []string{"z", "a"}, layering.Layers[0])
}

func TestBuildLayersIgnoresUnknownParents(t *testing.T) {
	layering := BuildLayers(
		[]string{"a"},
		map[string][]string{"a": {"ghost"}},
	)

	require.Len(t, layering.Layers, 1)
	assert.Equal(t, []string{"a"}, layering.Layers[0])
	assert.Empty(t, layering.CycleMembers)
}

func TestBuildLayersCycleResidue(t *testing.T) {
	// a is a clean root; b and c wait on each other.
	layering := BuildLayers(
		[]string{"a", "b", "c"},
		map[string][]string{"b": {"c"}, "c": {"b"}},
	)

	assert.Equal(t, 1, layering.AcyclicLayers)
	assert.Equal(t, []string{"b", "c"}, layering.CycleMembers)
	require.Len(t, layering.Layers, 3)
	assert.Equal(t, []string{"a"}, layering.Layers[0])
	assert.Equal(t, []string{"b"}, layering.Layers[1])
	assert.Equal(t, []string{"c"}, layering.Layers[2])
}

func TestBuildLayersFullCycle(t *testing.T) {
	layering := BuildLayers(
		[]string{"a", "b"},
		map[string][]string{"a": {"b"}, "b": {"a"}},
	)

	assert.Equal(t, 0, layering.AcyclicLayers)
	assert.Equal(t, []string{"a", "b"}, layering.CycleMembers)
}

func TestBuildLayersEmpty(t *testing.T) {
	layering := BuildLayers(nil, nil)
	assert.Empty(t, layering.Layers)
	assert.Zero(t, layering.AcyclicLayers)
}
