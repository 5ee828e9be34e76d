package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInputSpecDependencies(t *testing.T) {
	spec := Inputs(
		In("total", Dep("fetch", "items")),
		In("threshold", Lit(10)),
		In("count", JQRef("fetch", ".items | length")),
		In("extra", Dep("other", "value")),
	)

	assert.Equal(t, []string{"fetch", "other"}, spec.Dependencies())
}

func TestInputSpecRender(t *testing.T) {
	spec := Inputs(
		In("limit", Lit(5)),
		In("items", Dep("fetch", "items")),
		In("count", JQRef("fetch", ".items | length")),
	)

	rendered := spec.Render()
	assert.Equal(t, 5, rendered["limit"])
	assert.Equal(t, map[string]any{"source": "fetch", "key": "items"}, rendered["items"])
	assert.Equal(t, map[string]any{"source": "fetch", "jq": ".items | length"}, rendered["count"])
}

func TestEmptyInputSpec(t *testing.T) {
	var spec InputSpec
	assert.Empty(t, spec.Dependencies())
	assert.Empty(t, spec.Render())
}
