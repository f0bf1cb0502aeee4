package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVarContext_SeedOverridesInOrder(t *testing.T) {
	c := NewVarContext()
	c.Seed(map[string]any{"env": "staging", "replicas": 2})
	c.Seed(map[string]any{"env": "prod"})

	v, ok := c.Get("env")
	assert.True(t, ok)
	assert.Equal(t, "prod", v)

	v, ok = c.Get("replicas")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestVarContext_SnapshotIsIndependent(t *testing.T) {
	c := NewVarContext()
	c.Set("k", "v1")

	snap := c.Snapshot()
	c.Set("k", "v2")

	assert.Equal(t, "v1", snap["k"], "snapshot is detached from later writes")
	snap["other"] = "x"
	_, ok := c.Get("other")
	assert.False(t, ok)
}
