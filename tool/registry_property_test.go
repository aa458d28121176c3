package tool

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// Property: for any sequence of registrations, Enum preserves registration
// order, every registered name is resolvable, and duplicates are rejected
// without disturbing the order.
func TestProperty_Registry_OrderAndMembership(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 20).Draw(rt, "n")
		r := NewRegistry()

		names := make([]string, n)
		for i := 0; i < n; i++ {
			names[i] = fmt.Sprintf("tool_%d", i)
			require.NoError(rt, r.Register(newTestTool(names[i])))
		}

		// Duplicate registrations fail and change nothing.
		dup := rapid.SampledFrom(names).Draw(rt, "dup")
		require.Error(rt, r.Register(newTestTool(dup)))

		assert.Equal(rt, names, r.Enum())
		assert.True(rt, r.HasAll(names))
		assert.False(rt, r.HasAll(append(append([]string{}, names...), "tool_missing")))

		for _, name := range names {
			got, err := r.Get(name)
			require.NoError(rt, err)
			assert.Equal(rt, name, got.Name())
		}

		// Unregistering a random name removes exactly that name from the
		// enumeration while keeping relative order of the rest.
		victim := rapid.SampledFrom(names).Draw(rt, "victim")
		assert.True(rt, r.Unregister(victim))

		want := make([]string, 0, n-1)
		for _, name := range names {
			if name != victim {
				want = append(want, name)
			}
		}
		assert.Equal(rt, want, r.Enum())
	})
}
