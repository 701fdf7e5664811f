package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	t.Parallel()

	t.Run("parameters are sorted by name", func(t *testing.T) {
		t.Parallel()

		key := Key("aggregation", map[string]any{
			"zone":               "dock",
			"distance_threshold": 2.0,
			"time_window_ms":     250,
		})
		assert.Equal(t, "aggregation:distance_threshold:2|time_window_ms:250|zone:dock", key)
	})

	t.Run("same parameters yield the same key", func(t *testing.T) {
		t.Parallel()

		a := Key("aggregation", map[string]any{"a": 1, "b": "x", "c": true})
		b := Key("aggregation", map[string]any{"c": true, "b": "x", "a": 1})
		assert.Equal(t, a, b)
	})

	t.Run("nil parameters are skipped", func(t *testing.T) {
		t.Parallel()

		key := Key("aggregation", map[string]any{"zone": nil, "limit": 10})
		assert.Equal(t, "aggregation:limit:10", key)
	})

	t.Run("long keys collapse to a digest", func(t *testing.T) {
		t.Parallel()

		key := Key("aggregation", map[string]any{
			"filter": strings.Repeat("x", 300),
		})
		assert.True(t, strings.HasPrefix(key, "aggregation:"))
		// md5 hex digest after the prefix.
		assert.Len(t, key, len("aggregation:")+32)
	})
}
