package cache

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
)

// maxKeyLength keeps Redis keys short; longer keys collapse to an md5 digest.
const maxKeyLength = 200

// Key builds a deterministic cache key from the non-nil query parameters:
// "<prefix>:k1:v1|k2:v2|..." with parameters sorted by name.
func Key(prefix string, params map[string]any) string {
	parts := make([]string, 0, len(params))
	for name, value := range params {
		if value == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%v", name, value))
	}
	sort.Strings(parts)

	key := prefix + ":" + strings.Join(parts, "|")
	if len(key) > maxKeyLength {
		key = fmt.Sprintf("%s:%x", prefix, md5.Sum([]byte(key)))
	}
	return key
}
