// Package cachekey builds the deterministic strings used to deduplicate
// opened stores and data cache entries. Parts are JSON-encoded (Go sorts map
// keys, so encoding is deterministic) and joined with a NUL byte so part
// boundaries cannot collide with part contents.
package cachekey

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Encode builds a cache key from the given parts. Parts must be
// JSON-encodable; anything else is a programmer error and panics.
func Encode(parts ...any) string {
	var b strings.Builder
	for i, part := range parts {
		if i > 0 {
			b.WriteByte(0)
		}
		raw, err := json.Marshal(part)
		if err != nil {
			panic(fmt.Sprintf("cachekey: unencodable part %T: %v", part, err))
		}
		b.Write(raw)
	}
	return b.String()
}
