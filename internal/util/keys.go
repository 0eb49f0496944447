package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// JoinKey builds a colon-separated cache key: JoinKey("gathering", 7) => "gathering:7".
func JoinKey(prefix string, parts ...any) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// ShortHash returns the first 16 hex chars of sha256(s). Used to keep raw keys out of logs.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
