package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey canonicalises a matching key so that visually identical room
// names typed on different keyboards land in the same bucket.
func NormalizeKey(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
