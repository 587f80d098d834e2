package util

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// fingerprintSize is the digest length in bytes; 6 bytes keeps log lines
// short while collisions stay unlikely for the number of live sessions.
const fingerprintSize = 6

// Fingerprint returns a short, stable, non-reversible identifier for a
// client id. Client ids act as bearer tokens, so they are never written to
// logs or history records verbatim.
func Fingerprint(id string) string {
	h, err := blake2b.New(fingerprintSize, nil)
	if err != nil {
		// Only reachable with an invalid size or key.
		panic(err)
	}
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}
