package util

import (
	"fmt"
	"hash/fnv"
)

// Fingerprint returns a short FNV-32a digest of an SDP body, used to tell
// descriptions apart in logs without printing them.
func Fingerprint(sdp string) string {
	h := fnv.New32a()
	h.Write([]byte(sdp))
	return fmt.Sprintf("%08x", h.Sum32())
}
