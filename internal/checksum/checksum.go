// Package checksum computes the fingerprints used for change detection.
package checksum

import (
	"crypto/md5" //nolint:gosec // equality check only
	"encoding/hex"
	"strings"
)

// Sum returns the hex-encoded MD5 digest of data.
func Sum(data []byte) string {
	h := md5.Sum(data) //nolint:gosec
	return hex.EncodeToString(h[:])
}

// Fingerprint digests parts in order, separated by a NUL byte so that
// ("ab", "c") and ("a", "bc") differ.
func Fingerprint(parts ...string) string {
	return Sum([]byte(strings.Join(parts, "\x00")))
}
