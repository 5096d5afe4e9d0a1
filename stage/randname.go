package stage

import (
	"crypto/rand"
)

const alnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// randomAlnum returns n random alphanumeric characters, matching the
// "20-byte random-alphanumeric suffix" scratch-file naming rule and the
// "10-random-alnum" staging-directory naming rule of spec.md §6.
func randomAlnum(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("stage: crypto/rand failed: " + err.Error())
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alnum[int(b)%len(alnum)]
	}
	return string(out)
}

// randomDigest produces 20 random bytes for a freshly staged blob's
// synthetic digest. The result is untagged; Stage passes it through
// blob.Digest.MarkSynthetic so it can never be mistaken for a real SHA-1
// content hash (spec.md §9).
func randomDigest() [20]byte {
	var d [20]byte
	if _, err := rand.Read(d[:]); err != nil {
		panic("stage: crypto/rand failed: " + err.Error())
	}
	return d
}
