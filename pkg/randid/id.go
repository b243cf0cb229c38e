// Package randid generates short random identifiers for connections and
// other process-local handles.
package randid

import "math/rand/v2"

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Generate returns a random lowercase alphanumeric string of length n.
func Generate(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}

// Prefixed returns prefix + "-" + Generate(n).
func Prefixed(prefix string, n int) string {
	return prefix + "-" + Generate(n)
}
