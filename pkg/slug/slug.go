// Package slug generates public identifiers for shareable songs.
package slug

import (
	"crypto/rand"
	"fmt"
)

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// DefaultLength is long enough that share links cannot be enumerated.
const DefaultLength = 10

// New returns a random base62 slug of the given length.
func New(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid slug length: %d", length)
	}

	// 248 is the largest multiple of 62 below 256; bytes above it are rejected
	// so every character is equally likely.
	const maxByte = 248

	out := make([]byte, length)
	buf := make([]byte, length*2)
	n := 0
	for n < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= maxByte {
				continue
			}
			out[n] = alphabet[int(b)%len(alphabet)]
			n++
			if n == length {
				break
			}
		}
	}
	return string(out), nil
}

// Pair returns two distinct slugs, one per generated version of a song.
func Pair() (string, string, error) {
	a, err := New(DefaultLength)
	if err != nil {
		return "", "", err
	}
	for {
		b, err := New(DefaultLength)
		if err != nil {
			return "", "", err
		}
		if b != a {
			return a, b, nil
		}
	}
}
