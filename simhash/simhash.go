// Package simhash computes locality-sensitive 64-bit fingerprints of
// distilled content, used to tell "page changed" from "page reworded a
// sentence" when tracking URLs over time.
package simhash

import (
	"hash/fnv"
	"math/bits"
	"strings"
	"unicode"
)

// Fingerprint computes a 64-bit SimHash over word tokens. Tokens are
// case-folded and stripped of surrounding punctuation so cosmetic edits
// do not move the fingerprint.
func Fingerprint(text string) uint64 {
	var vector [64]int
	tokens := 0

	for _, word := range strings.Fields(text) {
		word = strings.TrimFunc(strings.ToLower(word), unicode.IsPunct)
		if word == "" {
			continue
		}
		tokens++

		h := fnv.New64a()
		h.Write([]byte(word))
		hash := h.Sum64()

		for i := 0; i < 64; i++ {
			if hash&(1<<uint(i)) != 0 {
				vector[i]++
			} else {
				vector[i]--
			}
		}
	}
	if tokens == 0 {
		return 0
	}

	var fp uint64
	for i := 0; i < 64; i++ {
		if vector[i] > 0 {
			fp |= 1 << uint(i)
		}
	}
	return fp
}

// Distance returns the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// Similar reports whether two fingerprints are within threshold bits of
// each other.
func Similar(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}
