// Package hashutil implements the fingerprint normalizer and SimHash
// near-duplicate primitives the deduplicator is built on.
package hashutil

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"math/bits"
	"regexp"
	"strconv"
	"strings"
)

// NormalizeMessage lowercases, collapses interior whitespace runs to a
// single space, and trims leading/trailing whitespace.
func NormalizeMessage(msg string) string {
	fields := strings.Fields(strings.ToLower(msg))
	return strings.Join(fields, " ")
}

// Fingerprint computes the 64-char lowercase hex SHA-256 over
// user_id|event_type|normalized_message|source.
func Fingerprint(userID, eventType, message, source string) string {
	normalized := NormalizeMessage(message)
	h := sha256.Sum256([]byte(userID + "|" + eventType + "|" + normalized + "|" + source))
	return hex.EncodeToString(h[:])
}

var tokenPattern = regexp.MustCompile(`\w+`)

// tokenize splits on non-word boundaries, lowercases, and drops tokens
// of length <= 2.
func tokenize(message string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(message), -1)
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		if len(t) > 2 {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// SimHash computes a 64-bit locality-sensitive hash over the message's
// word tokens. An empty token set hashes to 0.
func SimHash(message string) uint64 {
	tokens := tokenize(message)
	if len(tokens) == 0 {
		return 0
	}

	var v [64]int
	for _, tok := range tokens {
		sum := md5.Sum([]byte(tok))
		h := hexToUint64(sum[:8]) // first 16 hex chars == first 8 bytes
		for i := 0; i < 64; i++ {
			if h&(1<<uint(i)) != 0 {
				v[i]++
			} else {
				v[i]--
			}
		}
	}

	var out uint64
	for i := 0; i < 64; i++ {
		if v[i] > 0 {
			out |= 1 << uint(i)
		}
	}
	return out
}

func hexToUint64(b []byte) uint64 {
	var h uint64
	for _, c := range b {
		h = h<<8 | uint64(c)
	}
	return h
}

// Hamming returns the popcount of the XOR of x and y: 0 for identical
// hashes, 64 for maximally different ones.
func Hamming(x, y uint64) int {
	return bits.OnesCount64(x ^ y)
}

// FormatSimHash renders a SimHash as the decimal string stored as the
// sorted-set member alongside its insertion timestamp.
func FormatSimHash(h uint64) string {
	return strconv.FormatUint(h, 10)
}

// ParseSimHash parses a decimal string produced by FormatSimHash. A
// malformed member (should not happen, but the KV store is untrusted
// input from the core's point of view) decodes to 0.
func ParseSimHash(s string) uint64 {
	h, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return h
}
