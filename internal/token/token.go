// Package token implements the reference-token codec used to correlate a
// reply with its parent message. Tokens travel inside subject lines as a
// trailing parenthesized suffix, e.g. "Re: Welcome (001GA00004sSae3YAC)".
package token

import (
	"crypto/rand"
	"fmt"
	"regexp"
)

// Length of generated tokens. 18 characters over a 62-symbol alphabet gives
// well over 100 bits of entropy, so generation needs no coordination; the
// store's unique index is the only collision backstop.
const Length = 18

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// pattern is a stable external contract: previously issued tokens must keep
// matching it across releases.
var pattern = regexp.MustCompile(`\(([a-zA-Z0-9]{15,18})\)`)

// maxUnbiasedByte is the largest multiple of len(alphabet) below 256. Bytes
// at or above it are rejected so every symbol is drawn uniformly.
const maxUnbiasedByte = byte(256 / len(alphabet) * len(alphabet))

// Generate returns a fresh random token. Each call is independent; a token
// is never derived from a previously issued one.
func Generate() (string, error) {
	out := make([]byte, 0, Length)
	buf := make([]byte, Length)
	for len(out) < Length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate reference token: %w", err)
		}
		for _, b := range buf {
			if b >= maxUnbiasedByte {
				continue
			}
			out = append(out, alphabet[int(b)%len(alphabet)])
			if len(out) == Length {
				break
			}
		}
	}
	return string(out), nil
}

// Extract scans a subject line for parenthesized tokens and returns the last
// well-formed one. Subjects accumulate prefixes and previously embedded
// tokens as a thread grows; the most recently appended token is the
// authoritative parent reference. A subject with no token is a normal
// new-thread case, reported via ok=false rather than an error.
func Extract(subject string) (tok string, ok bool) {
	matches := pattern.FindAllStringSubmatch(subject, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// Embed appends a token to a subject for outbound transport. It does not
// strip tokens already present; Extract's last-occurrence rule tolerates the
// accumulation.
func Embed(subject, tok string) string {
	return subject + " (" + tok + ")"
}
