package slug

import (
	"crypto/rand"
	"fmt"
	"strings"
	"unicode"
)

// lowercase base36, slugs appear in public URLs
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

const (
	maxBaseLength = 180
	suffixLength  = 6
)

// Random creates a cryptographically secure random slug.
func Random(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("invalid slug length: %d", length)
	}

	// Rejection sampling to avoid modulo bias.
	// 252 is the largest multiple of 36 below 256.
	const maxRandomByte = 252

	out := make([]byte, length)
	buf := make([]byte, length*2)
	written := 0

	for written < length {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read secure random bytes: %w", err)
		}

		for _, b := range buf {
			if b >= maxRandomByte {
				continue
			}
			out[written] = alphabet[int(b)%len(alphabet)]
			written++
			if written == length {
				break
			}
		}
	}

	return string(out), nil
}

// Slugify lowercases title and joins its letters and digits with single dashes.
func Slugify(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			dash = false
		default:
			dash = true
		}
		if b.Len() >= maxBaseLength {
			break
		}
	}
	return b.String()
}

// ForTitle returns a listing slug: the slugified title plus a random suffix,
// so two venues with the same name never collide.
func ForTitle(title string) (string, error) {
	suffix, err := Random(suffixLength)
	if err != nil {
		return "", err
	}
	base := Slugify(title)
	if base == "" {
		return suffix, nil
	}
	return base + "-" + suffix, nil
}
