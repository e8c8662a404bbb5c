// slug.go derives the canonical collection identifier for an organization from its
// human-readable name. The result is safe to use as a SQL table name on every supported backend.
package slug

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Prefix namespaces every tenant collection away from system tables.
const Prefix = "org_"

// MaxLength is the longest identifier Postgres accepts without silent truncation.
const MaxLength = 63

const hashSuffixLen = 8

// ErrInvalidName is returned when a name normalizes to an empty or reserved identifier.
var ErrInvalidName = errors.New("invalid organization name")

var reserved = map[string]struct{}{
	"admin":             {},
	"admins":            {},
	"organizations":     {},
	"system":            {},
	"master":            {},
	"public":            {},
	"schema_migrations": {},
}

// Generate maps an organization name to its collection identifier.
// "Acme Corp" becomes "org_acme_corp"; "Café  Ünïcode!" becomes "org_cafe_unicode".
func Generate(name string) (string, error) {
	body := normalize(name)
	if body == "" {
		return "", fmt.Errorf("%w: %q has no usable characters", ErrInvalidName, name)
	}
	if _, ok := reserved[body]; ok {
		return "", fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}

	if len(Prefix)+len(body) > MaxLength {
		sum := sha256.Sum256([]byte(body))
		keep := MaxLength - len(Prefix) - hashSuffixLen - 1
		body = strings.TrimRight(body[:keep], "_") + "_" + hex.EncodeToString(sum[:])[:hashSuffixLen]
	}

	return Prefix + body, nil
}

// normalize folds accents, lower-cases and collapses every run of
// characters outside [a-z0-9] into a single underscore.
func normalize(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(strings.TrimSpace(folded))

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return b.String()
}
