package facematch

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/kozaktomas/face-gate/internal/facegate"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxIdentityIDLength matches the identity_id column width.
const maxIdentityIDLength = 255

// NormalizeIdentityID trims an identity id and converts it to Unicode NFC so
// that visually identical ids map to the same gallery key.
func NormalizeIdentityID(id string) (string, error) {
	id = norm.NFC.String(strings.TrimSpace(id))
	if id == "" {
		return "", fmt.Errorf("%w: empty", facegate.ErrInvalidIdentity)
	}
	if len(id) > maxIdentityIDLength {
		return "", fmt.Errorf("%w: longer than %d bytes", facegate.ErrInvalidIdentity, maxIdentityIDLength)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("%w: contains control characters", facegate.ErrInvalidIdentity)
		}
	}
	return id, nil
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// IdentityFileStem derives an identity id from an image file name for bulk
// enrollment: extension dropped, diacritics removed, spaces become dashes.
func IdentityFileStem(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		name = name[:i]
	}
	name = RemoveDiacritics(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "-")
}
