package translate

import (
	"strings"

	"github.com/teranos/tren/errors"
)

// CheckSpecialTokens compares how often each special token occurs in the
// source and in its translation. A mismatch means the model dropped or
// invented a token, which is worth another attempt.
func CheckSpecialTokens(source, translated string, tokens []string) error {
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		want := strings.Count(source, tok)
		got := strings.Count(translated, tok)
		if want != got {
			return Transient(errors.Newf("special token %q: source has %d, translation has %d", tok, want, got))
		}
	}
	return nil
}
