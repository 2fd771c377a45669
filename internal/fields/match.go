package fields

import (
	"strings"

	"github.com/otms-autofill/otms-autofill/internal/textnorm"
)

// MatchOption picks the option label to select for value. Candidates are
// tried in a fixed order: exact trimmed text, case-insensitive equality, then
// the first label containing value case-insensitively. It reports false
// when nothing matches.
func MatchOption(options []string, value string) (string, bool) {
	want := strings.TrimSpace(value)
	if want == "" {
		return "", false
	}
	for _, o := range options {
		if strings.TrimSpace(o) == want {
			return o, true
		}
	}
	for _, o := range options {
		if textnorm.EqualFold(o, want) {
			return o, true
		}
	}
	for _, o := range options {
		if textnorm.ContainsFold(o, want) {
			return o, true
		}
	}
	return "", false
}
