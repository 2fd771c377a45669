package locator

import "strings"

// XPathLiteral quotes s as an XPath 1.0 string literal. XPath has no escape
// sequences, so a string holding both quote characters is spelled as a
// concat() of single-quoted runs joined by "'".
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(quoted, `, "'", `) + ")"
}
