package locator

import "fmt"

// Kind is the type of control a label is paired with.
type Kind int

const (
	// KindText is a single line input or a textarea.
	KindText Kind = iota
	// KindSelect is a drop-down list.
	KindSelect
	// KindFile is a file input, used for document uploads.
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindSelect:
		return "select"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Strategy turns a quoted label literal into an XPath expression.
type Strategy struct {
	Name  string
	XPath func(lit string) string
}

var (
	rowInput = Strategy{"table-row input", func(l string) string {
		return "//tr[td[normalize-space()=" + l + "]]/td[position()=2]//input[not(@type='hidden')]"
	}}
	rowTextarea = Strategy{"table-row textarea", func(l string) string {
		return "//tr[td[normalize-space()=" + l + "]]/td[position()=2]//textarea"
	}}
	followingInput = Strategy{"following input", func(l string) string {
		return "//*[normalize-space()=" + l + "]/following::input[not(@type='hidden')][1]"
	}}
	followingTextarea = Strategy{"following textarea", func(l string) string {
		return "//*[normalize-space()=" + l + "]/following::textarea[1]"
	}}
	rowSelect = Strategy{"table-row select", func(l string) string {
		return "//tr[td[normalize-space()=" + l + "]]/td[position()=2]//select"
	}}
	followingSelect = Strategy{"following select", func(l string) string {
		return "//*[normalize-space()=" + l + "]/following::select[1]"
	}}
	followingFile = Strategy{"following file input", func(l string) string {
		return "//td[normalize-space()=" + l + "]/following::input[@type='file'][1]"
	}}
)

// Strategies returns the ordered strategies for kind, most specific first.
func Strategies(kind Kind) []Strategy {
	switch kind {
	case KindText:
		return []Strategy{rowInput, rowTextarea, followingInput, followingTextarea}
	case KindSelect:
		return []Strategy{rowSelect, followingSelect}
	case KindFile:
		return []Strategy{followingFile}
	}
	return nil
}

// XPaths expands the strategies for kind against label, in order.
func XPaths(kind Kind, label string) []string {
	lit := XPathLiteral(label)
	strategies := Strategies(kind)
	out := make([]string, len(strategies))
	for i, s := range strategies {
		out[i] = s.XPath(lit)
	}
	return out
}
