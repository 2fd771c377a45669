// Package mapping holds the contract between the spreadsheet schema and the
// form: which page label receives which column, and which document slots
// exist on the upload section.
package mapping

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/otms-autofill/otms-autofill/internal/textnorm"
)

// Kind is the type of control a field is written through.
type Kind string

const (
	KindText   Kind = "text"
	KindSelect Kind = "select"
)

// Field pairs a page label with the spreadsheet column that feeds it.
type Field struct {
	Label  string `yaml:"label"`
	Kind   Kind   `yaml:"kind"`
	Column string `yaml:"column"`
}

// DocumentRequest is one upload slot on the page and the document code of
// the file that belongs in it.
type DocumentRequest struct {
	Label string `yaml:"label"`
	Code  string `yaml:"code"`
}

// PersonNameColumns are the columns a person's name is read from, in order
// of preference.
var PersonNameColumns = []string{"name in ic/passport", "name in ic", "name"}

// FieldMapping is an ordered, read-only label table.
type FieldMapping struct {
	fields    []Field
	documents []DocumentRequest
}

// file is the YAML shape of a mapping override.
type file struct {
	Fields    []Field           `yaml:"fields"`
	Documents []DocumentRequest `yaml:"documents,omitempty"`
}

// New validates and freezes a mapping. Labels must be unique, kinds known,
// and columns are normalized the way spreadsheet headers are.
func New(fields []Field, documents []DocumentRequest) (*FieldMapping, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("mapping has no fields")
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]Field, 0, len(fields))
	for i, f := range fields {
		f.Label = textnorm.Space(f.Label)
		f.Column = textnorm.Column(f.Column)
		if f.Label == "" {
			return nil, fmt.Errorf("field %d: label is required", i+1)
		}
		if f.Column == "" {
			return nil, fmt.Errorf("field %q: column is required", f.Label)
		}
		switch f.Kind {
		case KindText, KindSelect:
		case "":
			f.Kind = KindText
		default:
			return nil, fmt.Errorf("field %q: unknown kind %q", f.Label, f.Kind)
		}
		if _, dup := seen[f.Label]; dup {
			return nil, fmt.Errorf("field %q: duplicate label", f.Label)
		}
		seen[f.Label] = struct{}{}
		out = append(out, f)
	}

	docs := make([]DocumentRequest, 0, len(documents))
	for i, d := range documents {
		d.Label = textnorm.Space(d.Label)
		d.Code = strings.TrimSpace(d.Code)
		if d.Label == "" || d.Code == "" {
			return nil, fmt.Errorf("document %d: label and code are required", i+1)
		}
		docs = append(docs, d)
	}
	return &FieldMapping{fields: out, documents: docs}, nil
}

// Default is the pre-enrolment form's label table.
func Default() *FieldMapping {
	m, err := New(defaultFields, defaultDocuments)
	if err != nil {
		panic(fmt.Sprintf("default mapping is invalid: %v", err))
	}
	return m
}

var defaultFields = []Field{
	{"Name as in IC/Passport", KindText, "name in ic/passport"},
	{"Sex", KindSelect, "sex"},
	{"Country of Birth", KindSelect, "nationality"},
	{"State/Province of Birth", KindSelect, "province of birth"},
	{"Place of Birth", KindText, "place of township"},
	{"IC Number", KindText, "ic number"},
	{"Passport Number", KindText, "passport number"},
	{"Date of Issue", KindText, "passport date of issue"},
	{"Date of Expiry", KindText, "passport date of expiry"},
	{"Date of Birth", KindText, "date of birth"},
	{"Father's Name", KindText, "father name"},
	{"Mother's Name", KindText, "mother name"},
	{"Current Address", KindText, "current address"},
	{"Awarded Institute", KindText, "school name of highest qualification"},
	{"Year", KindSelect, "year of graduation"},
}

// Page text is kept verbatim, spelling included.
var defaultDocuments = []DocumentRequest{
	{"Upload Identity Card (IC)", "002"},
	{"Upload passport", "003"},
	{"Upload highest qualification or most relevent certification", "004"},
}

// Load reads a YAML override. Documents default to the built-in slots when
// the file lists none.
func Load(path string) (*FieldMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Parse decodes a YAML mapping.
func Parse(r io.Reader) (*FieldMapping, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse mapping: %w", err)
	}
	if f.Documents == nil {
		f.Documents = defaultDocuments
	}
	m, err := New(f.Fields, f.Documents)
	if err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	return m, nil
}

// Fields returns a copy of the fields in fill order.
func (m *FieldMapping) Fields() []Field {
	return append([]Field(nil), m.fields...)
}

// Documents returns a copy of the upload slots in upload order.
func (m *FieldMapping) Documents() []DocumentRequest {
	return append([]DocumentRequest(nil), m.documents...)
}

// Len is the number of fields.
func (m *FieldMapping) Len() int { return len(m.fields) }

// WriteYAML writes m in the shape Load accepts.
func (m *FieldMapping) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(file{Fields: m.fields, Documents: m.documents}); err != nil {
		return err
	}
	return enc.Close()
}
