package filler

import (
	"fmt"
	"io"
	"os"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outcome is what happened to one document slot or field.
type Outcome string

const (
	// OutcomeFilled means the value was applied and read back, or the file was uploaded.
	OutcomeFilled Outcome = "filled"
	// OutcomeFailed means the page rejected every attempt.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped means the item was deliberately left alone, e.g. a blank cell.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeMissing means the source was absent: no such column or no such PDF.
	OutcomeMissing Outcome = "missing"
)

// Item records the outcome for one document slot or mapped field.
type Item struct {
	Label   string  `json:"label"`
	Kind    string  `json:"kind,omitempty"`
	Column  string  `json:"column,omitempty"`
	Code    string  `json:"code,omitempty"`
	File    string  `json:"file,omitempty"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// Report is the audit record of one Fill call.
type Report struct {
	RunID      string    `json:"run_id"`
	Row        string    `json:"row,omitempty"`
	URL        string    `json:"url,omitempty"`
	Person     string    `json:"person,omitempty"`
	Folder     string    `json:"folder,omitempty"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Documents  []Item    `json:"documents"`
	Fields     []Item    `json:"fields"`
	Error      string    `json:"error,omitempty"`
}

// Counts tallies field and document outcomes together.
func (r *Report) Counts() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, items := range [][]Item{r.Documents, r.Fields} {
		for _, it := range items {
			counts[it.Outcome]++
		}
	}
	return counts
}

// Failures lists the labels of every failed item, documents first.
func (r *Report) Failures() []string {
	var out []string
	for _, items := range [][]Item{r.Documents, r.Fields} {
		for _, it := range items {
			if it.Outcome == OutcomeFailed {
				out = append(out, it.Label)
			}
		}
	}
	return out
}

// WriteJSON encodes reports as an indented JSON array.
func WriteJSON(w io.Writer, reports []*Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reports); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// ReadJSON decodes reports written by WriteJSON.
func ReadJSON(r io.Reader) ([]*Report, error) {
	var reports []*Report
	if err := json.NewDecoder(r).Decode(&reports); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return reports, nil
}

// SaveJSON writes reports to path, replacing it.
func SaveJSON(path string, reports []*Report) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if err := WriteJSON(f, reports); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
