package filler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"

	"github.com/otms-autofill/otms-autofill/internal/browser/dom"
	"github.com/otms-autofill/otms-autofill/internal/fields"
	"github.com/otms-autofill/otms-autofill/internal/locator"
	"github.com/otms-autofill/otms-autofill/internal/mapping"
	"github.com/otms-autofill/otms-autofill/internal/session"
	"github.com/otms-autofill/otms-autofill/internal/sheet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const formURL = "https://otms.example/PreEnrolment/NewPreEnrolment.aspx"

const formHTML = `
<html><body><form>
<table>
  <tr><td>Upload Identity Card (IC)</td><td><input type="file" name="ic"><input type="submit" name="ic_btn" value="Upload"></td></tr>
  <tr><td>Upload passport</td><td><input type="file" name="passport"><input type="submit" name="passport_btn" value="Upload"></td></tr>
  <tr><td>Upload highest qualification or most relevent certification</td><td><input type="file" name="cert"><input type="submit" name="cert_btn" value="Upload"></td></tr>
  <tr><td>Name as in IC/Passport</td><td><input type="text" name="name"></td></tr>
  <tr><td>Sex</td><td><select name="sex"><option>-- Select --</option><option>Male</option><option>Female</option></select></td></tr>
  <tr><td>Father's Name</td><td><input type="text" name="father"></td></tr>
  <tr><td>Place of Birth</td><td><input type="text" name="pob"></td></tr>
  <tr><td>Passport Number</td><td><input type="text" name="ppno"></td></tr>
</table>
<input type="submit" name="save" value="Save">
</form></body></html>`

func testMapping(t *testing.T) *mapping.FieldMapping {
	t.Helper()
	m, err := mapping.New([]mapping.Field{
		{Label: "Name as in IC/Passport", Kind: mapping.KindText, Column: "name in ic/passport"},
		{Label: "Sex", Kind: mapping.KindSelect, Column: "sex"},
		{Label: "Father's Name", Kind: mapping.KindText, Column: "father name"},
		{Label: "Place of Birth", Kind: mapping.KindText, Column: "place of birth"},
		{Label: "Passport Number", Kind: mapping.KindText, Column: "passport number"},
		{Label: "Marital Status", Kind: mapping.KindText, Column: "marital status"},
	}, mapping.Default().Documents())
	require.NoError(t, err)
	return m
}

func johnSmith() sheet.Record {
	return sheet.NewRecord(map[string]string{
		"Sr.No":               "1",
		"Name in IC/Passport": "John Smith",
		"Sex":                 "male",
		"Father Name":         "Robert Smith",
		"Place of Birth":      "  ",
		"Marital Status":      "Single",
	})
}

// personDir lays out base/John Smith with the IC and certificate PDFs.
func personDir(t *testing.T) (base, folder string) {
	t.Helper()
	base = t.TempDir()
	folder = filepath.Join(base, "John Smith")
	require.NoError(t, os.MkdirAll(folder, 0o755))
	for _, name := range []string{"002 John Smith.pdf", "004_john_smith.pdf", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(folder, name), []byte("%PDF-1.4"), 0o644))
	}
	return base, folder
}

func fetchForm(src string) dom.Option {
	return dom.WithFetcher(func(context.Context, string) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(src)), nil
	})
}

func newFiller(t *testing.T) *Filler {
	t.Helper()
	logger := zaptest.NewLogger(t)
	loc := locator.New(5*time.Millisecond, logger, locator.WithStrategyFloor(5*time.Millisecond))
	return New(loc, fields.Options{
		Retries:       2,
		LocateTimeout: 30 * time.Millisecond,
		ReadyTimeout:  100 * time.Millisecond,
		StaleBackoff:  time.Millisecond,
	}, 50*time.Millisecond, logger)
}

// statuses records sink updates. The sink runs on the filling goroutine.
type statuses struct {
	mu   sync.Mutex
	msgs []string
	on   func(session.Status)
}

func (s *statuses) sink(st session.Status) {
	s.mu.Lock()
	s.msgs = append(s.msgs, st.Message)
	on := s.on
	s.mu.Unlock()
	if on != nil {
		on(st)
	}
}

func (s *statuses) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

func (s *statuses) last() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return ""
	}
	return s.msgs[len(s.msgs)-1]
}

func valueOf(t *testing.T, page *dom.Page, name string) string {
	t.Helper()
	node := htmlquery.FindOne(page.Snapshot(), "//*[@name='"+name+"']")
	require.NotNil(t, node)
	return htmlquery.SelectAttr(node, "value")
}

func selectedOf(t *testing.T, page *dom.Page, name string) string {
	t.Helper()
	node := htmlquery.FindOne(page.Snapshot(), "//select[@name='"+name+"']/option[@selected]")
	if node == nil {
		return ""
	}
	return htmlquery.InnerText(node)
}

var ignoreVolatile = cmpopts.IgnoreFields(Report{}, "RunID", "StartedAt", "FinishedAt")

func TestFill(t *testing.T) {
	base, folder := personDir(t)
	page, err := dom.New("<html></html>", fetchForm(formHTML))
	require.NoError(t, err)
	st := &statuses{}
	f := newFiller(t)

	report, err := f.Fill(context.Background(), page, johnSmith(), Options{
		URL:     formURL,
		BaseDir: base,
		Row:     "1",
		Mapping: testMapping(t),
		Status:  st.sink,
	})
	require.NoError(t, err)

	want := &Report{
		Row:    "1",
		URL:    formURL,
		Person: "John Smith",
		Folder: folder,
		State:  Complete,
		Documents: []Item{
			{Label: "Upload Identity Card (IC)", Code: "002", File: filepath.Join(folder, "002 John Smith.pdf"), Outcome: OutcomeFilled},
			{Label: "Upload passport", Code: "003", Outcome: OutcomeMissing, Reason: "no matching PDF"},
			{Label: "Upload highest qualification or most relevent certification", Code: "004", File: filepath.Join(folder, "004_john_smith.pdf"), Outcome: OutcomeFilled},
		},
		Fields: []Item{
			{Label: "Name as in IC/Passport", Kind: "text", Column: "name in ic/passport", Outcome: OutcomeFilled},
			{Label: "Sex", Kind: "select", Column: "sex", Outcome: OutcomeFilled},
			{Label: "Father's Name", Kind: "text", Column: "father name", Outcome: OutcomeFilled},
			{Label: "Place of Birth", Kind: "text", Column: "place of birth", Outcome: OutcomeSkipped, Reason: "blank value"},
			{Label: "Passport Number", Kind: "text", Column: "passport number", Outcome: OutcomeMissing, Reason: "column not in file"},
			{Label: "Marital Status", Kind: "text", Column: "marital status", Outcome: OutcomeFailed},
		},
	}
	failedReason := report.Fields[5].Reason
	report.Fields[5].Reason = ""
	if diff := cmp.Diff(want, report, ignoreVolatile); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	assert.Contains(t, failedReason, `"Marital Status"`)
	assert.NotEmpty(t, report.RunID)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
	assert.Equal(t, Complete, f.State())

	assert.Equal(t, []string{formURL}, page.Navigations())
	assert.Equal(t, "John Smith", valueOf(t, page, "name"))
	assert.Equal(t, "Male", selectedOf(t, page, "sex"))
	assert.Equal(t, "Robert Smith", valueOf(t, page, "father"))
	assert.Empty(t, valueOf(t, page, "pob"))

	uploads := page.Uploads()
	require.Len(t, uploads, 2)
	assert.Equal(t, []string{filepath.Join(folder, "002 John Smith.pdf")}, uploads[0].Paths)
	assert.Equal(t, []string{filepath.Join(folder, "004_john_smith.pdf")}, uploads[1].Paths)
	assert.Len(t, page.Clicks(), 2, "each upload is followed by its upload button")
	assert.Equal(t, 2, page.Postbacks())

	assert.Equal(t, []string{
		MsgNavigating,
		MsgLocating,
		"Searching PDF: 002 for John Smith…",
		"Uploading: Upload Identity Card (IC)",
		"Searching PDF: 003 for John Smith…",
		"Searching PDF: 004 for John Smith…",
		"Uploading: Upload highest qualification or most relevent certification",
		"Filling: Name as in IC/Passport",
		"Filling: Sex",
		"Filling: Father's Name",
		"Filling: Marital Status",
		MsgComplete,
	}, st.all())

	counts := report.Counts()
	assert.Equal(t, 5, counts[OutcomeFilled])
	assert.Equal(t, []string{"Marital Status"}, report.Failures())
}

func TestFillStopBeforeUploads(t *testing.T) {
	base, _ := personDir(t)
	page, err := dom.New("<html></html>", fetchForm(formHTML))
	require.NoError(t, err)
	signal := session.NewSignal(5 * time.Millisecond)
	st := &statuses{on: func(s session.Status) {
		if s.Message == MsgNavigating {
			signal.Stop()
		}
	}}
	f := newFiller(t)

	report, err := f.Fill(context.Background(), page, johnSmith(), Options{
		URL:        formURL,
		BaseDir:    base,
		Mapping:    testMapping(t),
		Checkpoint: signal,
		Status:     st.sink,
	})
	require.NoError(t, err, "a user stop is not an error")
	assert.Equal(t, Stopped, report.State)
	assert.Equal(t, Stopped, f.State())
	assert.Empty(t, page.Uploads())
	assert.Empty(t, report.Documents)
	assert.Empty(t, report.Fields)
	assert.Equal(t, session.StoppedMessage, st.last())
}

func TestFillStopBeforeNavigation(t *testing.T) {
	page, err := dom.New(formHTML)
	require.NoError(t, err)
	signal := session.NewSignal(0)
	signal.Stop()

	report, err := newFiller(t).Fill(context.Background(), page, johnSmith(), Options{
		URL:        formURL,
		Mapping:    testMapping(t),
		Checkpoint: signal,
	})
	require.NoError(t, err)
	assert.Equal(t, Stopped, report.State)
	assert.Empty(t, page.Navigations())
}

func TestFillStopBetweenFields(t *testing.T) {
	page, err := dom.New(formHTML)
	require.NoError(t, err)
	signal := session.NewSignal(0)
	st := &statuses{on: func(s session.Status) {
		if s.Message == "Filling: Sex" {
			signal.Stop()
		}
	}}

	report, err := newFiller(t).Fill(context.Background(), page, johnSmith(), Options{
		Mapping:    testMapping(t),
		Checkpoint: signal,
		Status:     st.sink,
	})
	require.NoError(t, err)
	assert.Equal(t, Stopped, report.State)
	require.Len(t, report.Fields, 2, "the field in flight completes, nothing after it starts")
	assert.Equal(t, OutcomeFilled, report.Fields[1].Outcome)
	assert.Equal(t, "Male", selectedOf(t, page, "sex"))
	assert.Empty(t, valueOf(t, page, "father"))
}

func TestFillPauseResumesAtNextField(t *testing.T) {
	types := 0
	page, err := dom.New(formHTML, dom.WithHook(func(op dom.Op, _ *html.Node) error {
		if op == dom.OpType {
			types++
		}
		return nil
	}))
	require.NoError(t, err)

	signal := session.NewSignal(5 * time.Millisecond)
	st := &statuses{on: func(s session.Status) {
		if s.Message == "Filling: Sex" {
			signal.Pause()
		}
	}}
	f := newFiller(t)

	done := make(chan *Report, 1)
	go func() {
		report, err := f.Fill(context.Background(), page, johnSmith(), Options{
			Mapping:    testMapping(t),
			Checkpoint: signal,
			Status:     st.sink,
		})
		assert.NoError(t, err)
		done <- report
	}()

	require.Eventually(t, func() bool { return signal.Paused() }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "Filling: Sex", st.last(), "nothing proceeds while paused")
	assert.Equal(t, FillingFields, f.State())

	signal.Resume()
	var report *Report
	select {
	case report = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fill did not finish after resume")
	}

	assert.Equal(t, Complete, report.State)
	assert.Equal(t, "Robert Smith", valueOf(t, page, "father"))
	// Name and Father's Name, each typed once.
	assert.Equal(t, 2, types)
}

func TestFillDocumentFailureDoesNotAbortOthers(t *testing.T) {
	base, folder := personDir(t)
	sets := 0
	page, err := dom.New(formHTML, dom.WithHook(func(op dom.Op, _ *html.Node) error {
		if op == dom.OpSetFiles {
			sets++
			if sets == 1 {
				return errors.New("file chooser blocked")
			}
		}
		return nil
	}))
	require.NoError(t, err)

	report, err := newFiller(t).Fill(context.Background(), page, johnSmith(), Options{
		BaseDir: base,
		Mapping: testMapping(t),
	})
	require.NoError(t, err)
	require.Len(t, report.Documents, 3)
	assert.Equal(t, OutcomeFailed, report.Documents[0].Outcome)
	assert.Contains(t, report.Documents[0].Reason, "file chooser blocked")
	assert.Equal(t, OutcomeFilled, report.Documents[2].Outcome)
	require.Len(t, page.Uploads(), 1)
	assert.Equal(t, []string{filepath.Join(folder, "004_john_smith.pdf")}, page.Uploads()[0].Paths)
	assert.Equal(t, Complete, report.State)
}

func TestFillUploadFallsBackToButtonByText(t *testing.T) {
	const src = `
<html><body><form>
<button type="button" id="up">Upload</button>
<table>
  <tr><td>Upload Identity Card (IC)</td><td><input type="file" name="ic"></td></tr>
  <tr><td>Name as in IC/Passport</td><td><input type="text" name="name"></td></tr>
</table>
</form></body></html>`
	base, _ := personDir(t)
	page, err := dom.New(src)
	require.NoError(t, err)
	m, err := mapping.New(
		[]mapping.Field{{Label: "Name as in IC/Passport", Column: "name in ic/passport"}},
		[]mapping.DocumentRequest{{Label: "Upload Identity Card (IC)", Code: "002"}},
	)
	require.NoError(t, err)

	report, err := newFiller(t).Fill(context.Background(), page, johnSmith(), Options{BaseDir: base, Mapping: m})
	require.NoError(t, err)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, OutcomeFilled, report.Documents[0].Outcome)
	require.Len(t, page.Clicks(), 1)
	node := htmlquery.FindOne(page.Snapshot(), page.Clicks()[0])
	require.NotNil(t, node)
	assert.Equal(t, "up", htmlquery.SelectAttr(node, "id"))
}

func TestFillSkipsUploads(t *testing.T) {
	tests := []struct {
		name    string
		record  sheet.Record
		baseDir func(t *testing.T) string
		reason  string
		person  string
	}{
		{
			name:    "no base folder",
			record:  johnSmith(),
			baseDir: func(*testing.T) string { return "" },
			reason:  "no person name or base folder",
			person:  "John Smith",
		},
		{
			name:   "no name column",
			record: sheet.NewRecord(map[string]string{"Sex": "Male"}),
			baseDir: func(t *testing.T) string {
				base, _ := personDir(t)
				return base
			},
			reason: "no person name or base folder",
		},
		{
			name:    "person folder missing",
			record:  sheet.NewRecord(map[string]string{"Name": "Tan Ah Kow"}),
			baseDir: func(t *testing.T) string { return t.TempDir() },
			reason:  "person folder not found",
			person:  "Tan Ah Kow",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := dom.New(formHTML)
			require.NoError(t, err)
			report, err := newFiller(t).Fill(context.Background(), page, tt.record, Options{
				BaseDir: tt.baseDir(t),
				Mapping: testMapping(t),
			})
			require.NoError(t, err)
			require.Len(t, report.Documents, 3)
			for _, d := range report.Documents {
				assert.Equal(t, OutcomeSkipped, d.Outcome)
				assert.Equal(t, tt.reason, d.Reason)
			}
			assert.Empty(t, page.Uploads())
			assert.Equal(t, tt.person, report.Person, "the name is reported even when uploads are skipped")
			assert.Equal(t, Complete, report.State)
		})
	}
}

func TestFillUploadWithoutButtonKeepsAttachedFile(t *testing.T) {
	const src = `
<html><body><form>
<table>
  <tr><td>Upload Identity Card (IC)</td><td><input type="file" name="ic"></td></tr>
  <tr><td>Name as in IC/Passport</td><td><input type="text" name="name"></td></tr>
</table>
</form></body></html>`
	base, _ := personDir(t)
	page, err := dom.New(src)
	require.NoError(t, err)
	m, err := mapping.New(
		[]mapping.Field{{Label: "Name as in IC/Passport", Column: "name in ic/passport"}},
		[]mapping.DocumentRequest{{Label: "Upload Identity Card (IC)", Code: "002"}},
	)
	require.NoError(t, err)

	report, err := newFiller(t).Fill(context.Background(), page, johnSmith(), Options{BaseDir: base, Mapping: m})
	require.NoError(t, err)
	require.Len(t, report.Documents, 1)
	assert.Equal(t, OutcomeFilled, report.Documents[0].Outcome)
	assert.Equal(t, "file attached; no upload button found", report.Documents[0].Reason)
	assert.Len(t, page.Uploads(), 1)
	assert.Empty(t, page.Clicks())
	assert.Empty(t, report.Failures())
}

func TestFillNavigationFailure(t *testing.T) {
	page, err := dom.New("<html></html>", dom.WithFetcher(func(context.Context, string) (io.ReadCloser, error) {
		return nil, errors.New("net::ERR_NAME_NOT_RESOLVED")
	}))
	require.NoError(t, err)
	f := newFiller(t)

	report, err := f.Fill(context.Background(), page, johnSmith(), Options{URL: formURL, Mapping: testMapping(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to navigate to "+formURL)
	assert.Equal(t, Failed, report.State)
	assert.Equal(t, Failed, f.State())
	assert.Equal(t, err.Error(), report.Error)
	assert.Empty(t, report.Fields)
}

func TestFillCanceledWhilePaused(t *testing.T) {
	page, err := dom.New(formHTML)
	require.NoError(t, err)
	signal := session.NewSignal(5 * time.Millisecond)
	signal.Pause()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	report, err := newFiller(t).Fill(ctx, page, johnSmith(), Options{Mapping: testMapping(t), Checkpoint: signal})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Stopped, report.State)
}

func TestFillRejectsEmptyMapping(t *testing.T) {
	page, err := dom.New(formHTML)
	require.NoError(t, err)
	report, err := newFiller(t).Fill(context.Background(), page, johnSmith(), Options{Mapping: &mapping.FieldMapping{}})
	assert.ErrorContains(t, err, "field mapping has no fields")
	assert.Equal(t, Failed, report.State)
}

func TestReportJSON(t *testing.T) {
	reports := []*Report{{
		RunID:     "3f0c1c52-5f4e-4a44-9a53-6b1d2f0f6a10",
		Row:       "12",
		State:     Stopped,
		StartedAt: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
		Documents: []Item{{Label: "Upload passport", Code: "003", Outcome: OutcomeMissing}},
		Fields:    []Item{{Label: "Sex", Kind: "select", Column: "sex", Outcome: OutcomeFilled}},
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, reports))
	assert.Contains(t, buf.String(), `"state": "stopped"`)
	assert.Contains(t, buf.String(), `"outcome": "missing"`)
	assert.NotContains(t, buf.String(), `"reason"`)

	got, err := ReadJSON(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(reports, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, SaveJSON(path, reports))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), reports[0].RunID)
}

func TestStateNames(t *testing.T) {
	for _, s := range []State{Idle, Navigating, UploadingDocuments, FillingFields, Complete, Stopped, Failed} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back State
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	assert.True(t, Complete.Terminal())
	assert.False(t, FillingFields.Terminal())
	assert.Equal(t, "state(99)", State(99).String())
	var s State
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
