// Package filler drives one pre-enrolment form for one person record:
// navigate, upload the person's PDFs, then set every mapped field. It never
// submits the form.
package filler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/otms-autofill/otms-autofill/internal/browser"
	"github.com/otms-autofill/otms-autofill/internal/documents"
	"github.com/otms-autofill/otms-autofill/internal/fields"
	"github.com/otms-autofill/otms-autofill/internal/locator"
	"github.com/otms-autofill/otms-autofill/internal/mapping"
	"github.com/otms-autofill/otms-autofill/internal/session"
	"github.com/otms-autofill/otms-autofill/internal/sheet"
)

// Status lines shown to the user.
const (
	MsgNavigating = "Navigating to target page…"
	MsgLocating   = "Locating person folder for PDFs…"
	MsgSearching  = "Searching PDF: %s for %s…"
	MsgUploading  = "Uploading: %s"
	MsgFilling    = "Filling: %s"
	MsgComplete   = "All fields filled. Please review and submit on the site."
)

// DefaultUploadTimeout bounds the wait for a file input to appear.
const DefaultUploadTimeout = 15 * time.Second

// uploadNext is the control activated after a file is injected, relative to
// the file input.
const uploadNext = "following::input[@type='submit' or @type='button'][1]"

// Checkpoint is the pause/stop surface consulted between steps.
// session.Signal implements it.
type Checkpoint interface {
	StopRequested() bool
	AwaitResumed(ctx context.Context) error
}

type noCheckpoint struct{}

func (noCheckpoint) StopRequested() bool                { return false }
func (noCheckpoint) AwaitResumed(context.Context) error { return nil }

// Options carries the per-row inputs of a Fill call.
type Options struct {
	// URL is navigated to first. Empty keeps the current page.
	URL string
	// BaseDir holds one folder per person. Empty skips uploads.
	BaseDir string
	// Row identifies the record in reports.
	Row string
	// Mapping defaults to mapping.Default().
	Mapping *mapping.FieldMapping
	// Checkpoint defaults to one that never pauses or stops.
	Checkpoint Checkpoint
	// Status defaults to session.Discard.
	Status session.StatusSink
}

// Filler runs fills one at a time. It is safe to read State from other
// goroutines while Fill runs.
type Filler struct {
	locator       *locator.Locator
	setterOpts    fields.Options
	uploadTimeout time.Duration
	readyTimeout  time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu    sync.Mutex
	state State
}

// New creates a Filler. uploadTimeout bounds the wait for each file input.
func New(loc *locator.Locator, setterOpts fields.Options, uploadTimeout time.Duration, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = locator.New(locator.DefaultPollInterval, logger)
	}
	if uploadTimeout <= 0 {
		uploadTimeout = DefaultUploadTimeout
	}
	readyTimeout := setterOpts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = fields.DefaultReadyTimeout
	}
	return &Filler{
		locator:       loc,
		setterOpts:    setterOpts,
		uploadTimeout: uploadTimeout,
		readyTimeout:  readyTimeout,
		logger:        logger.Named("filler"),
		now:           time.Now,
	}
}

// State returns the state of the current or last fill.
func (f *Filler) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Filler) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// run is the state of one Fill call.
type run struct {
	f      *Filler
	page   browser.Page
	record sheet.Record
	opts   Options
	setter *fields.Setter
	report *Report
	logger *zap.Logger
	step   int
	steps  int
}

// Fill drives page for record. Per-item failures are recorded in the report
// and logged. Only navigation failures and orchestration errors, such as a
// canceled context or an empty mapping, are returned, together with the
// report so far.
func (f *Filler) Fill(ctx context.Context, page browser.Page, record sheet.Record, opts Options) (*Report, error) {
	if opts.Mapping == nil {
		opts.Mapping = mapping.Default()
	}
	if opts.Checkpoint == nil {
		opts.Checkpoint = noCheckpoint{}
	}
	if opts.Status == nil {
		opts.Status = session.Discard
	}

	id := uuid.NewString()
	r := &run{
		f:      f,
		page:   page,
		record: record,
		opts:   opts,
		setter: fields.NewSetter(page, f.locator, f.setterOpts, f.logger),
		report: &Report{
			RunID:     id,
			Row:       opts.Row,
			URL:       opts.URL,
			StartedAt: f.now(),
		},
		logger: f.logger.With(zap.String("run_id", id), zap.String("row", opts.Row)),
		steps:  len(opts.Mapping.Documents()) + opts.Mapping.Len(),
	}
	f.setState(Idle)
	r.report.State = Idle

	err := r.execute(ctx)
	r.report.FinishedAt = f.now()
	if err != nil {
		r.report.Error = err.Error()
	}
	return r.report, err
}

func (r *run) execute(ctx context.Context) error {
	if r.opts.Mapping.Len() == 0 {
		return r.fail(errors.New("field mapping has no fields"))
	}

	if ok, err := r.advance(ctx, Navigating); !ok {
		return err
	}
	if r.opts.URL != "" {
		r.status(MsgNavigating)
		if err := r.page.Navigate(ctx, r.opts.URL); err != nil {
			if ctx.Err() != nil {
				return r.canceled(ctx.Err())
			}
			return r.fail(fmt.Errorf("failed to navigate to %s: %w", r.opts.URL, err))
		}
	}

	if ok, err := r.advance(ctx, UploadingDocuments); !ok {
		return err
	}
	if ok, err := r.uploadDocuments(ctx); !ok {
		return err
	}

	if ok, err := r.advance(ctx, FillingFields); !ok {
		return err
	}
	if ok, err := r.fillFields(ctx); !ok {
		return err
	}

	if ok, err := r.advance(ctx, Complete); !ok {
		return err
	}
	r.status(MsgComplete)
	r.logger.Info("Form filled.", zap.Any("outcomes", r.report.Counts()))
	return nil
}

// checkpoint holds while paused and reports whether the run may continue.
// A false result with a nil error means stop was requested.
func (r *run) checkpoint(ctx context.Context) (bool, error) {
	if r.opts.Checkpoint.StopRequested() {
		r.stop()
		return false, nil
	}
	if err := r.opts.Checkpoint.AwaitResumed(ctx); err != nil {
		return false, r.canceled(err)
	}
	if r.opts.Checkpoint.StopRequested() {
		r.stop()
		return false, nil
	}
	return true, nil
}

func (r *run) advance(ctx context.Context, next State) (bool, error) {
	if ok, err := r.checkpoint(ctx); !ok {
		return false, err
	}
	r.transition(next)
	return true, nil
}

func (r *run) transition(s State) {
	r.f.setState(s)
	r.report.State = s
	r.logger.Debug("State changed.", zap.Stringer("state", s))
}

func (r *run) stop() {
	r.transition(Stopped)
	r.status(session.StoppedMessage)
	r.logger.Info("Fill stopped by user.")
}

func (r *run) canceled(err error) error {
	r.transition(Stopped)
	return err
}

// fail leaves reporting the error to the caller.
func (r *run) fail(err error) error {
	r.transition(Failed)
	return err
}

func (r *run) status(format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r.opts.Status(session.Status{
		State:   r.report.State.String(),
		Message: msg,
		Step:    r.step,
		Steps:   r.steps,
	})
}

func (r *run) uploadDocuments(ctx context.Context) (bool, error) {
	docs := r.opts.Mapping.Documents()
	skipAll := func(reason string) {
		for _, d := range docs {
			r.report.Documents = append(r.report.Documents, Item{Label: d.Label, Code: d.Code, Outcome: OutcomeSkipped, Reason: reason})
			r.step++
		}
	}

	name, ok := r.record.First(mapping.PersonNameColumns...)
	if ok {
		r.report.Person = name
	}
	if !ok || r.opts.BaseDir == "" {
		r.logger.Info("Skipping document uploads.", zap.Bool("has_name", ok), zap.Bool("has_base_dir", r.opts.BaseDir != ""))
		skipAll("no person name or base folder")
		return true, nil
	}

	r.status(MsgLocating)
	folder, ok := documents.FindPersonFolder(r.opts.BaseDir, name)
	if !ok {
		r.logger.Warn("Person folder not found.", zap.String("name", name), zap.String("base_dir", r.opts.BaseDir))
		skipAll("person folder not found")
		return true, nil
	}
	r.report.Folder = folder

	for _, doc := range docs {
		if ok, err := r.checkpoint(ctx); !ok {
			return false, err
		}
		item := r.upload(ctx, doc, folder, name)
		if err := ctx.Err(); err != nil {
			return false, r.canceled(err)
		}
		r.report.Documents = append(r.report.Documents, item)
		r.step++
	}
	return true, nil
}

func (r *run) upload(ctx context.Context, doc mapping.DocumentRequest, folder, name string) Item {
	item := Item{Label: doc.Label, Code: doc.Code}
	logger := r.logger.With(zap.String("label", doc.Label), zap.String("code", doc.Code))

	r.status(MsgSearching, doc.Code, name)
	path, ok := documents.FindDocument(folder, doc.Code, name)
	if !ok {
		logger.Info("Document not found.", zap.String("folder", folder))
		item.Outcome = OutcomeMissing
		item.Reason = "no matching PDF"
		return item
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	item.File = path

	r.status(MsgUploading, doc.Label)
	err := r.attach(ctx, doc.Label, path)
	if errors.Is(err, errNoUploadButton) {
		logger.Warn("File attached but no upload button found.", zap.String("file", path), zap.Error(err))
		item.Outcome = OutcomeFilled
		item.Reason = "file attached; no upload button found"
		return item
	}
	if err != nil {
		logger.Warn("Upload failed.", zap.String("file", path), zap.Error(err))
		item.Outcome = OutcomeFailed
		item.Reason = err.Error()
		return item
	}
	logger.Info("Document uploaded.", zap.String("file", path))
	item.Outcome = OutcomeFilled
	return item
}

// errNoUploadButton means the file was set but nothing could be clicked to
// send it. Some pages upload on change, so the slot still counts as filled.
var errNoUploadButton = errors.New("no upload button")

// attach injects path into the upload control labelled label and activates
// the upload.
func (r *run) attach(ctx context.Context, label, path string) error {
	input, err := r.f.locator.Locate(ctx, r.page, locator.KindFile, label, r.f.uploadTimeout)
	if err != nil {
		return err
	}
	if err := input.SetFiles(ctx, path); err != nil {
		return fmt.Errorf("failed to set file: %w", err)
	}

	button, err := input.Query(ctx, uploadNext)
	if errors.Is(err, browser.ErrNotFound) {
		button, err = r.page.Query(ctx, buttonByText("Upload"))
	}
	if errors.Is(err, browser.ErrNotFound) {
		return fmt.Errorf("%w: %w", errNoUploadButton, err)
	}
	if err != nil {
		return fmt.Errorf("failed to find upload button: %w", err)
	}
	if err := button.Click(ctx); err != nil {
		return fmt.Errorf("failed to click upload: %w", err)
	}

	// The upload posts back. Give the page a chance to settle before the next
	// control is looked up.
	if err := browser.WaitReady(ctx, r.page, r.f.readyTimeout); err != nil && ctx.Err() == nil {
		r.logger.Debug("Page did not settle after upload.", zap.Error(err))
	}
	return nil
}

// buttonByText matches a button by its text, its value or the label pointing
// at it.
func buttonByText(text string) string {
	lit := locator.XPathLiteral(text)
	return fmt.Sprintf(
		"//button[normalize-space()=%[1]s or @value=%[1]s or @id=//label[normalize-space()=%[1]s]/@for] | //input[@value=%[1]s]",
		lit)
}

func (r *run) fillFields(ctx context.Context) (bool, error) {
	for _, field := range r.opts.Mapping.Fields() {
		if r.opts.Checkpoint.StopRequested() {
			r.stop()
			return false, nil
		}

		item := Item{Label: field.Label, Kind: string(field.Kind), Column: field.Column}
		value, present := r.record.Get(field.Column)
		switch {
		case !present:
			item.Outcome = OutcomeMissing
			item.Reason = "column not in file"
		case value == "":
			item.Outcome = OutcomeSkipped
			item.Reason = "blank value"
		default:
			if ok, err := r.checkpoint(ctx); !ok {
				return false, err
			}
			r.status(MsgFilling, field.Label)
			var err error
			if field.Kind == mapping.KindSelect {
				err = r.setter.FillSelection(ctx, field.Label, value)
			} else {
				err = r.setter.FillText(ctx, field.Label, value)
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, r.canceled(ctxErr)
			}
			item.Outcome = OutcomeFilled
			if err != nil {
				item.Outcome = OutcomeFailed
				item.Reason = err.Error()
			}
		}
		r.report.Fields = append(r.report.Fields, item)
		r.step++
	}
	return true, nil
}
