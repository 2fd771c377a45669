package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/otms-autofill/otms-autofill/internal/browser"
	"github.com/otms-autofill/otms-autofill/internal/browser/cdp"
	"github.com/otms-autofill/otms-autofill/internal/browser/dom"
	"github.com/otms-autofill/otms-autofill/internal/config"
	"github.com/otms-autofill/otms-autofill/internal/fields"
	"github.com/otms-autofill/otms-autofill/internal/filler"
	"github.com/otms-autofill/otms-autofill/internal/locator"
	"github.com/otms-autofill/otms-autofill/internal/observability"
	"github.com/otms-autofill/otms-autofill/internal/prompt"
	"github.com/otms-autofill/otms-autofill/internal/session"
	"github.com/otms-autofill/otms-autofill/internal/sheet"
	"github.com/otms-autofill/otms-autofill/internal/tui"
)

// promptDriver answers row pickers and next-row questions on a plain terminal.
var promptDriver prompt.Driver = prompt.Survey{}

// openBrowser connects to Chrome for a live run.
var openBrowser = defaultOpenBrowser

func defaultOpenBrowser(ctx context.Context, cfg config.BrowserConfig, formURL string, logger *zap.Logger) (browser.Page, error) {
	page, err := cdp.Open(ctx, cfg, formURL, logger)
	if err != nil {
		return nil, err
	}
	return page, nil
}

type fillOptions struct {
	rows       []string
	noTUI      bool
	snapshot   string
	reportPath string
}

func newFillCmd() *cobra.Command {
	var opts fillOptions

	fillCmd := &cobra.Command{
		Use:   "fill",
		Short: "Fill the pre-enrolment form for one or more spreadsheet rows",
		Long: `Opens the pre-enrolment form in Chrome, uploads the person's PDFs from
their folder under --base-dir and fills every mapped field from the row.

The form is never submitted. After each row, review and submit it on the site
yourself; the next row starts only once you confirm.`,
		Example: `  # Attach to Chrome started with --remote-debugging-port=9222 and fill row 12
  otms-autofill fill --file students.xlsx --base-dir ~/Documents/PDFs --sr 12

  # Fill rows 12 and 13 one after the other, logging to the console only
  otms-autofill fill -f students.xlsx --sr 12 --sr 13 --no-tui

  # Rehearse against a saved copy of the page without touching the site
  otms-autofill fill -f students.xlsx --sr 12 --dry-run page.html`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{quietConsole: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			return runFill(cmd.Context(), cfg, opts, cmd.OutOrStdout())
		},
	}

	f := fillCmd.Flags()
	f.StringP("file", "f", "", "Spreadsheet holding the person records (.xlsx, .xls or .csv)")
	f.String("sheet", "", "Worksheet to read (default: the first)")
	f.String("key-column", "", "Column identifying a row (default: Sr.No)")
	f.String("base-dir", "", "Folder holding one sub-folder of PDFs per person")
	f.String("url", "", "Form URL to open before filling")
	f.String("mapping", "", "Field mapping file (see the mapping command)")
	f.String("mode", "", "Browser mode: attach to a running Chrome or launch a new one (attach|new)")
	f.Int("port", 0, "Remote debugging port of the Chrome to attach to")
	f.Bool("headless", false, "Launch Chrome without a window (new mode only)")
	f.StringSliceVar(&opts.rows, "sr", nil, "Row key to fill; repeat for several rows (default: pick interactively)")
	f.BoolVar(&opts.noTUI, "no-tui", false, "Log progress to the console instead of the interactive display")
	f.StringVar(&opts.snapshot, "dry-run", "", "Fill a saved HTML copy of the form instead of a live browser")
	f.StringVar(&opts.reportPath, "report", "", "Write a JSON report of every row to this file")

	bindFlag(fillCmd, "file", "data.file")
	bindFlag(fillCmd, "sheet", "data.sheet")
	bindFlag(fillCmd, "key-column", "data.key_column")
	bindFlag(fillCmd, "base-dir", "form.base_dir")
	bindFlag(fillCmd, "url", "form.url")
	bindFlag(fillCmd, "mapping", "form.mapping_file")
	bindFlag(fillCmd, "mode", "browser.mode")
	bindFlag(fillCmd, "port", "browser.debug_port")
	bindFlag(fillCmd, "headless", "browser.headless")
	return fillCmd
}

func runFill(ctx context.Context, cfg *config.Config, opts fillOptions, out io.Writer) error {
	logger := observability.GetLogger()

	table, err := loadTable(cfg)
	if err != nil {
		return err
	}
	m, err := loadMapping(cfg)
	if err != nil {
		return err
	}
	rows, err := resolveRows(ctx, table, cfg.Data.KeyColumn, opts.rows)
	if err != nil {
		return err
	}

	page, err := openPage(ctx, cfg, opts.snapshot, logger)
	if err != nil {
		return err
	}

	loc := locator.New(cfg.Form.PollInterval, logger, locator.WithStrategyFloor(cfg.Form.StrategyFloor))
	f := filler.New(loc, fields.Options{
		Retries:       cfg.Form.Retries,
		LocateTimeout: cfg.Form.LocateTimeout,
		ReadyTimeout:  cfg.Form.ReadyTimeout,
		StaleBackoff:  cfg.Form.StaleBackoff,
	}, cfg.Form.UploadTimeout, logger)
	signal := session.NewSignal(cfg.Form.PausePoll)

	var (
		mu      sync.Mutex
		reports []*filler.Report
	)
	job := func(ctx context.Context, row string, report session.StatusSink) error {
		rec, err := table.Find(cfg.Data.KeyColumn, row)
		if err != nil {
			return err
		}
		r, err := f.Fill(ctx, page, rec, filler.Options{
			URL:        cfg.Form.URL,
			BaseDir:    cfg.Form.BaseDir,
			Row:        row,
			Mapping:    m,
			Checkpoint: signal,
			Status:     report,
		})
		if r != nil {
			mu.Lock()
			reports = append(reports, r)
			mu.Unlock()
		}
		return err
	}

	logger.Info("Filling rows.", zap.Strings("rows", rows), zap.String("url", cfg.Form.URL))
	if opts.noTUI {
		ctrl := session.NewController(signal, logger,
			session.WithSink(session.LogSink(logger)),
			session.WithGate(prompt.NextRowGate(promptDriver)))
		err = ctrl.Run(ctx, rows, job)
	} else {
		err = runInteractive(ctx, signal, rows, job, logger)
	}

	writeSummary(out, reports)
	if opts.reportPath != "" {
		if saveErr := filler.SaveJSON(opts.reportPath, reports); saveErr != nil {
			err = errors.Join(err, saveErr)
		} else {
			logger.Info("Report written.", zap.String("path", opts.reportPath))
		}
	}

	if opts.snapshot == "" && cfg.Browser.Mode == config.ModeNew {
		holdBrowser(ctx, logger)
	}
	if closeErr := page.Close(context.WithoutCancel(ctx)); closeErr != nil {
		logger.Warn("Failed to close the browser.", zap.Error(closeErr))
	}
	return err
}

// resolveRows checks every requested row exists, or asks for one when none
// were given.
func resolveRows(ctx context.Context, table *sheet.Table, keyColumn string, requested []string) ([]string, error) {
	if len(requested) == 0 {
		key, err := prompt.PickRow(ctx, promptDriver, table, keyColumn)
		if err != nil {
			return nil, err
		}
		return []string{key}, nil
	}
	for _, row := range requested {
		if _, err := table.Find(keyColumn, row); err != nil {
			return nil, err
		}
	}
	return requested, nil
}

func openPage(ctx context.Context, cfg *config.Config, snapshot string, logger *zap.Logger) (browser.Page, error) {
	if snapshot == "" {
		return openBrowser(ctx, cfg.Browser, cfg.Form.URL, logger)
	}
	page, err := dom.LoadFile(snapshot)
	if err != nil {
		return nil, err
	}
	logger.Info("Dry run against a saved page.", zap.String("snapshot", snapshot))
	return page, nil
}

// runInteractive drives the session from the terminal display. Quitting the
// display stops the session at its next checkpoint.
func runInteractive(ctx context.Context, signal *session.Signal, rows []string, job session.Job, logger *zap.Logger) error {
	answers := make(chan bool, 1)
	program := tea.NewProgram(tui.New(signal, rows, answers), tea.WithContext(ctx))
	bridge := tui.NewBridge(program, signal, answers)

	ctrl := session.NewController(signal, logger,
		session.WithSink(session.Tee(bridge.Sink(), session.LogSink(logger))),
		session.WithGate(bridge.Gate()))

	var runErr error
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runErr = ctrl.Run(gctx, rows, job)
		bridge.Done(runErr)
		return nil
	})
	g.Go(func() error {
		_, err := program.Run()
		signal.Stop()
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	return runErr
}

// holdBrowser keeps a launched browser open until the operator has
// reviewed and submitted the last form.
func holdBrowser(ctx context.Context, logger *zap.Logger) {
	ok, err := promptDriver.Confirm(ctx, prompt.ConfirmConfig{
		Message: "Close the browser? Submit the form on the site first.",
	})
	if err != nil || ok {
		return
	}
	logger.Info("Browser left open. Press Ctrl+C to close it.")
	<-ctx.Done()
}

func writeSummary(w io.Writer, reports []*filler.Report) {
	for _, r := range reports {
		counts := r.Counts()
		fmt.Fprintf(w, "Row %s: %s (%d filled, %d skipped, %d missing, %d failed)\n",
			r.Row, r.State,
			counts[filler.OutcomeFilled], counts[filler.OutcomeSkipped],
			counts[filler.OutcomeMissing], counts[filler.OutcomeFailed])
		for _, f := range r.Failures() {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}
