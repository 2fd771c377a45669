// internal/browser/cdp/allocator.go
package cdp

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/otms-autofill/otms-autofill/internal/config"
)

// Open acquires a page according to cfg.Mode.
//
// In attach mode it connects to a Chrome already running with
// --remote-debugging-port and reuses the tab showing formURL's host, or the
// first page tab, so the user's login survives. The tab and the browser are
// never closed by the returned Page.
//
// In new mode it launches Chrome. Closing the returned Page closes that
// browser, so callers keep it open until the user has reviewed the form.
func Open(ctx context.Context, cfg config.BrowserConfig, formURL string, logger *zap.Logger) (*Page, error) {
	switch cfg.Mode {
	case config.ModeAttach:
		return attach(ctx, cfg, formURL, logger)
	case config.ModeNew:
		return launch(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown browser mode %q", cfg.Mode)
	}
}

func attach(ctx context.Context, cfg config.BrowserConfig, formURL string, logger *zap.Logger) (*Page, error) {
	endpoint := cfg.DebuggerURL()
	logger.Info("Attaching to running Chrome.", zap.String("endpoint", endpoint))

	// The allocator outlives ctx: cancelling a chromedp context that attached
	// to a tab closes that tab.
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(Detach(ctx), endpoint)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Sugar().Debugf))

	targets, err := chromedp.Targets(browserCtx)
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("could not reach Chrome at %s (start it with --remote-debugging-port=%d): %w",
			endpoint, cfg.DebugPort, err)
	}

	var tabCtx context.Context
	if id := pickTarget(targets, formURL); id != "" {
		logger.Debug("Reusing existing tab.", zap.String("target_id", string(id)))
		tabCtx, _ = chromedp.NewContext(browserCtx, chromedp.WithTargetID(id))
	} else {
		logger.Debug("No page tab found, opening a new one.")
		tabCtx, _ = chromedp.NewContext(browserCtx)
	}
	if err := chromedp.Run(tabCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to attach to tab: %w", err)
	}

	// Nothing is cancelled on Close. The websocket closes with the process
	// and the user's browser keeps the filled form.
	return newPage(tabCtx, nil, cfg.NavigationTimeout, logger), nil
}

func launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Page, error) {
	logger.Info("Launching new Chrome.", zap.Bool("headless", cfg.Headless))

	allocCtx, allocCancel := chromedp.NewExecAllocator(Detach(ctx), ExecAllocatorOptions(cfg)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithErrorf(logger.Sugar().Debugf))

	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	release := func() {
		if err := chromedp.Cancel(tabCtx); err != nil {
			logger.Debug("Browser shutdown reported an error.", zap.Error(err))
		}
		allocCancel()
	}
	return newPage(tabCtx, release, cfg.NavigationTimeout, logger), nil
}

// pickTarget prefers a page tab on the form's host, then the first page tab.
func pickTarget(targets []*target.Info, formURL string) target.ID {
	host := ""
	if u, err := url.Parse(formURL); err == nil {
		host = strings.ToLower(u.Host)
	}

	var first target.ID
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if first == "" {
			first = t.TargetID
		}
		if host == "" {
			continue
		}
		if u, err := url.Parse(t.URL); err == nil && strings.ToLower(u.Host) == host {
			return t.TargetID
		}
	}
	return first
}

// ExecAllocatorOptions builds the launch options for new mode.
func ExecAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	for _, f := range launchFlags(cfg) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	return opts
}

type flag struct {
	name  string
	value interface{}
}

// launchFlags lists the flags layered over chromedp's defaults. Later flags
// win, so user args can override anything set here.
func launchFlags(cfg config.BrowserConfig) []flag {
	flags := []flag{
		{"headless", cfg.Headless},
		{"disable-dev-shm-usage", true},
	}
	if !cfg.Headless {
		flags = append(flags, flag{"start-maximized", true})
	} else {
		flags = append(flags, flag{"no-sandbox", true})
	}
	if cfg.DisableGPU {
		flags = append(flags, flag{"disable-gpu", true})
	}

	for _, arg := range cfg.Args {
		arg = strings.TrimPrefix(strings.TrimSpace(arg), "--")
		if arg == "" {
			continue
		}
		// chromedp adds the leading dashes itself.
		if key, value, ok := strings.Cut(arg, "="); ok {
			flags = append(flags, flag{key, value})
			continue
		}
		flags = append(flags, flag{arg, true})
	}
	return flags
}
