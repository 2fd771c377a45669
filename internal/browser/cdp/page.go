// internal/browser/cdp/page.go

// Package cdp drives a real Chrome tab over the DevTools protocol with
// chromedp. Element handles are remote object ids rather than DOM node ids,
// since node ids are reset whenever the document is re-requested while a
// remote object keeps pointing at the same node until the page drops it.
package cdp

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/otms-autofill/otms-autofill/internal/browser"
)

// objectGroup owns every remote object the driver resolves, so Close can
// release them in one call.
const objectGroup = "otms"

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Page is a browser.Page backed by one Chrome tab.
type Page struct {
	// tabCtx carries the chromedp target. Operations combine it with the
	// caller's context.
	tabCtx     context.Context
	release    func()
	navTimeout time.Duration
	logger     *zap.Logger
}

var _ browser.Page = (*Page)(nil)

func newPage(tabCtx context.Context, release func(), navTimeout time.Duration, logger *zap.Logger) *Page {
	if navTimeout <= 0 {
		navTimeout = 60 * time.Second
	}
	return &Page{
		tabCtx:     tabCtx,
		release:    release,
		navTimeout: navTimeout,
		logger:     logger.Named("cdp"),
	}
}

// run executes actions on the tab under the caller's cancellation.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	opCtx, cancel := CombineContext(p.tabCtx, ctx)
	defer cancel()

	err := chromedp.Run(opCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if ctxErr == context.DeadlineExceeded {
			return fmt.Errorf("%v: %w", err, browser.ErrTimeout)
		}
		return ctxErr
	}
	return classify(err)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, p.navTimeout)
	defer cancel()

	p.logger.Debug("Navigating.", zap.String("url", url))
	if err := p.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *Page) ReadyState(ctx context.Context) (string, error) {
	var state string
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exp, err := runtime.Evaluate("document.readyState").WithReturnByValue(true).Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return exceptionError(exp)
		}
		return jsonCodec.Unmarshal([]byte(res.Value), &state)
	}))
	return state, err
}

func (p *Page) Query(ctx context.Context, xpath string) (browser.Element, error) {
	lit, err := jsonCodec.MarshalToString(xpath)
	if err != nil {
		return nil, err
	}
	expr := fmt.Sprintf(
		"document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", lit)

	var obj *runtime.RemoteObject
	err = p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		res, exp, err := runtime.Evaluate(expr).WithObjectGroup(objectGroup).Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return exceptionError(exp)
		}
		obj = res
		return nil
	}))
	if err != nil {
		return nil, err
	}
	return p.wrap(obj, xpath)
}

// wrap turns a node-or-null result into an element handle.
func (p *Page) wrap(obj *runtime.RemoteObject, xpath string) (browser.Element, error) {
	if obj == nil || obj.ObjectID == "" || obj.Subtype == runtime.SubtypeNull {
		return nil, fmt.Errorf("%s: %w", xpath, browser.ErrNotFound)
	}
	desc := obj.Description
	if desc == "" {
		desc = xpath
	}
	return &element{page: p, id: obj.ObjectID, desc: desc}, nil
}

// Close releases the remote objects held by the driver and then whatever the
// acquisition mode owns. An attached tab is left open.
func (p *Page) Close(ctx context.Context) error {
	releaseCtx, cancel := context.WithTimeout(Detach(ctx), 2*time.Second)
	defer cancel()
	err := p.run(releaseCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return runtime.ReleaseObjectGroup(objectGroup).Do(ctx)
	}))
	if err != nil {
		p.logger.Debug("Failed to release object group.", zap.Error(err))
	}
	if p.release != nil {
		p.release()
	}
	return nil
}
