// internal/browser/dom/page.go

// Package dom implements browser.Page over an HTML document parsed into
// memory. Element operations mutate the parsed tree the way a browser would
// mutate its DOM, and a postback re-parses the document so every previously
// resolved handle goes stale. It backs dry runs against a saved copy of the
// form and the tests of everything above the page boundary.
package dom

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/otms-autofill/otms-autofill/internal/browser"
)

// Op identifies an element operation for hooks.
type Op int

const (
	OpQuery Op = iota
	OpScroll
	OpRemoveAttribute
	OpClear
	OpType
	OpValue
	OpSelect
	OpSelectedText
	OpSetFiles
	OpClick
)

func (o Op) String() string {
	switch o {
	case OpQuery:
		return "query"
	case OpScroll:
		return "scroll"
	case OpRemoveAttribute:
		return "remove-attribute"
	case OpClear:
		return "clear"
	case OpType:
		return "type"
	case OpValue:
		return "value"
	case OpSelect:
		return "select"
	case OpSelectedText:
		return "selected-text"
	case OpSetFiles:
		return "set-files"
	case OpClick:
		return "click"
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// ErrPostback can be returned by a Hook to make the page post back before the
// operation runs. The operation then fails with browser.ErrStale.
var ErrPostback = fmt.Errorf("simulated postback")

// Hook runs before every element operation with the page lock held. A nil
// return lets the operation proceed, ErrPostback simulates a partial page
// refresh, and any other error is returned from the operation unchanged.
type Hook func(op Op, n *html.Node) error

// Fetcher returns the document for a navigation target.
type Fetcher func(ctx context.Context, url string) (io.ReadCloser, error)

// Upload records one file injection into a file input.
type Upload struct {
	Element string
	Paths   []string
}

// Option configures a Page.
type Option func(*Page)

// WithHook installs a hook called before every element operation.
func WithHook(h Hook) Option {
	return func(p *Page) { p.hook = h }
}

// WithFetcher replaces the navigation fetcher.
func WithFetcher(f Fetcher) Option {
	return func(p *Page) { p.fetch = f }
}

// Page is an in-memory browser.Page.
type Page struct {
	mu         sync.Mutex
	doc        *html.Node
	generation uint64
	url        string
	loading    int
	closed     bool

	hook  Hook
	fetch Fetcher

	navigations []string
	clicks      []string
	uploads     []Upload
	postbacks   int
}

var _ browser.Page = (*Page)(nil)

// New parses src into a Page.
func New(src string, opts ...Option) (*Page, error) {
	return Load(strings.NewReader(src), opts...)
}

// Load parses the document read from r into a Page.
func Load(r io.Reader, opts ...Option) (*Page, error) {
	doc, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	p := &Page{doc: doc, fetch: defaultFetch}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// LoadFile parses a saved HTML snapshot. Navigations re-read the same file,
// so a dry run never reaches the live site.
func LoadFile(path string, opts ...Option) (*Page, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	snapshot := WithFetcher(func(ctx context.Context, _ string) (io.ReadCloser, error) {
		return os.Open(path)
	})
	return Load(f, append([]Option{snapshot}, opts...)...)
}

func defaultFetch(ctx context.Context, target string) (io.ReadCloser, error) {
	if path, ok := strings.CutPrefix(target, "file://"); ok {
		return os.Open(path)
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return os.Open(target)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", target, resp.Status)
	}
	return resp.Body, nil
}

// Navigate replaces the document with the one fetched for url.
func (p *Page) Navigate(ctx context.Context, url string) error {
	rc, err := p.fetch(ctx, url)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	defer rc.Close()

	doc, err := htmlquery.Parse(rc)
	if err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("page closed")
	}
	p.doc = doc
	p.generation++
	p.url = url
	p.navigations = append(p.navigations, url)
	return nil
}

// ReadyState reports "loading" for as many calls as SetLoading requested, then "complete".
func (p *Page) ReadyState(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loading > 0 {
		p.loading--
		return "loading", nil
	}
	return "complete", nil
}

// SetLoading makes the next n ReadyState calls report "loading".
func (p *Page) SetLoading(n int) {
	p.mu.Lock()
	p.loading = n
	p.mu.Unlock()
}

// Query returns the first node matching xpath in document order.
func (p *Page) Query(ctx context.Context, xpath string) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, fmt.Errorf("page closed")
	}
	if err := p.runHook(OpQuery, p.doc); err != nil {
		return nil, err
	}
	return p.queryLocked(p.doc, xpath)
}

func (p *Page) queryLocked(from *html.Node, xpath string) (browser.Element, error) {
	nodes, err := htmlquery.QueryAll(from, xpath)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", xpath, err)
	}
	node := firstInDocumentOrder(p.doc, nodes)
	if node == nil {
		return nil, fmt.Errorf("%s: %w", xpath, browser.ErrNotFound)
	}
	return &element{page: p, node: node, gen: p.generation}, nil
}

// Postback re-parses the current document, invalidating every handle.
func (p *Page) Postback() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.postbackLocked()
}

func (p *Page) postbackLocked() error {
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		return err
	}
	doc, err := htmlquery.Parse(&buf)
	if err != nil {
		return err
	}
	p.doc = doc
	p.generation++
	p.postbacks++
	return nil
}

// runHook must be called with p.mu held.
func (p *Page) runHook(op Op, n *html.Node) error {
	if p.hook == nil {
		return nil
	}
	err := p.hook(op, n)
	if err == ErrPostback {
		if perr := p.postbackLocked(); perr != nil {
			return perr
		}
		return fmt.Errorf("%s during %s: %w", uniqueXPath(n), op, browser.ErrStale)
	}
	return err
}

// Close marks the page closed.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// URL returns the last navigated URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Navigations lists every URL navigated to, in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Clicks lists the XPath of every clicked element, in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Uploads lists every file injection, in order.
func (p *Page) Uploads() []Upload {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Upload, len(p.uploads))
	for i, u := range p.uploads {
		out[i] = Upload{Element: u.Element, Paths: append([]string(nil), u.Paths...)}
	}
	return out
}

// Postbacks counts simulated partial page refreshes.
func (p *Page) Postbacks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.postbacks
}

// Snapshot returns a detached copy of the current document for inspection.
func (p *Page) Snapshot() *html.Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, p.doc); err != nil {
		return nil
	}
	doc, err := htmlquery.Parse(&buf)
	if err != nil {
		return nil
	}
	return doc
}
