// internal/browser/dom/element.go
package dom

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/otms-autofill/otms-autofill/internal/browser"
	"github.com/otms-autofill/otms-autofill/internal/textnorm"
)

// element is bound to the document generation it was resolved in.
type element struct {
	page *Page
	node *html.Node
	gen  uint64
}

var _ browser.Element = (*element)(nil)

// acquire locks the page and checks the handle is still attached. On success
// the caller owns p.mu and must release it.
func (e *element) acquire(ctx context.Context, op Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p := e.page
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("page closed")
	}
	if e.gen != p.generation {
		p.mu.Unlock()
		return fmt.Errorf("%s during %s: %w", uniqueXPath(e.node), op, browser.ErrStale)
	}
	if err := p.runHook(op, e.node); err != nil {
		p.mu.Unlock()
		return err
	}
	return nil
}

func (e *element) release() { e.page.mu.Unlock() }

func (e *element) String() string {
	return uniqueXPath(e.node)
}

func (e *element) Query(ctx context.Context, xpath string) (browser.Element, error) {
	if err := e.acquire(ctx, OpQuery); err != nil {
		return nil, err
	}
	defer e.release()
	return e.page.queryLocked(e.node, xpath)
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	if err := e.acquire(ctx, OpScroll); err != nil {
		return err
	}
	e.release()
	return nil
}

func (e *element) RemoveAttribute(ctx context.Context, name string) error {
	if err := e.acquire(ctx, OpRemoveAttribute); err != nil {
		return err
	}
	defer e.release()
	removeAttr(e.node, name)
	return nil
}

func (e *element) Clear(ctx context.Context) error {
	if err := e.acquire(ctx, OpClear); err != nil {
		return err
	}
	defer e.release()
	writeValue(e.node, "")
	return nil
}

// Type appends text the way key input would: ignored on readonly or
// disabled controls and cut off at maxlength.
func (e *element) Type(ctx context.Context, text string) error {
	if err := e.acquire(ctx, OpType); err != nil {
		return err
	}
	defer e.release()

	if hasAttr(e.node, "readonly") || hasAttr(e.node, "disabled") {
		return nil
	}
	next := readValue(e.node) + text
	if max, err := strconv.Atoi(htmlquery.SelectAttr(e.node, "maxlength")); err == nil && max >= 0 {
		if utf8.RuneCountInString(next) > max {
			next = string([]rune(next)[:max])
		}
	}
	writeValue(e.node, next)
	return nil
}

func (e *element) Value(ctx context.Context) (string, error) {
	if err := e.acquire(ctx, OpValue); err != nil {
		return "", err
	}
	defer e.release()
	return readValue(e.node), nil
}

func (e *element) Options(ctx context.Context) ([]string, error) {
	if err := e.acquire(ctx, OpValue); err != nil {
		return nil, err
	}
	defer e.release()
	if !isTag(e.node, "select") {
		return nil, fmt.Errorf("%s is not a select control", uniqueXPath(e.node))
	}
	var labels []string
	for _, opt := range options(e.node) {
		labels = append(labels, optionLabel(opt))
	}
	return labels, nil
}

// SelectByText marks the first option labelled text as selected. A select
// wired to __doPostBack posts back after a changed selection, leaving this
// handle stale.
func (e *element) SelectByText(ctx context.Context, text string) error {
	if err := e.acquire(ctx, OpSelect); err != nil {
		return err
	}
	defer e.release()
	if !isTag(e.node, "select") {
		return fmt.Errorf("%s is not a select control", uniqueXPath(e.node))
	}

	opts := options(e.node)
	want := textnorm.Space(text)
	target := -1
	for i, opt := range opts {
		if optionLabel(opt) == want {
			target = i
			break
		}
	}
	if target < 0 {
		return fmt.Errorf("%q in %s: %w", text, uniqueXPath(e.node), browser.ErrNoSuchOption)
	}

	previous := selectedIndex(opts)
	for i, opt := range opts {
		if i == target {
			setAttr(opt, "selected", "selected")
		} else {
			removeAttr(opt, "selected")
		}
	}
	if previous != target && strings.Contains(htmlquery.SelectAttr(e.node, "onchange"), "__doPostBack") {
		return e.page.postbackLocked()
	}
	return nil
}

func (e *element) SelectedText(ctx context.Context) (string, error) {
	if err := e.acquire(ctx, OpSelectedText); err != nil {
		return "", err
	}
	defer e.release()
	if !isTag(e.node, "select") {
		return "", fmt.Errorf("%s is not a select control", uniqueXPath(e.node))
	}
	opts := options(e.node)
	if i := selectedIndex(opts); i >= 0 {
		return optionLabel(opts[i]), nil
	}
	return "", nil
}

func (e *element) SetFiles(ctx context.Context, paths ...string) error {
	if err := e.acquire(ctx, OpSetFiles); err != nil {
		return err
	}
	defer e.release()
	if !isTag(e.node, "input") || !strings.EqualFold(htmlquery.SelectAttr(e.node, "type"), "file") {
		return fmt.Errorf("%s is not a file input", uniqueXPath(e.node))
	}
	e.page.uploads = append(e.page.uploads, Upload{
		Element: uniqueXPath(e.node),
		Paths:   append([]string(nil), paths...),
	})
	return nil
}

// Click records the click. Submit controls and controls wired to
// __doPostBack post back afterwards.
func (e *element) Click(ctx context.Context) error {
	if err := e.acquire(ctx, OpClick); err != nil {
		return err
	}
	defer e.release()
	if hasAttr(e.node, "disabled") {
		return nil
	}
	e.page.clicks = append(e.page.clicks, uniqueXPath(e.node))
	if submits(e.node) {
		return e.page.postbackLocked()
	}
	return nil
}

func submits(n *html.Node) bool {
	if strings.Contains(htmlquery.SelectAttr(n, "onclick"), "__doPostBack") {
		return true
	}
	typ := strings.ToLower(htmlquery.SelectAttr(n, "type"))
	switch {
	case isTag(n, "input"):
		return typ == "submit" || typ == "image"
	case isTag(n, "button"):
		return typ == "" || typ == "submit"
	}
	return false
}

func isTag(n *html.Node, tag string) bool {
	return n.Type == html.ElementNode && strings.EqualFold(n.Data, tag)
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

func removeAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if !strings.EqualFold(a.Key, name) {
			kept = append(kept, a)
		}
	}
	n.Attr = kept
}

// readValue stands in for the value property: the value attribute of an
// input, the text content of a textarea.
func readValue(n *html.Node) string {
	if isTag(n, "textarea") {
		return htmlquery.InnerText(n)
	}
	return htmlquery.SelectAttr(n, "value")
}

func writeValue(n *html.Node, v string) {
	if isTag(n, "textarea") {
		for c := n.FirstChild; c != nil; {
			next := c.NextSibling
			n.RemoveChild(c)
			c = next
		}
		if v != "" {
			n.AppendChild(&html.Node{Type: html.TextNode, Data: v})
		}
		return
	}
	setAttr(n, "value", v)
}

func options(sel *html.Node) []*html.Node {
	return htmlquery.Find(sel, ".//option")
}

func optionLabel(opt *html.Node) string {
	return textnorm.Space(htmlquery.InnerText(opt))
}

// selectedIndex follows the browser default of the first option when none
// carries the selected attribute. It returns -1 only for an empty select.
func selectedIndex(opts []*html.Node) int {
	for i, opt := range opts {
		if hasAttr(opt, "selected") {
			return i
		}
	}
	if len(opts) > 0 {
		return 0
	}
	return -1
}
