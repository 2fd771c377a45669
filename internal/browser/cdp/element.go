// internal/browser/cdp/element.go
package cdp

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/otms-autofill/otms-autofill/internal/browser"
)

// element is a remote object handle to a DOM node.
type element struct {
	page *Page
	id   runtime.RemoteObjectID
	desc string
}

var _ browser.Element = (*element)(nil)

// Every function body runs with `this` bound to the node. The guard turns a
// detached node into the "stale element" message classify recognises.
const callTemplate = `function() {
	if (!this.isConnected) { throw new Error('stale element'); }
	const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
	return (%s).apply(this, %s);
}`

const (
	jsQuery = `function(xpath) {
	return document.evaluate(xpath, this, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
}`
	jsScroll = `function() { this.scrollIntoView({block: 'center', inline: 'nearest'}); return true; }`
	jsRemove = `function(name) { this.removeAttribute(name); return true; }`
	jsFocus  = `function() { this.focus(); return true; }`
	jsClear  = `function() {
	this.value = '';
	this.dispatchEvent(new Event('input', {bubbles: true}));
	return true;
}`
	jsValue   = `function() { return this.value === undefined ? '' : String(this.value); }`
	jsOptions = `function() {
	if (this.tagName !== 'SELECT') { throw new Error('not a select control'); }
	return Array.from(this.options).map((o) => norm(o.text));
}`
	jsSelect = `function(want) {
	if (this.tagName !== 'SELECT') { throw new Error('not a select control'); }
	const idx = Array.from(this.options).findIndex((o) => norm(o.text) === norm(want));
	if (idx < 0) { throw new Error('no such option: ' + want); }
	if (this.selectedIndex !== idx) {
		this.selectedIndex = idx;
		this.dispatchEvent(new Event('change', {bubbles: true}));
	}
	return true;
}`
	jsSelected = `function() {
	if (this.tagName !== 'SELECT') { throw new Error('not a select control'); }
	const o = this.options[this.selectedIndex];
	return o ? norm(o.text) : '';
}`
	jsIsFileInput = `function() { return this.tagName === 'INPUT' && this.type === 'file'; }`
	jsClick       = `function() { this.click(); return true; }`
)

// call invokes fn on the element with JSON-encoded args. With res nil the
// result stays remote and is returned as an object.
func (e *element) call(ctx context.Context, fn string, res interface{}, args ...interface{}) (*runtime.RemoteObject, error) {
	if args == nil {
		args = []interface{}{}
	}
	encoded, err := jsonCodec.MarshalToString(args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	decl := fmt.Sprintf(callTemplate, fn, encoded)

	var obj *runtime.RemoteObject
	err = e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := runtime.CallFunctionOn(decl).WithObjectID(e.id)
		if res != nil {
			params = params.WithReturnByValue(true)
		} else {
			params = params.WithObjectGroup(objectGroup)
		}
		ret, exp, err := params.Do(ctx)
		if err != nil {
			return err
		}
		if exp != nil {
			return classify(exceptionError(exp))
		}
		obj = ret
		if res != nil && len(ret.Value) > 0 {
			return jsonCodec.Unmarshal([]byte(ret.Value), res)
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.desc, err)
	}
	return obj, nil
}

func (e *element) String() string { return e.desc }

func (e *element) Query(ctx context.Context, xpath string) (browser.Element, error) {
	obj, err := e.call(ctx, jsQuery, nil, xpath)
	if err != nil {
		return nil, err
	}
	return e.page.wrap(obj, xpath)
}

func (e *element) ScrollIntoView(ctx context.Context) error {
	var ok bool
	_, err := e.call(ctx, jsScroll, &ok)
	return err
}

func (e *element) RemoveAttribute(ctx context.Context, name string) error {
	var ok bool
	_, err := e.call(ctx, jsRemove, &ok, name)
	return err
}

func (e *element) Clear(ctx context.Context) error {
	var ok bool
	_, err := e.call(ctx, jsClear, &ok)
	return err
}

// Type focuses the element and sends text as native key events, so the
// page's own key handlers and maxlength limits apply.
func (e *element) Type(ctx context.Context, text string) error {
	var ok bool
	if _, err := e.call(ctx, jsFocus, &ok); err != nil {
		return err
	}
	if err := e.page.run(ctx, chromedp.KeyEvent(text)); err != nil {
		return fmt.Errorf("%s: %w", e.desc, err)
	}
	return nil
}

func (e *element) Value(ctx context.Context) (string, error) {
	var v string
	_, err := e.call(ctx, jsValue, &v)
	return v, err
}

func (e *element) Options(ctx context.Context) ([]string, error) {
	var opts []string
	_, err := e.call(ctx, jsOptions, &opts)
	return opts, err
}

func (e *element) SelectByText(ctx context.Context, text string) error {
	var ok bool
	_, err := e.call(ctx, jsSelect, &ok, text)
	return err
}

func (e *element) SelectedText(ctx context.Context) (string, error) {
	var v string
	_, err := e.call(ctx, jsSelected, &v)
	return v, err
}

func (e *element) SetFiles(ctx context.Context, paths ...string) error {
	var isFile bool
	if _, err := e.call(ctx, jsIsFileInput, &isFile); err != nil {
		return err
	}
	if !isFile {
		return fmt.Errorf("%s is not a file input", e.desc)
	}
	err := e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return dom.SetFileInputFiles(paths).WithObjectID(e.id).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to set files on %s (%s): %w", e.desc, strings.Join(paths, ", "), err)
	}
	return nil
}

func (e *element) Click(ctx context.Context) error {
	var ok bool
	_, err := e.call(ctx, jsClick, &ok)
	return err
}
