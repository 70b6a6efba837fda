package overlay

import (
	"encoding/json"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/glowpath/glowpath/internal/protocol"
)

// RodDocument implements Document against a live Chromium page via the
// DevTools protocol.
type RodDocument struct {
	page *rod.Page
}

func NewRodDocument(page *rod.Page) *RodDocument {
	return &RodDocument{page: page}
}

func (d *RodDocument) Resolve(selector string) (Element, error) {
	has, el, err := d.page.Has(selector)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", selector, err)
	}
	if !has {
		return nil, ErrNotFound
	}
	return &rodElement{el: el}, nil
}

// labelScript creates or updates the floating label for a selector. A fresh
// label starts a per-frame tracking loop that follows the element's bounding
// box and dies when the label node leaves the DOM, so the tag stays glued to
// its element through scrolling and layout shifts.
const labelScript = `(sel, label) => {
	const el = document.querySelector(sel);
	if (!el) return false;
	let tag = null;
	for (const n of document.querySelectorAll('.glowpath-label')) {
		if (n.dataset.for === sel) { tag = n; break; }
	}
	const fresh = !tag;
	if (fresh) {
		tag = document.createElement('div');
		tag.className = 'glowpath-label';
		tag.dataset.for = sel;
		document.body.appendChild(tag);
	}
	tag.textContent = label;
	Object.assign(tag.style, {
		position: 'fixed',
		background: '#7c3aed',
		color: '#fff',
		padding: '2px 8px',
		borderRadius: '4px',
		font: '12px/1.5 system-ui, sans-serif',
		zIndex: 2147483647,
		pointerEvents: 'none'
	});
	const place = () => {
		const target = document.querySelector(sel);
		if (!target) return;
		const r = target.getBoundingClientRect();
		tag.style.left = Math.max(0, r.left) + 'px';
		tag.style.top = Math.max(0, r.top - 28) + 'px';
	};
	place();
	if (fresh) {
		const track = () => {
			if (!tag.isConnected) return;
			place();
			requestAnimationFrame(track);
		};
		requestAnimationFrame(track);
	}
	return true;
}`

func (d *RodDocument) EnsureLabel(selector, label string) error {
	_, err := d.page.Eval(labelScript, selector, label)
	return err
}

func (d *RodDocument) RemoveLabel(selector string) error {
	_, err := d.page.Eval(`(sel) => {
		for (const n of document.querySelectorAll('.glowpath-label')) {
			if (n.dataset.for === sel) n.remove();
		}
	}`, selector)
	return err
}

func (d *RodDocument) Teardown() error {
	_, err := d.page.Eval(`() => {
		for (const n of document.querySelectorAll('.glowpath-label')) n.remove();
	}`)
	return err
}

type rodElement struct {
	el *rod.Element
}

// Style reads the element's inline style slice, not the computed style, so
// restoring it later reinstates exactly what the page author set.
func (e *rodElement) Style() (Style, error) {
	res, err := e.el.Eval(`() => ({
		outline: this.style.outline,
		boxShadow: this.style.boxShadow,
		scrollMargin: this.style.scrollMargin,
		transition: this.style.transition
	})`)
	if err != nil {
		return Style{}, err
	}
	var s Style
	if err := json.Unmarshal([]byte(res.Value.String()), &s); err != nil {
		return Style{}, fmt.Errorf("parse style: %w", err)
	}
	return s, nil
}

func (e *rodElement) SetStyle(s Style) error {
	_, err := e.el.Eval(`(s) => {
		this.style.outline = s.outline;
		this.style.boxShadow = s.boxShadow;
		this.style.scrollMargin = s.scrollMargin;
		this.style.transition = s.transition;
	}`, s)
	return err
}

func (e *rodElement) ScrollIntoView() error {
	return e.el.ScrollIntoView()
}

func (e *rodElement) Box() (Rect, error) {
	shape, err := e.el.Shape()
	if err != nil {
		return Rect{}, err
	}
	if len(shape.Quads) == 0 {
		return Rect{}, ErrNotFound
	}
	q := shape.Quads[0]
	return Rect{
		X:      q[0],
		Y:      q[1],
		Width:  q[2] - q[0],
		Height: q[5] - q[1],
	}, nil
}

// CaptureFrame grabs a JPEG of the viewport plus the current scroll offset,
// the unit the relay stores as a session's visual context.
func CaptureFrame(page *rod.Page, quality int) ([]byte, *protocol.Scroll, error) {
	data, err := page.Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: gson.Int(quality),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("screenshot: %w", err)
	}

	res, err := page.Eval(`() => ({scrollX: Math.round(window.scrollX), scrollY: Math.round(window.scrollY)})`)
	if err != nil {
		return data, nil, nil
	}
	var scroll protocol.Scroll
	if err := json.Unmarshal([]byte(res.Value.String()), &scroll); err != nil {
		return data, nil, nil
	}
	return data, &scroll, nil
}
