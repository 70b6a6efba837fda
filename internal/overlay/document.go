// Package overlay renders highlight commands onto a live page: a state
// machine over per-selector highlights with an idle watchdog, an exit
// animation and a step sequencer.
package overlay

import "errors"

// ErrNotFound reports a selector that matched nothing. Highlight treats it
// as a soft failure; the page may simply have changed under us.
var ErrNotFound = errors.New("overlay: element not found")

// Style is the inline style slice the engine touches. Restoring a saved
// Style puts the element back exactly as it was, including empty fields.
type Style struct {
	Outline      string `json:"outline"`
	BoxShadow    string `json:"boxShadow"`
	ScrollMargin string `json:"scrollMargin"`
	Transition   string `json:"transition"`
}

// Rect is an element's viewport-relative bounding box.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Element is one resolved page element.
type Element interface {
	Style() (Style, error)
	SetStyle(Style) error
	ScrollIntoView() error
	Box() (Rect, error)
}

// Document abstracts the page so the engine is testable without a browser.
type Document interface {
	// Resolve returns the element for a selector, or ErrNotFound.
	Resolve(selector string) (Element, error)
	// EnsureLabel creates or updates the floating label tag for a selector.
	EnsureLabel(selector, label string) error
	RemoveLabel(selector string) error
	// Teardown removes every artifact the document injected into the page.
	Teardown() error
}
