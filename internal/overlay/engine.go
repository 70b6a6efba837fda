package overlay

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/protocol"
)

// Highlight appearance. The transition makes both entry and the exit fade
// animate without any scripting on our side.
const (
	highlightOutline = "3px solid #7c3aed"
	highlightShadow  = "0 0 0 4px rgba(124, 58, 237, 0.35)"
	highlightMargin  = "80px"
	highlightFade    = "outline-color 300ms ease, box-shadow 300ms ease"

	exitOutline = "3px solid rgba(124, 58, 237, 0)"
	exitShadow  = "0 0 0 4px rgba(124, 58, 237, 0)"
)

// Options tune the engine's timing. Zero fields get defaults.
type Options struct {
	// IdleTimeout clears all highlights after a period with no new commands.
	IdleTimeout time.Duration
	// ExitDuration is how long the fade-out runs before styles are restored.
	ExitDuration time.Duration
	// StepHold is the default dwell per sequence step.
	StepHold time.Duration
	// StepPause separates the fade-out of one step from the next highlight.
	StepPause time.Duration
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 15 * time.Second
	}
	if o.ExitDuration <= 0 {
		o.ExitDuration = 400 * time.Millisecond
	}
	if o.StepHold <= 0 {
		o.StepHold = 3 * time.Second
	}
	if o.StepPause <= 0 {
		o.StepPause = 300 * time.Millisecond
	}
	return o
}

// highlight is one active overlay: the element, its pre-highlight style for
// exact restoration, and the label text currently shown. While the exit fade
// runs, exit holds the timer that will restore the saved style.
type highlight struct {
	el    Element
	saved Style
	label string
	exit  *time.Timer
}

// Engine owns all highlight state for one page. All mutation is serialized
// through its mutex; animations run outside the lock.
type Engine struct {
	doc  Document
	log  *zap.Logger
	opts Options

	mu        sync.Mutex
	active    map[string]*highlight
	exiting   map[string]*highlight
	watchdog  *time.Timer
	seqCancel context.CancelFunc
	destroyed bool
}

func NewEngine(doc Document, opts Options, log *zap.Logger) *Engine {
	return &Engine{
		doc:     doc,
		log:     log,
		opts:    opts.withDefaults(),
		active:  make(map[string]*highlight),
		exiting: make(map[string]*highlight),
	}
}

// Highlight applies or clears one selector depending on action. Applying an
// already-active selector only refreshes its label and the watchdog.
func (e *Engine) Highlight(selector, label, action string) error {
	if action == protocol.ActionClear {
		e.Clear(selector)
		return nil
	}
	return e.apply(selector, label)
}

func (e *Engine) apply(selector, label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}

	if h, ok := e.active[selector]; ok {
		if h.label != label {
			h.label = label
			e.refreshLabelLocked(selector, label)
		}
		e.rearmWatchdogLocked()
		return nil
	}

	// A selector mid-exit comes straight back to active. The originally
	// saved style must survive; re-reading it now would capture the fade.
	if h, ok := e.exiting[selector]; ok {
		h.exit.Stop()
		h.exit = nil
		delete(e.exiting, selector)
		if err := h.el.SetStyle(highlightStyle()); err != nil {
			return err
		}
		h.label = label
		e.active[selector] = h
		e.refreshLabelLocked(selector, label)
		e.rearmWatchdogLocked()
		return nil
	}

	el, err := e.doc.Resolve(selector)
	if errors.Is(err, ErrNotFound) {
		// The model may reference an element that left the page. Not an
		// error worth surfacing; the next frame will teach it otherwise.
		e.log.Warn("selector matched nothing", zap.String("selector", selector))
		return nil
	}
	if err != nil {
		return err
	}

	saved, err := el.Style()
	if err != nil {
		return err
	}

	if err := el.SetStyle(highlightStyle()); err != nil {
		return err
	}
	if err := el.ScrollIntoView(); err != nil {
		e.log.Warn("scroll into view failed", zap.String("selector", selector), zap.Error(err))
	}

	e.active[selector] = &highlight{el: el, saved: saved, label: label}
	e.refreshLabelLocked(selector, label)
	e.rearmWatchdogLocked()
	e.log.Debug("highlight applied", zap.String("selector", selector), zap.String("label", label))
	return nil
}

func (e *Engine) refreshLabelLocked(selector, label string) {
	if label == "" {
		if err := e.doc.RemoveLabel(selector); err != nil {
			e.log.Warn("remove label failed", zap.String("selector", selector), zap.Error(err))
		}
		return
	}
	if err := e.doc.EnsureLabel(selector, label); err != nil {
		e.log.Warn("ensure label failed", zap.String("selector", selector), zap.Error(err))
	}
}

// Clear fades one selector out and restores its saved style once the exit
// duration elapses. Clearing a selector that is absent or already exiting
// is a no-op.
func (e *Engine) Clear(selector string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	h, ok := e.active[selector]
	if !ok {
		return
	}
	delete(e.active, selector)

	if err := h.el.SetStyle(exitStyle(h.saved)); err != nil {
		e.log.Warn("exit style failed", zap.String("selector", selector), zap.Error(err))
	}
	if err := e.doc.RemoveLabel(selector); err != nil {
		e.log.Warn("remove label failed", zap.String("selector", selector), zap.Error(err))
	}
	e.exiting[selector] = h
	h.exit = time.AfterFunc(e.opts.ExitDuration, func() { e.finishExit(selector) })

	if len(e.active) == 0 {
		e.stopWatchdogLocked()
	}
}

// finishExit completes a single-selector fade: restore the saved style,
// unless the selector was re-applied or flushed in the meantime.
func (e *Engine) finishExit(selector string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	h, ok := e.exiting[selector]
	if !ok {
		return
	}
	delete(e.exiting, selector)
	if err := h.el.SetStyle(h.saved); err != nil {
		e.log.Warn("restore style failed", zap.String("selector", selector), zap.Error(err))
	}
}

func (e *Engine) clearLocked(selector string) {
	h, ok := e.active[selector]
	if !ok {
		return
	}
	delete(e.active, selector)
	if err := h.el.SetStyle(h.saved); err != nil {
		e.log.Warn("restore style failed", zap.String("selector", selector), zap.Error(err))
	}
	if err := e.doc.RemoveLabel(selector); err != nil {
		e.log.Warn("remove label failed", zap.String("selector", selector), zap.Error(err))
	}
}

// flushExitingLocked cancels pending exit fades and restores their saved
// styles right away.
func (e *Engine) flushExitingLocked() {
	for selector, h := range e.exiting {
		h.exit.Stop()
		delete(e.exiting, selector)
		if err := h.el.SetStyle(h.saved); err != nil {
			e.log.Warn("restore style failed", zap.String("selector", selector), zap.Error(err))
		}
	}
}

// ClearAll restores every highlight immediately, including ones mid-fade.
func (e *Engine) ClearAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for selector := range e.active {
		e.clearLocked(selector)
	}
	e.flushExitingLocked()
	e.stopWatchdogLocked()
}

// ClearAllAnimated fades every highlight out over ExitDuration, then
// restores the saved styles. It blocks for the animation unless ctx is
// canceled first, in which case restoration still happens.
func (e *Engine) ClearAllAnimated(ctx context.Context) {
	e.mu.Lock()
	if len(e.active) == 0 {
		e.mu.Unlock()
		return
	}
	snapshot := make(map[string]*highlight, len(e.active))
	for selector, h := range e.active {
		snapshot[selector] = h
		delete(e.active, selector)
	}
	e.stopWatchdogLocked()
	e.mu.Unlock()

	for selector, h := range snapshot {
		if err := h.el.SetStyle(exitStyle(h.saved)); err != nil {
			e.log.Warn("exit style failed", zap.String("selector", selector), zap.Error(err))
		}
		if err := e.doc.RemoveLabel(selector); err != nil {
			e.log.Warn("remove label failed", zap.String("selector", selector), zap.Error(err))
		}
	}

	sleep(ctx, e.opts.ExitDuration)

	for selector, h := range snapshot {
		if err := h.el.SetStyle(h.saved); err != nil {
			e.log.Warn("restore style failed", zap.String("selector", selector), zap.Error(err))
		}
	}
}

// StopSequence cancels a running sequence, if any. Highlights already on
// screen stay until cleared or the watchdog fires.
func (e *Engine) StopSequence() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopSequenceLocked()
}

func (e *Engine) stopSequenceLocked() {
	if e.seqCancel != nil {
		e.seqCancel()
		e.seqCancel = nil
	}
}

// Destroy tears everything down synchronously: the sequence, the watchdog,
// all highlights and the document's injected artifacts. The engine is dead
// afterwards; every later command is a no-op.
func (e *Engine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.stopSequenceLocked()
	e.stopWatchdogLocked()
	for selector := range e.active {
		e.clearLocked(selector)
	}
	e.flushExitingLocked()
	e.mu.Unlock()

	if err := e.doc.Teardown(); err != nil {
		e.log.Warn("document teardown failed", zap.Error(err))
	}
}

// ActiveSelectors lists the selectors currently highlighted, for tests and
// status displays.
func (e *Engine) ActiveSelectors() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.active))
	for selector := range e.active {
		out = append(out, selector)
	}
	return out
}

// rearmWatchdogLocked restarts the idle timer. Stale highlights get faded
// out when the model goes quiet.
func (e *Engine) rearmWatchdogLocked() {
	if e.watchdog != nil {
		e.watchdog.Stop()
	}
	e.watchdog = time.AfterFunc(e.opts.IdleTimeout, func() {
		e.log.Debug("idle watchdog fired")
		e.ClearAllAnimated(context.Background())
	})
}

func (e *Engine) stopWatchdogLocked() {
	if e.watchdog != nil {
		e.watchdog.Stop()
		e.watchdog = nil
	}
}

func highlightStyle() Style {
	return Style{
		Outline:      highlightOutline,
		BoxShadow:    highlightShadow,
		ScrollMargin: highlightMargin,
		Transition:   highlightFade,
	}
}

// exitStyle fades the decoration to transparent while keeping the saved
// scroll margin, so the element does not jump during the fade.
func exitStyle(saved Style) Style {
	return Style{
		Outline:      exitOutline,
		BoxShadow:    exitShadow,
		ScrollMargin: saved.ScrollMargin,
		Transition:   highlightFade,
	}
}

// sleep waits for d or ctx, whichever ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
