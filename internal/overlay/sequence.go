package overlay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/protocol"
)

// PlaySequence walks a guided tour: fade out, pause, highlight, dwell, for
// each step in order. A new sequence cancels the previous one at its next
// suspension point. The final step's highlight stays on screen under the
// normal idle watchdog.
func (e *Engine) PlaySequence(steps []protocol.SequenceStep) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.stopSequenceLocked()
	ctx, cancel := context.WithCancel(context.Background())
	e.seqCancel = cancel
	e.mu.Unlock()

	go e.runSequence(ctx, steps)
}

func (e *Engine) runSequence(ctx context.Context, steps []protocol.SequenceStep) {
	for i, step := range steps {
		if ctx.Err() != nil {
			return
		}

		e.ClearAllAnimated(ctx)
		if !sleep(ctx, e.opts.StepPause) {
			return
		}

		if err := e.Highlight(step.Selector, step.Label, protocol.ActionApply); err != nil {
			e.log.Warn("sequence step failed", zap.Int("step", i), zap.String("selector", step.Selector), zap.Error(err))
		}

		// Dwell on every step but the last; the last one stays until the
		// watchdog or an explicit clear takes it down.
		if i == len(steps)-1 {
			return
		}
		hold := e.opts.StepHold
		if step.DelayMS > 0 {
			hold = time.Duration(step.DelayMS) * time.Millisecond
		}
		if !sleep(ctx, hold) {
			return
		}
	}
}
