package validation

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultDebounce is the wait after the last keystroke before a field value
// is sent for validation.
const DefaultDebounce = 500 * time.Millisecond

type fieldState struct {
	timer *time.Timer
	// seq is issued when a check is dispatched. Only the result carrying
	// the newest seq for the field is applied.
	seq uint64
}

// Pipeline debounces field edits and fans validation results back through a
// single callback. Stale results (an older dispatch finishing after a newer
// one) are dropped.
type Pipeline struct {
	checker      Checker
	saver        Saver
	debounce     time.Duration
	logger       *slog.Logger
	onResult     func(Result)
	onCheckError func(fieldID string, err error)
	sessionID    func() string

	mu     sync.Mutex
	fields map[string]*fieldState
	closed bool
}

// PipelineOption customizes a Pipeline.
type PipelineOption func(*Pipeline)

// WithDebounce overrides the debounce window.
func WithDebounce(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithSaver sets the store used for blur-triggered saves.
func WithSaver(s Saver) PipelineOption {
	return func(p *Pipeline) { p.saver = s }
}

// WithOnCheckError registers a callback for failed validation calls. A
// transport failure is not a verdict on the value, so it never produces a
// Result; the field keeps whatever status it last had.
func WithOnCheckError(fn func(fieldID string, err error)) PipelineOption {
	return func(p *Pipeline) { p.onCheckError = fn }
}

// NewPipeline builds a Pipeline. sessionID is read at dispatch time so the
// pipeline follows session changes without rewiring. onResult receives
// pending and final results; it must not block.
func NewPipeline(checker Checker, sessionID func() string, onResult func(Result), opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		checker:   checker,
		debounce:  DefaultDebounce,
		logger:    slog.Default(),
		onResult:  onResult,
		sessionID: sessionID,
		fields:    make(map[string]*fieldState),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FieldChanged records a keystroke. The validation call fires only after the
// field has been quiet for the debounce window; every change restarts the
// clock. An empty value cancels any scheduled check without validating.
func (p *Pipeline) FieldChanged(fieldID, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	fs := p.fields[fieldID]
	if fs == nil {
		fs = &fieldState{}
		p.fields[fieldID] = fs
	}
	if fs.timer != nil {
		fs.timer.Stop()
		fs.timer = nil
	}

	if strings.TrimSpace(value) == "" {
		// Invalidate any in-flight check for the cleared field.
		fs.seq++
		return
	}

	p.emit(Result{FieldID: fieldID, Status: StatusPending})
	fs.timer = time.AfterFunc(p.debounce, func() {
		p.dispatch(fieldID, value)
	})
}

// FieldBlurred fires when the user leaves a field: the pending debounce is
// collapsed into an immediate check, and the value is saved right away.
func (p *Pipeline) FieldBlurred(ctx context.Context, fieldID, value string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if fs := p.fields[fieldID]; fs != nil && fs.timer != nil {
		fs.timer.Stop()
		fs.timer = nil
	}
	p.mu.Unlock()

	if strings.TrimSpace(value) != "" {
		p.dispatch(fieldID, value)
	}
	if p.saver != nil {
		if err := p.saver.SaveResponse(ctx, fieldID, value); err != nil {
			p.logger.Warn("blur save failed", "field_id", fieldID, "error", err)
		}
	}
}

// dispatch issues a sequence number and runs the remote check. The result is
// applied only if no newer check was issued for the field meanwhile.
func (p *Pipeline) dispatch(fieldID, value string) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	fs := p.fields[fieldID]
	if fs == nil {
		fs = &fieldState{}
		p.fields[fieldID] = fs
	}
	fs.seq++
	seq := fs.seq
	sessionID := p.sessionID()
	p.mu.Unlock()

	go func() {
		res, err := p.checker.ValidateField(context.Background(), sessionID, fieldID, value)

		p.mu.Lock()
		cur := p.fields[fieldID]
		if p.closed || cur == nil || cur.seq != seq {
			p.mu.Unlock()
			p.logger.Debug("discarding stale validation result",
				"field_id", fieldID, "seq", seq)
			return
		}
		p.mu.Unlock()

		if err != nil {
			// A failed call is a transient network condition, not a low
			// score; no Result is emitted for it.
			p.logger.Warn("validation call failed", "field_id", fieldID, "error", err)
			if p.onCheckError != nil {
				p.onCheckError(fieldID, err)
			}
			return
		}
		res.FieldID = fieldID
		if res.Status == "" {
			res.Status = StatusForScore(res.Score)
		}
		p.emit(res)
	}()
}

func (p *Pipeline) emit(res Result) {
	if p.onResult != nil {
		p.onResult(res)
	}
}

// Close stops all timers. Results from checks still in flight are dropped.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, fs := range p.fields {
		if fs.timer != nil {
			fs.timer.Stop()
			fs.timer = nil
		}
	}
}
