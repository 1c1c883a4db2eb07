package skills

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultExecutionTimeout is the hard ceiling on a single skill execution.
const DefaultExecutionTimeout = 300 * time.Second

// PermissionFunc reports whether a single permission is granted.
type PermissionFunc func(p Permission) bool

// ConfirmFunc asks the user to confirm a confirmation-required skill.
type ConfirmFunc func(meta Metadata, params map[string]any) bool

// ExecutionCallback is notified after every managed execution. Panics in
// callbacks are swallowed.
type ExecutionCallback func(rec ExecutionRecord)

// RecordSink mirrors execution records to durable storage.
type RecordSink interface {
	Append(rec ExecutionRecord) error
	Close() error
}

// ExecOptions tweak a single managed execution.
type ExecOptions struct {
	SkipValidation   bool
	SkipConfirmation bool
}

// Executor runs skill invocations through a fixed managed protocol:
// validate, authorize, confirm, execute under timeout, hook, record,
// notify, cleanup. Normal failures come back as a failed Result; only a
// panic escaping the skill's own execute propagates, as *ExecutionError.
type Executor struct {
	logger     *slog.Logger
	timeout    time.Duration
	maxHistory int

	permissions PermissionFunc
	confirm     ConfirmFunc

	mu        sync.Mutex
	history   []ExecutionRecord
	callbacks []ExecutionCallback
	sink      RecordSink
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPermissionCheck wires the permission predicate. Without one, all
// permissions are assumed granted.
func WithPermissionCheck(fn PermissionFunc) ExecutorOption {
	return func(e *Executor) { e.permissions = fn }
}

// WithConfirmation wires the confirmation predicate. Without one,
// confirmation-required skills auto-confirm.
func WithConfirmation(fn ConfirmFunc) ExecutorOption {
	return func(e *Executor) { e.confirm = fn }
}

// WithTimeout overrides the execution ceiling.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRecordSink mirrors execution records to a durable store.
func WithRecordSink(sink RecordSink) ExecutorOption {
	return func(e *Executor) { e.sink = sink }
}

// NewExecutor creates an executor keeping at most maxHistory records.
func NewExecutor(logger *slog.Logger, maxHistory int, opts ...ExecutorOption) *Executor {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	e := &Executor{
		logger:     logger.With("component", "skill-executor"),
		timeout:    DefaultExecutionTimeout,
		maxHistory: maxHistory,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one skill invocation through the managed protocol.
func (e *Executor) Execute(ctx context.Context, skill Skill, params map[string]any, opts ExecOptions) (res *Result, err error) {
	meta := skill.Metadata()
	if params == nil {
		params = map[string]any{}
	}

	// 1. Parameter validation — a violation never touches permissions or
	// execution.
	if !opts.SkipValidation {
		if msg := ValidateParameters(skill.Parameters(), params); msg != "" {
			return Fail("invalid parameters for "+meta.SkillID, msg), nil
		}
	}

	// 2. Permission check. No validator configured means assume granted.
	if e.permissions != nil {
		for _, p := range meta.PermissionsRequired {
			if !e.permissions(p) {
				return Fail(
					fmt.Sprintf("skill %s requires permission %q", meta.SkillID, p),
					"permission denied",
				), nil
			}
		}
	}

	// 3. Confirmation gate.
	if meta.RequiresConfirmation && !opts.SkipConfirmation && e.confirm != nil {
		if !e.confirm(meta, params) {
			return Fail("execution of "+meta.SkillID+" cancelled by user", "cancelled"), nil
		}
	}

	params = ApplyDefaults(skill.Parameters(), params)
	start := time.Now()

	// 8. Cleanup always runs, whatever happened in between.
	defer func() {
		if cerr := skill.Cleanup(ctx); cerr != nil {
			e.logger.Warn("skill cleanup failed", "skill", meta.SkillID, "error", cerr)
		}
	}()

	// 4. Execute under the hard timeout.
	res, execErr := e.runWithTimeout(ctx, skill, meta.SkillID, params)

	// 5. Outcome hook. Hook failures are logged, never propagated.
	if res != nil {
		var herr error
		if res.Success {
			herr = skill.OnSuccess(ctx, res)
		} else {
			herr = skill.OnError(ctx, res)
		}
		if herr != nil {
			e.logger.Warn("skill hook failed", "skill", meta.SkillID, "error", herr)
		}
	}

	// 6 + 7. Record and notify, even for the propagating fault.
	rec := ExecutionRecord{
		ID:         uuid.New().String(),
		SkillID:    meta.SkillID,
		Parameters: snapshot(params),
		Result:     res,
		Timestamp:  start,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if execErr != nil {
		rec.Error = execErr.Error()
	} else if res != nil && !res.Success {
		rec.Error = res.Error
	}
	e.record(rec)
	e.notify(rec)

	if execErr != nil {
		return nil, execErr
	}
	return res, nil
}

// runWithTimeout invokes the skill's execute on its own goroutine so the
// ceiling holds even when the skill ignores ctx. A panic inside the skill
// becomes an *ExecutionError — the one propagating path.
func (e *Executor) runWithTimeout(ctx context.Context, skill Skill, skillID string, params map[string]any) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &ExecutionError{
					SkillID: skillID,
					Message: "panic during execution",
					Cause:   fmt.Errorf("%v", r),
				}}
			}
		}()
		res := skill.Execute(ctx, params)
		if res == nil {
			res = Fail("skill "+skillID+" returned no result", "nil result")
		}
		done <- outcome{res: res}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-ctx.Done():
		e.logger.Warn("skill execution timed out", "skill", skillID, "timeout", e.timeout)
		return Fail(
			"skill "+skillID+" timed out",
			fmt.Sprintf("execution exceeded %s timeout", e.timeout),
		), nil
	}
}

// Subscribe registers a post-execution callback.
func (e *Executor) Subscribe(cb ExecutionCallback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// History returns a copy of the execution records, oldest first.
func (e *Executor) History() []ExecutionRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]ExecutionRecord, len(e.history))
	copy(out, e.history)
	return out
}

// ClearHistory drops all in-memory records.
func (e *Executor) ClearHistory() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = nil
}

func (e *Executor) record(rec ExecutionRecord) {
	e.mu.Lock()
	e.history = append(e.history, rec)
	if len(e.history) > e.maxHistory {
		e.history = e.history[len(e.history)-e.maxHistory:]
	}
	sink := e.sink
	e.mu.Unlock()

	if sink != nil {
		if err := sink.Append(rec); err != nil {
			e.logger.Warn("failed to persist execution record", "skill", rec.SkillID, "error", err)
		}
	}
}

func (e *Executor) notify(rec ExecutionRecord) {
	e.mu.Lock()
	cbs := make([]ExecutionCallback, len(e.callbacks))
	copy(cbs, e.callbacks)
	e.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("execution callback panicked", "error", fmt.Sprintf("%v", r))
				}
			}()
			cb(rec)
		}()
	}
}

func snapshot(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
