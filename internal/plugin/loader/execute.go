package loader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/plugforge/internal/plugin"
)

// Execute runs plugin id with execCtx under deadline (zero means the
// configured timeout). Unregistered plugins are loaded on demand, through
// the Catalog when one is set.
//
// Exactly one execution record is written per call, before Execute
// returns. On failure the returned result carries the message and the
// error is returned alongside it.
func (l *Loader) Execute(ctx context.Context, id string, execCtx plugin.ExecutionContext, deadline time.Duration) (*plugin.ExecutionResult, error) {
	execCtx.PluginID = id
	if execCtx.Timestamp.IsZero() {
		execCtx.Timestamp = l.now()
	}
	if deadline <= 0 {
		deadline = l.cfg.Timeout
	}

	value, err := l.execute(ctx, id, execCtx, deadline)
	l.record(ctx, execCtx, err)

	if err != nil {
		return &plugin.ExecutionResult{Success: false, Error: errorMessage(err)}, err
	}
	return &plugin.ExecutionResult{Success: true, Payload: value}, nil
}

// Refuse records an invocation of id that was turned away before reaching
// the sandbox and returns its failed result. cause is the refusal reason.
func (l *Loader) Refuse(ctx context.Context, id string, execCtx plugin.ExecutionContext, cause error) *plugin.ExecutionResult {
	execCtx.PluginID = id
	if execCtx.Timestamp.IsZero() {
		execCtx.Timestamp = l.now()
	}
	l.record(ctx, execCtx, cause)
	return &plugin.ExecutionResult{Success: false, Error: errorMessage(cause)}
}

func (l *Loader) execute(ctx context.Context, id string, execCtx plugin.ExecutionContext, deadline time.Duration) (any, error) {
	lp, err := l.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if !lp.Program.HasEntry() {
		return nil, &plugin.LoadError{Kind: plugin.ErrNoEntryPoint, PluginID: id}
	}

	out, err := l.sandbox.Run(ctx, lp.Program, execCtx, deadline)
	if err != nil {
		l.logger.Debug("plugin execution failed", "plugin", id, "phase", out.Phase, "elapsed", out.Elapsed, "error", err)
		return nil, err
	}
	l.logger.Debug("plugin executed", "plugin", id, "elapsed", out.Elapsed, "output_lines", len(out.Output))

	if msg, failed := reportedFailure(out.Result); failed {
		return nil, &plugin.ExecutionError{PluginID: id, Message: msg}
	}
	return out.Result, nil
}

// resolve returns the registered entry for id, loading it when absent.
func (l *Loader) resolve(ctx context.Context, id string) (*Loaded, error) {
	if lp, ok := l.Get(id); ok {
		return lp, nil
	}

	var persisted *plugin.Descriptor
	if l.catalog != nil {
		d, err := l.catalog.GetDescriptor(ctx, id)
		switch {
		case errors.Is(err, plugin.ErrPluginNotFound):
			return nil, &plugin.LoadError{Kind: plugin.ErrPluginNotFound, PluginID: id}
		case err != nil:
			return nil, fmt.Errorf("lookup plugin %s: %w", id, err)
		}
		persisted = d
	}
	return l.load(ctx, id, persisted)
}

// record fans one record out to every sink. Sink failures are logged.
func (l *Loader) record(ctx context.Context, execCtx plugin.ExecutionContext, err error) {
	rec := plugin.ExecutionRecord{
		PluginID:  execCtx.PluginID,
		UserID:    execCtx.UserID,
		Status:    plugin.StatusSuccess,
		Timestamp: l.now().UTC(),
	}
	if err != nil {
		rec.Status = plugin.StatusError
		if errors.Is(err, plugin.ErrTimeout) {
			rec.Status = plugin.StatusTimeout
		}
		msg := errorMessage(err)
		rec.Error = &msg
	}

	// The record is written even when the caller has gone away
	ctx = context.WithoutCancel(ctx)

	l.recordMu.Lock()
	for _, sink := range l.sinks {
		if serr := sink.RecordExecution(ctx, rec); serr != nil {
			l.logger.Error("failed to write execution record", "plugin", rec.PluginID, "error", serr)
		}
	}
	l.recordMu.Unlock()

	l.emit(Event{Type: EventExecuted, PluginID: rec.PluginID, Error: err})
}

// reportedFailure reports whether a payload declares success=false, and
// the message it carries.
func reportedFailure(result any) (string, bool) {
	m, ok := result.(map[string]any)
	if !ok {
		return "", false
	}
	success, ok := m["success"].(bool)
	if !ok || success {
		return "", false
	}
	if msg, ok := m["error"].(string); ok && msg != "" {
		return msg, true
	}
	return "plugin reported failure", true
}

// errorMessage returns the user-facing message for err.
func errorMessage(err error) string {
	var verr *plugin.ValidationError
	if errors.As(err, &verr) {
		return verr.Reason()
	}
	return err.Error()
}
