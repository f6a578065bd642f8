package mcpservice

import "context"

// ProgressReporter forwards progress of the current call to the client.
// Transports install one in the call context when the client supplied a
// progress token.
type ProgressReporter interface {
	// Report emits a progress update. total may be zero when unknown.
	Report(ctx context.Context, progress, total float64, message string) error
}

type progressKey struct{}

// WithProgressReporter returns a new context carrying the provided reporter.
func WithProgressReporter(ctx context.Context, pr ProgressReporter) context.Context {
	if pr == nil {
		return ctx
	}
	return context.WithValue(ctx, progressKey{}, pr)
}

// ProgressFrom retrieves a ProgressReporter from the context if present.
func ProgressFrom(ctx context.Context) (ProgressReporter, bool) {
	pr, ok := ctx.Value(progressKey{}).(ProgressReporter)
	return pr, ok && pr != nil
}

// ReportProgress is a convenience that reports through the context's
// reporter, if any. Errors are ignored; progress is best effort.
func ReportProgress(ctx context.Context, progress, total float64, message string) {
	if pr, ok := ProgressFrom(ctx); ok {
		_ = pr.Report(ctx, progress, total, message)
	}
}
