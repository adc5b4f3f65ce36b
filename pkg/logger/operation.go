package logger

import (
	"context"
	"log/slog"
	"time"
)

// Operation logs the lifecycle of one multi-step operation.
type Operation struct {
	logger    *Logger
	ctx       context.Context
	name      string
	StartTime time.Time
	attrs     []any
}

// StartOp begins tracking an operation. The returned context carries the
// operation name so nested log lines are tagged with it.
func (l *Logger) StartOp(ctx context.Context, name string, args ...any) (*Operation, context.Context) {
	ctx = WithOperation(ctx, name)
	op := &Operation{
		logger:    l,
		ctx:       ctx,
		name:      name,
		StartTime: time.Now(),
		attrs:     args,
	}

	l.WithContext(ctx).Debug("operation started", args...)
	return op, ctx
}

// With adds attributes to every later entry of the operation.
func (op *Operation) With(args ...any) *Operation {
	op.attrs = append(op.attrs, args...)
	return op
}

// Complete logs successful completion at info level.
func (op *Operation) Complete(msg string, args ...any) {
	if msg == "" {
		msg = "operation completed"
	}
	op.logger.WithContext(op.ctx).Info(msg, op.fields(args)...)
}

// Fail logs a failed operation. DomainError fields are included.
func (op *Operation) Fail(err error, msg string, args ...any) {
	if msg == "" {
		msg = "operation failed"
	}
	op.logger.WithContext(op.ctx).Error(msg, append(errorAttrs(err), op.fields(args)...)...)
}

// Progress logs an intermediate step at debug level.
func (op *Operation) Progress(msg string, args ...any) {
	op.logger.WithContext(op.ctx).Debug(msg, op.fields(args)...)
}

func (op *Operation) fields(args []any) []any {
	attrs := append([]any{slog.Duration("duration", time.Since(op.StartTime))}, op.attrs...)
	return append(attrs, args...)
}
