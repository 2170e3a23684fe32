package logging

import "context"

// NoOpLogger discards everything; used by tests that don't want log noise.
type NoOpLogger struct{}

// NewNoOpLogger creates a Logger that discards all output.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) Info(msg string, fields ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, fields ...interface{})  {}
func (n *NoOpLogger) Error(msg string, fields ...interface{}) {}
func (n *NoOpLogger) Debug(msg string, fields ...interface{}) {}
func (n *NoOpLogger) Fatal(msg string, fields ...interface{}) {}
func (n *NoOpLogger) ErrorErr(msg string, err error, fields ...interface{}) {}

func (n *NoOpLogger) InfoContext(ctx context.Context, msg string, fields ...interface{})  {}
func (n *NoOpLogger) WarnContext(ctx context.Context, msg string, fields ...interface{})  {}
func (n *NoOpLogger) ErrorContext(ctx context.Context, msg string, fields ...interface{}) {}
func (n *NoOpLogger) DebugContext(ctx context.Context, msg string, fields ...interface{}) {}

func (n *NoOpLogger) WithTraceID(traceID string) Logger  { return n }
func (n *NoOpLogger) WithComponent(component string) Logger { return n }
