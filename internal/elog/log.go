// Package elog provides the small structured-logging seam shared by
// internal/session, internal/pagestore, and internal/cv. It wraps
// go.uber.org/zap (the teacher's logging library) behind a narrow
// interface so those packages never depend on zap's concrete types in
// their own exported signatures.
package elog

import "go.uber.org/zap"

// Logger is the structured-logging surface go-e57's internals use.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
}

// Nop returns a Logger that discards everything, matching the teacher's
// convention of defaulting to a no-op logger rather than requiring every
// caller to configure one.
func Nop() Logger {
	return zap.NewNop().Sugar().Desugar()
}

// New wraps an existing *zap.Logger.
func New(z *zap.Logger) Logger {
	if z == nil {
		return Nop()
	}
	return z
}
