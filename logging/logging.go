// Package logging provides the structured logger shared by the server-style
// components in vfscore (block devices, the page cache, the VFS registry,
// memfs). It wraps zap the way a larger system would: one
// constructor, a couple of named child loggers, never a bare log.Printf.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the sugared zap logger, aliased so callers don't import zap
// directly and so we have one place to change the underlying library.
type Logger = zap.SugaredLogger

// New builds a development-friendly logger at the given level. Production
// callers (cmd/vfsdemo) can swap the encoder config; tests use Nop.
func New(level zapcore.Level) *Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	base, err := cfg.Build()
	if err != nil {
		// zap's development config never fails to build; fall back to a
		// no-op logger rather than panicking a library caller.
		return zap.NewNop().Sugar()
	}
	return base.Sugar()
}

// Nop returns a logger that discards everything, for tests and library
// callers that don't want vfscore chattering on stderr.
func Nop() *Logger {
	return zap.NewNop().Sugar()
}

// Named returns a child logger scoped to the given component, e.g.
// logging.Named(l, "pagecache").
func Named(l *Logger, component string) *Logger {
	return l.Named(component)
}
