// Package telemetry implements the observer interface
// violations and protocol warnings are reported through, plus a
// zap-backed diagnostic logger in the style of moto/utils.Logger.
//
// The Observer interface is the in-scope contract; a host routes its
// own zap cores wherever it likes (file, stdout, remote
// aggregator) — this package only builds the logger, it never assumes
// where the bytes end up.
package telemetry

import (
	"fmt"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Severity classifies a reported violation.
type Severity int

const (
	// SeverityWarning is a recoverable, advisory condition (oversize
	// packet, sync retry threshold crossed).
	SeverityWarning Severity = iota
	// SeverityError is a caller-correctable misuse.
	SeverityError
	// SeverityCritical is an invariant failure; the operation that
	// detected it also returns an InternalError to its caller.
	SeverityCritical
)

// String implements fmt.Stringer.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Kind classifies what subsystem raised a violation, for observers that
// want to filter or route by area.
type Kind int

const (
	KindStateManagement Kind = iota
	KindProtocol
	KindSync
	KindInputQueue
	KindTransport
	KindInternal
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindStateManagement:
		return "state_management"
	case KindProtocol:
		return "protocol"
	case KindSync:
		return "sync"
	case KindInputQueue:
		return "input_queue"
	case KindTransport:
		return "transport"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Violation is a single reported condition.
type Violation struct {
	Severity Severity
	Kind     Kind
	Message  string
}

// Observer receives violations as they are detected. Implementations
// must not block and must not panic; the core treats Observer as
// best-effort. A nil Observer is valid and discards everything.
type Observer interface {
	OnViolation(v Violation)
}

// NopObserver discards every violation. It is the default when a
// session is built without a configured observer.
type NopObserver struct{}

// OnViolation implements Observer.
func (NopObserver) OnViolation(Violation) {}

// Report sends v to obs if non-nil, doing nothing otherwise. Callers use
// this instead of nil-checking at every call site.
func Report(obs Observer, severity Severity, kind Kind, format string, args ...any) {
	if obs == nil {
		return
	}
	obs.OnViolation(Violation{
		Severity: severity,
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
	})
}

// NewLogger builds a zap.Logger with a JSON-encoded core gated by a
// level enabler, with AddCaller on. The sink is
// supplied by the caller instead of read from a config file path —
// reading logger destinations off disk is the out-of-scope "CLI/config
// loading"
// concern, not something this library does for you.
func NewLogger(level zapcore.Level, sink zapcore.WriteSyncer) *zap.Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= level })
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	core := zapcore.NewTee(zapcore.NewCore(encoder, sink, enabler))

	return zap.New(core, zap.AddCaller())
}

// NewRotatingSink builds a lumberjack-backed WriteSyncer for NewLogger,
// matching the rotation policy moto/utils/log.go uses (size-capped,
// aged-out, compressed backups).
func NewRotatingSink(path string, maxSizeMB, maxBackups, maxAgeDays int, compress bool) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   compress,
	})
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Violation)

// OnViolation implements Observer.
func (f ObserverFunc) OnViolation(v Violation) { f(v) }

// LoggingObserver forwards every violation to a zap.Logger at a level
// derived from its Severity. Useful as a default Observer for hosts
// that already have a zap logger wired up via NewLogger.
type LoggingObserver struct {
	Logger *zap.Logger
}

// OnViolation implements Observer.
func (l LoggingObserver) OnViolation(v Violation) {
	if l.Logger == nil {
		return
	}
	fields := []zap.Field{zap.String("kind", v.Kind.String())}
	switch v.Severity {
	case SeverityCritical:
		l.Logger.Error(v.Message, fields...)
	case SeverityError:
		l.Logger.Warn(v.Message, fields...)
	default:
		l.Logger.Info(v.Message, fields...)
	}
}
