// Package logutil provides the leveled logger used throughout blobkv.
//
// Grounded on util/util.go's DPrintf/EPrintf/IPrintf: the teacher mutates a
// single global *log.Logger's prefix and flags on every call, which races
// when more than one goroutine logs concurrently (GC and foreground
// writers both log). Logger fixes that by binding prefix and flags once,
// at construction, and keeping one *log.Logger per level.
package logutil

import (
	"io"
	"log"
	"os"
)

// Logger is the logging interface accepted by config.Options. Anything
// satisfying it — including the stdlib-backed default below — can be
// plugged in as config.Options.Logger.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// stdLogger is the default Logger, modeled on the teacher's DPrintf-family
// helpers but instantiated rather than global.
type stdLogger struct {
	debug bool
	debugL, infoL, warnL, errL *log.Logger
}

// New returns a Logger writing to w. debug enables Debugf output,
// mirroring the teacher's compile-time `const Debug = true` switch.
func New(w io.Writer, debug bool) Logger {
	flags := log.Ldate | log.Ltime
	return &stdLogger{
		debug:  debug,
		debugL: log.New(w, "[Debug] ", flags),
		infoL:  log.New(w, "[Info] ", flags),
		warnL:  log.New(w, "[Warn] ", flags),
		errL:   log.New(w, "[Error] ", flags),
	}
}

// Default is the stderr logger that config.DefaultOptions installs as
// Options.Logger. Nothing substitutes it for a nil Logger.
func Default() Logger { return New(os.Stderr, false) }

func (l *stdLogger) Debugf(format string, args ...interface{}) {
	if l.debug {
		l.debugL.Printf(format, args...)
	}
}

func (l *stdLogger) Infof(format string, args ...interface{})  { l.infoL.Printf(format, args...) }
func (l *stdLogger) Warnf(format string, args ...interface{})  { l.warnL.Printf(format, args...) }
func (l *stdLogger) Errorf(format string, args ...interface{}) { l.errL.Printf(format, args...) }
