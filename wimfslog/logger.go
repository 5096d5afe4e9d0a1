// Package wimfslog provides the leveled logger used throughout the
// mount daemon and unmount command, mirroring gcsfuse's internal/logger
// call-site style (Infof/Errorf/Debugf) while rotating the daemon's log
// file with lumberjack the way gcsfuse's background-mode logger does.
package wimfslog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level controls which calls are actually written.
type Level int32

const (
	LevelError Level = iota
	LevelInfo
	LevelDebug
)

var (
	level  atomic.Int32
	stdlog = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func init() {
	level.Store(int32(LevelInfo))
}

// SetLevel changes the global verbosity; DEBUG flag on mount (spec.md
// §6) calls this with LevelDebug.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// SetOutput redirects the destination, e.g. to a lumberjack.Logger when
// the daemon is running detached in the background.
func SetOutput(w io.Writer) {
	stdlog.SetOutput(w)
}

// NewRotatingFile returns a writer suitable for SetOutput that rotates
// the daemon's log file the way gcsfuse configures lumberjack for its
// background process's log destination.
func NewRotatingFile(path string) io.Writer {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
}

func logf(l Level, format string, v ...interface{}) {
	if Level(level.Load()) < l {
		return
	}
	prefix := [...]string{"ERROR", "INFO", "DEBUG"}[l]
	stdlog.Output(3, prefix+" "+fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...interface{}) { logf(LevelError, format, v...) }
func Infof(format string, v ...interface{})  { logf(LevelInfo, format, v...) }
func Debugf(format string, v ...interface{}) { logf(LevelDebug, format, v...) }

func Error(v ...interface{}) { logf(LevelError, "%s", fmt.Sprint(v...)) }
func Info(v ...interface{})  { logf(LevelInfo, "%s", fmt.Sprint(v...)) }
func Debug(v ...interface{}) { logf(LevelDebug, "%s", fmt.Sprint(v...)) }

// NewStdLogger returns a *log.Logger sharing this package's output
// destination, for handing to jacobsa/fuse's MountConfig.ErrorLogger/
// DebugLogger fields, mirroring gcsfuse's cmd/mount.go call site
// (logger.NewLegacyLogger(level, prefix, fsName)).
func NewStdLogger(prefix string) *log.Logger {
	return log.New(stdlog.Writer(), prefix, log.LstdFlags|log.Lmicroseconds)
}
