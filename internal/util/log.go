// Package util provides logging, counters and small helpers shared by the
// client and the echo server.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled logging functions backed by pterm's default logger.
// All output goes to stderr by default (pterm's default).

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// Logger tags every line with the component that wrote it.
type Logger struct {
	scope string
}

// Scope returns a logger whose lines carry a "scope" argument.
func Scope(name string) *Logger {
	return &Logger{scope: name}
}

func (l *Logger) args() []pterm.LoggerArgument {
	return pterm.DefaultLogger.Args("scope", l.scope)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args())
}

func (l *Logger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args())
}

func (l *Logger) Warn(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args())
}

func (l *Logger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args())
}
