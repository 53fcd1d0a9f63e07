// Package log holds the process-wide zap logger used by the run driver and
// handed to every component constructor.
package log

import (
	"fmt"

	"go.uber.org/zap"
)

var sugared *zap.SugaredLogger
var base *zap.Logger

// Init builds the process logger. Debug mode uses zap's development
// encoder so step-by-step output stays readable on a terminal.
func Init(debug bool) error {
	var zl *zap.Logger
	var err error

	if debug {
		zl, err = zap.NewDevelopment(zap.AddCallerSkip(1))
	} else {
		zl, err = zap.NewProduction(zap.AddCallerSkip(1))
	}
	if err != nil {
		return fmt.Errorf("can't initialize zap logger: %v", err)
	}

	base = zl
	sugared = zl.Sugar()
	return nil
}

// GetSugaredLogger returns the process logger, falling back to a
// production logger when Init was never called.
func GetSugaredLogger() *zap.SugaredLogger {
	if sugared == nil {
		base, _ = zap.NewProduction(zap.AddCallerSkip(1))
		sugared = base.Sugar()
	}
	return sugared
}

// Named returns a child logger tagged with a component name.
func Named(component string) *zap.SugaredLogger {
	GetSugaredLogger()
	// Component loggers are called directly, so undo the wrapper's skip.
	return base.WithOptions(zap.AddCallerSkip(-1)).Named(component).Sugar()
}

// Sync flushes any buffered log entries
func Sync() {
	if sugared != nil {
		_ = sugared.Sync()
	}
}

func Infof(template string, args ...interface{}) {
	GetSugaredLogger().Infof(template, args...)
}

func Infow(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Infow(msg, keysAndValues...)
}

func Warnf(template string, args ...interface{}) {
	GetSugaredLogger().Warnf(template, args...)
}

func Errorf(template string, args ...interface{}) {
	GetSugaredLogger().Errorf(template, args...)
}

func Errorw(msg string, keysAndValues ...interface{}) {
	GetSugaredLogger().Errorw(msg, keysAndValues...)
}
