// Package rcflog provides a package-level structured logger for
// rcforest, wrapping zap the way pkg/util/log wraps zap for the rest of
// the agent: a swappable global sink that defaults to silence so the
// library has zero logging overhead unless a host opts in.
package rcflog

import (
	"sync"

	"go.uber.org/zap"
)

var (
	mu      sync.RWMutex
	sugared *zap.SugaredLogger
)

// SetLogger installs the logger used for all subsequent rcflog calls.
// Passing nil restores silence.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		sugared = nil
		return
	}
	sugared = l.Sugar()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugared
}

// Debugf logs at debug level if a logger has been installed.
func Debugf(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Debugf(template, args...)
	}
}

// Warnf logs at warn level if a logger has been installed.
func Warnf(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Warnf(template, args...)
	}
}

// Errorf logs at error level if a logger has been installed.
func Errorf(template string, args ...interface{}) {
	if l := current(); l != nil {
		l.Errorf(template, args...)
	}
}
