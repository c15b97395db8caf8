// Copyright The NRI Plugins Authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package log

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Level is a logging severity level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is the interface for producing log messages for/from a source.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Fatal(format string, args ...interface{})
	Panic(format string, args ...interface{})

	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool
	// Source returns the source name of this Logger.
	Source() string
	// SlogHandler returns an slog.Handler emitting through this Logger.
	SlogHandler() slog.Handler
}

// logger implements Logger for a single source.
type logger struct {
	source string
}

// logging is the shared state of all loggers.
type logging struct {
	sync.RWMutex
	level   Level
	prefix  bool
	dbgmap  srcmap
	debug   map[string]bool
	loggers map[string]logger
}

var (
	log = &logging{
		level:   DefaultLevel,
		dbgmap:  make(srcmap),
		debug:   make(map[string]bool),
		loggers: make(map[string]logger),
	}
	deflog = log.get("default")
)

// Get returns the named Logger.
func Get(source string) Logger {
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return log.get(source)
}

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// Flush flushes any pending log output.
func Flush() {
	klog.Flush()
}

func (l *logging) get(source string) logger {
	l.Lock()
	defer l.Unlock()

	if lg, ok := l.loggers[source]; ok {
		return lg
	}

	lg := logger{source: source}
	l.loggers[source] = lg
	l.debug[source] = l.dbgmap.enabled(source)

	return lg
}

func (l *logging) setDbgMap(m srcmap) {
	l.dbgmap = m
	for source := range l.loggers {
		l.debug[source] = m.enabled(source)
	}
}

func (l *logging) setPrefix(prefix bool) {
	l.prefix = prefix
}

func (l *logging) debugEnabled(source string) bool {
	l.RLock()
	defer l.RUnlock()
	return l.level <= LevelDebug || l.debug[source]
}

func (l *logging) enabled(level Level) bool {
	l.RLock()
	defer l.RUnlock()
	return l.level <= level
}

func (l *logging) format(source, format string, args ...interface{}) string {
	l.RLock()
	prefix := l.prefix
	l.RUnlock()

	msg := fmt.Sprintf(format, args...)
	if prefix {
		return "[" + source + "] " + msg
	}
	return msg
}

func (l logger) Debug(format string, args ...interface{}) {
	if !l.DebugEnabled() {
		return
	}
	for _, line := range strings.Split(log.format(l.source, format, args...), "\n") {
		klog.InfoDepth(1, "D: "+line)
	}
}

func (l logger) Info(format string, args ...interface{}) {
	klog.InfoDepth(1, log.format(l.source, format, args...))
}

func (l logger) Warn(format string, args ...interface{}) {
	klog.WarningDepth(1, log.format(l.source, format, args...))
}

func (l logger) Error(format string, args ...interface{}) {
	klog.ErrorDepth(1, log.format(l.source, format, args...))
}

func (l logger) Fatal(format string, args ...interface{}) {
	klog.FatalDepth(1, log.format(l.source, format, args...))
}

func (l logger) Panic(format string, args ...interface{}) {
	msg := log.format(l.source, format, args...)
	klog.ErrorDepth(1, msg)
	panic(msg)
}

func (l logger) DebugEnabled() bool {
	return log.debugEnabled(l.source)
}

func (l logger) Source() string {
	return l.source
}

// loggerError returns a package-specific formatted error.
func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("logger: "+format, args...)
}
