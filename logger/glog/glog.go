// Copyright 2013 Google Inc. All Rights Reserved.
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

// Package glog is a leveled stderr logger descended from Google's glog, cut
// down to the handful of entry points a long-running daemon actually needs:
// fatal/error/info calls gated by a global verbosity knob, with no file
// rotation or vmodule machinery since this program never writes logs to
// disk.
package glog

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Level is the verbosity level used by V-gated logging.
type Level int32

// severity identifies the importance of a log message.
type severity int32

const (
	infoLog severity = iota
	errorLog
	fatalLog
)

var severityName = [...]string{
	infoLog:  "INFO",
	errorLog: "ERROR",
	fatalLog: "FATAL",
}

type loggingT struct {
	mu        sync.Mutex
	toStderr  bool // whether log lines are written at all; this trimmed logger has no other destination
	verbosity int32
	exitFunc  func(int)
}

var logging = loggingT{toStderr: true, exitFunc: os.Exit}

// SetToStderr enables or disables log output. Kept as a separate setter
// (rather than a constructor argument) for compatibility with call sites
// modeled on the upstream glog flag, where stderr output is toggled at
// runtime from a CLI flag.
func SetToStderr(toStderr bool) {
	logging.mu.Lock()
	defer logging.mu.Unlock()
	logging.toStderr = toStderr
}

// SetV sets the global verbosity threshold. A call guarded by V(n) only
// logs when n <= the threshold set here.
func SetV(v int) {
	atomic.StoreInt32(&logging.verbosity, int32(v))
}

// Verbose is returned by V; Infoln/Infof on it log only when the guard
// passed.
type Verbose bool

// V reports whether verbosity at the call site is enabled.
func V(level Level) Verbose {
	return Verbose(int32(level) <= atomic.LoadInt32(&logging.verbosity))
}

// Infoln logs its arguments the way fmt.Sprintln does, gated by V's result.
func (v Verbose) Infoln(args ...interface{}) {
	if v {
		logging.println(infoLog, args...)
	}
}

// Infof logs its arguments the way fmt.Sprintf does, gated by V's result.
func (v Verbose) Infof(format string, args ...interface{}) {
	if v {
		logging.printf(infoLog, format, args...)
	}
}

// Infof logs to the INFO log.
func Infof(format string, args ...interface{}) {
	logging.printf(infoLog, format, args...)
}

// Infoln logs to the INFO log.
func Infoln(args ...interface{}) {
	logging.println(infoLog, args...)
}

// Errorf logs to the ERROR log.
func Errorf(format string, args ...interface{}) {
	logging.printf(errorLog, format, args...)
}

// Errorln logs to the ERROR log.
func Errorln(args ...interface{}) {
	logging.println(errorLog, args...)
}

// Fatal logs to the FATAL log, then terminates the process, same as
// upstream glog. Used only for conditions the process cannot usefully
// continue past (e.g. a misconfigured metrics sink).
func Fatal(args ...interface{}) {
	logging.print(fatalLog, args...)
	logging.exitFunc(255)
}

// Fatalf logs to the FATAL log, then terminates the process.
func Fatalf(format string, args ...interface{}) {
	logging.printf(fatalLog, format, args...)
	logging.exitFunc(255)
}

func (l *loggingT) print(s severity, args ...interface{}) {
	l.output(s, fmt.Sprint(args...))
}

func (l *loggingT) println(s severity, args ...interface{}) {
	l.output(s, fmt.Sprintln(args...))
}

func (l *loggingT) printf(s severity, format string, args ...interface{}) {
	l.output(s, fmt.Sprintf(format, args...))
}

func (l *loggingT) output(s severity, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.toStderr {
		return
	}
	now := time.Now().Format("2006/01/02 15:04:05.000000")
	fmt.Fprintf(os.Stderr, "%s%s %s\n", severityName[s][:1], now, msg)
}
