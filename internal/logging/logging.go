/*
 * Copyright 2025 SREDiag Authors
 * Copyright 2023 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package logging is the leveled stderr logger shared by the buffer manager
// packages. Its level is fixed by the Config it is built from.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/valyala/bytebufferpool"
)

const (
	LevelTrace = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelNoPrint
)

const (
	// EnvDebug enables debug output when set to a non-zero integer.
	EnvDebug = "BUFMGR_DEBUG"
	// EnvLogLevel overrides the level with one of the Level constants.
	EnvLogLevel = "BUFMGR_LOG_LEVEL"
)

var (
	magenta = string([]byte{27, 91, 57, 53, 109}) // Trace
	green   = string([]byte{27, 91, 57, 50, 109}) // Debug
	blue    = string([]byte{27, 91, 57, 52, 109}) // Info
	yellow  = string([]byte{27, 91, 57, 51, 109}) // Warn
	red     = string([]byte{27, 91, 57, 49, 109}) // Error
	reset   = string([]byte{27, 91, 48, 109})

	colors = []string{
		magenta,
		green,
		blue,
		yellow,
		red,
	}

	levelName = []string{
		"TRACE",
		"DEBUG",
		"INFO",
		"WARN",
		"ERROR",
	}
)

// Config selects the output and verbosity of a Logger.
type Config struct {
	Level int
	Out   io.Writer
	// Color wraps every line in an ANSI color escape.
	Color bool
}

// DefaultConfig logs warnings and errors to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelWarn, Out: os.Stderr}
}

// ConfigFromEnv builds a Config from BUFMGR_DEBUG and BUFMGR_LOG_LEVEL.
// It is meant to be called once at startup.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if v := os.Getenv(EnvLogLevel); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= LevelTrace && n <= LevelNoPrint {
			cfg.Level = n
		}
	}
	if v := os.Getenv(EnvDebug); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n != 0 {
			cfg.Level = LevelDebug
		}
	}
	return cfg
}

// Logger writes leveled lines prefixed with time, level, pid and caller.
type Logger struct {
	name      string
	out       io.Writer
	level     int
	color     bool
	callDepth int
	pid       int
}

// New returns a Logger named name. A nil Out falls back to stderr.
func New(name string, cfg Config) *Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	return &Logger{
		name:      name,
		out:       out,
		level:     cfg.Level,
		color:     cfg.Color,
		callDepth: 4,
		pid:       os.Getpid(),
	}
}

// Nop discards everything.
func Nop() *Logger {
	return New("", Config{Level: LevelNoPrint, Out: io.Discard})
}

// Named returns a copy of l with a different name.
func (l *Logger) Named(name string) *Logger {
	c := *l
	c.name = name
	return &c
}

// CallerSkip returns a copy of l reporting the caller n frames further up,
// for logging from inside a helper.
func (l *Logger) CallerSkip(n int) *Logger {
	c := *l
	c.callDepth += n
	return &c
}

func (l *Logger) DebugEnabled() bool {
	return l.level <= LevelDebug
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.output(LevelError, format, a...)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.output(LevelWarn, format, a...)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.output(LevelInfo, format, a...)
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.output(LevelDebug, format, a...)
}

func (l *Logger) Tracef(format string, a ...interface{}) {
	l.output(LevelTrace, format, a...)
}

func (l *Logger) output(level int, format string, a ...interface{}) {
	if level < l.level {
		return
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	l.prefix(buf, level)
	_, _ = fmt.Fprintf(buf, format, a...)
	if l.color {
		_, _ = buf.WriteString(reset)
	}
	_ = buf.WriteByte('\n')
	if _, err := l.out.Write(buf.B); err != nil {
		fmt.Fprintf(os.Stderr, "logger write failed: %v\n", err)
	}
}

func (l *Logger) prefix(buf *bytebufferpool.ByteBuffer, level int) {
	if l.color {
		_, _ = buf.WriteString(colors[level])
	}
	_, _ = buf.WriteString(time.Now().Format("15:04:05.000000"))
	_ = buf.WriteByte(' ')
	_, _ = fmt.Fprintf(buf, "%-5s", levelName[level])
	_, _ = buf.WriteString(" [")
	_, _ = buf.WriteString(strconv.Itoa(l.pid))
	_, _ = buf.WriteString("] ")
	_, _ = buf.WriteString(l.location())
	if l.name != "" {
		_ = buf.WriteByte(' ')
		_, _ = buf.WriteString(l.name)
	}
	_, _ = buf.WriteString(" - ")
}

func (l *Logger) location() string {
	_, file, line, ok := runtime.Caller(l.callDepth)
	if !ok {
		file = "???"
		line = 0
	}
	file = filepath.Base(file)
	return file + ":" + strconv.Itoa(line)
}
