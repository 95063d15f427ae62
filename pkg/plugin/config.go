/*
 * Copyright 2025 SREDiag Authors
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

package plugin

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/srediag/plugin-bufmgr/internal/logging"
)

const (
	defaultAttachRetries = 3
	defaultAttachBackoff = 10 * time.Millisecond
	maxAttachRetries     = 64
)

// Config is the process-wide configuration of a buffer manager backend.
// It replaces the debug switch the host used to read from the environment
// on every call: build it once and pass it to Init.
type Config struct {
	// Debug turns on entry logging for every operation.
	Debug bool
	// LogLevel is one of the logging.Level constants. Debug lowers it to
	// logging.LevelDebug.
	LogLevel  int
	LogOutput io.Writer
	// LogColor wraps log lines in ANSI colors.
	LogColor bool

	// AttachRetries bounds how often a transient device open is retried.
	AttachRetries int
	// AttachBackoff is the first retry interval, doubled on every retry.
	AttachBackoff time.Duration

	// Registerer receives the prometheus collectors. Nil disables metrics
	// registration; the collectors are still maintained.
	Registerer     prometheus.Registerer
	TracerProvider trace.TracerProvider
}

// DefaultConfig returns the default config.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:       logging.LevelWarn,
		AttachRetries:  defaultAttachRetries,
		AttachBackoff:  defaultAttachBackoff,
		TracerProvider: noop.NewTracerProvider(),
	}
}

// ConfigFromEnv returns DefaultConfig with the logging switches taken from
// BUFMGR_DEBUG and BUFMGR_LOG_LEVEL. The environment is read once, here.
func ConfigFromEnv() *Config {
	c := DefaultConfig()
	lc := logging.ConfigFromEnv()
	c.LogLevel = lc.Level
	c.Debug = lc.Level <= logging.LevelDebug
	return c
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}
	if config.AttachRetries < 0 || config.AttachRetries > maxAttachRetries {
		return fmt.Errorf("AttachRetries must be in [0, %d], got %d", maxAttachRetries, config.AttachRetries)
	}
	if config.AttachBackoff < 0 {
		return fmt.Errorf("AttachBackoff must not be negative, got %s", config.AttachBackoff)
	}
	if config.LogLevel < logging.LevelTrace || config.LogLevel > logging.LevelNoPrint {
		return fmt.Errorf("LogLevel %d out of range", config.LogLevel)
	}
	return nil
}

func (c *Config) logConfig() logging.Config {
	level := c.LogLevel
	if c.Debug && level > logging.LevelDebug {
		level = logging.LevelDebug
	}
	return logging.Config{Level: level, Out: c.LogOutput, Color: c.LogColor}
}

func (c *Config) tracerProvider() trace.TracerProvider {
	if c.TracerProvider == nil {
		return noop.NewTracerProvider()
	}
	return c.TracerProvider
}
