// Copyright 2024 Google LLC
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

// Package logger provides the process-wide structured logger, following the
// teacher's internal/logger: log/slog with a custom handler that can render
// either a human-readable text format or newline-delimited JSON, with
// optional file rotation through lumberjack.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity levels, mapped onto slog's level range. Trace sits below Debug;
// slog has no native Trace level so one is carved out at Debug-4.
const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

var severityNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARNING",
	LevelError: "ERROR",
}

type factory struct{}

var defaultFactory = factory{}

func (factory) createJSONOrTextHandler(w io.Writer, level *slog.LevelVar, format string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				name, ok := severityNames[lvl]
				if !ok {
					name = lvl.String()
				}
				a.Key = "severity"
				a.Value = slog.StringValue(name)
			}
			return a
		},
	}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

var (
	programLevel  = new(slog.LevelVar)
	defaultLogger = slog.New(defaultFactory.createJSONOrTextHandler(os.Stderr, programLevel, "text"))
	logCloser     io.Closer
)

// Config controls where and how logs are emitted.
type Config struct {
	// Format is "text" or "json".
	Format string
	// FilePath, if non-empty, routes logs through a rotating file instead
	// of stderr.
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	Severity   string
	// Redact strips archive paths from log messages when true, per the
	// CLI's --redact flag.
	Redact bool
}

var redact bool

// Init (re)configures the package-level logger. Safe to call once at
// startup; not safe for concurrent use with the logging functions below.
func Init(cfg Config) error {
	redact = cfg.Redact

	var w io.Writer = os.Stderr
	if cfg.FilePath != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    orDefault(cfg.MaxSizeMB, 512),
			MaxBackups: cfg.MaxBackups,
		}
		w = lj
		logCloser = lj
	}

	setLoggingLevel(cfg.Severity, programLevel)
	defaultLogger = slog.New(defaultFactory.createJSONOrTextHandler(w, programLevel, cfg.Format))
	return nil
}

func orDefault(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func setLoggingLevel(severity string, level *slog.LevelVar) {
	switch severity {
	case "TRACE":
		level.Set(LevelTrace)
	case "DEBUG":
		level.Set(LevelDebug)
	case "WARNING":
		level.Set(LevelWarn)
	case "ERROR":
		level.Set(LevelError)
	default:
		level.Set(LevelInfo)
	}
}

// Close flushes and releases the rotating log file, if one is configured.
func Close() error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}

// RedactPath returns path unchanged, or "<redacted>" if --redact is set.
// Every log call that includes an archive-relative path should route it
// through this first.
func RedactPath(path string) string {
	if redact {
		return "<redacted>"
	}
	return path
}

func log(ctx context.Context, level slog.Level, format string, v ...interface{}) {
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(v) > 0 {
		msg = fmt.Sprintf(format, v...)
	}
	defaultLogger.Log(ctx, level, msg)
}

func Tracef(format string, v ...interface{}) { log(context.Background(), LevelTrace, format, v...) }
func Debugf(format string, v ...interface{}) { log(context.Background(), LevelDebug, format, v...) }
func Infof(format string, v ...interface{})  { log(context.Background(), LevelInfo, format, v...) }
func Warnf(format string, v ...interface{})  { log(context.Background(), LevelWarn, format, v...) }
func Errorf(format string, v ...interface{}) { log(context.Background(), LevelError, format, v...) }

func Trace(msg string) { log(context.Background(), LevelTrace, msg) }
func Debug(msg string) { log(context.Background(), LevelDebug, msg) }
func Info(msg string)  { log(context.Background(), LevelInfo, msg) }
func Warn(msg string)  { log(context.Background(), LevelWarn, msg) }
func Error(msg string) { log(context.Background(), LevelError, msg) }
