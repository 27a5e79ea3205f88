/*
Copyright 2024 The CSE Runtime Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package logging provides the structured logger used throughout the CSE
// engine. It is a light facade over https://github.com/go-logr/logr that
// restricts logging to two levels: Info for state changes an operator would
// care about, and Debug for everything else.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
)

// Debug messages log at this logr verbosity.
const debugVerbosity = 1

// A Logger logs messages. Messages should be a static description of an
// event. Any dynamic data should be supplied as key/value pairs.
type Logger interface {
	// Info logs a message with optional key/value pairs. Use for events an
	// operator of the CSE is likely to care about: admissions, deliveries,
	// expirations, failures.
	Info(msg string, keysAndValues ...any)

	// Debug logs a message with optional key/value pairs. Use for events
	// that only a developer debugging the engine would care about.
	Debug(msg string, keysAndValues ...any)

	// WithValues returns a Logger that always logs the supplied key/value
	// pairs.
	WithValues(keysAndValues ...any) Logger
}

// NewNopLogger returns a Logger that does nothing.
func NewNopLogger() Logger { return nopLogger{} }

type nopLogger struct{}

func (l nopLogger) Info(_ string, _ ...any)    {}
func (l nopLogger) Debug(_ string, _ ...any)   {}
func (l nopLogger) WithValues(_ ...any) Logger { return nopLogger{} }

// NewLogrLogger returns a Logger backed by the supplied logr.Logger.
func NewLogrLogger(l logr.Logger) Logger {
	return logrLogger{log: l}
}

type logrLogger struct {
	log logr.Logger
}

func (l logrLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info(msg, keysAndValues...)
}

func (l logrLogger) Debug(msg string, keysAndValues ...any) {
	l.log.V(debugVerbosity).Info(msg, keysAndValues...)
}

func (l logrLogger) WithValues(keysAndValues ...any) Logger {
	return logrLogger{log: l.log.WithValues(keysAndValues...)}
}

// NewZapLogger returns a Logger backed by a zap logger writing to stderr.
// If development is true a zap development config is used (human friendly
// output, debug level enabled), otherwise a production config (JSON,
// sampled, info level and above).
func NewZapLogger(development bool) (Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}

	zl, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewLogrLogger(zapr.NewLogger(zl)), nil
}

// NewLogrusLogger returns a Logger backed by the supplied logrus logger,
// for embedders that standardize on logrus. A nil logger uses the logrus
// standard logger.
func NewLogrusLogger(l *logrus.Logger) Logger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	return logrusLogger{log: logrus.NewEntry(l)}
}

type logrusLogger struct {
	log *logrus.Entry
}

func (l logrusLogger) Info(msg string, keysAndValues ...any) {
	l.log.WithFields(fields(keysAndValues)).Info(msg)
}

func (l logrusLogger) Debug(msg string, keysAndValues ...any) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l logrusLogger) WithValues(keysAndValues ...any) Logger {
	return logrusLogger{log: l.log.WithFields(fields(keysAndValues))}
}

func fields(keysAndValues []any) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		k, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		f[k] = keysAndValues[i+1]
	}
	return f
}
