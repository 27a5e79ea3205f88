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

package logging

import (
	"flag"
	"os"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"
)

// SetFilteredKlogLogger routes klog output into log. The notification
// delivery queue is built on client-go's workqueue, which logs through
// klog; without this bridge its records bypass the engine logger entirely.
// Records above klog verbosity 3 are dropped.
func SetFilteredKlogLogger(log logr.Logger) {
	// initialize klog at verbosity level 3, dropping everything higher.
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	klog.InitFlags(fs)
	fs.Parse([]string{"--v=3"}) //nolint:errcheck // we couldn't do anything here anyway

	klogr := logr.New(&verbosityShiftFilter{log.GetSink()})
	klog.SetLogger(klogr)
}

// verbosityShiftFilter maps klog verbosity onto the two-level convention of
// this package: klog levels up to 3 log as Info (logr 0), level 4 and above
// as Debug (logr 1+).
type verbosityShiftFilter struct {
	logr.LogSink
}

func (f *verbosityShiftFilter) Info(level int, msg string, keysAndValues ...any) {
	f.LogSink.Info(f.klogToLogrLevel(level), msg, keysAndValues...)
}

func (f *verbosityShiftFilter) Enabled(level int) bool {
	return f.LogSink.Enabled(f.klogToLogrLevel(level))
}

func (f *verbosityShiftFilter) klogToLogrLevel(klogLvl int) int {
	if klogLvl >= 3 {
		return klogLvl - 3
	}

	return 0
}

func (f *verbosityShiftFilter) WithCallDepth(depth int) logr.LogSink {
	if delegate, ok := f.LogSink.(logr.CallDepthLogSink); ok {
		return &verbosityShiftFilter{LogSink: delegate.WithCallDepth(depth)}
	}

	return f
}
