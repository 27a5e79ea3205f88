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

// Package worker runs named background functions on an interval. The
// expiration sweep and the metrics refresh run here.
package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/onem2m-go/cse-runtime/pkg/logging"
)

// ErrWorkerExists is returned when a worker name is started twice.
var ErrWorkerExists = errors.New("worker already started")

// A Fn is one run of a worker. Errors are logged; the worker keeps its
// schedule.
type Fn func(ctx context.Context) error

// A PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithLogger configures how the Pool logs.
func WithLogger(l logging.Logger) PoolOption {
	return func(p *Pool) {
		p.log = l
	}
}

// WithClock configures the clock the Pool schedules with.
func WithClock(c clock.WithTicker) PoolOption {
	return func(p *Pool) {
		p.clock = c
	}
}

// A StartOption configures one worker.
type StartOption func(*start)

// RunImmediately makes the worker run once at start instead of waiting
// out the first interval.
func RunImmediately() StartOption {
	return func(s *start) {
		s.immediately = true
	}
}

type start struct {
	immediately bool
}

type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// A Pool runs named workers, each on its own interval.
type Pool struct {
	workers map[string]*worker

	clock clock.WithTicker
	log   logging.Logger
}

// NewPool returns an empty worker pool.
func NewPool(o ...PoolOption) *Pool {
	p := &Pool{
		workers: map[string]*worker{},
		clock:   clock.RealClock{},
		log:     logging.NewNopLogger(),
	}
	for _, po := range o {
		po(p)
	}
	return p
}

// IsRunning returns true if the named worker is running.
func (p *Pool) IsRunning(name string) bool {
	w, started := p.workers[name]
	if !started {
		return false
	}

	// Nothing ever writes to the done channel. If we can read from it the
	// worker's loop has returned. If we can't immediately read from it the
	// worker is still running.
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Start runs fn every interval under the supplied name until Stop or
// StopAll. Starting a name that is already running is an error.
func (p *Pool) Start(ctx context.Context, name string, interval time.Duration, fn Fn, o ...StartOption) error {
	if p.IsRunning(name) {
		return errors.Wrap(ErrWorkerExists, name)
	}

	s := &start{}
	for _, so := range o {
		so(s)
	}

	ctx, cancel := context.WithCancel(ctx)
	w := &worker{cancel: cancel, done: make(chan struct{})}
	p.workers[name] = w

	p.log.Debug("Starting worker", "worker", name, "interval", interval.String())
	go p.run(ctx, w, name, interval, fn, s.immediately)
	return nil
}

func (p *Pool) run(ctx context.Context, w *worker, name string, interval time.Duration, fn Fn, immediately bool) {
	defer close(w.done)

	if immediately {
		p.invoke(ctx, name, fn)
	}

	t := p.clock.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			p.invoke(ctx, name, fn)
		}
	}
}

func (p *Pool) invoke(ctx context.Context, name string, fn Fn) {
	if err := fn(ctx); err != nil {
		p.log.Info("Worker run failed", "worker", name, "error", err)
	}
}

// Stop cancels the named worker and waits for its current run to return.
// Stopping a name that is not running is a no-op.
func (p *Pool) Stop(name string) {
	w, exists := p.workers[name]
	if !exists {
		return
	}
	w.cancel()
	<-w.done
	delete(p.workers, name)
}

// StopAll cancels every worker and waits up to timeout for their current
// runs to return.
func (p *Pool) StopAll(timeout time.Duration) error {
	for _, w := range p.workers {
		w.cancel()
	}

	deadline := p.clock.After(timeout)
	for name, w := range p.workers {
		select {
		case <-w.done:
			delete(p.workers, name)
		case <-deadline:
			return errors.Errorf("worker %s did not stop within %s", name, timeout)
		}
	}
	return nil
}
