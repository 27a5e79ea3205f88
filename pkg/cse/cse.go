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

// Package cse assembles a runnable CSE: one constructor wires the store,
// type registry, access evaluator, dispatcher and the registration,
// subscription and announcement managers together, and Start bootstraps the
// resource tree and brings up the background machinery. Transports hand
// inbound primitives to HandleRequest.
package cse

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/utils/clock"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/access"
	"github.com/onem2m-go/cse-runtime/pkg/announce"
	"github.com/onem2m-go/cse-runtime/pkg/config"
	"github.com/onem2m-go/cse-runtime/pkg/connect"
	"github.com/onem2m-go/cse-runtime/pkg/dispatcher"
	"github.com/onem2m-go/cse-runtime/pkg/event"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/meta"
	"github.com/onem2m-go/cse-runtime/pkg/ratelimiter"
	"github.com/onem2m-go/cse-runtime/pkg/registration"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/statemetrics"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
	"github.com/onem2m-go/cse-runtime/pkg/subscription"
	"github.com/onem2m-go/cse-runtime/pkg/worker"
)

// Error strings.
const (
	errInvalidConfig = "invalid configuration"
	errBootstrap     = "cannot bootstrap resource tree"
)

// adminACPName is the resource name of the access control policy the CSE
// creates for itself under the CSEBase.
const adminACPName = "acpAdmin"

// workerExpiration names the expiration sweep in the worker pool.
const workerExpiration = "expiration-sweep"

// defaultStopTimeout bounds Shutdown when its context has no deadline.
const defaultStopTimeout = 10 * time.Second

// An Option configures a CSE.
type Option func(*CSE)

// WithLogger configures how the CSE and everything it wires logs.
func WithLogger(l logging.Logger) Option {
	return func(c *CSE) {
		c.log = l
	}
}

// WithClock configures the clock behind timestamps, expiration sweeps and
// the state recorder.
func WithClock(cl clock.WithTicker) Option {
	return func(c *CSE) {
		c.clock = cl
	}
}

// WithRequester replaces the outbound request layer. The default is a Mux
// carrying the HTTP binding; tests and single-process federations pass an
// in-process binding here.
func WithRequester(r connect.Requester) Option {
	return func(c *CSE) {
		c.requester = r
	}
}

// WithBinding adds an outbound binding for a URI scheme to the default
// Mux, e.g. an MQTT binding constructed with broker credentials. It is
// ignored when WithRequester replaces the request layer entirely.
func WithBinding(scheme string, r connect.Requester) Option {
	return func(c *CSE) {
		c.bindings[scheme] = r
	}
}

// WithStateRecorder replaces the recorder that samples per-type resource
// counts.
func WithStateRecorder(r statemetrics.StateRecorder) Option {
	return func(c *CSE) {
		c.state = r
	}
}

// WithOperationRecorder replaces the recorder that counts handled
// primitives and notification deliveries.
func WithOperationRecorder(r statemetrics.OperationRecorder) Option {
	return func(c *CSE) {
		c.ops = r
	}
}

// A CSE is a fully wired Common Services Entity: the dispatcher and its
// hooks over one store, plus the background machinery that keeps the tree
// honest. Build one with New, bring it up with Start, hand inbound
// primitives to HandleRequest and take it down with Shutdown.
type CSE struct {
	cfg config.Config
	id  dispatcher.Identity

	log   logging.Logger
	clock clock.WithTicker

	requester connect.Requester
	bindings  map[string]connect.Requester

	store     store.Store
	registry  *resource.Registry
	bus       *event.Bus
	engine    *dispatcher.Engine
	registrar *registration.Manager
	notifier  *subscription.Manager
	announcer *announce.Manager

	state statemetrics.StateRecorder
	ops   statemetrics.OperationRecorder
	pool  *worker.Pool

	cancel   context.CancelFunc
	delivery chan struct{}
}

// New wires a CSE over the supplied store. The configuration must pass
// config.Validate; the store carries whatever tree a previous run left
// behind.
func New(cfg config.Config, s store.Store, o ...Option) (*CSE, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, errInvalidConfig)
	}

	c := &CSE{
		cfg: cfg,
		id: dispatcher.Identity{
			Originator:   cfg.CSE.Originator,
			CSEID:        cfg.CSE.CSEID,
			ResourceID:   cfg.CSE.ResourceID,
			ResourceName: cfg.CSE.ResourceName,
		},
		log:      logging.NewNopLogger(),
		clock:    clock.RealClock{},
		store:    s,
		registry: resource.NewRegistry(),
		bus:      event.NewBus(),
		ops:      statemetrics.NewCSEOperationRecorder(),
		bindings: map[string]connect.Requester{},
	}
	for _, fn := range o {
		fn(c)
	}

	if c.requester == nil {
		mux := connect.NewMux()
		h := connect.NewHTTPBinding(cfg.CSE.Originator, connect.WithHTTPLogger(c.log))
		mux.Bind("http", h)
		mux.Bind("https", h)
		for scheme, b := range c.bindings {
			mux.Bind(scheme, b)
		}
		c.requester = mux
	}
	if c.state == nil {
		c.state = statemetrics.NewResourceStateRecorder(s, c.log, cfg.Metrics.StateInterval.Duration)
	}

	c.registrar = registration.NewManager(s, c.registry, c.id, cfg.CSE.CSEType(),
		registration.WithLogger(c.log),
		registration.WithClock(c.clock),
		registration.WithPublisher(c.bus),
		registration.WithAllowedAEOriginators(cfg.Registration.AllowedAEOriginators),
		registration.WithAllowedCSROriginators(cfg.Registration.AllowedCSROriginators),
		registration.WithSupportedReleaseVersions(cfg.CSE.SupportedReleaseVersions),
		registration.WithSelfPermissionMask(cfg.ACP.PVSAcop),
		registration.WithIDLength(cfg.MaxIDLength),
	)

	bucket := &workqueue.TypedBucketRateLimiter[string]{
		Limiter: rate.NewLimiter(rate.Limit(cfg.Notification.RateLimit), cfg.Notification.RateBurst),
	}
	c.notifier = subscription.NewManager(s, c.requester, c.id,
		subscription.WithLogger(c.log),
		subscription.WithPublisher(c.bus),
		subscription.WithMetrics(c.ops),
		subscription.WithRequestTimeout(cfg.Notification.RequestTimeout.Duration),
		subscription.WithRequeueLimit(cfg.Notification.RequeueLimit),
		subscription.WithRateLimiter(ratelimiter.NewDelivery(bucket)),
	)

	c.announcer = announce.NewManager(s, c.registry, c.requester, c.id,
		announce.WithLogger(c.log),
		announce.WithRequestTimeout(cfg.Announcement.RequestTimeout.Duration),
		announce.WithBackoff(wait.Backoff{
			Duration: cfg.Announcement.RetryInterval.Duration,
			Factor:   2,
			Steps:    cfg.Announcement.RetrySteps,
		}),
	)

	c.engine = dispatcher.NewEngine(s, c.registry, access.NewEvaluator(s, cfg.CSE.Originator, access.WithLogger(c.log)), c.id,
		dispatcher.WithLogger(c.log),
		dispatcher.WithClock(c.clock),
		dispatcher.WithPublisher(c.bus),
		dispatcher.WithAdmitter(c.registrar),
		dispatcher.WithNotifier(c.notifier),
		dispatcher.WithAnnouncer(c.announcer),
		dispatcher.WithExpirationDelta(cfg.Registration.DefaultExpirationDelta.Duration),
		dispatcher.WithIDLength(cfg.MaxIDLength),
	)
	c.registrar.Bind(c.engine)
	c.notifier.Bind(c.engine)

	c.pool = worker.NewPool(worker.WithLogger(c.log), worker.WithClock(c.clock))
	return c, nil
}

// Events returns the bus lifecycle events are published on. Listeners must
// be fast; publishing is synchronous.
func (c *CSE) Events() *event.Bus { return c.bus }

// Collectors returns the metric collectors the CSE records into, for
// registration with a Prometheus registry.
func (c *CSE) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.state, c.ops}
}

// Start bootstraps the resource tree and brings up the delivery workers,
// the expiration sweep and the state recorder. It returns once everything
// runs; the supplied context bounds only the bootstrap writes.
func (c *CSE) Start(ctx context.Context) error {
	if err := c.bootstrap(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.delivery = make(chan struct{})
	go func() {
		defer close(c.delivery)
		c.notifier.Deliver(runCtx, c.cfg.Notification.Workers)
	}()

	if d := c.cfg.Registration.CheckExpirationsInterval.Duration; d > 0 {
		if err := c.pool.Start(runCtx, workerExpiration, d, c.registrar.SweepExpired); err != nil {
			cancel()
			<-c.delivery
			return err
		}
	}
	c.state.Run(runCtx)

	c.log.Info("CSE started", "csi", c.cfg.CSE.CSEID, "rn", c.cfg.CSE.ResourceName)
	return nil
}

// Shutdown stops the background machinery and waits for the delivery
// workers to drain, bounded by the supplied context.
func (c *CSE) Shutdown(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.cancel = nil

	select {
	case <-c.delivery:
	case <-ctx.Done():
		return ctx.Err()
	}

	timeout := defaultStopTimeout
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	return c.pool.StopAll(timeout)
}

// bootstrap creates the CSEBase and its admin access control policy when
// the store does not hold them yet. The CSEBase is written directly: it is
// the tree's root and has no parent the engine could hang it under.
func (c *CSE) bootstrap(ctx context.Context) error {
	if _, err := c.store.Retrieve(ctx, c.cfg.CSE.ResourceID); err == nil {
		return nil
	} else if !status.IsNotFound(err) {
		return errors.Wrap(err, errBootstrap)
	}

	now := meta.Now(c.clock)
	cb := resource.New(onem2m.ResourceTypeCSEBase, c.cfg.CSE.ResourceName)
	cb.SetRI(c.cfg.CSE.ResourceID)
	cb.SetCreationTime(now)
	cb.SetLastModifiedTime(now)
	cb.SetAttribute(onem2m.AttrCSEID, c.cfg.CSE.CSEID)
	cb.SetAttribute(onem2m.AttrCSEType, int64(c.cfg.CSE.CSEType()))
	cb.SetAttribute(onem2m.AttrRequestReachability, true)
	cb.SetAttribute(onem2m.AttrSupportedReleaseVers, toAny(c.cfg.CSE.SupportedReleaseVersions))
	if len(c.cfg.CSE.PointOfAccess) > 0 {
		cb.SetAttribute(onem2m.AttrPointOfAccess, toAny(c.cfg.CSE.PointOfAccess))
	}
	types := c.registry.Types()
	srt := make([]any, 0, len(types))
	for _, ty := range types {
		srt = append(srt, int64(ty))
	}
	cb.SetAttribute(onem2m.AttrSupportedTys, srt)
	if err := c.store.Create(ctx, cb); err != nil {
		return errors.Wrap(err, errBootstrap)
	}

	acp := resource.New(onem2m.ResourceTypeACP, adminACPName)
	acp.SetAttribute(onem2m.AttrPrivileges, map[string]any{
		onem2m.AttrACRs: []any{
			map[string]any{
				onem2m.AttrACOriginators: []any{c.cfg.CSE.Originator},
				onem2m.AttrACOperations:  int64(onem2m.AllPermissions),
			},
			map[string]any{
				onem2m.AttrACOriginators: []any{access.WildcardOriginator},
				onem2m.AttrACOperations:  int64(onem2m.PermissionRetrieve | onem2m.PermissionDiscovery),
			},
		},
	})
	acp.SetAttribute(onem2m.AttrSelfPrivileges, map[string]any{
		onem2m.AttrACRs: []any{map[string]any{
			onem2m.AttrACOriginators: []any{c.cfg.CSE.Originator},
			onem2m.AttrACOperations:  c.cfg.ACP.PVSAcop,
		}},
	})
	acp.SetOwnerRI(cb.RI())

	created, err := c.engine.Create(ctx, cb.RI(), acp, c.cfg.CSE.Originator)
	if err != nil {
		return errors.Wrap(err, errBootstrap)
	}

	cb.SetAttribute(onem2m.AttrACPIDs, []any{created.RI()})
	cb.SetLastModifiedTime(meta.Now(c.clock))
	return errors.Wrap(c.store.Update(ctx, cb), errBootstrap)
}

func toAny(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}
