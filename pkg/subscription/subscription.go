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

// Package subscription implements subscriptions and the notifications they
// produce: the verification handshake when a subscription arrives, event
// filtering against its criteria, notification shaping, and best-effort
// delivery through a rate-limited queue that serializes deliveries per
// subscription.
package subscription

import (
	"context"
	"net/url"
	"sync"
	"time"

	"k8s.io/client-go/util/workqueue"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/connect"
	"github.com/onem2m-go/cse-runtime/pkg/dispatcher"
	"github.com/onem2m-go/cse-runtime/pkg/event"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/meta"
	"github.com/onem2m-go/cse-runtime/pkg/ratelimiter"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/statemetrics"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// Error strings.
const (
	errNoTargets        = "subscription needs at least one notification target"
	errBlankTarget      = "notification targets must be non-empty"
	errContentTypeRange = "notification content type out of range"
	errCounterRange     = "expiration counter must be positive"
	errVerification     = "subscription verification failed"
	errUnresolvedTarget = "cannot resolve notification target"
)

// Delivery defaults.
const (
	defaultRequestTimeout = 5 * time.Second
	defaultRequeueLimit   = 5
)

// A Deleter is the slice of the dispatcher the manager needs: retiring a
// subscription whose expiration counter is exhausted.
type Deleter interface {
	Delete(ctx context.Context, id, originator string) error
}

// A ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger configures how the manager logs.
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// WithPublisher configures where delivery failures are published.
func WithPublisher(p event.Publisher) ManagerOption {
	return func(m *Manager) {
		m.events = p
	}
}

// WithRequestTimeout bounds one delivery attempt against one target.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithRequeueLimit configures how many times a failed delivery is retried
// before its remaining targets are dropped from the subscription.
func WithRequeueLimit(n int) ManagerOption {
	return func(m *Manager) {
		m.requeueLimit = n
	}
}

// WithRateLimiter configures the delivery queue's rate limiter, which
// spaces retries per subscription and bounds the aggregate delivery rate.
func WithRateLimiter(l workqueue.TypedRateLimiter[string]) ManagerOption {
	return func(m *Manager) {
		m.limiter = l
	}
}

// WithMetrics configures where completed deliveries are counted.
func WithMetrics(r statemetrics.OperationRecorder) ManagerOption {
	return func(m *Manager) {
		m.metrics = r
	}
}

// A Manager implements the dispatcher's Notifier hook: it admits
// subscriptions and turns resource lifecycle transitions into notifications
// for the subscriptions whose criteria they match.
type Manager struct {
	store     store.Store
	requester connect.Requester
	id        dispatcher.Identity

	timeout      time.Duration
	requeueLimit int
	limiter      workqueue.TypedRateLimiter[string]

	deleter Deleter
	events  event.Publisher
	metrics statemetrics.OperationRecorder
	log     logging.Logger

	queue workqueue.TypedRateLimitingInterface[string]

	mu       sync.Mutex
	pending  map[string][]*delivery
	retiring map[string]bool
}

// A delivery is one notification awaiting acceptance. Targets that accept
// it are struck off; the rest are retried together.
type delivery struct {
	n       *onem2m.Notification
	targets []string
}

// NewManager returns a manager delivering notifications through the
// supplied requester. Bind the dispatcher before use.
func NewManager(s store.Store, r connect.Requester, id dispatcher.Identity, o ...ManagerOption) *Manager {
	m := &Manager{
		store:        s,
		requester:    r,
		id:           id,
		timeout:      defaultRequestTimeout,
		requeueLimit: defaultRequeueLimit,
		limiter:      ratelimiter.NewDelivery(ratelimiter.NewDeliveryBucket[string](ratelimiter.DefaultDeliveryRPS)),
		events:       event.NewNopPublisher(),
		metrics:      statemetrics.NewNopOperationRecorder(),
		log:          logging.NewNopLogger(),
		pending:      map[string][]*delivery{},
		retiring:     map[string]bool{},
	}
	for _, fn := range o {
		fn(m)
	}
	m.queue = workqueue.NewTypedRateLimitingQueue(m.limiter)
	return m
}

// Bind supplies the engine that retires subscriptions whose expiration
// counter is exhausted. The manager and the engine reference each other,
// so the engine cannot be a constructor argument.
func (m *Manager) Bind(d Deleter) {
	m.deleter = d
}

// VerifyCreate admits a subscription about to be created: its targets must
// resolve, its shaping attributes must be in range, and its verifiers must
// accept the verification handshake. A refused handshake aborts the create
// and the subscription is not persisted.
func (m *Manager) VerifyCreate(ctx context.Context, sub *resource.Resource) error {
	nu, err := m.targets(sub)
	if err != nil {
		return err
	}
	if err := m.validateShaping(sub); err != nil {
		return err
	}
	if !sub.HasAttribute(onem2m.AttrNotContentType) {
		sub.SetAttribute(onem2m.AttrNotContentType, int64(onem2m.ContentAllAttributes))
	}
	for _, target := range nu {
		if _, err := m.resolve(ctx, target); err != nil {
			return err
		}
	}

	verifiers := nu
	if su, ok := sub.StringAttribute(onem2m.AttrSubscriberURI); ok && su != "" {
		verifiers = []string{su}
	}
	return m.verify(ctx, sub, verifiers)
}

// VerifyUpdate vets a subscription update. Targets the patch adds are put
// through the verification handshake; targets already verified are not
// bothered again.
func (m *Manager) VerifyUpdate(ctx context.Context, sub *resource.Resource, patch map[string]any) error {
	if err := m.validateShaping(sub); err != nil {
		return err
	}
	if _, ok := patch[onem2m.AttrNotificationURIs]; !ok {
		return nil
	}

	nu, err := m.targets(sub)
	if err != nil {
		return err
	}
	current, err := m.store.Retrieve(ctx, sub.RI())
	if err != nil {
		return err
	}
	known, _ := current.StringsAttribute(onem2m.AttrNotificationURIs)
	verified := make(map[string]bool, len(known))
	for _, t := range known {
		verified[t] = true
	}

	var added []string
	for _, t := range nu {
		if !verified[t] {
			added = append(added, t)
		}
	}
	for _, target := range added {
		if _, err := m.resolve(ctx, target); err != nil {
			return err
		}
	}
	return m.verify(ctx, sub, added)
}

// ResourceCreated fans a create out to the subscriptions on the parent
// watching for direct-child creates.
func (m *Manager) ResourceCreated(ctx context.Context, r *resource.Resource) {
	m.fan(ctx, r.PI(), onem2m.EventCreateDirectChild, r, nil)
}

// ResourceUpdated fans an update out to the subscriptions on the resource.
func (m *Manager) ResourceUpdated(ctx context.Context, r *resource.Resource, patch map[string]any) {
	m.fan(ctx, r.RI(), onem2m.EventResourceUpdated, r, patch)
}

// ResourceDeleted fans a delete out to the subscriptions on the resource
// and to the subscriptions on its parent watching for direct-child
// deletes. Both sets are still present when this runs.
func (m *Manager) ResourceDeleted(ctx context.Context, r *resource.Resource) {
	m.fan(ctx, r.RI(), onem2m.EventResourceDeleted, r, nil)
	m.fan(ctx, r.PI(), onem2m.EventDeleteDirectChild, r, nil)
}

// SubscriptionDeleted queues the deletion notice behind whatever the
// subscription still has in flight, so its targets see every notification
// emitted during its lifetime before the notice.
func (m *Manager) SubscriptionDeleted(ctx context.Context, sub *resource.Resource) {
	nu, _ := sub.StringsAttribute(onem2m.AttrNotificationURIs)
	if len(nu) == 0 {
		return
	}
	n := &onem2m.Notification{
		SubscriptionDeletion:  true,
		SubscriptionReference: m.reference(sub.RI()),
	}
	m.push(sub.RI(), &delivery{n: n, targets: nu})
	m.log.Debug("Deletion notice queued", "subscription", sub.RI())
}

// Deliver runs delivery workers until ctx is done, then shuts the queue
// down and returns once the workers have stopped.
func (m *Manager) Deliver(ctx context.Context, workers int) {
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m.processNext(ctx) {
			}
		}()
	}
	<-ctx.Done()
	m.queue.ShutDown()
	wg.Wait()
}

// processNext works one queue key: the oldest pending delivery for that
// subscription is offered to its remaining targets. A delivery whose
// targets keep refusing is retried with backoff until the requeue limit,
// then its remaining targets are abandoned.
func (m *Manager) processNext(ctx context.Context) bool {
	subRI, shutdown := m.queue.Get()
	if shutdown {
		return false
	}
	defer m.queue.Done(subRI)

	d := m.head(subRI)
	if d == nil {
		m.queue.Forget(subRI)
		return true
	}

	m.attempt(ctx, d)

	switch {
	case len(d.targets) == 0:
		m.metrics.RecordDelivery(statemetrics.DeliveryDelivered)
		m.queue.Forget(subRI)
	case m.queue.NumRequeues(subRI) >= m.requeueLimit:
		m.abandon(ctx, subRI, d)
		m.metrics.RecordDelivery(statemetrics.DeliveryAbandoned)
		m.queue.Forget(subRI)
	default:
		m.queue.AddRateLimited(subRI)
		return true
	}

	if m.drop(subRI, d) {
		m.queue.Add(subRI)
	}
	return true
}

// fan emits a notification to every subscription attached to the holder
// whose criteria admit the event type.
func (m *Manager) fan(ctx context.Context, holder string, t onem2m.NotificationEventType, r *resource.Resource, patch map[string]any) {
	if holder == "" {
		return
	}
	subs, err := m.subscriptionsOn(ctx, holder)
	if err != nil {
		m.log.Info("Cannot list subscriptions", "holder", holder, "error", err)
		return
	}
	for _, sub := range subs {
		if !criteria(sub).Matches(t) {
			continue
		}
		m.emit(ctx, sub, t, r, patch)
	}
}

// emit shapes and queues one notification, then advances the expiration
// countdown. The final notification of a countdown is queued before the
// subscription goes, so it is still delivered.
func (m *Manager) emit(ctx context.Context, sub *resource.Resource, t onem2m.NotificationEventType, r *resource.Resource, patch map[string]any) {
	nu, _ := sub.StringsAttribute(onem2m.AttrNotificationURIs)
	if len(nu) == 0 {
		return
	}
	n := &onem2m.Notification{
		SubscriptionReference: m.reference(sub.RI()),
		Event:                 m.shape(sub, t, r, patch),
	}
	m.push(sub.RI(), &delivery{n: n, targets: nu})
	m.log.Debug("Notification queued", "subscription", sub.RI(), "eventType", int64(t))
	m.countdown(ctx, sub.RI())
}

// shape builds the nev structure per the subscription's notification
// content type. Update events shaped as modified attributes carry the
// applied patch, never the resource type; events without a patch fall back
// to the full representation.
func (m *Manager) shape(sub *resource.Resource, t onem2m.NotificationEventType, r *resource.Resource, patch map[string]any) *onem2m.NotificationEvent {
	ev := &onem2m.NotificationEvent{EventType: t}
	nct, _ := sub.IntAttribute(onem2m.AttrNotContentType)
	switch onem2m.NotificationContentType(nct) {
	case onem2m.ContentModifiedAttributes:
		if patch == nil {
			ev.Representation = r.WireRepresentation()
			break
		}
		changed := make(map[string]any, len(patch))
		for k, v := range patch {
			if k == onem2m.AttrResourceType {
				continue
			}
			changed[k] = v
		}
		ev.Representation = map[string]any{r.TypeKey(): changed}
	case onem2m.ContentResourceID:
		ev.Representation = map[string]any{onem2m.URIKey: m.reference(r.RI())}
	case onem2m.ContentTriggerPayload:
		// Signal envelope only.
	default:
		ev.Representation = r.WireRepresentation()
	}
	return ev
}

// countdown advances the expiration counter after an emission. The counter
// is bookkeeping, not an update anyone subscribes to, so the store is
// written directly. At zero the subscription is retired through the engine
// so the deletion notice goes out.
func (m *Manager) countdown(ctx context.Context, subRI string) {
	sub, err := m.store.Retrieve(ctx, subRI)
	if err != nil {
		return
	}
	exc, ok := sub.IntAttribute(onem2m.AttrExpirationCounter)
	if !ok {
		return
	}
	if exc > 1 {
		sub.SetAttribute(onem2m.AttrExpirationCounter, exc-1)
		if err := m.store.Update(ctx, sub); err != nil {
			m.log.Info("Cannot advance expiration counter", "subscription", subRI, "error", err)
		}
		return
	}

	// Retiring the subscription emits deletion events, which can land
	// right back here while it is still stored.
	m.mu.Lock()
	if m.retiring[subRI] {
		m.mu.Unlock()
		return
	}
	m.retiring[subRI] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.retiring, subRI)
		m.mu.Unlock()
	}()

	m.log.Debug("Expiration counter exhausted", "subscription", subRI)
	if err := m.deleter.Delete(ctx, subRI, m.id.Originator); err != nil {
		m.log.Info("Cannot retire exhausted subscription", "subscription", subRI, "error", err)
	}
}

// verify runs the verification handshake: a notification with vrq set that
// every verifier must accept.
func (m *Manager) verify(ctx context.Context, sub *resource.Resource, verifiers []string) error {
	if len(verifiers) == 0 {
		return nil
	}
	n := &onem2m.Notification{
		VerificationRequest:   true,
		SubscriptionReference: m.reference(sub.RI()),
		Creator:               sub.Creator(),
	}
	for _, target := range verifiers {
		if err := m.post(ctx, target, n); err != nil {
			return status.Wrap(err, onem2m.StatusSubscriptionVerificationInitiationFailed, errVerification)
		}
		m.log.Debug("Verification accepted", "subscription", sub.RI(), "target", target)
	}
	return nil
}

// attempt offers the delivery to each remaining target, striking off the
// ones that accept it.
func (m *Manager) attempt(ctx context.Context, d *delivery) {
	remaining := d.targets[:0]
	for _, target := range d.targets {
		if err := m.post(ctx, target, d.n); err != nil {
			m.log.Debug("Delivery attempt failed", "target", target, "error", err)
			remaining = append(remaining, target)
		}
	}
	d.targets = remaining
}

// abandon gives up on the delivery's remaining targets: each is dropped
// from the subscription's target list and reported as a delivery failure.
// The subscription may already be gone when the delivery is a deletion
// notice, in which case the failure event carries no resource.
func (m *Manager) abandon(ctx context.Context, subRI string, d *delivery) {
	sub, err := m.store.Retrieve(ctx, subRI)
	if err != nil && !status.IsNotFound(err) {
		m.log.Info("Cannot load subscription of abandoned delivery", "subscription", subRI, "error", err)
	}

	dead := make(map[string]bool, len(d.targets))
	for _, target := range d.targets {
		dead[target] = true
		m.log.Info("Notification target dropped", "subscription", subRI, "target", target)
		m.events.Publish(ctx, event.Event{Kind: event.KindDeliveryFailed, Resource: sub, Target: target})
	}

	if sub == nil {
		return
	}
	nu, _ := sub.StringsAttribute(onem2m.AttrNotificationURIs)
	kept := make([]any, 0, len(nu))
	for _, t := range nu {
		if !dead[t] {
			kept = append(kept, t)
		}
	}
	sub.SetAttribute(onem2m.AttrNotificationURIs, kept)
	if err := m.store.Update(ctx, sub); err != nil {
		m.log.Info("Cannot drop notification targets", "subscription", subRI, "error", err)
	}
}

// post resolves a target and delivers the notification to it, stopping at
// the first of its URIs that accepts.
func (m *Manager) post(ctx context.Context, target string, n *onem2m.Notification) error {
	uris, err := m.resolve(ctx, target)
	if err != nil {
		return err
	}
	var last error
	for _, u := range uris {
		tctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := m.requester.Notify(tctx, u, n)
		cancel()
		if err == nil {
			return nil
		}
		last = err
	}
	return last
}

// resolve maps a notification target to deliverable URIs: the target
// itself when its scheme has a binding, otherwise the point of access of
// the local resource it references.
func (m *Manager) resolve(ctx context.Context, target string) ([]string, error) {
	if u, err := url.Parse(target); err == nil && onem2m.IsSupportedScheme(u.Scheme) {
		return []string{target}, nil
	}
	r, err := m.store.Retrieve(ctx, meta.NormalizeOriginator(target))
	if err != nil {
		return nil, status.Wrap(err, onem2m.StatusTargetNotReachable, errUnresolvedTarget)
	}
	poa, _ := r.StringsAttribute(onem2m.AttrPointOfAccess)
	if len(poa) == 0 {
		return nil, status.Errorf(onem2m.StatusTargetNotReachable, "target %s has no point of access", target)
	}
	return poa, nil
}

// subscriptionsOn lists the subscriptions attached to the identified
// resource, oldest first.
func (m *Manager) subscriptionsOn(ctx context.Context, ri string) ([]*resource.Resource, error) {
	children, err := store.ChildrenOf(ctx, m.store, ri)
	if err != nil {
		return nil, err
	}
	var subs []*resource.Resource
	for _, c := range children {
		if c.Type() == onem2m.ResourceTypeSubscription {
			subs = append(subs, c)
		}
	}
	store.SortByCreation(subs)
	return subs, nil
}

// targets returns the subscription's notification targets, insisting on at
// least one and none blank.
func (m *Manager) targets(sub *resource.Resource) ([]string, error) {
	nu, ok := sub.StringsAttribute(onem2m.AttrNotificationURIs)
	if !ok || len(nu) == 0 {
		return nil, status.New(onem2m.StatusBadRequest, errNoTargets)
	}
	for _, t := range nu {
		if t == "" {
			return nil, status.New(onem2m.StatusBadRequest, errBlankTarget)
		}
	}
	return nu, nil
}

// validateShaping bounds the shaping attributes: a notification content
// type within its enumeration and a positive expiration counter.
func (m *Manager) validateShaping(sub *resource.Resource) error {
	if sub.HasAttribute(onem2m.AttrNotContentType) {
		nct, ok := sub.IntAttribute(onem2m.AttrNotContentType)
		if !ok || nct < int64(onem2m.ContentAllAttributes) || nct > int64(onem2m.ContentTriggerPayload) {
			return status.New(onem2m.StatusBadRequest, errContentTypeRange)
		}
	}
	if sub.HasAttribute(onem2m.AttrExpirationCounter) {
		exc, ok := sub.IntAttribute(onem2m.AttrExpirationCounter)
		if !ok || exc < 1 {
			return status.New(onem2m.StatusBadRequest, errCounterRange)
		}
	}
	return nil
}

// reference returns the SP-relative reference of a local resource.
func (m *Manager) reference(ri string) string {
	return m.id.CSEID + "/" + ri
}

// push appends a delivery to the subscription's pending list and makes the
// queue aware of the key.
func (m *Manager) push(subRI string, d *delivery) {
	m.mu.Lock()
	m.pending[subRI] = append(m.pending[subRI], d)
	m.mu.Unlock()
	m.queue.Add(subRI)
}

// head peeks the oldest pending delivery of a subscription.
func (m *Manager) head(subRI string) *delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds := m.pending[subRI]
	if len(ds) == 0 {
		return nil
	}
	return ds[0]
}

// drop removes a delivered or abandoned delivery and reports whether more
// are pending for the same subscription.
func (m *Manager) drop(subRI string, d *delivery) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ds := m.pending[subRI]
	for i, x := range ds {
		if x == d {
			ds = append(ds[:i], ds[i+1:]...)
			break
		}
	}
	if len(ds) == 0 {
		delete(m.pending, subRI)
		return false
	}
	m.pending[subRI] = ds
	return true
}

// criteria decodes the subscription's event notification criteria. Nil
// (no enc, or one without event types) admits update events only.
func criteria(sub *resource.Resource) *onem2m.EventCriteria {
	enc, ok := sub.Attribute(onem2m.AttrEventNotification)
	if !ok {
		return nil
	}
	obj, ok := enc.(map[string]any)
	if !ok {
		return nil
	}
	c := &onem2m.EventCriteria{}
	if nets, ok := obj[onem2m.AttrNotEventTypes].([]any); ok {
		for _, v := range nets {
			if t, ok := toEventType(v); ok {
				c.EventTypes = append(c.EventTypes, t)
			}
		}
	}
	return c
}

func toEventType(v any) (onem2m.NotificationEventType, bool) {
	switch n := v.(type) {
	case int64:
		return onem2m.NotificationEventType(n), true
	case float64:
		return onem2m.NotificationEventType(n), true
	case int:
		return onem2m.NotificationEventType(n), true
	}
	return 0, false
}
