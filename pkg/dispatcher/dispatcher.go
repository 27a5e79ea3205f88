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

// Package dispatcher implements the resource lifecycle engine: create,
// retrieve, update, delete and discovery over the resource tree, with
// admission, access control, subscription and announcement concerns
// delegated to pluggable collaborators.
package dispatcher

import (
	"context"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/clock"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/event"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/meta"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// Error strings.
const (
	errEmptyTarget      = "empty target address"
	errDeleteCSEBase    = "the CSE base cannot be deleted"
	errMalformedExpires = "malformed expirationTime"
)

// Defaults for optional engine knobs.
const (
	defaultExpirationDelta = 365 * 24 * time.Hour
	defaultIDLength        = 10
)

// A PermissionChecker decides whether an originator may perform an
// operation on a resource. The access evaluator implements it.
type PermissionChecker interface {
	Allowed(ctx context.Context, res *resource.Resource, originator string, op onem2m.Operation) error
}

// Identity is the hosting CSE's identity as the engine needs it: the
// originator its internal operations run under, and the identifiers the
// CSEBase was bootstrapped with.
type Identity struct {
	// Originator passes every access control check, e.g. "CAdmin".
	Originator string

	// CSEID is the SP-relative CSE identifier, e.g. "/id-in".
	CSEID string

	// ResourceID is the CSEBase resource identifier, e.g. "id-in".
	ResourceID string

	// ResourceName is the CSEBase resource name, the first segment of
	// every structured address, e.g. "cse-in".
	ResourceName string
}

// An EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger configures how the engine logs.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		e.log = l
	}
}

// WithClock configures the clock timestamps are taken from.
func WithClock(c clock.PassiveClock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithAdmitter configures the registration admission hook.
func WithAdmitter(a Admitter) EngineOption {
	return func(e *Engine) {
		e.admit = a
	}
}

// WithNotifier configures the subscription hook.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notify = n
	}
}

// WithAnnouncer configures the announcement hook.
func WithAnnouncer(a Announcer) EngineOption {
	return func(e *Engine) {
		e.announce = a
	}
}

// WithPublisher configures where lifecycle events are published.
func WithPublisher(p event.Publisher) EngineOption {
	return func(e *Engine) {
		e.events = p
	}
}

// WithExpirationDelta configures the expiration time stamped onto created
// resources that do not supply one.
func WithExpirationDelta(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.expirationDelta = d
	}
}

// WithIDLength bounds generated resource identifiers.
func WithIDLength(n int) EngineOption {
	return func(e *Engine) {
		e.idLength = n
	}
}

// An Engine dispatches resource lifecycle operations over the tree held
// in its store.
type Engine struct {
	store    store.Store
	registry *resource.Registry
	access   PermissionChecker
	id       Identity

	admit    Admitter
	notify   Notifier
	announce Announcer
	events   event.Publisher

	clock clock.PassiveClock
	log   logging.Logger
	locks *lockSet

	expirationDelta time.Duration
	idLength        int
}

// NewEngine returns an engine operating on the supplied store, with
// admission, subscription and announcement hooks that do nothing until
// configured.
func NewEngine(s store.Store, reg *resource.Registry, pc PermissionChecker, id Identity, o ...EngineOption) *Engine {
	e := &Engine{
		store:    s,
		registry: reg,
		access:   pc,
		id:       id,

		admit:    NopAdmitter{},
		notify:   NopNotifier{},
		announce: NopAnnouncer{},
		events:   event.NewNopPublisher(),

		clock: clock.RealClock{},
		log:   logging.NewNopLogger(),
		locks: newLockSet(),

		expirationDelta: defaultExpirationDelta,
		idLength:        defaultIDLength,
	}
	for _, fn := range o {
		fn(e)
	}
	return e
}

// Create makes r a child of the resource addressed by parentID. The
// server assigns ri, pi, ct, lt and, unless supplied, rn and et. It
// returns the resource as persisted, delivery confirmations from
// announcement included.
func (e *Engine) Create(ctx context.Context, parentID string, r *resource.Resource, originator string) (*resource.Resource, error) {
	parent, err := e.resolve(ctx, parentID)
	if err != nil {
		return nil, err
	}
	p, err := e.registry.Policy(r.Type())
	if err != nil {
		return nil, err
	}
	if !e.registry.CanHaveChild(parent.Type(), r.Type()) {
		return nil, status.Errorf(onem2m.StatusInvalidChildResourceType, "cannot create %s under %s", r.Type(), parent.Type())
	}

	// Registration points are gated by the admission allowlists: their
	// originators hold no privileges before they are registered.
	if !p.RegistrationPoint {
		if err := e.access.Allowed(ctx, parent, originator, onem2m.OperationCreate); err != nil {
			return nil, err
		}
	}

	now := meta.Now(e.clock)
	r = r.DeepCopy()
	r.SetRI(meta.UniqueRI(r.Type(), e.idLength))
	if r.RN() == "" {
		r.SetRN(meta.UniqueRN(r.Type(), e.idLength))
	}
	r.SetPI(parent.RI())
	r.SetCreationTime(now)
	r.SetLastModifiedTime(now)
	if err := e.stampExpiration(r, parent, p); err != nil {
		return nil, err
	}

	if err := e.admit.AdmitCreate(ctx, r, originator); err != nil {
		return nil, err
	}
	if err := e.registry.ValidateCreate(r); err != nil {
		e.compensate(ctx, r)
		return nil, err
	}
	if err := e.registry.ValidateAnnouncedAttrs(r); err != nil {
		e.compensate(ctx, r)
		return nil, err
	}
	if r.Type() == onem2m.ResourceTypeSubscription {
		if err := e.notify.VerifyCreate(ctx, r); err != nil {
			e.compensate(ctx, r)
			return nil, err
		}
	}

	if err := e.persistChild(ctx, parent.RI(), r); err != nil {
		e.compensate(ctx, r)
		return nil, err
	}

	e.log.Debug("Created resource", logging.ForResource(r)...)
	e.events.Publish(ctx, event.Created(r))
	e.notify.ResourceCreated(ctx, r)
	if len(r.AnnounceTo()) > 0 {
		e.announce.Announce(ctx, r)
	}
	e.enforceLimits(ctx, parent.RI())

	return r, nil
}

// Retrieve returns the resource addressed by id. It is side-effect free.
func (e *Engine) Retrieve(ctx context.Context, id, originator string) (*resource.Resource, error) {
	r, err := e.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.access.Allowed(ctx, r, originator, onem2m.OperationRetrieve); err != nil {
		return nil, err
	}
	return r, nil
}

// Update applies patch to the resource addressed by id, attribute by
// attribute; attributes set to null are removed. It returns the resource
// as persisted.
func (e *Engine) Update(ctx context.Context, id string, patch map[string]any, originator string) (*resource.Resource, error) {
	old, err := e.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.access.Allowed(ctx, old, originator, onem2m.OperationUpdate); err != nil {
		return nil, err
	}
	if err := e.registry.ValidateUpdate(old, patch); err != nil {
		return nil, err
	}
	patch, err = e.clampPatchExpiration(ctx, old, patch)
	if err != nil {
		return nil, err
	}

	staged := old.DeepCopy()
	staged.Apply(patch)
	staged.SetLastModifiedTime(meta.Now(e.clock))
	if err := e.registry.ValidateAnnouncedAttrs(staged); err != nil {
		return nil, err
	}
	if err := e.admit.AdmitUpdate(ctx, staged, patch, originator); err != nil {
		return nil, err
	}
	if staged.Type() == onem2m.ResourceTypeSubscription {
		if err := e.notify.VerifyUpdate(ctx, staged, patch); err != nil {
			return nil, err
		}
	}

	updated, err := e.persistUpdate(ctx, old.RI(), patch)
	if err != nil {
		return nil, err
	}

	e.log.Debug("Updated resource", logging.ForResource(updated)...)
	e.events.Publish(ctx, event.Updated(updated, patch))
	e.notify.ResourceUpdated(ctx, updated, patch)
	e.announce.Reconcile(ctx, old, updated)

	return updated, nil
}

// Delete removes the resource addressed by id and every descendant,
// leaves before parents, along with resources created on their behalf.
func (e *Engine) Delete(ctx context.Context, id, originator string) error {
	target, err := e.resolve(ctx, id)
	if err != nil {
		return err
	}
	if target.Type() == onem2m.ResourceTypeCSEBase {
		return status.New(onem2m.StatusOperationNotAllowed, errDeleteCSEBase)
	}
	if err := e.access.Allowed(ctx, target, originator, onem2m.OperationDelete); err != nil {
		return err
	}

	victims, err := e.collect(ctx, target)
	if err != nil {
		return err
	}

	// Deregistration signals go out while every victim is still present.
	e.notify.ResourceDeleted(ctx, target)
	for _, v := range victims {
		if v.Type() == onem2m.ResourceTypeSubscription {
			e.notify.SubscriptionDeleted(ctx, v)
		}
	}

	inSet := make(map[string]bool, len(victims))
	for _, v := range victims {
		inSet[v.RI()] = true
	}

	for _, v := range victims {
		if p, err := e.registry.Policy(v.Type()); err == nil && p.RegistrationPoint {
			e.admit.Deregister(ctx, v)
		}
		if len(v.AnnounceTo()) > 0 {
			e.announce.DeAnnounce(ctx, v)
		}

		e.locks.lock(v.RI())
		err := e.store.Delete(ctx, v.RI())
		e.locks.unlock(v.RI())
		if err != nil && !status.IsNotFound(err) {
			return err
		}

		if v.Type() == onem2m.ResourceTypeContentInstance && !inSet[v.PI()] {
			e.releaseInstance(ctx, v)
		}

		e.log.Debug("Deleted resource", logging.ForResource(v)...)
		e.events.Publish(ctx, event.Deleted(v))
	}
	return nil
}

// Discover walks the subtree under the resource addressed by id and
// returns the structured paths of resources matching the criteria.
func (e *Engine) Discover(ctx context.Context, id, originator string, crit *onem2m.FilterCriteria) ([]string, error) {
	root, err := e.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := e.access.Allowed(ctx, root, originator, onem2m.OperationDiscovery); err != nil {
		return nil, err
	}

	out := []string{}
	queue := []*resource.Resource{root}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]

		if matchesCriteria(r, crit) {
			path, err := e.structuredPath(ctx, r)
			if err != nil {
				return nil, err
			}
			out = append(out, path)
			if crit != nil && crit.Limit > 0 && len(out) == crit.Limit {
				return out, nil
			}
		}

		children, err := store.ChildrenOf(ctx, e.store, r.RI())
		if err != nil {
			return nil, err
		}
		queue = append(queue, children...)
	}
	return out, nil
}

// resolve maps an unstructured identifier, a CSE-relative address or a
// structured resource-name path onto the resource it addresses.
func (e *Engine) resolve(ctx context.Context, id string) (*resource.Resource, error) {
	id = strings.TrimPrefix(id, "~")
	if id == e.id.CSEID {
		id = e.id.ResourceID
	} else if rest, ok := strings.CutPrefix(id, e.id.CSEID+"/"); ok {
		id = rest
	}
	if id == "" {
		return nil, status.New(onem2m.StatusBadRequest, errEmptyTarget)
	}

	if !meta.IsStructured(id) {
		return e.store.Retrieve(ctx, id)
	}

	segs := meta.SplitAddress(id)
	if len(segs) == 0 || segs[0] != e.id.ResourceName {
		return nil, status.Errorf(onem2m.StatusNotFound, "no resource at %s", id)
	}
	cur, err := e.store.Retrieve(ctx, e.id.ResourceID)
	if err != nil {
		return nil, err
	}
	for _, seg := range segs[1:] {
		cur, err = store.ChildByName(ctx, e.store, cur.RI(), seg)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// structuredPath builds a resource's structured address by climbing the
// parent chain up to the CSE base.
func (e *Engine) structuredPath(ctx context.Context, r *resource.Resource) (string, error) {
	segs := []string{}
	for {
		segs = append([]string{r.RN()}, segs...)
		if r.Type() == onem2m.ResourceTypeCSEBase || r.PI() == "" {
			return strings.Join(segs, "/"), nil
		}
		parent, err := e.store.Retrieve(ctx, r.PI())
		if err != nil {
			return "", err
		}
		r = parent
	}
}

// collect returns the target's subtree, owned companion resources
// included, ordered leaves before parents with the target last.
func (e *Engine) collect(ctx context.Context, target *resource.Resource) ([]*resource.Resource, error) {
	var out []*resource.Resource
	seen := map[string]bool{}

	var walk func(r *resource.Resource) error
	walk = func(r *resource.Resource) error {
		if seen[r.RI()] {
			return nil
		}
		seen[r.RI()] = true

		children, err := store.ChildrenOf(ctx, e.store, r.RI())
		if err != nil {
			return err
		}
		for _, c := range children {
			if err := walk(c); err != nil {
				return err
			}
		}
		owned, err := store.OwnedBy(ctx, e.store, r.RI())
		if err != nil {
			return err
		}
		for _, o := range owned {
			if err := walk(o); err != nil {
				return err
			}
		}
		out = append(out, r)
		return nil
	}

	if err := walk(target); err != nil {
		return nil, err
	}
	return out, nil
}

// persistChild writes r under its parent, holding the parent's lock for
// the name-uniqueness check, the write, and the parent's bookkeeping.
func (e *Engine) persistChild(ctx context.Context, parentRI string, r *resource.Resource) error {
	e.locks.lock(parentRI)
	defer e.locks.unlock(parentRI)

	parent, err := e.store.Retrieve(ctx, parentRI)
	if err != nil {
		return err
	}
	if _, err := store.ChildByName(ctx, e.store, parentRI, r.RN()); err == nil {
		return status.Errorf(onem2m.StatusConflict, "name %q already taken under %s", r.RN(), parentRI)
	} else if !status.IsNotFound(err) {
		return err
	}

	if r.Type() == onem2m.ResourceTypeContentInstance {
		absorbInstance(parent, r)
		if err := e.store.Create(ctx, r); err != nil {
			return err
		}
		return e.store.Update(ctx, parent)
	}
	return e.store.Create(ctx, r)
}

// persistUpdate re-applies the patch to the freshest state under the
// resource's lock and writes it back.
func (e *Engine) persistUpdate(ctx context.Context, ri string, patch map[string]any) (*resource.Resource, error) {
	e.locks.lock(ri)
	defer e.locks.unlock(ri)

	fresh, err := e.store.Retrieve(ctx, ri)
	if err != nil {
		return nil, err
	}
	fresh.Apply(patch)
	fresh.SetLastModifiedTime(meta.Now(e.clock))
	if fresh.Type() == onem2m.ResourceTypeContainer {
		bumpStateTag(fresh)
	}
	if err := e.store.Update(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

// stampExpiration fills in the expiration time: the requested value is
// honored verbatim, even in the past; absent one, the configured delta
// applies. Types that cannot outlive their parent are clamped to it.
func (e *Engine) stampExpiration(r, parent *resource.Resource, p *resource.Policy) error {
	if !p.Expires {
		return nil
	}
	et := r.ExpirationTime()
	if et == "" {
		et = meta.Timestamp(e.clock.Now().Add(e.expirationDelta))
	} else if _, err := meta.ParseTimestamp(et); err != nil {
		return status.Wrap(err, onem2m.StatusBadRequest, errMalformedExpires)
	}
	if p.ExpirationClampedToParent {
		// The compact timestamp layout is fixed width, so lexicographic
		// order is chronological order.
		if pet := parent.ExpirationTime(); pet != "" && et > pet {
			et = pet
		}
	}
	r.SetExpirationTime(et)
	return nil
}

// clampPatchExpiration validates an expiration time carried in an update
// patch and clamps it to the parent's for types that cannot outlive it.
// The caller's patch is not modified.
func (e *Engine) clampPatchExpiration(ctx context.Context, old *resource.Resource, patch map[string]any) (map[string]any, error) {
	v, ok := patch[onem2m.AttrExpirationTime]
	if !ok || v == nil {
		return patch, nil
	}
	et, ok := v.(string)
	if !ok {
		return nil, status.New(onem2m.StatusBadRequest, errMalformedExpires)
	}
	if _, err := meta.ParseTimestamp(et); err != nil {
		return nil, status.Wrap(err, onem2m.StatusBadRequest, errMalformedExpires)
	}

	p, err := e.registry.Policy(old.Type())
	if err != nil {
		return nil, err
	}
	if !p.ExpirationClampedToParent || old.PI() == "" {
		return patch, nil
	}
	parent, err := e.store.Retrieve(ctx, old.PI())
	if err != nil {
		return nil, err
	}
	if pet := parent.ExpirationTime(); pet != "" && et > pet {
		patch = runtime.DeepCopyJSON(patch)
		patch[onem2m.AttrExpirationTime] = pet
	}
	return patch, nil
}

// compensate removes resources created on behalf of a request that could
// not complete, found through their owner links.
func (e *Engine) compensate(ctx context.Context, r *resource.Resource) {
	owned, err := store.OwnedBy(ctx, e.store, r.RI())
	if err != nil {
		e.log.Info("Cannot look up companion resources", "ri", r.RI(), "error", err)
		return
	}
	for _, o := range owned {
		if err := e.store.Delete(ctx, o.RI()); err != nil && !status.IsNotFound(err) {
			e.log.Info("Cannot remove companion resource", "ri", o.RI(), "error", err)
		}
	}
}

// matchesCriteria applies discovery filter criteria to a resource. Nil
// criteria match everything.
func matchesCriteria(r *resource.Resource, crit *onem2m.FilterCriteria) bool {
	if crit == nil {
		return true
	}
	if len(crit.ResourceTypes) > 0 {
		ok := false
		for _, ty := range crit.ResourceTypes {
			if r.Type() == ty {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(crit.Labels) > 0 {
		have := map[string]bool{}
		for _, l := range r.Labels() {
			have[l] = true
		}
		ok := false
		for _, l := range crit.Labels {
			if have[l] {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for name, want := range crit.Attributes {
		got, ok := r.Attribute(name)
		if !ok || !equalAttr(got, want) {
			return false
		}
	}
	return true
}

// equalAttr compares attribute values the way they travel on the wire:
// scalars by value, numbers across int and float encodings.
func equalAttr(got, want any) bool {
	if g, ok := toFloat(got); ok {
		if w, ok := toFloat(want); ok {
			return g == w
		}
		return false
	}
	return got == want
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
