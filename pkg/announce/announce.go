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

// Package announce replicates local resources to remote CSEs. A resource
// naming remote CSE identifiers in its announceTo attribute gets an
// announced twin under this CSE's counterpart on each of them; a successful
// round trip records a <remoteID>/<shadowID> confirmation back in
// announceTo. Updates reconcile the twins against the target list and the
// announced attribute selection, and deleting the original retires its
// twins. Everything here is best effort: remote failures are logged and
// never fail the local operation.
package announce

import (
	"context"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/connect"
	"github.com/onem2m-go/cse-runtime/pkg/dispatcher"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/meta"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// Error strings.
const (
	errComputeDiff = "cannot compute twin patch"
)

// Defaults.
const (
	defaultRequestTimeout = 5 * time.Second
)

// defaultBackoff shapes the bounded retry of one announcement round.
func defaultBackoff() wait.Backoff {
	return wait.Backoff{Duration: time.Second, Factor: 2, Steps: 5}
}

// A ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger configures how the manager logs.
func WithLogger(l logging.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = l
	}
}

// WithRequestTimeout bounds one announcement request.
func WithRequestTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithBackoff shapes the bounded retry of a failed announcement round.
func WithBackoff(b wait.Backoff) ManagerOption {
	return func(m *Manager) {
		m.backoff = b
	}
}

// A Manager keeps announced twins in sync with their originals. It
// implements the dispatcher's Announcer hook.
type Manager struct {
	store     store.Store
	registry  *resource.Registry
	requester connect.Requester
	id        dispatcher.Identity

	timeout time.Duration
	backoff wait.Backoff
	log     logging.Logger
}

// NewManager returns a manager that replicates resources through the
// supplied requester and records confirmations in the supplied store.
func NewManager(s store.Store, reg *resource.Registry, r connect.Requester, id dispatcher.Identity, o ...ManagerOption) *Manager {
	m := &Manager{
		store:     s,
		registry:  reg,
		requester: r,
		id:        id,
		timeout:   defaultRequestTimeout,
		backoff:   defaultBackoff(),
		log:       logging.NewNopLogger(),
	}
	for _, fn := range o {
		fn(m)
	}
	return m
}

// Announce replicates a freshly created resource to every bare remote CSE
// identifier in its announceTo list. Each successful replication appends a
// <remoteID>/<shadowID> confirmation to the local list; failures are logged
// and leave the list untouched.
func (m *Manager) Announce(ctx context.Context, r *resource.Resource) {
	at := splitAnnounceTo(r.AnnounceTo())
	for _, entry := range r.AnnounceTo() {
		if _, _, ok := splitConfirmation(entry); ok {
			continue
		}
		if _, ok := at.shadows[entry]; ok {
			continue
		}
		if err := m.announce(ctx, r, entry); err != nil {
			m.log.Info("Cannot announce resource", append(logging.ForResource(r), "remote", entry, "error", err)...)
		}
	}
}

// Reconcile propagates an update to the announced twins: additions to
// announceTo are announced, removals retire their twins and strip the
// orphaned confirmations, and changes to the announced attribute set flow
// to every remaining twin as a merge patch.
func (m *Manager) Reconcile(ctx context.Context, old, updated *resource.Resource) {
	before := splitAnnounceTo(old.AnnounceTo())
	after := splitAnnounceTo(updated.AnnounceTo())

	shadows := make(map[string]string, len(before.shadows)+len(after.shadows))
	for id, ri := range before.shadows {
		shadows[id] = ri
	}
	for id, ri := range after.shadows {
		shadows[id] = ri
	}

	for _, entry := range updated.AnnounceTo() {
		if _, _, ok := splitConfirmation(entry); ok {
			continue
		}
		shadowRI, announced := shadows[entry]
		switch {
		case announced:
			m.propagate(ctx, old, updated, entry, shadowRI)
		case !before.remotes.Has(entry):
			if err := m.announce(ctx, updated, entry); err != nil {
				m.log.Info("Cannot announce resource", append(logging.ForResource(updated), "remote", entry, "error", err)...)
			}
		}
	}

	var orphaned []string
	for remoteID, shadowRI := range shadows {
		if after.remotes.Has(remoteID) {
			continue
		}
		if err := m.deAnnounce(ctx, remoteID, shadowRI); err != nil {
			m.log.Info("Cannot de-announce resource", append(logging.ForResource(updated), "remote", remoteID, "error", err)...)
		}
		orphaned = append(orphaned, remoteID)
	}
	if len(orphaned) > 0 && updated.HasAttribute(onem2m.AttrAnnounceTo) {
		m.strip(ctx, updated, orphaned)
	}
}

// DeAnnounce retires every confirmed twin of a resource that is being
// deleted. The local list is not rewritten; the resource is on its way out.
func (m *Manager) DeAnnounce(ctx context.Context, r *resource.Resource) {
	for _, entry := range r.AnnounceTo() {
		remoteID, shadowRI, ok := splitConfirmation(entry)
		if !ok {
			continue
		}
		if err := m.deAnnounce(ctx, remoteID, shadowRI); err != nil {
			m.log.Info("Cannot de-announce resource", append(logging.ForResource(r), "remote", remoteID, "error", err)...)
		}
	}
}

// announce builds the twin of r and creates it on the remote, recording
// the confirmation locally on success.
func (m *Manager) announce(ctx context.Context, r *resource.Resource, remoteID string) error {
	twin, err := m.registry.AnnouncedTwin(r, m.reference(r.RI()))
	if err != nil {
		return err
	}

	poa, err := m.counterpart(ctx, remoteID)
	if err != nil {
		return err
	}

	parent := m.parentFor(ctx, r, remoteID)

	var shadowRI string
	err = m.attempt(ctx, func(ctx context.Context) error {
		return m.over(ctx, poa, func(ctx context.Context, uri string) error {
			var cerr error
			shadowRI, cerr = m.requester.CreateResource(ctx, uri, parent, twin)
			return cerr
		})
	})
	if err != nil {
		return err
	}

	r.SetAnnounceTo(append(r.AnnounceTo(), remoteID+"/"+shadowRI))
	return m.store.Update(ctx, r)
}

// propagate sends the attribute changes visible through the announced
// projection to an existing twin.
func (m *Manager) propagate(ctx context.Context, old, updated *resource.Resource, remoteID, shadowRI string) {
	patch, err := m.diff(old, updated)
	if err != nil {
		m.log.Info("Cannot reconcile announced twin", append(logging.ForResource(updated), "remote", remoteID, "error", err)...)
		return
	}
	if len(patch) == 0 {
		return
	}
	content := map[string]any{updated.Type().Announced().Key(): patch}

	poa, err := m.counterpart(ctx, remoteID)
	if err == nil {
		err = m.attempt(ctx, func(ctx context.Context) error {
			return m.over(ctx, poa, func(ctx context.Context, uri string) error {
				return m.requester.UpdateResource(ctx, uri, shadowRI, content)
			})
		})
	}
	if err != nil {
		m.log.Info("Cannot reconcile announced twin", append(logging.ForResource(updated), "remote", remoteID, "error", err)...)
	}
}

// deAnnounce deletes one twin on its remote.
func (m *Manager) deAnnounce(ctx context.Context, remoteID, shadowRI string) error {
	poa, err := m.counterpart(ctx, remoteID)
	if err != nil {
		return err
	}
	return m.attempt(ctx, func(ctx context.Context) error {
		return m.over(ctx, poa, func(ctx context.Context, uri string) error {
			return m.requester.DeleteResource(ctx, uri, shadowRI)
		})
	})
}

// strip rewrites the local announceTo without the confirmations of remotes
// that are no longer announcement targets.
func (m *Manager) strip(ctx context.Context, r *resource.Resource, orphaned []string) {
	dead := sets.New(orphaned...)
	kept := make([]string, 0, len(r.AnnounceTo()))
	for _, entry := range r.AnnounceTo() {
		if remoteID, _, ok := splitConfirmation(entry); ok && dead.Has(remoteID) {
			continue
		}
		kept = append(kept, entry)
	}
	r.SetAnnounceTo(kept)
	if err := m.store.Update(ctx, r); err != nil {
		m.log.Info("Cannot rewrite announcement bookkeeping", append(logging.ForResource(r), "error", err)...)
	}
}

// diff computes the merge patch between the announced projections of the
// old and new representations: changed attributes carry their new value,
// attributes that left the selection carry null.
func (m *Manager) diff(old, updated *resource.Resource) (map[string]any, error) {
	was, err := m.registry.AnnouncedProjection(old)
	if err != nil {
		return nil, err
	}
	is, err := m.registry.AnnouncedProjection(updated)
	if err != nil {
		return nil, err
	}
	patch, err := resource.Diff(was, is)
	if err != nil {
		return nil, status.Wrap(err, onem2m.StatusInternalServerError, errComputeDiff)
	}
	return patch, nil
}

// counterpart returns the points of access of the registered remote CSE
// with the supplied identifier.
func (m *Manager) counterpart(ctx context.Context, remoteID string) ([]string, error) {
	matches, err := m.store.SearchByValueInField(ctx, onem2m.AttrCSEID, remoteID)
	if err != nil {
		return nil, err
	}
	for _, c := range matches {
		if c.Type() != onem2m.ResourceTypeRemoteCSE {
			continue
		}
		poa, _ := c.StringsAttribute(onem2m.AttrPointOfAccess)
		if len(poa) == 0 {
			return nil, status.Errorf(onem2m.StatusTargetNotReachable, "remote CSE %s has no point of access", remoteID)
		}
		return poa, nil
	}
	return nil, status.Errorf(onem2m.StatusTargetNotReachable, "no registered remote CSE matches %s", remoteID)
}

// parentFor returns the identifier the twin is created under on the
// remote: the parent's own shadow when the parent is announced to the same
// remote, this CSE's counterpart otherwise.
func (m *Manager) parentFor(ctx context.Context, r *resource.Resource, remoteID string) string {
	fallback := meta.NormalizeOriginator(m.id.CSEID)
	parent, err := m.store.Retrieve(ctx, r.PI())
	if err != nil {
		return fallback
	}
	for _, entry := range parent.AnnounceTo() {
		if id, shadowRI, ok := splitConfirmation(entry); ok && id == remoteID {
			return shadowRI
		}
	}
	return fallback
}

// attempt retries op with the manager's backoff until it succeeds or the
// attempts are exhausted, returning the last failure.
func (m *Manager) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	var last error
	err := wait.ExponentialBackoffWithContext(ctx, m.backoff, func(ctx context.Context) (bool, error) {
		last = op(ctx)
		return last == nil, nil
	})
	if wait.Interrupted(err) && last != nil {
		return last
	}
	return err
}

// over runs op against each point of access until one succeeds, bounding
// every request by the manager's timeout.
func (m *Manager) over(ctx context.Context, poa []string, op func(ctx context.Context, uri string) error) error {
	var err error
	for _, uri := range poa {
		rctx, cancel := context.WithTimeout(ctx, m.timeout)
		err = op(rctx, uri)
		cancel()
		if err == nil {
			return nil
		}
	}
	return err
}

// reference returns the SP-relative reference of a local resource.
func (m *Manager) reference(ri string) string {
	return m.id.CSEID + "/" + ri
}

// announced is an announceTo list split into its two kinds of entries:
// bare remote CSE identifiers, and the shadow identifiers recorded by
// delivery confirmations.
type announced struct {
	remotes sets.Set[string]
	shadows map[string]string
}

func splitAnnounceTo(at []string) announced {
	a := announced{remotes: sets.New[string](), shadows: map[string]string{}}
	for _, entry := range at {
		if remoteID, shadowRI, ok := splitConfirmation(entry); ok {
			a.shadows[remoteID] = shadowRI
			continue
		}
		a.remotes.Insert(entry)
	}
	return a
}

// splitConfirmation splits a <remoteID>/<shadowID> confirmation into its
// parts. Bare remote CSE identifiers return ok false.
func splitConfirmation(entry string) (remoteID, shadowRI string, ok bool) {
	rest := strings.TrimPrefix(entry, "/")
	i := strings.Index(rest, "/")
	if i < 0 {
		return "", "", false
	}
	return entry[:len(entry)-len(rest)+i], rest[i+1:], true
}
