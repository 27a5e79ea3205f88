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

// Package registration admits AE, remote CSE and request registrations:
// originator assignment, allowlist gating, the access control policies the
// engine creates for registrants, and the expiration sweep that retires
// stale registrations and everything else that carries an expiration time.
package registration

import (
	"context"
	"path"

	kerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/clock"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/dispatcher"
	"github.com/onem2m-go/cse-runtime/pkg/event"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/meta"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// Error strings.
const (
	errCreatorNotNull    = "creator must be null in a create request"
	errMissingCSEID      = "remote CSE registration needs a cse-ID"
	errASNHostsNoCSR     = "an ASN-CSE does not accept remote CSE registrations"
	errAlreadyRegistered = "originator has already registered"
	errCSRRegistered     = "remote CSE has already registered"
)

// acpPrefix names the access control policies the manager creates for
// registrants.
const acpPrefix = "acp_"

// An Engine is the slice of the dispatcher the manager needs: creating
// companion policies and retiring expired resources.
type Engine interface {
	Create(ctx context.Context, parentID string, r *resource.Resource, originator string) (*resource.Resource, error)
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

// WithClock configures the clock the expiration sweep compares against.
func WithClock(c clock.PassiveClock) ManagerOption {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithPublisher configures where registration events are published.
func WithPublisher(p event.Publisher) ManagerOption {
	return func(m *Manager) {
		m.events = p
	}
}

// WithAllowedAEOriginators restricts AE registration to originators
// matching one of the supplied glob patterns. An empty list admits every
// originator.
func WithAllowedAEOriginators(globs []string) ManagerOption {
	return func(m *Manager) {
		m.allowedAEs = globs
	}
}

// WithAllowedCSROriginators restricts remote CSE registration to
// originators matching one of the supplied glob patterns. An empty list
// admits every originator.
func WithAllowedCSROriginators(globs []string) ManagerOption {
	return func(m *Manager) {
		m.allowedCSRs = globs
	}
}

// WithSupportedReleaseVersions is stamped into registered AEs that do not
// supply their own.
func WithSupportedReleaseVersions(srv []string) ManagerOption {
	return func(m *Manager) {
		m.srv = srv
	}
}

// WithSelfPermissionMask configures the pvs mask of the policies the
// manager creates.
func WithSelfPermissionMask(acop int64) ManagerOption {
	return func(m *Manager) {
		m.pvsAcop = acop
	}
}

// WithIDLength bounds generated AE identifiers.
func WithIDLength(n int) ManagerOption {
	return func(m *Manager) {
		m.idLength = n
	}
}

// A Manager admits registrations. It implements the dispatcher's Admitter
// hook and owns the expiration sweep.
type Manager struct {
	store    store.Store
	registry *resource.Registry
	id       dispatcher.Identity
	cseType  onem2m.CSEType

	allowedAEs  []string
	allowedCSRs []string
	srv         []string
	pvsAcop     int64
	idLength    int

	engine Engine
	events event.Publisher
	clock  clock.PassiveClock
	log    logging.Logger
}

// NewManager returns a manager admitting registrations against the
// supplied store. Bind the dispatcher before use.
func NewManager(s store.Store, reg *resource.Registry, id dispatcher.Identity, cseType onem2m.CSEType, o ...ManagerOption) *Manager {
	m := &Manager{
		store:    s,
		registry: reg,
		id:       id,
		cseType:  cseType,
		pvsAcop:  int64(onem2m.AllPermissions),
		idLength: meta.DefaultIDLength,
		events:   event.NewNopPublisher(),
		clock:    clock.RealClock{},
		log:      logging.NewNopLogger(),
	}
	for _, fn := range o {
		fn(m)
	}
	return m
}

// Bind supplies the engine the manager creates companion resources and
// retires expired ones through. The manager and the engine reference each
// other, so the engine cannot be a constructor argument.
func (m *Manager) Bind(e Engine) {
	m.engine = e
}

// AdmitCreate applies registration semantics to a create: the creator
// policy on every type, and originator assignment, allowlists and
// companion policies on registration points.
func (m *Manager) AdmitCreate(ctx context.Context, r *resource.Resource, originator string) error {
	if err := m.assignCreator(r, originator); err != nil {
		return err
	}

	switch r.Type() {
	case onem2m.ResourceTypeAE:
		return m.registerAE(ctx, r, originator)
	case onem2m.ResourceTypeRemoteCSE:
		return m.registerCSR(ctx, r, originator)
	case onem2m.ResourceTypeRequest:
		r.SetAttribute(onem2m.AttrOriginator, originator)
	}
	return nil
}

// AdmitUpdate lets listeners track remote CSE state. Attribute immutability
// is the registry's concern; nothing is rejected here.
func (m *Manager) AdmitUpdate(ctx context.Context, r *resource.Resource, patch map[string]any, _ string) error {
	if r.Type() == onem2m.ResourceTypeRemoteCSE {
		m.events.Publish(ctx, event.Event{Kind: event.KindRemoteCSEUpdate, Resource: r, Patch: patch})
	}
	return nil
}

// Deregister is told that a registration point is being deleted.
func (m *Manager) Deregister(ctx context.Context, r *resource.Resource) {
	switch r.Type() {
	case onem2m.ResourceTypeRemoteCSE:
		m.log.Debug("Remote CSE deregistered", logging.ForResource(r)...)
		m.events.Publish(ctx, event.Event{Kind: event.KindDeregisteredCSE, Resource: r})
	case onem2m.ResourceTypeAE:
		m.log.Debug("AE deregistered", logging.ForResource(r)...)
	}
}

// assignCreator applies the creator policy: on types that support cr the
// request must carry it as null, and the server fills in the originator.
func (m *Manager) assignCreator(r *resource.Resource, originator string) error {
	v, ok := r.Attribute(onem2m.AttrCreator)
	if !ok {
		return nil
	}
	p, err := m.registry.Policy(r.Type())
	if err != nil {
		return err
	}
	if !p.CreatorAllowed {
		// Attribute validation rejects cr on these types.
		return nil
	}
	if v != nil {
		return status.New(onem2m.StatusBadRequest, errCreatorNotNull)
	}
	r.SetCreator(originator)
	return nil
}

// registerAE admits an AE registration: the originator becomes the AE-ID,
// minted fresh for the "C" and "S" registration classes, and a policy
// granting that originator is created unless the request brought its own.
func (m *Manager) registerAE(ctx context.Context, ae *resource.Resource, originator string) error {
	originator = meta.NormalizeOriginator(originator)
	if originator == "" {
		originator = "C"
	}
	if !matchesAny(m.allowedAEs, originator) {
		return status.Errorf(onem2m.StatusAppRuleValidationFailed,
			"originator %s does not match the registration allowlist", originator)
	}

	aei := originator
	if originator == "C" || originator == "S" {
		aei = meta.UniqueAEI(originator, m.idLength)
	}

	registered, err := m.store.SearchByValueInField(ctx, onem2m.AttrAEID, aei)
	if err != nil {
		return err
	}
	if len(registered) > 0 {
		return status.New(onem2m.StatusOriginatorHasAlreadyRegistered, errAlreadyRegistered)
	}

	ae.SetRI(aei)
	ae.SetAttribute(onem2m.AttrAEID, aei)
	// cr records the registered identity, not the token the request
	// carried.
	ae.SetCreator(aei)
	if !ae.HasAttribute(onem2m.AttrSupportedReleaseVers) && len(m.srv) > 0 {
		ae.SetAttribute(onem2m.AttrSupportedReleaseVers, toAny(m.srv))
	}

	if len(ae.ACPIDs()) == 0 {
		acp, err := m.createACP(ctx, acpPrefix+ae.RN(), ae.RI(), []string{aei})
		if err != nil {
			return err
		}
		ae.SetAttribute(onem2m.AttrACPIDs, []any{acp.RI()})
	}

	m.log.Debug("AE registered", "aei", aei, "rn", ae.RN())
	return nil
}

// registerCSR admits a remote CSE registration. The resource identifier is
// the remote's cse-ID so announced resources can address the registrar by
// identifier, and a policy grants the remote everything it needs to
// replicate announcements here.
func (m *Manager) registerCSR(ctx context.Context, csr *resource.Resource, originator string) error {
	if m.cseType == onem2m.CSETypeASN {
		return status.New(onem2m.StatusOperationNotAllowed, errASNHostsNoCSR)
	}

	csi, _ := csr.StringAttribute(onem2m.AttrCSEID)
	if csi == "" {
		return status.New(onem2m.StatusBadRequest, errMissingCSEID)
	}
	if !matchesAny(m.allowedCSRs, meta.NormalizeOriginator(originator)) && !matchesAny(m.allowedCSRs, originator) {
		return status.Errorf(onem2m.StatusAppRuleValidationFailed,
			"remote CSE %s does not match the registration allowlist", csi)
	}

	ri := meta.NormalizeOriginator(csi)
	if ok, err := m.store.HasResource(ctx, ri); err != nil {
		return err
	} else if ok {
		return status.New(onem2m.StatusConflict, errCSRRegistered)
	}
	csr.SetRI(ri)

	if len(csr.ACPIDs()) == 0 {
		acp, err := m.createACP(ctx, acpPrefix+"csr_"+ri, csr.RI(), []string{csi})
		if err != nil {
			return err
		}
		csr.SetAttribute(onem2m.AttrACPIDs, []any{acp.RI()})
	}

	m.log.Debug("Remote CSE registered", "csi", csi)
	m.events.Publish(ctx, event.Event{Kind: event.KindRegisteredCSE, Resource: csr})
	return nil
}

// createACP creates a policy under the CSE base granting the supplied
// originators everything, owned by the registrant so it is retired with
// it. A leftover policy of the same name is replaced.
func (m *Manager) createACP(ctx context.Context, rn, ownerRI string, originators []string) (*resource.Resource, error) {
	if existing, err := store.ChildByName(ctx, m.store, m.id.ResourceID, rn); err == nil {
		if err := m.engine.Delete(ctx, existing.RI(), m.id.Originator); err != nil {
			return nil, err
		}
	} else if !status.IsNotFound(err) {
		return nil, err
	}

	acor := toAny(append(originators, m.id.Originator))

	acp := resource.New(onem2m.ResourceTypeACP, rn)
	acp.SetAttribute(onem2m.AttrPrivileges, map[string]any{
		onem2m.AttrACRs: []any{map[string]any{
			onem2m.AttrACOriginators: acor,
			onem2m.AttrACOperations:  int64(onem2m.AllPermissions),
		}},
	})
	acp.SetAttribute(onem2m.AttrSelfPrivileges, map[string]any{
		onem2m.AttrACRs: []any{map[string]any{
			onem2m.AttrACOriginators: []any{m.id.Originator},
			onem2m.AttrACOperations:  m.pvsAcop,
		}},
	})
	acp.SetOwnerRI(ownerRI)

	return m.engine.Create(ctx, m.id.ResourceID, acp, m.id.Originator)
}

// SweepExpired retires every resource whose expiration time has passed.
// Descendants of an expired resource go with it, so a hit is re-checked
// against the store before its own deletion. The expiration event follows
// the deletion events.
func (m *Manager) SweepExpired(ctx context.Context) error {
	now := meta.Now(m.clock)
	expired, err := m.store.SearchByFilter(ctx, func(r *resource.Resource) bool {
		et := r.ExpirationTime()
		return et != "" && et < now
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range expired {
		ok, err := m.store.HasResource(ctx, r.RI())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		m.log.Debug("Expiring resource", logging.ForResource(r)...)
		if err := m.engine.Delete(ctx, r.RI(), m.id.Originator); err != nil {
			errs = append(errs, err)
			continue
		}
		m.events.Publish(ctx, event.Expired(r))
	}
	return kerrors.NewAggregate(errs)
}

// matchesAny reports whether v matches one of the supplied glob patterns.
// An empty pattern list matches everything.
func matchesAny(globs []string, v string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if ok, err := path.Match(g, v); err == nil && ok {
			return true
		}
	}
	return false
}

func toAny(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}
