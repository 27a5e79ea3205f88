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

package resource

import (
	"sort"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

// universalAttrs are accepted on every resource type.
var universalAttrs = sets.New(
	onem2m.AttrResourceID,
	onem2m.AttrResourceName,
	onem2m.AttrParentID,
	onem2m.AttrResourceType,
	onem2m.AttrCreationTime,
	onem2m.AttrLastModifiedTime,
	onem2m.AttrExpirationTime,
	onem2m.AttrLabels,
	onem2m.AttrACPIDs,
)

// A Policy describes one resource type: where it may live in the tree,
// which attributes it carries, and how it announces. Policies are the data
// the dispatcher, registration manager and announcement manager consume;
// adding a resource type means registering a policy, not changing engine
// code.
type Policy struct {
	// Type is the resource type this policy describes.
	Type onem2m.ResourceType

	// AllowedParents lists the types this resource may be created under.
	// Empty means the type cannot be created through a request, e.g. the
	// CSEBase root.
	AllowedParents []onem2m.ResourceType

	// Mandatory lists attributes that must be present once server-assigned
	// attributes are filled in.
	Mandatory []string

	// Optional lists attributes a client may supply beyond the universal
	// and mandatory ones.
	Optional []string

	// ReadOnly lists attributes the server maintains. A client update
	// naming one is rejected.
	ReadOnly []string

	// Updatable is false for resource types that reject updates outright,
	// e.g. contentInstance.
	Updatable bool

	// CreatorAllowed marks types on which a create request may carry a
	// null creator attribute to ask the CSE to record the originator.
	CreatorAllowed bool

	// RegistrationPoint marks types whose creation registers an entity
	// with the CSE. Their creates are gated by the registration
	// allowlists instead of access control policies, since the
	// originator holds no privileges before it is registered.
	RegistrationPoint bool

	// Announceable marks types that may carry at and aa.
	Announceable bool

	// AnnouncedMandatory lists attributes every announced twin carries.
	AnnouncedMandatory []string

	// AnnouncedOptional lists attributes replicated only when named in aa.
	AnnouncedOptional []string

	// FreeAttributes admits attributes beyond the declared sets, for
	// specialization-bearing types such as mgmtObj. When set together with
	// Announceable, aa may name any present attribute.
	FreeAttributes bool

	// Expires is false for types that never carry an expiration time.
	Expires bool

	// ExpirationClampedToParent caps the expiration time at the parent's
	// for types that cannot outlive their parent.
	ExpirationClampedToParent bool

	mandatory sets.Set[string]
	optional  sets.Set[string]
	readOnly  sets.Set[string]
	announced sets.Set[string]
	aaAllowed sets.Set[string]
}

func (p *Policy) compile() {
	p.mandatory = sets.New(p.Mandatory...)
	p.optional = sets.New(p.Optional...)
	p.readOnly = sets.New(p.ReadOnly...)
	p.announced = sets.New(p.AnnouncedMandatory...)
	p.aaAllowed = sets.New(p.AnnouncedOptional...)
}

// allows returns true if the policy admits the named attribute.
func (p *Policy) allows(name string) bool {
	if p.FreeAttributes {
		return true
	}
	if universalAttrs.Has(name) || p.mandatory.Has(name) || p.optional.Has(name) || p.readOnly.Has(name) {
		return true
	}
	if p.Announceable && (name == onem2m.AttrAnnounceTo || name == onem2m.AttrAnnouncedAttrs) {
		return true
	}
	if p.CreatorAllowed && name == onem2m.AttrCreator {
		return true
	}
	return false
}

// A Registry holds the resource type policies and the parent/child
// compatibility they imply.
type Registry struct {
	mu       sync.RWMutex
	policies map[onem2m.ResourceType]*Policy
	children map[onem2m.ResourceType]sets.Set[onem2m.ResourceType]
}

// NewRegistry returns a registry pre-populated with the built-in resource
// type policies.
func NewRegistry() *Registry {
	r := &Registry{
		policies: map[onem2m.ResourceType]*Policy{},
		children: map[onem2m.ResourceType]sets.Set[onem2m.ResourceType]{},
	}
	for _, p := range builtinPolicies() {
		// builtins are known to be unique.
		_ = r.Register(p)
	}
	return r
}

// Register adds a policy to the registry. Registering a type twice is an
// error.
func (r *Registry) Register(p *Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.policies[p.Type]; ok {
		return status.Errorf(onem2m.StatusConflict, "type %s already registered", p.Type)
	}
	p.compile()
	r.policies[p.Type] = p
	for _, parent := range p.AllowedParents {
		if r.children[parent] == nil {
			r.children[parent] = sets.New[onem2m.ResourceType]()
		}
		r.children[parent].Insert(p.Type)
	}
	return nil
}

// Policy returns the policy for the supplied type.
func (r *Registry) Policy(ty onem2m.ResourceType) (*Policy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.policies[ty]
	if !ok {
		return nil, status.Errorf(onem2m.StatusBadRequest, "unsupported resource type %s", ty)
	}
	return p, nil
}

// Types returns the registered resource types in ascending order.
func (r *Registry) Types() []onem2m.ResourceType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]onem2m.ResourceType, 0, len(r.policies))
	for ty := range r.policies {
		out = append(out, ty)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CanHaveChild returns true if a resource of type child may be created
// under a resource of type parent.
func (r *Registry) CanHaveChild(parent, child onem2m.ResourceType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cs, ok := r.children[parent]
	return ok && cs.Has(child)
}

// ValidateCreate checks a resource against its policy after the server has
// assigned its identifiers: every attribute must be admitted and every
// mandatory attribute present.
func (r *Registry) ValidateCreate(res *Resource) error {
	p, err := r.Policy(res.Type())
	if err != nil {
		return err
	}

	for name := range res.Object() {
		if isInternal(name) {
			continue
		}
		if !p.allows(name) {
			return status.Errorf(onem2m.StatusBadRequest, "attribute %q not defined for %s", name, p.Type)
		}
	}
	for name := range p.mandatory {
		if !res.HasAttribute(name) {
			return status.Errorf(onem2m.StatusBadRequest, "mandatory attribute %q missing on %s", name, p.Type)
		}
	}
	return nil
}

// ValidateUpdate checks an update patch against the target's policy:
// the type must be updatable, and the patch must neither touch read-only
// or universal server-assigned attributes nor introduce ones the type does
// not define. Removing a mandatory attribute is rejected.
func (r *Registry) ValidateUpdate(res *Resource, patch map[string]any) error {
	p, err := r.Policy(res.Type())
	if err != nil {
		return err
	}
	if !p.Updatable {
		return status.Errorf(onem2m.StatusOperationNotAllowed, "%s does not support update", p.Type)
	}

	for name, v := range patch {
		if isInternal(name) || immutableAttrs.Has(name) {
			return status.Errorf(onem2m.StatusBadRequest, "attribute %q cannot be updated", name)
		}
		if p.readOnly.Has(name) {
			return status.Errorf(onem2m.StatusBadRequest, "attribute %q is read-only on %s", name, p.Type)
		}
		if !p.allows(name) {
			return status.Errorf(onem2m.StatusBadRequest, "attribute %q not defined for %s", name, p.Type)
		}
		if v == nil && p.mandatory.Has(name) {
			return status.Errorf(onem2m.StatusBadRequest, "mandatory attribute %q cannot be removed", name)
		}
	}
	return nil
}

// immutableAttrs are server-assigned on create and rejected in any patch.
var immutableAttrs = sets.New(
	onem2m.AttrResourceID,
	onem2m.AttrResourceName,
	onem2m.AttrParentID,
	onem2m.AttrResourceType,
	onem2m.AttrCreationTime,
	onem2m.AttrLastModifiedTime,
	onem2m.AttrCreator,
)

func isInternal(name string) bool {
	return len(name) >= len(internalPrefix) && name[:len(internalPrefix)] == internalPrefix
}
