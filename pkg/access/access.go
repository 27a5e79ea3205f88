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

// Package access evaluates whether an originator may perform an operation
// on a resource, driven by accessControlPolicy resources.
package access

import (
	"context"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/meta"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
	"github.com/onem2m-go/cse-runtime/pkg/store"
)

// WildcardOriginator matches any originator in an access control rule.
const WildcardOriginator = "all"

// An EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithLogger configures how the Evaluator logs.
func WithLogger(l logging.Logger) EvaluatorOption {
	return func(e *Evaluator) {
		e.log = l
	}
}

// An Evaluator decides access. The decision is driven entirely by the
// accessControlPolicy resources in the store; the only originator with
// implicit privileges is the CSE itself.
type Evaluator struct {
	store         store.Store
	cseOriginator string
	log           logging.Logger
}

// NewEvaluator returns an Evaluator that grants the supplied CSE
// originator everything and everyone else only what a policy allows.
func NewEvaluator(s store.Store, cseOriginator string, o ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		store:         s,
		cseOriginator: meta.NormalizeOriginator(cseOriginator),
		log:           logging.NewNopLogger(),
	}
	for _, fn := range o {
		fn(e)
	}
	return e
}

// Allowed returns nil if the originator may perform the operation on the
// resource, and an ORIGINATOR_HAS_NO_PRIVILEGE error otherwise.
//
// The CSE's own originator is always allowed. An accessControlPolicy
// guards itself through pvs. Every other resource is guarded by the
// policies its acpi references, inherited from the nearest ancestor
// bearing acpi when it has none.
func (e *Evaluator) Allowed(ctx context.Context, res *resource.Resource, originator string, op onem2m.Operation) error {
	originator = meta.NormalizeOriginator(originator)
	if originator == e.cseOriginator {
		return nil
	}

	if res.Type() == onem2m.ResourceTypeACP {
		if pvs, ok := res.Attribute(onem2m.AttrSelfPrivileges); ok && permits(pvs, originator, op) {
			return nil
		}
		return e.deny(res, originator, op)
	}

	ids, err := e.policyIDs(ctx, res)
	if err != nil {
		return err
	}
	for _, id := range ids {
		acp, err := e.store.Retrieve(ctx, id)
		if err != nil {
			if status.IsNotFound(err) {
				e.log.Debug("Referenced access control policy not found", "acpi", id, "ri", res.RI())
				continue
			}
			return err
		}
		if pv, ok := acp.Attribute(onem2m.AttrPrivileges); ok && permits(pv, originator, op) {
			return nil
		}
	}
	return e.deny(res, originator, op)
}

// policyIDs returns the resource's acpi, or the first ancestor's when the
// resource bears none.
func (e *Evaluator) policyIDs(ctx context.Context, res *resource.Resource) ([]string, error) {
	if ids := res.ACPIDs(); len(ids) > 0 {
		return ids, nil
	}
	for pi := res.PI(); pi != ""; {
		parent, err := e.store.Retrieve(ctx, pi)
		if err != nil {
			if status.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		if ids := parent.ACPIDs(); len(ids) > 0 {
			return ids, nil
		}
		pi = parent.PI()
	}
	return nil, nil
}

func (e *Evaluator) deny(res *resource.Resource, originator string, op onem2m.Operation) error {
	e.log.Debug("Access denied", "originator", originator, "operation", op.String(), "ri", res.RI())
	return status.Errorf(onem2m.StatusOriginatorHasNoPrivilege,
		"originator %s has no %s privilege on %s", originator, op, res.RI())
}

// permits reports whether any access control rule in the supplied
// privilege set matches the originator and grants the operation.
func permits(privileges any, originator string, op onem2m.Operation) bool {
	pv, ok := privileges.(map[string]any)
	if !ok {
		return false
	}
	rules, ok := pv[onem2m.AttrACRs].([]any)
	if !ok {
		return false
	}
	for _, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if !matchesOriginator(rule[onem2m.AttrACOriginators], originator) {
			continue
		}
		acop, ok := toPermission(rule[onem2m.AttrACOperations])
		if !ok {
			continue
		}
		if acop.Has(op.Permission()) {
			return true
		}
	}
	return false
}

func matchesOriginator(acor any, originator string) bool {
	list, ok := acor.([]any)
	if !ok {
		return false
	}
	for _, raw := range list {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if s == WildcardOriginator || meta.NormalizeOriginator(s) == originator {
			return true
		}
	}
	return false
}

func toPermission(v any) (onem2m.Permission, bool) {
	switch n := v.(type) {
	case int64:
		return onem2m.Permission(n), true
	case int:
		return onem2m.Permission(n), true
	case float64:
		return onem2m.Permission(n), true
	}
	return 0, false
}
