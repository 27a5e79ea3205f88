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
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

// notAnnounced are attributes that never replicate to a twin, no matter
// what the announced attribute list names: identity and bookkeeping stay
// local.
var notAnnounced = sets.New(
	onem2m.AttrResourceID,
	onem2m.AttrResourceName,
	onem2m.AttrParentID,
	onem2m.AttrResourceType,
	onem2m.AttrCreationTime,
	onem2m.AttrLastModifiedTime,
	onem2m.AttrExpirationTime,
	onem2m.AttrStateTag,
	onem2m.AttrAnnounceTo,
	onem2m.AttrAnnouncedAttrs,
	onem2m.AttrLink,
	onem2m.AttrACPIDs,
	onem2m.AttrCreator,
)

// AnnouncedProjection selects the attributes a twin of res carries: the
// announced-mandatory set of its policy, plus every attribute res names in
// aa that the policy admits for announcement.
func (r *Registry) AnnouncedProjection(res *Resource) (map[string]any, error) {
	p, err := r.Policy(res.Type())
	if err != nil {
		return nil, err
	}
	if !p.Announceable {
		return nil, status.Errorf(onem2m.StatusBadRequest, "%s is not announceable", p.Type)
	}

	out := map[string]any{}
	copyAttr := func(name string) {
		if v, ok := res.Attribute(name); ok {
			out[name] = runtime.DeepCopyJSONValue(v)
		}
	}
	for _, name := range p.AnnouncedMandatory {
		copyAttr(name)
	}
	for _, name := range res.AnnouncedAttrs() {
		if p.aaAllowed.Has(name) || (p.FreeAttributes && !notAnnounced.Has(name)) {
			copyAttr(name)
		}
	}
	return out, nil
}

// AnnouncedTwin builds the announced representation of res: a resource of
// the announced variant type carrying the link to the original, the
// original's expiration time, and the announced projection of its
// attributes. The receiving CSE assigns ri, rn, pi and the lifecycle
// timestamps.
func (r *Registry) AnnouncedTwin(res *Resource, lnk string) (*Resource, error) {
	attrs, err := r.AnnouncedProjection(res)
	if err != nil {
		return nil, err
	}

	twin := New(res.Type().Announced(), "")
	twin.SetAttribute(onem2m.AttrLink, lnk)
	if et := res.ExpirationTime(); et != "" {
		twin.SetExpirationTime(et)
	}
	for name, v := range attrs {
		twin.SetAttribute(name, v)
	}
	return twin, nil
}

// ValidateAnnouncedAttrs checks that every attribute res names in aa is an
// announced-optional attribute of its type. Types with free attributes may
// name anything but identity and bookkeeping attributes.
func (r *Registry) ValidateAnnouncedAttrs(res *Resource) error {
	aa := res.AnnouncedAttrs()
	if len(aa) == 0 {
		return nil
	}

	p, err := r.Policy(res.Type())
	if err != nil {
		return err
	}
	if !p.Announceable {
		return status.Errorf(onem2m.StatusBadRequest, "%s is not announceable", p.Type)
	}
	for _, name := range aa {
		if p.FreeAttributes && !notAnnounced.Has(name) {
			continue
		}
		if !p.aaAllowed.Has(name) {
			return status.Errorf(onem2m.StatusBadRequest, "attribute %q of %s cannot be announced", name, p.Type)
		}
	}
	return nil
}
