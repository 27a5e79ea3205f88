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

// Package resource implements the oneM2M resource model: an attribute bag
// keyed by short names, with typed accessors for the universal attributes,
// plus the type registry that drives validation, parent/child compatibility
// and announcement attribute selection.
package resource

import (
	"strings"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

// internalPrefix marks attributes the engine keeps on the stored document
// but never exposes on the wire.
const internalPrefix = "__"

// attrOwner is the owner link: the ri of the resource on whose behalf the
// engine created this one. The dispatcher's delete cascade removes owned
// resources together with their owner.
const attrOwner = internalPrefix + "owner__"

// A Resource is a oneM2M resource: a document of attributes keyed by short
// name. The zero value is not usable; use New or FromMap.
type Resource struct {
	object map[string]any
}

// New returns a resource of the supplied type with the supplied resource
// name.
func New(ty onem2m.ResourceType, rn string) *Resource {
	r := &Resource{object: map[string]any{}}
	r.SetType(ty)
	if rn != "" {
		r.SetRN(rn)
	}
	return r
}

// FromMap wraps the supplied attribute map as a Resource. The resource
// takes ownership of the map.
func FromMap(m map[string]any) *Resource {
	if m == nil {
		m = map[string]any{}
	}
	return &Resource{object: m}
}

// Object returns the underlying attribute map, including internal
// attributes. Mutations are visible to the resource.
func (r *Resource) Object() map[string]any { return r.object }

// DeepCopy returns a deep copy of the resource.
func (r *Resource) DeepCopy() *Resource {
	return &Resource{object: runtime.DeepCopyJSON(r.object)}
}

// Attribute returns the named attribute and whether it is present.
func (r *Resource) Attribute(name string) (any, bool) {
	v, ok := r.object[name]
	return v, ok
}

// SetAttribute sets the named attribute. The resource takes ownership of
// the value.
func (r *Resource) SetAttribute(name string, v any) {
	r.object[name] = v
}

// RemoveAttribute removes the named attribute.
func (r *Resource) RemoveAttribute(name string) {
	delete(r.object, name)
}

// HasAttribute returns true if the named attribute is present.
func (r *Resource) HasAttribute(name string) bool {
	_, ok := r.object[name]
	return ok
}

// StringAttribute returns the named attribute as a string.
func (r *Resource) StringAttribute(name string) (string, bool) {
	s, ok := r.object[name].(string)
	return s, ok
}

// IntAttribute returns the named attribute as an int64, converting the
// numeric representations a JSON round trip may produce.
func (r *Resource) IntAttribute(name string) (int64, bool) {
	v, ok := r.object[name]
	if !ok {
		return 0, false
	}
	return toInt64(v)
}

// BoolAttribute returns the named attribute as a bool.
func (r *Resource) BoolAttribute(name string) (bool, bool) {
	b, ok := r.object[name].(bool)
	return b, ok
}

// StringsAttribute returns the named attribute as a string slice,
// converting the []any representation a JSON round trip produces.
func (r *Resource) StringsAttribute(name string) ([]string, bool) {
	switch v := r.object[name].(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

// RI returns the resource identifier.
func (r *Resource) RI() string { s, _ := r.StringAttribute(onem2m.AttrResourceID); return s }

// SetRI sets the resource identifier.
func (r *Resource) SetRI(ri string) { r.SetAttribute(onem2m.AttrResourceID, ri) }

// RN returns the resource name.
func (r *Resource) RN() string { s, _ := r.StringAttribute(onem2m.AttrResourceName); return s }

// SetRN sets the resource name.
func (r *Resource) SetRN(rn string) { r.SetAttribute(onem2m.AttrResourceName, rn) }

// PI returns the parent resource identifier, empty for the root.
func (r *Resource) PI() string { s, _ := r.StringAttribute(onem2m.AttrParentID); return s }

// SetPI sets the parent resource identifier.
func (r *Resource) SetPI(pi string) { r.SetAttribute(onem2m.AttrParentID, pi) }

// Type returns the resource type, or zero when absent or malformed.
func (r *Resource) Type() onem2m.ResourceType {
	n, _ := r.IntAttribute(onem2m.AttrResourceType)
	return onem2m.ResourceType(n)
}

// SetType sets the resource type.
func (r *Resource) SetType(ty onem2m.ResourceType) {
	r.SetAttribute(onem2m.AttrResourceType, int64(ty))
}

// CreationTime returns the creation timestamp.
func (r *Resource) CreationTime() string {
	s, _ := r.StringAttribute(onem2m.AttrCreationTime)
	return s
}

// SetCreationTime sets the creation timestamp.
func (r *Resource) SetCreationTime(ts string) { r.SetAttribute(onem2m.AttrCreationTime, ts) }

// LastModifiedTime returns the last modification timestamp.
func (r *Resource) LastModifiedTime() string {
	s, _ := r.StringAttribute(onem2m.AttrLastModifiedTime)
	return s
}

// SetLastModifiedTime sets the last modification timestamp.
func (r *Resource) SetLastModifiedTime(ts string) {
	r.SetAttribute(onem2m.AttrLastModifiedTime, ts)
}

// ExpirationTime returns the expiration timestamp, empty for resources
// that do not expire.
func (r *Resource) ExpirationTime() string {
	s, _ := r.StringAttribute(onem2m.AttrExpirationTime)
	return s
}

// SetExpirationTime sets the expiration timestamp.
func (r *Resource) SetExpirationTime(ts string) {
	r.SetAttribute(onem2m.AttrExpirationTime, ts)
}

// Labels returns the lbl attribute.
func (r *Resource) Labels() []string {
	ls, _ := r.StringsAttribute(onem2m.AttrLabels)
	return ls
}

// ACPIDs returns the acpi attribute: the access control policies governing
// this resource.
func (r *Resource) ACPIDs() []string {
	ids, _ := r.StringsAttribute(onem2m.AttrACPIDs)
	return ids
}

// Creator returns the cr attribute.
func (r *Resource) Creator() string {
	s, _ := r.StringAttribute(onem2m.AttrCreator)
	return s
}

// SetCreator sets the cr attribute.
func (r *Resource) SetCreator(originator string) {
	r.SetAttribute(onem2m.AttrCreator, originator)
}

// AnnounceTo returns the at attribute: the announcement targets, mixed
// with the engine's delivery confirmations of the form
// "<remoteID>/<announced-ri>".
func (r *Resource) AnnounceTo() []string {
	ts, _ := r.StringsAttribute(onem2m.AttrAnnounceTo)
	return ts
}

// SetAnnounceTo sets the at attribute. An empty slice removes it.
func (r *Resource) SetAnnounceTo(targets []string) {
	if len(targets) == 0 {
		r.RemoveAttribute(onem2m.AttrAnnounceTo)
		return
	}
	r.SetAttribute(onem2m.AttrAnnounceTo, toAnySlice(targets))
}

// AnnouncedAttrs returns the aa attribute: the optional attributes to
// replicate to announced twins.
func (r *Resource) AnnouncedAttrs() []string {
	as, _ := r.StringsAttribute(onem2m.AttrAnnouncedAttrs)
	return as
}

// OwnerRI returns the owner link, empty when the resource was not created
// on another resource's behalf.
func (r *Resource) OwnerRI() string {
	s, _ := r.StringAttribute(attrOwner)
	return s
}

// SetOwnerRI sets the owner link.
func (r *Resource) SetOwnerRI(ri string) { r.SetAttribute(attrOwner, ri) }

// OwnerAttr is the document field the owner link is stored under, for
// store queries.
func OwnerAttr() string { return attrOwner }

// TypeKey returns the wire key of the resource, e.g. "m2m:ae". MgmtObj
// resources use their specialization key when the mgd attribute names a
// known management definition, e.g. "m2m:bat".
func (r *Resource) TypeKey() string {
	ty := r.Type()
	if ty.Original() == onem2m.ResourceTypeMgmtObj {
		if mgd, ok := r.IntAttribute(onem2m.AttrMgmtDefinition); ok {
			if k := onem2m.ManagementDefinition(mgd).Key(); k != "" {
				if ty.IsAnnounced() {
					return k + "A"
				}
				return k
			}
		}
	}
	return ty.Key()
}

// WireAttributes returns a deep copy of the attributes with internal
// attributes stripped, ready for a client-facing representation.
func (r *Resource) WireAttributes() map[string]any {
	out := runtime.DeepCopyJSON(r.object)
	for k := range out {
		if strings.HasPrefix(k, internalPrefix) {
			delete(out, k)
		}
	}
	return out
}

// WireRepresentation returns the client-facing representation of the
// resource, wrapped under its type key.
func (r *Resource) WireRepresentation() map[string]any {
	return map[string]any{r.TypeKey(): r.WireAttributes()}
}

// MarshalJSON marshals the wire representation.
func (r *Resource) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.WireRepresentation())
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case onem2m.ResourceType:
		return int64(n), true
	}
	return 0, false
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
