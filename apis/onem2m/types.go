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

// Package onem2m defines the oneM2M vocabulary shared across the engine:
// resource types, operations, permissions, response status codes, request
// and response primitives, and the notification envelope. All attribute and
// type identifiers use oneM2M short names.
package onem2m

import "strconv"

// A ResourceType identifies a oneM2M resource type (the ty attribute).
type ResourceType int64

// Resource types supported by this CSE implementation.
const (
	ResourceTypeACP             ResourceType = 1
	ResourceTypeAE              ResourceType = 2
	ResourceTypeContainer       ResourceType = 3
	ResourceTypeContentInstance ResourceType = 4
	ResourceTypeCSEBase         ResourceType = 5
	ResourceTypeMgmtObj         ResourceType = 13
	ResourceTypeNode            ResourceType = 14
	ResourceTypeRemoteCSE       ResourceType = 16
	ResourceTypeRequest         ResourceType = 17
	ResourceTypeSubscription    ResourceType = 23
)

// Announced resource type identifiers are derived from their original by a
// fixed offset, per TS-0001.
const announcedOffset ResourceType = 10000

// Announced variants of the announceable resource types.
const (
	ResourceTypeAEAnnc              = ResourceTypeAE + announcedOffset
	ResourceTypeContainerAnnc       = ResourceTypeContainer + announcedOffset
	ResourceTypeContentInstanceAnnc = ResourceTypeContentInstance + announcedOffset
	ResourceTypeMgmtObjAnnc         = ResourceTypeMgmtObj + announcedOffset
	ResourceTypeNodeAnnc            = ResourceTypeNode + announcedOffset
	ResourceTypeRemoteCSEAnnc       = ResourceTypeRemoteCSE + announcedOffset
)

// Announced returns the announced variant of t.
func (t ResourceType) Announced() ResourceType {
	if t.IsAnnounced() {
		return t
	}
	return t + announcedOffset
}

// IsAnnounced returns true if t is an announced variant.
func (t ResourceType) IsAnnounced() bool {
	return t >= announcedOffset
}

// Original returns the original type of an announced variant. It returns t
// unchanged if t is not announced.
func (t ResourceType) Original() ResourceType {
	if !t.IsAnnounced() {
		return t
	}
	return t - announcedOffset
}

var typeKeys = map[ResourceType]string{
	ResourceTypeACP:             "m2m:acp",
	ResourceTypeAE:              "m2m:ae",
	ResourceTypeContainer:       "m2m:cnt",
	ResourceTypeContentInstance: "m2m:cin",
	ResourceTypeCSEBase:         "m2m:cb",
	ResourceTypeMgmtObj:         "m2m:mgo",
	ResourceTypeNode:            "m2m:nod",
	ResourceTypeRemoteCSE:       "m2m:csr",
	ResourceTypeRequest:         "m2m:req",
	ResourceTypeSubscription:    "m2m:sub",
}

// Key returns the short-name wire key of t, e.g. "m2m:ae". Announced
// variants append "A" to the original key, e.g. "m2m:aeA". Unknown types
// map to the empty string.
func (t ResourceType) Key() string {
	if t.IsAnnounced() {
		if k, ok := typeKeys[t.Original()]; ok {
			return k + "A"
		}
		return ""
	}
	return typeKeys[t]
}

// String returns the short-name wire key of t, or its numeric value when t
// is not a known type.
func (t ResourceType) String() string {
	if k := t.Key(); k != "" {
		return k
	}
	return "ty:" + itoa(int64(t))
}

// TypeForKey returns the resource type whose short-name wire key is k,
// accepting announced keys ("m2m:aeA") as well as originals.
func TypeForKey(k string) (ResourceType, bool) {
	for t, key := range typeKeys {
		if k == key {
			return t, true
		}
		if k == key+"A" {
			return t.Announced(), true
		}
	}
	return 0, false
}

// A ManagementDefinition identifies a mgmtObj specialization (the mgd
// attribute).
type ManagementDefinition int64

// Management definitions with first-class wire keys.
const (
	ManagementDefinitionFirmware   ManagementDefinition = 1001
	ManagementDefinitionSoftware   ManagementDefinition = 1002
	ManagementDefinitionMemory     ManagementDefinition = 1003
	ManagementDefinitionBattery    ManagementDefinition = 1006
	ManagementDefinitionDeviceInfo ManagementDefinition = 1007
	ManagementDefinitionReboot     ManagementDefinition = 1009
)

var mgdKeys = map[ManagementDefinition]string{
	ManagementDefinitionFirmware:   "m2m:fwr",
	ManagementDefinitionSoftware:   "m2m:swr",
	ManagementDefinitionMemory:     "m2m:mem",
	ManagementDefinitionBattery:    "m2m:bat",
	ManagementDefinitionDeviceInfo: "m2m:dvi",
	ManagementDefinitionReboot:     "m2m:rbo",
}

// Key returns the specialization wire key of d, e.g. "m2m:bat", or the
// empty string for an unknown definition.
func (d ManagementDefinition) Key() string { return mgdKeys[d] }

// An Operation identifies a oneM2M request operation on a target resource.
type Operation int64

// Request operations.
const (
	OperationCreate    Operation = 1
	OperationRetrieve  Operation = 2
	OperationUpdate    Operation = 3
	OperationDelete    Operation = 4
	OperationNotify    Operation = 5
	OperationDiscovery Operation = 6
)

// String returns the lowercase name of the operation.
func (o Operation) String() string {
	switch o {
	case OperationCreate:
		return "create"
	case OperationRetrieve:
		return "retrieve"
	case OperationUpdate:
		return "update"
	case OperationDelete:
		return "delete"
	case OperationNotify:
		return "notify"
	case OperationDiscovery:
		return "discovery"
	}
	return "op:" + itoa(int64(o))
}

// Permission returns the access-control permission an originator must hold
// to perform o.
func (o Operation) Permission() Permission {
	switch o {
	case OperationCreate:
		return PermissionCreate
	case OperationRetrieve:
		return PermissionRetrieve
	case OperationUpdate:
		return PermissionUpdate
	case OperationDelete:
		return PermissionDelete
	case OperationNotify:
		return PermissionNotify
	case OperationDiscovery:
		return PermissionDiscovery
	}
	return 0
}

// A Permission is a bitmask of allowed operations (the acop attribute).
type Permission int64

// Access-control permissions, per TS-0004 m2m:accessControlOperations.
const (
	PermissionCreate    Permission = 1
	PermissionRetrieve  Permission = 2
	PermissionUpdate    Permission = 4
	PermissionDelete    Permission = 8
	PermissionNotify    Permission = 16
	PermissionDiscovery Permission = 32

	// AllPermissions grants every operation.
	AllPermissions = PermissionCreate | PermissionRetrieve | PermissionUpdate |
		PermissionDelete | PermissionNotify | PermissionDiscovery
)

// Has returns true if p includes all bits of q.
func (p Permission) Has(q Permission) bool { return p&q == q }

// A CSEType identifies the kind of CSE node.
type CSEType int64

// CSE node kinds.
const (
	CSETypeIN  CSEType = 1
	CSETypeMN  CSEType = 2
	CSETypeASN CSEType = 3
)

// String returns the conventional abbreviation for t.
func (t CSEType) String() string {
	switch t {
	case CSETypeIN:
		return "IN"
	case CSETypeMN:
		return "MN"
	case CSETypeASN:
		return "ASN"
	}
	return "cst:" + itoa(int64(t))
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }
