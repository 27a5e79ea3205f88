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

package onem2m

// Universal and common attribute short names, per TS-0004.
const (
	AttrResourceID       = "ri"
	AttrResourceName     = "rn"
	AttrParentID         = "pi"
	AttrResourceType     = "ty"
	AttrCreationTime     = "ct"
	AttrLastModifiedTime = "lt"
	AttrExpirationTime   = "et"
	AttrLabels           = "lbl"
	AttrACPIDs           = "acpi"
	AttrCreator          = "cr"
	AttrAnnounceTo       = "at"
	AttrAnnouncedAttrs   = "aa"
	AttrLink             = "lnk"
)

// Type-specific attribute short names used by the engine.
const (
	// AE
	AttrAEID                  = "aei"
	AttrAppID                 = "api"
	AttrAppName               = "apn"
	AttrRequestReachability   = "rr"
	AttrSupportedReleaseVers  = "srv"
	AttrPointOfAccess         = "poa"
	AttrNodeLink              = "nl"
	AttrContentSerializations = "csz"
	AttrOntologyRef           = "or"

	// CSEBase / remoteCSE
	AttrCSEID        = "csi"
	AttrCSEType      = "cst"
	AttrCSEBase      = "cb"
	AttrSupportedTys = "srt"

	// ACP
	AttrPrivileges     = "pv"
	AttrSelfPrivileges = "pvs"
	AttrACRs           = "acr"
	AttrACOriginators  = "acor"
	AttrACOperations   = "acop"

	// Subscription
	AttrNotificationURIs  = "nu"
	AttrEventNotification = "enc"
	AttrNotEventTypes     = "net"
	AttrNotContentType    = "nct"
	AttrExpirationCounter = "exc"
	AttrSubscriberURI     = "su"

	// Container / contentInstance
	AttrMaxNrOfInstances = "mni"
	AttrMaxByteSize      = "mbs"
	AttrMaxInstanceAge   = "mia"
	AttrCurrentNrOfInst  = "cni"
	AttrCurrentByteSize  = "cbs"
	AttrStateTag         = "st"
	AttrContentInfo      = "cnf"
	AttrContent          = "con"
	AttrContentSize      = "cs"

	// Node / mgmtObj
	AttrNodeID         = "ni"
	AttrMgmtDefinition = "mgd"

	// Request
	AttrRequestStatus   = "rs"
	AttrOperationRes    = "ors"
	AttrMetaInformation = "mi"
	AttrOriginator      = "org"
)
