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
	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

// builtinPolicies returns the policies of the resource types this CSE
// hosts. Attribute sets follow TS-0001 short names; the announced sets
// list the announced-mandatory (always replicated) and announced-optional
// (replicated when named in aa) attributes.
func builtinPolicies() []*Policy {
	return []*Policy{
		{
			Type:      onem2m.ResourceTypeCSEBase,
			Mandatory: []string{onem2m.AttrCSEID},
			Optional: []string{
				onem2m.AttrCSEType, onem2m.AttrSupportedTys,
				onem2m.AttrSupportedReleaseVers, onem2m.AttrPointOfAccess,
			},
			Updatable: true,
		},
		{
			Type:           onem2m.ResourceTypeACP,
			AllowedParents: []onem2m.ResourceType{onem2m.ResourceTypeCSEBase, onem2m.ResourceTypeAE},
			Mandatory:      []string{onem2m.AttrPrivileges, onem2m.AttrSelfPrivileges},
			Updatable:      true,
			Expires:        true,
		},
		{
			Type:           onem2m.ResourceTypeAE,
			AllowedParents: []onem2m.ResourceType{onem2m.ResourceTypeCSEBase},
			Mandatory:      []string{onem2m.AttrAppID, onem2m.AttrRequestReachability},
			Optional: []string{
				onem2m.AttrAppName, onem2m.AttrPointOfAccess,
				onem2m.AttrSupportedReleaseVers, onem2m.AttrNodeLink,
				onem2m.AttrOntologyRef, onem2m.AttrContentSerializations,
			},
			ReadOnly:           []string{onem2m.AttrAEID},
			Updatable:          true,
			CreatorAllowed:     true,
			RegistrationPoint:  true,
			Announceable:       true,
			AnnouncedMandatory: []string{onem2m.AttrAppID},
			AnnouncedOptional: []string{
				onem2m.AttrLabels, onem2m.AttrRequestReachability,
				onem2m.AttrPointOfAccess, onem2m.AttrAppName,
				onem2m.AttrNodeLink, onem2m.AttrOntologyRef,
			},
			Expires: true,
		},
		{
			Type: onem2m.ResourceTypeContainer,
			AllowedParents: []onem2m.ResourceType{
				onem2m.ResourceTypeCSEBase, onem2m.ResourceTypeAE, onem2m.ResourceTypeContainer,
			},
			Optional: []string{
				onem2m.AttrMaxNrOfInstances, onem2m.AttrMaxByteSize,
				onem2m.AttrMaxInstanceAge, onem2m.AttrOntologyRef,
			},
			ReadOnly: []string{
				onem2m.AttrCurrentNrOfInst, onem2m.AttrCurrentByteSize, onem2m.AttrStateTag,
			},
			Updatable:      true,
			CreatorAllowed: true,
			Announceable:   true,
			AnnouncedOptional: []string{
				onem2m.AttrLabels, onem2m.AttrMaxNrOfInstances, onem2m.AttrMaxByteSize,
			},
			Expires: true,
		},
		{
			Type:                      onem2m.ResourceTypeContentInstance,
			AllowedParents:            []onem2m.ResourceType{onem2m.ResourceTypeContainer},
			Mandatory:                 []string{onem2m.AttrContent},
			Optional:                  []string{onem2m.AttrContentInfo, onem2m.AttrOntologyRef},
			ReadOnly:                  []string{onem2m.AttrContentSize, onem2m.AttrStateTag},
			CreatorAllowed:            true,
			Announceable:              true,
			AnnouncedMandatory:        []string{onem2m.AttrContent},
			AnnouncedOptional:         []string{onem2m.AttrLabels, onem2m.AttrContentInfo},
			Expires:                   true,
			ExpirationClampedToParent: true,
		},
		{
			Type: onem2m.ResourceTypeSubscription,
			AllowedParents: []onem2m.ResourceType{
				onem2m.ResourceTypeCSEBase, onem2m.ResourceTypeAE,
				onem2m.ResourceTypeContainer, onem2m.ResourceTypeACP,
				onem2m.ResourceTypeNode, onem2m.ResourceTypeRemoteCSE,
				onem2m.ResourceTypeMgmtObj,
			},
			Mandatory: []string{onem2m.AttrNotificationURIs},
			Optional: []string{
				onem2m.AttrEventNotification, onem2m.AttrExpirationCounter,
				onem2m.AttrNotContentType, onem2m.AttrSubscriberURI,
			},
			Updatable:                 true,
			CreatorAllowed:            true,
			Expires:                   true,
			ExpirationClampedToParent: true,
		},
		{
			Type:           onem2m.ResourceTypeRemoteCSE,
			AllowedParents: []onem2m.ResourceType{onem2m.ResourceTypeCSEBase},
			Mandatory:      []string{onem2m.AttrCSEID, onem2m.AttrCSEBase, onem2m.AttrRequestReachability},
			Optional: []string{
				onem2m.AttrCSEType, onem2m.AttrPointOfAccess,
				onem2m.AttrSupportedReleaseVers, onem2m.AttrNodeLink,
			},
			Updatable:         true,
			RegistrationPoint: true,
			Expires:           true,
		},
		{
			Type:               onem2m.ResourceTypeNode,
			AllowedParents:     []onem2m.ResourceType{onem2m.ResourceTypeCSEBase},
			Mandatory:          []string{onem2m.AttrNodeID},
			Updatable:          true,
			Announceable:       true,
			AnnouncedMandatory: []string{onem2m.AttrNodeID},
			AnnouncedOptional:  []string{onem2m.AttrLabels},
			Expires:            true,
		},
		{
			Type:               onem2m.ResourceTypeMgmtObj,
			AllowedParents:     []onem2m.ResourceType{onem2m.ResourceTypeNode},
			Mandatory:          []string{onem2m.AttrMgmtDefinition},
			FreeAttributes:     true,
			Updatable:          true,
			Announceable:       true,
			AnnouncedMandatory: []string{onem2m.AttrMgmtDefinition},
			Expires:            true,
		},
		{
			Type:           onem2m.ResourceTypeRequest,
			AllowedParents: []onem2m.ResourceType{onem2m.ResourceTypeCSEBase},
			Optional: []string{
				onem2m.AttrRequestStatus, onem2m.AttrOperationRes, onem2m.AttrMetaInformation,
			},
			ReadOnly:          []string{onem2m.AttrOriginator},
			Updatable:         true,
			RegistrationPoint: true,
			Expires:           true,
		},

		// Announced twins hosted by this CSE on behalf of remote originals.
		{
			Type: onem2m.ResourceTypeAEAnnc,
			AllowedParents: []onem2m.ResourceType{
				onem2m.ResourceTypeCSEBase, onem2m.ResourceTypeRemoteCSE,
			},
			Mandatory: []string{onem2m.AttrLink},
			Optional: []string{
				onem2m.AttrAppID, onem2m.AttrAppName, onem2m.AttrRequestReachability,
				onem2m.AttrPointOfAccess, onem2m.AttrNodeLink, onem2m.AttrOntologyRef,
				onem2m.AttrSupportedReleaseVers,
			},
			Updatable: true,
			Expires:   true,
		},
		{
			Type: onem2m.ResourceTypeContainerAnnc,
			AllowedParents: []onem2m.ResourceType{
				onem2m.ResourceTypeCSEBase, onem2m.ResourceTypeRemoteCSE,
				onem2m.ResourceTypeAEAnnc, onem2m.ResourceTypeContainerAnnc,
			},
			Mandatory: []string{onem2m.AttrLink},
			Optional: []string{
				onem2m.AttrMaxNrOfInstances, onem2m.AttrMaxByteSize, onem2m.AttrOntologyRef,
			},
			Updatable: true,
			Expires:   true,
		},
		{
			Type:           onem2m.ResourceTypeContentInstanceAnnc,
			AllowedParents: []onem2m.ResourceType{onem2m.ResourceTypeContainerAnnc},
			Mandatory:      []string{onem2m.AttrLink},
			Optional: []string{
				onem2m.AttrContent, onem2m.AttrContentInfo, onem2m.AttrOntologyRef,
			},
			Updatable: true,
			Expires:   true,
		},
		{
			Type: onem2m.ResourceTypeNodeAnnc,
			AllowedParents: []onem2m.ResourceType{
				onem2m.ResourceTypeCSEBase, onem2m.ResourceTypeRemoteCSE,
			},
			Mandatory: []string{onem2m.AttrLink},
			Optional:  []string{onem2m.AttrNodeID},
			Updatable: true,
			Expires:   true,
		},
		{
			Type: onem2m.ResourceTypeMgmtObjAnnc,
			AllowedParents: []onem2m.ResourceType{
				onem2m.ResourceTypeCSEBase, onem2m.ResourceTypeRemoteCSE,
				onem2m.ResourceTypeNodeAnnc,
			},
			Mandatory:      []string{onem2m.AttrLink, onem2m.AttrMgmtDefinition},
			FreeAttributes: true,
			Updatable:      true,
			Expires:        true,
		},
	}
}
