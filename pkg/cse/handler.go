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

package cse

import (
	"context"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

// Error strings.
const (
	errNilRequest        = "empty request primitive"
	errMissingRQI        = "request identifier is mandatory"
	errMissingOriginator = "originator is mandatory"
	errBadContent        = "primitive content must wrap one resource representation"
)

// HandleRequest serves one inbound request primitive. Transports decode
// their carrier format into a RequestPrimitive and answer with whatever
// comes back; engine errors return as error responses carrying the mapped
// response status code and a m2m:dbg explanation. HandleRequest never
// returns nil.
func (c *CSE) HandleRequest(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	rsp := c.handle(ctx, req)
	if req != nil {
		rsp.RequestIdentifier = req.RequestIdentifier
		rsp.ReleaseVersion = req.ReleaseVersion
		c.ops.RecordOperation(req.Operation, rsp.StatusCode)
	}
	return rsp
}

func (c *CSE) handle(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	if req == nil {
		return onem2m.ErrorResponse(onem2m.StatusBadRequest, "", errNilRequest)
	}
	if req.RequestIdentifier == "" {
		return onem2m.ErrorResponse(onem2m.StatusBadRequest, "", errMissingRQI)
	}

	switch req.Operation {
	case onem2m.OperationCreate:
		return c.create(ctx, req)
	case onem2m.OperationRetrieve:
		if req.FilterCriteria != nil {
			return c.discover(ctx, req)
		}
		return c.retrieve(ctx, req)
	case onem2m.OperationUpdate:
		return c.update(ctx, req)
	case onem2m.OperationDelete:
		return c.delete(ctx, req)
	case onem2m.OperationDiscovery:
		return c.discover(ctx, req)
	case onem2m.OperationNotify:
		// Inbound notifications are acknowledged; forwarding them to a
		// hosted AE's point of access is the embedding transport's concern.
		return &onem2m.ResponsePrimitive{StatusCode: onem2m.StatusOK}
	}
	return onem2m.ErrorResponse(onem2m.StatusBadRequest, req.RequestIdentifier,
		"unsupported operation "+req.Operation.String())
}

func (c *CSE) create(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	r, err := fromContent(req.Content, req.ResourceType)
	if err != nil {
		return c.fail(req, err)
	}
	// An AE may register without an originator; the admission hook assigns
	// one. Everything else must identify itself.
	if req.Originator == "" && r.Type() != onem2m.ResourceTypeAE {
		return onem2m.ErrorResponse(onem2m.StatusBadRequest, req.RequestIdentifier, errMissingOriginator)
	}

	created, err := c.engine.Create(ctx, req.Target, r, req.Originator)
	if err != nil {
		return c.fail(req, err)
	}
	return &onem2m.ResponsePrimitive{
		StatusCode: onem2m.StatusCreated,
		Content:    created.WireRepresentation(),
	}
}

func (c *CSE) retrieve(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	if req.Originator == "" {
		return onem2m.ErrorResponse(onem2m.StatusBadRequest, req.RequestIdentifier, errMissingOriginator)
	}
	r, err := c.engine.Retrieve(ctx, req.Target, req.Originator)
	if err != nil {
		return c.fail(req, err)
	}
	return &onem2m.ResponsePrimitive{
		StatusCode: onem2m.StatusOK,
		Content:    r.WireRepresentation(),
	}
}

func (c *CSE) update(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	if req.Originator == "" {
		return onem2m.ErrorResponse(onem2m.StatusBadRequest, req.RequestIdentifier, errMissingOriginator)
	}
	patch, err := patchContent(req.Content)
	if err != nil {
		return c.fail(req, err)
	}
	updated, err := c.engine.Update(ctx, req.Target, patch, req.Originator)
	if err != nil {
		return c.fail(req, err)
	}
	return &onem2m.ResponsePrimitive{
		StatusCode: onem2m.StatusUpdated,
		Content:    updated.WireRepresentation(),
	}
}

func (c *CSE) delete(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	if req.Originator == "" {
		return onem2m.ErrorResponse(onem2m.StatusBadRequest, req.RequestIdentifier, errMissingOriginator)
	}
	if err := c.engine.Delete(ctx, req.Target, req.Originator); err != nil {
		return c.fail(req, err)
	}
	return &onem2m.ResponsePrimitive{StatusCode: onem2m.StatusDeleted}
}

func (c *CSE) discover(ctx context.Context, req *onem2m.RequestPrimitive) *onem2m.ResponsePrimitive {
	if req.Originator == "" {
		return onem2m.ErrorResponse(onem2m.StatusBadRequest, req.RequestIdentifier, errMissingOriginator)
	}
	paths, err := c.engine.Discover(ctx, req.Target, req.Originator, req.FilterCriteria)
	if err != nil {
		return c.fail(req, err)
	}
	return &onem2m.ResponsePrimitive{
		StatusCode: onem2m.StatusOK,
		Content:    map[string]any{onem2m.URIListKey: toAny(paths)},
	}
}

func (c *CSE) fail(req *onem2m.RequestPrimitive, err error) *onem2m.ResponsePrimitive {
	return onem2m.ErrorResponse(status.CodeOf(err), req.RequestIdentifier, err.Error())
}

// fromContent unpacks a wire representation, {"m2m:ae": {...}}, into a
// resource, reconciling the wrapper key with the primitive's ty parameter.
func fromContent(pc map[string]any, ty onem2m.ResourceType) (*resource.Resource, error) {
	key, attrs, err := unwrap(pc)
	if err != nil {
		return nil, err
	}

	r := resource.FromMap(attrs)
	if kt, ok := onem2m.TypeForKey(key); ok {
		switch {
		case r.Type() == 0:
			r.SetType(kt)
		case r.Type() != kt:
			return nil, status.Errorf(onem2m.StatusBadRequest,
				"content key %s does not match resource type %s", key, r.Type())
		}
	}
	if ty != 0 && r.Type() != 0 && r.Type() != ty {
		return nil, status.Errorf(onem2m.StatusBadRequest,
			"ty parameter %s does not match content type %s", ty, r.Type())
	}
	if r.Type() == 0 {
		if ty == 0 {
			return nil, status.Errorf(onem2m.StatusBadRequest, "resource type is mandatory")
		}
		r.SetType(ty)
	}
	return r, nil
}

// patchContent unpacks an update's wire content into the bare patch.
func patchContent(pc map[string]any) (map[string]any, error) {
	_, patch, err := unwrap(pc)
	return patch, err
}

func unwrap(pc map[string]any) (string, map[string]any, error) {
	if len(pc) != 1 {
		return "", nil, status.New(onem2m.StatusBadRequest, errBadContent)
	}
	for key, v := range pc {
		attrs, ok := v.(map[string]any)
		if !ok {
			return "", nil, status.New(onem2m.StatusBadRequest, errBadContent)
		}
		return key, attrs, nil
	}
	return "", nil, status.New(onem2m.StatusBadRequest, errBadContent)
}
