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
	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/json"
)

const (
	errMarshalOld  = "cannot marshal previous representation"
	errMarshalNew  = "cannot marshal new representation"
	errCreatePatch = "cannot compute merge patch"
	errDecodePatch = "cannot decode merge patch"
)

// Apply applies a oneM2M partial update to the resource: each attribute in
// the patch replaces the stored attribute wholesale, and a null value
// removes it. Unlike an RFC 7386 merge, nested structures are not merged;
// oneM2M updates are attribute granular.
func (r *Resource) Apply(patch map[string]any) {
	for k, v := range patch {
		if v == nil {
			delete(r.object, k)
			continue
		}
		r.object[k] = runtime.DeepCopyJSONValue(v)
	}
}

// Diff computes the RFC 7386 merge patch that turns old into new: changed
// and added attributes map to their new values, removed attributes map to
// nil. Announcement reconciliation uses it to build the update sent to
// announced twins.
func Diff(old, new map[string]any) (map[string]any, error) {
	ob, err := json.Marshal(old)
	if err != nil {
		return nil, errors.Wrap(err, errMarshalOld)
	}
	nb, err := json.Marshal(new)
	if err != nil {
		return nil, errors.Wrap(err, errMarshalNew)
	}

	pb, err := jsonpatch.CreateMergePatch(ob, nb)
	if err != nil {
		return nil, errors.Wrap(err, errCreatePatch)
	}

	patch := map[string]any{}
	if err := json.Unmarshal(pb, &patch); err != nil {
		return nil, errors.Wrap(err, errDecodePatch)
	}
	return patch, nil
}
