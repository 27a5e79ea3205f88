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

package logging

import (
	"github.com/onem2m-go/cse-runtime/apis/onem2m"
)

// An Identified resource can identify itself for logging.
type Identified interface {
	RI() string
	RN() string
	PI() string
	Type() onem2m.ResourceType
}

// ForResource returns canonical logging values for a resource.
func ForResource(r Identified) []any {
	ret := make([]any, 0, 8)
	ret = append(ret,
		"ri", r.RI(),
		"rn", r.RN(),
		"ty", r.Type().String(),
	)
	if pi := r.PI(); pi != "" {
		ret = append(ret, "pi", pi)
	}

	return ret
}
