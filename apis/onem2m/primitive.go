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

// X-M2M header names used by the HTTP binding, per TS-0009.
const (
	HeaderOrigin                  = "X-M2M-Origin"
	HeaderRequestIdentifier       = "X-M2M-RI"
	HeaderReleaseVersionIndicator = "X-M2M-RVI"
	HeaderEventCategory           = "X-M2M-EC"
	HeaderResponseStatusCode      = "X-M2M-RSC"
	HeaderRequestExpiration       = "X-M2M-RET"
	HeaderResultExpiration        = "X-M2M-RST"
	HeaderOperationExecutionTime  = "X-M2M-OET"
	HeaderOriginatingTimestamp    = "X-M2M-OT"
	HeaderResponseTypeURIs        = "X-M2M-RTU"
	HeaderVendorInformation       = "X-M2M-VSI"
)

// DebugKey is the wire key under which error details travel in a response
// primitive's content.
const DebugKey = "m2m:dbg"

// URIListKey is the wire key under which discovery results travel in a
// response primitive's content.
const URIListKey = "m2m:uril"

// ReleaseVersion is the oneM2M release version this CSE indicates on
// outbound requests.
const ReleaseVersion = "3"

// supportedSchemes lists the URI schemes outbound requests may target. The
// acme scheme addresses in-process handlers and exists for loopback targets
// and tests.
var supportedSchemes = []string{"http", "https", "mqtt", "mqtts", "acme"}

// IsSupportedScheme returns true if s is a URI scheme this CSE can deliver
// requests to.
func IsSupportedScheme(s string) bool {
	for _, v := range supportedSchemes {
		if v == s {
			return true
		}
	}
	return false
}

// SupportedSchemes returns the URI schemes outbound requests may target.
func SupportedSchemes() []string {
	out := make([]string, len(supportedSchemes))
	copy(out, supportedSchemes)
	return out
}

// FilterCriteria narrows a discovery operation (the fc parameter).
type FilterCriteria struct {
	// ResourceTypes restricts matches to the listed types (ty).
	ResourceTypes []ResourceType `json:"ty,omitempty"`

	// Labels restricts matches to resources carrying at least one of the
	// listed labels (lbl).
	Labels []string `json:"lbl,omitempty"`

	// Attributes restricts matches to resources whose named attributes
	// equal the given values.
	Attributes map[string]any `json:"atr,omitempty"`

	// Limit caps the number of returned matches; zero means unlimited.
	Limit int `json:"lim,omitempty"`
}

// A RequestPrimitive is the transport-independent form of an incoming
// oneM2M request. Transports map their carrier fields (for HTTP: X-M2M
// headers, method, path and body) onto this structure.
type RequestPrimitive struct {
	Operation         Operation    `json:"op"`
	Target            string       `json:"to"`
	Originator        string       `json:"fr,omitempty"`
	RequestIdentifier string       `json:"rqi"`
	ReleaseVersion    string       `json:"rvi,omitempty"`
	ResourceType      ResourceType `json:"ty,omitempty"`

	// Content is the primitive content (pc): the resource representation
	// for create, the patch for update.
	Content map[string]any `json:"pc,omitempty"`

	// FilterCriteria applies to discovery operations.
	FilterCriteria *FilterCriteria `json:"fc,omitempty"`

	EventCategory          string   `json:"ec,omitempty"`
	RequestExpiration      string   `json:"rqet,omitempty"`
	ResultExpiration       string   `json:"rset,omitempty"`
	OperationExecutionTime string   `json:"oet,omitempty"`
	OriginatingTimestamp   string   `json:"ot,omitempty"`
	ResponseTypeURIs       []string `json:"rtu,omitempty"`
	VendorInformation      string   `json:"vsi,omitempty"`
}

// A ResponsePrimitive is the transport-independent form of a oneM2M
// response.
type ResponsePrimitive struct {
	StatusCode        StatusCode     `json:"rsc"`
	RequestIdentifier string         `json:"rqi,omitempty"`
	ReleaseVersion    string         `json:"rvi,omitempty"`
	Content           map[string]any `json:"pc,omitempty"`
	VendorInformation string         `json:"vsi,omitempty"`
}

// ErrorResponse builds a response primitive carrying an error status and a
// m2m:dbg explanation.
func ErrorResponse(code StatusCode, rqi, msg string) *ResponsePrimitive {
	rsp := &ResponsePrimitive{StatusCode: code, RequestIdentifier: rqi}
	if msg != "" {
		rsp.Content = map[string]any{DebugKey: msg}
	}
	return rsp
}
