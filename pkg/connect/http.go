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

package connect

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

const (
	contentTypeJSON = "application/json"

	// maxResponseBody bounds how much of a target's response is read.
	maxResponseBody = 1 << 20
)

// defaultHTTPTimeout bounds one request when the caller's context carries
// no earlier deadline.
const defaultHTTPTimeout = 5 * time.Second

// An HTTPOption configures an HTTPBinding.
type HTTPOption func(*HTTPBinding)

// WithHTTPClient configures the client requests are sent with.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(b *HTTPBinding) {
		b.client = c
	}
}

// WithHTTPTimeout bounds one request.
func WithHTTPTimeout(d time.Duration) HTTPOption {
	return func(b *HTTPBinding) {
		b.timeout = d
	}
}

// WithHTTPLogger configures how the binding logs.
func WithHTTPLogger(l logging.Logger) HTTPOption {
	return func(b *HTTPBinding) {
		b.log = l
	}
}

// An HTTPBinding delivers requests over http and https, mapping the
// primitive onto X-M2M headers per TS-0009.
type HTTPBinding struct {
	origin  string
	client  *http.Client
	timeout time.Duration
	log     logging.Logger
}

// NewHTTPBinding returns a binding that sends requests as the supplied
// originator.
func NewHTTPBinding(origin string, o ...HTTPOption) *HTTPBinding {
	b := &HTTPBinding{
		origin:  origin,
		client:  http.DefaultClient,
		timeout: defaultHTTPTimeout,
		log:     logging.NewNopLogger(),
	}
	for _, fn := range o {
		fn(b)
	}
	return b
}

// Notify delivers a notification with POST.
func (b *HTTPBinding) Notify(ctx context.Context, target string, n *onem2m.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return status.Wrap(err, onem2m.StatusInternalServerError, errMarshalContent)
	}
	rsp, err := b.do(ctx, http.MethodPost, target, contentTypeJSON, body)
	if err != nil {
		return err
	}
	return responseError(rsp)
}

// CreateResource creates r under parentID at the target and returns the
// assigned resource identifier.
func (b *HTTPBinding) CreateResource(ctx context.Context, target, parentID string, r *resource.Resource) (string, error) {
	body, err := json.Marshal(r.WireRepresentation())
	if err != nil {
		return "", status.Wrap(err, onem2m.StatusInternalServerError, errMarshalContent)
	}
	ct := contentTypeJSON + ";ty=" + strconv.FormatInt(int64(r.Type()), 10)
	rsp, err := b.do(ctx, http.MethodPost, join(target, parentID), ct, body)
	if err != nil {
		return "", err
	}
	if err := responseError(rsp); err != nil {
		return "", err
	}
	return createdRI(rsp.Content)
}

// UpdateResource applies the supplied content with PUT.
func (b *HTTPBinding) UpdateResource(ctx context.Context, target, id string, content map[string]any) error {
	body, err := json.Marshal(content)
	if err != nil {
		return status.Wrap(err, onem2m.StatusInternalServerError, errMarshalContent)
	}
	rsp, err := b.do(ctx, http.MethodPut, join(target, id), contentTypeJSON, body)
	if err != nil {
		return err
	}
	return responseError(rsp)
}

// DeleteResource deletes the identified resource.
func (b *HTTPBinding) DeleteResource(ctx context.Context, target, id string) error {
	rsp, err := b.do(ctx, http.MethodDelete, join(target, id), contentTypeJSON, nil)
	if err != nil {
		return err
	}
	return responseError(rsp)
}

func (b *HTTPBinding) do(ctx context.Context, method, url, contentType string, body []byte) (onem2m.ResponsePrimitive, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return onem2m.ResponsePrimitive{}, status.Wrap(err, onem2m.StatusBadRequest, "invalid target URI")
	}
	rqi := uuid.NewString()
	req.Header.Set(onem2m.HeaderOrigin, b.origin)
	req.Header.Set(onem2m.HeaderRequestIdentifier, rqi)
	req.Header.Set(onem2m.HeaderReleaseVersionIndicator, onem2m.ReleaseVersion)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentTypeJSON)

	b.log.Debug("Sending request", "method", method, "target", url, "rqi", rqi)
	res, err := b.client.Do(req)
	if err != nil {
		return onem2m.ResponsePrimitive{}, status.Wrap(err, onem2m.StatusTargetNotReachable, "cannot reach target")
	}
	defer res.Body.Close() //nolint:errcheck // Nothing to do about a failed close here.

	return b.response(res)
}

// response maps an HTTP response onto a response primitive: the X-M2M-RSC
// header when present, the HTTP status class otherwise.
func (b *HTTPBinding) response(res *http.Response) (onem2m.ResponsePrimitive, error) {
	rsp := onem2m.ResponsePrimitive{
		RequestIdentifier: res.Header.Get(onem2m.HeaderRequestIdentifier),
	}
	if v := res.Header.Get(onem2m.HeaderResponseStatusCode); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return rsp, status.Wrap(err, onem2m.StatusTargetNotReachable, "target sent a malformed response status")
		}
		rsp.StatusCode = onem2m.StatusCode(n)
	} else {
		rsp.StatusCode = statusFromHTTP(res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBody))
	if err != nil {
		return rsp, status.Wrap(err, onem2m.StatusTargetNotReachable, "cannot read target response")
	}
	if len(body) > 0 {
		var pc map[string]any
		if err := json.Unmarshal(body, &pc); err == nil {
			rsp.Content = pc
		}
	}
	return rsp, nil
}

// statusFromHTTP approximates a oneM2M status code for targets that do not
// send X-M2M-RSC.
func statusFromHTTP(code int) onem2m.StatusCode {
	switch {
	case code >= 200 && code < 300:
		return onem2m.StatusOK
	case code == http.StatusNotFound:
		return onem2m.StatusNotFound
	case code == http.StatusForbidden:
		return onem2m.StatusOriginatorHasNoPrivilege
	case code == http.StatusConflict:
		return onem2m.StatusConflict
	case code >= 400 && code < 500:
		return onem2m.StatusBadRequest
	default:
		return onem2m.StatusInternalServerError
	}
}

func join(target, id string) string {
	if id == "" {
		return target
	}
	return strings.TrimSuffix(target, "/") + "/" + id
}
