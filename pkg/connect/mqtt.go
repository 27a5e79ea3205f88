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
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/util/json"

	"github.com/onem2m-go/cse-runtime/apis/onem2m"
	"github.com/onem2m-go/cse-runtime/pkg/logging"
	"github.com/onem2m-go/cse-runtime/pkg/resource"
	"github.com/onem2m-go/cse-runtime/pkg/status"
)

// defaultMQTTTimeout bounds one request, connect included.
const defaultMQTTTimeout = 10 * time.Second

// An MQTTOption configures an MQTTBinding.
type MQTTOption func(*MQTTBinding)

// WithMQTTTimeout bounds one request.
func WithMQTTTimeout(d time.Duration) MQTTOption {
	return func(b *MQTTBinding) {
		b.timeout = d
	}
}

// WithMQTTQoS sets the quality of service requests are published with.
func WithMQTTQoS(qos byte) MQTTOption {
	return func(b *MQTTBinding) {
		b.qos = qos
	}
}

// WithMQTTLogger configures how the binding logs.
func WithMQTTLogger(l logging.Logger) MQTTOption {
	return func(b *MQTTBinding) {
		b.log = l
	}
}

// WithMQTTClientFactory replaces how broker connections are made. Tests
// use it to substitute an in-memory client.
func WithMQTTClientFactory(fn func(*mqtt.ClientOptions) mqtt.Client) MQTTOption {
	return func(b *MQTTBinding) {
		b.newClient = fn
	}
}

// An MQTTBinding delivers requests over mqtt and mqtts, publishing
// primitives to oneM2M request topics per TS-0010. Target URIs name the
// broker and the receiving entity: mqtt://<broker-host>[:port]/<receiver>.
// Responses are correlated by request identifier on the binding's
// response topic.
type MQTTBinding struct {
	origin    string
	timeout   time.Duration
	qos       byte
	log       logging.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.Mutex
	clients map[string]mqtt.Client
	pending map[string]chan onem2m.ResponsePrimitive
}

// NewMQTTBinding returns a binding that sends requests as the supplied
// originator. Broker connections are made lazily, one per broker, and
// held until Close.
func NewMQTTBinding(origin string, o ...MQTTOption) *MQTTBinding {
	b := &MQTTBinding{
		origin:    origin,
		timeout:   defaultMQTTTimeout,
		qos:       1,
		log:       logging.NewNopLogger(),
		newClient: mqtt.NewClient,
		clients:   map[string]mqtt.Client{},
		pending:   map[string]chan onem2m.ResponsePrimitive{},
	}
	for _, fn := range o {
		fn(b)
	}
	return b
}

// topicID encodes an entity identifier for use as a topic level.
func topicID(id string) string {
	return strings.ReplaceAll(strings.TrimPrefix(id, "/"), "/", ":")
}

// requestTopic is where requests from origin to receiver are published.
func requestTopic(origin, receiver string) string {
	return "/oneM2M/req/" + topicID(origin) + "/" + topicID(receiver) + "/json"
}

// responseTopic is where responses to origin's requests arrive; the
// wildcard level is the responder.
func responseTopic(origin string) string {
	return "/oneM2M/resp/" + topicID(origin) + "/+/json"
}

// broker maps a target URI onto a paho broker address and the receiving
// entity named by the path.
func broker(target string) (addr, receiver string, err error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", "", status.Wrap(err, onem2m.StatusBadRequest, "invalid target URI")
	}
	receiver = strings.TrimPrefix(u.Path, "/")
	if receiver == "" {
		return "", "", status.Errorf(onem2m.StatusBadRequest, "target %s names no receiver", target)
	}
	scheme := "tcp"
	if u.Scheme == "mqtts" {
		scheme = "ssl"
	}
	return scheme + "://" + u.Host, receiver, nil
}

// client returns the connection to the given broker, dialing and
// subscribing to the response topic on first use.
func (b *MQTTBinding) client(ctx context.Context, addr string) (mqtt.Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.clients[addr]; ok {
		return c, nil
	}

	opts := mqtt.NewClientOptions().
		AddBroker(addr).
		SetClientID(topicID(b.origin) + "-" + uuid.NewString()[:8]).
		SetCleanSession(true).
		SetConnectTimeout(b.timeout)
	c := b.newClient(opts)

	if err := waitToken(ctx, c.Connect()); err != nil {
		return nil, status.Wrap(err, onem2m.StatusTargetNotReachable, "cannot connect to broker")
	}
	if err := waitToken(ctx, c.Subscribe(responseTopic(b.origin), b.qos, b.dispatch)); err != nil {
		c.Disconnect(0)
		return nil, status.Wrap(err, onem2m.StatusTargetNotReachable, "cannot subscribe to response topic")
	}

	b.clients[addr] = c
	return c, nil
}

// dispatch routes an inbound response to the request waiting on it.
func (b *MQTTBinding) dispatch(_ mqtt.Client, msg mqtt.Message) {
	var rsp onem2m.ResponsePrimitive
	if err := json.Unmarshal(msg.Payload(), &rsp); err != nil {
		b.log.Debug("Dropping malformed response", "topic", msg.Topic(), "error", err)
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[rsp.RequestIdentifier]
	delete(b.pending, rsp.RequestIdentifier)
	b.mu.Unlock()
	if !ok {
		b.log.Debug("Dropping unexpected response", "rqi", rsp.RequestIdentifier)
		return
	}
	ch <- rsp
}

func (b *MQTTBinding) send(ctx context.Context, target string, req onem2m.RequestPrimitive) (onem2m.ResponsePrimitive, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	addr, receiver, err := broker(target)
	if err != nil {
		return onem2m.ResponsePrimitive{}, err
	}
	c, err := b.client(ctx, addr)
	if err != nil {
		return onem2m.ResponsePrimitive{}, err
	}

	if req.Target == "" {
		req.Target = receiver
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return onem2m.ResponsePrimitive{}, status.Wrap(err, onem2m.StatusInternalServerError, errMarshalContent)
	}

	ch := make(chan onem2m.ResponsePrimitive, 1)
	b.mu.Lock()
	b.pending[req.RequestIdentifier] = ch
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, req.RequestIdentifier)
		b.mu.Unlock()
	}()

	b.log.Debug("Publishing request", "topic", requestTopic(b.origin, receiver), "rqi", req.RequestIdentifier)
	if err := waitToken(ctx, c.Publish(requestTopic(b.origin, receiver), b.qos, false, payload)); err != nil {
		return onem2m.ResponsePrimitive{}, status.Wrap(err, onem2m.StatusTargetNotReachable, "cannot publish request")
	}

	select {
	case rsp := <-ch:
		return rsp, nil
	case <-ctx.Done():
		return onem2m.ResponsePrimitive{}, status.Wrap(ctx.Err(), onem2m.StatusTargetNotReachable, "no response from target")
	}
}

// Notify delivers a notification to the entity named by the target path.
func (b *MQTTBinding) Notify(ctx context.Context, target string, n *onem2m.Notification) error {
	pc, err := toContent(n)
	if err != nil {
		return err
	}
	rsp, err := b.send(ctx, target, newPrimitive(onem2m.OperationNotify, b.origin, "", pc))
	if err != nil {
		return err
	}
	return responseError(rsp)
}

// CreateResource creates r under parentID at the target and returns the
// assigned resource identifier.
func (b *MQTTBinding) CreateResource(ctx context.Context, target, parentID string, r *resource.Resource) (string, error) {
	req := newPrimitive(onem2m.OperationCreate, b.origin, parentID, r.WireRepresentation())
	req.ResourceType = r.Type()
	rsp, err := b.send(ctx, target, req)
	if err != nil {
		return "", err
	}
	if err := responseError(rsp); err != nil {
		return "", err
	}
	return createdRI(rsp.Content)
}

// UpdateResource applies the supplied content to the identified resource.
func (b *MQTTBinding) UpdateResource(ctx context.Context, target, id string, content map[string]any) error {
	rsp, err := b.send(ctx, target, newPrimitive(onem2m.OperationUpdate, b.origin, id, content))
	if err != nil {
		return err
	}
	return responseError(rsp)
}

// DeleteResource deletes the identified resource.
func (b *MQTTBinding) DeleteResource(ctx context.Context, target, id string) error {
	rsp, err := b.send(ctx, target, newPrimitive(onem2m.OperationDelete, b.origin, id, nil))
	if err != nil {
		return err
	}
	return responseError(rsp)
}

// Close disconnects from every broker.
func (b *MQTTBinding) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for addr, c := range b.clients {
		c.Disconnect(250)
		delete(b.clients, addr)
	}
}

// waitToken waits for a paho token, honoring context cancellation.
func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
