// Package mqtt implements an MQTT-style broker Transport over
// paho.mqtt.golang (§6 family 6). MQTT 3.1.1 topics carry no header
// fields and QoS acknowledgement is handled inside the client library,
// not exposed per-message, so — like the Redis adapter — headers and
// payload travel together in a JSON envelope and Commit is a local
// bookkeeping no-op.
package mqtt

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/slimbus-go/slimbus/pkg/bus"
)

type localOffset uint64

func (o localOffset) Less(other bus.Offset) bool { return o < other.(localOffset) }
func (o localOffset) String() string             { return strconv.FormatUint(uint64(o), 10) }

type envelope struct {
	Headers bus.Headers `json:"headers"`
	Payload []byte      `json:"payload"`
}

// Config configures one Transport.
type Config struct {
	Broker   string        `env:"MQTT_BROKER"`
	ClientID string        `env:"MQTT_CLIENT_ID"`
	Topic    string        `env:"MQTT_TOPIC"`
	QoS      byte          `env:"MQTT_QOS" env-default:"1"`
	ConnectTimeout time.Duration `env:"MQTT_CONNECT_TIMEOUT" env-default:"10s"`
}

// Transport adapts one MQTT topic to bus.Transport.
type Transport struct {
	cfg     Config
	client  mqtt.Client
	counter atomic.Uint64
}

// New builds and connects a paho client using the given options.
func New(cfg Config) (*Transport, error) {
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID).SetAutoReconnect(true)
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, bus.ErrTransport(context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return nil, bus.ErrTransport(err)
	}
	return &Transport{cfg: cfg, client: client}, nil
}

// Start subscribes to the configured topic. There is a single logical
// partition (0), assigned for the lifetime of the subscription.
func (t *Transport) Start(ctx context.Context, cb bus.PartitionCallbacks) error {
	info := bus.PartitionInfo{Path: t.cfg.Topic, Partition: 0}

	handler := func(client mqtt.Client, msg mqtt.Message) {
		var env envelope
		if err := json.Unmarshal(msg.Payload(), &env); err != nil {
			cb.OnError(bus.ErrSerialization(err))
			return
		}
		off := localOffset(t.counter.Add(1))
		if err := cb.OnMessage(ctx, bus.InboundMessage{
			Info: info, Offset: off, Payload: env.Payload, Headers: env.Headers,
		}); err != nil {
			cb.OnError(err)
		}
	}

	token := t.client.Subscribe(t.cfg.Topic, t.cfg.QoS, handler)
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		return bus.ErrTransport(context.DeadlineExceeded)
	}
	if err := token.Error(); err != nil {
		return bus.ErrTransport(err)
	}
	cb.OnAssign(ctx, info)

	<-ctx.Done()
	t.client.Unsubscribe(t.cfg.Topic)
	cb.OnClose(context.Background(), info)
	return nil
}

// Stop disconnects the client.
func (t *Transport) Stop(ctx context.Context) error {
	t.client.Disconnect(250)
	return nil
}

// Commit is a no-op: MQTT exposes no broker-side cursor to advance.
func (t *Transport) Commit(ctx context.Context, info bus.PartitionInfo, off bus.Offset) error {
	return nil
}

// Send publishes payload and headers as a JSON envelope to path.
func (t *Transport) Send(ctx context.Context, path string, payload []byte, headers bus.Headers) error {
	data, err := json.Marshal(envelope{Headers: headers, Payload: payload})
	if err != nil {
		return bus.ErrSerialization(err)
	}
	token := t.client.Publish(path, t.cfg.QoS, false, data)
	token.Wait()
	return token.Error()
}
