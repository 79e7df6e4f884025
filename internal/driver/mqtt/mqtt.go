// Package mqtt implements the MQTT ProtocolDriver per spec.md §4.1.2:
// a synchronous ReadValues/WriteValue facade over paho.mqtt.golang's
// asynchronous client, the "sync facade over async client" shape no repo
// in the corpus carries but that the spec requires verbatim.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	drv "github.com/pulseone-io/collector/internal/driver"
	"github.com/pulseone-io/collector/internal/model"
)

type retained struct {
	value     model.DataValue
	quality   model.Quality
	timestamp time.Time
}

// Driver implements driver.ProtocolDriver for MQTT 3.1.1/5 brokers.
type Driver struct {
	mu      sync.RWMutex
	cfg     model.DriverConfig
	client  paho.Client
	status  drv.Status
	lastErr error

	topics     map[string]model.DataKind // topic -> declared data type
	jsonPath   map[string]string         // topic -> json_path
	latest     map[string]retained       // topic -> most recent retained value
	backoffCap time.Duration

	stats *drv.Statistics
}

func New() *Driver {
	return &Driver{
		status: drv.StatusIdle,
		topics: make(map[string]model.DataKind),
		jsonPath: make(map[string]string),
		latest:  make(map[string]retained),
		stats:   drv.NewStatistics(),
	}
}

func (d *Driver) Initialize(cfg model.DriverConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
	if v, ok := cfg.Properties["backoff_time_ms"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			d.backoffCap = time.Duration(n) * time.Millisecond
		}
	}
	if d.backoffCap <= 0 {
		d.backoffCap = 30 * time.Second
	}
	return nil
}

func (d *Driver) ProtocolType() model.ProtocolTag { return model.ProtocolMQTT }

func (d *Driver) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.client != nil && d.client.IsConnected()
}

func (d *Driver) Status() drv.Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Driver) LastError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastErr
}

func (d *Driver) Statistics() drv.Snapshot { return d.stats.Snapshot() }
func (d *Driver) ResetStatistics()         { d.stats.Reset() }

// RegisterPoints tells the driver which topics to subscribe to and how to
// decode each, derived from the enabled DataPoints of the device. Called
// by the Factory's CreateWorker before the Worker connects.
func (d *Driver) RegisterPoints(points []model.DataPoint) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range points {
		topic, ok := p.Param("topic")
		if !ok || topic == "" {
			continue
		}
		d.topics[topic] = p.DataType
		if jp, ok := p.Param("json_path"); ok {
			d.jsonPath[topic] = jp
		}
	}
}

// Connect establishes the session, applies the will message, and
// subscribes to every registered topic, per spec.md §4.1.2.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.client != nil && d.client.IsConnected() {
		d.mu.Unlock()
		return nil
	}
	d.status = drv.StatusConnecting
	broker := d.cfg.Prop("broker_url", "")
	clientID := d.cfg.Prop("client_id", "pulseone-collector-"+d.cfg.DeviceID)
	willTopic := fmt.Sprintf("devices/%s/status", d.cfg.DeviceID)

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Second).
		SetMaxReconnectInterval(d.backoffCap).
		SetWill(willTopic, `{"status":"offline"}`, 0, true).
		SetConnectionLostHandler(func(paho.Client, error) {
			d.mu.Lock()
			d.status = drv.StatusReconnecting
			d.mu.Unlock()
		}).
		SetOnConnectHandler(func(c paho.Client) {
			d.resubscribe(c)
		})
	d.mu.Unlock()

	client := paho.NewClient(opts)
	token := client.Connect()
	deadline := time.Duration(d.cfg.TimeoutMs+500) * time.Millisecond
	if !token.WaitTimeout(deadline) {
		d.mu.Lock()
		d.status = drv.StatusError
		d.lastErr = fmt.Errorf("mqtt connect timed out after %s", deadline)
		d.mu.Unlock()
		return drv.New(drv.CodeConnectionTimeout, "mqtt.Connect", d.lastErr)
	}
	if err := token.Error(); err != nil {
		d.mu.Lock()
		d.status = drv.StatusError
		d.lastErr = err
		d.mu.Unlock()
		return drv.New(drv.CodeConnectionFailed, "mqtt.Connect", err)
	}

	d.mu.Lock()
	d.client = client
	d.status = drv.StatusConnected
	d.lastErr = nil
	d.mu.Unlock()
	d.resubscribe(client)
	return nil
}

func (d *Driver) resubscribe(client paho.Client) {
	d.mu.RLock()
	topics := make([]string, 0, len(d.topics))
	for t := range d.topics {
		topics = append(topics, t)
	}
	d.mu.RUnlock()
	for _, topic := range topics {
		topic := topic
		client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			d.onMessage(topic, msg.Payload())
		})
	}
}

func (d *Driver) onMessage(topic string, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kind, ok := d.topics[topic]
	if !ok {
		return
	}
	val, err := decodePayload(payload, d.jsonPath[topic], kind)
	if err != nil {
		d.stats.IncrMetric("decode_error", 1)
		d.latest[topic] = retained{quality: model.QualityBad, timestamp: time.Now()}
		return
	}
	d.latest[topic] = retained{value: val, quality: model.QualityGood, timestamp: time.Now()}
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Disconnect(250)
	}
	d.status = drv.StatusDisconnected
	return nil
}

// ReadValues returns the latest retained value observed per topic since
// the last call, per spec.md §4.1.2.
func (d *Driver) ReadValues(ctx context.Context, points []model.DataPoint) ([]model.TimestampedValue, error) {
	now := time.Now()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.TimestampedValue, len(points))
	for i, p := range points {
		topic, _ := p.Param("topic")
		r, ok := d.latest[topic]
		if !ok {
			out[i] = model.TimestampedValue{
				PointID: p.ID, Quality: model.QualityNotConnected,
				IngressTimestamp: now, SourceTimestamp: now,
			}
			continue
		}
		out[i] = model.TimestampedValue{
			PointID: p.ID, Value: r.value, Quality: r.quality,
			SourceTimestamp: r.timestamp, IngressTimestamp: now,
		}
	}
	return out, nil
}

// WriteValue publishes to the DataPoint's topic with its configured QoS
// and retain flag, per spec.md §4.1.2.
func (d *Driver) WriteValue(ctx context.Context, point model.DataPoint, value model.DataValue) error {
	d.mu.RLock()
	client := d.client
	d.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return drv.New(drv.CodeConnectionLost, "mqtt.WriteValue", nil).WithPoint(point.ID)
	}
	topic, ok := point.Param("topic")
	if !ok || topic == "" {
		return drv.New(drv.CodeInvalidParameter, "mqtt.WriteValue", fmt.Errorf("missing topic")).WithPoint(point.ID)
	}
	qos := byte(0)
	if v, ok := point.Param("qos"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			qos = byte(n)
		}
	}
	retain := false
	if v, ok := point.Param("retain"); ok {
		retain, _ = strconv.ParseBool(v)
	}
	payload, err := json.Marshal(map[string]any{"value": valueToAny(value)})
	if err != nil {
		return drv.New(drv.CodeDataTypeMismatch, "mqtt.WriteValue", err).WithPoint(point.ID)
	}
	start := time.Now()
	token := client.Publish(topic, qos, retain, payload)
	ok2 := token.WaitTimeout(time.Duration(d.cfg.TimeoutMs) * time.Millisecond)
	d.stats.RecordRequest(ok2 && token.Error() == nil, 0, len(payload), time.Since(start))
	if !ok2 {
		return drv.New(drv.CodeConnectionTimeout, "mqtt.WriteValue", fmt.Errorf("publish timed out")).WithPoint(point.ID)
	}
	if err := token.Error(); err != nil {
		return drv.New(drv.CodeConnectionFailed, "mqtt.WriteValue", err).WithPoint(point.ID)
	}
	return nil
}

func valueToAny(v model.DataValue) any {
	switch v.Kind {
	case model.KindBool:
		return v.Bool
	case model.KindString:
		return v.Str
	case model.KindFloat32, model.KindFloat64:
		return v.Float
	default:
		if f, ok := v.Float64(); ok {
			return f
		}
		return v.Str
	}
}

// decodePayload follows properties.json_path (dotted) into the declared
// data type; absent/malformed payload yields DATA_CORRUPTION (quality
// bad), per spec.md §4.1.2.
func decodePayload(payload []byte, path string, kind model.DataKind) (model.DataValue, error) {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return model.DataValue{}, drv.New(drv.CodeDataCorruption, "mqtt.decodePayload", err)
	}
	node := doc
	if path != "" {
		segs := strings.Split(strings.TrimPrefix(path, "$."), ".")
		for _, seg := range segs {
			m, ok := node.(map[string]any)
			if !ok {
				return model.DataValue{}, drv.New(drv.CodeDataCorruption, "mqtt.decodePayload", fmt.Errorf("path %q not found", path))
			}
			node, ok = m[seg]
			if !ok {
				return model.DataValue{}, drv.New(drv.CodeDataCorruption, "mqtt.decodePayload", fmt.Errorf("key %q not found", seg))
			}
		}
	}
	return coerce(node, kind)
}

func coerce(node any, kind model.DataKind) (model.DataValue, error) {
	switch kind {
	case model.KindBool:
		b, ok := node.(bool)
		if !ok {
			return model.DataValue{}, drv.New(drv.CodeDataCorruption, "mqtt.coerce", fmt.Errorf("not a bool"))
		}
		return model.DataValue{Kind: kind, Bool: b}, nil
	case model.KindString:
		s, ok := node.(string)
		if !ok {
			return model.DataValue{}, drv.New(drv.CodeDataCorruption, "mqtt.coerce", fmt.Errorf("not a string"))
		}
		return model.DataValue{Kind: kind, Str: s}, nil
	default:
		f, ok := node.(float64)
		if !ok {
			return model.DataValue{}, drv.New(drv.CodeDataCorruption, "mqtt.coerce", fmt.Errorf("not numeric"))
		}
		return model.DataValue{Kind: kind, Float: f, Int: int64(f), Uint: uint64(f)}, nil
	}
}
