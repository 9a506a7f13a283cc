// Package report publishes session progress and state changes over MQTT.
package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/fota/internal/fotaagent/core"
	"github.com/autopeer-io/fota/internal/fotaagent/session"
	"github.com/autopeer-io/fota/pkg/log"
	"github.com/autopeer-io/fota/pkg/mqtt"
	"github.com/autopeer-io/fota/pkg/mqtt/topic"
)

const queueSize = 64

// Presence payloads.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

type message struct {
	topic  string
	retain bool
	fields map[string]any
}

// Reporter is a progress sink and session observer that forwards to MQTT.
// Sink and observer calls never block on the network; messages are queued
// and published by Run. When the queue is full new messages are dropped.
type Reporter struct {
	pub    mqtt.Publisher
	topics *topic.TopicBuilder
	device string
	qos    byte

	queue chan message
	now   func() time.Time

	mu      sync.Mutex
	percent int

	logger log.Logger
}

var (
	_ core.ProgressSink = (*Reporter)(nil)
	_ session.Observer  = (*Reporter)(nil)
)

func New(pub mqtt.Publisher, root, device string, qos byte) *Reporter {
	return &Reporter{
		pub:     pub,
		topics:  topic.NewTopicBuilder(root),
		device:  device,
		qos:     qos,
		queue:   make(chan message, queueSize),
		now:     time.Now,
		percent: -1,
		logger:  log.WithName("report").WithValues("device", device),
	}
}

// PresencePayload encodes a presence marker, also used for the MQTT will.
func PresencePayload(device, state string) []byte {
	b, _ := encode(map[string]any{"device": device, "state": state})
	return b
}

// SetProgress queues the fraction when its whole percent changed.
func (r *Reporter) SetProgress(fraction float64) {
	pct := int(fraction * 100)
	r.mu.Lock()
	if pct == r.percent {
		r.mu.Unlock()
		return
	}
	r.percent = pct
	r.mu.Unlock()

	r.enqueue(message{
		topic:  r.topics.Progress(r.device),
		fields: map[string]any{"progress": fraction, "percent": pct},
	})
}

// Print queues a status line on the progress topic.
func (r *Reporter) Print(line string) {
	r.enqueue(message{
		topic:  r.topics.Progress(r.device),
		fields: map[string]any{"message": line},
	})
}

// StateChanged queues a session state transition. Terminal states are
// retained so late subscribers see the last outcome.
func (r *Reporter) StateChanged(_ context.Context, from, to string, err error) {
	fields := map[string]any{"from": from, "state": to}
	if err != nil {
		fields["error"] = err.Error()
		fields["status"] = core.StatusFromError(err).String()
	}
	if to == session.StateInit || to == session.StateVersionChecked {
		r.mu.Lock()
		r.percent = -1
		r.mu.Unlock()
	}
	r.enqueue(message{
		topic:  r.topics.Status(r.device),
		retain: to == session.StateDone || to == session.StateFailed,
		fields: fields,
	})
}

func (r *Reporter) enqueue(m message) {
	m.fields["device"] = r.device
	m.fields["timestamp"] = r.now().UTC().Format(time.RFC3339Nano)
	select {
	case r.queue <- m:
	default:
		r.logger.Debug("Report queue full, dropping message", "topic", m.topic)
	}
}

// Run announces presence and publishes queued messages until ctx is done.
func (r *Reporter) Run(ctx context.Context) error {
	if err := r.pub.Start(ctx); err != nil {
		return fmt.Errorf("start mqtt publisher: %w", err)
	}
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.publishRaw(shutdown, r.topics.Presence(r.device), true, PresencePayload(r.device, PresenceOffline))
		r.pub.Disconnect(shutdown)
	}()

	if err := r.pub.AwaitConnection(ctx); err != nil {
		return nil
	}
	r.publishRaw(ctx, r.topics.Presence(r.device), true, PresencePayload(r.device, PresenceOnline))

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case m := <-r.queue:
			r.publish(ctx, m)
		}
	}
}

// drain publishes what is still queued with a short deadline.
func (r *Reporter) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case m := <-r.queue:
			r.publish(ctx, m)
		default:
			return
		}
	}
}

func (r *Reporter) publish(ctx context.Context, m message) {
	b, err := encode(m.fields)
	if err != nil {
		r.logger.Error(err, "Failed to encode report", "topic", m.topic)
		return
	}
	r.publishRaw(ctx, m.topic, m.retain, b)
}

func (r *Reporter) publishRaw(ctx context.Context, topic string, retain bool, payload []byte) {
	if err := r.pub.Publish(ctx, topic, r.qos, retain, payload); err != nil {
		r.logger.Error(err, "Failed to publish report", "topic", topic)
	}
}

func encode(fields map[string]any) ([]byte, error) {
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(st)
}
