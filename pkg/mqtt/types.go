package mqtt

import (
	"context"
)

// Publisher sends messages to an MQTT broker. The agent only reports
// upstream, so no subscription surface is exposed.
type Publisher interface {
	// Start connects in the background and returns immediately.
	Start(ctx context.Context) error

	// AwaitConnection blocks until the broker connection is up or ctx ends.
	AwaitConnection(ctx context.Context) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error

	// Disconnect closes the connection, publishing nothing further.
	Disconnect(ctx context.Context)
}
