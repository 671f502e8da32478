package mqttlink

// MessageHandler processes one inbound MQTT message delivered to a subscribed
// topic. Implementations must return quickly; the bridge hands long-running
// work to its own tasks.
type MessageHandler func(topic string, payload []byte)

// Client is the transport seam between the bridge and an MQTT implementation.
//
// The bridge ships two implementations: PahoClient for a real broker and
// RecorderClient for tests. All methods must be safe for concurrent use.
type Client interface {
	// Publish sends payload to topic and waits for the transport's delivery
	// acknowledgement according to qos.
	Publish(topic string, qos byte, retained bool, payload []byte) error

	// Subscribe registers handler for every message arriving on topic.
	Subscribe(topic string, qos byte, handler MessageHandler) error

	// Unsubscribe removes the subscriptions for the given topics.
	Unsubscribe(topics ...string) error

	// Close disconnects from the broker and releases the client's resources.
	Close()
}
