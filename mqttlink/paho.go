package mqttlink

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultOpTimeout      = 5 * time.Second
	defaultRetryInterval  = 5 * time.Second
)

// PahoClient implements Client on top of the Eclipse Paho MQTT client.
//
// The connection auto-reconnects and resumes its subscriptions after a broker
// outage. Configure a will with WithWill so observers see the bridge drop
// offline when the process dies without a clean Stop.
type PahoClient struct {
	client    paho.Client
	opTimeout time.Duration
}

var _ Client = (*PahoClient)(nil)

// pahoSettings collects constructor options before the paho client exists.
type pahoSettings struct {
	connectTimeout time.Duration
	opTimeout      time.Duration
	username       string
	password       string
	willTopic      string
	willPayload    []byte
	willRetained   bool
}

// PahoOption configures a PahoClient at construction.
type PahoOption func(*pahoSettings)

// WithConnectTimeout bounds the initial broker connection attempt.
// The default is 10s.
func WithConnectTimeout(d time.Duration) PahoOption {
	return func(s *pahoSettings) {
		if d > 0 {
			s.connectTimeout = d
		}
	}
}

// WithOpTimeout bounds each publish, subscribe and unsubscribe
// acknowledgement wait. The default is 5s.
func WithOpTimeout(d time.Duration) PahoOption {
	return func(s *pahoSettings) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithCredentials sets the broker username and password.
func WithCredentials(username, password string) PahoOption {
	return func(s *pahoSettings) {
		s.username = username
		s.password = password
	}
}

// WithWill registers a last-will message the broker publishes when the
// connection dies ungracefully. Pair it with the bridge's online status:
//
//	mqttlink.WithWill(mqttlink.TopicOnline(prefix), mqttlink.OnlinePayload(false), true)
func WithWill(topic string, payload []byte, retained bool) PahoOption {
	return func(s *pahoSettings) {
		s.willTopic = topic
		s.willPayload = payload
		s.willRetained = retained
	}
}

// NewPahoClient connects to the broker at brokerURL (for example
// "tcp://10.0.0.5:1883") with the given client ID and blocks until the
// connection is established or the connect timeout elapses.
func NewPahoClient(brokerURL, clientID string, opts ...PahoOption) (*PahoClient, error) {
	settings := &pahoSettings{
		connectTimeout: defaultConnectTimeout,
		opTimeout:      defaultOpTimeout,
	}
	for _, opt := range opts {
		opt(settings)
	}

	pahoOpts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetryInterval(defaultRetryInterval).
		SetCleanSession(false).
		SetResumeSubs(true)

	if settings.username != "" {
		pahoOpts.SetUsername(settings.username)
		pahoOpts.SetPassword(settings.password)
	}

	if settings.willTopic != "" {
		pahoOpts.SetBinaryWill(settings.willTopic, settings.willPayload, 1, settings.willRetained)
	}

	client := paho.NewClient(pahoOpts)

	token := client.Connect()
	if !token.WaitTimeout(settings.connectTimeout) {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, ErrBrokerTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", brokerURL, err)
	}

	return &PahoClient{
		client:    client,
		opTimeout: settings.opTimeout,
	}, nil
}

// Publish sends payload to topic and waits for the broker acknowledgement.
func (c *PahoClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(c.opTimeout) {
		return fmt.Errorf("publish %s: %w", topic, ErrBrokerTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}

	return nil
}

// Subscribe registers handler for topic.
func (c *PahoClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	token := c.client.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.opTimeout) {
		return fmt.Errorf("subscribe %s: %w", topic, ErrBrokerTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	return nil
}

// Unsubscribe removes the subscriptions for the given topics.
func (c *PahoClient) Unsubscribe(topics ...string) error {
	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.opTimeout) {
		return fmt.Errorf("unsubscribe: %w", ErrBrokerTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("unsubscribe: %w", err)
	}

	return nil
}

// Close disconnects from the broker, allowing in-flight messages up to one
// second to complete.
func (c *PahoClient) Close() {
	c.client.Disconnect(1000)
}

// IsConnected reports whether the underlying connection is currently up.
func (c *PahoClient) IsConnected() bool {
	return c.client.IsConnected()
}
