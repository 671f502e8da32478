package mqttlink

import (
	"fmt"
	"sync"
)

// PublishedMessage records one Publish call made against a RecorderClient.
type PublishedMessage struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// RecorderClient is an in-memory Client for tests. It records every publish,
// tracks subscriptions, and delivers injected messages to the registered
// handlers synchronously on the caller's goroutine.
type RecorderClient struct {
	mu           sync.Mutex
	published    []PublishedMessage
	handlers     map[string]MessageHandler
	publishErr   error
	subscribeErr error
	closed       bool
}

var _ Client = (*RecorderClient)(nil)

// NewRecorderClient creates an empty RecorderClient.
func NewRecorderClient() *RecorderClient {
	return &RecorderClient{
		handlers: make(map[string]MessageHandler),
	}
}

// Publish records the message, or returns the injected publish error.
func (c *RecorderClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.publishErr != nil {
		return c.publishErr
	}

	c.published = append(c.published, PublishedMessage{
		Topic:    topic,
		QoS:      qos,
		Retained: retained,
		Payload:  append([]byte(nil), payload...),
	})

	return nil
}

// Subscribe registers handler for topic, or returns the injected subscribe
// error. Wildcard matching is not implemented; topics match exactly.
func (c *RecorderClient) Subscribe(topic string, qos byte, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.subscribeErr != nil {
		return c.subscribeErr
	}

	c.handlers[topic] = handler

	return nil
}

// Unsubscribe removes the handlers for the given topics.
func (c *RecorderClient) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, topic := range topics {
		delete(c.handlers, topic)
	}

	return nil
}

// Close marks the client closed. Recorded messages stay readable.
func (c *RecorderClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
}

// Deliver invokes the handler subscribed to topic with payload. It returns an
// error if no handler is subscribed.
func (c *RecorderClient) Deliver(topic string, payload []byte) error {
	c.mu.Lock()
	handler, ok := c.handlers[topic]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no subscription for topic %s", topic)
	}

	handler(topic, payload)

	return nil
}

// FailPublishes makes every subsequent Publish return err. Pass nil to heal.
func (c *RecorderClient) FailPublishes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.publishErr = err
}

// FailSubscribes makes every subsequent Subscribe return err. Pass nil to
// heal.
func (c *RecorderClient) FailSubscribes(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subscribeErr = err
}

// Subscribed reports whether a handler is currently registered for topic.
func (c *RecorderClient) Subscribed(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.handlers[topic]

	return ok
}

// Closed reports whether Close was called.
func (c *RecorderClient) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

// Published returns a copy of every recorded message in publish order.
func (c *RecorderClient) Published() []PublishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]PublishedMessage(nil), c.published...)
}

// PublishedTo returns the recorded messages for one topic in publish order.
func (c *RecorderClient) PublishedTo(topic string) []PublishedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var msgs []PublishedMessage
	for _, msg := range c.published {
		if msg.Topic == topic {
			msgs = append(msgs, msg)
		}
	}

	return msgs
}

// LastPublished returns the most recently recorded message for topic.
func (c *RecorderClient) LastPublished(topic string) (msg PublishedMessage, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.published) - 1; i >= 0; i-- {
		if c.published[i].Topic == topic {
			return c.published[i], true
		}
	}

	return PublishedMessage{}, false
}
