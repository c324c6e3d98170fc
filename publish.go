package mqttc

import (
	"fmt"

	"github.com/augbari/mqttc/internal/packets"
)

// PublishOptions holds configuration for a publish operation.
type PublishOptions struct {
	QoS    QoS
	Retain bool
}

// PublishOption is a functional option for configuring a PUBLISH packet.
type PublishOption func(*PublishOptions)

// WithQoS sets the Quality of Service level for the publish.
//
// QoS levels:
//   - 0: At most once delivery (fire and forget)
//   - 1: At least once delivery (acknowledged)
//   - 2: Exactly once delivery (assured)
//
// Default is QoS 0.
func WithQoS(qos QoS) PublishOption {
	return func(o *PublishOptions) {
		o.QoS = qos
	}
}

// WithRetain sets the retain flag for the publish.
//
// When true, the server stores the message and delivers it to future
// subscribers of the topic. Only the most recent retained message per
// topic is stored.
//
// Default is false.
func WithRetain(retain bool) PublishOption {
	return func(o *PublishOptions) {
		o.Retain = retain
	}
}

// Publish publishes a message to the specified topic.
//
// The returned Token completes when delivery is as certain as the QoS level
// allows: for QoS 0 once the packet is handed to the connection's writer,
// for QoS 1 on PUBACK, for QoS 2 on PUBCOMP.
//
// Publishing while not connected fails with ErrNotConnected. When all 65535
// packet identifiers are in flight, a QoS 1 or 2 publish fails with
// ErrIdentifierSpaceExhausted and nothing is sent.
//
// If the connection is lost before the acknowledgment, a clean session fails
// the token with ErrConnectionLost. A persistent session keeps the message
// and resends it with DUP set on the next Connect; the token completes then.
//
// The payload is not copied; do not modify it until the token completes.
//
// Example (QoS 1 - wait for acknowledgment):
//
//	token := client.Publish("sensors/temp", []byte("22.5"), mqttc.WithQoS(mqttc.AtLeastOnce))
//	if err := token.Wait(ctx); err != nil {
//	    log.Printf("Publish failed: %v", err)
//	}
//
// Example (retained message):
//
//	client.Publish("status/online", []byte("true"),
//	    mqttc.WithQoS(mqttc.AtLeastOnce),
//	    mqttc.WithRetain(true))
func (c *Client) Publish(topic string, payload []byte, opts ...PublishOption) Token {
	return c.publish(topic, payload, opts...)
}

// PublishMulti publishes the same payload to each topic, in order.
// The returned Token completes when every publish has completed; its error
// joins the individual failures.
func (c *Client) PublishMulti(topics []string, payload []byte, opts ...PublishOption) Token {
	tokens := make([]Token, 0, len(topics))
	for _, topic := range topics {
		tokens = append(tokens, c.publish(topic, payload, opts...))
	}
	return joinTokens(tokens)
}

// publishDirect is Publish without interceptors.
func (c *Client) publishDirect(topic string, payload []byte, opts ...PublishOption) Token {
	tok := newToken()

	if err := validatePublishTopic(topic, c.opts); err != nil {
		tok.complete(fmt.Errorf("invalid topic: %w", err))
		return tok
	}
	if err := validatePayload(payload, c.opts); err != nil {
		tok.complete(fmt.Errorf("invalid payload: %w", err))
		return tok
	}

	var pubOpts PublishOptions
	for _, opt := range opts {
		opt(&pubOpts)
	}
	if !pubOpts.QoS.valid() {
		tok.complete(fmt.Errorf("invalid QoS %d", pubOpts.QoS))
		return tok
	}

	pkt := &packets.PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     uint8(pubOpts.QoS),
		Retain:  pubOpts.Retain,
	}

	c.mu.RLock()
	l, err := c.currentLinkLocked()
	if err == nil && pkt.QoS > 0 {
		state := awaitingPuback
		if pkt.QoS == packets.QoS2 {
			state = awaitingPubrec
		}
		err = c.session.track(&inflight{state: state, publish: pkt, token: tok})
	}
	c.mu.RUnlock()

	if err != nil {
		tok.complete(err)
		return tok
	}

	c.opts.Logger.Debug("publishing message",
		"topic", topic,
		"qos", pkt.QoS,
		"packet_id", pkt.PacketID,
		"payload_size", len(payload))

	if err := l.send(pkt); err != nil {
		// QoS 1 and 2 entries are settled by the connection-lost handling.
		if pkt.QoS == 0 {
			tok.complete(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		}
		return tok
	}
	if pkt.QoS == 0 {
		tok.complete(nil)
	}
	return tok
}
