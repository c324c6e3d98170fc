package mqttc

import (
	"errors"

	"github.com/augbari/mqttc/internal/packets"
)

// handleIncoming processes one packet from the server on the reader
// goroutine. A non-nil error closes the connection.
func (c *Client) handleIncoming(l *link, pkt packets.Packet) error {
	switch p := pkt.(type) {
	case *packets.PublishPacket:
		return c.handlePublish(l, p)
	case *packets.PubackPacket:
		c.handlePuback(p)
	case *packets.PubrecPacket:
		return c.handlePubrec(l, p)
	case *packets.PubrelPacket:
		return c.handlePubrel(l, p)
	case *packets.PubcompPacket:
		c.handlePubcomp(p)
	case *packets.SubackPacket:
		return c.handleSuback(p)
	case *packets.UnsubackPacket:
		c.handleUnsuback(p)
	case *packets.PingrespPacket:
		l.pingResponse()
	default:
		return protocolError("unexpected %s from server", packets.Name(pkt.Type()))
	}
	return nil
}

func (c *Client) handlePublish(l *link, p *packets.PublishPacket) error {
	msg := Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       QoS(p.QoS),
		Retained:  p.Retain,
		Duplicate: p.Dup,
	}

	switch p.QoS {
	case packets.QoS0:
		c.deliver(msg)
		return nil

	case packets.QoS1:
		c.deliver(msg)
		return l.send(&packets.PubackPacket{PacketID: p.PacketID})

	default:
		if c.session.receiveQoS2(p.PacketID) {
			c.deliver(msg)
		} else {
			c.opts.Logger.Debug("duplicate QoS 2 publish, not delivered", "packet_id", p.PacketID)
		}
		return l.send(&packets.PubrecPacket{PacketID: p.PacketID})
	}
}

// deliver queues msg for the handler of every matching subscription, or for
// the default handler when none matches.
func (c *Client) deliver(msg Message) {
	handlers := c.session.handlersFor(msg.Topic)
	if len(handlers) == 0 {
		if c.opts.DefaultPublishHandler == nil {
			c.opts.Logger.Debug("no handler for message", "topic", msg.Topic)
			return
		}
		handlers = []MessageHandler{c.opts.DefaultPublishHandler}
	}

	if len(c.opts.HandlerInterceptors) > 0 {
		for i, h := range handlers {
			handlers[i] = applyHandlerInterceptors(h, c.opts.HandlerInterceptors)
		}
	}
	c.dispatcher.submit(msg, handlers)
}

func (c *Client) handlePuback(p *packets.PubackPacket) {
	e, err := c.session.take(p.PacketID, awaitingPuback)
	if err != nil {
		c.opts.Logger.Debug("ignoring PUBACK", "packet_id", p.PacketID, "error", err)
		return
	}
	e.token.complete(nil)
}

func (c *Client) handlePubrec(l *link, p *packets.PubrecPacket) error {
	if _, err := c.session.released(p.PacketID); err != nil {
		c.opts.Logger.Debug("ignoring PUBREC", "packet_id", p.PacketID, "error", err)
		if !errors.Is(err, ErrNotFound) {
			return nil
		}
	}
	// An unknown identifier still gets PUBREL so the server can finish its
	// side of the flow.
	return l.send(&packets.PubrelPacket{PacketID: p.PacketID})
}

func (c *Client) handlePubrel(l *link, p *packets.PubrelPacket) error {
	c.session.releaseQoS2(p.PacketID)
	return l.send(&packets.PubcompPacket{PacketID: p.PacketID})
}

func (c *Client) handlePubcomp(p *packets.PubcompPacket) {
	e, err := c.session.take(p.PacketID, awaitingPubcomp)
	if err != nil {
		c.opts.Logger.Debug("ignoring PUBCOMP", "packet_id", p.PacketID, "error", err)
		return
	}
	e.token.complete(nil)
}

func (c *Client) handleSuback(p *packets.SubackPacket) error {
	e, err := c.session.take(p.PacketID, awaitingSuback)
	if err != nil {
		c.opts.Logger.Debug("ignoring SUBACK", "packet_id", p.PacketID, "error", err)
		return nil
	}

	if len(p.ReturnCodes) != len(e.filters) {
		err := protocolError("SUBACK has %d return codes for %d topic filters", len(p.ReturnCodes), len(e.filters))
		e.fail(err)
		return err
	}

	results := make([]SubscriptionResult, len(e.filters))
	for i, sub := range e.filters {
		r := SubscriptionResult{Filter: sub.Filter, Requested: sub.QoS}
		if code := p.ReturnCodes[i]; code == packets.SubackFailure {
			r.Err = &SubscriptionError{Filter: sub.Filter}
			c.session.removeSubscription(sub.Filter)
			c.opts.Logger.Warn("subscription rejected", "filter", sub.Filter)
		} else {
			r.Granted = QoS(code)
			c.session.confirmSubscription(sub.Filter, r.Granted)
		}
		results[i] = r
	}
	e.subToken.resolve(results)
	return nil
}

func (c *Client) handleUnsuback(p *packets.UnsubackPacket) {
	e, err := c.session.take(p.PacketID, awaitingUnsuback)
	if err != nil {
		c.opts.Logger.Debug("ignoring UNSUBACK", "packet_id", p.PacketID, "error", err)
		return
	}
	e.token.complete(nil)
}
