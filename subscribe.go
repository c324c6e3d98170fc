package mqttc

import (
	"context"
	"errors"
	"fmt"

	"github.com/augbari/mqttc/internal/packets"
)

// Subscription is a topic filter with its requested QoS and handler.
type Subscription struct {
	Filter  string
	QoS     QoS
	Handler MessageHandler
}

// Subscribe subscribes to a topic filter with the specified QoS level.
//
// The handler is called for each message whose topic matches the filter. If
// a message matches several filters, the handler of each matching filter is
// called once. Handlers run on the client's handler workers.
//
// Topic filters support MQTT wildcards:
//   - '+' matches a single level (e.g., "sensors/+/temperature")
//   - '#' matches any number of trailing levels (e.g., "sensors/#")
//
// Subscribing to a filter again replaces its handler and QoS.
//
// The token completes when SUBACK arrives. If the server rejects the filter
// the token's error matches ErrSubscriptionRejected and the filter is
// forgotten. The granted QoS, which may be lower than qos, is reported in
// Results.
//
// Example:
//
//	tok := client.Subscribe("sensors/+/temp", mqttc.AtLeastOnce,
//	    func(c *mqttc.Client, msg mqttc.Message) {
//	        fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	    })
//	if err := tok.Wait(ctx); err != nil {
//	    log.Fatal(err)
//	}
func (c *Client) Subscribe(filter string, qos QoS, handler MessageHandler) SubscribeToken {
	return c.SubscribeMultiple([]Subscription{{Filter: filter, QoS: qos, Handler: handler}})
}

// SubscribeMultiple subscribes to several filters with one SUBSCRIBE packet.
// A rejected filter does not affect the others; see SubscribeToken.
func (c *Client) SubscribeMultiple(subs []Subscription) SubscribeToken {
	tok := newSubscribeToken()
	if len(subs) == 0 {
		tok.complete(errors.New("no topic filters"))
		return tok
	}
	for _, sub := range subs {
		if err := c.validateSubscription(sub); err != nil {
			tok.complete(err)
			return tok
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	l, err := c.currentLinkLocked()
	if err != nil {
		tok.complete(err)
		return tok
	}
	for _, sub := range subs {
		c.session.addSubscription(sub.Filter, sub.QoS, sub.Handler)
	}

	c.opts.Logger.Debug("subscribing", "filters", len(subs))
	c.sendSubscribe(l, subs, tok)
	return tok
}

// Unsubscribe removes subscriptions. Their handlers stop immediately; the
// token completes when UNSUBACK arrives.
func (c *Client) Unsubscribe(filters ...string) Token {
	tok := newToken()
	if len(filters) == 0 {
		tok.complete(errors.New("no topic filters"))
		return tok
	}
	for _, filter := range filters {
		if err := validateSubscribeTopic(filter, c.opts); err != nil {
			tok.complete(fmt.Errorf("invalid topic filter: %w", err))
			return tok
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	l, err := c.currentLinkLocked()
	if err != nil {
		tok.complete(err)
		return tok
	}
	for _, filter := range filters {
		c.session.removeSubscription(filter)
	}

	c.opts.Logger.Debug("unsubscribing", "filters", filters)
	pkt := &packets.UnsubscribePacket{Topics: filters}
	c.sendTracked(l, &inflight{state: awaitingUnsuback, packet: pkt, token: tok})
	return tok
}

func (c *Client) validateSubscription(sub Subscription) error {
	if err := validateSubscribeTopic(sub.Filter, c.opts); err != nil {
		return fmt.Errorf("invalid topic filter: %w", err)
	}
	if !sub.QoS.valid() {
		return fmt.Errorf("invalid QoS %d for %q", sub.QoS, sub.Filter)
	}
	return nil
}

func (c *Client) sendSubscribe(l *link, subs []Subscription, tok *subscribeToken) {
	pkt := &packets.SubscribePacket{
		Topics: make([]string, len(subs)),
		QoS:    make([]uint8, len(subs)),
	}
	for i, sub := range subs {
		pkt.Topics[i] = sub.Filter
		pkt.QoS[i] = uint8(sub.QoS)
	}
	c.sendTracked(l, &inflight{state: awaitingSuback, packet: pkt, subToken: tok, filters: subs})
}

// sendTracked allocates an identifier for a SUBSCRIBE or UNSUBSCRIBE entry
// and sends it. If l is already down the entry fails here, because the
// connection-lost handling may have run before it was recorded.
func (c *Client) sendTracked(l *link, e *inflight) {
	if err := c.session.track(e); err != nil {
		e.fail(err)
		return
	}
	if err := l.send(e.packet); err != nil {
		if taken, terr := c.session.take(e.id, e.state); terr == nil {
			taken.fail(fmt.Errorf("%w: %w", ErrConnectionLost, err))
		}
	}
}

// resubscribe sends every recorded subscription on a new connection and
// waits for the SUBACK.
func (c *Client) resubscribe(ctx context.Context, l *link) error {
	subs := c.session.subscriptionList()
	if len(subs) == 0 {
		return nil
	}

	c.opts.Logger.Debug("resubscribing", "filters", len(subs))
	tok := newSubscribeToken()
	c.sendSubscribe(l, subs, tok)
	return tok.Wait(ctx)
}
