package mqttc

import (
	"fmt"
	"slices"

	"github.com/augbari/mqttc/internal/packets"
)

// loadSession restores the persisted session into memory. It runs once, from
// NewClient, before any connection exists.
func (c *Client) loadSession() error {
	store := c.session.store

	pending, err := store.LoadPendingPublishes()
	if err != nil {
		return fmt.Errorf("failed to load pending publishes: %w", err)
	}
	subs, err := store.LoadSubscriptions()
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	qos2, err := store.LoadReceivedQoS2()
	if err != nil {
		return fmt.Errorf("failed to load QoS 2 IDs: %w", err)
	}

	c.session.restore(pending, subs, qos2)

	c.opts.Logger.Info("loaded session state",
		"pending", len(pending),
		"subscriptions", len(subs),
		"qos2_received", len(qos2))
	return nil
}

// restore replaces the in-memory state with stored state. Restored publishes
// carry tokens nobody holds; they exist to be retransmitted. Restored
// subscriptions have no handler until one is registered again.
func (s *session) restore(pending map[uint16]*PersistedPublish, subs map[string]*SubscriptionInfo, qos2 map[uint16]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]uint16, 0, len(pending))
	for id, pub := range pending {
		if id == 0 || pub == nil || pub.QoS == 0 || pub.QoS > 2 {
			s.logger.Warn("skipping invalid stored publish", "packet_id", id)
			continue
		}
		ids = append(ids, id)
	}
	// Stores keep no send order, so restored publishes are resent in
	// ascending id order. Ids that wrapped before the restart resend out of
	// their original order.
	slices.Sort(ids)

	for _, id := range ids {
		pub := pending[id]
		e := &inflight{
			id: id,
			publish: &packets.PublishPacket{
				Topic:    pub.Topic,
				Payload:  pub.Payload,
				QoS:      pub.QoS,
				Retain:   pub.Retain,
				PacketID: id,
			},
			token: newToken(),
		}
		switch {
		case pub.QoS == packets.QoS1:
			e.state = awaitingPuback
		case pub.Released:
			e.state = awaitingPubcomp
		default:
			e.state = awaitingPubrec
		}
		s.seq++
		e.seq = s.seq
		s.outbound[id] = e
		s.lastID = id
	}

	for filter, info := range subs {
		if info == nil || QoS(info.QoS) > ExactlyOnce {
			continue
		}
		if _, ok := s.subscriptions[filter]; !ok {
			s.subscriptions[filter] = subscriptionEntry{qos: QoS(info.QoS)}
		}
	}

	for id := range qos2 {
		s.inbound[id] = struct{}{}
	}
}
