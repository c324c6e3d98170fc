package mqttc

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/augbari/mqttc/internal/packets"
)

// inflightState is the acknowledgment an outbound in-flight entry waits for.
type inflightState uint8

const (
	awaitingPuback inflightState = iota + 1
	awaitingPubrec
	awaitingPubcomp
	awaitingSuback
	awaitingUnsuback
)

func (s inflightState) String() string {
	switch s {
	case awaitingPuback:
		return "awaiting PUBACK"
	case awaitingPubrec:
		return "awaiting PUBREC"
	case awaitingPubcomp:
		return "awaiting PUBCOMP"
	case awaitingSuback:
		return "awaiting SUBACK"
	case awaitingUnsuback:
		return "awaiting UNSUBACK"
	default:
		return fmt.Sprintf("inflightState(%d)", uint8(s))
	}
}

// inflight is an outbound packet that holds a packet identifier until the
// server acknowledges it.
type inflight struct {
	id    uint16
	seq   uint64 // send order, used to retransmit oldest first
	state inflightState

	// publish is set for QoS 1 and 2 messages, packet for SUBSCRIBE and
	// UNSUBSCRIBE.
	publish *packets.PublishPacket
	packet  packets.Packet

	token    *token
	subToken *subscribeToken
	filters  []Subscription // requested filters of a SUBSCRIBE
}

func (e *inflight) isPublish() bool {
	return e.publish != nil
}

// fail completes whichever token the entry carries.
func (e *inflight) fail(err error) {
	if e.subToken != nil {
		e.subToken.complete(err)
	}
	if e.token != nil {
		e.token.complete(err)
	}
}

type subscriptionEntry struct {
	qos     QoS
	handler MessageHandler
}

// session holds the MQTT session state of a client: packet identifiers,
// outbound in-flight messages, inbound QoS 2 identifiers awaiting PUBREL and
// the subscription set. It outlives individual connections.
//
// All methods are safe for concurrent use. Store calls happen with the
// session lock held, so a SessionStore sees one call at a time.
type session struct {
	mu sync.Mutex

	lastID   uint16
	seq      uint64
	outbound map[uint16]*inflight
	inbound  map[uint16]struct{}

	subscriptions map[string]subscriptionEntry

	store  SessionStore // nil unless the session is persistent
	logger *slog.Logger
}

func newSession(store SessionStore, logger *slog.Logger) *session {
	return &session{
		outbound:      make(map[uint16]*inflight),
		inbound:       make(map[uint16]struct{}),
		subscriptions: make(map[string]subscriptionEntry),
		store:         store,
		logger:        logger,
	}
}

// nextPacketID returns the next free packet identifier without reserving it.
func (s *session) nextPacketID() (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextIDLocked()
}

// nextIDLocked walks the identifier space cyclically from the last
// identifier handed out, skipping identifiers still in flight.
func (s *session) nextIDLocked() (uint16, error) {
	id := s.lastID
	for i := 0; i < 65535; i++ {
		id++
		if id == 0 {
			id = 1
		}
		if _, used := s.outbound[id]; !used {
			s.lastID = id
			return id, nil
		}
	}
	return 0, ErrIdentifierSpaceExhausted
}

// record inserts an entry under its own identifier.
func (s *session) record(e *inflight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(e)
}

func (s *session) recordLocked(e *inflight) error {
	if e.id == 0 {
		return fmt.Errorf("in-flight entry without packet identifier")
	}
	if _, exists := s.outbound[e.id]; exists {
		return fmt.Errorf("packet identifier %d already in flight", e.id)
	}
	s.seq++
	e.seq = s.seq
	s.outbound[e.id] = e
	if e.isPublish() {
		s.persistPublish(e)
	}
	return nil
}

// track allocates an identifier for e, stamps it on the packet and records
// the entry.
func (s *session) track(e *inflight) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.nextIDLocked()
	if err != nil {
		return err
	}
	e.id = id
	switch {
	case e.publish != nil:
		e.publish.PacketID = id
	case e.packet != nil:
		switch p := e.packet.(type) {
		case *packets.SubscribePacket:
			p.PacketID = id
		case *packets.UnsubscribePacket:
			p.PacketID = id
		}
	}
	return s.recordLocked(e)
}

// resolve returns the in-flight entry for id.
func (s *session) resolve(id uint16) (*inflight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outbound[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return e, nil
}

// remove deletes the entry for id, if any.
func (s *session) remove(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *session) removeLocked(id uint16) {
	e, ok := s.outbound[id]
	if !ok {
		return
	}
	delete(s.outbound, id)
	if e.isPublish() && s.store != nil {
		if err := s.store.DeletePendingPublish(id); err != nil {
			s.logger.Warn("failed to delete pending publish", "packet_id", id, "error", err)
		}
	}
}

// take removes and returns the entry for id if it is in state want.
func (s *session) take(id uint16, want inflightState) (*inflight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outbound[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if e.state != want {
		return nil, fmt.Errorf("packet identifier %d is %s, not %s", id, e.state, want)
	}
	s.removeLocked(id)
	return e, nil
}

// released moves a QoS 2 entry from awaiting PUBREC to awaiting PUBCOMP.
// A duplicate PUBREC for an entry already released is accepted so the
// PUBREL can be sent again.
func (s *session) released(id uint16) (*inflight, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.outbound[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	switch e.state {
	case awaitingPubrec:
		e.state = awaitingPubcomp
		s.persistPublish(e)
		return e, nil
	case awaitingPubcomp:
		return e, nil
	default:
		return nil, fmt.Errorf("PUBREC for packet identifier %d which is %s", id, e.state)
	}
}

// receiveQoS2 records an inbound QoS 2 identifier. It reports false when the
// identifier is already recorded, meaning the PUBLISH is a redelivery that
// must not reach the handlers again.
func (s *session) receiveQoS2(id uint16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.inbound[id]; seen {
		return false
	}
	s.inbound[id] = struct{}{}
	if s.store != nil {
		if err := s.store.SaveReceivedQoS2(id); err != nil {
			s.logger.Warn("failed to persist QoS2 ID", "packet_id", id, "error", err)
		}
	}
	return true
}

// releaseQoS2 forgets an inbound QoS 2 identifier after PUBREL.
func (s *session) releaseQoS2(id uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inbound[id]; !ok {
		return
	}
	delete(s.inbound, id)
	if s.store != nil {
		if err := s.store.DeleteReceivedQoS2(id); err != nil {
			s.logger.Warn("failed to delete QoS2 ID", "packet_id", id, "error", err)
		}
	}
}

// forgetInbound drops inbound QoS 2 identifiers when the server reports it
// has no session, since no PUBREL will follow.
func (s *session) forgetInbound() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.inbound)
	if s.store != nil {
		if err := s.store.ClearReceivedQoS2(); err != nil {
			s.logger.Warn("failed to clear QoS2 IDs", "error", err)
		}
	}
}

// reset drops every in-flight entry, outbound and inbound, completing the
// outstanding tokens with err. Subscriptions are kept: they are the client's
// record of what to subscribe to on the next connection.
func (s *session) reset(err error) {
	s.mu.Lock()
	entries := s.outbound
	s.outbound = make(map[uint16]*inflight)
	clear(s.inbound)
	s.mu.Unlock()

	for _, e := range entries {
		e.fail(err)
	}
}

// connectionLost applies the end of a connection to the in-flight table.
// SUBSCRIBE and UNSUBSCRIBE requests always fail. Publishes fail too for a
// clean session; a persistent session keeps them for retransmission.
func (s *session) connectionLost(clean bool, err error) {
	s.mu.Lock()
	var failed []*inflight
	for id, e := range s.outbound {
		if clean || !e.isPublish() {
			delete(s.outbound, id)
			failed = append(failed, e)
		}
	}
	if clean {
		clear(s.inbound)
	}
	s.mu.Unlock()

	for _, e := range failed {
		e.fail(err)
	}
}

// retransmissions returns the packets to resend on a persistent reconnect,
// oldest first. PUBLISH packets get the DUP flag; messages whose PUBREC
// already arrived are resent as PUBREL.
func (s *session) retransmissions() []packets.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*inflight, 0, len(s.outbound))
	for _, e := range s.outbound {
		if e.isPublish() {
			entries = append(entries, e)
		}
	}
	slices.SortFunc(entries, func(a, b *inflight) int {
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]packets.Packet, 0, len(entries))
	for _, e := range entries {
		if e.state == awaitingPubcomp {
			out = append(out, &packets.PubrelPacket{PacketID: e.id})
			continue
		}
		dup := *e.publish
		dup.Dup = true
		out = append(out, &dup)
	}
	return out
}

// inflightCount returns the number of outbound entries.
func (s *session) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound)
}

func (s *session) persistPublish(e *inflight) {
	if s.store == nil {
		return
	}
	pub := &PersistedPublish{
		Topic:    e.publish.Topic,
		Payload:  e.publish.Payload,
		QoS:      e.publish.QoS,
		Retain:   e.publish.Retain,
		Released: e.state == awaitingPubcomp,
	}
	if err := s.store.SavePendingPublish(e.id, pub); err != nil {
		s.logger.Warn("failed to persist pending publish", "packet_id", e.id, "error", err)
	}
}

// addSubscription records or replaces the subscription for a filter.
func (s *session) addSubscription(filter string, qos QoS, handler MessageHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[filter] = subscriptionEntry{qos: qos, handler: handler}
}

// removeSubscription forgets a filter and its stored copy.
func (s *session) removeSubscription(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, filter)
	if s.store != nil {
		if err := s.store.DeleteSubscription(filter); err != nil {
			s.logger.Warn("failed to delete subscription", "filter", filter, "error", err)
		}
	}
}

// confirmSubscription persists a filter the server accepted.
func (s *session) confirmSubscription(filter string, qos QoS) {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[filter]; !ok {
		return
	}
	if err := s.store.SaveSubscription(filter, &SubscriptionInfo{QoS: uint8(qos)}); err != nil {
		s.logger.Warn("failed to persist subscription", "filter", filter, "error", err)
	}
}

// handlersFor returns the handler of every subscription whose filter
// matches topic. Each matching filter contributes its handler once.
func (s *session) handlersFor(topic string) []MessageHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	var handlers []MessageHandler
	for filter, entry := range s.subscriptions {
		if entry.handler != nil && MatchTopic(filter, topic) {
			handlers = append(handlers, entry.handler)
		}
	}
	return handlers
}

// subscriptionList returns the recorded subscriptions sorted by filter.
func (s *session) subscriptionList() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]Subscription, 0, len(s.subscriptions))
	for filter, entry := range s.subscriptions {
		subs = append(subs, Subscription{Filter: filter, QoS: entry.qos, Handler: entry.handler})
	}
	slices.SortFunc(subs, func(a, b Subscription) int {
		return cmp.Compare(a.Filter, b.Filter)
	})
	return subs
}
