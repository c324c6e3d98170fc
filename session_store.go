package mqttc

// SessionStore handles persistence of session state across process restarts.
//
// The store is only used when CleanSession is false. State is loaded once,
// when the Client is created; during network reconnections the in-memory
// state is authoritative and the store just mirrors it.
//
// What Gets Persisted:
//
//   - Unacknowledged QoS 1 and QoS 2 publishes, including whether PUBREC
//     already arrived (so PUBREL rather than PUBLISH is resent)
//   - Subscriptions accepted by the server
//   - Received QoS 2 packet IDs awaiting PUBREL (to prevent duplicate delivery)
//
// What Does NOT Get Persisted:
//
//   - QoS 0 publishes
//   - Message handlers; re-register them with WithSubscription, or rely on
//     WithDefaultPublishHandler
//
// Threading Model:
//
// The client serializes calls, so implementations do not need to be safe for
// concurrent use by a single client. Calls happen while the client holds its
// session lock; slow stores slow down message flow.
//
// Error Handling:
//
// Save and Delete errors are logged at Warn level and do not fail the
// operation. Load errors fail NewClient's session restore and are logged;
// the client then starts with an empty session.
type SessionStore interface {
	// SavePendingPublish stores or replaces an outgoing publish that has not
	// been fully acknowledged.
	SavePendingPublish(packetID uint16, pub *PersistedPublish) error

	// DeletePendingPublish removes a publish after PUBACK (QoS 1) or
	// PUBCOMP (QoS 2).
	DeletePendingPublish(packetID uint16) error

	// LoadPendingPublishes retrieves all pending publishes.
	LoadPendingPublishes() (map[uint16]*PersistedPublish, error)

	// SaveSubscription stores a subscription after SUBACK.
	SaveSubscription(filter string, sub *SubscriptionInfo) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(filter string) error

	// LoadSubscriptions retrieves all subscriptions.
	LoadSubscriptions() (map[string]*SubscriptionInfo, error)

	// SaveReceivedQoS2 marks an inbound QoS 2 packet ID as received.
	SaveReceivedQoS2(packetID uint16) error

	// DeleteReceivedQoS2 removes an inbound QoS 2 packet ID after PUBREL.
	DeleteReceivedQoS2(packetID uint16) error

	// LoadReceivedQoS2 retrieves all received QoS 2 packet IDs.
	LoadReceivedQoS2() (map[uint16]struct{}, error)

	// ClearReceivedQoS2 removes all received QoS 2 packet IDs.
	// Called when the server reports no session present.
	ClearReceivedQoS2() error

	// Clear removes all session state.
	// Called when connecting with CleanSession=true.
	Clear() error
}

// PersistedPublish is the stored form of an unacknowledged publish.
type PersistedPublish struct {
	Topic   string `json:"topic" bson:"topic"`
	Payload []byte `json:"payload" bson:"payload"`
	QoS     uint8  `json:"qos" bson:"qos"`
	Retain  bool   `json:"retain" bson:"retain"`

	// Released is true for a QoS 2 publish whose PUBREC arrived and whose
	// PUBREL is awaiting PUBCOMP.
	Released bool `json:"released,omitempty" bson:"released,omitempty"`
}

// SubscriptionInfo is the stored form of a subscription.
type SubscriptionInfo struct {
	QoS uint8 `json:"qos" bson:"qos"`
}
