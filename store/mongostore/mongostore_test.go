package mongostore

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/augbari/mqttc"
)

// newTestStore connects to the server named by MQTTC_MONGO_URI and skips the
// test when it is unset.
func newTestStore(t *testing.T, clientID string) *Store {
	t.Helper()
	uri := os.Getenv("MQTTC_MONGO_URI")
	if uri == "" {
		t.Skip("MQTTC_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, client, err := Connect(ctx, uri, "mqttc_test", clientID)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		_ = s.Clear()
		_ = client.Disconnect(context.Background())
	})
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	return s
}

func TestNewRequiresClientID(t *testing.T) {
	if _, err := New(context.Background(), nil, ""); err != ErrClientIDEmpty {
		t.Fatalf("New() error = %v, want %v", err, ErrClientIDEmpty)
	}
}

func TestPendingDocumentLayout(t *testing.T) {
	doc := pendingDoc{
		ClientID:         "c1",
		PacketID:         5,
		PersistedPublish: mqttc.PersistedPublish{Topic: "a/b", QoS: 1},
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{"client_id", "packet_id", "topic", "qos", "retain"} {
		if _, ok := m[field]; !ok {
			t.Errorf("field %q missing from %v", field, m)
		}
	}
	if _, ok := m["released"]; ok {
		t.Errorf("released should be omitted when false: %v", m)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t, "mongostore-test")

	if err := s.SavePendingPublish(1, &mqttc.PersistedPublish{Topic: "t", Payload: []byte("p"), QoS: 2}); err != nil {
		t.Fatal(err)
	}
	if err := s.SavePendingPublish(1, &mqttc.PersistedPublish{Topic: "t", Payload: []byte("p"), QoS: 2, Released: true}); err != nil {
		t.Fatal(err)
	}
	pending, err := s.LoadPendingPublishes()
	if err != nil {
		t.Fatal(err)
	}
	if p := pending[1]; p == nil || !p.Released || string(p.Payload) != "p" {
		t.Errorf("pending = %+v", pending)
	}

	if err := s.SaveSubscription("a/#", &mqttc.SubscriptionInfo{QoS: 1}); err != nil {
		t.Fatal(err)
	}
	subs, err := s.LoadSubscriptions()
	if err != nil {
		t.Fatal(err)
	}
	if subs["a/#"] == nil || subs["a/#"].QoS != 1 {
		t.Errorf("subscriptions = %v", subs)
	}

	if err := s.SaveReceivedQoS2(9); err != nil {
		t.Fatal(err)
	}
	ids, err := s.LoadReceivedQoS2()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := ids[9]; !ok {
		t.Errorf("received = %v", ids)
	}

	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	pending, _ = s.LoadPendingPublishes()
	subs, _ = s.LoadSubscriptions()
	ids, _ = s.LoadReceivedQoS2()
	if len(pending)+len(subs)+len(ids) != 0 {
		t.Errorf("state after Clear: %v %v %v", pending, subs, ids)
	}
}
