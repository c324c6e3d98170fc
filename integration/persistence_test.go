package integration_test

import (
	"context"
	"testing"
	"time"

	"github.com/augbari/mqttc"
)

// A persistent subscriber that goes offline receives the QoS 1 messages
// published meanwhile, through the default handler after a process restart.
func TestPersistentSessionAcrossRestart(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "# Dedicated for persistence test")
	defer cleanup()

	dir := t.TempDir()
	const clientID = "it-persistent"
	topic := "it/persistent/" + t.Name()

	store1, err := mqttc.NewFileStore(dir, clientID)
	if err != nil {
		t.Fatal(err)
	}
	first := dial(t, server, clientID, mqttc.WithCleanSession(false), mqttc.WithSessionStore(store1))
	waitFor(t, "subscribe", first.Subscribe(topic, mqttc.AtLeastOnce, nil))
	if err := first.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}

	subs, err := store1.LoadSubscriptions()
	if err != nil || subs[topic] == nil {
		t.Fatalf("stored subscriptions = %v, %v", subs, err)
	}

	pub := dial(t, server, "it-persistent-pub")
	waitFor(t, "publish", pub.Publish(topic, []byte("while offline"), mqttc.WithQoS(mqttc.AtLeastOnce)))

	received := make(chan mqttc.Message, 1)
	store2, err := mqttc.NewFileStore(dir, clientID)
	if err != nil {
		t.Fatal(err)
	}
	dial(t, server, clientID,
		mqttc.WithCleanSession(false),
		mqttc.WithSessionStore(store2),
		mqttc.WithDefaultPublishHandler(func(_ *mqttc.Client, msg mqttc.Message) {
			received <- msg
		}))

	select {
	case msg := <-received:
		if string(msg.Payload) != "while offline" {
			t.Errorf("payload = %q", msg.Payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("queued message not delivered after restart")
	}
}

func TestCleanSessionDiscardsServerState(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "# Dedicated for clean session test")
	defer cleanup()

	const clientID = "it-clean"
	topic := "it/clean/" + t.Name()

	first := dial(t, server, clientID, mqttc.WithCleanSession(false))
	waitFor(t, "subscribe", first.Subscribe(topic, mqttc.AtLeastOnce, nil))
	if err := first.Disconnect(context.Background()); err != nil {
		t.Fatal(err)
	}

	pub := dial(t, server, "it-clean-pub")
	waitFor(t, "publish", pub.Publish(topic, []byte("dropped"), mqttc.WithQoS(mqttc.AtLeastOnce)))

	received := make(chan mqttc.Message, 1)
	dial(t, server, clientID, mqttc.WithDefaultPublishHandler(func(_ *mqttc.Client, msg mqttc.Message) {
		received <- msg
	}))

	select {
	case msg := <-received:
		t.Fatalf("clean session received %q", msg.Payload)
	case <-time.After(time.Second):
	}
}
