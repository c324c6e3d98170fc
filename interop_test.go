package mqttc_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/augbari/mqttc"
	"github.com/augbari/mqttc/wsdial"
)

const waitTimeout = 5 * time.Second

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// newBroker starts an in-process broker with the given auth hook.
// A nil ledger allows everyone.
func newBroker(t *testing.T, ledger *auth.Ledger, listener func(addr string) listeners.Listener) string {
	t.Helper()
	server := mochi.New(&mochi.Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if ledger == nil {
		require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	} else {
		require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}))
	}
	addr := freeAddr(t)
	require.NoError(t, server.AddListener(listener(addr)))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { server.Close() })

	// Some listeners bind in the background after Serve returns.
	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, waitTimeout, 10*time.Millisecond, "broker not listening on %s", addr)
	return addr
}

func startTCPBroker(t *testing.T) string {
	t.Helper()
	addr := newBroker(t, nil, func(addr string) listeners.Listener {
		return listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	})
	return "tcp://" + addr
}

func connect(t *testing.T, server, clientID string, opts ...mqttc.Option) *mqttc.Client {
	t.Helper()
	opts = append([]mqttc.Option{mqttc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c, err := mqttc.Connect(ctx, server, clientID, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect(context.Background()) })
	return c
}

func wait(t *testing.T, tok mqttc.Token) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, tok.Wait(ctx))
}

func pahoClient(t *testing.T, server, clientID string) paho.Client {
	t.Helper()
	opts := paho.NewClientOptions().AddBroker(server).SetClientID(clientID).SetAutoReconnect(false)
	pc := paho.NewClient(opts)
	tok := pc.Connect()
	require.True(t, tok.WaitTimeout(waitTimeout), "paho connect timed out")
	require.NoError(t, tok.Error())
	t.Cleanup(func() { pc.Disconnect(100) })
	return pc
}

func pahoWait(t *testing.T, tok paho.Token) {
	t.Helper()
	require.True(t, tok.WaitTimeout(waitTimeout), "paho operation timed out")
	require.NoError(t, tok.Error())
}

// inbox collects messages from handler workers.
type inbox struct {
	mu   sync.Mutex
	msgs []mqttc.Message
}

func (b *inbox) handle(_ *mqttc.Client, msg mqttc.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msg)
}

func (b *inbox) snapshot() []mqttc.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]mqttc.Message(nil), b.msgs...)
}

func TestInteropReceiveFromPaho(t *testing.T) {
	server := startTCPBroker(t)
	c := connect(t, server, "receiver")

	var exact, wild inbox
	tok := c.SubscribeMultiple([]mqttc.Subscription{
		{Filter: "interop/+/data", QoS: mqttc.ExactlyOnce, Handler: exact.handle},
		{Filter: "interop/#", QoS: mqttc.AtLeastOnce, Handler: wild.handle},
	})
	wait(t, tok)
	results := tok.Results()
	require.Len(t, results, 2)
	assert.Equal(t, mqttc.ExactlyOnce, results[0].Granted)
	assert.Equal(t, mqttc.AtLeastOnce, results[1].Granted)

	pub := pahoClient(t, server, "paho-publisher")
	for qos := byte(0); qos <= 2; qos++ {
		pahoWait(t, pub.Publish("interop/x/data", qos, false, []byte{'0' + qos}))
	}

	// Both filters match, so both handlers see every message.
	payloads := func(b *inbox) map[string]bool {
		set := map[string]bool{}
		for _, m := range b.snapshot() {
			set[string(m.Payload)] = true
		}
		return set
	}
	want := map[string]bool{"0": true, "1": true, "2": true}
	assert.Eventually(t, func() bool {
		return len(payloads(&exact)) == 3 && len(payloads(&wild)) == 3
	}, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, want, payloads(&exact))
	assert.Equal(t, want, payloads(&wild))
	for _, m := range exact.snapshot() {
		assert.Equal(t, "interop/x/data", m.Topic)
	}
}

func TestInteropPublishToPaho(t *testing.T) {
	server := startTCPBroker(t)
	c := connect(t, server, "publisher")

	received := make(chan paho.Message, 8)
	sub := pahoClient(t, server, "paho-subscriber")
	pahoWait(t, sub.Subscribe("out/#", 2, func(_ paho.Client, m paho.Message) { received <- m }))

	for _, qos := range []mqttc.QoS{mqttc.AtMostOnce, mqttc.AtLeastOnce, mqttc.ExactlyOnce} {
		wait(t, c.Publish("out/qos", []byte{byte('0' + qos)}, mqttc.WithQoS(qos)))
	}

	for i := 0; i < 3; i++ {
		select {
		case m := <-received:
			assert.Equal(t, "out/qos", m.Topic())
			assert.Equal(t, []byte{byte('0' + i)}, m.Payload())
		case <-time.After(waitTimeout):
			t.Fatalf("paho received %d of 3 messages", i)
		}
	}
}

func TestInteropRetained(t *testing.T) {
	server := startTCPBroker(t)
	c := connect(t, server, "retainer")
	wait(t, c.Publish("status/device", []byte("online"), mqttc.WithQoS(mqttc.AtLeastOnce), mqttc.WithRetain(true)))

	got := make(chan mqttc.Message, 1)
	late := connect(t, server, "late")
	wait(t, late.Subscribe("status/#", mqttc.AtLeastOnce, func(_ *mqttc.Client, m mqttc.Message) { got <- m }))

	select {
	case m := <-got:
		assert.True(t, m.Retained)
		assert.Equal(t, "online", string(m.Payload))
	case <-time.After(waitTimeout):
		t.Fatal("retained message not delivered")
	}
}

func TestInteropUnsubscribe(t *testing.T) {
	server := startTCPBroker(t)
	c := connect(t, server, "unsub")

	var box inbox
	wait(t, c.Subscribe("u/t", mqttc.AtLeastOnce, box.handle))
	wait(t, c.Publish("u/t", []byte("1"), mqttc.WithQoS(mqttc.AtLeastOnce)))
	require.Eventually(t, func() bool { return len(box.snapshot()) == 1 }, waitTimeout, 10*time.Millisecond)

	wait(t, c.Unsubscribe("u/t"))
	wait(t, c.Publish("u/t", []byte("2"), mqttc.WithQoS(mqttc.AtLeastOnce)))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, box.snapshot(), 1)
}

// netDialer dials plain TCP and remembers the last connection.
type netDialer struct {
	mu   sync.Mutex
	last net.Conn
}

func (d *netDialer) DialContext(ctx context.Context, _, addr string) (net.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", u.Host)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.last = conn
	d.mu.Unlock()
	return conn, nil
}

func (d *netDialer) drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last.Close()
}

func TestInteropWillOnConnectionLoss(t *testing.T) {
	server := startTCPBroker(t)

	wills := make(chan paho.Message, 1)
	watcher := pahoClient(t, server, "watcher")
	pahoWait(t, watcher.Subscribe("will/dev", 1, func(_ paho.Client, m paho.Message) { wills <- m }))

	lost := make(chan error, 1)
	d := &netDialer{}
	connect(t, server, "dying",
		mqttc.WithDialer(d),
		mqttc.WithWill("will/dev", []byte("gone"), mqttc.AtLeastOnce, false),
		mqttc.WithOnConnectionLost(func(_ *mqttc.Client, err error) { lost <- err }))

	d.drop()

	select {
	case err := <-lost:
		assert.ErrorIs(t, err, mqttc.ErrConnectionLost)
	case <-time.After(waitTimeout):
		t.Fatal("connection loss not reported")
	}
	select {
	case m := <-wills:
		assert.Equal(t, "gone", string(m.Payload()))
	case <-time.After(waitTimeout):
		t.Fatal("will not published")
	}
}

func TestInteropGracefulDisconnectSuppressesWill(t *testing.T) {
	server := startTCPBroker(t)

	wills := make(chan paho.Message, 1)
	watcher := pahoClient(t, server, "watcher")
	pahoWait(t, watcher.Subscribe("will/dev", 1, func(_ paho.Client, m paho.Message) { wills <- m }))

	c := connect(t, server, "polite", mqttc.WithWill("will/dev", []byte("gone"), mqttc.AtLeastOnce, false))
	require.NoError(t, c.Disconnect(context.Background()))

	select {
	case m := <-wills:
		t.Fatalf("will published after DISCONNECT: %q", m.Payload())
	case <-time.After(300 * time.Millisecond):
	}
}

func TestInteropAuthentication(t *testing.T) {
	ledger := &auth.Ledger{
		Auth: auth.AuthRules{
			{Username: "user", Password: "secret", Allow: true},
		},
	}
	addr := newBroker(t, ledger, func(addr string) listeners.Listener {
		return listeners.NewTCP(listeners.Config{ID: "tcp", Address: addr})
	})
	server := "tcp://" + addr

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	_, err := mqttc.ConnectWithCredentials(ctx, server, "intruder", "user", "wrong")
	require.Error(t, err)
	assert.ErrorIs(t, err, mqttc.ErrAuthenticationRejected)
	var connackErr *mqttc.ConnackError
	assert.True(t, errors.As(err, &connackErr))

	c, err := mqttc.ConnectWithCredentials(ctx, server, "friend", "user", "secret")
	require.NoError(t, err)
	require.NoError(t, c.Disconnect(ctx))
}

func TestInteropWebSocket(t *testing.T) {
	addr := newBroker(t, nil, func(addr string) listeners.Listener {
		return listeners.NewWebsocket(listeners.Config{ID: "ws", Address: addr})
	})

	c := connect(t, "ws://"+addr, "ws-client", mqttc.WithDialer(&wsdial.Dialer{}))

	got := make(chan mqttc.Message, 1)
	wait(t, c.Subscribe("ws/echo", mqttc.ExactlyOnce, func(_ *mqttc.Client, m mqttc.Message) { got <- m }))
	wait(t, c.Publish("ws/echo", []byte("over websocket"), mqttc.WithQoS(mqttc.ExactlyOnce)))

	select {
	case m := <-got:
		assert.Equal(t, "over websocket", string(m.Payload))
		assert.Equal(t, mqttc.ExactlyOnce, m.QoS)
	case <-time.After(waitTimeout):
		t.Fatal("message not echoed over WebSocket")
	}
}

func TestWebSocketDialerRejectsScheme(t *testing.T) {
	_, err := (&wsdial.Dialer{}).DialContext(context.Background(), "tcp", "tcp://localhost:1883")
	assert.ErrorContains(t, err, "unsupported scheme")
}
