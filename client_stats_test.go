package mqttc

import (
	"testing"
	"time"

	"github.com/augbari/mqttc/internal/packets"
)

func TestStats(t *testing.T) {
	c, d := newTestClient()
	if st := c.Stats(); st.State != StateDisconnected || st.PacketsSent != 0 || st.InFlight != 0 {
		t.Fatalf("initial stats = %+v", st)
	}

	errCh := startConnect(c)
	s := d.accept(t)
	s.handshake(false)
	if err := waitErr(t, errCh); err != nil {
		t.Fatal(err)
	}
	defer s.close()

	st := c.Stats()
	if st.State != StateConnected || st.PacketsSent != 1 || st.PacketsReceived != 1 {
		t.Errorf("after connect = %+v", st)
	}
	if st.BytesReceived != 4 {
		t.Errorf("BytesReceived = %d, want 4 (CONNACK)", st.BytesReceived)
	}
	if st.BytesSent == 0 {
		t.Error("BytesSent = 0")
	}

	tok := c.Publish("a", []byte("x"), WithQoS(AtLeastOnce))
	if n := c.Stats().InFlight; n != 1 {
		t.Errorf("InFlight = %d, want 1", n)
	}
	p := expect[*packets.PublishPacket](s)
	s.send(&packets.PubackPacket{PacketID: p.PacketID})
	if err := waitToken(t, tok); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(testTimeout)
	for {
		st = c.Stats()
		if st.PacketsSent == 2 && st.PacketsReceived == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("stats = %+v, want 2 packets each way", st)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if st.InFlight != 0 {
		t.Errorf("InFlight = %d after PUBACK", st.InFlight)
	}
}
