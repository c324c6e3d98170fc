package mqttc

import (
	"bytes"
	"net"
	"testing"

	"github.com/augbari/mqttc/internal/packets"
)

// FuzzClientHandleIncoming decodes arbitrary bytes and feeds any packet that
// comes out to the client's dispatch, with some in-flight state present.
// Neither step may panic.
func FuzzClientHandleIncoming(f *testing.F) {
	f.Add([]byte{0x20, 0x02, 0x00, 0x00})
	f.Add([]byte{0x30, 0x03, 0x00, 0x01, 'a'})
	f.Add([]byte{0x32, 0x05, 0x00, 0x01, 'a', 0x00, 0x01})
	f.Add([]byte{0x34, 0x05, 0x00, 0x01, 'a', 0x00, 0x02})
	f.Add([]byte{0x40, 0x02, 0x00, 0x01})
	f.Add([]byte{0x50, 0x02, 0x00, 0x02})
	f.Add([]byte{0x62, 0x02, 0x00, 0x02})
	f.Add([]byte{0x70, 0x02, 0x00, 0x02})
	f.Add([]byte{0x90, 0x03, 0x00, 0x03, 0x00})
	f.Add([]byte{0x90, 0x04, 0x00, 0x03, 0x00, 0x80})
	f.Add([]byte{0xb0, 0x02, 0x00, 0x04})
	f.Add([]byte{0xd0, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		pkt, err := packets.ReadPacket(bytes.NewReader(data), 1024)
		if err != nil {
			return
		}

		c := NewClient("tcp://fuzz", WithLogger(discardLogger()), WithDefaultPublishHandler(func(*Client, Message) {}))
		server, conn := net.Pipe()
		defer server.Close()
		defer conn.Close()
		// Not started: sends only fill the queue.
		l := newLink(c, conn)

		_ = c.session.track(&inflight{state: awaitingPuback, publish: &packets.PublishPacket{Topic: "q1", QoS: 1}, token: newToken()})
		_ = c.session.track(&inflight{state: awaitingPubrec, publish: &packets.PublishPacket{Topic: "q2", QoS: 2}, token: newToken()})
		_ = c.session.track(&inflight{state: awaitingSuback, packet: &packets.SubscribePacket{Topics: []string{"s"}, QoS: []uint8{0}},
			subToken: newSubscribeToken(), filters: []Subscription{{Filter: "s"}}})
		_ = c.session.track(&inflight{state: awaitingUnsuback, packet: &packets.UnsubscribePacket{Topics: []string{"s"}}, token: newToken()})

		_ = c.handleIncoming(l, pkt)
		c.dispatcher.wait()
	})
}
