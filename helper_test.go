package mqttc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/augbari/mqttc/internal/packets"
)

const testTimeout = 5 * time.Second

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// pipeDialer hands the client one end of a net.Pipe per dial and queues the
// other end for the test to play the server.
type pipeDialer struct {
	conns chan net.Conn

	mu     sync.Mutex
	dials  int
	refuse error
}

func newPipeDialer() *pipeDialer {
	return &pipeDialer{conns: make(chan net.Conn, 16)}
}

func (d *pipeDialer) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	refuse := d.refuse
	d.mu.Unlock()
	if refuse != nil {
		return nil, refuse
	}

	server, client := net.Pipe()
	select {
	case d.conns <- server:
		return client, nil
	case <-ctx.Done():
		server.Close()
		client.Close()
		return nil, ctx.Err()
	}
}

func (d *pipeDialer) setRefuse(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.refuse = err
}

func (d *pipeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// accept returns the server side of the next connection.
func (d *pipeDialer) accept(t *testing.T) *fakeServer {
	t.Helper()
	select {
	case conn := <-d.conns:
		s := &fakeServer{t: t, conn: conn}
		t.Cleanup(func() { conn.Close() })
		return s
	case <-time.After(testTimeout):
		t.Fatal("client did not dial")
		return nil
	}
}

// fakeServer is the server end of a pipe. Tests drive it packet by packet.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
}

func (s *fakeServer) read() (packets.Packet, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(testTimeout)); err != nil {
		return nil, err
	}
	return packets.ReadPacket(s.conn, 0)
}

// next reads the next packet from the client.
func (s *fakeServer) next() packets.Packet {
	s.t.Helper()
	pkt, err := s.read()
	if err != nil {
		s.t.Fatalf("reading from client: %v", err)
	}
	return pkt
}

// send writes pkt to the client.
func (s *fakeServer) send(pkt packets.Packet) {
	s.t.Helper()
	if err := s.conn.SetWriteDeadline(time.Now().Add(testTimeout)); err != nil {
		s.t.Fatalf("set deadline: %v", err)
	}
	if _, err := pkt.WriteTo(s.conn); err != nil {
		s.t.Fatalf("writing %s to client: %v", packets.Name(pkt.Type()), err)
	}
}

// expect reads the next packet and fails the test unless it is a T.
func expect[T packets.Packet](s *fakeServer) T {
	s.t.Helper()
	pkt := s.next()
	p, ok := pkt.(T)
	if !ok {
		var want T
		s.t.Fatalf("got %s (%+v), want %T", packets.Name(pkt.Type()), pkt, want)
	}
	return p
}

// handshake reads CONNECT and answers with an accepting CONNACK.
func (s *fakeServer) handshake(sessionPresent bool) *packets.ConnectPacket {
	s.t.Helper()
	connect := expect[*packets.ConnectPacket](s)
	s.send(&packets.ConnackPacket{SessionPresent: sessionPresent})
	return connect
}

// close drops the connection.
func (s *fakeServer) close() {
	s.conn.Close()
}

// drain discards everything the client sends until the connection closes.
func (s *fakeServer) drain() {
	go func() {
		for {
			s.conn.SetReadDeadline(time.Time{})
			if _, err := packets.ReadPacket(s.conn, 0); err != nil {
				return
			}
		}
	}()
}

// newTestClient returns a client that dials through a pipeDialer.
func newTestClient(opts ...Option) (*Client, *pipeDialer) {
	d := newPipeDialer()
	opts = append([]Option{
		WithLogger(discardLogger()),
		WithKeepAlive(0),
		WithDialer(d),
	}, opts...)
	return NewClient("tcp://fake:1883", opts...), d
}

// startConnect runs Connect in the background.
func startConnect(c *Client) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		errCh <- c.Connect(ctx)
	}()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(testTimeout):
		t.Fatal("timed out waiting for result")
		return nil
	}
}

// connectTestClient connects a new client to a fake server that reports
// sessionPresent, answering no subscriptions.
func connectTestClient(t *testing.T, opts ...Option) (*Client, *pipeDialer, *fakeServer) {
	t.Helper()
	c, d := newTestClient(opts...)
	errCh := startConnect(c)
	s := d.accept(t)
	s.handshake(false)
	if err := waitErr(t, errCh); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		s.close()
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		_ = c.Disconnect(ctx)
	})
	return c, d, s
}

// waitState polls until the client reaches want.
func waitState(t *testing.T, c *Client, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", c.State(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// waitToken waits for tok and returns its error.
func waitToken(t *testing.T, tok Token) error {
	t.Helper()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-time.After(testTimeout):
		t.Fatal("token did not complete")
		return nil
	}
}

func assertPending(t *testing.T, tok Token) {
	t.Helper()
	select {
	case <-tok.Done():
		t.Fatalf("token completed early with %v", tok.Error())
	default:
	}
}

// memoryStore is a SessionStore kept in maps, with call counters.
type memoryStore struct {
	mu       sync.Mutex
	pending  map[uint16]*PersistedPublish
	subs     map[string]*SubscriptionInfo
	received map[uint16]struct{}
	clears   int
	failLoad error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		pending:  make(map[uint16]*PersistedPublish),
		subs:     make(map[string]*SubscriptionInfo),
		received: make(map[uint16]struct{}),
	}
}

func (m *memoryStore) SavePendingPublish(id uint16, pub *PersistedPublish) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pub
	m.pending[id] = &cp
	return nil
}

func (m *memoryStore) DeletePendingPublish(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	return nil
}

func (m *memoryStore) LoadPendingPublishes() (map[uint16]*PersistedPublish, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	out := make(map[uint16]*PersistedPublish, len(m.pending))
	for id, p := range m.pending {
		cp := *p
		out[id] = &cp
	}
	return out, nil
}

func (m *memoryStore) SaveSubscription(filter string, sub *SubscriptionInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.subs[filter] = &cp
	return nil
}

func (m *memoryStore) DeleteSubscription(filter string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs, filter)
	return nil
}

func (m *memoryStore) LoadSubscriptions() (map[string]*SubscriptionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*SubscriptionInfo, len(m.subs))
	for f, s := range m.subs {
		cp := *s
		out[f] = &cp
	}
	return out, nil
}

func (m *memoryStore) SaveReceivedQoS2(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received[id] = struct{}{}
	return nil
}

func (m *memoryStore) DeleteReceivedQoS2(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.received, id)
	return nil
}

func (m *memoryStore) LoadReceivedQoS2() (map[uint16]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint16]struct{}, len(m.received))
	for id := range m.received {
		out[id] = struct{}{}
	}
	return out, nil
}

func (m *memoryStore) ClearReceivedQoS2() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.received)
	return nil
}

func (m *memoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.pending)
	clear(m.subs)
	clear(m.received)
	m.clears++
	return nil
}

func (m *memoryStore) pendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

var errRefused = errors.New("connection refused")

func describe(pkt packets.Packet) string {
	return fmt.Sprintf("%s %+v", packets.Name(pkt.Type()), pkt)
}

func readPublish(t *testing.T, s *fakeServer) *packets.PublishPacket {
	t.Helper()
	return expect[*packets.PublishPacket](s)
}
