package integration_test

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/augbari/mqttc"
)

// simpleProxy forwards traffic between a local listener and a target address.
// It allows forcibly closing active connections to simulate network failures.
type simpleProxy struct {
	listener net.Listener
	target   string
	conns    sync.Map // map[net.Conn]struct{}
	wg       sync.WaitGroup
	done     chan struct{}
}

func newProxy(t *testing.T, target string) *simpleProxy {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to start proxy listener: %v", err)
	}
	p := &simpleProxy{
		listener: l,
		target:   target,
		done:     make(chan struct{}),
	}

	p.wg.Add(1)
	go p.acceptLoop()
	return p
}

func (p *simpleProxy) address() string {
	return p.listener.Addr().String()
}

func (p *simpleProxy) acceptLoop() {
	defer p.wg.Done()
	for {
		clientConn, err := p.listener.Accept()
		if err != nil {
			select {
			case <-p.done:
				return
			default:
				// Log error if desired, but acceptable during shutdown
				return
			}
		}

		p.wg.Add(1)
		go p.handleConn(clientConn)
	}
}

func (p *simpleProxy) handleConn(clientConn net.Conn) {
	defer p.wg.Done()
	p.conns.Store(clientConn, struct{}{})
	defer p.conns.Delete(clientConn)
	defer clientConn.Close()

	targetConn, err := net.Dial("tcp", p.target)
	if err != nil {
		return
	}
	defer targetConn.Close()

	p.conns.Store(targetConn, struct{}{})
	defer p.conns.Delete(targetConn)

	// Pipe data
	go io.Copy(targetConn, clientConn)
	io.Copy(clientConn, targetConn)
}

func (p *simpleProxy) closeConnections() {
	p.conns.Range(func(key, value any) bool {
		if conn, ok := key.(net.Conn); ok {
			conn.Close()
		}
		return true
	})
}

func (p *simpleProxy) cleanup() {
	close(p.done)
	p.listener.Close()
	p.closeConnections()
	p.wg.Wait()
}

func TestLastWillOnNetworkFailure(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "")
	defer cleanup()

	proxy := newProxy(t, server[len("tcp://"):])
	defer proxy.cleanup()

	topic := "it/wills/" + t.Name()

	lost := make(chan error, 1)
	dial(t, "tcp://"+proxy.address(), "it-victim",
		mqttc.WithWill(topic, []byte("died"), mqttc.AtLeastOnce, false),
		mqttc.WithOnConnectionLost(func(_ *mqttc.Client, err error) { lost <- err }))

	witness := dial(t, server, "it-witness")
	wills := make(chan mqttc.Message, 1)
	waitFor(t, "subscribe", witness.Subscribe(topic, mqttc.AtLeastOnce, func(_ *mqttc.Client, msg mqttc.Message) {
		wills <- msg
	}))

	proxy.listener.Close()
	proxy.closeConnections()

	select {
	case err := <-lost:
		if !errors.Is(err, mqttc.ErrConnectionLost) {
			t.Errorf("connection lost error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("connection loss not reported")
	}

	select {
	case msg := <-wills:
		if string(msg.Payload) != "died" {
			t.Errorf("will payload = %q", msg.Payload)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Timeout waiting for Will message")
	}
}

func TestLastWillSuppressedByDisconnect(t *testing.T) {
	t.Parallel()
	server, cleanup := startMosquitto(t, "")
	defer cleanup()

	topic := "it/wills/" + t.Name()
	witness := dial(t, server, "it-witness-polite")
	wills := make(chan mqttc.Message, 1)
	waitFor(t, "subscribe", witness.Subscribe(topic, mqttc.AtLeastOnce, func(_ *mqttc.Client, msg mqttc.Message) {
		wills <- msg
	}))

	polite := dial(t, server, "it-polite", mqttc.WithWill(topic, []byte("died"), mqttc.AtLeastOnce, false))
	if err := polite.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	select {
	case msg := <-wills:
		t.Fatalf("will published after DISCONNECT: %q", msg.Payload)
	case <-time.After(time.Second):
	}
}
