package mqttc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/augbari/mqttc/internal/packets"
)

// outgoingQueueSize bounds the packets waiting for the writer. Senders block
// when it is full.
const outgoingQueueSize = 1000

type outgoing struct {
	pkt  packets.Packet
	done chan error // optional, receives the flush result
}

// link is one network connection and the two goroutines that serve it.
//
// The writer goroutine is the only one that writes to conn; it also runs the
// keepalive. The reader goroutine decodes packets and hands them to the
// client. A link is never reused: a new connection gets a new link.
type link struct {
	client *Client
	conn   net.Conn
	logger *slog.Logger

	keepAlive   time.Duration
	pingTimeout time.Duration

	queue    chan outgoing
	pingResp chan struct{}

	// backlog is written before anything from queue. Set before start.
	backlog []packets.Packet

	stop     chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	cause    error

	wg sync.WaitGroup
}

func newLink(c *Client, conn net.Conn) *link {
	return &link{
		client:      c,
		conn:        conn,
		logger:      c.opts.Logger,
		keepAlive:   c.opts.KeepAlive,
		pingTimeout: c.opts.pingTimeout(),
		queue:       make(chan outgoing, outgoingQueueSize),
		pingResp:    make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}
}

func (l *link) start() {
	l.wg.Add(2)
	go l.readLoop()
	go l.writeLoop()
}

// shutdown closes the connection. The first cause wins.
func (l *link) shutdown(cause error) {
	l.stopOnce.Do(func() {
		l.mu.Lock()
		l.cause = cause
		l.mu.Unlock()
		close(l.stop)
		l.conn.Close()
	})
}

// err returns why the link stopped, or nil while it is running.
func (l *link) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cause
}

func (l *link) closed() error {
	if err := l.err(); err != nil {
		return err
	}
	return ErrConnectionLost
}

// send queues pkt for the writer.
func (l *link) send(pkt packets.Packet) error {
	select {
	case <-l.stop:
		return l.closed()
	default:
	}
	select {
	case l.queue <- outgoing{pkt: pkt}:
		return nil
	case <-l.stop:
		return l.closed()
	}
}

// sendWait queues pkt and waits until it has been flushed to the connection.
func (l *link) sendWait(ctx context.Context, pkt packets.Packet) error {
	done := make(chan error, 1)
	select {
	case l.queue <- outgoing{pkt: pkt, done: done}:
	case <-l.stop:
		return l.closed()
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-l.stop:
		return l.closed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wait blocks until both goroutines have exited.
func (l *link) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *link) pingResponse() {
	select {
	case l.pingResp <- struct{}{}:
	default:
	}
}

func (l *link) readLoop() {
	defer l.wg.Done()
	defer l.client.linkLost(l)

	br := bufio.NewReader(&countingReader{Reader: l.conn, c: l.client})
	maxSize := getLimit(l.client.opts.MaxIncomingPacket, DefaultMaxIncomingPacket)

	for {
		pkt, err := packets.ReadPacket(br, maxSize)
		if err != nil {
			switch {
			case errors.Is(err, packets.ErrMalformedPacket):
				err = protocolError("%v", err)
			case errors.Is(err, io.EOF):
				err = transportError("read", errors.New("connection closed by server"))
			default:
				err = transportError("read", err)
			}
			l.logger.Debug("read error, closing connection", "error", err)
			l.shutdown(err)
			return
		}
		l.client.packetsReceived.Add(1)
		l.logger.Debug("received packet", "type", packets.Name(pkt.Type()))

		if err := l.client.handleIncoming(l, pkt); err != nil {
			l.logger.Debug("closing connection", "error", err)
			l.shutdown(err)
			return
		}
	}
}

func (l *link) writeLoop() {
	defer l.wg.Done()

	var tick <-chan time.Time
	if l.keepAlive > 0 {
		ticker := time.NewTicker(max(l.keepAlive/4, time.Millisecond))
		defer ticker.Stop()
		tick = ticker.C
	}

	var pingTimer *time.Timer
	var pingExpired <-chan time.Time
	defer func() {
		if pingTimer != nil {
			pingTimer.Stop()
		}
	}()

	bw := bufio.NewWriter(&countingWriter{Writer: l.conn, c: l.client})
	lastSent := time.Now()

	var waiters []chan error
	write := func(item outgoing) error {
		l.logger.Debug("sending packet", "type", packets.Name(item.pkt.Type()))
		if _, err := item.pkt.WriteTo(bw); err != nil {
			return err
		}
		l.client.packetsSent.Add(1)
		if item.done != nil {
			waiters = append(waiters, item.done)
		}
		return nil
	}
	fail := func(err error) {
		err = transportError("write", err)
		l.logger.Debug("write error, closing connection", "error", err)
		for _, w := range waiters {
			w <- err
		}
		l.shutdown(err)
	}

	if len(l.backlog) > 0 {
		for _, pkt := range l.backlog {
			if err := write(outgoing{pkt: pkt}); err != nil {
				fail(err)
				return
			}
		}
		if err := bw.Flush(); err != nil {
			fail(err)
			return
		}
		lastSent = time.Now()
	}

	for {
		select {
		case item := <-l.queue:
			if err := write(item); err != nil {
				fail(err)
				return
			}
			// Drain what is already queued so one flush covers the batch.
			for i, n := 0, len(l.queue); i < n; i++ {
				if err := write(<-l.queue); err != nil {
					fail(err)
					return
				}
			}
			if err := bw.Flush(); err != nil {
				fail(err)
				return
			}
			lastSent = time.Now()
			for _, w := range waiters {
				w <- nil
			}
			waiters = waiters[:0]

		case <-tick:
			if pingExpired != nil || time.Since(lastSent) < l.keepAlive {
				continue
			}
			l.logger.Debug("sending PINGREQ", "idle", time.Since(lastSent))
			if err := write(outgoing{pkt: &packets.PingreqPacket{}}); err != nil {
				fail(err)
				return
			}
			if err := bw.Flush(); err != nil {
				fail(err)
				return
			}
			lastSent = time.Now()
			pingTimer = time.NewTimer(l.pingTimeout)
			pingExpired = pingTimer.C

		case <-l.pingResp:
			if pingTimer != nil {
				pingTimer.Stop()
				pingTimer = nil
			}
			pingExpired = nil

		case <-pingExpired:
			l.logger.Debug("no PINGRESP, closing connection", "ping_timeout", l.pingTimeout)
			pingTimer = nil
			l.shutdown(ErrKeepaliveTimeout)
			return

		case <-l.stop:
			return
		}
	}
}

type countingReader struct {
	io.Reader
	c *Client
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.Reader.Read(p)
	if n > 0 {
		r.c.bytesReceived.Add(uint64(n))
	}
	return n, err
}

type countingWriter struct {
	io.Writer
	c *Client
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	if n > 0 {
		w.c.bytesSent.Add(uint64(n))
	}
	return n, err
}
