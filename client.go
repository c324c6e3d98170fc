package mqttc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/augbari/mqttc/internal/packets"
)

// disconnectTimeout bounds the DISCONNECT flush and goroutine shutdown when
// the context passed to Disconnect has no deadline.
const disconnectTimeout = 5 * time.Second

// Client is an MQTT v3.1.1 client.
//
// A Client owns one session and at most one network connection at a time.
// All methods are safe for concurrent use.
type Client struct {
	opts *clientOptions

	// connectMu serializes connection attempts and Disconnect.
	connectMu sync.Mutex

	// mu guards the fields below. Lock order is mu before session.mu.
	mu            sync.RWMutex
	state         ConnectionState
	link          *link
	cancelConnect context.CancelCauseFunc
	reconnect     *reconnector
	closing       int

	// initErr is an invalid option found by NewClient, returned by Connect.
	initErr error

	session    *session
	dispatcher *dispatcher
	publish    PublishFunc

	// Statistics
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	reconnectCount  atomic.Uint64
}

// NewClient creates a client for the given server without connecting.
//
// The server is a URL: "tcp://host:1883", "mqtt://host", "tls://host:8883",
// "ssl://host" or "mqtts://host". With WithDialer any scheme is accepted.
//
// With CleanSession=false and a SessionStore, the stored session is loaded
// here, once. A store that fails to load is logged and ignored.
//
// Example:
//
//	client := mqttc.NewClient("tcp://localhost:1883",
//	    mqttc.WithClientID("sensor-1"),
//	    mqttc.WithKeepAlive(30*time.Second))
//	if err := client.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
func NewClient(server string, opts ...Option) *Client {
	options := defaultOptions(server)
	for _, opt := range opts {
		opt(options)
	}
	if options.ClientID == "" {
		options.ClientID = "mqttc-" + uuid.NewString()
	}
	options.Logger = options.Logger.With("lib", "mqttc", "client_id", options.ClientID)

	var store SessionStore
	if !options.CleanSession {
		store = options.SessionStore
	}

	c := &Client{opts: options}
	c.session = newSession(store, options.Logger)
	c.dispatcher = newDispatcher(c, options.HandlerWorkers, options.Logger)
	c.publish = applyPublishInterceptors(c.publishDirect, options.PublishInterceptors)

	if store != nil {
		if err := c.loadSession(); err != nil {
			options.Logger.Error("failed to load session state", "error", err)
		}
	}

	for _, sub := range options.InitialSubscriptions {
		if err := c.validateSubscription(sub); err != nil {
			c.initErr = errors.Join(c.initErr, err)
			continue
		}
		c.session.addSubscription(sub.Filter, sub.QoS, sub.Handler)
	}
	if w := options.will; w != nil {
		if err := validatePublishTopic(w.Topic, options); err != nil {
			c.initErr = errors.Join(c.initErr, fmt.Errorf("invalid will: %w", err))
		} else if !w.QoS.valid() {
			c.initErr = errors.Join(c.initErr, fmt.Errorf("invalid will QoS %d", w.QoS))
		}
	}

	return c
}

// Connect creates a client and connects it to the server.
//
// If the connection comes up but a re-subscription is rejected, Connect
// returns the connected client together with the error.
//
// Example:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	client, err := mqttc.Connect(ctx, "tcp://localhost:1883", "sensor-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
func Connect(ctx context.Context, server, clientID string, opts ...Option) (*Client, error) {
	opts = append([]Option{WithClientID(clientID)}, opts...)
	c := NewClient(server, opts...)
	if err := c.Connect(ctx); err != nil {
		if c.State() != StateConnected {
			return nil, err
		}
		return c, err
	}
	return c, nil
}

// ConnectWithCredentials is Connect with a username and password.
func ConnectWithCredentials(ctx context.Context, server, clientID, username, password string, opts ...Option) (*Client, error) {
	opts = append([]Option{WithCredentials(username, password)}, opts...)
	return Connect(ctx, server, clientID, opts...)
}

// Connect opens the connection and performs the MQTT handshake.
//
// It blocks until CONNACK arrives and every recorded subscription has been
// acknowledged, or until ctx or the connect timeout ends the attempt.
// Calling Connect on a connected client does nothing.
//
// Errors match (errors.Is):
//   - ErrProtocolVersionRejected, ErrIdentifierRejected, ErrServerUnavailable,
//     ErrAuthenticationRejected: the server refused; the error is a *ConnackError
//   - ErrTransport: the connection could not be opened or failed mid-handshake
//   - ErrProtocol: the server answered with something other than CONNACK
//   - ErrConnectTimeout: the connect timeout or the ctx deadline elapsed
//   - ErrSubscriptionRejected: connected, but a re-subscription was refused
//
// On cancellation Connect returns ctx.Err().
func (c *Client) Connect(ctx context.Context) error {
	if c.initErr != nil {
		return c.initErr
	}
	if c.State() == StateDisconnecting {
		return ErrDisconnecting
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	return c.connect(ctx)
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StateDisconnecting:
		c.mu.Unlock()
		return ErrDisconnecting
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	c.state = StateConnecting
	c.cancelConnect = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.cancelConnect = nil
		c.mu.Unlock()
	}()

	if c.opts.ConnectTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, c.opts.ConnectTimeout, ErrConnectTimeout)
		defer cancelTimeout()
	}

	c.opts.Logger.Debug("connecting", "server", c.opts.Server)

	l, err := c.establish(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.opts.Logger.Debug("connect failed", "error", err)
		return err
	}

	if c.opts.OnConnect != nil {
		go c.opts.OnConnect(c)
	}
	c.opts.Logger.Info("connected", "server", c.opts.Server)

	if err := c.resubscribe(ctx, l); err != nil {
		return c.connectError(ctx, err)
	}
	return nil
}

// establish dials, runs the CONNECT/CONNACK exchange and starts the link.
// On success the client is Connected.
func (c *Client) establish(ctx context.Context) (*link, error) {
	conn, err := c.dialServer(ctx)
	if err != nil {
		return nil, c.connectError(ctx, transportError("dial", err))
	}

	// Closing the connection is what interrupts a blocked handshake.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	connack, err := c.handshake(conn)
	if !stop() {
		conn.Close()
		return nil, c.connectError(ctx, err)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	if c.opts.CleanSession {
		c.session.reset(ErrClientDisconnected)
		if c.opts.SessionStore != nil {
			if err := c.opts.SessionStore.Clear(); err != nil {
				c.opts.Logger.Warn("failed to clear session store", "error", err)
			}
		}
	} else if !connack.SessionPresent {
		c.opts.Logger.Debug("server has no session, dropping inbound QoS 2 state")
		c.session.forgetInbound()
	}

	l := newLink(c, conn)

	// Nothing may wait on the connection while c.mu is held; the writer
	// sends the retransmissions ahead of its queue.
	c.mu.Lock()
	resend := c.session.retransmissions()
	l.backlog = resend
	c.link = l
	c.state = StateConnected
	l.start()
	c.mu.Unlock()

	if len(resend) > 0 {
		c.opts.Logger.Debug("retransmitted in-flight messages", "count", len(resend))
	}
	return l, nil
}

// connectError maps a failure during connect to the error Connect reports.
func (c *Client) connectError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrConnectTimeout, c.opts.ConnectTimeout)
	}
	return context.Cause(ctx)
}

// handshake sends CONNECT and reads the CONNACK. The caller interrupts it
// by closing conn.
func (c *Client) handshake(conn net.Conn) (*packets.ConnackPacket, error) {
	if _, err := c.buildConnectPacket().WriteTo(&countingWriter{Writer: conn, c: c}); err != nil {
		return nil, transportError("send CONNECT", err)
	}
	c.packetsSent.Add(1)

	// Unbuffered, so nothing after the CONNACK is consumed before the
	// reader takes over.
	pkt, err := packets.ReadPacket(&countingReader{Reader: conn, c: c}, getLimit(c.opts.MaxIncomingPacket, DefaultMaxIncomingPacket))
	if err != nil {
		if errors.Is(err, packets.ErrMalformedPacket) {
			return nil, protocolError("invalid CONNACK: %v", err)
		}
		return nil, transportError("read CONNACK", err)
	}
	c.packetsReceived.Add(1)

	connack, ok := pkt.(*packets.ConnackPacket)
	if !ok {
		return nil, protocolError("expected CONNACK, got %s", packets.Name(pkt.Type()))
	}
	if connack.ReturnCode != packets.ConnAccepted {
		return nil, &ConnackError{ReturnCode: connack.ReturnCode}
	}
	return connack, nil
}

// dialServer establishes a TCP, TLS, or custom connection to the MQTT server.
func (c *Client) dialServer(ctx context.Context) (net.Conn, error) {
	if c.opts.Dialer != nil {
		network := "tcp"
		if u, err := url.Parse(c.opts.Server); err == nil && u.Scheme != "" {
			network = u.Scheme
		}
		return c.opts.Dialer.DialContext(ctx, network, c.opts.Server)
	}

	u, err := url.Parse(c.opts.Server)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	secure := false
	switch u.Scheme {
	case "tls", "ssl", "mqtts":
		secure = true
	case "tcp", "mqtt":
		secure = c.opts.TLSConfig != nil
	default:
		return nil, fmt.Errorf("unsupported scheme %q (supported: tcp, mqtt, tls, ssl, mqtts)", u.Scheme)
	}

	host := u.Host
	if u.Port() == "" {
		port := "1883"
		if secure {
			port = "8883"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}

	if secure {
		config := c.opts.TLSConfig
		if config == nil {
			config = &tls.Config{}
		}
		if config.ServerName == "" {
			config = config.Clone()
			config.ServerName = u.Hostname()
		}
		d := &tls.Dialer{NetDialer: &net.Dialer{}, Config: config}
		return d.DialContext(ctx, "tcp", host)
	}

	var d net.Dialer
	return d.DialContext(ctx, "tcp", host)
}

// buildConnectPacket creates a CONNECT packet with the client's configuration.
func (c *Client) buildConnectPacket() *packets.ConnectPacket {
	pkt := &packets.ConnectPacket{
		ProtocolName:  packets.ProtocolName,
		ProtocolLevel: packets.ProtocolLevel,
		CleanSession:  c.opts.CleanSession,
		KeepAlive:     keepAliveSeconds(c.opts.KeepAlive),
		ClientID:      c.opts.ClientID,
	}

	if c.opts.hasCredentials {
		pkt.UsernameFlag = true
		pkt.Username = c.opts.Username
		if c.opts.Password != "" {
			pkt.PasswordFlag = true
			pkt.Password = c.opts.Password
		}
	}

	if w := c.opts.will; w != nil {
		pkt.WillFlag = true
		pkt.WillTopic = w.Topic
		pkt.WillMessage = w.Payload
		pkt.WillQoS = uint8(w.QoS)
		pkt.WillRetain = w.Retained
	}

	return pkt
}

// keepAliveSeconds rounds d up to whole seconds, capped at the 16-bit field.
func keepAliveSeconds(d time.Duration) uint16 {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	return uint16(min(secs, 65535))
}

// linkLost runs when a link's reader exits. It only acts if l is still the
// client's current link; Disconnect detaches the link before closing it.
func (c *Client) linkLost(l *link) {
	cause := l.err()
	if cause == nil {
		cause = ErrConnectionLost
	}

	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	wasConnected := c.state == StateConnected
	if wasConnected {
		c.state = StateDisconnecting
	}
	c.mu.Unlock()

	lost := fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	c.session.connectionLost(c.opts.CleanSession, lost)

	if !wasConnected {
		// connect owns the state while Connecting.
		return
	}

	c.mu.Lock()
	c.state = StateDisconnected
	if c.opts.AutoReconnect && c.closing == 0 {
		c.startReconnectLocked()
	}
	c.mu.Unlock()

	c.opts.Logger.Info("connection lost", "error", cause)
	if c.opts.OnConnectionLost != nil {
		go c.opts.OnConnectionLost(c, lost)
	}
}

// Disconnect gracefully disconnects from the server.
//
// It sends DISCONNECT, waits for it to be flushed, closes the connection and
// waits for the client's goroutines to exit, bounded by ctx. Automatic
// reconnection stops. A connect attempt in progress is cancelled.
//
// Disconnect on a disconnected client returns nil and changes nothing.
//
// Pending Subscribe and Unsubscribe tokens complete with
// ErrClientDisconnected. Unacknowledged publishes complete with it too for a
// clean session; a persistent session keeps them for the next Connect.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.closing++
	if c.cancelConnect != nil {
		c.cancelConnect(ErrClientDisconnected)
	}
	r := c.reconnect
	c.reconnect = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.closing--
		c.mu.Unlock()
	}()

	if r != nil {
		r.stop()
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	l := c.link
	c.link = nil
	c.state = StateDisconnecting
	c.mu.Unlock()

	c.opts.Logger.Debug("disconnecting")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, disconnectTimeout)
		defer cancel()
	}

	if err := l.sendWait(ctx, &packets.DisconnectPacket{}); err != nil {
		c.opts.Logger.Debug("failed to send DISCONNECT", "error", err)
	}
	l.shutdown(ErrClientDisconnected)

	// The connection is closed, so the goroutines exit promptly even when
	// the DISCONNECT flush used up ctx.
	waitCtx, cancelWait := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancelWait()
	err := l.wait(waitCtx)

	c.session.connectionLost(c.opts.CleanSession, ErrClientDisconnected)

	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("waiting for connection goroutines: %w", err)
	}
	c.opts.Logger.Info("disconnected")
	return nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the client is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// ClientID returns the client identifier sent in CONNECT, including a
// generated one.
func (c *Client) ClientID() string {
	return c.opts.ClientID
}

// currentLinkLocked returns the link if the client is Connected.
// The caller must hold c.mu.
func (c *Client) currentLinkLocked() (*link, error) {
	if c.state != StateConnected || c.link == nil {
		return nil, ErrNotConnected
	}
	return c.link, nil
}

// ClientStats holds connection and throughput statistics.
type ClientStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	ReconnectCount  uint64

	// InFlight is the number of outbound packets awaiting acknowledgment.
	InFlight int

	// PendingHandlers is the number of handler calls waiting for a worker.
	PendingHandlers int

	State ConnectionState
}

// Stats returns the current client statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		ReconnectCount:  c.reconnectCount.Load(),
		InFlight:        c.session.inflightCount(),
		PendingHandlers: c.dispatcher.pending(),
		State:           c.State(),
	}
}
