package mqttc

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"time"
)

// ContextDialer is an interface for custom network dialing logic.
// It matches the signature of net.Dialer.DialContext.
type ContextDialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// clientOptions holds configuration for the MQTT client.
type clientOptions struct {
	// MQTT server address (e.g., "tcp://localhost:1883")
	Server string

	// Client identifier. Generated when empty.
	ClientID string

	// Credentials (optional)
	Username       string
	Password       string
	hasCredentials bool

	// Keep alive interval; 0 disables PINGREQ
	KeepAlive time.Duration

	// How long to wait for PINGRESP; 0 means KeepAlive/2
	PingTimeout time.Duration

	CleanSession bool

	ConnectTimeout time.Duration

	// Reconnection (off by default)
	AutoReconnect     bool
	MinReconnectDelay time.Duration
	MaxReconnectDelay time.Duration

	// TLS configuration (optional)
	TLSConfig *tls.Config

	// Logger for client events (optional, defaults to discarding logs)
	Logger *slog.Logger

	// Limits (0 = use MQTT defaults)
	MaxTopicLength    int
	MaxPayloadSize    int
	MaxIncomingPacket int

	// Will message (optional)
	will *willMessage

	// Lifecycle hooks (optional)
	OnConnect        func(*Client)
	OnConnectionLost func(*Client, error)

	// Subscriptions sent on every connect
	InitialSubscriptions []Subscription

	// Called for messages that match no subscription handler (optional)
	DefaultPublishHandler MessageHandler

	// Number of goroutines running message handlers; 1 keeps arrival order
	HandlerWorkers int

	HandlerInterceptors []HandlerInterceptor
	PublishInterceptors []PublishInterceptor

	// Custom dialer (optional)
	Dialer ContextDialer

	// Session store for persistence (optional)
	SessionStore SessionStore
}

// willMessage represents the Last Will and Testament message.
type willMessage struct {
	Topic    string
	Payload  []byte
	QoS      QoS
	Retained bool
}

// Option is a functional option for configuring the client.
type Option func(*clientOptions)

// WithClientID sets the client identifier.
//
// When no identifier is given, the client generates "mqttc-<uuid>" once and
// keeps it for the lifetime of the Client, so persistent sessions survive
// reconnects. Brokers limited to 23 character identifiers may reject it; pass
// a shorter ID for those.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.ClientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.Username = username
		o.Password = password
		o.hasCredentials = true
	}
}

// WithKeepAlive sets the MQTT keep alive interval (default: 60s).
//
// The interval is sent to the server rounded up to whole seconds. When
// nothing has been sent for a full interval the client sends one PINGREQ.
// Zero disables keepalive.
func WithKeepAlive(duration time.Duration) Option {
	return func(o *clientOptions) {
		o.KeepAlive = duration
	}
}

// WithPingTimeout sets how long the client waits for PINGRESP before it
// closes the connection with ErrKeepaliveTimeout (default: half the keep
// alive interval).
func WithPingTimeout(duration time.Duration) Option {
	return func(o *clientOptions) {
		o.PingTimeout = duration
	}
}

// WithCleanSession sets the clean session flag.
//
// When set to true (default), the server discards any previous session state
// for this client ID, and the client drops its in-flight messages whenever
// the connection ends.
//
// When set to false, both sides keep session state across disconnections:
//   - Unacknowledged QoS 1 and 2 messages are resent with DUP set on reconnect
//   - QoS 2 messages received but not released are not delivered twice
//   - Messages published to the client's subscriptions while offline are queued
//
// Example (persistent session):
//
//	client := mqttc.NewClient("tcp://localhost:1883",
//	    mqttc.WithClientID("sensor-1"),
//	    mqttc.WithCleanSession(false))
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.CleanSession = clean
	}
}

// WithAutoReconnect enables or disables automatic reconnection (default: false).
//
// When disabled, a lost connection is reported through WithOnConnectionLost
// and the client stays disconnected until Connect is called again.
func WithAutoReconnect(enable bool) Option {
	return func(o *clientOptions) {
		o.AutoReconnect = enable
	}
}

// WithReconnectBackoff sets the delay before the first reconnection attempt
// and the cap it doubles up to (default: 1s and 2m).
func WithReconnectBackoff(minDelay, maxDelay time.Duration) Option {
	return func(o *clientOptions) {
		o.MinReconnectDelay = minDelay
		o.MaxReconnectDelay = maxDelay
	}
}

// WithConnectTimeout sets the connection timeout (default: 30s).
// It bounds the dial, the CONNECT/CONNACK exchange and re-subscription.
func WithConnectTimeout(duration time.Duration) Option {
	return func(o *clientOptions) {
		o.ConnectTimeout = duration
	}
}

// WithTLS sets the TLS configuration for secure connections.
// Pass nil for default TLS settings, or provide a custom *tls.Config.
// The server URL should use "tls://", "ssl://", or "mqtts://" scheme, or this option
// will enable TLS for "tcp://" URLs as well.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		if config == nil {
			config = &tls.Config{}
		}
		o.TLSConfig = config
	}
}

// WithMaxIncomingPacket limits the size of packets accepted from the server.
// A larger packet closes the connection with ErrProtocol.
func WithMaxIncomingPacket(size int) Option {
	return func(o *clientOptions) {
		o.MaxIncomingPacket = size
	}
}

// WithMaxTopicLength limits the length in bytes of topics and filters the
// client accepts (default: 65535).
func WithMaxTopicLength(size int) Option {
	return func(o *clientOptions) {
		o.MaxTopicLength = size
	}
}

// WithMaxPayloadSize limits outgoing payloads.
func WithMaxPayloadSize(size int) Option {
	return func(o *clientOptions) {
		o.MaxPayloadSize = size
	}
}

// WithDefaultPublishHandler sets the handler for messages that match no
// subscription handler, such as messages the server still routes to a
// persistent session from subscriptions made by an earlier process.
//
// Example:
//
//	client := mqttc.NewClient(uri,
//	    mqttc.WithDefaultPublishHandler(func(c *mqttc.Client, msg mqttc.Message) {
//	        log.Printf("Unexpected message on %s: %s", msg.Topic, msg.Payload)
//	    }),
//	)
func WithDefaultPublishHandler(handler MessageHandler) Option {
	return func(o *clientOptions) {
		o.DefaultPublishHandler = handler
	}
}

// WithOnMessage is an alias of WithDefaultPublishHandler.
func WithOnMessage(handler MessageHandler) Option {
	return WithDefaultPublishHandler(handler)
}

// WithHandlerWorkers sets how many goroutines run message handlers
// (default: 1). With one worker, handlers run in arrival order. More workers
// let slow handlers overlap but give up ordering.
func WithHandlerWorkers(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.HandlerWorkers = n
		}
	}
}

// WithHandlerInterceptor wraps every message handler, including the default
// handler. Interceptors run in the order they were added.
func WithHandlerInterceptor(interceptor HandlerInterceptor) Option {
	return func(o *clientOptions) {
		o.HandlerInterceptors = append(o.HandlerInterceptors, interceptor)
	}
}

// WithPublishInterceptor wraps Publish. Interceptors run in the order they
// were added.
func WithPublishInterceptor(interceptor PublishInterceptor) Option {
	return func(o *clientOptions) {
		o.PublishInterceptors = append(o.PublishInterceptors, interceptor)
	}
}

// WithLogger sets a custom logger for the client.
// If not provided, the client will use a logger that discards all output.
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	}))
//	client := mqttc.NewClient("tcp://localhost:1883", mqttc.WithLogger(logger))
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) {
		o.Logger = logger
	}
}

// WithDialer sets a custom dialer for establishing the network connection.
// This enables alternative transports like WebSockets (see package wsdial),
// Unix sockets, or proxying.
//
// If provided, the library skips its scheme validation and delegates the
// connection entirely to the dialer. DialContext receives the scheme of the
// server URL as network and the original server string as addr.
func WithDialer(dialer ContextDialer) Option {
	return func(o *clientOptions) {
		o.Dialer = dialer
	}
}

// DialFunc is a helper to convert a function to the ContextDialer interface.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DialContext implements ContextDialer.
func (f DialFunc) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return f(ctx, network, addr)
}

// WithWill sets the Last Will and Testament (LWT) message.
//
// The server publishes the will on behalf of the client when the connection
// ends without a DISCONNECT packet: keepalive expiry, network failure, or a
// crash. It is not sent after Disconnect.
//
// Example (status monitoring):
//
//	client := mqttc.NewClient("tcp://localhost:1883",
//	    mqttc.WithClientID("sensor-1"),
//	    mqttc.WithWill("devices/sensor-1/status", []byte("offline"), mqttc.AtLeastOnce, true))
//
// Other clients can subscribe to "devices/+/status" to monitor device connectivity.
func WithWill(topic string, payload []byte, qos QoS, retained bool) Option {
	return func(o *clientOptions) {
		o.will = &willMessage{
			Topic:    topic,
			Payload:  payload,
			QoS:      qos,
			Retained: retained,
		}
	}
}

// WithOnConnect sets the handler to be called when the client connects.
// This is called for the initial connection and every successful reconnection.
//
// The handler is invoked asynchronously in a separate goroutine.
func WithOnConnect(onConnect func(*Client)) Option {
	return func(o *clientOptions) {
		o.OnConnect = onConnect
	}
}

// WithOnConnectionLost sets the handler to be called when an established
// connection ends without Disconnect. The error matches ErrConnectionLost and
// wraps the cause, such as ErrKeepaliveTimeout, ErrProtocol or ErrTransport.
//
// The handler is invoked asynchronously in a separate goroutine.
func WithOnConnectionLost(onConnectionLost func(*Client, error)) Option {
	return func(o *clientOptions) {
		o.OnConnectionLost = onConnectionLost
	}
}

// WithSubscription registers a subscription that is sent on every connect,
// before Connect returns.
//
// Example:
//
//	client := mqttc.NewClient("tcp://localhost:1883",
//	    mqttc.WithSubscription("commands/#", mqttc.AtLeastOnce, onCommand))
func WithSubscription(filter string, qos QoS, handler MessageHandler) Option {
	return func(o *clientOptions) {
		o.InitialSubscriptions = append(o.InitialSubscriptions, Subscription{
			Filter:  filter,
			QoS:     qos,
			Handler: handler,
		})
	}
}

// WithSessionStore sets a session store for persistence.
//
// With CleanSession=false, unacknowledged publishes, subscriptions and
// received QoS 2 identifiers are saved to the store and loaded once when the
// client is created, so a restarted process resumes where the last one
// stopped. With CleanSession=true the store is cleared on connect.
//
// Example with file-based storage:
//
//	store, err := mqttc.NewFileStore("/var/lib/mqtt", "sensor-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	client := mqttc.NewClient("tcp://localhost:1883",
//	    mqttc.WithClientID("sensor-1"),
//	    mqttc.WithCleanSession(false),
//	    mqttc.WithSessionStore(store))
func WithSessionStore(store SessionStore) Option {
	return func(o *clientOptions) {
		o.SessionStore = store
	}
}

// defaultOptions returns the default client options.
func defaultOptions(server string) *clientOptions {
	return &clientOptions{
		Server:            server,
		KeepAlive:         60 * time.Second,
		CleanSession:      true,
		ConnectTimeout:    30 * time.Second,
		MinReconnectDelay: time.Second,
		MaxReconnectDelay: 2 * time.Minute,
		HandlerWorkers:    1,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (o *clientOptions) pingTimeout() time.Duration {
	if o.PingTimeout > 0 {
		return o.PingTimeout
	}
	return o.KeepAlive / 2
}
