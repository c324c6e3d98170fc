// Package wsdial carries MQTT over WebSocket connections.
//
// A Dialer plugs into mqttc.WithDialer. The server URL given to the client
// is used as the WebSocket URL, so paths work:
//
//	client := mqttc.NewClient("ws://localhost:9001/mqtt",
//	    mqttc.WithDialer(&wsdial.Dialer{}))
//
// "wss://" URLs use TLS.
package wsdial

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"nhooyr.io/websocket"
)

// Subprotocol is the WebSocket subprotocol MQTT servers expect.
const Subprotocol = "mqtt"

// maxMessageSize fits the largest MQTT packet: a fixed header of at most five
// bytes and the maximum remaining length.
const maxMessageSize = 5 + 268435455

// Dialer opens WebSocket connections for an MQTT client.
// The zero value is ready to use.
type Dialer struct {
	// HTTPClient performs the upgrade request. nil uses http.DefaultClient,
	// or a client with TLSConfig when that is set.
	HTTPClient *http.Client

	// TLSConfig is used for wss:// URLs when HTTPClient is nil.
	TLSConfig *tls.Config

	// Header is sent with the upgrade request.
	Header http.Header
}

// DialContext implements mqttc.ContextDialer. addr is the full server URL;
// network is its scheme.
//
// ctx bounds only the handshake. The returned connection lives until it is
// closed.
func (d *Dialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q (supported: ws, wss)", u.Scheme)
	}

	opts := &websocket.DialOptions{
		HTTPClient:   d.httpClient(),
		HTTPHeader:   d.Header,
		Subprotocols: []string{Subprotocol},
	}
	ws, resp, err := websocket.Dial(ctx, u.String(), opts)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if ws.Subprotocol() != Subprotocol {
		ws.Close(websocket.StatusPolicyViolation, "mqtt subprotocol required")
		return nil, fmt.Errorf("server did not accept the %q subprotocol", Subprotocol)
	}

	ws.SetReadLimit(maxMessageSize)
	return websocket.NetConn(context.Background(), ws, websocket.MessageBinary), nil
}

func (d *Dialer) httpClient() *http.Client {
	if d.HTTPClient != nil {
		return d.HTTPClient
	}
	if d.TLSConfig == nil {
		return nil
	}
	return &http.Client{
		Transport: &http.Transport{TLSClientConfig: d.TLSConfig},
	}
}
