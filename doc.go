// Package mqttc is an MQTT v3.1.1 client.
//
// It implements the protocol from the wire up: a packet codec, the session
// state that makes QoS 1 and 2 reliable across reconnects, a connection
// manager with keepalive, and a delivery engine that routes inbound messages
// to handlers. The API uses functional options and context-based
// cancellation.
//
// # Quick Start
//
//	client, err := mqttc.Connect(ctx, "tcp://localhost:1883", "sensor-1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Disconnect(context.Background())
//
//	token := client.Publish("sensors/temperature", []byte("22.5"),
//	    mqttc.WithQoS(mqttc.AtLeastOnce))
//	if err := token.Wait(ctx); err != nil {
//	    log.Printf("publish failed: %v", err)
//	}
//
// Subscribe to a topic filter:
//
//	client.Subscribe("sensors/+/temperature", mqttc.AtLeastOnce,
//	    func(c *mqttc.Client, msg mqttc.Message) {
//	        fmt.Printf("%s: %s\n", msg.Topic, msg.Payload)
//	    })
//
// # Connection Lifecycle
//
// A Client moves through StateDisconnected, StateConnecting, StateConnected
// and StateDisconnecting. Connect blocks until CONNACK arrives and every
// recorded subscription has been re-sent and acknowledged. When an
// established connection fails, the WithOnConnectionLost callback receives
// an error matching ErrConnectionLost and wrapping the cause, and the client
// becomes StateDisconnected. It stays there until Connect is called again,
// unless WithAutoReconnect(true) was given.
//
// Disconnect is idempotent.
//
// # Quality of Service
//
//   - QoS 0: the token completes once the packet is handed to the writer
//   - QoS 1: the token completes on PUBACK
//   - QoS 2: the token completes on PUBCOMP
//
// With WithCleanSession(false), unacknowledged messages are resent with the
// DUP flag after a reconnect. Add WithSessionStore to keep them across
// process restarts too.
//
// # Message Handlers
//
// Every subscription whose filter matches an inbound topic gets its handler
// called once. Messages that match no handler go to the handler set with
// WithDefaultPublishHandler. Handlers run on a worker pool (see
// WithHandlerWorkers), never on the goroutine that reads from the network,
// so a slow handler delays other handlers but not acknowledgments.
//
// # Errors
//
// Errors are matched with errors.Is against the sentinels in this package.
// A refused connection is a *ConnackError, a refused topic filter a
// *SubscriptionError.
//
//	if err := client.Connect(ctx); errors.Is(err, mqttc.ErrAuthenticationRejected) {
//	    log.Fatal("bad credentials")
//	}
//
// # Transports
//
// Supported URL schemes are tcp://, mqtt://, tls://, ssl:// and mqtts://.
// WithDialer plugs in any other transport; package wsdial provides
// MQTT over WebSocket.
package mqttc
