package mqttc

// Message represents an MQTT message received on a subscribed topic.
//
// Handlers for different matching filters receive the same Payload slice;
// copy it before modifying.
type Message struct {
	// Topic the message was published to
	Topic string

	// Message payload
	Payload []byte

	// Quality of Service level the message was delivered with
	QoS QoS

	// Retained message flag
	Retained bool

	// Duplicate delivery flag
	Duplicate bool
}

// MessageHandler is called when a message is received on a subscribed topic.
//
// Handlers run on the client's handler workers, never on the goroutine that
// reads from the network.
type MessageHandler func(*Client, Message)
