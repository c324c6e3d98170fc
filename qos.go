package mqttc

import "fmt"

// QoS represents the MQTT Quality of Service level.
type QoS uint8

// MQTT Quality of Service levels.
//
// Example:
//
//	client.Subscribe("sensors/temp", mqttc.AtLeastOnce, handler)
//	client.Publish("alert", data, mqttc.WithQoS(mqttc.ExactlyOnce))
const (
	// AtMostOnce (QoS 0) - Fire and forget delivery.
	// No acknowledgment is sent by the receiver, and the message is not retried.
	AtMostOnce QoS = 0

	// AtLeastOnce (QoS 1) - Acknowledged delivery.
	// The receiver answers with PUBACK. The sender resends with DUP set after
	// a reconnect until acknowledged, so duplicates may occur.
	AtLeastOnce QoS = 1

	// ExactlyOnce (QoS 2) - Assured delivery.
	// Four-step handshake (PUBLISH, PUBREC, PUBREL, PUBCOMP).
	ExactlyOnce QoS = 2
)

func (q QoS) String() string {
	switch q {
	case AtMostOnce:
		return "at-most-once"
	case AtLeastOnce:
		return "at-least-once"
	case ExactlyOnce:
		return "exactly-once"
	default:
		return fmt.Sprintf("QoS(%d)", uint8(q))
	}
}

func (q QoS) valid() bool {
	return q <= ExactlyOnce
}
