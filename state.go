package mqttc

import "fmt"

// ConnectionState is the lifecycle state of a Client's connection.
//
//	Disconnected --Connect--> Connecting --CONNACK 0--> Connected
//	Connected --Disconnect or failure--> Disconnecting --> Disconnected
//
// Only the client's connection management changes the state; State reads it.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int32(s))
	}
}
