package hub

import "time"

// MessageType tags the envelope every real-time event is wrapped in.
type MessageType string

const (
	TypeLog            MessageType = "LOG"
	TypeEnvStatus      MessageType = "ENV_STATUS"
	TypeTerminalOutput MessageType = "TERMINAL_OUTPUT"
	TypeError          MessageType = "ERROR"
)

// Envelope is the wire shape of every server-to-client message.
type Envelope struct {
	Type      MessageType `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClientMessage is what clients send over the socket: subscription changes
// and application-level pings.
type ClientMessage struct {
	Type          string `json:"type"`
	EnvironmentID string `json:"environmentId,omitempty"`
	SessionID     string `json:"sessionId,omitempty"`
	Data          string `json:"data,omitempty"` // terminal input bytes
}

// Client message types.
const (
	ClientSubscribeEnvironment   = "subscribe_environment"
	ClientUnsubscribeEnvironment = "unsubscribe_environment"
	ClientSubscribeSession       = "subscribe_session"
	ClientUnsubscribeSession     = "unsubscribe_session"
	ClientTerminalInput          = "terminal_input"
	ClientPing                   = "ping"
)
