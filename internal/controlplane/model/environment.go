package model

import "time"

// EnvironmentStatus is the lifecycle state of a sandbox environment.
type EnvironmentStatus string

const (
	EnvironmentPending  EnvironmentStatus = "pending"
	EnvironmentRunning  EnvironmentStatus = "running"
	EnvironmentStopping EnvironmentStatus = "stopping"
	EnvironmentStopped  EnvironmentStatus = "stopped"
	EnvironmentFailed   EnvironmentStatus = "failed"
)

// Environment is one tenant's isolated containerized workspace as the
// control plane tracks it. Persistent rows live in an external store; this
// record is the in-process runtime view.
type Environment struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Name        string            `json:"name,omitempty"`
	Status      EnvironmentStatus `json:"status"`
	ContainerID string            `json:"containerId,omitempty"`
	NetworkID   string            `json:"networkId,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`

	// Spec is the hardened container spec the environment was launched with.
	Spec ContainerSpec `json:"spec"`
}

// StatusEvent is the wire shape of an environment status transition, both
// for hub broadcasts and the Kafka event stream.
type StatusEvent struct {
	EnvironmentID string            `json:"environmentId"`
	Status        EnvironmentStatus `json:"status"`
	Message       string            `json:"message,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// LogEvent is one log line emitted by an environment's container.
type LogEvent struct {
	EnvironmentID string    `json:"environmentId"`
	Stream        string    `json:"stream"` // stdout | stderr
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
}

// TerminalEvent is a chunk of terminal output for one interactive session.
type TerminalEvent struct {
	SessionID     string    `json:"sessionId"`
	EnvironmentID string    `json:"environmentId"`
	Data          string    `json:"data"`
	Timestamp     time.Time `json:"timestamp"`
}
