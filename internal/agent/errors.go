package agent

import "errors"

// Sentinel errors for instance acquisition and the session API.
// Callers check these with errors.Is().
var (
	// ErrPortInUse indicates the requested port is occupied by another
	// process. The acquirer retries on the next port offset.
	ErrPortInUse = errors.New("agent port in use")

	// ErrPortsExhausted indicates every port in the configured scan range
	// was in use. Fatal: surfaced to the caller without further retry.
	ErrPortsExhausted = errors.New("agent ports exhausted")

	// ErrSpawnFailed indicates the agent process could not be started for
	// a reason other than a port conflict. Fatal immediately, no retry.
	ErrSpawnFailed = errors.New("agent spawn failed")

	// ErrSessionCreate indicates the instance rejected session creation.
	ErrSessionCreate = errors.New("session create failed")

	// ErrPromptRejected indicates the instance rejected the prompt request.
	ErrPromptRejected = errors.New("prompt rejected")
)
