package ipc

import "encoding/json"

// ExecuteRequest carries one controller command: its registry name and its
// JSON-encoded fields.
type ExecuteRequest struct {
	Command string          `json:"command"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// ExecuteResponse is the command result. Domain failures travel in ErrorKind
// and Error; gRPC status errors are reserved for transport and auth.
type ExecuteResponse struct {
	CommandID string          `json:"command_id,omitempty"`
	Command   string          `json:"command"`
	Value     json.RawMessage `json:"value,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
}

type WatchRequest struct {
	// Buffer is the subscription buffer; 0 uses the bus default.
	Buffer int `json:"buffer,omitempty"`
}
