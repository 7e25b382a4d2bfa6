package conversation

import "encoding/json"

// SessionState is the turn-taking state of a [Controller].
type SessionState int

const (
	// Idle means nothing is captured or played and no reply is awaited.
	Idle SessionState = iota

	// Listening means the microphone is capturing and the endpointer is armed.
	Listening

	// Processing means the end-of-utterance sentinel was sent and the
	// controller waits for a reply, bounded by the response timeout.
	Processing

	// Speaking means reply audio is queued or rendering.
	Speaking
)

// String returns the lower-case state name.
func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Processing:
		return "processing"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// ConnectionState describes the duplex channel as seen by the controller.
type ConnectionState int

const (
	// Disconnected means no channel is open.
	Disconnected ConnectionState = iota

	// Connecting means a dial is in progress.
	Connecting

	// Connected means the channel is open and ready.
	Connected

	// Failed means the last dial failed or the peer dropped the channel.
	Failed
)

// String returns the lower-case state name.
func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the observable snapshot a UI renders.
type Status struct {
	Connection ConnectionState
	Session    SessionState

	// LastError is the most recent surfaced error, or nil. It is cleared when
	// a new turn starts.
	LastError error
}

// MarshalJSON renders the snapshot for the status endpoint.
func (s Status) MarshalJSON() ([]byte, error) {
	out := struct {
		Connection string `json:"connection_state"`
		Session    string `json:"session_state"`
		LastError  string `json:"last_error,omitempty"`
		ErrorKind  string `json:"last_error_kind,omitempty"`
	}{
		Connection: s.Connection.String(),
		Session:    s.Session.String(),
	}
	if s.LastError != nil {
		out.LastError = s.LastError.Error()
		out.ErrorKind = KindOf(s.LastError).String()
	}
	return json.Marshal(out)
}
