package events

import "encoding/json"

// Event name constants
const (
	ProcessState   = "process.state"
	ProcessCapture = "process.capture"
)

// Event is a named JSON payload, shaped for server-sent events.
type Event struct {
	Name string
	Data json.RawMessage
}

// StateEvent is the payload for process.state.
type StateEvent struct {
	RunID    string  `json:"runId"`
	From     string  `json:"from"`
	To       string  `json:"to"`
	Index    int     `json:"index"`
	Setpoint float64 `json:"setpoint"`
	Message  string  `json:"message,omitempty"`
	Ts       int64   `json:"ts"`
}

// CaptureEvent is the payload for process.capture.
type CaptureEvent struct {
	RunID    string  `json:"runId"`
	Setpoint float64 `json:"setpoint"`
	Path     string  `json:"path"`
	Ts       int64   `json:"ts"`
}

// DecodeAs unmarshals the payload of e into T. An empty payload yields the
// zero value.
func DecodeAs[T any](e Event) (T, error) {
	var v T
	if len(e.Data) == 0 {
		return v, nil
	}
	err := json.Unmarshal(e.Data, &v)
	return v, err
}
