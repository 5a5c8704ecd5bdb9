package transport

import "encoding/json"

// Control frame types exchanged with the proxy.
const (
	FrameRegister    = "register"
	FrameRegisterAck = "register_ack"
	FramePing        = "ping"
	FramePong        = "pong"
)

// Envelope is one command bound for an application plugin. Two field
// conventions circulate: current plugins read command/params, older builds
// read action/options. Outbound frames carry both until the plugin contract
// is unified; inbound command frames are accepted with either.
type Envelope struct {
	CorrelationID string         `json:"correlationId"`
	Application   string         `json:"application"`
	Command       string         `json:"command,omitempty"`
	Params        map[string]any `json:"params,omitempty"`
	Action        string         `json:"action,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
	DeadlineMs    int64          `json:"deadlineMs"`
}

// NormalizeOutbound mirrors the canonical fields into the legacy ones.
func (e *Envelope) NormalizeOutbound() {
	if e.Action == "" {
		e.Action = e.Command
	}
	if e.Options == nil {
		e.Options = e.Params
	}
}

// NormalizeInbound canonicalizes a received envelope onto command/params.
func (e *Envelope) NormalizeInbound() {
	if e.Command == "" {
		e.Command = e.Action
	}
	if e.Params == nil {
		e.Params = e.Options
	}
}

// Reply resolves one envelope. Status is "ok" or "error"; Result holds the
// application payload on ok, ErrorKind and Message describe an error.
type Reply struct {
	CorrelationID string          `json:"correlationId"`
	Status        string          `json:"status"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorKind     string          `json:"errorKind,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// OK reports whether the remote handled the command successfully.
func (r *Reply) OK() bool { return r.Status == "ok" }

// wireFrame is the superset the reader decodes every inbound message into:
// control frames carry type, replies carry correlationId and status.
type wireFrame struct {
	Type          string          `json:"type,omitempty"`
	Status        string          `json:"status,omitempty"`
	Message       string          `json:"message,omitempty"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	ErrorKind     string          `json:"errorKind,omitempty"`
}

func (f *wireFrame) reply() *Reply {
	return &Reply{
		CorrelationID: f.CorrelationID,
		Status:        f.Status,
		Result:        f.Result,
		ErrorKind:     f.ErrorKind,
		Message:       f.Message,
	}
}

// registerFrame declares the application this session issues commands for.
type registerFrame struct {
	Type        string `json:"type"`
	Application string `json:"application"`
	Role        string `json:"role,omitempty"`
}

// controlFrame is a bare ping or pong.
type controlFrame struct {
	Type string `json:"type"`
}
