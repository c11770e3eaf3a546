// ABOUTME: Wire frame definitions for the gateway device protocol.
// ABOUTME: One JSON object per frame, discriminated by the "type" field.

package protocol

import "encoding/json"

// FrameType discriminates the wire envelope.
type FrameType string

// Known frame types. Servers may introduce new types at any time; those
// decode to Unknown rather than failing.
const (
	TypeChallenge        FrameType = "challenge"
	TypeConnect          FrameType = "connect"
	TypeHelloOk          FrameType = "hello-ok"
	TypeInvoke           FrameType = "invoke"
	TypeInvokeResult     FrameType = "invoke-result"
	TypeEvent            FrameType = "event"
	TypeTick             FrameType = "tick"
	TypeShutdown         FrameType = "shutdown"
	TypeVoiceWakeChanged FrameType = "voicewake.changed"
)

// Frame is one discrete protocol message.
type Frame interface {
	FrameType() FrameType
}

// Challenge is sent by the server before authentication; the client signs
// the nonce together with its signing timestamp.
type Challenge struct {
	Nonce string `json:"nonce"`
}

// DeviceAuth carries the device identity and challenge signature.
type DeviceAuth struct {
	ID        string `json:"id"`
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	SignedAt  int64  `json:"signedAt"`
}

// ConnectRequest is the client's authentication request, advertising the
// commands its capability router can dispatch.
type ConnectRequest struct {
	Role     string     `json:"role"`
	Device   DeviceAuth `json:"device"`
	Platform string     `json:"platform"`
	Commands []string   `json:"commands,omitempty"`
	Caps     []string   `json:"caps,omitempty"`
}

// HelloOk establishes the session: initial state snapshot, feature flags,
// a device token for subsequent auth, and the server policy blob.
type HelloOk struct {
	Snapshot    json.RawMessage `json:"snapshot,omitempty"`
	Features    []string        `json:"features,omitempty"`
	DeviceToken string          `json:"deviceToken,omitempty"`
	Policy      json.RawMessage `json:"policy,omitempty"`
}

// InvokeRequest asks the peer to execute a command. Every request carries a
// unique id; the matching InvokeResponse echoes it exactly once.
type InvokeRequest struct {
	ID      string          `json:"id"`
	Command string          `json:"command"`
	Params  json.RawMessage `json:"paramsJSON,omitempty"`
}

// InvokeResponse settles an InvokeRequest by id.
type InvokeResponse struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payloadJSON,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Event is a named notification, flowing in either direction
// (e.g. "agent.request", "voice.transcript", "voicewake.changed").
type Event struct {
	Name    string          `json:"event"`
	Payload json.RawMessage `json:"payloadJSON,omitempty"`
}

// Tick is a keepalive. No payload, no side effect beyond last-seen tracking.
type Tick struct{}

// Shutdown is the server's graceful close notice.
type Shutdown struct {
	Reason string `json:"reason,omitempty"`
}

// VoiceWakeChanged notifies the device that voice wake configuration changed
// server-side.
type VoiceWakeChanged struct {
	Enabled bool     `json:"enabled"`
	Phrases []string `json:"phrases,omitempty"`
}

// Unknown preserves a frame whose type this client does not know. Raw holds
// the complete original message so it can be logged or re-encoded untouched.
type Unknown struct {
	Type string
	Raw  json.RawMessage
}

func (Challenge) FrameType() FrameType        { return TypeChallenge }
func (ConnectRequest) FrameType() FrameType   { return TypeConnect }
func (HelloOk) FrameType() FrameType          { return TypeHelloOk }
func (InvokeRequest) FrameType() FrameType    { return TypeInvoke }
func (InvokeResponse) FrameType() FrameType   { return TypeInvokeResult }
func (Event) FrameType() FrameType            { return TypeEvent }
func (Tick) FrameType() FrameType             { return TypeTick }
func (Shutdown) FrameType() FrameType         { return TypeShutdown }
func (VoiceWakeChanged) FrameType() FrameType { return TypeVoiceWakeChanged }
func (u Unknown) FrameType() FrameType        { return FrameType(u.Type) }
