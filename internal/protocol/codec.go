// ABOUTME: Stateless JSON codec between wire bytes and in-memory frames.
// ABOUTME: Rejects frames missing required fields; unknown types decode to Unknown.

package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MalformedFrameError reports a frame that could not be decoded into a
// usable value. Malformed frames are dropped with a diagnostic; they do not
// close the session.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return "malformed frame: " + e.Reason
}

// Encode serializes a frame to its wire representation.
func Encode(f Frame) ([]byte, error) {
	if u, ok := f.(Unknown); ok {
		// Re-emit the original message untouched.
		return append([]byte(nil), u.Raw...), nil
	}

	body, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.FrameType(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.FrameType(), err)
	}
	typeTag, err := json.Marshal(f.FrameType())
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.FrameType(), err)
	}
	fields["type"] = typeTag

	return json.Marshal(fields)
}

// Decode parses one wire message into a frame. Messages with an unknown
// "type" decode to Unknown so newer server frame types never crash older
// clients; messages missing required fields return *MalformedFrameError.
func Decode(data []byte) (Frame, error) {
	var head struct {
		Type *FrameType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &MalformedFrameError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	if head.Type == nil || *head.Type == "" {
		return nil, &MalformedFrameError{Reason: "missing type field"}
	}

	switch *head.Type {
	case TypeChallenge:
		var f Challenge
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("challenge: %v", err)}
		}
		return f, nil

	case TypeConnect:
		var f ConnectRequest
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("connect: %v", err)}
		}
		return f, nil

	case TypeHelloOk:
		var f HelloOk
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("hello-ok: %v", err)}
		}
		return f, nil

	case TypeInvoke:
		var f InvokeRequest
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("invoke: %v", err)}
		}
		if f.ID == "" {
			return nil, &MalformedFrameError{Reason: "invoke frame missing id"}
		}
		if f.Command == "" {
			return nil, &MalformedFrameError{Reason: "invoke frame missing command"}
		}
		return f, nil

	case TypeInvokeResult:
		var f InvokeResponse
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("invoke-result: %v", err)}
		}
		if f.ID == "" {
			return nil, &MalformedFrameError{Reason: "invoke-result frame missing id"}
		}
		return f, nil

	case TypeEvent:
		var f Event
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("event: %v", err)}
		}
		if f.Name == "" {
			return nil, &MalformedFrameError{Reason: "event frame missing event name"}
		}
		return f, nil

	case TypeTick:
		return Tick{}, nil

	case TypeShutdown:
		var f Shutdown
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("shutdown: %v", err)}
		}
		return f, nil

	case TypeVoiceWakeChanged:
		var f VoiceWakeChanged
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("voicewake.changed: %v", err)}
		}
		return f, nil

	default:
		var compact bytes.Buffer
		if err := json.Compact(&compact, data); err != nil {
			return nil, &MalformedFrameError{Reason: fmt.Sprintf("invalid JSON: %v", err)}
		}
		return Unknown{
			Type: string(*head.Type),
			Raw:  json.RawMessage(compact.Bytes()),
		}, nil
	}
}
