// ABOUTME: Tests for the frame codec: round trips, validation, unknown types.
// ABOUTME: Every constructible frame must survive decode(encode(f)) unchanged.

package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	frames := []Frame{
		Challenge{Nonce: "abc123"},
		ConnectRequest{
			Role: "node",
			Device: DeviceAuth{
				ID:        "deadbeef",
				PublicKey: "ssh-ed25519 AAAA test",
				Signature: "c2ln",
				SignedAt:  1700000000,
			},
			Platform: "linux",
			Commands: []string{"camera.snap", "device.info"},
			Caps:     []string{"camera"},
		},
		HelloOk{
			Snapshot:    json.RawMessage(`{"threads":[]}`),
			Features:    []string{"voicewake"},
			DeviceToken: "tok",
			Policy:      json.RawMessage(`{"maxInvokes":4}`),
		},
		InvokeRequest{ID: "1", Command: "camera.snap", Params: json.RawMessage(`{}`)},
		InvokeRequest{ID: "2", Command: "gps.locate"},
		InvokeResponse{ID: "1", OK: true, Payload: json.RawMessage(`{"format":"jpeg"}`)},
		InvokeResponse{ID: "2", OK: false, Error: "UnknownCommand"},
		Event{Name: "agent.request", Payload: json.RawMessage(`{"text":"hi"}`)},
		Event{Name: "voice.transcript"},
		Tick{},
		Shutdown{Reason: "maintenance"},
		Shutdown{},
		VoiceWakeChanged{Enabled: true, Phrases: []string{"hey coven"}},
	}

	for _, f := range frames {
		t.Run(string(f.FrameType()), func(t *testing.T) {
			data, err := Encode(f)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, decoded)
		})
	}
}

func TestEncodeIncludesType(t *testing.T) {
	data, err := Encode(Tick{})
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "tick", m["type"])
}

func TestDecodeMissingType(t *testing.T) {
	_, err := Decode([]byte(`{"nonce":"abc"}`))

	var malformed *MalformedFrameError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Error(), "missing type")
}

func TestDecodeInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))

	var malformed *MalformedFrameError
	assert.True(t, errors.As(err, &malformed))
}

func TestDecodeInvokeMissingID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"invoke","command":"camera.snap"}`))

	var malformed *MalformedFrameError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Error(), "missing id")
}

func TestDecodeInvokeMissingCommand(t *testing.T) {
	_, err := Decode([]byte(`{"type":"invoke","id":"1"}`))

	var malformed *MalformedFrameError
	require.True(t, errors.As(err, &malformed))
	assert.Contains(t, malformed.Error(), "missing command")
}

func TestDecodeInvokeResultMissingID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"invoke-result","ok":true}`))

	var malformed *MalformedFrameError
	assert.True(t, errors.As(err, &malformed))
}

func TestDecodeEventMissingName(t *testing.T) {
	_, err := Decode([]byte(`{"type":"event","payloadJSON":"{}"}`))

	var malformed *MalformedFrameError
	assert.True(t, errors.As(err, &malformed))
}

func TestDecodeUnknownType(t *testing.T) {
	raw := []byte(`{"type":"hologram.project","intensity":11}`)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	unknown, ok := decoded.(Unknown)
	require.True(t, ok, "unknown frame types must decode to Unknown, got %T", decoded)
	assert.Equal(t, "hologram.project", unknown.Type)
	assert.JSONEq(t, string(raw), string(unknown.Raw))
}

func TestUnknownRoundTrip(t *testing.T) {
	raw := []byte(`{"intensity":11,"type":"hologram.project"}`)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	encoded, err := Encode(decoded)
	require.NoError(t, err)

	again, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, decoded, again)
}

func TestDecodeScenarioFrames(t *testing.T) {
	// The exact envelope shapes the gateway sends.
	decoded, err := Decode([]byte(`{"type":"invoke","id":"1","command":"camera.snap","paramsJSON":"{}"}`))
	require.NoError(t, err)
	req, ok := decoded.(InvokeRequest)
	require.True(t, ok)
	assert.Equal(t, "1", req.ID)
	assert.Equal(t, "camera.snap", req.Command)

	decoded, err = Decode([]byte(`{"type":"challenge","nonce":"n-42"}`))
	require.NoError(t, err)
	assert.Equal(t, Challenge{Nonce: "n-42"}, decoded)
}
