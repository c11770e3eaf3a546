// ABOUTME: Tests for the capability router: registration, dispatch, policy.
// ABOUTME: Handler failures become categorized error responses, never crashes.

package capability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-node/internal/protocol"
)

func snapHandler(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return json.RawMessage(`{"format":"jpeg","data":"..."}`), nil
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRouter(Policy{})

	require.NoError(t, r.Register("camera.snap", snapHandler))
	err := r.Register("camera.snap", snapHandler)
	assert.ErrorIs(t, err, ErrDuplicateCommand)
}

func TestRegisterValidatesInput(t *testing.T) {
	r := NewRouter(Policy{})

	assert.Error(t, r.Register("", snapHandler))
	assert.Error(t, r.Register("camera.snap", nil))
}

func TestCommandsSorted(t *testing.T) {
	r := NewRouter(Policy{})
	require.NoError(t, r.Register("gps.locate", snapHandler))
	require.NoError(t, r.Register("camera.snap", snapHandler))
	require.NoError(t, r.Register("device.info", snapHandler))

	assert.Equal(t, []string{"camera.snap", "device.info", "gps.locate"}, r.Commands())
}

func TestDispatchSuccess(t *testing.T) {
	r := NewRouter(Policy{})
	require.NoError(t, r.Register("camera.snap", snapHandler))

	resp := r.Dispatch(context.Background(), protocol.InvokeRequest{
		ID:      "1",
		Command: "camera.snap",
		Params:  json.RawMessage(`{}`),
	})

	assert.Equal(t, "1", resp.ID)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"format":"jpeg","data":"..."}`, string(resp.Payload))
	assert.Empty(t, resp.Error)
}

func TestDispatchUnknownCommand(t *testing.T) {
	r := NewRouter(Policy{})

	resp := r.Dispatch(context.Background(), protocol.InvokeRequest{
		ID:      "2",
		Command: "unknown.cmd",
	})

	assert.Equal(t, "2", resp.ID)
	assert.False(t, resp.OK)
	assert.Equal(t, "UnknownCommand", resp.Error)
}

func TestDispatchCategorizedHandlerError(t *testing.T) {
	r := NewRouter(Policy{})
	require.NoError(t, r.Register("camera.snap", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, Errorf(CodeHardwareUnavailable, "camera in use")
	}))

	resp := r.Dispatch(context.Background(), protocol.InvokeRequest{ID: "3", Command: "camera.snap"})

	assert.False(t, resp.OK)
	assert.Equal(t, "HardwareUnavailable: camera in use", resp.Error)
}

func TestDispatchUncategorizedErrorIsInternal(t *testing.T) {
	r := NewRouter(Policy{})
	require.NoError(t, r.Register("camera.snap", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("lens fell off")
	}))

	resp := r.Dispatch(context.Background(), protocol.InvokeRequest{ID: "4", Command: "camera.snap"})

	assert.False(t, resp.OK)
	assert.Equal(t, "Internal: lens fell off", resp.Error)
}

func TestDispatchPolicyDenied(t *testing.T) {
	r := NewRouter(Policy{Profile: ProfileRestricted, Allow: []string{"device.info"}})
	require.NoError(t, r.Register("device.info", snapHandler))
	require.NoError(t, r.Register("camera.snap", snapHandler))

	// The denied command is excluded from the advertised set.
	assert.Equal(t, []string{"device.info"}, r.Commands())

	resp := r.Dispatch(context.Background(), protocol.InvokeRequest{ID: "5", Command: "camera.snap"})
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "PermissionDenied")

	resp = r.Dispatch(context.Background(), protocol.InvokeRequest{ID: "6", Command: "device.info"})
	assert.True(t, resp.OK)
}

func TestPolicyProfiles(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		command string
		want    bool
	}{
		{"unset defaults to full", Policy{}, "camera.snap", true},
		{"full allows everything", Policy{Profile: ProfileFull}, "camera.snap", true},
		{"none denies everything", Policy{Profile: ProfileNone}, "camera.snap", false},
		{"restricted allows listed", Policy{Profile: ProfileRestricted, Allow: []string{"camera.snap"}}, "camera.snap", true},
		{"restricted denies unlisted", Policy{Profile: ProfileRestricted, Allow: []string{"gps.locate"}}, "camera.snap", false},
		{"unknown profile fails closed", Policy{Profile: "experimental"}, "camera.snap", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.Allows(tt.command))
		})
	}
}

func TestResponseError(t *testing.T) {
	assert.Equal(t, "UnknownCommand", ResponseError(&HandlerError{Code: CodeUnknownCommand}))
	assert.Equal(t, "InvalidParams: bad width", ResponseError(Errorf(CodeInvalidParams, "bad width")))
	assert.Equal(t, "Internal: boom", ResponseError(errors.New("boom")))
}
