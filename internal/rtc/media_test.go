package rtc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"voicelink-backend/internal/service/call"
)

func TestHandleTogglesAreObservable(t *testing.T) {
	h := newHandle(nil, zap.NewNop())

	assert.True(t, h.AudioEnabled())
	assert.True(t, h.VideoEnabled())

	h.SetAudioEnabled(false)
	assert.False(t, h.AudioEnabled())
	assert.True(t, h.VideoEnabled())

	h.SetVideoEnabled(false)
	h.SetAudioEnabled(true)
	assert.True(t, h.AudioEnabled())
	assert.False(t, h.VideoEnabled())
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	h := newHandle(nil, zap.NewNop())

	assert.NoError(t, h.Release())
	assert.NoError(t, h.Release())
}

func TestMapDeviceError(t *testing.T) {
	tests := []struct {
		name   string
		input  error
		target error
	}{
		{"permission", errors.New("camera: permission denied"), call.ErrPermissionDenied},
		{"busy", errors.New("v4l2: device busy"), call.ErrDeviceBusy},
		{"in use", errors.New("microphone already in use"), call.ErrDeviceBusy},
		{"absent", errors.New("no such device"), call.ErrDeviceAbsent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapDeviceError(tt.input), tt.target)
		})
	}

	assert.Nil(t, mapDeviceError(nil))
	assert.NotNil(t, mapDeviceError(errors.New("something else")))
}
