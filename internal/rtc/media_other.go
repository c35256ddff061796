//go:build !(linux && cgo)

package rtc

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"

	"voicelink-backend/internal/service/call"
)

// Camera/mic capture via pion/mediadevices needs platform drivers (V4L2 and
// malgo on Linux). On other platforms Acquire reports the device as absent.

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	return nil, nil
}

func populateMediaEngine(engine *webrtc.MediaEngine, _ *MediaDevice) error {
	return engine.RegisterDefaultCodecs()
}

func (d *MediaDevice) acquire(_ context.Context) (call.MediaHandle, error) {
	return nil, fmt.Errorf("%w: media capture not supported on this platform", call.ErrDeviceAbsent)
}
