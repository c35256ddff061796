//go:build linux && cgo

package rtc

import (
	"context"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"voicelink-backend/internal/service/call"
)

func newCodecSelector() (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, err
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

func populateMediaEngine(engine *webrtc.MediaEngine, device *MediaDevice) error {
	if device != nil && device.selector != nil {
		device.selector.Populate(engine)
		return nil
	}
	return engine.RegisterDefaultCodecs()
}

// acquire captures camera and microphone. GetUserMedia fails as a unit if
// either track cannot be opened, so fall back to video-only and audio-only
// before giving up.
func (d *MediaDevice) acquire(_ context.Context) (call.MediaHandle, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}

	var lastErr error
	for _, a := range []attempt{
		{true, true, "video+audio"},
		{true, false, "video-only"},
		{false, true, "audio-only"},
	} {
		constraints := mediadevices.MediaStreamConstraints{Codec: d.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Raw frame formats only. MJPEG camera nodes can poison the
				// VP8 encoder and break SDP negotiation.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			d.log.Warn("media capture attempt failed",
				zap.String("attempt", a.label), zap.Error(err))
			lastErr = err
			continue
		}

		tracks := stream.GetTracks()
		d.log.Info("local media captured",
			zap.String("attempt", a.label), zap.Int("tracks", len(tracks)))
		return newHandle(tracks, d.log), nil
	}

	return nil, mapDeviceError(lastErr)
}
