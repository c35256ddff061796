package rtc

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/mediadevices"
	"go.uber.org/zap"

	"voicelink-backend/internal/service/call"
)

// MediaDevice acquires local camera/microphone capture. Real capture is
// only available where pion/mediadevices has drivers (V4L2 + malgo on
// Linux); elsewhere Acquire reports the device as absent and calls proceed
// receive-only.
type MediaDevice struct {
	selector *mediadevices.CodecSelector
	log      *zap.Logger
}

// NewMediaDevice prepares the capture pipeline.
func NewMediaDevice(log *zap.Logger) (*MediaDevice, error) {
	if log == nil {
		log = zap.NewNop()
	}
	selector, err := newCodecSelector()
	if err != nil {
		return nil, fmt.Errorf("failed to build codec selector: %w", err)
	}
	return &MediaDevice{selector: selector, log: log}, nil
}

// Acquire opens the local capture device. The returned handle owns the
// tracks exclusively until Release.
func (d *MediaDevice) Acquire(ctx context.Context) (call.MediaHandle, error) {
	return d.acquire(ctx)
}

// Handle owns the captured local tracks. Release is idempotent. The enable
// flags are observable mute state; mediadevices offers no per-track pause,
// so capture continues while a flag is off.
type Handle struct {
	tracks []mediadevices.Track
	log    *zap.Logger

	mu           sync.Mutex
	released     bool
	audioEnabled bool
	videoEnabled bool
}

func newHandle(tracks []mediadevices.Track, log *zap.Logger) *Handle {
	return &Handle{
		tracks:       tracks,
		log:          log,
		audioEnabled: true,
		videoEnabled: true,
	}
}

// SetAudioEnabled flips the local audio mute flag.
func (h *Handle) SetAudioEnabled(enabled bool) {
	h.mu.Lock()
	h.audioEnabled = enabled
	h.mu.Unlock()
	h.log.Debug("local audio toggled", zap.Bool("enabled", enabled))
}

// SetVideoEnabled flips the local video mute flag.
func (h *Handle) SetVideoEnabled(enabled bool) {
	h.mu.Lock()
	h.videoEnabled = enabled
	h.mu.Unlock()
	h.log.Debug("local video toggled", zap.Bool("enabled", enabled))
}

// AudioEnabled reports the local audio mute state.
func (h *Handle) AudioEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.audioEnabled
}

// VideoEnabled reports the local video mute state.
func (h *Handle) VideoEnabled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.videoEnabled
}

// Release stops every captured track. Safe to call more than once.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	tracks := h.tracks
	h.tracks = nil
	h.mu.Unlock()

	for _, track := range tracks {
		if err := track.Close(); err != nil {
			h.log.Warn("failed to close local track", zap.Error(err))
		}
	}
	return nil
}

// mapDeviceError folds driver errors into the call core's device taxonomy.
func mapDeviceError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission denied"), strings.Contains(msg, "not allowed"):
		return fmt.Errorf("%w: %v", call.ErrPermissionDenied, err)
	case strings.Contains(msg, "busy"), strings.Contains(msg, "in use"):
		return fmt.Errorf("%w: %v", call.ErrDeviceBusy, err)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such"), strings.Contains(msg, "no device"):
		return fmt.Errorf("%w: %v", call.ErrDeviceAbsent, err)
	default:
		return fmt.Errorf("failed to open media device: %w", err)
	}
}
