package call

import "errors"

// Device errors abort the current call attempt only; they never touch other
// sessions. Everything else stays contained inside the peer link manager.
var (
	ErrPermissionDenied = errors.New("media device permission denied")
	ErrDeviceBusy       = errors.New("media device busy")
	ErrDeviceAbsent     = errors.New("media device not found")

	ErrCallActive   = errors.New("call already active for room")
	ErrNoSession    = errors.New("no call session for room")
	ErrInvalidState = errors.New("operation not valid in current call state")
)

// IsDeviceError reports whether err belongs to the device error class.
func IsDeviceError(err error) bool {
	return errors.Is(err, ErrPermissionDenied) ||
		errors.Is(err, ErrDeviceBusy) ||
		errors.Is(err, ErrDeviceAbsent)
}
