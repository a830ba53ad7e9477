// Package device wraps the physical capture devices of the stereo rig.
//
// A CameraDevice is opened at a fixed geometry and polled without blocking:
// TryReadFrame returns immediately, reporting whether a new frame was ready.
// The rig owns device lifetimes; nothing here starts goroutines.
package device

import (
	"errors"

	"github.com/bryanchriswhite/stereocam/internal/frame"
)

var (
	ErrNotOpen     = errors.New("device: not open")
	ErrAlreadyOpen = errors.New("device: already open")
	ErrGeometry    = errors.New("device: requested geometry not supported")
)

// Frame is one raw capture in the device's native pixel format
type Frame struct {
	Data   []byte
	Format frame.PixelFormat
}

// CameraDevice is a single capture device
type CameraDevice interface {
	// Open starts streaming from path at the given geometry and rate
	Open(path string, width, height, fps uint32) error

	// TryReadFrame polls for a frame. ok is false when none is ready yet.
	TryReadFrame() (f Frame, ok bool, err error)

	// Close stops streaming and releases the device. Closing a closed device is a no-op.
	Close() error
}

// Factory creates an unopened device. The rig calls it once per side on every start.
type Factory func() CameraDevice
