package device

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/blackjack/webcam"
	"github.com/bryanchriswhite/stereocam/internal/frame"
	"github.com/bryanchriswhite/stereocam/internal/logger"
)

// V4L2 FourCC for packed YUV 4:2:2
const pixelFormatYUYV webcam.PixelFormat = 0x56595559

// V4L2 captures YUYV frames from a video4linux device
type V4L2 struct {
	cam  *webcam.Webcam
	path string
}

// NewV4L2 is the Factory for real hardware
func NewV4L2() CameraDevice {
	return &V4L2{}
}

func (d *V4L2) Open(path string, width, height, fps uint32) error {
	if d.cam != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, d.path)
	}

	cam, err := webcam.Open(path)
	if err != nil {
		return fmt.Errorf("can not open %s: %w", path, err)
	}

	if err := configure(cam, path, width, height, fps); err != nil {
		cam.Close()
		return err
	}

	if err := cam.StartStreaming(); err != nil {
		cam.Close()
		return fmt.Errorf("can not start streaming %s: %w", path, err)
	}

	d.cam = cam
	d.path = path
	return nil
}

func configure(cam *webcam.Webcam, path string, width, height, fps uint32) error {
	if _, ok := cam.GetSupportedFormats()[pixelFormatYUYV]; !ok {
		return fmt.Errorf("%w: %s has no YUYV capture format", ErrGeometry, path)
	}

	f, w, h, err := cam.SetImageFormat(pixelFormatYUYV, width, height)
	if err != nil {
		return fmt.Errorf("can not set format on %s: %w", path, err)
	}
	if f != pixelFormatYUYV || w != width || h != height {
		return fmt.Errorf("%w: %s negotiated %dx%d, requested %dx%d", ErrGeometry, path, w, h, width, height)
	}

	// not every UVC driver implements frame interval selection
	if err := cam.SetFramerate(float32(fps)); err != nil {
		logger.WithComponent("device").Warn().
			Err(err).
			Str("device", path).
			Uint32("fps", fps).
			Msg("Driver rejected frame rate, using device default")
	}
	return nil
}

func (d *V4L2) TryReadFrame() (Frame, bool, error) {
	if d.cam == nil {
		return Frame{}, false, ErrNotOpen
	}

	err := d.cam.WaitForFrame(0)
	switch err.(type) {
	case nil:
	case *webcam.Timeout:
		return Frame{}, false, nil
	default:
		return Frame{}, false, fmt.Errorf("frame wait failed on %s: %w", d.path, err)
	}

	data, err := d.cam.ReadFrame()
	if err != nil {
		return Frame{}, false, fmt.Errorf("read frame failed on %s: %w", d.path, err)
	}
	if len(data) == 0 {
		return Frame{}, false, nil
	}

	return yuyvFrame(data), true, nil
}

// yuyvFrame copies data out of the mmap'd driver buffer, which the driver
// refills once it has been requeued.
func yuyvFrame(data []byte) Frame {
	return Frame{Data: bytes.Clone(data), Format: frame.YUYV}
}

func (d *V4L2) Close() error {
	if d.cam == nil {
		return nil
	}

	err := errors.Join(d.cam.StopStreaming(), d.cam.Close())
	d.cam = nil
	if err != nil {
		return fmt.Errorf("close %s: %w", d.path, err)
	}
	return nil
}
