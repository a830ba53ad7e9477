package device

import (
	"fmt"
	"os"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/frame"
)

// Simulated produces a moving BGR8 test pattern at the requested rate.
// It lets the node run without hardware.
type Simulated struct {
	unavailable map[string]bool
	now         func() time.Time

	path    string
	width   int
	height  int
	period  time.Duration
	next    time.Time
	frameNo uint64
	open    bool
}

// NewSimulatedFactory returns a Factory of simulated devices. Opening any of
// the missing paths fails like an absent /dev node.
func NewSimulatedFactory(missing ...string) Factory {
	unavailable := make(map[string]bool, len(missing))
	for _, p := range missing {
		unavailable[p] = true
	}
	return func() CameraDevice {
		return &Simulated{unavailable: unavailable, now: time.Now}
	}
}

func (s *Simulated) Open(path string, width, height, fps uint32) error {
	if s.open {
		return fmt.Errorf("%w: %s", ErrAlreadyOpen, s.path)
	}
	if s.unavailable[path] {
		return fmt.Errorf("can not open %s: %w", path, os.ErrNotExist)
	}
	if width == 0 || height == 0 || fps == 0 {
		return fmt.Errorf("%w: %dx%d@%d", ErrGeometry, width, height, fps)
	}

	s.path = path
	s.width = int(width)
	s.height = int(height)
	s.period = time.Second / time.Duration(fps)
	s.next = s.now()
	s.frameNo = 0
	s.open = true
	return nil
}

func (s *Simulated) TryReadFrame() (Frame, bool, error) {
	if !s.open {
		return Frame{}, false, ErrNotOpen
	}

	now := s.now()
	if now.Before(s.next) {
		return Frame{}, false, nil
	}
	s.next = s.next.Add(s.period)
	if s.next.Before(now) {
		// fell behind, resync instead of bursting
		s.next = now.Add(s.period)
	}
	s.frameNo++

	return Frame{Data: s.pattern(), Format: frame.BGR8}, true, nil
}

// pattern draws diagonal bands scrolling one pixel per frame; the path
// hash shifts them so left and right differ like a small disparity.
func (s *Simulated) pattern() []byte {
	shift := int(s.frameNo) + len(s.path)
	data := make([]byte, s.width*s.height*frame.BytesPerPixel)
	for y := 0; y < s.height; y++ {
		row := data[y*s.width*frame.BytesPerPixel:]
		for x := 0; x < s.width; x++ {
			v := byte((x + y + shift) * 4)
			row[x*3] = v
			row[x*3+1] = byte(y)
			row[x*3+2] = 255 - v
		}
	}
	return data
}

func (s *Simulated) Close() error {
	s.open = false
	return nil
}
