package output

import (
	"errors"
	"fmt"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/frame"
)

var (
	ErrNotRunning        = errors.New("output: hub not running")
	ErrAlreadyRunning    = errors.New("output: hub already running")
	ErrUnknownStream     = errors.New("output: unknown stream")
	ErrUnknownSubscriber = errors.New("output: subscriber not found")
)

// Output defines a sink for stereo pairs coming off the acquisition loop.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// PublishPair distributes one pair. The pair is only valid during the call.
	PublishPair(pair *frame.Pair) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Stream names a published topic
type Stream string

const (
	StreamLeft   Stream = "left"
	StreamRight  Stream = "right"
	StreamStereo Stream = "stereo" // left and right of one pair in a single message
)

// ParseStream validates a stream name
func ParseStream(s string) (Stream, error) {
	switch Stream(s) {
	case StreamLeft, StreamRight, StreamStereo:
		return Stream(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStream, s)
}

// Image is one published camera image
type Image struct {
	Stream    Stream
	Encoding  frame.PixelFormat
	Sequence  uint64
	Timestamp time.Time
	Width     uint32
	Height    uint32
	Stride    uint32
	Data      []byte
}

// Message is what a subscriber receives per pair: one image for the left and
// right streams, left followed by right for the stereo stream.
type Message struct {
	Sequence uint64
	Images   []Image
}

func newImage(stream Stream, buf *frame.Buffer, sequence uint64, ts time.Time) Image {
	data := make([]byte, buf.Len())
	copy(data, buf.Bytes())
	return Image{
		Stream:    stream,
		Encoding:  buf.Format(),
		Sequence:  sequence,
		Timestamp: ts,
		Width:     uint32(buf.Width()),
		Height:    uint32(buf.Height()),
		Stride:    uint32(buf.Stride()),
		Data:      data,
	}
}
