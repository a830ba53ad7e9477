package frame

import (
	"errors"
	"fmt"
	"image/color"
	"time"
)

// PixelFormat tags the memory layout of a pixel buffer
type PixelFormat string

const (
	// BGR8 is interleaved 8-bit blue, green, red. Every published buffer uses it.
	BGR8 PixelFormat = "bgr8"
	// YUYV is packed YUV 4:2:2, the native capture format of most UVC webcams.
	YUYV PixelFormat = "yuyv"
)

// BytesPerPixel of the published BGR8 format
const BytesPerPixel = 3

// SourceBytesPerPixel returns the bytes a source format uses per pixel, or 0 if unknown.
func (f PixelFormat) SourceBytesPerPixel() int {
	switch f {
	case BGR8:
		return BytesPerPixel
	case YUYV:
		return 2
	default:
		return 0
	}
}

var (
	ErrSizeMismatch      = errors.New("frame: source size does not match buffer geometry")
	ErrUnsupportedFormat = errors.New("frame: unsupported source pixel format")
)

// Buffer is a fixed-size BGR8 image sized for exactly one camera geometry.
// It cannot be resized; a new geometry needs a new Buffer.
type Buffer struct {
	width  int
	height int
	stride int
	format PixelFormat
	data   []byte
}

// NewBuffer allocates a zeroed buffer for width x height pixels
func NewBuffer(width, height int) *Buffer {
	stride := width * BytesPerPixel
	return &Buffer{
		width:  width,
		height: height,
		stride: stride,
		format: BGR8,
		data:   make([]byte, stride*height),
	}
}

func (b *Buffer) Width() int          { return b.width }
func (b *Buffer) Height() int         { return b.height }
func (b *Buffer) Stride() int         { return b.stride }
func (b *Buffer) Format() PixelFormat { return b.format }
func (b *Buffer) Len() int            { return len(b.data) }

// Bytes exposes the pixel memory. It is overwritten by the next Write.
func (b *Buffer) Bytes() []byte { return b.data }

// Write copies BGR8 pixels into the buffer
func (b *Buffer) Write(src []byte) error {
	if len(src) != len(b.data) {
		return fmt.Errorf("%w: got %d bytes, want %d (%dx%d %s)",
			ErrSizeMismatch, len(src), len(b.data), b.width, b.height, b.format)
	}
	copy(b.data, src)
	return nil
}

// WriteYUYV converts a packed YUYV 4:2:2 image into the buffer
func (b *Buffer) WriteYUYV(src []byte) error {
	want := b.width * b.height * 2
	if len(src) != want || b.width%2 != 0 {
		return fmt.Errorf("%w: got %d yuyv bytes, want %d (%dx%d)",
			ErrSizeMismatch, len(src), want, b.width, b.height)
	}

	dst := b.data
	for i, j := 0, 0; i+3 < len(src); i, j = i+4, j+6 {
		y0, u, y1, v := src[i], src[i+1], src[i+2], src[i+3]

		r, g, bl := color.YCbCrToRGB(y0, u, v)
		dst[j], dst[j+1], dst[j+2] = bl, g, r

		r, g, bl = color.YCbCrToRGB(y1, u, v)
		dst[j+3], dst[j+4], dst[j+5] = bl, g, r
	}
	return nil
}

// WriteFrom copies or converts src, captured in the given format, into the buffer
func (b *Buffer) WriteFrom(format PixelFormat, src []byte) error {
	switch format {
	case BGR8:
		return b.Write(src)
	case YUYV:
		return b.WriteYUYV(src)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// Clone returns an independent copy, for consumers that outlive the next acquisition
func (b *Buffer) Clone() *Buffer {
	c := *b
	c.data = make([]byte, len(b.data))
	copy(c.data, b.data)
	return &c
}

// Pair is one synchronized left+right capture
type Pair struct {
	Left      *Buffer
	Right     *Buffer
	Sequence  uint64
	Timestamp time.Time
}

// Clone deep-copies both images
func (p *Pair) Clone() *Pair {
	return &Pair{
		Left:      p.Left.Clone(),
		Right:     p.Right.Clone(),
		Sequence:  p.Sequence,
		Timestamp: p.Timestamp,
	}
}
