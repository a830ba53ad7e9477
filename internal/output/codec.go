package output

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/frame"
)

// Wire layout of one image, all integers big-endian:
//
//	magic "SCAM" | version u8 | stream len u8 + bytes | encoding len u8 + bytes |
//	sequence u64 | timestamp unix nanos i64 | width u32 | height u32 | stride u32 | pixels
const (
	WireVersion = 1
	wireMagic   = "SCAM"
)

var ErrBadMessage = errors.New("output: malformed image message")

// MarshalImage encodes img for the websocket transport
func MarshalImage(img Image) ([]byte, error) {
	if len(img.Stream) > math.MaxUint8 || len(img.Encoding) > math.MaxUint8 {
		return nil, fmt.Errorf("%w: name too long", ErrBadMessage)
	}
	if uint64(img.Stride)*uint64(img.Height) != uint64(len(img.Data)) {
		return nil, fmt.Errorf("%w: %d bytes for stride %d x height %d",
			ErrBadMessage, len(img.Data), img.Stride, img.Height)
	}

	var buf bytes.Buffer
	buf.Grow(len(wireMagic) + 3 + len(img.Stream) + len(img.Encoding) + 28 + len(img.Data))

	buf.WriteString(wireMagic)
	buf.WriteByte(WireVersion)
	buf.WriteByte(byte(len(img.Stream)))
	buf.WriteString(string(img.Stream))
	buf.WriteByte(byte(len(img.Encoding)))
	buf.WriteString(string(img.Encoding))

	var ts int64
	if !img.Timestamp.IsZero() {
		ts = img.Timestamp.UnixNano()
	}
	header := []any{img.Sequence, ts, img.Width, img.Height, img.Stride}
	for _, v := range header {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	buf.Write(img.Data)
	return buf.Bytes(), nil
}

// UnmarshalImage decodes one message produced by MarshalImage
func UnmarshalImage(b []byte) (Image, error) {
	r := bytes.NewReader(b)

	magic := make([]byte, len(wireMagic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != wireMagic {
		return Image{}, fmt.Errorf("%w: bad magic", ErrBadMessage)
	}
	version, err := r.ReadByte()
	if err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	if version != WireVersion {
		return Image{}, fmt.Errorf("%w: unsupported version %d", ErrBadMessage, version)
	}

	stream, err := readShortString(r)
	if err != nil {
		return Image{}, err
	}
	encoding, err := readShortString(r)
	if err != nil {
		return Image{}, err
	}

	var header struct {
		Sequence  uint64
		Timestamp int64
		Width     uint32
		Height    uint32
		Stride    uint32
	}
	if err := binary.Read(r, binary.BigEndian, &header); err != nil {
		return Image{}, fmt.Errorf("%w: header: %w", ErrBadMessage, err)
	}

	want := uint64(header.Stride) * uint64(header.Height)
	if uint64(r.Len()) != want {
		return Image{}, fmt.Errorf("%w: %d pixel bytes, header says %d", ErrBadMessage, r.Len(), want)
	}
	data := make([]byte, r.Len())
	if _, err := io.ReadFull(r, data); err != nil {
		return Image{}, fmt.Errorf("%w: %w", ErrBadMessage, err)
	}

	img := Image{
		Stream:   Stream(stream),
		Encoding: frame.PixelFormat(encoding),
		Sequence: header.Sequence,
		Width:    header.Width,
		Height:   header.Height,
		Stride:   header.Stride,
		Data:     data,
	}
	if header.Timestamp != 0 {
		img.Timestamp = time.Unix(0, header.Timestamp)
	}
	return img, nil
}

func readShortString(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrBadMessage, err)
	}
	s := make([]byte, n)
	if _, err := io.ReadFull(r, s); err != nil {
		return "", fmt.Errorf("%w: truncated name", ErrBadMessage)
	}
	return string(s), nil
}
