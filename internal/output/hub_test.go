package output

import (
	"testing"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/frame"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPair(t *testing.T, seq uint64, w, h int) *frame.Pair {
	t.Helper()
	left := frame.NewBuffer(w, h)
	right := frame.NewBuffer(w, h)

	l := make([]byte, w*h*3)
	r := make([]byte, w*h*3)
	for i := range l {
		l[i] = 0x11
		r[i] = 0x22
	}
	require.NoError(t, left.Write(l))
	require.NoError(t, right.Write(r))
	return &frame.Pair{Left: left, Right: right, Sequence: seq, Timestamp: time.Unix(42, 0)}
}

func startedHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub()
	require.NoError(t, h.Start())
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func TestHubLifecycle(t *testing.T) {
	h := NewHub()
	assert.False(t, h.IsRunning())
	require.ErrorIs(t, h.PublishPair(testPair(t, 1, 2, 2)), ErrNotRunning)

	_, err := h.Subscribe(StreamLeft, 0)
	require.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, h.Start())
	require.ErrorIs(t, h.Start(), ErrAlreadyRunning)
	assert.True(t, h.IsRunning())

	sub, err := h.Subscribe(StreamLeft, 0)
	require.NoError(t, err)

	require.NoError(t, h.Stop())
	require.NoError(t, h.Stop())

	_, open := <-sub.C
	assert.False(t, open, "stop closes subscriptions")
}

func TestHubRoutesStreams(t *testing.T) {
	h := startedHub(t)

	left, err := h.Subscribe(StreamLeft, 4)
	require.NoError(t, err)
	right, err := h.Subscribe(StreamRight, 4)
	require.NoError(t, err)
	stereo, err := h.Subscribe(StreamStereo, 4)
	require.NoError(t, err)

	require.NoError(t, h.PublishPair(testPair(t, 7, 4, 2)))

	msg := <-left.C
	require.Len(t, msg.Images, 1)
	assert.Equal(t, StreamLeft, msg.Images[0].Stream)
	assert.Equal(t, uint64(7), msg.Images[0].Sequence)
	assert.Equal(t, byte(0x11), msg.Images[0].Data[0])
	assert.Equal(t, uint32(12), msg.Images[0].Stride)
	assert.Equal(t, frame.BGR8, msg.Images[0].Encoding)

	msg = <-right.C
	require.Len(t, msg.Images, 1)
	assert.Equal(t, StreamRight, msg.Images[0].Stream)
	assert.Equal(t, byte(0x22), msg.Images[0].Data[0])

	msg = <-stereo.C
	require.Len(t, msg.Images, 2)
	assert.Equal(t, StreamLeft, msg.Images[0].Stream)
	assert.Equal(t, StreamRight, msg.Images[1].Stream)
	assert.Equal(t, msg.Images[0].Sequence, msg.Images[1].Sequence)
	assert.Len(t, msg.Images[0].Data, 24)
	assert.Len(t, msg.Images[1].Data, 24)
}

func TestHubCopiesPixels(t *testing.T) {
	h := startedHub(t)
	sub, err := h.Subscribe(StreamLeft, 1)
	require.NoError(t, err)

	pair := testPair(t, 1, 2, 2)
	require.NoError(t, h.PublishPair(pair))

	// the loop reuses its buffers for the next acquisition
	require.NoError(t, pair.Left.Write(make([]byte, 12)))

	msg := <-sub.C
	assert.Equal(t, byte(0x11), msg.Images[0].Data[0])
}

func TestHubDropsNewWhenSubscriberFull(t *testing.T) {
	h := startedHub(t)
	sub, err := h.Subscribe(StreamRight, 1)
	require.NoError(t, err)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, h.PublishPair(testPair(t, seq, 2, 2)))
	}

	msg := <-sub.C
	assert.Equal(t, uint64(1), msg.Sequence, "oldest message is kept")

	stats := h.Stats()
	assert.Equal(t, uint64(3), stats.Pairs)
	require.Len(t, stats.Subscribers, 1)
	assert.Equal(t, uint64(1), stats.Subscribers[0].Sent)
	assert.Equal(t, uint64(2), stats.Subscribers[0].Dropped)
}

func TestHubUnsubscribe(t *testing.T) {
	h := startedHub(t)
	sub, err := h.Subscribe(StreamStereo, 0)
	require.NoError(t, err)

	require.NoError(t, h.Unsubscribe(sub.ID))
	_, open := <-sub.C
	assert.False(t, open)

	require.ErrorIs(t, h.Unsubscribe(sub.ID), ErrUnknownSubscriber)
	require.ErrorIs(t, h.Unsubscribe(uuid.New()), ErrUnknownSubscriber)

	require.NoError(t, h.PublishPair(testPair(t, 1, 2, 2)))
	assert.Empty(t, h.Stats().Subscribers)
}

func TestHubRejectsBadInput(t *testing.T) {
	h := startedHub(t)

	_, err := h.Subscribe(Stream("depth"), 0)
	require.ErrorIs(t, err, ErrUnknownStream)

	require.Error(t, h.PublishPair(&frame.Pair{Left: frame.NewBuffer(2, 2)}))
	require.Error(t, h.PublishPair(nil))
}

func TestParseStream(t *testing.T) {
	for _, name := range []string{"left", "right", "stereo"} {
		s, err := ParseStream(name)
		require.NoError(t, err)
		assert.Equal(t, Stream(name), s)
	}
	_, err := ParseStream("LEFT")
	require.ErrorIs(t, err, ErrUnknownStream)
}

func TestHubImplementsOutput(t *testing.T) {
	var o Output = NewHub()
	assert.Equal(t, "Stereo stream hub", o.Name())
}
