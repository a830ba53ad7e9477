package rig

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/device"
	"github.com/bryanchriswhite/stereocam/internal/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHardware scripts the behaviour of every device opened through its factory
type fakeHardware struct {
	mu       sync.Mutex
	failOpen map[string]error
	silent   map[string]bool // never produce frames
	short    map[string]bool // produce frames one byte too small
	readErr  map[string]error
	lag      map[string]int // polls that come back empty before frames flow
	polls    map[string]int
	reads    map[string]int // frames handed out
	open     map[string]int
	opens    []string
	gate     chan struct{} // when set, Open blocks until it is closed
	entered  chan string
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		failOpen: map[string]error{},
		silent:   map[string]bool{},
		short:    map[string]bool{},
		readErr:  map[string]error{},
		lag:      map[string]int{},
		polls:    map[string]int{},
		reads:    map[string]int{},
		open:     map[string]int{},
	}
}

func (h *fakeHardware) factory() device.Factory {
	return func() device.CameraDevice { return &fakeDevice{hw: h} }
}

func (h *fakeHardware) openCount(path string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.open[path]
}

type fakeDevice struct {
	hw     *fakeHardware
	path   string
	width  int
	height int
	isOpen bool
}

func (d *fakeDevice) Open(path string, width, height, fps uint32) error {
	if d.hw.entered != nil {
		d.hw.entered <- path
	}
	if d.hw.gate != nil {
		<-d.hw.gate
	}

	d.hw.mu.Lock()
	defer d.hw.mu.Unlock()
	if err := d.hw.failOpen[path]; err != nil {
		return err
	}
	d.path, d.width, d.height = path, int(width), int(height)
	d.isOpen = true
	d.hw.open[path]++
	d.hw.opens = append(d.hw.opens, path)
	return nil
}

func (d *fakeDevice) TryReadFrame() (device.Frame, bool, error) {
	d.hw.mu.Lock()
	defer d.hw.mu.Unlock()
	if !d.isOpen {
		return device.Frame{}, false, device.ErrNotOpen
	}
	if err := d.hw.readErr[d.path]; err != nil {
		return device.Frame{}, false, err
	}
	if d.hw.silent[d.path] {
		return device.Frame{}, false, nil
	}
	d.hw.polls[d.path]++
	if d.hw.polls[d.path] <= d.hw.lag[d.path] {
		return device.Frame{}, false, nil
	}
	d.hw.reads[d.path]++
	n := d.width * d.height * frame.BytesPerPixel
	if d.hw.short[d.path] {
		n--
	}
	return device.Frame{Data: make([]byte, n), Format: frame.BGR8}, true, nil
}

func (d *fakeDevice) Close() error {
	d.hw.mu.Lock()
	defer d.hw.mu.Unlock()
	if d.isOpen {
		d.isOpen = false
		d.hw.open[d.path]--
	}
	return nil
}

var qvga = config.CameraConfig{
	LeftDevice:  "/dev/video1",
	RightDevice: "/dev/video0",
	Width:       320,
	Height:      240,
	FPS:         30,
}

var vga = config.CameraConfig{
	LeftDevice:  "/dev/video1",
	RightDevice: "/dev/video0",
	Width:       640,
	Height:      480,
	FPS:         30,
}

func TestStartAcquireSizesAndSequence(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())

	require.NoError(t, r.Start(qvga))
	assert.Equal(t, Active, r.State())

	for want := uint64(1); want <= 3; want++ {
		pair, err := r.AcquireFramePair(100 * time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, want, pair.Sequence)
		assert.Equal(t, 230400, pair.Left.Len())
		assert.Equal(t, 230400, pair.Right.Len())
		assert.Equal(t, 960, pair.Left.Stride())
		assert.Equal(t, frame.BGR8, pair.Right.Format())
	}

	require.NoError(t, r.Stop())
}

func TestStopIsIdempotent(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.Equal(t, Inactive, r.State())

	require.NoError(t, r.Start(qvga))
	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	assert.Equal(t, Inactive, r.State())
	assert.Zero(t, hw.openCount("/dev/video0"))
	assert.Zero(t, hw.openCount("/dev/video1"))

	left, right := r.Buffers()
	assert.Nil(t, left)
	assert.Nil(t, right)
}

func TestStartFailureClosesTwin(t *testing.T) {
	hw := newFakeHardware()
	hw.failOpen["/dev/video0"] = errors.New("no such device")
	r := New(hw.factory())

	err := r.Start(qvga)
	require.ErrorIs(t, err, ErrDeviceOpen)
	assert.Equal(t, Inactive, r.State())
	assert.Zero(t, hw.openCount("/dev/video1"), "left must not stay open without its twin")

	left, right := r.Buffers()
	assert.Nil(t, left)
	assert.Nil(t, right)

	_, err = r.AcquireFramePair(10 * time.Millisecond)
	require.ErrorIs(t, err, ErrNotActive)
}

func TestStartLeftFailure(t *testing.T) {
	hw := newFakeHardware()
	hw.failOpen["/dev/video1"] = errors.New("busy")
	r := New(hw.factory())

	require.ErrorIs(t, r.Start(qvga), ErrDeviceOpen)
	assert.Equal(t, Inactive, r.State())
	assert.Empty(t, hw.opens)
}

func TestStartFromActiveRestarts(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())

	require.NoError(t, r.Start(qvga))
	require.NoError(t, r.Start(vga))

	assert.Equal(t, 1, hw.openCount("/dev/video1"))
	assert.Equal(t, 1, hw.openCount("/dev/video0"))
	left, _ := r.Buffers()
	assert.Equal(t, 921600, left.Len())
}

func TestActivateIsNoopWhenActive(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())

	started, err := r.Activate(qvga)
	require.NoError(t, err)
	assert.True(t, started)

	started, err = r.Activate(vga)
	require.NoError(t, err)
	assert.False(t, started)

	left, _ := r.Buffers()
	assert.Equal(t, 230400, left.Len(), "active geometry must be untouched")
}

func TestReconfigureReplacesBuffers(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())
	require.NoError(t, r.Start(qvga))

	first, err := r.AcquireFramePair(100 * time.Millisecond)
	require.NoError(t, err)
	oldLeft, oldRight := first.Left, first.Right

	require.NoError(t, r.Reconfigure(vga, nil))

	left, right := r.Buffers()
	assert.NotSame(t, oldLeft, left)
	assert.NotSame(t, oldRight, right)
	assert.Equal(t, 921600, left.Len())
	assert.Equal(t, 921600, right.Len())

	pair, err := r.AcquireFramePair(100 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 921600, pair.Left.Len())
	assert.Equal(t, 921600, pair.Right.Len())
	assert.Equal(t, uint64(1), pair.Sequence, "numbering restarts with the new session")

	assert.Equal(t, []string{"/dev/video1", "/dev/video0", "/dev/video1", "/dev/video0"}, hw.opens)
	assert.Equal(t, 1, hw.openCount("/dev/video1"))
}

func TestReconfigureFailureLeavesInactive(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())
	require.NoError(t, r.Start(qvga))

	hw.failOpen["/dev/video7"] = errors.New("missing")
	bad := vga
	bad.RightDevice = "/dev/video7"

	require.ErrorIs(t, r.Reconfigure(bad, nil), ErrDeviceOpen)
	assert.Equal(t, Inactive, r.State())
	assert.Zero(t, hw.openCount("/dev/video1"))
	assert.Zero(t, hw.openCount("/dev/video0"))
}

func TestReconfigureRejectsInvalidConfig(t *testing.T) {
	r := New(newFakeHardware().factory())

	bad := qvga
	bad.Width = 0
	require.ErrorIs(t, r.Reconfigure(bad, nil), config.ErrInvalidCamera)
}

func TestStartRejectsOversizedGeometry(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())

	huge := qvga
	huge.Width, huge.Height = 1<<32-1, 1<<32-1
	require.ErrorIs(t, r.Start(huge), config.ErrInvalidCamera)
	require.ErrorIs(t, r.Reconfigure(huge, nil), config.ErrInvalidCamera)

	assert.Equal(t, Inactive, r.State())
	assert.Empty(t, hw.opens, "no device is opened for a rejected geometry")
	left, right := r.Buffers()
	assert.Nil(t, left)
	assert.Nil(t, right)
}

func TestReconfigureCommitsBeforeRelease(t *testing.T) {
	hw := newFakeHardware()
	r := New(hw.factory())

	var committed []config.CameraConfig
	commit := func(cfg config.CameraConfig) {
		committed = append(committed, cfg)

		// still exclusive: the lock is held and other reconfigures bounce
		assert.False(t, r.mu.TryLock())
		assert.ErrorIs(t, r.Reconfigure(qvga, nil), ErrConcurrentReconfigure)
	}

	require.NoError(t, r.Reconfigure(vga, commit))
	require.Equal(t, []config.CameraConfig{vga}, committed)

	hw.failOpen["/dev/video7"] = errors.New("missing")
	bad := qvga
	bad.LeftDevice = "/dev/video7"
	require.ErrorIs(t, r.Reconfigure(bad, commit), ErrDeviceOpen)
	assert.Len(t, committed, 1, "failed reconfigures are not committed")
}

func TestConcurrentReconfigureRejected(t *testing.T) {
	hw := newFakeHardware()
	hw.gate = make(chan struct{})
	hw.entered = make(chan string, 4)
	r := New(hw.factory())

	done := make(chan error, 1)
	go func() { done <- r.Reconfigure(qvga, nil) }()

	// first reconfigure is now blocked inside the left device open
	<-hw.entered

	require.ErrorIs(t, r.Reconfigure(vga, nil), ErrConcurrentReconfigure)
	assert.True(t, r.reconfiguring.Load())

	close(hw.gate)
	require.NoError(t, <-done)

	left, _ := r.Buffers()
	assert.Equal(t, 230400, left.Len())
	assert.False(t, r.reconfiguring.Load())
}

func TestAcquireTimeoutWhenOneSideSilent(t *testing.T) {
	hw := newFakeHardware()
	hw.silent["/dev/video0"] = true
	r := New(hw.factory())
	require.NoError(t, r.Start(qvga))

	start := time.Now()
	pair, err := r.AcquireFramePair(20 * time.Millisecond)
	require.ErrorIs(t, err, ErrAcquisitionTimeout)
	assert.Nil(t, pair)
	assert.Less(t, time.Since(start), time.Second)

	// recovery: the next cycle succeeds and no sequence number was consumed
	hw.mu.Lock()
	hw.silent["/dev/video0"] = false
	hw.mu.Unlock()

	pair, err = r.AcquireFramePair(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pair.Sequence)
}

func TestAcquireKeepsEarlyFrameWhileTwinLags(t *testing.T) {
	hw := newFakeHardware()
	hw.lag["/dev/video0"] = 5
	r := New(hw.factory(), WithPollInterval(time.Millisecond))
	require.NoError(t, r.Start(qvga))

	pair, err := r.AcquireFramePair(500 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pair.Sequence)
	assert.Equal(t, 230400, pair.Left.Len())
	assert.Equal(t, 230400, pair.Right.Len())

	hw.mu.Lock()
	defer hw.mu.Unlock()
	assert.Equal(t, 1, hw.reads["/dev/video1"], "left is read once and held")
	assert.Equal(t, 1, hw.polls["/dev/video1"])
	assert.Equal(t, 6, hw.polls["/dev/video0"])
	assert.Equal(t, 1, hw.reads["/dev/video0"])
}

func TestAcquireDefaultDeadlineFromFPS(t *testing.T) {
	hw := newFakeHardware()
	hw.silent["/dev/video1"] = true
	hw.silent["/dev/video0"] = true
	r := New(hw.factory())
	require.NoError(t, r.Start(qvga))

	start := time.Now()
	_, err := r.AcquireFramePair(0)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrAcquisitionTimeout)
	assert.GreaterOrEqual(t, elapsed, 2*qvga.FramePeriod())
	assert.Less(t, elapsed, time.Second)
}

func TestAcquireSizeMismatchDropsFrame(t *testing.T) {
	hw := newFakeHardware()
	hw.short["/dev/video0"] = true
	r := New(hw.factory())
	require.NoError(t, r.Start(qvga))

	_, err := r.AcquireFramePair(50 * time.Millisecond)
	require.ErrorIs(t, err, frame.ErrSizeMismatch)
	assert.Equal(t, Active, r.State(), "a corrupt frame does not stop the rig")

	hw.mu.Lock()
	hw.short["/dev/video0"] = false
	hw.mu.Unlock()

	pair, err := r.AcquireFramePair(50 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), pair.Sequence)
}

func TestAcquireReadError(t *testing.T) {
	hw := newFakeHardware()
	hw.readErr["/dev/video1"] = errors.New("device unplugged")
	r := New(hw.factory())
	require.NoError(t, r.Start(qvga))

	_, err := r.AcquireFramePair(50 * time.Millisecond)
	require.ErrorIs(t, err, ErrDeviceRead)
}

func TestSnapshot(t *testing.T) {
	r := New(newFakeHardware().factory())

	s := r.Snapshot()
	assert.Equal(t, Inactive, s.State)
	assert.Nil(t, s.Config)

	require.NoError(t, r.Start(qvga))
	_, err := r.AcquireFramePair(50 * time.Millisecond)
	require.NoError(t, err)

	s = r.Snapshot()
	assert.Equal(t, Active, s.State)
	require.NotNil(t, s.Config)
	assert.Equal(t, qvga, *s.Config)
	assert.Equal(t, uint64(1), s.Sequence)
	assert.Equal(t, 230400, s.FrameBytes)

	text, err := s.State.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "active", string(text))
}

func TestStateTextRoundTrip(t *testing.T) {
	for _, s := range []State{Inactive, Active} {
		text, err := s.MarshalText()
		require.NoError(t, err)

		var got State
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}

	var s State
	require.Error(t, s.UnmarshalText([]byte("half-open")))
}
