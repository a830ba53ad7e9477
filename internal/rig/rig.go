package rig

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/device"
	"github.com/bryanchriswhite/stereocam/internal/frame"
	"github.com/bryanchriswhite/stereocam/internal/logger"
)

var (
	ErrDeviceOpen            = errors.New("rig: device open failure")
	ErrDeviceRead            = errors.New("rig: device read failure")
	ErrAcquisitionTimeout    = errors.New("rig: acquisition timeout")
	ErrConcurrentReconfigure = errors.New("rig: reconfigure already in progress")
	ErrNotActive             = errors.New("rig: not active")
)

// DefaultPollInterval is the pause between two rounds of non-blocking reads
const DefaultPollInterval = 500 * time.Microsecond

// State of the rig
type State int

const (
	Inactive State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "inactive"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "active":
		*s = Active
	case "inactive":
		*s = Inactive
	default:
		return fmt.Errorf("rig: unknown state %q", text)
	}
	return nil
}

// Rig owns the left/right device pair and the two buffers sized for it.
// Either both devices are open or neither is. Every transition and every
// acquisition holds the same lock.
type Rig struct {
	newDevice    device.Factory
	pollInterval time.Duration

	mu       sync.Mutex
	state    State
	config   config.CameraConfig
	left     device.CameraDevice
	right    device.CameraDevice
	leftBuf  *frame.Buffer
	rightBuf *frame.Buffer
	sequence uint64

	reconfiguring atomic.Bool
}

// Option configures a Rig
type Option func(*Rig)

// WithPollInterval sets the pause between device polls while acquiring
func WithPollInterval(d time.Duration) Option {
	return func(r *Rig) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// New creates an inactive rig that opens devices through factory
func New(factory device.Factory, opts ...Option) *Rig {
	r := &Rig{
		newDevice:    factory,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens both devices at cfg. An active rig is stopped first.
// Sequence numbering restarts so the first pair of a session is 1.
func (r *Rig) Start(cfg config.CameraConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(cfg)
}

// Activate starts the rig at cfg unless it is already active
func (r *Rig) Activate(cfg config.CameraConfig) (bool, error) {
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Active {
		return false, nil
	}
	return true, r.startLocked(cfg)
}

func (r *Rig) startLocked(cfg config.CameraConfig) error {
	if r.state == Active {
		if err := r.stopLocked(); err != nil {
			logger.WithComponent("rig").Warn().Err(err).Msg("Errors while stopping before restart")
		}
	}

	left := r.newDevice()
	if err := left.Open(cfg.LeftDevice, cfg.Width, cfg.Height, cfg.FPS); err != nil {
		logger.WithDevice("rig", "left", cfg.LeftDevice).Error().Err(err).Msg("Failed to open camera")
		return fmt.Errorf("%w: left %s: %w", ErrDeviceOpen, cfg.LeftDevice, err)
	}

	right := r.newDevice()
	if err := right.Open(cfg.RightDevice, cfg.Width, cfg.Height, cfg.FPS); err != nil {
		logger.WithDevice("rig", "right", cfg.RightDevice).Error().Err(err).Msg("Failed to open camera")
		if cerr := left.Close(); cerr != nil {
			logger.WithDevice("rig", "left", cfg.LeftDevice).Warn().Err(cerr).Msg("Failed to close twin after open failure")
		}
		return fmt.Errorf("%w: right %s: %w", ErrDeviceOpen, cfg.RightDevice, err)
	}

	// both buffers exist before the devices become visible on r
	leftBuf := frame.NewBuffer(int(cfg.Width), int(cfg.Height))
	rightBuf := frame.NewBuffer(int(cfg.Width), int(cfg.Height))

	r.left, r.right = left, right
	r.leftBuf, r.rightBuf = leftBuf, rightBuf
	r.config = cfg
	r.sequence = 0
	r.state = Active

	logger.WithComponent("rig").Info().
		Str("left", cfg.LeftDevice).
		Str("right", cfg.RightDevice).
		Uint32("width", cfg.Width).
		Uint32("height", cfg.Height).
		Uint32("fps", cfg.FPS).
		Msg("Stereo camera started")
	return nil
}

// Stop closes both devices and drops the buffers. Stopping an inactive rig is a no-op.
// The rig is inactive afterwards even if a device fails to close.
func (r *Rig) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopLocked()
}

func (r *Rig) stopLocked() error {
	if r.state == Inactive {
		return nil
	}

	var errs []error
	if err := r.left.Close(); err != nil {
		errs = append(errs, fmt.Errorf("left %s: %w", r.config.LeftDevice, err))
	}
	if err := r.right.Close(); err != nil {
		errs = append(errs, fmt.Errorf("right %s: %w", r.config.RightDevice, err))
	}

	r.left, r.right = nil, nil
	r.leftBuf, r.rightBuf = nil, nil
	r.state = Inactive

	logger.WithComponent("rig").Info().
		Uint64("sequence", r.sequence).
		Msg("Stereo camera stopped")
	return errors.Join(errs...)
}

// Reconfigure restarts the rig at cfg. No acquisition runs between the stop
// and the start, and a second reconfigure while one is running is rejected.
// On success commit, if not nil, runs before the rig lock is released so
// callers record cfg in the same order the rig applied it.
func (r *Rig) Reconfigure(cfg config.CameraConfig, commit func(config.CameraConfig)) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if !r.reconfiguring.CompareAndSwap(false, true) {
		return ErrConcurrentReconfigure
	}
	defer r.reconfiguring.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	logger.WithComponent("rig").Info().
		Str("from", r.config.String()).
		Str("to", cfg.String()).
		Msg("Reconfiguring stereo camera")

	if err := r.stopLocked(); err != nil {
		logger.WithComponent("rig").Warn().Err(err).Msg("Errors while stopping for reconfigure")
	}
	if err := r.startLocked(cfg); err != nil {
		return err
	}
	if commit != nil {
		commit(cfg)
	}
	return nil
}

// AcquireFramePair polls both devices until each produced a frame or the
// timeout passes. A timeout <= 0 waits two frame periods. The returned
// pair aliases the rig buffers and is valid until the next acquisition.
func (r *Rig) AcquireFramePair(timeout time.Duration) (*frame.Pair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Active {
		return nil, ErrNotActive
	}
	if timeout <= 0 {
		timeout = 2 * r.config.FramePeriod()
	}
	deadline := time.Now().Add(timeout)

	var (
		lf, rf       device.Frame
		haveL, haveR bool
		err          error
	)
	for {
		if !haveL {
			if lf, haveL, err = r.left.TryReadFrame(); err != nil {
				return nil, fmt.Errorf("%w: left %s: %w", ErrDeviceRead, r.config.LeftDevice, err)
			}
		}
		if !haveR {
			if rf, haveR, err = r.right.TryReadFrame(); err != nil {
				return nil, fmt.Errorf("%w: right %s: %w", ErrDeviceRead, r.config.RightDevice, err)
			}
		}
		if haveL && haveR {
			break
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("%w after %v (left ready: %t, right ready: %t)",
				ErrAcquisitionTimeout, timeout, haveL, haveR)
		}
		time.Sleep(min(r.pollInterval, remaining))
	}
	captured := time.Now()

	if err := r.leftBuf.WriteFrom(lf.Format, lf.Data); err != nil {
		return nil, fmt.Errorf("left %s: %w", r.config.LeftDevice, err)
	}
	if err := r.rightBuf.WriteFrom(rf.Format, rf.Data); err != nil {
		return nil, fmt.Errorf("right %s: %w", r.config.RightDevice, err)
	}

	r.sequence++
	return &frame.Pair{
		Left:      r.leftBuf,
		Right:     r.rightBuf,
		Sequence:  r.sequence,
		Timestamp: captured,
	}, nil
}

// State returns the current state
func (r *Rig) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Buffers returns the buffers of the active configuration, nil when inactive
func (r *Rig) Buffers() (left, right *frame.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leftBuf, r.rightBuf
}

// Status is a point-in-time view of the rig
type Status struct {
	State         State                `json:"state"`
	Config        *config.CameraConfig `json:"config,omitempty"`
	Sequence      uint64               `json:"sequence"`
	FrameBytes    int                  `json:"frame_bytes"`
	Reconfiguring bool                 `json:"reconfiguring"`
}

// Snapshot reports the rig status. It waits for an in-flight acquisition.
func (r *Rig) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Status{
		State:         r.state,
		Sequence:      r.sequence,
		Reconfiguring: r.reconfiguring.Load(),
	}
	if r.state == Active {
		cfg := r.config
		s.Config = &cfg
		s.FrameBytes = r.leftBuf.Len()
	}
	return s
}
