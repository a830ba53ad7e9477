// Package acquisition runs the fixed-rate loop that reconciles the desired
// activation with the rig, acquires frame pairs and hands them to a publisher.
package acquisition

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/frame"
	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/bryanchriswhite/stereocam/internal/rig"
)

// Publisher receives every complete pair. The pair aliases the rig buffers
// and must be copied before it is used after PublishPair returns.
type Publisher interface {
	PublishPair(pair *frame.Pair) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(pair *frame.Pair) error

func (f PublisherFunc) PublishPair(pair *frame.Pair) error {
	return f(pair)
}

// Stats are the loop counters since it was created
type Stats struct {
	Iterations      uint64    `json:"iterations"`
	Published       uint64    `json:"published"`
	Timeouts        uint64    `json:"timeouts"`
	Corrupt         uint64    `json:"corrupt"`
	StartFailures   uint64    `json:"start_failures"`
	ReadFailures    uint64    `json:"read_failures"`
	PublishFailures uint64    `json:"publish_failures"`
	LastIteration   time.Time `json:"last_iteration"`
}

// Loop drives one rig
type Loop struct {
	rig       *rig.Rig
	state     *State
	publisher Publisher

	interval        time.Duration
	acquireTimeout  time.Duration
	maxStartRetries int

	// consecutive start failures, owned by the loop goroutine
	startAttempts int

	iterations      atomic.Uint64
	published       atomic.Uint64
	timeouts        atomic.Uint64
	corrupt         atomic.Uint64
	startFailures   atomic.Uint64
	readFailures    atomic.Uint64
	publishFailures atomic.Uint64
	lastIteration   atomic.Int64
}

// NewLoop creates a loop for r. A zero rate falls back to the 20 Hz default.
func NewLoop(r *rig.Rig, state *State, publisher Publisher, cfg config.LoopConfig) *Loop {
	interval := cfg.Interval()
	if interval <= 0 {
		interval = config.Defaults().Loop.Interval()
	}
	return &Loop{
		rig:             r,
		state:           state,
		publisher:       publisher,
		interval:        interval,
		acquireTimeout:  cfg.AcquireTimeout,
		maxStartRetries: cfg.MaxStartRetries,
	}
}

// Run steps the loop once per interval until ctx is cancelled. The rig is
// stopped on return whatever state it was in.
func (l *Loop) Run(ctx context.Context) error {
	log := logger.WithComponent("acquisition")
	log.Info().Dur("interval", l.interval).Msg("Acquisition loop started")

	defer func() {
		if err := l.rig.Stop(); err != nil {
			log.Warn().Err(err).Msg("Errors while releasing cameras")
		}
		s := l.Stats()
		log.Info().
			Uint64("iterations", s.Iterations).
			Uint64("published", s.Published).
			Uint64("timeouts", s.Timeouts).
			Msg("Acquisition loop stopped")
	}()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		l.Step(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Step runs a single iteration: reconcile, acquire, publish.
func (l *Loop) Step(ctx context.Context) {
	l.iterations.Add(1)
	defer l.lastIteration.Store(time.Now().UnixNano())

	if ctx.Err() != nil {
		return
	}
	log := logger.WithComponent("acquisition")

	if !l.state.Desired() {
		l.startAttempts = 0
		if l.rig.State() == rig.Active {
			if err := l.rig.Stop(); err != nil {
				log.Warn().Err(err).Msg("Errors while deactivating cameras")
			}
		}
		return
	}

	if !l.activate() {
		return
	}

	pair, err := l.rig.AcquireFramePair(l.acquireTimeout)
	switch {
	case err == nil:
	case errors.Is(err, rig.ErrAcquisitionTimeout):
		l.timeouts.Add(1)
		log.Debug().Err(err).Msg("Dropped cycle")
		return
	case errors.Is(err, frame.ErrSizeMismatch), errors.Is(err, frame.ErrUnsupportedFormat):
		l.corrupt.Add(1)
		log.Warn().Err(err).Msg("Dropped corrupt frame")
		return
	case errors.Is(err, rig.ErrNotActive):
		// a failed reconfigure left the rig inactive, the next step reopens it
		return
	case errors.Is(err, rig.ErrDeviceRead):
		l.readFailures.Add(1)
		log.Error().Err(err).Msg("Camera read failed, reopening")
		if err := l.rig.Stop(); err != nil {
			log.Warn().Err(err).Msg("Errors while releasing failed cameras")
		}
		return
	default:
		log.Error().Err(err).Msg("Acquisition failed")
		return
	}

	if err := l.publisher.PublishPair(pair); err != nil {
		l.publishFailures.Add(1)
		log.Warn().Err(err).Uint64("sequence", pair.Sequence).Msg("Publish failed")
		return
	}
	l.published.Add(1)
}

// activate starts the rig from the current config when it is inactive and
// reports whether it is active afterwards.
func (l *Loop) activate() bool {
	cfg := l.state.Config()
	started, err := l.rig.Activate(cfg)
	if err == nil {
		if started {
			l.startAttempts = 0
		}
		return true
	}

	l.startFailures.Add(1)
	l.startAttempts++
	log := logger.WithComponent("acquisition")
	log.Error().
		Err(err).
		Int("attempt", l.startAttempts).
		Str("config", cfg.String()).
		Msg("Failed to start cameras")

	if l.maxStartRetries > 0 && l.startAttempts >= l.maxStartRetries {
		log.Error().
			Int("attempts", l.startAttempts).
			Msg("Giving up on starting cameras, deactivating")
		l.state.SetDesired(false)
		l.startAttempts = 0
	}
	return false
}

// Stats returns a snapshot of the counters
func (l *Loop) Stats() Stats {
	s := Stats{
		Iterations:      l.iterations.Load(),
		Published:       l.published.Load(),
		Timeouts:        l.timeouts.Load(),
		Corrupt:         l.corrupt.Load(),
		StartFailures:   l.startFailures.Load(),
		ReadFailures:    l.readFailures.Load(),
		PublishFailures: l.publishFailures.Load(),
	}
	if ns := l.lastIteration.Load(); ns != 0 {
		s.LastIteration = time.Unix(0, ns)
	}
	return s
}

// Interval is the time between two iterations
func (l *Loop) Interval() time.Duration {
	return l.interval
}
