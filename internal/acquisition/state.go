package acquisition

import (
	"sync"
	"sync/atomic"

	"github.com/bryanchriswhite/stereocam/internal/config"
)

// State is shared between the control plane and the loop. Handlers write
// the desired activation, the loop only reads it.
type State struct {
	desired atomic.Bool

	mu     sync.RWMutex
	config config.CameraConfig
}

// NewState creates the shared state with the startup camera configuration
func NewState(cfg config.CameraConfig, active bool) *State {
	s := &State{config: cfg}
	s.desired.Store(active)
	return s
}

func (s *State) SetDesired(active bool) {
	s.desired.Store(active)
}

func (s *State) Desired() bool {
	return s.desired.Load()
}

// Config is the configuration the loop starts the rig with
func (s *State) Config() config.CameraConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SetConfig replaces the current configuration after a successful reconfigure
func (s *State) SetConfig(cfg config.CameraConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = cfg
}
