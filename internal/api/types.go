package api

import (
	"fmt"
	"math"

	"github.com/bryanchriswhite/stereocam/internal/acquisition"
	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/output"
	"github.com/bryanchriswhite/stereocam/internal/rig"
)

// Ack values returned by the camera control endpoints
const (
	AckFailed = 0
	AckOK     = 1
)

// ActiveRequest toggles capture
type ActiveRequest struct {
	Active bool `json:"active"`
}

// ParamsRequest reconfigures the stereo pair. Sizes are signed so negative
// values are reported instead of wrapping.
type ParamsRequest struct {
	LeftDevice  string `json:"left_device"`
	RightDevice string `json:"right_device"`
	Width       int64  `json:"width"`
	Height      int64  `json:"height"`
	FPS         int64  `json:"fps"`
}

// CameraConfig validates the request and converts it
func (p ParamsRequest) CameraConfig() (config.CameraConfig, error) {
	for name, v := range map[string]int64{"width": p.Width, "height": p.Height, "fps": p.FPS} {
		if v <= 0 || v > math.MaxUint32 {
			return config.CameraConfig{}, fmt.Errorf("%w: %s %d out of range", config.ErrInvalidCamera, name, v)
		}
	}
	cfg := config.CameraConfig{
		LeftDevice:  p.LeftDevice,
		RightDevice: p.RightDevice,
		Width:       uint32(p.Width),
		Height:      uint32(p.Height),
		FPS:         uint32(p.FPS),
	}
	return cfg, cfg.Validate()
}

// AckResponse answers the control endpoints
type AckResponse struct {
	Ack   int    `json:"ack"`
	Error string `json:"error,omitempty"`
}

// StatusResponse is the body of GET /api/camera/status
type StatusResponse struct {
	Desired bool                `json:"desired"`
	Current config.CameraConfig `json:"current"`
	Rig     rig.Status          `json:"rig"`
	Loop    *acquisition.Stats  `json:"loop,omitempty"`
	Hub     output.HubStats     `json:"hub"`
}
