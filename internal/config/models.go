package config

import (
	"errors"
	"fmt"
	"time"
)

// Driver selects the camera device implementation
type Driver string

const (
	DriverV4L2      Driver = "v4l2"      // blackjack/webcam on /dev/video*
	DriverSimulated Driver = "simulated" // synthetic test pattern, no hardware
)

var ErrInvalidCamera = errors.New("config: invalid camera configuration")

// Geometry limits accepted for either camera
const (
	MaxWidth  = 4096
	MaxHeight = 4096
	MaxFPS    = 120
)

// CameraConfig describes one geometry for the stereo pair. Once applied to an
// active rig it is never changed in place; a new value means stop and restart.
type CameraConfig struct {
	LeftDevice  string `json:"left_device" yaml:"left_device" mapstructure:"left_device"`
	RightDevice string `json:"right_device" yaml:"right_device" mapstructure:"right_device"`
	Width       uint32 `json:"width" yaml:"width" mapstructure:"width"`
	Height      uint32 `json:"height" yaml:"height" mapstructure:"height"`
	FPS         uint32 `json:"fps" yaml:"fps" mapstructure:"fps"`
}

// Validate rejects configurations no device could be opened with
func (c CameraConfig) Validate() error {
	switch {
	case c.LeftDevice == "" || c.RightDevice == "":
		return fmt.Errorf("%w: both device paths are required", ErrInvalidCamera)
	case c.LeftDevice == c.RightDevice:
		return fmt.Errorf("%w: left and right device are both %s", ErrInvalidCamera, c.LeftDevice)
	case c.Width == 0 || c.Height == 0 || c.Width > MaxWidth || c.Height > MaxHeight:
		return fmt.Errorf("%w: resolution %dx%d outside 1x1..%dx%d", ErrInvalidCamera, c.Width, c.Height, MaxWidth, MaxHeight)
	case c.FPS == 0 || c.FPS > MaxFPS:
		return fmt.Errorf("%w: fps %d outside 1..%d", ErrInvalidCamera, c.FPS, MaxFPS)
	}
	return nil
}

// FramePeriod is the time between two frames at the configured rate
func (c CameraConfig) FramePeriod() time.Duration {
	if c.FPS == 0 {
		return 0
	}
	return time.Second / time.Duration(c.FPS)
}

// FrameBytes is the size of one published BGR8 image
func (c CameraConfig) FrameBytes() int {
	return int(c.Width) * int(c.Height) * 3
}

func (c CameraConfig) String() string {
	return fmt.Sprintf("%s+%s %dx%d@%d", c.LeftDevice, c.RightDevice, c.Width, c.Height, c.FPS)
}

// CameraSettings is the camera section of the config file
type CameraSettings struct {
	CameraConfig `yaml:",inline" mapstructure:",squash"`

	// StartActive requests capture immediately at startup
	StartActive bool `json:"start_active" yaml:"start_active" mapstructure:"start_active"`
	// PersistReconfigure writes accepted reconfigure requests back to the config file
	PersistReconfigure bool `json:"persist_reconfigure" yaml:"persist_reconfigure" mapstructure:"persist_reconfigure"`
}

// LoopConfig tunes the acquisition loop
type LoopConfig struct {
	RateHz          float64       `json:"rate_hz" yaml:"rate_hz" mapstructure:"rate_hz"`
	AcquireTimeout  time.Duration `json:"acquire_timeout" yaml:"acquire_timeout" mapstructure:"acquire_timeout"` // 0 = two frame periods
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval" mapstructure:"poll_interval"`
	MaxStartRetries int           `json:"max_start_retries" yaml:"max_start_retries" mapstructure:"max_start_retries"` // 0 = retry forever
}

// Interval is the period of one loop iteration
func (l LoopConfig) Interval() time.Duration {
	if l.RateHz <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / l.RateHz)
}

// Config represents the application configuration
type Config struct {
	ServerPort int            `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string         `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool           `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	Driver     Driver         `json:"driver" yaml:"driver" mapstructure:"driver"`
	Camera     CameraSettings `json:"camera" yaml:"camera" mapstructure:"camera"`
	Loop       LoopConfig     `json:"loop" yaml:"loop" mapstructure:"loop"`
}

// Defaults returns the startup configuration used before any file or request
func Defaults() *Config {
	return &Config{
		ServerPort: 8080,
		LogLevel:   "info",
		Driver:     DriverV4L2,
		Camera: CameraSettings{
			CameraConfig: CameraConfig{
				LeftDevice:  "/dev/video1",
				RightDevice: "/dev/video0",
				Width:       320,
				Height:      240,
				FPS:         30,
			},
		},
		Loop: LoopConfig{
			RateHz:       20,
			PollInterval: 500 * time.Microsecond,
		},
	}
}

// Validate checks the whole configuration
func (c *Config) Validate() error {
	if c.ServerPort < 1 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server port: %d", c.ServerPort)
	}
	switch c.Driver {
	case DriverV4L2, DriverSimulated:
	default:
		return fmt.Errorf("unknown driver %q (use %s or %s)", c.Driver, DriverV4L2, DriverSimulated)
	}
	if err := c.Camera.Validate(); err != nil {
		return err
	}
	if c.Loop.RateHz <= 0 {
		return fmt.Errorf("loop rate must be positive, got %v", c.Loop.RateHz)
	}
	if c.Loop.AcquireTimeout < 0 || c.Loop.PollInterval < 0 || c.Loop.MaxStartRetries < 0 {
		return errors.New("loop timings and retry count must not be negative")
	}
	return nil
}
