package device

import (
	"path/filepath"
	"sort"

	"github.com/blackjack/webcam"
)

// List returns the video4linux device nodes present on this machine
func List() ([]string, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Info describes a video device found by Probe
type Info struct {
	Path    string   `json:"path"`
	Formats []string `json:"formats"`
	// Sizes lists the YUYV frame sizes, empty when YUYV is unsupported
	Sizes []string `json:"sizes"`
	Error string   `json:"error,omitempty"`
}

// Probe opens path briefly and reports what it can capture
func Probe(path string) Info {
	info := Info{Path: path}

	cam, err := webcam.Open(path)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	defer cam.Close()

	for f, name := range cam.GetSupportedFormats() {
		info.Formats = append(info.Formats, name)
		if f != pixelFormatYUYV {
			continue
		}
		for _, s := range cam.GetSupportedFrameSizes(f) {
			info.Sizes = append(info.Sizes, s.GetString())
		}
	}
	return info
}
