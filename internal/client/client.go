// Package client talks to a running stereocam node: the camera control
// endpoints over HTTP and the image streams over websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/api"
	"github.com/bryanchriswhite/stereocam/internal/config"
	"github.com/bryanchriswhite/stereocam/internal/output"
	"github.com/gorilla/websocket"
)

// ErrNotAcknowledged is returned when the node answered with ack 0
var ErrNotAcknowledged = errors.New("client: request not acknowledged")

const defaultTimeout = 10 * time.Second

// Client is bound to one node
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for baseURL, e.g. http://localhost:8080
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// ForPort creates a client for a node on localhost
func ForPort(port int) *Client {
	return New(fmt.Sprintf("http://localhost:%d", port))
}

// SetActive requests capture on or off
func (c *Client) SetActive(ctx context.Context, active bool) error {
	return c.command(ctx, "/api/camera/active", api.ActiveRequest{Active: active})
}

// SetParams reconfigures the stereo pair and waits for the result
func (c *Client) SetParams(ctx context.Context, cfg config.CameraConfig) error {
	return c.command(ctx, "/api/camera/params", api.ParamsRequest{
		LeftDevice:  cfg.LeftDevice,
		RightDevice: cfg.RightDevice,
		Width:       int64(cfg.Width),
		Height:      int64(cfg.Height),
		FPS:         int64(cfg.FPS),
	})
}

func (c *Client) command(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	var ack api.AckResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return fmt.Errorf("%s returned status %d: %w", path, resp.StatusCode, err)
	}
	if ack.Ack != api.AckOK {
		return fmt.Errorf("%w (status %d): %s", ErrNotAcknowledged, resp.StatusCode, ack.Error)
	}
	return nil
}

// Status fetches the node status
func (c *Client) Status(ctx context.Context) (*api.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/camera/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status returned %d", resp.StatusCode)
	}

	var status api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to parse status: %w", err)
	}
	return &status, nil
}

// Subscribe streams images of one stream to handle until ctx is done, the
// node closes the stream or handle returns an error. Stereo subscribers
// receive the left image of a pair followed by the right one.
func (c *Client) Subscribe(ctx context.Context, stream output.Stream, handle func(output.Image) error) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/stream/" + string(stream)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", stream, err)
	}
	defer conn.Close()

	// unblock ReadMessage on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		kind, b, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("stream %s: %w", stream, err)
		}
		if kind != websocket.BinaryMessage {
			continue
		}

		img, err := output.UnmarshalImage(b)
		if err != nil {
			return err
		}
		if err := handle(img); err != nil {
			return err
		}
	}
}
