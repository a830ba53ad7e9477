package output

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/stereocam/internal/frame"
	"github.com/bryanchriswhite/stereocam/internal/logger"
	"github.com/google/uuid"
)

// DefaultBuffer is the number of messages queued per subscriber before new
// ones are dropped
const DefaultBuffer = 2

type subscriber struct {
	id      uuid.UUID
	stream  Stream
	ch      chan Message
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Subscription is a registered consumer of one stream
type Subscription struct {
	ID     uuid.UUID
	Stream Stream
	C      <-chan Message
}

// SubscriberStats counts deliveries to one subscriber
type SubscriberStats struct {
	ID      uuid.UUID `json:"id"`
	Stream  Stream    `json:"stream"`
	Sent    uint64    `json:"sent"`
	Dropped uint64    `json:"dropped"`
}

// HubStats describes the hub at a point in time
type HubStats struct {
	Running     bool              `json:"running"`
	Pairs       uint64            `json:"pairs"`
	LastPublish time.Time         `json:"last_publish"`
	Uptime      time.Duration     `json:"uptime"`
	Subscribers []SubscriberStats `json:"subscribers"`
}

// Hub fans published pairs out to the left, right and stereo subscribers.
// A subscriber that falls behind loses new messages instead of blocking
// the acquisition loop.
type Hub struct {
	mu          sync.RWMutex
	running     bool
	subscribers map[uuid.UUID]*subscriber
	pairs       uint64
	lastPublish time.Time
	startTime   time.Time
}

// NewHub creates a stopped hub
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]*subscriber),
	}
}

func (h *Hub) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrAlreadyRunning
	}

	h.running = true
	h.startTime = time.Now()
	h.pairs = 0

	logger.WithComponent("output").Info().Msg("Stream hub started")
	return nil
}

// Stop closes every subscription
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return nil
	}
	h.running = false

	for id, sub := range h.subscribers {
		close(sub.ch)
		delete(h.subscribers, id)
	}

	logger.WithComponent("output").Info().Uint64("pairs", h.pairs).Msg("Stream hub stopped")
	return nil
}

// PublishPair copies the pair once per stream that has subscribers and
// delivers left, then right, then stereo.
func (h *Hub) PublishPair(pair *frame.Pair) error {
	if pair == nil || pair.Left == nil || pair.Right == nil {
		return fmt.Errorf("output: incomplete pair")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrNotRunning
	}
	h.pairs++
	h.lastPublish = time.Now()

	if len(h.subscribers) == 0 {
		return nil
	}

	var left, right *Image
	needs := func(s Stream) bool {
		for _, sub := range h.subscribers {
			if sub.stream == s || sub.stream == StreamStereo {
				return true
			}
		}
		return false
	}
	if needs(StreamLeft) {
		img := newImage(StreamLeft, pair.Left, pair.Sequence, pair.Timestamp)
		left = &img
	}
	if needs(StreamRight) {
		img := newImage(StreamRight, pair.Right, pair.Sequence, pair.Timestamp)
		right = &img
	}

	if left != nil {
		h.deliver(StreamLeft, Message{Sequence: pair.Sequence, Images: []Image{*left}})
	}
	if right != nil {
		h.deliver(StreamRight, Message{Sequence: pair.Sequence, Images: []Image{*right}})
	}
	if left != nil && right != nil {
		h.deliver(StreamStereo, Message{Sequence: pair.Sequence, Images: []Image{*left, *right}})
	}
	return nil
}

func (h *Hub) deliver(stream Stream, msg Message) {
	for _, sub := range h.subscribers {
		if sub.stream != stream {
			continue
		}
		select {
		case sub.ch <- msg:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Subscribe registers a consumer of stream. buffer <= 0 uses DefaultBuffer.
func (h *Hub) Subscribe(stream Stream, buffer int) (Subscription, error) {
	if _, err := ParseStream(string(stream)); err != nil {
		return Subscription{}, err
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return Subscription{}, ErrNotRunning
	}

	sub := &subscriber{
		id:     uuid.New(),
		stream: stream,
		ch:     make(chan Message, buffer),
	}
	h.subscribers[sub.id] = sub

	logger.WithComponent("output").Info().
		Str("subscriber", sub.id.String()).
		Str("stream", string(stream)).
		Int("total", len(h.subscribers)).
		Msg("Subscriber connected")

	return Subscription{ID: sub.id, Stream: stream, C: sub.ch}, nil
}

// Unsubscribe removes a subscriber and closes its channel
func (h *Hub) Unsubscribe(id uuid.UUID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub, ok := h.subscribers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSubscriber, id)
	}
	close(sub.ch)
	delete(h.subscribers, id)

	logger.WithComponent("output").Info().
		Str("subscriber", id.String()).
		Uint64("sent", sub.sent.Load()).
		Uint64("dropped", sub.dropped.Load()).
		Int("remaining", len(h.subscribers)).
		Msg("Subscriber disconnected")
	return nil
}

func (h *Hub) Name() string {
	return "Stereo stream hub"
}

func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Stats reports hub and per-subscriber counters
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s := HubStats{
		Running:     h.running,
		Pairs:       h.pairs,
		LastPublish: h.lastPublish,
		Subscribers: make([]SubscriberStats, 0, len(h.subscribers)),
	}
	if h.running {
		s.Uptime = time.Since(h.startTime).Round(time.Second)
	}
	for _, sub := range h.subscribers {
		s.Subscribers = append(s.Subscribers, SubscriberStats{
			ID:      sub.id,
			Stream:  sub.stream,
			Sent:    sub.sent.Load(),
			Dropped: sub.dropped.Load(),
		})
	}
	return s
}
