// Package liveevents fans freshly ingested usage out to SSE subscribers.
// Delivery is best effort: slow consumers lose events rather than slow the
// ingest path.
package liveevents

import (
	"errors"
	"strings"
	"sync"
)

const (
	StatusAccepted     = "accepted"
	StatusDeduplicated = "deduplicated"

	SourceAPI    = "api"
	SourceReplay = "replay"
)

const (
	DefaultBufferSize       = 50
	DefaultSubscriberBuffer = 16
)

type LiveEvent struct {
	Metric         string `json:"metric"`
	SubscriptionID string `json:"subscription_id"`
	Quantity       int64  `json:"quantity"`
	RecordedAt     string `json:"recorded_at"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	Source         string `json:"source"`
}

// Hub holds one replay-buffered stream per metric.
type Hub struct {
	mu               sync.RWMutex
	streams          map[string]*stream
	bufferSize       int
	subscriberBuffer int
}

type stream struct {
	mu     sync.Mutex
	buffer []LiveEvent
	subs   map[uint64]chan LiveEvent
	nextID uint64
}

type Subscription struct {
	hub    *Hub
	metric string
	id     uint64
	ch     chan LiveEvent
	once   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		streams:          make(map[string]*stream),
		bufferSize:       DefaultBufferSize,
		subscriberBuffer: DefaultSubscriberBuffer,
	}
}

func (h *Hub) Publish(metric string, event LiveEvent) {
	if h == nil {
		return
	}
	name := strings.TrimSpace(metric)
	if name == "" {
		return
	}
	h.mu.RLock()
	stream := h.streams[name]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	stream.buffer = append(stream.buffer, event)
	if len(stream.buffer) > h.bufferSize {
		stream.buffer = stream.buffer[len(stream.buffer)-h.bufferSize:]
	}
	subs := make([]chan LiveEvent, 0, len(stream.subs))
	for _, ch := range stream.subs {
		subs = append(subs, ch)
	}
	stream.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe attaches to the metric's stream and returns the replay buffer
// captured at attach time.
func (h *Hub) Subscribe(metric string) (*Subscription, []LiveEvent, error) {
	if h == nil {
		return nil, nil, errors.New("hub_unavailable")
	}
	name := strings.TrimSpace(metric)
	if name == "" {
		return nil, nil, errors.New("invalid_metric")
	}

	stream := h.ensureStream(name)
	stream.mu.Lock()
	if stream.subs == nil {
		stream.subs = make(map[uint64]chan LiveEvent)
	}
	id := stream.nextID
	stream.nextID++
	ch := make(chan LiveEvent, h.subscriberBuffer)
	stream.subs[id] = ch
	buffer := append([]LiveEvent(nil), stream.buffer...)
	stream.mu.Unlock()

	return &Subscription{
		hub:    h,
		metric: name,
		id:     id,
		ch:     ch,
	}, buffer, nil
}

func (h *Hub) ensureStream(metric string) *stream {
	h.mu.RLock()
	current := h.streams[metric]
	h.mu.RUnlock()
	if current != nil {
		return current
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	current = h.streams[metric]
	if current == nil {
		current = &stream{subs: make(map[uint64]chan LiveEvent)}
		h.streams[metric] = current
	}
	return current
}

func (h *Hub) unsubscribe(metric string, id uint64) {
	if h == nil {
		return
	}
	name := strings.TrimSpace(metric)
	if name == "" {
		return
	}

	h.mu.RLock()
	stream := h.streams[name]
	h.mu.RUnlock()
	if stream == nil {
		return
	}

	stream.mu.Lock()
	delete(stream.subs, id)
	remaining := len(stream.subs)
	stream.mu.Unlock()
	if remaining != 0 {
		return
	}

	h.mu.Lock()
	current := h.streams[name]
	if current != stream {
		h.mu.Unlock()
		return
	}
	stream.mu.Lock()
	empty := len(stream.subs) == 0
	stream.mu.Unlock()
	if empty {
		delete(h.streams, name)
	}
	h.mu.Unlock()
}

func (s *Subscription) Events() <-chan LiveEvent {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.metric, s.id)
	})
}
