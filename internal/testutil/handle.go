package testutil

import (
	"encoding/json"
	"errors"
	"sync"
)

// ErrHandleClosed is returned by FakeHandle.SendMessage after Close.
var ErrHandleClosed = errors.New("fake handle closed")

// Frame is one outbound frame captured by FakeHandle.
type Frame struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
}

// Decode unmarshals the frame data into v.
func (f Frame) Decode(v interface{}) error {
	return json.Unmarshal(f.Data, v)
}

// FakeHandle is an in-memory connection that records every frame sent to it.
type FakeHandle struct {
	id string

	mu     sync.Mutex
	frames []Frame
	closed bool
}

func NewFakeHandle(id string) *FakeHandle {
	return &FakeHandle{id: id}
}

func (h *FakeHandle) ConnID() string {
	return h.id
}

// SendMessage marshals message the way a websocket client would.
func (h *FakeHandle) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHandleClosed
	}
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	h.frames = append(h.frames, frame)
	return nil
}

func (h *FakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *FakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Frames returns a copy of every captured frame.
func (h *FakeHandle) Frames() []Frame {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Frame(nil), h.frames...)
}

// Events returns the event names of the captured frames in order.
func (h *FakeHandle) Events() []string {
	frames := h.Frames()
	events := make([]string, len(frames))
	for i, f := range frames {
		events[i] = f.Event
	}
	return events
}

// FramesFor returns the captured frames with the given event name.
func (h *FakeHandle) FramesFor(event string) []Frame {
	var out []Frame
	for _, f := range h.Frames() {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}
