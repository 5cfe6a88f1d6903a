package session

import (
	"sync"
	"sync/atomic"
)

// Holder is the single session credential shared by the gate and the API
// client. Reads never observe a partially written token.
type Holder struct {
	token atomic.Pointer[string]

	mu          sync.Mutex
	subscribers []func(token string)
}

// NewHolder creates a Holder, optionally seeded with a token restored from disk
func NewHolder(token string) *Holder {
	h := &Holder{}
	if token != "" {
		h.token.Store(&token)
	}
	return h
}

// Get returns the current token, or "" when there is none
func (h *Holder) Get() string {
	if p := h.token.Load(); p != nil {
		return *p
	}
	return ""
}

// Present reports whether a credential is held
func (h *Holder) Present() bool {
	return h.Get() != ""
}

// Set replaces the credential. An empty token clears it.
func (h *Holder) Set(token string) {
	if token == "" {
		h.Clear()
		return
	}
	h.token.Store(&token)
	h.notify(token)
}

// Clear drops the credential. Every consumer sees the session as gone.
func (h *Holder) Clear() {
	if h.token.Swap(nil) == nil {
		return
	}
	h.notify("")
}

// Subscribe registers fn to be called with the new token after every change
// ("" after a clear).
func (h *Holder) Subscribe(fn func(token string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers = append(h.subscribers, fn)
}

func (h *Holder) notify(token string) {
	h.mu.Lock()
	subs := make([]func(string), len(h.subscribers))
	copy(subs, h.subscribers)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(token)
	}
}
