// Package session holds the per-connection state the relay mutates as
// client messages arrive: the last screen frame, scroll offset, lifecycle
// flags and the selector registry.
package session

import (
	"sync"
	"time"

	"github.com/glowpath/glowpath/internal/protocol"
)

// Session is the server-owned record for one client connection. All methods
// are safe for concurrent use; the relay's inbound handler and upstream
// event loop both touch it.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.Mutex
	lastFrame   []byte
	scroll      *protocol.Scroll
	micAudio    bool
	screenShare bool
	onboarded   bool
	registry    []protocol.SelectorEntry
}

func New(id string) *Session {
	return &Session{ID: id, CreatedAt: time.Now()}
}

// StoreFrame records the latest screen frame and marks screen share active.
// A nil scroll keeps the previous offset.
func (s *Session) StoreFrame(frame []byte, scroll *protocol.Scroll) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFrame = frame
	s.screenShare = true
	if scroll != nil {
		sc := *scroll
		s.scroll = &sc
	}
}

// LastFrame returns the most recent frame, or nil if none was ever stored.
func (s *Session) LastFrame() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFrame
}

// Scroll returns a copy of the last known scroll offset, or nil.
func (s *Session) Scroll() *protocol.Scroll {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scroll == nil {
		return nil
	}
	sc := *s.scroll
	return &sc
}

// MarkMicAudio records that real microphone audio has been seen. It returns
// true only on the first call, so callers can run first-audio actions once.
func (s *Session) MarkMicAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.micAudio {
		return false
	}
	s.micAudio = true
	return true
}

func (s *Session) HasMicAudio() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micAudio
}

func (s *Session) HasScreenShare() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.screenShare
}

// MarkOnboarded returns true only on the transition, guarding the one-shot
// onboarding instruction.
func (s *Session) MarkOnboarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onboarded {
		return false
	}
	s.onboarded = true
	return true
}

func (s *Session) HasOnboarded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.onboarded
}

// SetRegistry replaces the selector registry wholesale. There is no
// incremental diff; stale selectors are the renderer's problem to fail
// soft on.
func (s *Session) SetRegistry(entries []protocol.SelectorEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registry = make([]protocol.SelectorEntry, len(entries))
	copy(s.registry, entries)
}

// Registry returns a copy of the current selector registry.
func (s *Session) Registry() []protocol.SelectorEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.SelectorEntry, len(s.registry))
	copy(out, s.registry)
	return out
}

// Summary is the redacted view served by the sessions API endpoint.
type Summary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"createdAt"`
	HasMicAudio    bool      `json:"hasMicAudio"`
	HasScreenShare bool      `json:"hasScreenShare"`
	HasOnboarded   bool      `json:"hasOnboarded"`
	RegistrySize   int       `json:"registrySize"`
}

func (s *Session) Summarize() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Summary{
		ID:             s.ID,
		CreatedAt:      s.CreatedAt,
		HasMicAudio:    s.micAudio,
		HasScreenShare: s.screenShare,
		HasOnboarded:   s.onboarded,
		RegistrySize:   len(s.registry),
	}
}
