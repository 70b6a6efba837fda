// Package model defines the seam between the relay and the streaming model
// service. The callback-style API of the underlying SDK is re-expressed as
// a channel of tagged events so the relay's loop can select on it
// deterministically, and so tests can substitute a scripted session.
package model

import (
	"context"

	"github.com/glowpath/glowpath/internal/protocol"
)

type EventKind int

const (
	// EventAudio carries an already-encoded audio chunk from the model.
	EventAudio EventKind = iota
	// EventText carries a transcript fragment of the model's speech.
	EventText
	// EventToolCall carries a structured function call the relay must
	// execute and answer.
	EventToolCall
	// EventClosed signals that the upstream session ended cleanly.
	EventClosed
	// EventError signals that the upstream session ended with an error.
	EventError
)

// Event is one upstream occurrence. Exactly one payload field is set,
// according to Kind.
type Event struct {
	Kind  EventKind
	Audio []byte
	Text  string
	Call  ToolCall
	Err   error
}

// ToolCall is a model-issued request for the relay to perform a named
// action and report a result.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Session is one bidirectional streaming connection to the model service.
//
// Implementations must close the channel returned by Events after emitting
// a final EventClosed or EventError; the relay treats channel closure as
// the end of the session's life.
type Session interface {
	SendFrame(ctx context.Context, data []byte, mimeType string) error
	SendAudio(ctx context.Context, data []byte) error
	SendText(ctx context.Context, text string) error
	// SendSystemText pushes out-of-band context (registry updates, the
	// onboarding instruction) without counting as a user turn.
	SendSystemText(ctx context.Context, text string) error
	SendToolResult(ctx context.Context, id, name string, result map[string]any) error
	Events() <-chan Event
	Close() error
}

// SessionConfig carries everything a dialer needs to establish a session.
type SessionConfig struct {
	SystemPrompt string
}

// Dialer establishes upstream sessions. Injected into the relay so tests
// and mock mode can supply doubles.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig) (Session, error)
}

// AgentResult is the outcome of a one-shot agent call: response text plus
// the visual commands the agent decided on, in order.
type AgentResult struct {
	Response string
	Commands []protocol.VisualCommand
}

// Agent is the one-shot turn-based collaborator used for typed queries.
type Agent interface {
	Run(ctx context.Context, sessionID, text string, frame []byte) (AgentResult, error)
}
