// Package mock provides a scripted model backend for development without
// API credentials. The session walks a fixed scene list; the agent answers
// from a small canned table.
package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/model"
	"github.com/glowpath/glowpath/internal/protocol"
)

// scene is one scripted reaction: after delay, emit the transcript and
// optionally a tool call.
type scene struct {
	delay time.Duration
	text  string
	call  *model.ToolCall
}

var defaultScenes = []scene{
	{delay: 800 * time.Millisecond, text: "Hi! I can see your screen now. Let me show you around."},
	{delay: 1500 * time.Millisecond, call: &model.ToolCall{
		ID: "mock-1", Name: "highlight_sequence",
		Args: map[string]any{"steps": []any{
			map[string]any{"selector": "nav", "label": "Navigation"},
			map[string]any{"selector": "main", "label": "Main content"},
		}},
	}},
	{delay: 4 * time.Second, text: "That is the layout. Ask me anything about this page."},
	{delay: 8 * time.Second, call: &model.ToolCall{
		ID: "mock-2", Name: "clear_overlays", Args: map[string]any{},
	}},
}

// Dialer hands out scripted sessions.
type Dialer struct {
	log *zap.Logger
}

func NewDialer(log *zap.Logger) *Dialer {
	return &Dialer{log: log}
}

func (d *Dialer) Dial(ctx context.Context, cfg model.SessionConfig) (model.Session, error) {
	s := &mockSession{
		log:    d.log,
		events: make(chan model.Event, 32),
		done:   make(chan struct{}),
	}
	go s.run(defaultScenes)
	d.log.Info("mock model session started")
	return s, nil
}

type mockSession struct {
	log    *zap.Logger
	events chan model.Event

	closeOnce sync.Once
	done      chan struct{}
}

func (s *mockSession) run(scenes []scene) {
	defer close(s.events)

	start := time.Now()
	for _, sc := range scenes {
		wait := sc.delay - time.Since(start)
		if wait > 0 {
			select {
			case <-s.done:
				return
			case <-time.After(wait):
			}
		}

		if sc.text != "" {
			s.emit(model.Event{Kind: model.EventText, Text: sc.text})
		}
		if sc.call != nil {
			s.emit(model.Event{Kind: model.EventToolCall, Call: *sc.call})
		}
	}

	<-s.done
	// Best effort; the consumer may already be gone.
	select {
	case s.events <- model.Event{Kind: model.EventClosed}:
	default:
	}
}

func (s *mockSession) emit(ev model.Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

func (s *mockSession) SendFrame(ctx context.Context, data []byte, mimeType string) error {
	return nil
}

func (s *mockSession) SendAudio(ctx context.Context, data []byte) error { return nil }

func (s *mockSession) SendText(ctx context.Context, text string) error {
	s.emit(model.Event{Kind: model.EventText, Text: "You said: " + text})
	return nil
}

func (s *mockSession) SendSystemText(ctx context.Context, text string) error { return nil }

func (s *mockSession) SendToolResult(ctx context.Context, id, name string, result map[string]any) error {
	s.log.Debug("mock tool result", zap.String("tool", name), zap.Any("result", result))
	return nil
}

func (s *mockSession) Events() <-chan model.Event { return s.events }

func (s *mockSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Agent is a canned one-shot assistant. Queries mentioning known page
// regions get a highlight command attached.
type Agent struct{}

func NewAgent() *Agent { return &Agent{} }

var agentAnswers = []struct {
	keyword  string
	response string
	command  *protocol.VisualCommand
}{
	{
		keyword:  "search",
		response: "The search box is highlighted for you.",
		command:  &protocol.VisualCommand{Kind: protocol.CommandHighlight, Selector: "input[type=search]", Label: "Search"},
	},
	{
		keyword:  "menu",
		response: "This is the navigation menu.",
		command:  &protocol.VisualCommand{Kind: protocol.CommandHighlight, Selector: "nav", Label: "Menu"},
	},
}

func (a *Agent) Run(ctx context.Context, sessionID, text string, frame []byte) (model.AgentResult, error) {
	lower := strings.ToLower(text)
	for _, answer := range agentAnswers {
		if strings.Contains(lower, answer.keyword) {
			result := model.AgentResult{Response: answer.response}
			if answer.command != nil {
				result.Commands = []protocol.VisualCommand{*answer.command}
			}
			return result, nil
		}
	}
	return model.AgentResult{
		Response: fmt.Sprintf("I heard %q, but I am running in mock mode and can only talk about the search box and the menu.", text),
	}, nil
}
