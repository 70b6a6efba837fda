// Package protocol defines the JSON wire protocol spoken between the
// browser client and the relay, and the visual command vocabulary the
// relay translates model tool calls into.
package protocol

type MessageType string

// Client → server message types.
const (
	MsgFrame       MessageType = "frame"
	MsgAudio       MessageType = "audio"
	MsgText        MessageType = "text"
	MsgUserQuery   MessageType = "user_query"
	MsgSelectorMap MessageType = "selector_map"
	MsgPing        MessageType = "ping"
)

// Server → client message types. MsgAudio is used in both directions.
const (
	MsgConnected         MessageType = "connected"
	MsgPong              MessageType = "pong"
	MsgAssistantResponse MessageType = "assistant_response"
	MsgDraw              MessageType = "draw"
	MsgClear             MessageType = "clear"
	MsgHighlightSequence MessageType = "highlight_sequence"
	MsgError             MessageType = "error"
)

// Draw actions.
const (
	ActionApply = "apply"
	ActionClear = "clear"
)

// SelectorEntry is one addressable page element in the client-supplied
// selector registry. Entries are replaced wholesale on every update.
type SelectorEntry struct {
	Selector string `json:"selector"`
	Label    string `json:"label"`
	Category string `json:"category"`
}

// SequenceStep is one step of a multi-element highlight tour.
type SequenceStep struct {
	Selector string `json:"selector"`
	Label    string `json:"label,omitempty"`
	DelayMS  int    `json:"delay_ms,omitempty"`
}

// Scroll is the page scroll offset captured when the triggering frame was
// taken. Receivers use it to judge whether the page has scrolled since.
type Scroll struct {
	X int `json:"scrollX"`
	Y int `json:"scrollY"`
}

// Message is the flat wire message. Type discriminates; all other fields
// are optional and populated per type.
type Message struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"sessionId,omitempty"`

	// Base64 payload for frame and audio messages.
	Data string `json:"data,omitempty"`

	// Conversational text (text, user_query, assistant_response, error detail).
	Text string `json:"text,omitempty"`

	// Optional base64 frame attached to a user_query.
	Frame string `json:"frame,omitempty"`

	// Selector registry replacement (selector_map).
	Selectors []SelectorEntry `json:"selectors,omitempty"`

	// Highlight fields (draw, highlight_sequence).
	Action   string         `json:"action,omitempty"`
	Selector string         `json:"selector,omitempty"`
	Label    string         `json:"label,omitempty"`
	Steps    []SequenceStep `json:"steps,omitempty"`

	// Structured visual commands attached to an assistant_response.
	VisualCommands []VisualCommand `json:"visualCommands,omitempty"`

	// Scroll context (frame inbound; draw/clear/assistant_response outbound).
	ScrollX *int `json:"scrollX,omitempty"`
	ScrollY *int `json:"scrollY,omitempty"`

	// Error detail for MsgError.
	Error string `json:"error,omitempty"`
}

// SetScroll attaches a scroll context to the message.
func (m *Message) SetScroll(s *Scroll) {
	if s == nil {
		return
	}
	x, y := s.X, s.Y
	m.ScrollX = &x
	m.ScrollY = &y
}

// ScrollContext returns the scroll context carried by the message, or nil.
func (m *Message) ScrollContext() *Scroll {
	if m.ScrollX == nil || m.ScrollY == nil {
		return nil
	}
	return &Scroll{X: *m.ScrollX, Y: *m.ScrollY}
}

// CommandKind discriminates VisualCommand variants. It is a closed set:
// the relay maps model tool names onto it and rejects anything else.
type CommandKind string

const (
	CommandClear     CommandKind = "clear"
	CommandHighlight CommandKind = "highlight_element"
	CommandSequence  CommandKind = "highlight_sequence"
)

// VisualCommand is the relay's abstraction for "what to draw", independent
// of how the model requested it.
type VisualCommand struct {
	Kind     CommandKind    `json:"kind"`
	Selector string         `json:"selector,omitempty"`
	Label    string         `json:"label,omitempty"`
	Action   string         `json:"action,omitempty"`
	Steps    []SequenceStep `json:"steps,omitempty"`
	Scroll   *Scroll        `json:"scroll,omitempty"`
}

// CommandMessage converts a visual command into its wire message.
func CommandMessage(cmd VisualCommand) Message {
	var m Message
	switch cmd.Kind {
	case CommandClear:
		m = Message{Type: MsgClear}
	case CommandHighlight:
		action := cmd.Action
		if action == "" {
			action = ActionApply
		}
		m = Message{Type: MsgDraw, Action: action, Selector: cmd.Selector, Label: cmd.Label}
	case CommandSequence:
		m = Message{Type: MsgHighlightSequence, Steps: cmd.Steps}
	default:
		m = Message{Type: MsgError, Error: "unknown visual command: " + string(cmd.Kind)}
	}
	m.SetScroll(cmd.Scroll)
	return m
}
