package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/knowledge"
	"github.com/glowpath/glowpath/internal/model"
	"github.com/glowpath/glowpath/internal/protocol"
	"github.com/glowpath/glowpath/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeUpstream struct {
	mu      sync.Mutex
	frames  [][]byte
	audio   [][]byte
	texts   []string
	system  []string
	results []map[string]any

	events    chan model.Event
	closeOnce sync.Once
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{events: make(chan model.Event, 32)}
}

func (f *fakeUpstream) SendFrame(_ context.Context, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeUpstream) SendAudio(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, data)
	return nil
}

func (f *fakeUpstream) SendText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeUpstream) SendSystemText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, text)
	return nil
}

func (f *fakeUpstream) SendToolResult(_ context.Context, _, _ string, result map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
	return nil
}

func (f *fakeUpstream) Events() <-chan model.Event { return f.events }

// Close doubles as the upstream-drop simulation: the event channel closes
// and the relay's pump sees end of stream.
func (f *fakeUpstream) Close() error {
	f.closeOnce.Do(func() { close(f.events) })
	return nil
}

func (f *fakeUpstream) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeUpstream) audioCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeUpstream) systemTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.system))
	copy(out, f.system)
	return out
}

func (f *fakeUpstream) lastResult() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) == 0 {
		return nil
	}
	return f.results[len(f.results)-1]
}

type fakeDialer struct {
	mu       sync.Mutex
	fail     bool
	dials    int
	prompts  []string
	sessions []*fakeUpstream
}

func (d *fakeDialer) Dial(_ context.Context, cfg model.SessionConfig) (model.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.prompts = append(d.prompts, cfg.SystemPrompt)
	if d.fail {
		return nil, errors.New("dial refused")
	}
	up := newFakeUpstream()
	d.sessions = append(d.sessions, up)
	return up, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) session(i int) *fakeUpstream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

type fakeAgent struct {
	fn func(sessionID, text string, frame []byte) (model.AgentResult, error)
}

func (a *fakeAgent) Run(_ context.Context, sessionID, text string, frame []byte) (model.AgentResult, error) {
	if a.fn == nil {
		return model.AgentResult{Response: "ok"}, nil
	}
	return a.fn(sessionID, text, frame)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Relay.UpstreamReconnectDelay = 10 * time.Millisecond
	cfg.Relay.UpstreamDialTimeout = time.Second
	cfg.Relay.UpstreamMaxFailures = 3
	cfg.Relay.KeepaliveInterval = 10 * time.Millisecond
	return cfg
}

func newTestConn(t *testing.T, cfg *config.Config, d model.Dialer, a model.Agent) *conn {
	t.Helper()
	kb := knowledge.NewStatic([]knowledge.Doc{
		{Title: "Billing", Body: "Invoices are issued monthly from the billing page."},
	})
	r := New(cfg, zap.NewNop(), d, a, kb, session.NewStore())
	c := r.newConn("test-session")
	t.Cleanup(c.shutdown)
	return c
}

func frameMsg(payload []byte, scroll *protocol.Scroll) protocol.Message {
	msg := protocol.Message{Type: protocol.MsgFrame, Data: base64.StdEncoding.EncodeToString(payload)}
	msg.SetScroll(scroll)
	return msg
}

func audioMsg(payload []byte) protocol.Message {
	return protocol.Message{Type: protocol.MsgAudio, Data: base64.StdEncoding.EncodeToString(payload)}
}

func readOut(t *testing.T, c *conn) protocol.Message {
	t.Helper()
	select {
	case msg := <-c.out:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out reading outbound message")
		return protocol.Message{}
	}
}

func noOut(t *testing.T, c *conn) {
	t.Helper()
	select {
	case msg := <-c.out:
		t.Fatalf("unexpected outbound message: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func waitUntil(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestOnboardingInstructionSentOnce(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})

	c.establishUpstream()
	up := d.session(0)
	if up == nil {
		t.Fatal("upstream never dialed")
	}

	c.handleMessage(frameMsg([]byte("jpeg-1"), &protocol.Scroll{X: 0, Y: 120}))
	c.handleMessage(frameMsg([]byte("jpeg-2"), nil))

	if got := up.frameCount(); got != 2 {
		t.Errorf("forwarded frames = %d, want 2", got)
	}

	var onboarding int
	for _, text := range up.systemTexts() {
		if strings.Contains(text, "started sharing their screen") {
			onboarding++
		}
	}
	if onboarding != 1 {
		t.Errorf("onboarding instructions = %d, want exactly 1", onboarding)
	}
}

func TestOnboardingWaitsForUpstream(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})

	// Frame before any upstream exists: must not burn the onboarding shot.
	c.handleMessage(frameMsg([]byte("early"), nil))
	if c.sess.HasOnboarded() {
		t.Fatal("onboarded flag set with no upstream bound")
	}

	c.establishUpstream()
	c.handleMessage(frameMsg([]byte("late"), nil))

	up := d.session(0)
	waitUntil(t, func() bool { return len(up.systemTexts()) > 0 }, "onboarding instruction")
}

func TestKeepaliveRunsUntilRealAudio(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleMessage(frameMsg([]byte("jpeg"), nil))
	if !c.ka.running() {
		t.Fatal("keepalive not running after first frame")
	}

	// Synthetic silence should reach the upstream.
	waitUntil(t, func() bool { return up.audioCount() > 0 }, "silent keepalive audio")

	c.handleMessage(audioMsg([]byte{1, 2, 3}))
	if c.ka.running() {
		t.Error("keepalive still running after real audio")
	}

	// Later frames must not revive it.
	c.handleMessage(frameMsg([]byte("jpeg-2"), nil))
	if c.ka.running() {
		t.Error("keepalive restarted after real audio")
	}
}

func TestSilentChunkIsSilence(t *testing.T) {
	for i, b := range silentChunk {
		if b != 0 {
			t.Fatalf("silentChunk[%d] = %d, want 0", i, b)
		}
	}
	if len(silentChunk) != 3200 {
		t.Errorf("silentChunk length = %d, want 3200", len(silentChunk))
	}
}

func TestHighlightElementClearsBeforeDrawing(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleMessage(frameMsg([]byte("jpeg"), &protocol.Scroll{X: 5, Y: 300}))

	c.handleToolCall(up, model.ToolCall{
		ID:   "call-1",
		Name: toolHighlightElement,
		Args: map[string]any{"selector": "#buy", "label": "Buy now"},
	})

	first := readOut(t, c)
	if first.Type != protocol.MsgClear {
		t.Fatalf("first message type = %q, want clear", first.Type)
	}
	second := readOut(t, c)
	if second.Type != protocol.MsgDraw {
		t.Fatalf("second message type = %q, want draw", second.Type)
	}
	if second.Selector != "#buy" || second.Label != "Buy now" || second.Action != protocol.ActionApply {
		t.Errorf("draw = %+v, want #buy/Buy now/apply", second)
	}
	if second.ScrollY == nil || *second.ScrollY != 300 {
		t.Error("draw message missing the session's scroll context")
	}

	result := up.lastResult()
	if result == nil || result["success"] != true {
		t.Errorf("tool result = %v, want success", result)
	}
}

func TestHighlightElementRequiresSelector(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleToolCall(up, model.ToolCall{ID: "call-1", Name: toolHighlightElement, Args: map[string]any{}})

	noOut(t, c)
	result := up.lastResult()
	if result == nil || result["success"] != false {
		t.Errorf("tool result = %v, want failure", result)
	}
}

func TestHighlightSequenceRejectsEmptySteps(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleToolCall(up, model.ToolCall{
		ID:   "call-1",
		Name: toolHighlightSequence,
		Args: map[string]any{"steps": []any{map[string]any{"selector": ""}}},
	})

	noOut(t, c)
	if result := up.lastResult(); result == nil || result["success"] != false {
		t.Errorf("tool result = %v, want failure", result)
	}
}

func TestHighlightSequenceEmitsClearThenSteps(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleToolCall(up, model.ToolCall{
		ID:   "call-1",
		Name: toolHighlightSequence,
		Args: map[string]any{"steps": []any{
			map[string]any{"selector": "#a", "label": "A"},
			map[string]any{"selector": "#b", "label": "B", "delay_ms": 1200},
		}},
	})

	if msg := readOut(t, c); msg.Type != protocol.MsgClear {
		t.Fatalf("first message = %q, want clear", msg.Type)
	}
	seq := readOut(t, c)
	if seq.Type != protocol.MsgHighlightSequence {
		t.Fatalf("second message = %q, want highlight_sequence", seq.Type)
	}
	if len(seq.Steps) != 2 || seq.Steps[1].DelayMS != 1200 {
		t.Errorf("steps = %+v, want 2 steps with delay on second", seq.Steps)
	}

	result := up.lastResult()
	if result["success"] != true {
		t.Errorf("tool result = %v, want success", result)
	}
}

func TestUnknownToolReportsFailure(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleToolCall(up, model.ToolCall{ID: "call-1", Name: "launch_rocket", Args: nil})

	noOut(t, c)
	result := up.lastResult()
	if result == nil || result["success"] != false {
		t.Fatalf("tool result = %v, want failure", result)
	}
	if detail, _ := result["error"].(string); !strings.Contains(detail, "launch_rocket") {
		t.Errorf("failure detail = %q, want the tool name", detail)
	}
}

func TestSearchKnowledgePrependsNonAttribution(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleToolCall(up, model.ToolCall{
		ID:   "call-1",
		Name: toolSearchKnowledge,
		Args: map[string]any{"query": "billing invoices"},
	})

	noOut(t, c)
	result := up.lastResult()
	if result["success"] != true {
		t.Fatalf("tool result = %v, want success", result)
	}
	text, _ := result["text"].(string)
	if !strings.HasPrefix(text, nonAttribution) {
		t.Error("knowledge result missing the non-attribution preamble")
	}
	if !strings.Contains(text, "billing page") {
		t.Errorf("knowledge result %q missing the matched snippet", text)
	}
}

func TestTranscriptFiltering(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})

	c.handleTranscript("I am highlighting the search box now. You can type your query there.")
	msg := readOut(t, c)
	if msg.Type != protocol.MsgAssistantResponse {
		t.Fatalf("message type = %q, want assistant_response", msg.Type)
	}
	if strings.Contains(strings.ToLower(msg.Text), "highlighting") {
		t.Errorf("filtered text still narrates highlighting: %q", msg.Text)
	}
	if !strings.Contains(msg.Text, "type your query") {
		t.Errorf("filtered text lost real content: %q", msg.Text)
	}

	// Pure meta-commentary is suppressed entirely.
	c.handleTranscript("Let me highlight that for you.")
	noOut(t, c)
}

func TestUpstreamDropReconnectsOnce(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})

	c.establishUpstream()
	if d.dialCount() != 1 {
		t.Fatalf("dials = %d, want 1", d.dialCount())
	}

	d.session(0).Close()
	waitUntil(t, func() bool { return d.dialCount() == 2 }, "reconnect dial")

	// The replacement must be bound, not just dialed.
	waitUntil(t, func() bool { return c.upstreamSession() != nil }, "rebinding")
}

func TestNoReconnectAfterClientClose(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})

	c.establishUpstream()
	c.shutdown()

	// shutdown closed the upstream; the pump must not redial for a drop
	// caused by teardown.
	time.Sleep(50 * time.Millisecond)
	if got := d.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestDialFailureStopsAtCap(t *testing.T) {
	d := &fakeDialer{fail: true}
	cfg := testConfig()
	cfg.Relay.UpstreamMaxFailures = 2
	c := newTestConn(t, cfg, d, &fakeAgent{})

	c.establishUpstream()
	waitUntil(t, func() bool { return d.dialCount() == 2 }, "retry dial")

	time.Sleep(100 * time.Millisecond)
	if got := d.dialCount(); got != 2 {
		t.Errorf("dials = %d, want cap at 2", got)
	}
}

func TestDialPromptCarriesRegistry(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})

	c.handleMessage(protocol.Message{
		Type:      protocol.MsgSelectorMap,
		Selectors: []protocol.SelectorEntry{{Selector: "#cart", Label: "Cart", Category: "action"}},
	})
	c.establishUpstream()

	d.mu.Lock()
	prompt := d.prompts[0]
	d.mu.Unlock()
	if !strings.Contains(prompt, "#cart") {
		t.Errorf("system prompt missing registry entry:\n%s", prompt)
	}
}

func TestSelectorMapPushedToLiveUpstream(t *testing.T) {
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, &fakeAgent{})
	c.establishUpstream()
	up := d.session(0)

	c.handleMessage(protocol.Message{
		Type:      protocol.MsgSelectorMap,
		Selectors: []protocol.SelectorEntry{{Selector: "#cart", Label: "Cart", Category: "action"}},
	})

	waitUntil(t, func() bool {
		for _, text := range up.systemTexts() {
			if strings.Contains(text, "#cart") {
				return true
			}
		}
		return false
	}, "registry context push")
}

func TestUserQueryFallsBackToStoredFrame(t *testing.T) {
	var gotFrame []byte
	agent := &fakeAgent{fn: func(_, text string, frame []byte) (model.AgentResult, error) {
		gotFrame = frame
		return model.AgentResult{
			Response: "That is the cart.",
			Commands: []protocol.VisualCommand{{Kind: protocol.CommandHighlight, Selector: "#cart"}},
		}, nil
	}}
	d := &fakeDialer{}
	c := newTestConn(t, testConfig(), d, agent)

	c.handleMessage(frameMsg([]byte("stored-jpeg"), &protocol.Scroll{X: 0, Y: 42}))
	c.handleUserQuery(protocol.Message{Type: protocol.MsgUserQuery, Text: "what is this?"})

	msg := readOut(t, c)
	if msg.Type != protocol.MsgAssistantResponse {
		t.Fatalf("message type = %q, want assistant_response", msg.Type)
	}
	if msg.Text != "That is the cart." {
		t.Errorf("text = %q", msg.Text)
	}
	if len(msg.VisualCommands) != 1 || msg.VisualCommands[0].Selector != "#cart" {
		t.Errorf("visual commands = %+v", msg.VisualCommands)
	}
	if msg.ScrollY == nil || *msg.ScrollY != 42 {
		t.Error("response missing scroll context")
	}
	if string(gotFrame) != "stored-jpeg" {
		t.Errorf("agent frame = %q, want the stored frame", gotFrame)
	}
}

func TestUserQueryAgentFailure(t *testing.T) {
	agent := &fakeAgent{fn: func(_, _ string, _ []byte) (model.AgentResult, error) {
		return model.AgentResult{}, errors.New("quota exceeded")
	}}
	c := newTestConn(t, testConfig(), &fakeDialer{}, agent)

	c.handleUserQuery(protocol.Message{Type: protocol.MsgUserQuery, Text: "help"})

	msg := readOut(t, c)
	if msg.Type != protocol.MsgError {
		t.Fatalf("message type = %q, want error", msg.Type)
	}
	if strings.Contains(msg.Error, "quota") {
		t.Error("internal error detail leaked to the client")
	}
}

func TestUnknownMessageTypeAnswersError(t *testing.T) {
	c := newTestConn(t, testConfig(), &fakeDialer{}, &fakeAgent{})

	c.handleMessage(protocol.Message{Type: "teleport"})
	msg := readOut(t, c)
	if msg.Type != protocol.MsgError {
		t.Fatalf("message type = %q, want error", msg.Type)
	}
}

func TestPingPong(t *testing.T) {
	c := newTestConn(t, testConfig(), &fakeDialer{}, &fakeAgent{})

	c.handleMessage(protocol.Message{Type: protocol.MsgPing})
	if msg := readOut(t, c); msg.Type != protocol.MsgPong {
		t.Fatalf("message type = %q, want pong", msg.Type)
	}
}

func TestBadFramePayload(t *testing.T) {
	c := newTestConn(t, testConfig(), &fakeDialer{}, &fakeAgent{})

	c.handleMessage(protocol.Message{Type: protocol.MsgFrame, Data: "%%%not-base64%%%"})
	if msg := readOut(t, c); msg.Type != protocol.MsgError {
		t.Fatalf("message type = %q, want error", msg.Type)
	}
	if c.sess.HasScreenShare() {
		t.Error("bad frame marked screen share active")
	}
}
