package relay

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/model"
	"github.com/glowpath/glowpath/internal/protocol"
	"github.com/glowpath/glowpath/internal/session"
)

// conn is the per-client-connection state: the session record, the outbound
// queue and the upstream model session binding. At most one upstream session
// is bound at a time; a reconnect only starts after the previous handle has
// been nulled out.
type conn struct {
	r    *Relay
	sess *session.Session
	log  *zap.Logger

	out  chan protocol.Message
	done chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	ka *keepalive

	mu             sync.Mutex
	upstream       model.Session
	dialing        bool
	failures       int
	reconnectTimer *time.Timer

	closeOnce sync.Once
}

func (r *Relay) newConn(id string) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		r:      r,
		sess:   session.New(id),
		log:    r.log.With(zap.String("session", id)),
		out:    make(chan protocol.Message, 256),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	c.ka = newKeepalive(r.cfg.Relay.KeepaliveInterval, c.sendSilence, c.log)
	return c
}

// send enqueues an outbound message. It never blocks past connection
// shutdown and never panics on a closed connection.
func (c *conn) send(msg protocol.Message) {
	select {
	case c.out <- msg:
	case <-c.done:
	}
}

func (c *conn) sendError(detail string) {
	c.send(protocol.Message{Type: protocol.MsgError, Error: detail})
}

func (c *conn) clientClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// shutdown tears the connection down exactly once: cancels the keepalive,
// stops any pending reconnect, and closes the bound upstream session.
func (c *conn) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.ka.stop(true)

		c.mu.Lock()
		if c.reconnectTimer != nil {
			c.reconnectTimer.Stop()
			c.reconnectTimer = nil
		}
		up := c.upstream
		c.upstream = nil
		c.mu.Unlock()

		if up != nil {
			if err := up.Close(); err != nil {
				c.log.Warn("close upstream", zap.Error(err))
			}
		}
	})
}

func (c *conn) upstreamSession() model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.upstream
}

// handleMessage dispatches one inbound client message. Mutation of the
// session is serialized per connection by the read loop.
func (c *conn) handleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgFrame:
		c.handleFrame(msg)
	case protocol.MsgAudio:
		c.handleAudio(msg)
	case protocol.MsgText:
		if up := c.upstreamSession(); up != nil {
			if err := up.SendText(c.ctx, msg.Text); err != nil {
				c.log.Warn("forward text", zap.Error(err))
			}
		}
	case protocol.MsgUserQuery:
		go c.handleUserQuery(msg)
	case protocol.MsgSelectorMap:
		c.handleSelectorMap(msg)
	case protocol.MsgPing:
		c.send(protocol.Message{Type: protocol.MsgPong})
	default:
		c.sendError("unknown message type: " + string(msg.Type))
	}
}

func (c *conn) handleFrame(msg protocol.Message) {
	frame, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.log.Warn("bad frame payload", zap.Error(err))
		c.sendError("bad frame payload")
		return
	}

	c.sess.StoreFrame(frame, msg.ScrollContext())

	up := c.upstreamSession()
	if up != nil {
		if err := up.SendFrame(c.ctx, frame, "image/jpeg"); err != nil {
			c.log.Warn("forward frame", zap.Error(err))
		}
		// First frame of the session: ask the model to give a short
		// proactive tour of the page.
		if c.sess.MarkOnboarded() {
			if err := up.SendSystemText(c.ctx, OnboardingInstruction(c.sess.Registry())); err != nil {
				c.log.Warn("send onboarding instruction", zap.Error(err))
			}
		}
	}

	// Some streaming backends only process vision input while an audio
	// channel is open. Until real microphone audio shows up, feed them
	// silence.
	if !c.sess.HasMicAudio() {
		c.ka.ensure()
	}
}

func (c *conn) handleAudio(msg protocol.Message) {
	audio, err := base64.StdEncoding.DecodeString(msg.Data)
	if err != nil {
		c.log.Warn("bad audio payload", zap.Error(err))
		c.sendError("bad audio payload")
		return
	}

	if c.sess.MarkMicAudio() {
		// Real audio supersedes synthetic, permanently.
		c.ka.stop(true)
	}

	if up := c.upstreamSession(); up != nil {
		if err := up.SendAudio(c.ctx, audio); err != nil {
			c.log.Warn("forward audio", zap.Error(err))
		}
	}
}

func (c *conn) handleUserQuery(msg protocol.Message) {
	frame := c.sess.LastFrame()
	if msg.Frame != "" {
		if decoded, err := base64.StdEncoding.DecodeString(msg.Frame); err == nil {
			frame = decoded
		} else {
			c.log.Warn("bad query frame, using last stored frame", zap.Error(err))
		}
	}

	result, err := c.r.agent.Run(c.ctx, c.sess.ID, msg.Text, frame)
	if err != nil {
		c.log.Error("agent call failed", zap.Error(err))
		c.sendError("assistant is unavailable right now")
		return
	}

	resp := protocol.Message{
		Type:           protocol.MsgAssistantResponse,
		Text:           result.Response,
		VisualCommands: result.Commands,
	}
	resp.SetScroll(c.sess.Scroll())
	c.send(resp)
}

func (c *conn) handleSelectorMap(msg protocol.Message) {
	c.sess.SetRegistry(msg.Selectors)
	c.log.Debug("selector registry replaced", zap.Int("entries", len(msg.Selectors)))

	// A live upstream session learns about the new registry immediately so
	// future highlight calls target valid elements. During a reconnect the
	// prompt rebuild picks it up instead.
	if up := c.upstreamSession(); up != nil {
		if err := up.SendSystemText(c.ctx, RegistryContext(msg.Selectors)); err != nil {
			c.log.Warn("push registry context", zap.Error(err))
		}
	}
}

// establishUpstream dials the model service with a system prompt built from
// the current registry and binds the resulting session. Safe to call from
// multiple paths; only one dial is ever in flight.
func (c *conn) establishUpstream() {
	if c.clientClosed() {
		return
	}

	c.mu.Lock()
	if c.upstream != nil || c.dialing {
		c.mu.Unlock()
		return
	}
	c.dialing = true
	c.reconnectTimer = nil
	c.mu.Unlock()

	prompt := BuildSystemPrompt(c.sess.Registry())
	ctx, cancel := context.WithTimeout(c.ctx, c.r.cfg.Relay.UpstreamDialTimeout)
	defer cancel()

	up, err := c.r.dialer.Dial(ctx, model.SessionConfig{SystemPrompt: prompt})

	c.mu.Lock()
	c.dialing = false
	if err != nil {
		c.failures++
		failures := c.failures
		c.mu.Unlock()
		c.log.Error("upstream dial failed", zap.Error(err), zap.Int("failures", failures))
		c.scheduleReconnect(failures)
		return
	}
	if c.clientClosed() {
		c.mu.Unlock()
		up.Close()
		return
	}
	c.upstream = up
	c.failures = 0
	c.mu.Unlock()

	c.log.Info("upstream session established")
	go c.pumpUpstream(up)
}

// pumpUpstream consumes the upstream event channel until it closes, then
// unbinds the handle and schedules the single reconnect attempt.
func (c *conn) pumpUpstream(up model.Session) {
	for ev := range up.Events() {
		switch ev.Kind {
		case model.EventAudio:
			c.send(protocol.Message{
				Type: protocol.MsgAudio,
				Data: base64.StdEncoding.EncodeToString(ev.Audio),
			})
		case model.EventText:
			c.handleTranscript(ev.Text)
		case model.EventToolCall:
			c.handleToolCall(up, ev.Call)
		case model.EventClosed:
			c.log.Info("upstream session closed")
		case model.EventError:
			c.log.Warn("upstream session error", zap.Error(ev.Err))
		}
	}

	c.mu.Lock()
	if c.upstream != up {
		// A stale pump racing teardown; nothing to do.
		c.mu.Unlock()
		return
	}
	c.upstream = nil
	c.failures++
	failures := c.failures
	c.mu.Unlock()

	c.scheduleReconnect(failures)
}

// scheduleReconnect arms one reconnect attempt after a fixed delay, only
// while the client socket is still open and the failure cap is not hit.
// Liveness is rechecked when the timer fires.
func (c *conn) scheduleReconnect(failures int) {
	if c.clientClosed() {
		return
	}
	if failures >= c.r.cfg.Relay.UpstreamMaxFailures {
		c.log.Error("upstream failure cap reached, staying detached", zap.Int("failures", failures))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reconnectTimer != nil {
		return
	}
	c.reconnectTimer = time.AfterFunc(c.r.cfg.Relay.UpstreamReconnectDelay, func() {
		if c.clientClosed() {
			return
		}
		c.establishUpstream()
	})
}

// handleTranscript runs model speech transcripts through the safety filter
// before forwarding. Fully filtered text is suppressed outright.
func (c *conn) handleTranscript(text string) {
	filtered := c.r.filter.Apply(text)
	if filtered == "" {
		return
	}
	c.send(protocol.Message{Type: protocol.MsgAssistantResponse, Text: filtered})
}

func (c *conn) sendSilence(ctx context.Context) error {
	up := c.upstreamSession()
	if up == nil {
		return nil
	}
	return up.SendAudio(ctx, silentChunk)
}

// silentChunk is 100ms of 16kHz 16-bit mono PCM silence.
var silentChunk = make([]byte, 3200)
