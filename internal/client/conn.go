// Package client wraps the relay websocket for agent-side consumers: the
// overlay agent and the console. It reconnects on drops with a fixed
// interval and a bounded attempt count.
package client

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Handlers are per-message-type callbacks. Nil entries are skipped. All
// callbacks fire from the connection's read goroutine.
type Handlers struct {
	OnConnected         func(sessionID string)
	OnPong              func()
	OnAudio             func(pcm []byte)
	OnAssistantResponse func(msg protocol.Message)
	OnDraw              func(msg protocol.Message)
	OnClear             func(msg protocol.Message)
	OnSequence          func(msg protocol.Message)
	OnError             func(detail string)
	OnDisconnect        func(err error)
}

// Connection is a client-side relay connection. Zero value is not usable;
// construct with New and call Connect.
type Connection struct {
	url      string
	log      *zap.Logger
	handlers Handlers

	reconnectInterval time.Duration
	maxAttempts       int

	mu        sync.Mutex
	writeMu   sync.Mutex
	sock      *websocket.Conn
	sessionID string
	attempts  int
	closed    bool
}

func New(url string, reconnectInterval time.Duration, maxAttempts int, handlers Handlers, log *zap.Logger) *Connection {
	if reconnectInterval <= 0 {
		reconnectInterval = 3 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	return &Connection{
		url:               url,
		log:               log,
		handlers:          handlers,
		reconnectInterval: reconnectInterval,
		maxAttempts:       maxAttempts,
	}
}

// Connect dials the relay and returns once the socket is open. The read
// loop and automatic reconnection start in the background.
func (c *Connection) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("connection closed")
	}
	c.mu.Unlock()

	sock, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.sock = sock
	c.attempts = 0
	c.mu.Unlock()

	go c.readLoop(sock)
	return nil
}

// Close tears the connection down and disables reconnection.
func (c *Connection) Close() {
	c.mu.Lock()
	c.closed = true
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock != nil {
		sock.Close()
	}
}

// SessionID returns the id assigned by the relay, or "" before the first
// connected message arrives.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Send stamps the session id onto the message and writes it. Sending on a
// dropped connection is a warn-level no-op; the message is not queued.
func (c *Connection) Send(msg protocol.Message) {
	c.mu.Lock()
	sock := c.sock
	msg.SessionID = c.sessionID
	c.mu.Unlock()

	if sock == nil {
		c.log.Warn("send while disconnected, dropping", zap.String("type", string(msg.Type)))
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Error("marshal outbound", zap.Error(err))
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	sock.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
		c.log.Warn("write failed", zap.Error(err))
	}
}

func (c *Connection) SendFrame(jpeg []byte, scroll *protocol.Scroll) {
	msg := protocol.Message{Type: protocol.MsgFrame, Data: base64.StdEncoding.EncodeToString(jpeg)}
	msg.SetScroll(scroll)
	c.Send(msg)
}

func (c *Connection) SendAudio(pcm []byte) {
	c.Send(protocol.Message{Type: protocol.MsgAudio, Data: base64.StdEncoding.EncodeToString(pcm)})
}

func (c *Connection) SendText(text string) {
	c.Send(protocol.Message{Type: protocol.MsgText, Text: text})
}

func (c *Connection) SendQuery(text string, frame []byte) {
	msg := protocol.Message{Type: protocol.MsgUserQuery, Text: text}
	if len(frame) > 0 {
		msg.Frame = base64.StdEncoding.EncodeToString(frame)
	}
	c.Send(msg)
}

func (c *Connection) SendSelectorMap(entries []protocol.SelectorEntry) {
	c.Send(protocol.Message{Type: protocol.MsgSelectorMap, Selectors: entries})
}

func (c *Connection) Ping() {
	c.Send(protocol.Message{Type: protocol.MsgPing})
}

// readLoop consumes the socket until it fails, then hands off to the
// reconnect schedule.
func (c *Connection) readLoop(sock *websocket.Conn) {
	var readErr error
	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			readErr = err
			break
		}

		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("malformed server message", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}

	sock.Close()

	c.mu.Lock()
	if c.sock == sock {
		c.sock = nil
	}
	closed := c.closed
	c.mu.Unlock()

	if c.handlers.OnDisconnect != nil {
		c.handlers.OnDisconnect(readErr)
	}
	if !closed {
		c.scheduleReconnect()
	}
}

// scheduleReconnect arms one fixed-delay redial. After maxAttempts
// consecutive failures the connection gives up without surfacing an error;
// OnDisconnect has already fired for the drop itself.
func (c *Connection) scheduleReconnect() {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	if attempts > c.maxAttempts {
		c.log.Warn("reconnect attempts exhausted, giving up", zap.Int("attempts", attempts-1))
		return
	}

	c.log.Info("reconnecting", zap.Int("attempt", attempts), zap.Duration("delay", c.reconnectInterval))
	time.AfterFunc(c.reconnectInterval, func() {
		c.mu.Lock()
		if c.closed || c.sock != nil {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		sock, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			c.log.Warn("reconnect dial failed", zap.Error(err))
			c.scheduleReconnect()
			return
		}

		c.mu.Lock()
		c.sock = sock
		c.attempts = 0
		c.mu.Unlock()

		go c.readLoop(sock)
	})
}

func (c *Connection) dispatch(msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgConnected:
		c.mu.Lock()
		c.sessionID = msg.SessionID
		c.mu.Unlock()
		if c.handlers.OnConnected != nil {
			c.handlers.OnConnected(msg.SessionID)
		}
	case protocol.MsgPong:
		if c.handlers.OnPong != nil {
			c.handlers.OnPong()
		}
	case protocol.MsgAudio:
		if c.handlers.OnAudio != nil {
			pcm, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				c.log.Warn("bad audio payload", zap.Error(err))
				return
			}
			c.handlers.OnAudio(pcm)
		}
	case protocol.MsgAssistantResponse:
		if c.handlers.OnAssistantResponse != nil {
			c.handlers.OnAssistantResponse(msg)
		}
	case protocol.MsgDraw:
		if c.handlers.OnDraw != nil {
			c.handlers.OnDraw(msg)
		}
	case protocol.MsgClear:
		if c.handlers.OnClear != nil {
			c.handlers.OnClear(msg)
		}
	case protocol.MsgHighlightSequence:
		if c.handlers.OnSequence != nil {
			c.handlers.OnSequence(msg)
		}
	case protocol.MsgError:
		if c.handlers.OnError != nil {
			c.handlers.OnError(msg.Error)
		}
	default:
		c.log.Debug("unhandled message type", zap.String("type", string(msg.Type)))
	}
}
