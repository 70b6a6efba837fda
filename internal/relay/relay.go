// Package relay implements the server-side session relay: it owns one
// upstream model session per client connection and mediates all traffic
// between the browser, the streaming model and the one-shot agent.
package relay

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/glowpath/glowpath/internal/config"
	"github.com/glowpath/glowpath/internal/knowledge"
	"github.com/glowpath/glowpath/internal/model"
	"github.com/glowpath/glowpath/internal/protocol"
	"github.com/glowpath/glowpath/internal/session"
)

// Relay mediates between client sockets and the model service. One Relay
// serves all connections; per-connection state lives in conn.
type Relay struct {
	cfg    *config.Config
	log    *zap.Logger
	dialer model.Dialer
	agent  model.Agent
	kb     knowledge.Searcher
	store  *session.Store
	filter *TextFilter
}

func New(cfg *config.Config, log *zap.Logger, dialer model.Dialer, agent model.Agent, kb knowledge.Searcher, store *session.Store) *Relay {
	return &Relay{
		cfg:    cfg,
		log:    log,
		dialer: dialer,
		agent:  agent,
		kb:     kb,
		store:  store,
		filter: NewTextFilter(),
	}
}

// Store exposes the session registry for the API endpoints.
func (r *Relay) Store() *session.Store {
	return r.store
}

// HandleConn serves one upgraded client socket until it closes. It blocks;
// the HTTP layer calls it from the handler goroutine.
func (r *Relay) HandleConn(sock *websocket.Conn) {
	c := r.newConn(uuid.NewString())
	r.store.Add(c.sess)
	c.log.Info("client connected")

	go writePump(sock, c)

	c.send(protocol.Message{Type: protocol.MsgConnected, SessionID: c.sess.ID})
	go c.establishUpstream()

	for {
		_, data, err := sock.ReadMessage()
		if err != nil {
			break
		}
		var msg protocol.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("malformed message", zap.Error(err))
			c.send(protocol.Message{Type: protocol.MsgError, Error: "malformed message"})
			continue
		}
		c.handleMessage(msg)
	}

	c.shutdown()
	r.store.Remove(c.sess.ID)
	c.log.Info("client disconnected")
}

// writePump drains the connection's outbound queue onto the socket. It
// exits when the connection shuts down or a write fails; a failed write
// closes the socket so the read loop unblocks.
func writePump(sock *websocket.Conn, c *conn) {
	defer sock.Close()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("marshal outbound", zap.Error(err))
				continue
			}
			if err := sock.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
