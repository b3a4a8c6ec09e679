package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Mobile clients connect from app webviews and native code with no
	// meaningful Origin header.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla websocket connection to the session engine's
// transport interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v interface{}) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) CloseWithCode(code int, reason string) error {
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		return err
	}
	return c.conn.Close()
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// handleWebsocket upgrades the request and hands the connection to the
// session engine, which drives the full lifecycle. Authentication happens
// in-protocol, not at upgrade time.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", "remote_addr", r.RemoteAddr, "error", err.Error())
		return
	}

	// The request context dies with this handler, but the connection
	// outlives the upgrade; session operations run off the background
	// context and the connection itself is the cancellation mechanism.
	s.engine.HandleConnection(context.Background(), &wsConn{conn: conn})
}
