// Package dashboard implements the supervisor-to-GUI push transport:
// a websocket carries a yamux multiplexed session, and each logical
// subscriber gets its own yamux stream of newline-delimited JSON
// events (TickResult / profile snapshot updates). Adapted from the
// teacher's internal/bridge websocket+yamux transport, with the
// gRPC/protobuf service layer replaced by a flat JSON event envelope —
// SPEC_FULL.md drops the generated protobuf service because its
// .proto source is not available and a hand-written stand-in for the
// generated code is not allowed.
package dashboard

import (
	"github.com/gorilla/websocket"
)

// wsConn adapts a *websocket.Conn to io.ReadWriteCloser so yamux can
// multiplex streams over it, grounded on the teacher's
// internal/bridge.NewWebSocketRWC helper (whose body wasn't present in
// the retrieved pack, so the shape below is reconstructed from its one
// remaining call site: wrap Conn, stream binary messages both ways).
type wsConn struct {
	conn *websocket.Conn
	buf  []byte
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Read(p []byte) (int, error) {
	for len(w.buf) == 0 {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		w.buf = data
	}
	n := copy(p, w.buf)
	w.buf = w.buf[n:]
	return n, nil
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
