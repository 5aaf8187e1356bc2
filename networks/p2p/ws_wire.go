package p2p

import (
	"sync"

	"github.com/clevergo/websocket"

	"github.com/stationbridge/bridge/bridgeerr"
)

// wsWire adapts a clevergo/websocket connection to wireConn. WebSocket
// framing is already message-delimited by the protocol itself, so no extra
// length prefix is applied on top.
type wsWire struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSWire(conn *websocket.Conn) *wsWire {
	return &wsWire{conn: conn}
}

func (w *wsWire) ReadFrame(maxFrameBytes int) ([]byte, error) {
	if maxFrameBytes > 0 {
		w.conn.SetReadLimit(int64(maxFrameBytes))
	}
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if maxFrameBytes > 0 && len(data) > maxFrameBytes {
		return nil, bridgeerr.Protocol(bridgeerr.ReasonFrameTooLarge, "frame exceeds configured maximum", nil)
	}
	return data, nil
}

func (w *wsWire) WriteFrame(raw []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, raw)
}

func (w *wsWire) Close() error {
	return w.conn.Close()
}

func (w *wsWire) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
