package p2p

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"sync"

	"github.com/stationbridge/bridge/bridgeerr"
	"github.com/stationbridge/bridge/metrics"
)

// lengthPrefixSize is the width of the big-endian frame-length prefix that
// precedes every JSON envelope written to a TCP socket.
const lengthPrefixSize = 4

// tcpWire frames an arbitrary net.Conn with a 4-byte length prefix, tolerant
// of partial reads (spec.md §4.D "Frame parsing is tolerant of partial
// reads").
type tcpWire struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
}

func newTCPWire(conn net.Conn) *tcpWire {
	return &tcpWire{conn: conn, r: bufio.NewReader(conn)}
}

func (w *tcpWire) ReadFrame(maxFrameBytes int) ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(w.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if maxFrameBytes > 0 && int(n) > maxFrameBytes {
		metrics.ReceiveErrors.Inc(1)
		return nil, bridgeerr.Protocol(bridgeerr.ReasonFrameTooLarge, "frame exceeds configured maximum", nil)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(w.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (w *tcpWire) WriteFrame(raw []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	if _, err := w.conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.conn.Write(raw)
	return err
}

func (w *tcpWire) Close() error {
	return w.conn.Close()
}

func (w *tcpWire) RemoteAddr() string {
	return w.conn.RemoteAddr().String()
}
