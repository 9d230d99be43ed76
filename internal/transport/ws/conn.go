package ws

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Conn adapts a server-accepted gobwas connection to feed.Conn.
type Conn struct {
	conn       net.Conn
	remoteAddr string
	rw         io.ReadWriter
	writeMu    sync.Mutex
	closeOnce  sync.Once
}

// lockedWriter serializes control-frame replies with regular writes.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// Upgrade performs the websocket handshake on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	conn, brw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}
	var src io.Reader = conn
	if brw != nil && brw.Reader.Buffered() > 0 {
		src = brw.Reader
	}
	return newConn(conn, src, r.RemoteAddr), nil
}

// NewConn wraps conn with empty remote address.
func NewConn(conn net.Conn) *Conn {
	return NewConnWithAddr(conn, "")
}

// NewConnWithAddr wraps conn with the specified remote address.
func NewConnWithAddr(conn net.Conn, addr string) *Conn {
	return newConn(conn, conn, addr)
}

func newConn(conn net.Conn, src io.Reader, addr string) *Conn {
	c := &Conn{conn: conn, remoteAddr: addr}
	c.rw = struct {
		io.Reader
		io.Writer
	}{src, lockedWriter{mu: &c.writeMu, w: conn}}
	return c
}

// Read implements feed.Conn.
// Reads one data message; control frames are answered while reading.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	data, _, err := wsutil.ReadClientData(c.rw)
	return data, err
}

// Write implements feed.Conn.
// Writes data as a single text frame.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	frame, err := ws.CompileFrame(ws.NewTextFrame(data))
	if err != nil {
		return fmt.Errorf("failed to compile frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.conn.SetWriteDeadline(deadline)
		defer c.conn.SetWriteDeadline(time.Time{})
	}
	_, err = c.conn.Write(frame)
	return err
}

// Close implements feed.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		frame, cerr := ws.CompileFrame(ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
		if cerr == nil {
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_, _ = c.conn.Write(frame)
			c.writeMu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr implements feed.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
