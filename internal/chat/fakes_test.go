package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []Frame
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 32), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case b := <-c.in:
		return b, nil
	case <-c.closed:
		return nil, errors.New("use of closed network connection")
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	c.mu.Lock()
	c.written = append(c.written, f)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push delivers a server event to the client.
func (c *fakeConn) push(t *testing.T, event string, data any) {
	t.Helper()
	b, err := EncodeFrame(event, data)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	c.in <- b
}

func (c *fakeConn) frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Frame, len(c.written))
	copy(out, c.written)
	return out
}

func (c *fakeConn) sawEvent(event, room string) bool {
	for _, f := range c.frames() {
		if f.Event != event {
			continue
		}
		var p RoomPayload
		if err := json.Unmarshal(f.Data, &p); err == nil && p.Room == room {
			return true
		}
	}
	return false
}

type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	headers []http.Header
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers = append(d.headers, header.Clone())
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.headers)
}

type staticTokens string

func (s staticTokens) Token(context.Context) (string, error) { return string(s), nil }

func waitFor(t *testing.T, what string, cond func() bool) {
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
