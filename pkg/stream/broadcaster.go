// Package stream fans camera frames out to MJPEG viewers, one viewer per
// frame in round-robin order.
package stream

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/open-teleop/rover/pkg/log"
)

// Defaults for Options
const (
	DefaultMaxClients   = 4
	DefaultBoundary     = "----ROVERCAM"
	DefaultWriteTimeout = 2 * time.Second
)

// BusyResponse is sent to a viewer that connects while the ring is full
const BusyResponse = "HTTP/1.1 503 Service Unavailable\r\n\r\nMax stream clients reached\n"

// Options configure a Broadcaster
type Options struct {
	MaxClients   int
	Boundary     string
	WriteTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxClients <= 0 {
		o.MaxClients = DefaultMaxClients
	}
	if o.Boundary == "" {
		o.Boundary = DefaultBoundary
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
}

// Preamble returns the HTTP response head that opens a multipart stream
func Preamble(boundary string) string {
	return "HTTP/1.1 200 OK\r\n" +
		"Content-Type: multipart/x-mixed-replace;boundary=" + boundary + "\r\n" +
		"Access-Control-Allow-Origin: *\r\n" +
		"Cache-Control: no-cache, no-store, must-revalidate\r\n" +
		"Connection: keep-alive\r\n" +
		"\r\n"
}

// PartHeader returns the delimiter and headers preceding a frame of n bytes
func PartHeader(boundary string, n int) string {
	return "\r\n--" + boundary + "\r\n" +
		"Content-Type: image/jpeg\r\n" +
		"Content-Length: " + strconv.Itoa(n) + "\r\n\r\n"
}

// ClientInfo describes a connected viewer
type ClientInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	ConnectedAt time.Time `json:"connected_at"`
	FramesSent  uint64    `json:"frames_sent"`
}

// Stats are the broadcaster counters
type Stats struct {
	Clients    []ClientInfo `json:"clients"`
	MaxClients int          `json:"max_clients"`
	FramesSent uint64       `json:"frames_sent"`
	Accepted   uint64       `json:"accepted"`
	Evictions  uint64       `json:"evictions"`
	Rejections uint64       `json:"rejections"`
}

// Broadcaster owns the viewer ring. AcceptPending and Dispatch must be
// called from a single goroutine; Stats may be called from anywhere.
type Broadcaster struct {
	opts    Options
	pending <-chan net.Conn
	logger  log.Logger

	mu   sync.Mutex
	ring ring

	framesSent atomic.Uint64
	accepted   atomic.Uint64
	evictions  atomic.Uint64
	rejections atomic.Uint64
}

// NewBroadcaster creates a broadcaster admitting connections from pending
func NewBroadcaster(pending <-chan net.Conn, opts Options, logger log.Logger) *Broadcaster {
	opts.setDefaults()
	return &Broadcaster{opts: opts, pending: pending, logger: logger}
}

// AcceptPending admits every waiting connection without blocking. Over
// capacity the connection gets BusyResponse and is closed. It returns the
// number of viewers admitted.
func (b *Broadcaster) AcceptPending() int {
	admitted := 0
	for {
		select {
		case conn := <-b.pending:
			if b.admit(conn) {
				admitted++
			}
		default:
			return admitted
		}
	}
}

func (b *Broadcaster) admit(conn net.Conn) bool {
	remote := conn.RemoteAddr().String()

	b.mu.Lock()
	full := b.ring.len() >= b.opts.MaxClients
	b.mu.Unlock()

	if full {
		b.rejections.Add(1)
		conn.SetWriteDeadline(time.Now().Add(b.opts.WriteTimeout))
		conn.Write([]byte(BusyResponse))
		conn.Close()
		b.logger.Warnf("Stream: max clients (%d) reached, rejected %s", b.opts.MaxClients, remote)
		return false
	}

	if err := b.writeAll(conn, []byte(Preamble(b.opts.Boundary))); err != nil {
		conn.Close()
		b.logger.Debugf("Stream: preamble to %s failed: %v", remote, err)
		return false
	}

	c := &client{
		id:          uuid.NewString(),
		conn:        conn,
		remote:      remote,
		connectedAt: time.Now(),
	}
	b.mu.Lock()
	b.ring.add(c)
	n := b.ring.len()
	b.mu.Unlock()

	b.accepted.Add(1)
	b.logger.WithField("client", c.id).Infof("Stream: new viewer %s, total %d", remote, n)
	return true
}

func (b *Broadcaster) writeAll(conn net.Conn, p []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(b.opts.WriteTimeout)); err != nil {
		return err
	}
	n, err := conn.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("short write %d/%d", n, len(p))
	}
	return nil
}

// Dispatch sends payload to the viewer under the cursor. On success the
// cursor advances; on failure that viewer is evicted and the cursor stays
// put. It reports whether the frame was delivered. An empty ring is a no-op.
func (b *Broadcaster) Dispatch(payload []byte) bool {
	b.mu.Lock()
	c := b.ring.current()
	b.mu.Unlock()
	if c == nil {
		return false
	}

	err := b.writeAll(c.conn, []byte(PartHeader(b.opts.Boundary, len(payload))))
	if err == nil {
		err = b.writeAll(c.conn, payload)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.ring.evictCurrent()
		c.conn.Close()
		b.evictions.Add(1)
		b.logger.WithField("client", c.id).Infof("Stream: viewer %s dropped (%v), %d left", c.remote, err, b.ring.len())
		return false
	}
	c.framesSent++
	b.framesSent.Add(1)
	b.ring.advance()
	return true
}

// Len returns the number of connected viewers
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.len()
}

// Stats returns a snapshot of viewers and counters
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	clients := make([]ClientInfo, 0, b.ring.len())
	for _, c := range b.ring.clients {
		clients = append(clients, ClientInfo{
			ID:          c.id,
			Remote:      c.remote,
			ConnectedAt: c.connectedAt,
			FramesSent:  c.framesSent,
		})
	}
	b.mu.Unlock()

	return Stats{
		Clients:    clients,
		MaxClients: b.opts.MaxClients,
		FramesSent: b.framesSent.Load(),
		Accepted:   b.accepted.Load(),
		Evictions:  b.evictions.Load(),
		Rejections: b.rejections.Load(),
	}
}

// CloseAll disconnects every viewer
func (b *Broadcaster) CloseAll() {
	b.mu.Lock()
	clients := b.ring.drain()
	b.mu.Unlock()
	for _, c := range clients {
		c.conn.Close()
	}
}
