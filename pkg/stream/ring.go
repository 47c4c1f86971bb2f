package stream

import (
	"net"
	"time"
)

// client is one live MJPEG viewer
type client struct {
	id          string
	conn        net.Conn
	remote      string
	connectedAt time.Time
	framesSent  uint64
}

// ring is the ordered viewer set plus the round-robin cursor. Insertion
// order is rotation order. cursor is always a valid index, or 0 when empty.
type ring struct {
	clients []*client
	cursor  int
}

func (r *ring) len() int { return len(r.clients) }

func (r *ring) add(c *client) {
	r.clients = append(r.clients, c)
}

// current returns the client under the cursor, or nil when empty
func (r *ring) current() *client {
	if len(r.clients) == 0 {
		return nil
	}
	return r.clients[r.cursor]
}

// advance moves the cursor to the next client
func (r *ring) advance() {
	if len(r.clients) == 0 {
		r.cursor = 0
		return
	}
	r.cursor = (r.cursor + 1) % len(r.clients)
}

// evictCurrent removes the client under the cursor, keeping the order of
// the others. The cursor stays on the same index, which now holds the
// following client, wrapping to 0 past the end.
func (r *ring) evictCurrent() *client {
	if len(r.clients) == 0 {
		return nil
	}
	c := r.clients[r.cursor]
	copy(r.clients[r.cursor:], r.clients[r.cursor+1:])
	r.clients[len(r.clients)-1] = nil
	r.clients = r.clients[:len(r.clients)-1]
	if len(r.clients) == 0 {
		r.cursor = 0
	} else {
		r.cursor %= len(r.clients)
	}
	return c
}

// drain removes and returns every client
func (r *ring) drain() []*client {
	out := r.clients
	r.clients = nil
	r.cursor = 0
	return out
}
