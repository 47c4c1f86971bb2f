package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/open-teleop/rover/pkg/camera"
	"github.com/open-teleop/rover/pkg/log"
)

type counterSensor struct{ n int }

func (s *counterSensor) ReadFrame() ([]byte, error) {
	s.n++
	return []byte(fmt.Sprintf("JPEG-%03d", s.n)), nil
}

func (s *counterSensor) Close() error { return nil }

func startServer(t *testing.T, max int) (*Server, context.CancelFunc, chan error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	src := camera.NewSource(&counterSensor{}, 2, log.NewNopLogger())
	srv := NewServer(ln, src, ServerOptions{
		Options:        Options{MaxClients: max, Boundary: "TESTB", WriteTimeout: time.Second},
		FrameInterval:  2 * time.Millisecond,
		IdleInterval:   2 * time.Millisecond,
		RequestTimeout: 200 * time.Millisecond,
	}, log.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})
	return srv, cancel, errCh
}

func dialViewer(t *testing.T, addr net.Addr) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := io.WriteString(conn, "GET /stream HTTP/1.1\r\nHost: rover\r\n\r\n"); err != nil {
		t.Fatalf("write request: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	return conn, bufio.NewReader(conn)
}

func readPart(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()
	tp := textproto.NewReader(r)
	// blank line then boundary
	if line, err := tp.ReadLine(); err != nil || line != "" {
		t.Fatalf("expected CRLF before boundary, got %q (%v)", line, err)
	}
	if line, err := tp.ReadLine(); err != nil || line != "--TESTB" {
		t.Fatalf("expected boundary, got %q (%v)", line, err)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("read part header: %v", err)
	}
	if hdr.Get("Content-Type") != "image/jpeg" {
		t.Errorf("unexpected part content type %q", hdr.Get("Content-Type"))
	}
	n, err := strconv.Atoi(hdr.Get("Content-Length"))
	if err != nil {
		t.Fatalf("bad content length: %v", err)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	return body
}

func readPreamble(t *testing.T, r *bufio.Reader) {
	t.Helper()
	tp := textproto.NewReader(r)
	status, err := tp.ReadLine()
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status != "HTTP/1.1 200 OK" {
		t.Fatalf("unexpected status %q", status)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("read headers: %v", err)
	}
	if ct := hdr.Get("Content-Type"); ct != "multipart/x-mixed-replace;boundary=TESTB" {
		t.Errorf("unexpected content type %q", ct)
	}
}

func TestServerStreamsFrames(t *testing.T) {
	srv, _, _ := startServer(t, 4)
	_, r := dialViewer(t, srv.Addr())

	readPreamble(t, r)
	first := readPart(t, r)
	second := readPart(t, r)
	if !strings.HasPrefix(string(first), "JPEG-") || string(first) == string(second) {
		t.Errorf("Unexpected frames %q, %q", first, second)
	}
}

func TestServerSharesFramesAcrossViewers(t *testing.T) {
	srv, _, _ := startServer(t, 4)
	_, r1 := dialViewer(t, srv.Addr())
	readPreamble(t, r1)
	_, r2 := dialViewer(t, srv.Addr())
	readPreamble(t, r2)

	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		for _, r := range []*bufio.Reader{r1, r2} {
			f := string(readPart(t, r))
			if seen[f] {
				t.Fatalf("Frame %s delivered twice", f)
			}
			seen[f] = true
		}
	}
}

func TestServerRejectsOverCapacity(t *testing.T) {
	srv, _, _ := startServer(t, 1)
	_, r1 := dialViewer(t, srv.Addr())
	readPreamble(t, r1)

	_, r2 := dialViewer(t, srv.Addr())
	resp, err := io.ReadAll(r2)
	if err != nil {
		t.Fatalf("read busy response: %v", err)
	}
	if string(resp) != BusyResponse {
		t.Errorf("Expected busy response, got %q", resp)
	}

	readPart(t, r1)
	if st := srv.Broadcaster().Stats(); st.Rejections != 1 || len(st.Clients) != 1 {
		t.Errorf("Unexpected stats: %+v", st)
	}
}

func TestServerEvictsDisconnectedViewer(t *testing.T) {
	srv, _, _ := startServer(t, 4)
	c1, r1 := dialViewer(t, srv.Addr())
	readPreamble(t, r1)
	readPart(t, r1)
	c1.Close()

	deadline := time.Now().Add(3 * time.Second)
	for srv.Broadcaster().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("Closed viewer was never evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerRunStopsOnCancel(t *testing.T) {
	srv, cancel, errCh := startServer(t, 4)
	_ = srv
	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
		errCh <- err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
