package stream

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/open-teleop/rover/pkg/camera"
	"github.com/open-teleop/rover/pkg/log"
)

// ErrServerClosed is returned by Run after Close
var ErrServerClosed = errors.New("stream: server closed")

// FrameSource is the camera as seen by the broadcast loop
type FrameSource interface {
	Capture(timeout time.Duration) (*camera.Frame, error)
}

// ServerOptions configure the broadcast loop
type ServerOptions struct {
	Options
	FrameInterval  time.Duration
	IdleInterval   time.Duration
	RetryInterval  time.Duration
	CaptureTimeout time.Duration
	// RequestTimeout bounds how long a new connection may take to send its
	// request head before it is queued anyway
	RequestTimeout time.Duration
}

func (o *ServerOptions) setDefaults() {
	o.Options.setDefaults()
	if o.FrameInterval <= 0 {
		o.FrameInterval = 50 * time.Millisecond
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = 100 * time.Millisecond
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 10 * time.Millisecond
	}
	if o.CaptureTimeout <= 0 {
		o.CaptureTimeout = 200 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = time.Second
	}
}

// Server accepts MJPEG viewers on a listener and runs the broadcast loop
type Server struct {
	listener    net.Listener
	source      FrameSource
	opts        ServerOptions
	logger      log.Logger
	pending     chan net.Conn
	broadcaster *Broadcaster

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewServer creates a server on an already bound listener
func NewServer(listener net.Listener, source FrameSource, opts ServerOptions, logger log.Logger) *Server {
	opts.setDefaults()
	pending := make(chan net.Conn, opts.MaxClients*2)
	return &Server{
		listener:    listener,
		source:      source,
		opts:        opts,
		logger:      logger,
		pending:     pending,
		broadcaster: NewBroadcaster(pending, opts.Options, logger),
		done:        make(chan struct{}),
	}
}

// Broadcaster exposes the viewer ring for stats
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Addr returns the listening address
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run accepts viewers and dispatches frames until ctx is cancelled or Close
// is called. Capture contention is routine and only delays the loop.
func (s *Server) Run(ctx context.Context) error {
	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Infof("Stream: listening on %s (max %d clients, round-robin)", s.listener.Addr(), s.opts.MaxClients)

	defer func() {
		s.Close()
		s.wg.Wait()
		s.broadcaster.CloseAll()
		for {
			select {
			case conn := <-s.pending:
				conn.Close()
			default:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.done:
			return ErrServerClosed
		default:
		}

		s.broadcaster.AcceptPending()
		if s.broadcaster.Len() == 0 {
			s.sleep(ctx, s.opts.IdleInterval)
			continue
		}

		frame, err := s.source.Capture(s.opts.CaptureTimeout)
		if err != nil {
			if errors.Is(err, camera.ErrClosed) {
				return err
			}
			if !errors.Is(err, camera.ErrUnavailable) {
				s.logger.Warnf("Stream: capture failed: %v", err)
			}
			s.sleep(ctx, s.opts.RetryInterval)
			continue
		}

		s.broadcaster.Dispatch(frame.Bytes())
		frame.Release()

		s.sleep(ctx, s.opts.FrameInterval)
	}
}

func (s *Server) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-s.done:
	case <-t.C:
	}
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Errorf("Stream: accept failed: %v", err)
			return
		}
		s.wg.Add(1)
		go s.queue(conn)
	}
}

// queue consumes the viewer's request head and hands the connection to the
// broadcast loop.
func (s *Server) queue(conn net.Conn) {
	defer s.wg.Done()

	conn.SetReadDeadline(time.Now().Add(s.opts.RequestTimeout))
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil || line == "\r\n" || line == "\n" {
			break
		}
	}
	conn.SetReadDeadline(time.Time{})

	select {
	case s.pending <- conn:
	case <-s.done:
		conn.Close()
	}
}

// Close stops accepting viewers and ends Run
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.listener.Close()
	})
	return err
}
