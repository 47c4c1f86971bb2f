package zeromq

import (
	"fmt"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/open-teleop/rover/pkg/log"
)

const pollInterval = 200 * time.Millisecond

// Handler receives one published message
type Handler func(topic string, payload []byte)

// Listener subscribes to a rover publisher and hands every message to a
// Handler. The socket is owned by the receive goroutine.
type Listener struct {
	socket  *zmq.Socket
	handler Handler
	logger  log.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

// NewListener creates a SUB socket subscribed to topic prefix ("" for all)
func NewListener(prefix string, handler Handler, logger log.Logger) (*Listener, error) {
	socket, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetSubscribe(prefix); err != nil {
		socket.Close()
		return nil, err
	}
	if err := socket.SetLinger(0); err != nil {
		socket.Close()
		return nil, err
	}
	return &Listener{
		socket:  socket,
		handler: handler,
		logger:  logger,
		stop:    make(chan struct{}),
	}, nil
}

// Start connects to address and begins receiving
func (l *Listener) Start(address string) error {
	if err := l.socket.Connect(address); err != nil {
		l.socket.Close()
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	l.wg.Add(1)
	go l.receiveLoop()

	l.logger.Infof("Listener connected to %s", address)
	return nil
}

// Stop ends the receive loop and closes the socket
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.stop)
	})
	l.wg.Wait()
}

func (l *Listener) receiveLoop() {
	defer l.wg.Done()
	defer l.socket.Close()

	poller := zmq.NewPoller()
	poller.Add(l.socket, zmq.POLLIN)

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		sockets, err := poller.Poll(pollInterval)
		if err != nil {
			l.logger.Warnf("Error polling socket: %v", err)
			time.Sleep(100 * time.Millisecond)
			continue
		}
		if len(sockets) == 0 {
			continue
		}

		parts, err := l.socket.RecvMessageBytes(0)
		if err != nil {
			l.logger.Warnf("Error receiving message: %v", err)
			continue
		}
		if len(parts) != 2 {
			l.logger.Warnf("Dropping message with %d frames", len(parts))
			continue
		}
		l.handler(string(parts[0]), parts[1])
	}
}
