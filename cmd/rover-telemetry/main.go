// rover-telemetry prints rover telemetry, either live from the ZeroMQ
// publisher or from a recording.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	customlog "github.com/open-teleop/rover/pkg/log"
	"github.com/open-teleop/rover/pkg/processing"
	"github.com/open-teleop/rover/pkg/telemetry"
	"github.com/open-teleop/rover/pkg/zeromq"
)

func main() {
	var (
		address  = flag.String("address", "tcp://127.0.0.1:5556", "ZeroMQ publisher to subscribe to")
		replay   = flag.String("replay", "", "Print a telemetry recording instead of subscribing")
		limit    = flag.Int("limit", 0, "Number of records to print from a recording (0 for all)")
		control  = flag.Bool("control", false, "Also print control state after each queued command")
		logLevel = flag.String("log-level", "info", "Log level")
	)
	flag.Parse()

	if *replay != "" {
		if err := printRecording(*replay, *limit); err != nil {
			log.Fatalf("replay: %v", err)
		}
		return
	}

	logger := customlog.NewWriterLogger(os.Stderr, *logLevel)

	prefix := telemetry.Topic
	if *control {
		prefix = "rover."
	}
	listener, err := zeromq.NewListener(prefix, func(topic string, payload []byte) {
		printMessage(logger, topic, payload)
	}, logger)
	if err != nil {
		log.Fatalf("create listener: %v", err)
	}
	if err := listener.Start(*address); err != nil {
		log.Fatalf("start listener: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	listener.Stop()
}

func printMessage(logger customlog.Logger, topic string, payload []byte) {
	switch topic {
	case telemetry.Topic:
		snap, err := telemetry.DecodeSnapshot(payload)
		if err != nil {
			logger.Warnf("Bad snapshot: %v", err)
			return
		}
		printSnapshot(snap)
	case processing.TopicControlState:
		fmt.Printf("%s %s\n", topic, payload)
	default:
		logger.Debugf("Ignoring topic %s (%d bytes)", topic, len(payload))
	}
}

func printSnapshot(s telemetry.Snapshot) {
	fmt.Printf("%s mode=%-7s dir=%-12s speed=%3d motors=[%3d %3d %3d %3d] clients=%d frames=%d evicted=%d rejected=%d captures=%d busy=%d timeouts=%d\n",
		s.Time().Format("15:04:05.000"), s.Mode, s.Direction, s.Speed,
		s.Motors.FL, s.Motors.FR, s.Motors.RL, s.Motors.RR,
		s.StreamClients, s.FramesSent, s.Evictions, s.Rejections,
		s.Captures, s.Unavailable, s.WatchdogTimeouts)
}

func printRecording(path string, limit int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	snaps, err := telemetry.ReadRecording(f)
	if err != nil {
		return err
	}
	for i, s := range snaps {
		if limit > 0 && i >= limit {
			break
		}
		pretty, err := json.MarshalIndent(s, "", "  ")
		if err != nil {
			return err
		}
		fmt.Printf("record %d @ %s\n%s\n", i, s.Time().Format("2006-01-02T15:04:05.000Z07:00"), pretty)
	}
	return nil
}
