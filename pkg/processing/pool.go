package processing

import (
	"sync"
	"time"

	customlog "github.com/open-teleop/rover/pkg/log"
)

// Command is one queued control message
type Command struct {
	Source     string
	Payload    []byte
	ReceivedAt time.Time
	// Reply, when set, receives the result. It should be buffered; a full
	// channel drops the reply.
	Reply chan<- *ProcessResult
}

// ProcessResult is the result of processing a command
type ProcessResult struct {
	Source    string
	Data      interface{}
	Timestamp int64
	Error     error
}

// ResultHandler is a function that handles processed results
type ResultHandler func(result *ProcessResult)

// CommandProcessor processes commands in a worker
type CommandProcessor func(cmd *Command) (interface{}, error)

// ProcessingPool is a bounded queue drained by a fixed set of workers
type ProcessingPool struct {
	name          string
	workerCount   int
	logger        customlog.Logger
	commandQueue  chan *Command
	running       bool
	wg            sync.WaitGroup
	mu            sync.Mutex
	processor     CommandProcessor
	resultHandler ResultHandler
	queueSize     int
	metricsMu     sync.Mutex
	metrics       PoolMetrics
}

// PoolMetrics tracks metrics for a processing pool
type PoolMetrics struct {
	ProcessedCount    int64 `json:"processed"`
	ErrorCount        int64 `json:"errors"`
	QueuedCount       int64 `json:"queued"`
	DroppedCount      int64 `json:"dropped"`
	LastProcessedTime int64 `json:"last_processed_ns"`
	ProcessingTimeAvg int64 `json:"avg_us"` // in microseconds
	ProcessingTimeMax int64 `json:"max_us"` // in microseconds
}

// NewProcessingPool creates a new processing pool
func NewProcessingPool(
	name string,
	workerCount int,
	queueSize int,
	logger customlog.Logger,
) *ProcessingPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &ProcessingPool{
		name:         name,
		workerCount:  workerCount,
		queueSize:    queueSize,
		logger:       logger,
		commandQueue: make(chan *Command, queueSize),
	}
}

// SetProcessor sets the command processor function
func (p *ProcessingPool) SetProcessor(processor CommandProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.processor = processor
}

// SetResultHandler sets the result handler function
func (p *ProcessingPool) SetResultHandler(handler ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resultHandler = handler
}

// Submit adds a command to the queue. It never blocks: a full queue or a
// stopped pool drops the command and returns false.
func (p *ProcessingPool) Submit(cmd *Command) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		p.logger.Warnf("%s pool not running, discarding command", p.name)
		p.countDropped()
		return false
	}

	select {
	case p.commandQueue <- cmd:
		p.metricsMu.Lock()
		p.metrics.QueuedCount++
		p.metricsMu.Unlock()
		return true
	default:
		p.logger.Warnf("%s pool queue is full, discarding command from %s", p.name, cmd.Source)
		p.countDropped()
		return false
	}
}

func (p *ProcessingPool) countDropped() {
	p.metricsMu.Lock()
	p.metrics.DroppedCount++
	p.metricsMu.Unlock()
}

// Start starts the processing pool workers
func (p *ProcessingPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}

	p.running = true
	p.logger.Infof("Starting %s pool with %d workers", p.name, p.workerCount)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop drains the queue and waits for the workers. A stopped pool cannot be
// restarted.
func (p *ProcessingPool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	// Submit holds mu while sending, so no send can race the close
	close(p.commandQueue)
	p.mu.Unlock()

	p.logger.Infof("Stopping %s pool", p.name)
	p.wg.Wait()
	p.logger.Infof("%s pool stopped", p.name)

	p.logMetrics()
}

// worker processes commands from the queue
func (p *ProcessingPool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debugf("%s pool worker %d started", p.name, id)

	for cmd := range p.commandQueue {
		p.mu.Lock()
		processor := p.processor
		resultHandler := p.resultHandler
		p.mu.Unlock()

		if processor == nil {
			p.logger.Errorf("No command processor set for %s pool", p.name)
			continue
		}

		startTime := time.Now()
		data, err := processor(cmd)
		processingTime := time.Since(startTime).Microseconds()

		p.metricsMu.Lock()
		p.metrics.ProcessedCount++
		p.metrics.LastProcessedTime = time.Now().UnixNano()
		if p.metrics.ProcessingTimeAvg == 0 {
			p.metrics.ProcessingTimeAvg = processingTime
		} else {
			// Simple moving average
			p.metrics.ProcessingTimeAvg = (p.metrics.ProcessingTimeAvg + processingTime) / 2
		}
		if processingTime > p.metrics.ProcessingTimeMax {
			p.metrics.ProcessingTimeMax = processingTime
		}
		if err != nil {
			p.metrics.ErrorCount++
		}
		p.metricsMu.Unlock()

		result := &ProcessResult{
			Source:    cmd.Source,
			Data:      data,
			Timestamp: cmd.ReceivedAt.UnixNano(),
			Error:     err,
		}

		if cmd.Reply != nil {
			select {
			case cmd.Reply <- result:
			default:
				p.logger.Warnf("%s pool reply channel for %s is full", p.name, cmd.Source)
			}
		}
		if resultHandler != nil {
			resultHandler(result)
		}
	}

	p.logger.Debugf("%s pool worker %d stopped", p.name, id)
}

// GetMetrics returns a copy of the current metrics
func (p *ProcessingPool) GetMetrics() PoolMetrics {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()

	return p.metrics
}

func (p *ProcessingPool) logMetrics() {
	metrics := p.GetMetrics()

	p.logger.Infof("%s pool metrics: processed=%d, errors=%d, dropped=%d, avg_time=%dµs, max_time=%dµs",
		p.name, metrics.ProcessedCount, metrics.ErrorCount, metrics.DroppedCount,
		metrics.ProcessingTimeAvg, metrics.ProcessingTimeMax)
}

// GetName returns the pool name
func (p *ProcessingPool) GetName() string {
	return p.name
}

// GetQueueLength returns the current length of the command queue
func (p *ProcessingPool) GetQueueLength() int {
	return len(p.commandQueue)
}

// GetQueueCapacity returns the capacity of the command queue
func (p *ProcessingPool) GetQueueCapacity() int {
	return p.queueSize
}
