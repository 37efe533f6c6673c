package usage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Multi fans a record out to several recorders in order.
type Multi []Recorder

func (m Multi) Record(r Record) {
	for _, rec := range m {
		if rec != nil {
			rec.Record(r)
		}
	}
}

// ExecutionObserver receives per-execution measurements, typically for metrics.
type ExecutionObserver interface {
	ObserveToolExecution(tool, outcome string, duration time.Duration, dataBytes int)
}

// MetricsSink forwards records to an ExecutionObserver.
type MetricsSink struct {
	observer ExecutionObserver
}

// NewMetricsSink creates a recorder that reports to observer.
func NewMetricsSink(observer ExecutionObserver) *MetricsSink {
	return &MetricsSink{observer: observer}
}

func (m *MetricsSink) Record(r Record) {
	if m == nil || m.observer == nil {
		return
	}
	outcome := "success"
	if !r.Success {
		outcome = r.ErrorKind
		if outcome == "" {
			outcome = "error"
		}
	}
	m.observer.ObserveToolExecution(r.ToolName, outcome, time.Duration(r.ExecutionTimeMs)*time.Millisecond, r.DataSize)
}

// AsyncConfig configures an Async recorder.
type AsyncConfig struct {
	Buffer       int
	WriteTimeout time.Duration
	// OnDrop is called for every record discarded because the buffer was full.
	OnDrop func()
}

// DefaultAsyncConfig returns default async settings.
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{
		Buffer:       1024,
		WriteTimeout: 5 * time.Second,
	}
}

// Async buffers records for a blocking Sink. Record never blocks: when the
// buffer is full the record is dropped and counted.
type Async struct {
	sink    Sink
	config  AsyncConfig
	logger  *slog.Logger
	ch      chan Record
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
	done    chan struct{}
}

// NewAsync starts a background writer for sink.
func NewAsync(sink Sink, config AsyncConfig, logger *slog.Logger) *Async {
	if config.Buffer <= 0 {
		config.Buffer = DefaultAsyncConfig().Buffer
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultAsyncConfig().WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Async{
		sink:   sink,
		config: config,
		logger: logger,
		ch:     make(chan Record, config.Buffer),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Record(r Record) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.drop()
		return
	}
	select {
	case a.ch <- r:
	default:
		a.drop()
	}
}

func (a *Async) drop() {
	a.dropped.Add(1)
	if a.config.OnDrop != nil {
		a.config.OnDrop()
	}
}

// Dropped returns how many records were discarded.
func (a *Async) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Async) run() {
	defer close(a.done)
	for r := range a.ch {
		ctx, cancel := context.WithTimeout(context.Background(), a.config.WriteTimeout)
		if err := a.sink.Write(ctx, r); err != nil {
			a.logger.Warn("usage sink write failed",
				"tool", r.ToolName,
				"request_id", r.RequestID,
				"error", err)
		}
		cancel()
	}
}

// Close stops accepting records and waits for buffered ones to be written
// or for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
