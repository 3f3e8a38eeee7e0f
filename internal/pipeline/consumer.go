package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cloudsentinel/internal/queue"
)

// ConsumerConfig holds the worker pool configuration.
type ConsumerConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// DefaultConsumerConfig returns the default worker pool configuration.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:      4,
		PollInterval: 10 * time.Millisecond,
		ShutdownWait: 30 * time.Second,
	}
}

// Consumer drains the ingest queue through the processor with a pool
// of workers. One event failing is logged and counted; the next event
// still runs.
type Consumer struct {
	queue     *queue.RingBuffer
	processor *Processor
	config    ConsumerConfig

	wg   sync.WaitGroup
	done chan struct{}

	processed uint64
	alerted   uint64
	errors    uint64
}

// NewConsumer creates a consumer over the queue.
func NewConsumer(q *queue.RingBuffer, proc *Processor, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		queue:     q,
		processor: proc,
		config:    cfg,
		done:      make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (c *Consumer) Start(ctx context.Context) {
	for i := 0; i < c.config.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}
	slog.Info("pipeline consumer started", "workers", c.config.Workers)
}

func (c *Consumer) worker(ctx context.Context, id int) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
			event, err := c.queue.PopWithTimeout(c.config.PollInterval)
			if err != nil {
				if errors.Is(err, queue.ErrQueueEmpty) {
					continue
				}
				if errors.Is(err, queue.ErrQueueClosed) {
					return
				}
				slog.Warn("unexpected queue error", "worker_id", id, "error", err)
				atomic.AddUint64(&c.errors, 1)
				continue
			}

			res, err := c.processor.ProcessEvent(ctx, event)
			if err != nil {
				slog.Error("event processing failed",
					"worker_id", id,
					"event_id", event.EventID,
					"error", err,
				)
				atomic.AddUint64(&c.errors, 1)
				continue
			}

			atomic.AddUint64(&c.processed, 1)
			if res.Alert != nil {
				atomic.AddUint64(&c.alerted, 1)
			}
		}
	}
}

// Stop shuts the workers down, waiting up to ShutdownWait.
func (c *Consumer) Stop() {
	close(c.done)

	finished := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		slog.Info("pipeline consumer stopped")
	case <-time.After(c.config.ShutdownWait):
		slog.Warn("pipeline consumer shutdown timed out")
	}
}

// Metrics holds consumer counters.
type Metrics struct {
	Processed uint64 `json:"processed"`
	Alerted   uint64 `json:"alerted"`
	Errors    uint64 `json:"errors"`
}

// Metrics returns a snapshot of consumer counters.
func (c *Consumer) Metrics() Metrics {
	return Metrics{
		Processed: atomic.LoadUint64(&c.processed),
		Alerted:   atomic.LoadUint64(&c.alerted),
		Errors:    atomic.LoadUint64(&c.errors),
	}
}
