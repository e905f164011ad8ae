// Package sequencer provides a single-worker task executor that drains a
// FIFO queue one task at a time. Submission never blocks and tasks are
// held back until processing is explicitly started, so early
// filesystem events cannot race state initialization.
package sequencer

import (
	"log/slog"
	"sync"
)

// Processor serializes task execution in submission order. It starts
// disabled: submitted tasks accumulate until StartProcessing is called.
type Processor struct {
	mu      sync.Mutex
	queue   []func()
	enabled bool
	running bool
	stopped bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// New creates a (still disabled) processor.
func New(logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{logger: logger}
}

// Submit enqueues a task. It never blocks; tasks submitted after Stop
// are dropped.
func (p *Processor) Submit(task func()) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.logger.Debug("task dropped, processor stopped")
		return
	}
	p.queue = append(p.queue, task)
	p.scheduleLocked()
	p.mu.Unlock()
}

// StartProcessing enables draining. Idempotent; tasks queued before the
// call are processed first, in submission order.
func (p *Processor) StartProcessing() {
	p.mu.Lock()
	if !p.enabled {
		p.enabled = true
		p.scheduleLocked()
	}
	p.mu.Unlock()
}

// scheduleLocked starts a drain worker if one is needed and none runs.
// Caller holds p.mu.
func (p *Processor) scheduleLocked() {
	if !p.enabled || p.running || len(p.queue) == 0 {
		return
	}
	p.running = true
	p.wg.Add(1)
	go p.drain()
}

// drain executes queued tasks one at a time until the queue empties.
func (p *Processor) drain() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if len(p.queue) == 0 || p.stopped {
			p.running = false
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		task()
	}
}

// Stop discards pending tasks and waits for the in-flight task, if any,
// to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.queue = nil
	p.mu.Unlock()
	p.wg.Wait()
}
