package wal

import (
	"sync"
	"time"
)

const (
	// DefaultCheckpointInterval is how often checkpoints are created
	DefaultCheckpointInterval = 10 * time.Minute
)

// Checkpointer runs a checkpoint function periodically in the background
type Checkpointer struct {
	interval time.Duration
	fn       func() error
	onError  func(error)
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewCheckpointer creates a checkpointer. fn typically snapshots the store
// into the WAL through WAL.Checkpoint.
func NewCheckpointer(fn func() error) *Checkpointer {
	return &Checkpointer{
		interval: DefaultCheckpointInterval,
		fn:       fn,
		onError:  func(error) {},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// OnError sets the callback for failed background checkpoints
func (c *Checkpointer) OnError(f func(error)) {
	if f != nil {
		c.onError = f
	}
}

// Start starts the background checkpointing process
func (c *Checkpointer) Start() {
	go c.run()
}

// Stop stops the checkpointer and waits for a running checkpoint to finish.
// It must only be called after Start.
func (c *Checkpointer) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.doneCh
}

// run is the main checkpointing loop
func (c *Checkpointer) run() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Checkpoint(); err != nil {
				c.onError(err)
			}

		case <-c.stopCh:
			return
		}
	}
}

// Checkpoint performs a checkpoint now
func (c *Checkpointer) Checkpoint() error {
	return c.fn()
}

// SetInterval changes the checkpoint interval; call it before Start
func (c *Checkpointer) SetInterval(interval time.Duration) {
	if interval > 0 {
		c.interval = interval
	}
}
