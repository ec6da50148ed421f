package channel

import (
	"context"
	"sync"
	"time"
)

// Reconnecting wraps a Channel with an automatic redial loop. The base
// channel's policy is caller-driven reconnection; this wrapper is that
// caller, re-invoking Connect with the same document id whenever it finds
// the channel disconnected.
//
// The loop starts only after the initial Connect succeeds. If the initial
// dial fails the caller decides what to do, which keeps process-manager
// style deployments free to error-exit instead.
type Reconnecting struct {
	*Channel

	// CheckInterval is how often the loop looks for a lost connection.
	CheckInterval time.Duration

	mu       sync.Mutex
	loopStop chan struct{}
	loopDone chan struct{}
}

const defaultCheckInterval = 5 * time.Second

// NewReconnecting wraps c. A non-positive checkInterval falls back to the
// default of 5 seconds.
func NewReconnecting(c *Channel, checkInterval time.Duration) *Reconnecting {
	return &Reconnecting{
		Channel:       c,
		CheckInterval: checkInterval,
	}
}

// Connect dials and, on success, starts the redial loop. A caller-driven
// redial through Connect replaces the loop installed by the previous call
// rather than stacking a second one.
func (r *Reconnecting) Connect(ctx context.Context, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopLoopLocked()
	if err := r.Channel.Connect(ctx, projectID); err != nil {
		return err
	}

	r.loopStop = make(chan struct{})
	r.loopDone = make(chan struct{})
	go r.reconnectionLoop(projectID, r.loopStop, r.loopDone)
	return nil
}

// Close stops the redial loop first, so it cannot race a deliberate
// shutdown, then closes the underlying channel.
func (r *Reconnecting) Close(ctx context.Context) error {
	r.mu.Lock()
	r.stopLoopLocked()
	r.mu.Unlock()

	return r.Channel.Close(ctx)
}

func (r *Reconnecting) stopLoopLocked() {
	if r.loopStop == nil {
		return
	}
	close(r.loopStop)
	<-r.loopDone
	r.loopStop = nil
}

func (r *Reconnecting) reconnectionLoop(projectID string, stop, done chan struct{}) {
	defer close(done)

	interval := r.CheckInterval
	if interval <= 0 {
		interval = defaultCheckInterval
	}

	for {
		select {
		case <-stop:
			return
		case <-time.After(interval):
		}

		if !r.IsDisconnected() {
			continue
		}

		r.logger.Info("attempting to reconnect", "project_id", projectID)
		if err := r.Channel.Connect(context.Background(), projectID); err != nil {
			r.logger.Error("reconnect failed", "project_id", projectID, "error", err)
		} else {
			r.logger.Info("reconnected", "project_id", projectID)
		}
	}
}
