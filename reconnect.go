package mqttc

import (
	"context"
	"errors"
	"time"
)

// reconnector is a running reconnect loop.
type reconnector struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the loop and waits for it to exit.
func (r *reconnector) stop() {
	r.cancel()
	<-r.done
}

// startReconnectLocked starts the reconnect loop unless one is running.
// The caller must hold c.mu.
func (c *Client) startReconnectLocked() {
	if c.reconnect != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &reconnector{cancel: cancel, done: make(chan struct{})}
	c.reconnect = r
	go c.reconnectLoop(ctx, r)
}

// reconnectLoop reconnects with exponential backoff until it succeeds or is
// stopped. A connection that comes up with a rejected re-subscription counts
// as success; the rejection is logged.
func (c *Client) reconnectLoop(ctx context.Context, r *reconnector) {
	defer close(r.done)
	defer r.cancel()

	backoff := max(c.opts.MinReconnectDelay, time.Millisecond)
	maxBackoff := max(c.opts.MaxReconnectDelay, backoff)

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		c.reconnectCount.Add(1)
		c.opts.Logger.Debug("reconnecting", "attempt_delay", backoff)

		err := c.Connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && errors.Is(err, ErrSubscriptionRejected) {
			c.opts.Logger.Warn("reconnected with rejected subscriptions", "error", err)
		} else if err != nil {
			c.opts.Logger.Info("reconnect failed", "error", err, "next_attempt", min(backoff*2, maxBackoff))
		}

		c.mu.Lock()
		if c.reconnect != r {
			c.mu.Unlock()
			return
		}
		if c.state == StateConnected {
			c.reconnect = nil
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		if err != nil {
			backoff = min(backoff*2, maxBackoff)
		}
		timer.Reset(backoff)
	}
}
