package mqttc

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// delivery is one handler invocation waiting for a worker.
type delivery struct {
	handler MessageHandler
	msg     Message
}

// dispatcher runs message handlers off the reader goroutine.
//
// The queue is unbounded so that the reader never blocks on a slow handler;
// backpressure comes from the server's in-flight window instead. Workers are
// started on demand, up to max, and exit when the queue is empty. With one
// worker, handlers run in arrival order.
type dispatcher struct {
	client *Client
	logger *slog.Logger
	max    int

	mu      sync.Mutex
	queue   []delivery
	running int
	idle    *sync.Cond
}

func newDispatcher(c *Client, workers int, logger *slog.Logger) *dispatcher {
	d := &dispatcher{
		client: c,
		logger: logger,
		max:    max(workers, 1),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// submit queues handler invocations for msg in order.
func (d *dispatcher) submit(msg Message, handlers []MessageHandler) {
	if len(handlers) == 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, h := range handlers {
		d.queue = append(d.queue, delivery{handler: h, msg: msg})
	}
	for d.running < d.max && d.running < len(d.queue) {
		d.running++
		go d.work()
	}
}

func (d *dispatcher) work() {
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.running--
			if d.running == 0 {
				d.idle.Broadcast()
			}
			d.mu.Unlock()
			return
		}
		next := d.queue[0]
		d.queue[0] = delivery{}
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.run(next)
	}
}

func (d *dispatcher) run(job delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("message handler panicked",
				"topic", job.msg.Topic,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	job.handler(d.client, job.msg)
}

// wait blocks until the queue is empty and no handler is running.
func (d *dispatcher) wait() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.running > 0 || len(d.queue) > 0 {
		d.idle.Wait()
	}
}

// pending returns the number of queued invocations.
func (d *dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}
