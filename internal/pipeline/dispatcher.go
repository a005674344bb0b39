package pipeline

import (
	"context"
	"sync"

	"github.com/xaenox/teadesk-bot/internal/models"
)

type senderQueue struct {
	pending []models.InboundMessage
}

// Dispatcher runs messages of the same sender one at a time in arrival
// order, and messages of different senders concurrently.
type Dispatcher struct {
	handle func(context.Context, models.InboundMessage)

	mu     sync.Mutex
	queues map[models.Sender]*senderQueue
	wg     sync.WaitGroup
}

func NewDispatcher(handle func(context.Context, models.InboundMessage)) *Dispatcher {
	return &Dispatcher{
		handle: handle,
		queues: make(map[models.Sender]*senderQueue),
	}
}

// Dispatch enqueues msg and returns immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, msg models.InboundMessage) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, running := d.queues[msg.Sender]
	if !running {
		q = &senderQueue{}
		d.queues[msg.Sender] = q
		d.wg.Add(1)
		go d.drain(ctx, msg.Sender, q)
	}
	q.pending = append(q.pending, msg)
}

// drain owns q until it is empty, then unregisters it.
func (d *Dispatcher) drain(ctx context.Context, sender models.Sender, q *senderQueue) {
	defer d.wg.Done()

	for {
		d.mu.Lock()
		if len(q.pending) == 0 {
			delete(d.queues, sender)
			d.mu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		d.mu.Unlock()

		d.handle(ctx, msg)
	}
}

// Wait blocks until every dispatched message has been handled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
