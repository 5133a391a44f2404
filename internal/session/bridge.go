// ABOUTME: Prompt bridge converting synchronous pushes into the pull protocol a runtime expects
// ABOUTME: Single-consumer FIFO with immediate handoff to a waiting receiver and ordered close

package session

import (
	"context"
	"sync"

	"github.com/2389/perch-gateway/internal/runtime"
)

// pullResult is what a suspended consumer is resumed with.
type pullResult struct {
	input runtime.TurnInput
	ok    bool
}

// Bridge is the meeting point between synchronous callers (SendMessage) and
// the runtime's lazy pull-based consumption. Push never blocks: a waiting
// consumer is resumed immediately, otherwise the value is buffered. Values
// are delivered exactly once, in push order, and Close delivers any buffered
// values before end-of-sequence.
//
// Bridge assumes a single consumer; Next must not be called concurrently.
type Bridge struct {
	mu     sync.Mutex
	buf    []runtime.TurnInput
	waiter chan pullResult // non-nil iff the consumer is suspended
	closed bool
	pulls  int
	onIdle func()
}

// NewBridge creates a Bridge. onIdle, if non-nil, fires exactly once, at the
// moment of the second pull: the consumer has exhausted the first turn and is
// waiting again. It is invoked without the bridge lock held.
func NewBridge(onIdle func()) *Bridge {
	return &Bridge{onIdle: onIdle}
}

// Push appends a value, resuming a suspended consumer immediately if one is
// waiting. Pushes after Close are dropped.
func (b *Bridge) Push(input runtime.TurnInput) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	if b.waiter != nil {
		// A consumer only suspends when the buffer is empty, so immediate
		// handoff preserves FIFO order.
		b.waiter <- pullResult{input: input, ok: true}
		b.waiter = nil
		return
	}

	b.buf = append(b.buf, input)
}

// Close marks the sequence finished. Buffered values already pushed are still
// delivered before end-of-sequence; a suspended consumer is resumed with
// end-of-sequence immediately. Close is idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	if b.waiter != nil {
		b.waiter <- pullResult{ok: false}
		b.waiter = nil
	}
}

// Next implements runtime.InputSource. It dequeues the buffer head if one is
// available, returns end-of-sequence if the bridge is closed and drained, and
// otherwise suspends until the next Push or Close. A canceled ctx also ends
// the sequence; a value handed off concurrently with cancellation is still
// delivered rather than dropped.
func (b *Bridge) Next(ctx context.Context) (runtime.TurnInput, bool) {
	b.mu.Lock()

	b.pulls++
	var idle func()
	if b.pulls == 2 {
		idle = b.onIdle
		b.onIdle = nil
	}
	if idle != nil {
		b.mu.Unlock()
		idle()
		b.mu.Lock()
	}

	if len(b.buf) > 0 {
		input := b.buf[0]
		b.buf = b.buf[1:]
		b.mu.Unlock()
		return input, true
	}

	if b.closed {
		b.mu.Unlock()
		return runtime.TurnInput{}, false
	}

	ch := make(chan pullResult, 1)
	b.waiter = ch
	b.mu.Unlock()

	select {
	case res := <-ch:
		return res.input, res.ok
	case <-ctx.Done():
		b.mu.Lock()
		if b.waiter == ch {
			b.waiter = nil
		}
		b.mu.Unlock()

		// A Push or Close may have raced the cancellation.
		select {
		case res := <-ch:
			return res.input, res.ok
		default:
			return runtime.TurnInput{}, false
		}
	}
}
