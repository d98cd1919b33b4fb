/*
 * MIT License
 *
 * Copyright (c) 2024 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package queues provides a bounded multi-producer/multi-consumer channel
// wrapper used to hand sessions and signals between the listener, worker,
// and storage threads. Go's chan is already a lock-light MPMC primitive, so
// this package is a thin, typed, non-blocking-first API over it rather than
// a hand-rolled ring buffer: TrySend/TryRecv never block, so a thread
// blocked in poll.Poller.Wait never stalls on a full queue, and an explicit
// Waker is kicked on every successful send since the consumer is parked in
// epoll_wait, not in a channel receive.
package queues

import (
	liberr "github.com/sabouaram/segcached/errors"
)

const (
	// CodeFull is returned by TrySend/TrySendAny when every receiver is at capacity.
	CodeFull liberr.CodeError = 4000 + iota
	// CodeClosed identifies a closed queue. Queue has no Close method, and
	// none of its methods returns this code.
	CodeClosed
)

// Waker is kicked whenever an item is enqueued, so a consumer parked in
// epoll_wait (not in a channel receive) notices new work.
type Waker interface {
	Wake() error
}

// Queue is a bounded FIFO of T, safe for concurrent producers and consumers.
type Queue[T any] struct {
	ch    chan T
	waker Waker
}

// New creates a Queue with room for capacity items. waker may be nil, in
// which case Send/TrySend skip the wake-up (used by pure in-process callers
// that already poll the channel directly, e.g. tests). A consuming thread
// that only learns its own poll.Poller after the queue already exists
// should construct with a nil waker and call SetWaker once the poller is
// available.
func New[T any](capacity int, waker Waker) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{ch: make(chan T, capacity), waker: waker}
}

// SetWaker attaches (or replaces) the Waker kicked on every successful
// send. Safe to call once before the queue is shared with any producer;
// not safe to race against concurrent TrySend calls.
func (q *Queue[T]) SetWaker(waker Waker) {
	q.waker = waker
}

// TrySend enqueues v without blocking, returning CodeFull if the queue has
// no spare capacity right now.
func (q *Queue[T]) TrySend(v T) liberr.Error {
	select {
	case q.ch <- v:
		q.wake()
		return nil
	default:
		return liberr.New(CodeFull.Uint16(), "queue full")
	}
}

// TrySendAny is TrySend under another name, documenting the spec's
// session_queue.try_send_any: the listener does not care which worker
// queue accepts the handoff, only that one of them does.
func (q *Queue[T]) TrySendAny(v T) liberr.Error {
	return q.TrySend(v)
}

// TryRecv dequeues one item without blocking; ok is false if the queue was
// empty at the moment of the call.
func (q *Queue[T]) TryRecv() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Recv blocks until an item is available or the channel is closed.
func (q *Queue[T]) Recv() (T, bool) {
	v, ok := <-q.ch
	return v, ok
}

// Len reports the number of items currently queued.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap reports the queue's fixed capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

func (q *Queue[T]) wake() {
	if q.waker != nil {
		_ = q.waker.Wake()
	}
}
