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

package server

import (
	"fmt"
	"time"

	liberr "github.com/sabouaram/segcached/errors"
	libmemcache "github.com/sabouaram/segcached/memcache"
	libmetrics "github.com/sabouaram/segcached/metrics"
	libmonitor "github.com/sabouaram/segcached/monitor"
	libpoll "github.com/sabouaram/segcached/poll"
	libqueues "github.com/sabouaram/segcached/queues"
	libproto "github.com/sabouaram/segcached/protocol"
	libsession "github.com/sabouaram/segcached/session"
)

// Worker owns a pool of established sessions, parses requests off them, and
// executes each request against storage directly (seg.Store is thread-safe,
// so the storage-thread relay spec.md §4.8 allows skipping is taken here).
type Worker struct {
	id       int
	poller   *libpoll.Poller
	incoming *libqueues.Queue[*libsession.Session]
	signals  *libqueues.Queue[Signal]

	parser   libmemcache.Parser
	composer libmemcache.Composer
	executor libproto.Executor[libmemcache.Request, libmemcache.Response]

	sessions map[uint64]*libsession.Session
	metrics  *libmetrics.Metrics
	mon      *libmonitor.Monitor
	timeout  time.Duration
}

// NewWorker builds a Worker reading handoffs off incoming and executing
// requests via executor (typically memcache.NewExecutor wrapping the shared
// seg.Store).
func NewWorker(id int, incoming *libqueues.Queue[*libsession.Session], signals *libqueues.Queue[Signal], executor libproto.Executor[libmemcache.Request, libmemcache.Response], timeout time.Duration, m *libmetrics.Metrics, mon *libmonitor.Monitor) (*Worker, liberr.Error) {
	poller, lerr := libpoll.New()
	if lerr != nil {
		return nil, lerr
	}

	// The worker's own poller is the thing blocked in Wait(); handoffs and
	// signals must kick its waker, not some other thread's.
	if incoming != nil {
		incoming.SetWaker(poller.Waker())
	}
	if signals != nil {
		signals.SetWaker(poller.Waker())
	}

	return &Worker{
		id:       id,
		poller:   poller,
		incoming: incoming,
		signals:  signals,
		executor: executor,
		sessions: make(map[uint64]*libsession.Session),
		metrics:  m,
		mon:      mon,
		timeout:  timeout,
	}, nil
}

func (w *Worker) name() string {
	return fmt.Sprintf("worker-%d", w.id)
}

// Run drains handoffs and session I/O until a Signal.Shutdown arrives.
func (w *Worker) Run() {
	log.WithField("worker", w.name()).Info("worker started")
	defer log.WithField("worker", w.name()).Info("worker stopped")

	timeoutMs := int(w.timeout.Milliseconds())
	if timeoutMs <= 0 {
		timeoutMs = 1000
	}

	events := make([]libpoll.Event, 0, 256)

	for {
		if w.mon != nil {
			w.mon.Heartbeat(w.name())
		}

		var lerr liberr.Error
		events, lerr = w.poller.Wait(events, timeoutMs)
		if lerr != nil {
			continue
		}

		w.drainIncoming()

		for _, ev := range events {
			w.handleSessionEvent(ev)
		}

		if w.drainSignals() {
			w.closeAll()
			return
		}
	}
}

func (w *Worker) drainSignals() (shutdown bool) {
	if w.signals == nil {
		return false
	}
	for {
		sig, ok := w.signals.TryRecv()
		if !ok {
			return false
		}
		if sig == SignalShutdown {
			return true
		}
	}
}

func (w *Worker) drainIncoming() {
	if w.incoming == nil {
		return
	}
	for {
		sess, ok := w.incoming.TryRecv()
		if !ok {
			return
		}
		fd, lerr := sess.Fd()
		if lerr != nil {
			log.WithError(lerr).Warn("handoff session has no usable fd")
			_ = sess.Close()
			continue
		}
		if lerr := w.poller.Register(fd, sess.Token, libpoll.Readable); lerr != nil {
			log.WithError(lerr).Warn("failed to register handed-off session")
			_ = sess.Close()
			continue
		}
		w.sessions[sess.Token] = sess
	}
}

func (w *Worker) handleSessionEvent(ev libpoll.Event) {
	sess, ok := w.sessions[ev.Token]
	if !ok {
		return
	}

	if ev.Error {
		w.teardown(sess)
		return
	}

	if ev.Readable {
		if _, lerr := sess.Fill(); lerr != nil {
			w.teardown(sess)
			return
		}
		if !w.parseAndExecute(sess) {
			w.teardown(sess)
			return
		}
	}

	if sess.HasPendingWrite() || ev.Writable {
		if _, lerr := sess.Flush(); lerr != nil {
			w.teardown(sess)
			return
		}
	}

	if sess.HasPendingWrite() {
		_ = w.poller.Reregister(mustFd(sess), sess.Token, libpoll.Readable|libpoll.Writable)
	} else {
		_ = w.poller.Reregister(mustFd(sess), sess.Token, libpoll.Readable)
	}
}

// parseAndExecute consumes every complete request currently buffered on
// sess, returning false if the session must be torn down (BufferFull or an
// unrecoverable Invalid parse).
func (w *Worker) parseAndExecute(sess *libsession.Session) bool {
	for {
		buf := sess.Buffer()
		if len(buf) == 0 {
			return true
		}

		out, lerr := w.parser.Parse(buf)
		switch out.Kind {
		case libproto.KindIncomplete:
			if len(buf) >= libsession.MaxBuffer {
				return false
			}
			return true

		case libproto.KindInvalid:
			log.WithField("worker", w.name()).WithError(lerr).Debug("invalid request, tearing down session")
			resp := libmemcache.Response{Status: libmemcache.StatusClientError, Message: errMsg(lerr)}
			_ = w.composer.Compose(resp, sess)
			return false

		case libproto.KindUnknown:
			sess.Consume(out.Consumed)
			resp := libmemcache.Response{Status: libmemcache.StatusError}
			_ = w.composer.Compose(resp, sess)
			continue

		default:
			sess.Consume(out.Consumed)
			if w.metrics != nil {
				w.metrics.StorageOps.WithLabelValues(out.Message.Cmd.String()).Inc()
			}
			resp, ok := w.executor.Execute(out.Message)
			if ok {
				_ = w.composer.Compose(resp, sess)
			}
			if out.Message.Cmd == libmemcache.CmdQuit {
				return false
			}
		}
	}
}

func (w *Worker) teardown(sess *libsession.Session) {
	delete(w.sessions, sess.Token)
	if fd, lerr := sess.Fd(); lerr == nil {
		_ = w.poller.Deregister(fd)
	}
	_ = sess.Close()
}

func (w *Worker) closeAll() {
	for _, sess := range w.sessions {
		_ = sess.Close()
	}
}

func mustFd(sess *libsession.Session) int {
	fd, lerr := sess.Fd()
	if lerr != nil {
		return -1
	}
	return fd
}

func errMsg(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
