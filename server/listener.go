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

// Package server runs the cache's accept/worker/storage threads and the
// process supervisor that wires them together. Grounded directly in
// the listener/worker/storage thread split of the Pelikan-style server
// core: the listener owns the bind socket and TLS handshakes, workers own
// established sessions and run the protocol, and a single storage thread
// owns the seg.Store and its periodic Expire tick.
package server

import (
	"net"
	"time"

	libcert "github.com/sabouaram/segcached/certificates"
	liberr "github.com/sabouaram/segcached/errors"
	libmetrics "github.com/sabouaram/segcached/metrics"
	libmonitor "github.com/sabouaram/segcached/monitor"
	libpoll "github.com/sabouaram/segcached/poll"
	libqueues "github.com/sabouaram/segcached/queues"
	libsession "github.com/sabouaram/segcached/session"
)

const (
	CodeBindFailed liberr.CodeError = 7000 + iota
	CodeAcceptFailed
)

// ListenerToken is the fixed token the listening socket is registered
// under; poll.WakerToken (0) is reserved for the waker, and NewListener
// reserves this token on its poller so session tokens start above it.
const ListenerToken uint64 = 1

// Listener accepts new connections, drives TLS handshakes to completion,
// and hands established sessions off to a worker queue.
type Listener struct {
	ln       *net.TCPListener
	lnFd     int
	poller   *libpoll.Poller
	tls      libcert.TLSConfig
	timeout  time.Duration

	workers []*libqueues.Queue[*libsession.Session]
	signals *libqueues.Queue[Signal]
	next    int

	sessions map[uint64]*libsession.Session
	metrics  *libmetrics.Metrics
	mon      *libmonitor.Monitor
}

// NewListener binds addr and prepares the accept loop. tlsConfig may be nil
// for a plaintext listener.
func NewListener(addr string, tlsConfig libcert.TLSConfig, timeout time.Duration, workers []*libqueues.Queue[*libsession.Session], signals *libqueues.Queue[Signal], m *libmetrics.Metrics, mon *libmonitor.Monitor) (*Listener, liberr.Error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, liberr.New(CodeBindFailed.Uint16(), "resolve "+addr+": "+err.Error())
	}

	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, liberr.New(CodeBindFailed.Uint16(), "listen "+addr+": "+err.Error())
	}

	poller, lerr := libpoll.New()
	if lerr != nil {
		_ = ln.Close()
		return nil, lerr
	}

	// Consume tokens up to and including ListenerToken so NextToken never
	// hands the listening socket's token to a session.
	for poller.NextToken() < ListenerToken {
	}

	fd, lerr := tcpListenerFd(ln)
	if lerr != nil {
		_ = ln.Close()
		return nil, lerr
	}

	if lerr := poller.Register(fd, ListenerToken, libpoll.Readable); lerr != nil {
		_ = ln.Close()
		return nil, lerr
	}

	// Shutdown is delivered on signals, consumed by this listener's own
	// poller; wake it the same way an accept or a handshake event would.
	if signals != nil {
		signals.SetWaker(poller.Waker())
	}

	return &Listener{
		ln:       ln,
		lnFd:     fd,
		poller:   poller,
		tls:      tlsConfig,
		timeout:  timeout,
		workers:  workers,
		signals:  signals,
		sessions: make(map[uint64]*libsession.Session),
		metrics:  m,
		mon:      mon,
	}, nil
}

// Run drives the accept/handshake loop until a Signal.Shutdown is received
// on the signal queue. Every per-connection failure is logged via metrics
// and localized; only a Shutdown or an unrecoverable poller error returns.
func (l *Listener) Run() {
	log.WithField("addr", l.ln.Addr().String()).Info("listener started")
	defer log.Info("listener stopped")

	timeoutMs := int(l.timeout.Milliseconds())
	if timeoutMs <= 0 {
		timeoutMs = 1000
	}

	events := make([]libpoll.Event, 0, 256)

	for {
		if l.mon != nil {
			l.mon.Heartbeat("listener")
		}

		var lerr liberr.Error
		events, lerr = l.poller.Wait(events, timeoutMs)
		if lerr != nil {
			log.WithError(lerr).Error("poller wait failed, listener exiting")
			return
		}

		for _, ev := range events {
			switch ev.Token {
			case ListenerToken:
				l.doAccept()
			default:
				l.handleSessionEvent(ev)
			}
		}

		if l.drainSignals() {
			return
		}
	}
}

func (l *Listener) drainSignals() (shutdown bool) {
	if l.signals == nil {
		return false
	}
	for {
		sig, ok := l.signals.TryRecv()
		if !ok {
			return false
		}
		if sig == SignalShutdown {
			return true
		}
	}
}

func (l *Listener) doAccept() {
	conn, err := l.ln.AcceptTCP()
	if err != nil {
		if l.metrics != nil {
			l.metrics.AcceptErrors.Inc()
		}
		log.WithError(err).Warn("accept failed")
		return
	}
	if l.metrics != nil {
		l.metrics.AcceptTotal.Inc()
	}

	token := l.poller.NextToken()
	sess := libsession.New(token, conn, l.tls, "")

	if sess.State() == libsession.TlsHandshaking {
		l.registerHandshaking(sess)
		return
	}

	l.handoff(sess)
}

func (l *Listener) registerHandshaking(sess *libsession.Session) {
	fd, lerr := sess.Fd()
	if lerr != nil {
		if l.metrics != nil {
			l.metrics.HandshakeErrors.Inc()
		}
		_ = sess.Close()
		return
	}
	if lerr := l.poller.Register(fd, sess.Token, libpoll.Readable|libpoll.Writable); lerr != nil {
		if l.metrics != nil {
			l.metrics.HandshakeErrors.Inc()
		}
		_ = sess.Close()
		return
	}
	l.sessions[sess.Token] = sess
}

func (l *Listener) handleSessionEvent(ev libpoll.Event) {
	sess, ok := l.sessions[ev.Token]
	if !ok {
		return
	}

	if ev.Error {
		l.dropHandshaking(sess)
		return
	}

	if ev.Writable {
		if _, lerr := sess.Flush(); lerr != nil {
			l.dropHandshaking(sess)
			return
		}
	}

	if ev.Readable {
		if _, lerr := sess.Fill(); lerr != nil {
			l.dropHandshaking(sess)
			return
		}
	}

	done, lerr := sess.DoHandshake()
	if lerr != nil {
		if l.metrics != nil {
			l.metrics.HandshakeErrors.Inc()
		}
		l.dropHandshaking(sess)
		return
	}
	if done {
		l.completeHandshake(sess)
	}
}

func (l *Listener) dropHandshaking(sess *libsession.Session) {
	delete(l.sessions, sess.Token)
	if fd, lerr := sess.Fd(); lerr == nil {
		_ = l.poller.Deregister(fd)
	}
	_ = sess.Close()
}

func (l *Listener) completeHandshake(sess *libsession.Session) {
	delete(l.sessions, sess.Token)
	l.handoff(sess)
}

func (l *Listener) handoff(sess *libsession.Session) {
	n := len(l.workers)
	if n == 0 {
		_ = sess.Close()
		return
	}
	for i := 0; i < n; i++ {
		idx := (l.next + i) % n
		if err := l.workers[idx].TrySendAny(sess); err == nil {
			l.next = (idx + 1) % n
			return
		}
	}
	if l.metrics != nil {
		l.metrics.QueueFullDrops.Inc()
		l.metrics.AcceptErrors.Inc()
	}
	log.WithField("token", sess.Token).Warn("all worker queues full, dropping session")
	_ = sess.Close()
}

// Close releases the listening socket and poller.
func (l *Listener) Close() error {
	_ = l.poller.Close()
	return l.ln.Close()
}
