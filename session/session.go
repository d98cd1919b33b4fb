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

// Package session wraps one client connection's byte stream: a read buffer
// the protocol parser consumes from, a write buffer flushed to the socket,
// and a Plain/TlsHandshaking/TlsEstablished state machine. TLS configuration
// is sourced from the certificates package (server+client auth loader) so
// the listener thread can do_handshake the same way regardless of whether
// the listener is plaintext or TLS-terminating.
package session

import (
	"crypto/tls"
	"io"
	"net"
	"sync/atomic"
	"syscall"

	libcert "github.com/sabouaram/segcached/certificates"
	liberr "github.com/sabouaram/segcached/errors"
)

const (
	// CodeHandshakeFailed is returned when do_handshake cannot complete the TLS handshake.
	CodeHandshakeFailed liberr.CodeError = 5000 + iota
	// CodeClosed is returned by operations attempted on a closed session.
	CodeClosed
	// CodeBufferFull is returned when the read buffer cannot grow to fit a pending message.
	CodeBufferFull
)

// State is the session's TLS lifecycle stage.
type State uint8

const (
	Plain State = iota
	TlsHandshaking
	TlsEstablished
)

func (s State) String() string {
	switch s {
	case Plain:
		return "plain"
	case TlsHandshaking:
		return "tls_handshaking"
	case TlsEstablished:
		return "tls_established"
	default:
		return "unknown"
	}
}

// MaxBuffer bounds how large the read buffer may grow before a pending
// message is rejected as BufferFull (spec.md §7 Resource error class).
const MaxBuffer = 1 << 20

// Session is one client connection's I/O state, owned by exactly one
// worker thread at a time.
type Session struct {
	Token uint64

	conn   net.Conn
	tlsCfg *tls.Config

	state   State
	tlsConn *tls.Conn

	in  []byte // bytes read but not yet consumed by the protocol parser
	out []byte // bytes composed but not yet flushed to the socket

	closed atomic.Bool
}

// New wraps conn as a Plain session. If tlsConfig is non-nil the session
// starts in TlsHandshaking instead and DoHandshake must be called before
// Fill/Flush touch application data.
func New(token uint64, conn net.Conn, tlsConfig libcert.TLSConfig, serverName string) *Session {
	s := &Session{Token: token, conn: conn, state: Plain}

	if tlsConfig != nil {
		cfg := tlsConfig.TlsConfig(serverName)
		s.tlsCfg = cfg
		s.tlsConn = tls.Server(conn, cfg)
		s.state = TlsHandshaking
	}

	return s
}

// Fd exposes the raw file descriptor's socket for epoll registration. Only
// valid for *net.TCPConn-backed sessions, which is all this server creates.
func (s *Session) Fd() (int, liberr.Error) {
	sc, ok := s.conn.(syscallConner)
	if !ok {
		return -1, liberr.New(CodeClosed.Uint16(), "connection does not expose a raw fd")
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1, liberr.New(CodeClosed.Uint16(), "SyscallConn: "+err.Error())
	}

	var fd int
	cerr := raw.Control(func(u uintptr) { fd = int(u) })
	if cerr != nil {
		return -1, liberr.New(CodeClosed.Uint16(), "raw control: "+cerr.Error())
	}
	return fd, nil
}

type syscallConner interface {
	SyscallConn() (syscall.RawConn, error)
}

// State reports the current TLS lifecycle stage.
func (s *Session) State() State {
	return s.state
}

// DoHandshake advances a TlsHandshaking session. It is safe to call
// repeatedly (e.g. once per readable/writable epoll event) until it
// returns ok == true or an error.
func (s *Session) DoHandshake() (ok bool, lerr liberr.Error) {
	if s.state != TlsHandshaking {
		return true, nil
	}
	if err := s.tlsConn.Handshake(); err != nil {
		if err == io.EOF {
			return false, nil
		}
		if ne, isNet := err.(net.Error); isNet && ne.Temporary() {
			return false, nil
		}
		return false, liberr.New(CodeHandshakeFailed.Uint16(), "tls handshake: "+err.Error())
	}
	s.state = TlsEstablished
	return true, nil
}

func (s *Session) reader() io.Reader {
	if s.tlsConn != nil {
		return s.tlsConn
	}
	return s.conn
}

func (s *Session) writer() io.Writer {
	if s.tlsConn != nil {
		return s.tlsConn
	}
	return s.conn
}

// Fill reads from the socket into the read buffer, returning the number of
// bytes read. It is a non-blocking best-effort call driven by epoll
// readability; end of stream is returned as a CodeClosed error so the
// caller can drop the session.
func (s *Session) Fill() (int, liberr.Error) {
	if len(s.in) >= MaxBuffer {
		return 0, liberr.New(CodeBufferFull.Uint16(), "read buffer at capacity")
	}

	var tmp [4096]byte
	n, err := s.reader().Read(tmp[:])
	if n > 0 {
		s.in = append(s.in, tmp[:n]...)
	}
	if err != nil {
		if err == io.EOF {
			return n, liberr.New(CodeClosed.Uint16(), "eof")
		}
		if ne, isNet := err.(net.Error); isNet && ne.Temporary() {
			return n, nil
		}
		return n, liberr.New(CodeClosed.Uint16(), "read: "+err.Error())
	}
	return n, nil
}

// Buffer returns the unconsumed bytes read so far. The protocol parser
// reads from this slice but does not own it.
func (s *Session) Buffer() []byte {
	return s.in
}

// Consume drops the first n bytes of the read buffer, called after the
// protocol parser reports how many bytes one message occupied.
func (s *Session) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(s.in) {
		s.in = s.in[:0]
		return
	}
	copy(s.in, s.in[n:])
	s.in = s.in[:len(s.in)-n]
}

// Write appends bytes to the outbound buffer (protocol.Writer). It never
// blocks on the socket; Flush does the actual syscall.
func (s *Session) Write(p []byte) (int, error) {
	s.out = append(s.out, p...)
	return len(p), nil
}

// Flush writes as much of the outbound buffer to the socket as the kernel
// will currently accept, returning the number of bytes flushed.
func (s *Session) Flush() (int, liberr.Error) {
	if len(s.out) == 0 {
		return 0, nil
	}

	n, err := s.writer().Write(s.out)
	if n > 0 {
		copy(s.out, s.out[n:])
		s.out = s.out[:len(s.out)-n]
	}
	if err != nil {
		if ne, isNet := err.(net.Error); isNet && ne.Temporary() {
			return n, nil
		}
		return n, liberr.New(CodeClosed.Uint16(), "write: "+err.Error())
	}
	return n, nil
}

// HasPendingWrite reports whether Flush still has bytes to push.
func (s *Session) HasPendingWrite() bool {
	return len(s.out) > 0
}

// Close marks the session closed and releases the underlying connection.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.conn.Close()
}

// Closed reports whether Close has already run.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
