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

// Package proxy implements the proxy deployment mode: a sibling binary that
// speaks the same front-end memcache dialect but forwards every request to
// a remote backend over a small, fixed-size connection pool instead of
// executing against local storage. The pool is a buffered-channel
// semaphore bounding concurrent backend connections and blocking waiters
// with a timeout, the same bucket/timeout wait shape the
// joaobrasildev-poc-connection-pooling pack example uses for its
// distributed semaphore, here kept in-process since no backing coordinator
// (Redis) is wired as a dependency.
package proxy

import (
	"context"
	"net"

	liberr "github.com/sabouaram/segcached/errors"
)

const (
	// CodePoolExhausted is returned when no connection slot frees up before the deadline.
	CodePoolExhausted liberr.CodeError = 8000 + iota
	CodeDialFailed
)

// Pool bounds concurrent connections to one backend address.
type Pool struct {
	addr    string
	dial    func(ctx context.Context, addr string) (net.Conn, error)
	tokens  chan struct{}
	idle    chan net.Conn
}

// NewPool builds a Pool allowing up to size concurrent connections to addr.
func NewPool(addr string, size int) *Pool {
	if size <= 0 {
		size = 8
	}
	return &Pool{
		addr:   addr,
		dial:   defaultDial,
		tokens: make(chan struct{}, size),
		idle:   make(chan net.Conn, size),
	}
}

func defaultDial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Acquire reserves a slot and returns a ready connection, reusing an idle
// one when available. It blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (net.Conn, liberr.Error) {
	select {
	case p.tokens <- struct{}{}:
	case <-ctx.Done():
		return nil, liberr.New(CodePoolExhausted.Uint16(), "pool wait: "+ctx.Err().Error())
	}

	select {
	case conn := <-p.idle:
		return conn, nil
	default:
	}

	conn, err := p.dial(ctx, p.addr)
	if err != nil {
		<-p.tokens
		return nil, liberr.New(CodeDialFailed.Uint16(), "dial "+p.addr+": "+err.Error())
	}
	return conn, nil
}

// Release returns conn to the idle set (or drops and frees the slot if
// healthy is false, e.g. after a write/read error).
func (p *Pool) Release(conn net.Conn, healthy bool) {
	if healthy {
		select {
		case p.idle <- conn:
			<-p.tokens
			return
		default:
		}
	}
	_ = conn.Close()
	<-p.tokens
}

// Close drains and closes every idle connection.
func (p *Pool) Close() {
	close(p.idle)
	for conn := range p.idle {
		_ = conn.Close()
	}
}

// WithDial overrides the dial function, used by tests to avoid real sockets.
func (p *Pool) WithDial(fn func(ctx context.Context, addr string) (net.Conn, error)) {
	p.dial = fn
}
