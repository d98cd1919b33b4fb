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

package proxy

import (
	"bufio"
	"context"
	"errors"
	"os"
	"time"

	liberr "github.com/sabouaram/segcached/errors"
	libmemcache "github.com/sabouaram/segcached/memcache"
	libproto "github.com/sabouaram/segcached/protocol"
)

// DefaultDeadline is the per-request backend timeout (spec.md §9), surfaced
// to the client as NOT_STORED on expiry.
const DefaultDeadline = 200 * time.Millisecond

const (
	// CodeForwardFailed marks a backend write/read/decode failure.
	CodeForwardFailed liberr.CodeError = 8100 + iota
	CodeForwardTimeout
)

// Executor implements protocol.Executor by forwarding every request to a
// pooled backend connection instead of a local seg.Store, per the proxy
// deployment mode (spec.md §9).
type Executor struct {
	pool     *Pool
	deadline time.Duration
}

var _ libproto.Executor[libmemcache.Request, libmemcache.Response] = (*Executor)(nil)

// NewExecutor builds an Executor forwarding to pool within deadline per request.
func NewExecutor(pool *Pool, deadline time.Duration) *Executor {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Executor{pool: pool, deadline: deadline}
}

// Execute forwards req to the backend and decodes its reply. A pool
// exhaustion, dial failure, or deadline exceeded is mapped to NOT_STORED
// per spec.md §9 rather than propagated to the client as a protocol error.
func (e *Executor) Execute(req libmemcache.Request) (libmemcache.Response, bool) {
	resp, err := e.forward(req)
	if req.Cmd == libmemcache.CmdQuit {
		return libmemcache.Response{}, false
	}
	if err != nil {
		log.WithField("cmd", req.Cmd.String()).WithError(err).Debug("forward failed, replying NOT_STORED")
		if req.NoReply {
			return libmemcache.Response{}, false
		}
		return libmemcache.Response{Status: libmemcache.StatusNotStored}, true
	}
	if req.NoReply {
		return libmemcache.Response{}, false
	}
	return resp, true
}

func (e *Executor) forward(req libmemcache.Request) (libmemcache.Response, liberr.Error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.deadline)
	defer cancel()

	conn, lerr := e.pool.Acquire(ctx)
	if lerr != nil {
		return libmemcache.Response{}, lerr
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	healthy := false
	defer func() { e.pool.Release(conn, healthy) }()

	if _, err := conn.Write(encodeRequest(req)); err != nil {
		return libmemcache.Response{}, wrapForwardErr(err)
	}

	if req.Cmd == libmemcache.CmdQuit {
		healthy = true
		return libmemcache.Response{}, nil
	}

	reader := bufio.NewReader(conn)
	first, err := readLineString(reader)
	if err != nil {
		return libmemcache.Response{}, wrapForwardErr(err)
	}

	resp, err := decodeResponse(first, reader)
	if err != nil {
		return libmemcache.Response{}, wrapForwardErr(err)
	}

	healthy = true
	return resp, nil
}

func wrapForwardErr(err error) liberr.Error {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return liberr.New(CodeForwardTimeout.Uint16(), "backend deadline exceeded", err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return liberr.New(CodeForwardTimeout.Uint16(), "backend deadline exceeded", err)
	}
	return liberr.New(CodeForwardFailed.Uint16(), "backend forward failed", err)
}
