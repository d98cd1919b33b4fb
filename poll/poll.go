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

// Package poll wraps Linux epoll for the listener and worker run loops: a
// single file descriptor per thread, registered fds identified by a counter-allocated token,
// and an eventfd-backed Waker bound to WakerToken so a thread blocked in
// Wait can be interrupted from another goroutine (queue handoff, shutdown).
package poll

import (
	"sync"

	"golang.org/x/sys/unix"

	liberr "github.com/sabouaram/segcached/errors"
)

const (
	// CodeCreateFailed is returned when epoll_create1 fails.
	CodeCreateFailed liberr.CodeError = 3000 + iota
	CodeCtlFailed
	CodeWaitFailed
	CodeWakerFailed
)

// WakerToken is the reserved token identifying the waker eventfd in Event.Token.
const WakerToken uint64 = 0

// Interest is the bitmask of readiness a registration cares about.
type Interest uint32

const (
	Readable Interest = 1 << iota
	Writable
	EdgeTriggered
)

func (i Interest) toEpollEvents() uint32 {
	var ev uint32
	if i&Readable != 0 {
		ev |= unix.EPOLLIN
	}
	if i&Writable != 0 {
		ev |= unix.EPOLLOUT
	}
	if i&EdgeTriggered != 0 {
		ev |= unix.EPOLLET
	}
	return ev
}

// Event is one readiness notification returned by Wait.
type Event struct {
	Token    uint64
	Readable bool
	Writable bool
	Error    bool
}

// Poller owns one epoll instance and its waker.
type Poller struct {
	epfd  int
	waker *Waker

	mu     sync.Mutex
	nextID uint64
}

// New creates a Poller with its waker pre-registered under WakerToken.
func New() (*Poller, liberr.Error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, liberr.New(CodeCreateFailed.Uint16(), "epoll_create1: "+err.Error())
	}

	p := &Poller{epfd: epfd, nextID: WakerToken + 1}

	w, werr := newWaker(epfd)
	if werr != nil {
		_ = unix.Close(epfd)
		return nil, werr
	}
	p.waker = w

	return p, nil
}

// NextToken allocates a fresh token, unique within this Poller, for Register.
func (p *Poller) NextToken() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.nextID
	p.nextID++
	return t
}

// Register adds fd to the interest set under token.
func (p *Poller) Register(fd int, token uint64, interest Interest) liberr.Error {
	ev := &unix.EpollEvent{Events: interest.toEpollEvents(), Fd: int32(fd)}
	ev.SetUint64(token)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		return liberr.New(CodeCtlFailed.Uint16(), "epoll_ctl add: "+err.Error())
	}
	return nil
}

// Reregister updates the interest set for an already-registered fd.
func (p *Poller) Reregister(fd int, token uint64, interest Interest) liberr.Error {
	ev := &unix.EpollEvent{Events: interest.toEpollEvents(), Fd: int32(fd)}
	ev.SetUint64(token)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return liberr.New(CodeCtlFailed.Uint16(), "epoll_ctl mod: "+err.Error())
	}
	return nil
}

// Deregister removes fd from the interest set.
func (p *Poller) Deregister(fd int) liberr.Error {
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return liberr.New(CodeCtlFailed.Uint16(), "epoll_ctl del: "+err.Error())
	}
	return nil
}

// Wait blocks until at least one registered fd is ready or the waker fires,
// appending ready events to out (reused across calls to avoid allocation)
// and returning the slice. timeoutMs < 0 blocks indefinitely.
func (p *Poller) Wait(out []Event, timeoutMs int) ([]Event, liberr.Error) {
	var raw [256]unix.EpollEvent

	n, err := unix.EpollWait(p.epfd, raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return out[:0], nil
		}
		return out[:0], liberr.New(CodeWaitFailed.Uint16(), "epoll_wait: "+err.Error())
	}

	out = out[:0]
	for i := 0; i < n; i++ {
		token := raw[i].Uint64()
		if token == WakerToken {
			p.waker.drain()
			continue
		}
		out = append(out, Event{
			Token:    token,
			Readable: raw[i].Events&(unix.EPOLLIN|unix.EPOLLHUP) != 0,
			Writable: raw[i].Events&unix.EPOLLOUT != 0,
			Error:    raw[i].Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0,
		})
	}
	return out, nil
}

// Waker returns the Poller's wake handle, shared by any goroutine that needs
// to interrupt a blocked Wait (e.g. the queues package on enqueue).
func (p *Poller) Waker() *Waker {
	return p.waker
}

// Close releases the epoll fd and the waker's eventfd.
func (p *Poller) Close() error {
	_ = p.waker.close()
	return unix.Close(p.epfd)
}
