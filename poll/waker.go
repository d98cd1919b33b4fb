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

package poll

import (
	"encoding/binary"

	"golang.org/x/sys/unix"

	liberr "github.com/sabouaram/segcached/errors"
)

// Waker lets any goroutine interrupt a thread blocked in Poller.Wait by
// writing to an eventfd registered under WakerToken.
type Waker struct {
	fd int
}

func newWaker(epfd int) (*Waker, liberr.Error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, liberr.New(CodeWakerFailed.Uint16(), "eventfd: "+err.Error())
	}

	ev := &unix.EpollEvent{Events: unix.EPOLLIN}
	ev.SetUint64(WakerToken)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		_ = unix.Close(fd)
		return nil, liberr.New(CodeWakerFailed.Uint16(), "epoll_ctl add waker: "+err.Error())
	}

	return &Waker{fd: fd}, nil
}

// Wake causes the next (or an in-flight) Wait on the owning Poller to return.
func (w *Waker) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (w *Waker) drain() {
	var buf [8]byte
	_, _ = unix.Read(w.fd, buf[:])
}

func (w *Waker) close() error {
	return unix.Close(w.fd)
}
