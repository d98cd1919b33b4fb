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
	"net"

	liberr "github.com/sabouaram/segcached/errors"
)

// tcpListenerFd extracts the raw fd behind ln so it can be registered with
// the epoll-backed poll.Poller directly, bypassing the runtime's own
// internal netpoller for this one descriptor.
func tcpListenerFd(ln *net.TCPListener) (int, liberr.Error) {
	raw, err := ln.SyscallConn()
	if err != nil {
		return -1, liberr.New(CodeBindFailed.Uint16(), "SyscallConn: "+err.Error())
	}

	var fd int
	cerr := raw.Control(func(u uintptr) { fd = int(u) })
	if cerr != nil {
		return -1, liberr.New(CodeBindFailed.Uint16(), "raw control: "+cerr.Error())
	}
	return fd, nil
}
