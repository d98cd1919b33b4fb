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

// Package protocol declares the wire-format-agnostic contracts a cache
// front-end speaks: Parse turns bytes into a typed request, Compose appends
// a typed response onto an outbound buffer, and Execute applies a request to
// a storage backend. Concrete dialects (package memcache) implement these
// contracts; the runtime (package server) holds its Executor through this
// package's contract and uses the memcache parser and composer directly.
package protocol

import (
	liberr "github.com/sabouaram/segcached/errors"
)

// Kind enumerates the reason Parse could not return a message.
type Kind uint8

const (
	// KindOK means a message was fully parsed.
	KindOK Kind = iota
	// KindIncomplete means more bytes may complete the message.
	KindIncomplete
	// KindInvalid means the bytes can never parse as this dialect.
	KindInvalid
	// KindUnknown means the bytes are well-formed but name an unsupported command.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindOK:
		return "ok"
	case KindIncomplete:
		return "incomplete"
	case KindInvalid:
		return "invalid"
	case KindUnknown:
		return "unknown"
	default:
		return "unrecognized"
	}
}

const (
	// CodeIncomplete is returned alongside Kind == KindIncomplete.
	CodeIncomplete liberr.CodeError = 1000 + iota
	// CodeInvalid is returned alongside Kind == KindInvalid.
	CodeInvalid
	// CodeUnknown is returned alongside Kind == KindUnknown.
	CodeUnknown
	// CodeValueTooLarge is returned when a SET-class request exceeds segment capacity.
	CodeValueTooLarge
)

// Outcome is the result of a single Parse call.
type Outcome[T any] struct {
	Message  T
	Consumed int
	Kind     Kind
}

// Parser turns a byte slice into one typed message, reporting how many
// leading bytes were consumed. It never blocks and never retains the slice.
type Parser[T any] interface {
	Parse(b []byte) (Outcome[T], liberr.Error)
}

// Writer is the minimal sink Compose appends wire bytes to; package session
// satisfies it directly via its outbound buffer.
type Writer interface {
	Write(p []byte) (n int, err error)
}

// Composer appends the wire-form of a response onto w. Composition is
// infallible given adequate buffer capacity; the only error path is the
// underlying Writer refusing the bytes.
type Composer[T any] interface {
	Compose(msg T, w Writer) error
}

// Executor applies a request to storage and returns the response to
// compose, or ok == false when the client asked for no reply (noreply).
type Executor[Req any, Resp any] interface {
	Execute(req Req) (resp Resp, ok bool)
}
