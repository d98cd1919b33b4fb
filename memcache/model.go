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

// Package memcache implements the text-line wire dialect named in spec.md
// §6: get/gets/set/add/replace/cas/append/prepend/incr/decr/delete/
// flush_all/quit, CRLF-framed, against the protocol package's Parse/Compose/
// Execute contracts. Grounded in the teacher's network/protocol enumeration
// style (typed wire constants with String()) and the errors package for
// CLIENT_ERROR/SERVER_ERROR mapping.
package memcache

import "time"

// Command names a memcache wire verb.
type Command uint8

const (
	CmdGet Command = iota
	CmdGets
	CmdSet
	CmdAdd
	CmdReplace
	CmdCas
	CmdAppend
	CmdPrepend
	CmdIncr
	CmdDecr
	CmdDelete
	CmdFlushAll
	CmdQuit
)

func (c Command) String() string {
	switch c {
	case CmdGet:
		return "get"
	case CmdGets:
		return "gets"
	case CmdSet:
		return "set"
	case CmdAdd:
		return "add"
	case CmdReplace:
		return "replace"
	case CmdCas:
		return "cas"
	case CmdAppend:
		return "append"
	case CmdPrepend:
		return "prepend"
	case CmdIncr:
		return "incr"
	case CmdDecr:
		return "decr"
	case CmdDelete:
		return "delete"
	case CmdFlushAll:
		return "flush_all"
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Request is one parsed memcache wire command.
type Request struct {
	Cmd     Command
	Keys    []string // get/gets: one or more keys
	Key     string    // single-key commands
	Flags   uint32
	TTL     time.Duration
	Cas     uint64
	Delta   uint64
	Data    []byte
	NoReply bool
}

// Status is the single-word class of a non-VALUE response line.
type Status uint8

const (
	StatusNone Status = iota
	StatusStored
	StatusNotStored
	StatusExists
	StatusNotFound
	StatusDeleted
	StatusOK
	StatusError
	StatusClientError
	StatusServerError
)

func (s Status) wire() string {
	switch s {
	case StatusStored:
		return "STORED"
	case StatusNotStored:
		return "NOT_STORED"
	case StatusExists:
		return "EXISTS"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusDeleted:
		return "DELETED"
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusClientError:
		return "CLIENT_ERROR"
	case StatusServerError:
		return "SERVER_ERROR"
	default:
		return ""
	}
}

// ValueLine is one VALUE entry of a get/gets response.
type ValueLine struct {
	Key     string
	Flags   uint32
	Data    []byte
	Cas     uint64
	HasCas  bool
}

// Response is the full, possibly multi-line, reply to one Request.
type Response struct {
	Values    []ValueLine
	WithEnd   bool // get/gets always terminate with END
	Status    Status
	Message   string // detail text for *_ERROR statuses
	Number    uint64
	HasNumber bool
}
