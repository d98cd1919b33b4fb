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

package memcache

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	liberr "github.com/sabouaram/segcached/errors"
	libproto "github.com/sabouaram/segcached/protocol"
)

// Parser implements protocol.Parser[Request] for the memcache text dialect.
type Parser struct{}

var _ libproto.Parser[Request] = Parser{}

var crlf = []byte("\r\n")

func (Parser) Parse(b []byte) (libproto.Outcome[Request], liberr.Error) {
	idx := bytes.Index(b, crlf)
	if idx < 0 {
		return incomplete[Request](), nil
	}

	line := string(b[:idx])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return invalid[Request]("empty command line")
	}

	verb := strings.ToLower(fields[0])
	lineLen := idx + len(crlf)

	switch verb {
	case "get", "gets":
		if len(fields) < 2 {
			return invalid[Request]("missing key")
		}
		return libproto.Outcome[Request]{
			Message:  Request{Cmd: pick(verb == "gets", CmdGets, CmdGet), Keys: fields[1:]},
			Consumed: lineLen,
			Kind:     libproto.KindOK,
		}, nil

	case "delete":
		if len(fields) < 2 {
			return invalid[Request]("missing key")
		}
		return ok(Request{Cmd: CmdDelete, Key: fields[1], NoReply: hasNoReply(fields[2:])}, lineLen), nil

	case "incr", "decr":
		if len(fields) < 3 {
			return invalid[Request]("incr/decr requires key and delta")
		}
		delta, err := strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return invalid[Request]("delta is not numeric")
		}
		cmd := CmdIncr
		if verb == "decr" {
			cmd = CmdDecr
		}
		return ok(Request{Cmd: cmd, Key: fields[1], Delta: delta, NoReply: hasNoReply(fields[3:])}, lineLen), nil

	case "flush_all":
		return ok(Request{Cmd: CmdFlushAll, NoReply: hasNoReply(fields[1:])}, lineLen), nil

	case "quit":
		return ok(Request{Cmd: CmdQuit}, lineLen), nil

	case "set", "add", "replace", "append", "prepend", "cas":
		return parseStorage(verb, fields, b, lineLen)

	default:
		return libproto.Outcome[Request]{Kind: libproto.KindUnknown, Consumed: lineLen}, nil
	}
}

func parseStorage(verb string, fields []string, b []byte, lineLen int) (libproto.Outcome[Request], liberr.Error) {
	isCas := verb == "cas"
	minFields := 5
	if isCas {
		minFields = 6
	}
	if len(fields) < minFields {
		return invalid[Request](verb + " requires key flags exptime bytes")
	}

	key := fields[1]

	flags64, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return invalid[Request]("flags is not numeric")
	}

	exptime, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return invalid[Request]("exptime is not numeric")
	}

	length, err := strconv.Atoi(fields[4])
	if err != nil || length < 0 {
		return invalid[Request]("bytes is not numeric")
	}

	var casToken uint64
	rest := fields[5:]
	if isCas {
		casToken, err = strconv.ParseUint(fields[5], 10, 64)
		if err != nil {
			return invalid[Request]("cas unique is not numeric")
		}
		rest = fields[6:]
	}

	noreply := hasNoReply(rest)

	need := lineLen + length + len(crlf)
	if len(b) < need {
		return incomplete[Request](), nil
	}

	data := b[lineLen : lineLen+length]
	trailer := b[lineLen+length : need]
	if !bytes.Equal(trailer, crlf) {
		return invalid[Request]("data block missing trailing CRLF")
	}

	cmd := verbToCommand(verb)
	return libproto.Outcome[Request]{
		Message: Request{
			Cmd:     cmd,
			Key:     key,
			Flags:   uint32(flags64),
			TTL:     ttlFromExptime(exptime),
			Cas:     casToken,
			Data:    append([]byte{}, data...),
			NoReply: noreply,
		},
		Consumed: need,
		Kind:     libproto.KindOK,
	}, nil
}

func verbToCommand(verb string) Command {
	switch verb {
	case "set":
		return CmdSet
	case "add":
		return CmdAdd
	case "replace":
		return CmdReplace
	case "append":
		return CmdAppend
	case "prepend":
		return CmdPrepend
	case "cas":
		return CmdCas
	default:
		return CmdSet
	}
}

// ttlFromExptime follows Memcache convention: 0 means never, a value over
// 30 days is an absolute unix timestamp, otherwise it is relative seconds.
func ttlFromExptime(exptime int64) time.Duration {
	const thirtyDays = 60 * 60 * 24 * 30
	if exptime == 0 {
		return 0
	}
	if exptime > thirtyDays {
		d := time.Unix(exptime, 0).Sub(time.Now())
		if d < 0 {
			return time.Millisecond
		}
		return d
	}
	return time.Duration(exptime) * time.Second
}

func hasNoReply(rest []string) bool {
	for _, f := range rest {
		if f == "noreply" {
			return true
		}
	}
	return false
}

func pick(cond bool, a, b Command) Command {
	if cond {
		return a
	}
	return b
}

func ok(req Request, consumed int) libproto.Outcome[Request] {
	return libproto.Outcome[Request]{Message: req, Consumed: consumed, Kind: libproto.KindOK}
}

func incomplete[T any]() libproto.Outcome[T] {
	return libproto.Outcome[T]{Kind: libproto.KindIncomplete}
}

func invalid[T any](msg string) (libproto.Outcome[T], liberr.Error) {
	return libproto.Outcome[T]{Kind: libproto.KindInvalid}, liberr.New(libproto.CodeInvalid.Uint16(), msg)
}
