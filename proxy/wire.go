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
	"bytes"
	"strconv"
	"strings"

	libmemcache "github.com/sabouaram/segcached/memcache"
)

// encodeRequest re-renders a parsed Request back onto the wire, the mirror
// image of memcache.Parser.Parse, so it can be replayed against a backend
// that speaks the same dialect.
func encodeRequest(req libmemcache.Request) []byte {
	var buf bytes.Buffer

	switch req.Cmd {
	case libmemcache.CmdGet:
		buf.WriteString("get")
		for _, k := range keysOf(req) {
			buf.WriteByte(' ')
			buf.WriteString(k)
		}
		buf.WriteString("\r\n")

	case libmemcache.CmdGets:
		buf.WriteString("gets")
		for _, k := range keysOf(req) {
			buf.WriteByte(' ')
			buf.WriteString(k)
		}
		buf.WriteString("\r\n")

	case libmemcache.CmdDelete:
		buf.WriteString("delete " + req.Key)
		writeNoReply(&buf, req.NoReply)

	case libmemcache.CmdIncr, libmemcache.CmdDecr:
		verb := "incr"
		if req.Cmd == libmemcache.CmdDecr {
			verb = "decr"
		}
		buf.WriteString(verb + " " + req.Key + " " + strconv.FormatUint(req.Delta, 10))
		writeNoReply(&buf, req.NoReply)

	case libmemcache.CmdFlushAll:
		buf.WriteString("flush_all")
		writeNoReply(&buf, req.NoReply)

	case libmemcache.CmdQuit:
		buf.WriteString("quit\r\n")

	default: // set/add/replace/append/prepend/cas carry a data block
		buf.WriteString(req.Cmd.String() + " " + req.Key + " " +
			strconv.FormatUint(uint64(req.Flags), 10) + " " +
			strconv.FormatInt(int64(req.TTL.Seconds()), 10) + " " +
			strconv.Itoa(len(req.Data)))
		if req.Cmd == libmemcache.CmdCas {
			buf.WriteString(" " + strconv.FormatUint(req.Cas, 10))
		}
		writeNoReply(&buf, req.NoReply)
		buf.Write(req.Data)
		buf.WriteString("\r\n")
	}

	return buf.Bytes()
}

func keysOf(req libmemcache.Request) []string {
	if len(req.Keys) > 0 {
		return req.Keys
	}
	return []string{req.Key}
}

func writeNoReply(buf *bytes.Buffer, noreply bool) {
	if noreply {
		buf.WriteString(" noreply")
	}
	buf.WriteString("\r\n")
}

// decodeResponse reads one backend reply from r, mirroring
// memcache.Composer.Compose in reverse. first is the already-read first
// line (without its trailing CRLF).
func decodeResponse(first string, r *bufio.Reader) (libmemcache.Response, error) {
	if strings.HasPrefix(first, "VALUE ") || first == "END" {
		return decodeValues(first, r)
	}

	if n, err := strconv.ParseUint(first, 10, 64); err == nil {
		return libmemcache.Response{HasNumber: true, Number: n}, nil
	}

	return libmemcache.Response{Status: statusFromWire(first)}, nil
}

func decodeValues(first string, r *bufio.Reader) (libmemcache.Response, error) {
	resp := libmemcache.Response{WithEnd: true}
	line := first

	for {
		if line == "END" {
			return resp, nil
		}

		v, err := parseValueLine(line)
		if err != nil {
			return libmemcache.Response{}, err
		}

		data := make([]byte, v.Data)
		if _, err := readFull(r, data); err != nil {
			return libmemcache.Response{}, err
		}
		if _, err := readLineString(r); err != nil { // trailing CRLF after the block
			return libmemcache.Response{}, err
		}

		resp.Values = append(resp.Values, libmemcache.ValueLine{
			Key:    v.Key,
			Flags:  v.Flags,
			Data:   data,
			Cas:    v.Cas,
			HasCas: v.HasCas,
		})

		next, err := readLineString(r)
		if err != nil {
			return libmemcache.Response{}, err
		}
		line = next
	}
}

type valueHeader struct {
	Key    string
	Flags  uint32
	Data   int
	Cas    uint64
	HasCas bool
}

func parseValueLine(line string) (valueHeader, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return valueHeader{}, errMalformed("short VALUE line")
	}
	flags, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return valueHeader{}, err
	}
	length, err := strconv.Atoi(fields[3])
	if err != nil {
		return valueHeader{}, err
	}
	v := valueHeader{Key: fields[1], Flags: uint32(flags), Data: length}
	if len(fields) >= 5 {
		cas, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil {
			return valueHeader{}, err
		}
		v.Cas, v.HasCas = cas, true
	}
	return v, nil
}

func statusFromWire(line string) libmemcache.Status {
	word := line
	if idx := strings.IndexByte(line, ' '); idx >= 0 {
		word = line[:idx]
	}
	switch word {
	case "STORED":
		return libmemcache.StatusStored
	case "NOT_STORED":
		return libmemcache.StatusNotStored
	case "EXISTS":
		return libmemcache.StatusExists
	case "NOT_FOUND":
		return libmemcache.StatusNotFound
	case "DELETED":
		return libmemcache.StatusDeleted
	case "OK":
		return libmemcache.StatusOK
	case "CLIENT_ERROR":
		return libmemcache.StatusClientError
	case "SERVER_ERROR":
		return libmemcache.StatusServerError
	default:
		return libmemcache.StatusError
	}
}

type malformedError string

func (e malformedError) Error() string { return string(e) }

func errMalformed(msg string) error { return malformedError(msg) }

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func readLineString(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
