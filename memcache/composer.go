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
	"strconv"

	libproto "github.com/sabouaram/segcached/protocol"
)

// Composer implements protocol.Composer[Response] for the memcache text dialect.
type Composer struct{}

var _ libproto.Composer[Response] = Composer{}

func (Composer) Compose(msg Response, w libproto.Writer) error {
	for _, v := range msg.Values {
		if err := writeValueLine(w, v); err != nil {
			return err
		}
	}

	if msg.WithEnd {
		if _, err := w.Write([]byte("END\r\n")); err != nil {
			return err
		}
	}

	if msg.HasNumber {
		if _, err := w.Write([]byte(strconv.FormatUint(msg.Number, 10))); err != nil {
			return err
		}
		if _, err := w.Write(crlf); err != nil {
			return err
		}
	}

	if msg.Status != StatusNone {
		line := msg.Status.wire()
		if isErrorStatus(msg.Status) && msg.Message != "" {
			line += " " + msg.Message
		}
		if _, err := w.Write([]byte(line)); err != nil {
			return err
		}
		if _, err := w.Write(crlf); err != nil {
			return err
		}
	}

	return nil
}

func writeValueLine(w libproto.Writer, v ValueLine) error {
	line := "VALUE " + v.Key + " " + strconv.FormatUint(uint64(v.Flags), 10) + " " + strconv.Itoa(len(v.Data))
	if v.HasCas {
		line += " " + strconv.FormatUint(v.Cas, 10)
	}
	if _, err := w.Write([]byte(line)); err != nil {
		return err
	}
	if _, err := w.Write(crlf); err != nil {
		return err
	}
	if _, err := w.Write(v.Data); err != nil {
		return err
	}
	if _, err := w.Write(crlf); err != nil {
		return err
	}
	return nil
}

func isErrorStatus(s Status) bool {
	return s == StatusError || s == StatusClientError || s == StatusServerError
}
