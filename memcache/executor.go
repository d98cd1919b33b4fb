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
	libproto "github.com/sabouaram/segcached/protocol"
	libseg "github.com/sabouaram/segcached/seg"
)

// Executor implements protocol.Executor[Request, Response] against a seg.Store.
type Executor struct {
	Store libseg.Store
}

var _ libproto.Executor[Request, Response] = Executor{}

func NewExecutor(store libseg.Store) Executor {
	return Executor{Store: store}
}

func (e Executor) Execute(req Request) (Response, bool) {
	switch req.Cmd {
	case CmdGet, CmdGets:
		return e.get(req, req.Cmd == CmdGets), true

	case CmdSet:
		err := e.Store.Set(req.Key, req.Data, req.Flags, req.TTL)
		return e.storedReply(err), !req.NoReply

	case CmdAdd:
		stored, err := e.Store.Add(req.Key, req.Data, req.Flags, req.TTL)
		return e.storeBoolReply(stored, err, StatusNotStored), !req.NoReply

	case CmdReplace:
		stored, err := e.Store.Replace(req.Key, req.Data, req.Flags, req.TTL)
		return e.storeBoolReply(stored, err, StatusNotStored), !req.NoReply

	case CmdCas:
		res, err := e.Store.Cas(req.Key, req.Data, req.Flags, req.TTL, req.Cas)
		return e.casReply(res, err), !req.NoReply

	case CmdAppend:
		stored, err := e.Store.Append(req.Key, req.Data)
		return e.storeBoolReply(stored, err, StatusNotStored), !req.NoReply

	case CmdPrepend:
		stored, err := e.Store.Prepend(req.Key, req.Data)
		return e.storeBoolReply(stored, err, StatusNotStored), !req.NoReply

	case CmdIncr:
		v, found, err := e.Store.Incr(req.Key, req.Delta)
		return e.numericReply(v, found, err), !req.NoReply

	case CmdDecr:
		v, found, err := e.Store.Decr(req.Key, req.Delta)
		return e.numericReply(v, found, err), !req.NoReply

	case CmdDelete:
		found := e.Store.Delete(req.Key)
		status := StatusNotFound
		if found {
			status = StatusDeleted
		}
		return Response{Status: status}, !req.NoReply

	case CmdFlushAll:
		e.Store.FlushAll()
		return Response{Status: StatusOK}, !req.NoReply

	case CmdQuit:
		return Response{}, false

	default:
		return Response{Status: StatusError}, true
	}
}

func (e Executor) get(req Request, withCas bool) Response {
	keys := req.Keys
	if len(keys) == 0 && req.Key != "" {
		keys = []string{req.Key}
	}

	resp := Response{WithEnd: true}
	for _, k := range keys {
		it, ok := e.Store.Get(k)
		if !ok {
			continue
		}
		resp.Values = append(resp.Values, ValueLine{
			Key:    k,
			Flags:  it.Flags,
			Data:   it.Value,
			Cas:    it.Cas,
			HasCas: withCas,
		})
	}
	return resp
}

func (e Executor) storedReply(err error) Response {
	if err != nil {
		return Response{Status: StatusServerError, Message: err.Error()}
	}
	return Response{Status: StatusStored}
}

func (e Executor) storeBoolReply(stored bool, err error, ifNot Status) Response {
	if err != nil {
		return Response{Status: StatusServerError, Message: err.Error()}
	}
	if stored {
		return Response{Status: StatusStored}
	}
	return Response{Status: ifNot}
}

func (e Executor) casReply(res libseg.CasResult, err error) Response {
	if err != nil {
		return Response{Status: StatusServerError, Message: err.Error()}
	}
	switch res {
	case libseg.CasStored:
		return Response{Status: StatusStored}
	case libseg.CasExists:
		return Response{Status: StatusExists}
	default:
		return Response{Status: StatusNotFound}
	}
}

func (e Executor) numericReply(v uint64, found bool, err error) Response {
	if err != nil {
		return Response{Status: StatusClientError, Message: err.Error()}
	}
	if !found {
		return Response{Status: StatusNotFound}
	}
	return Response{Number: v, HasNumber: true}
}
