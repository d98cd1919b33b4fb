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

package seg

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	liberr "github.com/sabouaram/segcached/errors"
)

// neverBucket holds ttl=0 items; it is never scanned by Expire.
const neverBucket uint32 = 0xffffffff

type store struct {
	mu sync.RWMutex

	segSize     int
	bucketWidth time.Duration
	now         func() time.Time

	buckets map[uint32]*bucket
	hash    map[string]entryRef

	free []*segment
	all  []*segment

	casSeq   uint64
	reclaims uint64

	// installSeq stamps every record at install time; flushSeq is the
	// installSeq value as of the last flush_all. lookup treats any record
	// with seq <= flushSeq as already gone, so a flush hides every item
	// that existed at flush time immediately, without waiting for the next
	// Expire() tick to physically recycle its bucket.
	installSeq uint64
	flushSeq   uint64
}

func (s *store) nextCas() uint64 {
	return atomic.AddUint64(&s.casSeq, 1)
}

func (s *store) nextSeq() uint64 {
	s.installSeq++
	return s.installSeq
}

func (s *store) bucketIDFor(ttl time.Duration) uint32 {
	if ttl <= 0 {
		return neverBucket
	}
	width := int64(s.bucketWidth / time.Second)
	if width < 1 {
		width = 1
	}
	return uint32(s.now().Add(ttl).Unix() / width)
}

func (s *store) bucketFor(id uint32, ttl time.Duration) *bucket {
	b, ok := s.buckets[id]
	if ok {
		return b
	}
	b = &bucket{id: id}
	if id != neverBucket {
		b.endpoint = s.now().Add(ttl).Unix()
	}
	s.buckets[id] = b
	return b
}

func (s *store) allocSegment() *segment {
	if len(s.free) == 0 {
		return nil
	}
	n := len(s.free) - 1
	sg := s.free[n]
	s.free = s.free[:n]
	return sg
}

// openSegment returns a segment in bucket b with room for need bytes,
// opening a fresh one (recycled from the free list) when the current tail
// is full or absent.
func (s *store) openSegment(b *bucket, need int) *segment {
	if b.tail != nil && b.tail.used+need <= s.segSize {
		return b.tail
	}

	sg := s.allocSegment()
	if sg == nil {
		return nil
	}

	sg.reset(b.id)
	sg.createdAt = s.now().Unix()
	b.append(sg)
	return sg
}

func (s *store) lookup(key string) (Item, entryRef, bool) {
	ref, ok := s.hash[key]
	if !ok {
		return Item{}, entryRef{}, false
	}

	sg := s.all[ref.segID]
	if sg.generation != ref.generation || ref.offset >= len(sg.items) {
		delete(s.hash, key)
		return Item{}, entryRef{}, false
	}

	rec := sg.items[ref.offset]
	if !rec.live {
		delete(s.hash, key)
		return Item{}, entryRef{}, false
	}

	if rec.seq <= s.flushSeq {
		delete(s.hash, key)
		rec.live = false
		sg.items[ref.offset] = rec
		sg.liveCount--
		sg.liveBytes -= rec.item.size()
		return Item{}, entryRef{}, false
	}

	if rec.item.Expiry != 0 && rec.item.Expiry <= s.now().Unix() {
		delete(s.hash, key)
		rec.live = false
		sg.items[ref.offset] = rec
		sg.liveCount--
		sg.liveBytes -= rec.item.size()
		return Item{}, entryRef{}, false
	}

	return rec.item, ref, true
}

// install appends it as a new record in the bucket matching ttl, and swings
// the hash entry to it; any previous record for the key becomes dead
// weight in its own segment. Returns ValueTooLarge if it cannot fit in any
// fresh segment, Exhausted if the heap has no free segments left.
func (s *store) install(it Item, ttl time.Duration) liberr.Error {
	need := it.size()
	if need > s.segSize {
		return liberr.New(CodeValueTooLarge.Uint16(), "item exceeds segment size")
	}

	bid := s.bucketIDFor(ttl)
	b := s.bucketFor(bid, ttl)

	sg := s.openSegment(b, need)
	if sg == nil {
		return liberr.New(CodeExhausted.Uint16(), "storage heap exhausted")
	}

	offset := len(sg.items)
	sg.items = append(sg.items, record{item: it, live: true, seq: s.nextSeq()})
	sg.used += need
	sg.liveBytes += need
	sg.liveCount++

	if old, ok := s.hash[it.Key]; ok {
		osg := s.all[old.segID]
		if osg.generation == old.generation && old.offset < len(osg.items) {
			oldRec := osg.items[old.offset]
			if oldRec.live {
				oldRec.live = false
				osg.items[old.offset] = oldRec
				osg.liveCount--
				osg.liveBytes -= oldRec.item.size()
			}
		}
	}

	s.hash[it.Key] = entryRef{segID: sg.id, offset: offset, cas: it.Cas, generation: sg.generation}
	return nil
}

func (s *store) Get(key string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, _, ok := s.lookup(key)
	return it, ok
}

func (s *store) Set(key string, value []byte, flags uint32, ttl time.Duration) liberr.Error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := Item{Key: key, Value: value, Flags: flags, Cas: s.nextCas(), Expiry: expiryFor(s.now(), ttl)}
	return s.install(it, ttl)
}

func (s *store) Add(key string, value []byte, flags uint32, ttl time.Duration) (bool, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, ok := s.lookup(key); ok {
		return false, nil
	}

	it := Item{Key: key, Value: value, Flags: flags, Cas: s.nextCas(), Expiry: expiryFor(s.now(), ttl)}
	if err := s.install(it, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (s *store) Replace(key string, value []byte, flags uint32, ttl time.Duration) (bool, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, _, ok := s.lookup(key); !ok {
		return false, nil
	}

	it := Item{Key: key, Value: value, Flags: flags, Cas: s.nextCas(), Expiry: expiryFor(s.now(), ttl)}
	if err := s.install(it, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (s *store) Cas(key string, value []byte, flags uint32, ttl time.Duration, cas uint64) (CasResult, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _, ok := s.lookup(key)
	if !ok {
		return CasNotFound, nil
	}
	if cur.Cas != cas {
		return CasExists, nil
	}

	it := Item{Key: key, Value: value, Flags: flags, Cas: s.nextCas(), Expiry: expiryFor(s.now(), ttl)}
	if err := s.install(it, ttl); err != nil {
		return CasNotFound, err
	}
	return CasStored, nil
}

func (s *store) concat(key string, value []byte, prepend bool) (bool, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _, ok := s.lookup(key)
	if !ok {
		return false, nil
	}

	var merged []byte
	if prepend {
		merged = append(append([]byte{}, value...), cur.Value...)
	} else {
		merged = append(append([]byte{}, cur.Value...), value...)
	}

	ttl := ttlFromExpiry(s.now(), cur.Expiry)
	it := Item{Key: key, Value: merged, Flags: cur.Flags, Cas: s.nextCas(), Expiry: cur.Expiry}
	if err := s.install(it, ttl); err != nil {
		return false, err
	}
	return true, nil
}

func (s *store) Append(key string, value []byte) (bool, liberr.Error) {
	return s.concat(key, value, false)
}

func (s *store) Prepend(key string, value []byte) (bool, liberr.Error) {
	return s.concat(key, value, true)
}

func (s *store) incrDecr(key string, delta uint64, negative bool) (uint64, bool, liberr.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, _, ok := s.lookup(key)
	if !ok {
		return 0, false, nil
	}

	n, err := strconv.ParseUint(string(cur.Value), 10, 64)
	if err != nil {
		return 0, false, liberr.New(CodeNotNumeric.Uint16(), "value is not numeric")
	}

	if negative {
		if delta > n {
			n = 0
		} else {
			n -= delta
		}
	} else {
		n += delta
	}

	ttl := ttlFromExpiry(s.now(), cur.Expiry)
	it := Item{Key: key, Value: []byte(strconv.FormatUint(n, 10)), Flags: cur.Flags, Cas: s.nextCas(), Expiry: cur.Expiry}
	if ierr := s.install(it, ttl); ierr != nil {
		return 0, false, ierr
	}
	return n, true, nil
}

func (s *store) Incr(key string, delta uint64) (uint64, bool, liberr.Error) {
	return s.incrDecr(key, delta, false)
}

func (s *store) Decr(key string, delta uint64) (uint64, bool, liberr.Error) {
	return s.incrDecr(key, delta, true)
}

func (s *store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref, ok := s.hash[key]
	if !ok {
		return false
	}

	sg := s.all[ref.segID]
	if sg.generation == ref.generation && ref.offset < len(sg.items) {
		rec := sg.items[ref.offset]
		if rec.live {
			rec.live = false
			sg.items[ref.offset] = rec
			sg.liveCount--
			sg.liveBytes -= rec.item.size()
		}
	}
	delete(s.hash, key)
	return true
}

func (s *store) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Every record installed up to and including this point becomes
	// unreachable to lookup immediately, regardless of which bucket or
	// segment it lives in; get(key) must miss right after flush_all, not
	// after the next Expire() tick recycles its bucket.
	s.flushSeq = s.installSeq

	now := s.now().Unix()
	for _, b := range s.buckets {
		if b.id != neverBucket && b.endpoint > now {
			b.endpoint = now
		}
	}
	// the never bucket has no endpoint to bring forward; bring its physical
	// recycle (segment/free-list reclaim) forward to now too, same as the
	// other buckets' Expire() tick will do for them.
	if b, ok := s.buckets[neverBucket]; ok {
		s.recycleBucket(b)
	}
}

func (s *store) recycleBucket(b *bucket) int {
	count := 0
	for sg := b.head; sg != nil; {
		next := sg.next
		for i := range sg.items {
			if sg.items[i].live {
				delete(s.hash, sg.items[i].item.Key)
			}
		}
		sg.reset(0)
		s.free = append(s.free, sg)
		count++
		sg = next
	}
	b.head, b.tail = nil, nil
	return count
}

func (s *store) Expire() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().Unix()
	reclaimed := 0

	for id, b := range s.buckets {
		if id == neverBucket || b.endpoint > now {
			continue
		}
		reclaimed += s.recycleBucket(b)
		delete(s.buckets, id)
	}

	s.reclaims += uint64(reclaimed)
	return reclaimed
}

func (s *store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live int64
	for _, sg := range s.all {
		live += int64(sg.liveBytes)
	}

	return Stats{
		Segments:        len(s.all),
		FreeSegments:    len(s.free),
		Buckets:         len(s.buckets),
		Keys:            len(s.hash),
		LiveBytes:       live,
		ExpiredReclaims: s.reclaims,
	}
}

func expiryFor(now time.Time, ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return now.Add(ttl).Unix()
}

func ttlFromExpiry(now time.Time, expiry int64) time.Duration {
	if expiry == 0 {
		return 0
	}
	d := time.Unix(expiry, 0).Sub(now)
	if d <= 0 {
		return time.Millisecond
	}
	return d
}
