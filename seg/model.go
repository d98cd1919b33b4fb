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

// itemHeaderSize approximates the per-item bookkeeping overhead (key/value
// length prefixes, flags, cas, expiry) counted against a segment's capacity,
// so "len(item) > segment_size" boundary checks match spec intent even
// though items are Go values, not a packed byte arena.
const itemHeaderSize = 32

// Item is a single cached entry as returned to a caller.
type Item struct {
	Key    string
	Value  []byte
	Flags  uint32
	Cas    uint64
	Expiry int64 // absolute unix seconds; 0 means never-expire
}

func (i Item) size() int {
	return len(i.Key) + len(i.Value) + itemHeaderSize
}

// record is how an item is actually packed inside a segment. Mutation never
// rewrites in place: replace/append/prepend/incr/decr append a fresh record
// and the hash entry is swung to it, so the previous record becomes dead
// weight reclaimed only when its whole segment is recycled.
type record struct {
	item Item
	live bool
	seq  uint64
}

// segment is a fixed-capacity, append-only region holding records that all
// belong to the same TTL bucket.
type segment struct {
	id         uint32
	bucketID   uint32
	generation uint64
	createdAt  int64
	used       int
	liveBytes  int
	liveCount  int
	items      []record

	prev, next *segment
}

func (s *segment) reset(bucketID uint32) {
	s.bucketID = bucketID
	s.generation++
	s.createdAt = 0
	s.used = 0
	s.liveBytes = 0
	s.liveCount = 0
	s.items = s.items[:0]
	s.prev = nil
	s.next = nil
}

// bucket groups segments that all expire within one quantum.
type bucket struct {
	id       uint32
	endpoint int64 // 0 means never scanned (the ttl=0 bucket)
	head     *segment
	tail     *segment
}

func (b *bucket) append(s *segment) {
	s.prev = b.tail
	s.next = nil
	if b.tail != nil {
		b.tail.next = s
	} else {
		b.head = s
	}
	b.tail = s
}

// entryRef is the hash table's value: a pointer into a segment, stamped
// with the segment's generation at write time so a recycle is detectable
// without scanning every entry.
type entryRef struct {
	segID      uint32
	offset     int
	cas        uint64
	generation uint64
}

// CasResult is the outcome of a compare-and-swap mutation.
type CasResult uint8

const (
	CasStored CasResult = iota
	CasNotFound
	CasExists
)

// Stats is a point-in-time snapshot of storage occupancy, read by the
// storage thread to update the metrics gauges.
type Stats struct {
	Segments        int
	FreeSegments    int
	Buckets         int
	Keys            int
	LiveBytes       int64
	ExpiredReclaims uint64
}
