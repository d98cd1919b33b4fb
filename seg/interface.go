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

// Package seg implements the segment-structured storage engine: items are
// appended into fixed-size segments grouped by TTL bucket, indexed by a
// key→(segment, offset, cas) hash table, and reclaimed a whole segment at a
// time when its bucket's quantum elapses. Reclamation is therefore
// O(segments), not O(items) — the engine's reason for existing.
//
// Grounded in the teacher's cache package (RWMutex-guarded map, ticker-driven
// Expire) for the locking and maintenance shape, generalized from a single
// flat map into the segment/bucket/hash-table layout this engine needs, and
// in the atomic package's monotonic counter idiom for cas token generation.
package seg

import (
	"time"

	liberr "github.com/sabouaram/segcached/errors"
)

const (
	// CodeValueTooLarge is returned when an item cannot fit in one segment.
	CodeValueTooLarge liberr.CodeError = 2000 + iota
	// CodeNotStored identifies a Memcache NOT_STORED outcome. Add, Replace,
	// Append and Prepend report an unmet precondition as a false result,
	// not as an error carrying this code.
	CodeNotStored
	// CodeNotFound identifies a Memcache NOT_FOUND outcome. Incr, Decr,
	// Delete and Cas report a missing key as a false result or CasNotFound,
	// not as an error carrying this code.
	CodeNotFound
	// CodeNotNumeric is returned by incr/decr on a non-numeric value.
	CodeNotNumeric
	// CodeExhausted is returned when the heap has no free segments left.
	CodeExhausted
)

// Config sizes and shapes a Store.
type Config struct {
	// SegmentSize is the byte budget per segment (spec seg.segment_size).
	SegmentSize int
	// HeapSize is the total storage budget in bytes (spec seg.heap_size);
	// divided by SegmentSize it bounds how many segments ever exist.
	HeapSize int64
	// HashPower sizes the hash table hint to 2^HashPower entries (spec
	// seg.hash_power); Go's map grows on demand, so this only pre-sizes it.
	HashPower uint
	// BucketWidth quantizes TTLs into buckets of this width.
	BucketWidth time.Duration
	// Now returns the current wall-clock time; defaults to time.Now.
	Now func() time.Time
}

// Store is the segment engine's operation set, mirroring Memcache command
// semantics per spec.md §4.5.
type Store interface {
	Get(key string) (Item, bool)
	Set(key string, value []byte, flags uint32, ttl time.Duration) liberr.Error
	Add(key string, value []byte, flags uint32, ttl time.Duration) (bool, liberr.Error)
	Replace(key string, value []byte, flags uint32, ttl time.Duration) (bool, liberr.Error)
	Cas(key string, value []byte, flags uint32, ttl time.Duration, cas uint64) (CasResult, liberr.Error)
	Append(key string, value []byte) (bool, liberr.Error)
	Prepend(key string, value []byte) (bool, liberr.Error)
	Incr(key string, delta uint64) (uint64, bool, liberr.Error)
	Decr(key string, delta uint64) (uint64, bool, liberr.Error)
	Delete(key string) bool
	FlushAll()
	// Expire recycles every segment in every bucket whose quantum has
	// elapsed, returning how many segments were reclaimed.
	Expire() int
	Stats() Stats
}

// New returns a Store sized per cfg.
func New(cfg Config) Store {
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = 1 << 20
	}
	if cfg.HeapSize <= 0 {
		cfg.HeapSize = int64(cfg.SegmentSize) * 64
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	total := int(cfg.HeapSize / int64(cfg.SegmentSize))
	if total < 1 {
		total = 1
	}

	hint := 1 << cfg.HashPower
	if cfg.HashPower == 0 || hint <= 0 {
		hint = 1024
	}

	s := &store{
		segSize:     cfg.SegmentSize,
		bucketWidth: cfg.BucketWidth,
		now:         cfg.Now,
		buckets:     make(map[uint32]*bucket),
		hash:        make(map[string]entryRef, hint),
		free:        make([]*segment, 0, total),
		all:         make([]*segment, total),
	}

	for i := 0; i < total; i++ {
		sg := &segment{id: uint32(i)}
		s.all[i] = sg
		s.free = append(s.free, sg)
	}

	return s
}
