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

// Package monitor tracks liveness heartbeats from the listener, worker, and
// storage threads and reports whether every thread has checked in inside
// its allowed staleness window, backing the admin surface's health route.
package monitor

import (
	"sync"
	"time"
)

// Thread names a run loop this process supervises.
type Thread string

const (
	ThreadListener Thread = "listener"
	ThreadWorker   Thread = "worker"
	ThreadStorage  Thread = "storage"
)

// Monitor records the last heartbeat timestamp per named thread.
type Monitor struct {
	mu      sync.RWMutex
	beats   map[string]time.Time
	now     func() time.Time
	maxLate time.Duration
}

// New builds a Monitor that considers a thread dead once its heartbeat is
// older than maxLate.
func New(maxLate time.Duration) *Monitor {
	if maxLate <= 0 {
		maxLate = 5 * time.Second
	}
	return &Monitor{beats: make(map[string]time.Time), now: time.Now, maxLate: maxLate}
}

// Heartbeat records that name checked in just now. Worker and storage
// threads register one name per instance, e.g. "worker-3".
func (m *Monitor) Heartbeat(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beats[name] = m.now()
}

// Status is a point-in-time liveness report for one registered thread.
type Status struct {
	Name  string
	Alive bool
	Since time.Duration
}

// Healthy reports whether every registered thread has beaten inside maxLate.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	for _, ts := range m.beats {
		if now.Sub(ts) > m.maxLate {
			return false
		}
	}
	return true
}

// Report returns a Status per registered thread, for the admin /healthz route.
func (m *Monitor) Report() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	out := make([]Status, 0, len(m.beats))
	for name, ts := range m.beats {
		age := now.Sub(ts)
		out = append(out, Status{Name: name, Alive: age <= m.maxLate, Since: age})
	}
	return out
}
