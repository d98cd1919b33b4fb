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

package server

import (
	"time"

	libmetrics "github.com/sabouaram/segcached/metrics"
	libmonitor "github.com/sabouaram/segcached/monitor"
	libqueues "github.com/sabouaram/segcached/queues"
	libseg "github.com/sabouaram/segcached/seg"
)

// Storage drives the periodic Expire() tick and services FlushAll/Shutdown
// signals. seg.Store is internally thread-safe, so workers call it
// directly for request execution (spec.md §4.8's thread-safe path); this
// thread exists only for the maintenance work nothing else drives.
type Storage struct {
	store    libseg.Store
	signals  *libqueues.Queue[Signal]
	interval time.Duration
	metrics  *libmetrics.Metrics
	mon      *libmonitor.Monitor
}

// NewStorage builds a maintenance thread ticking Expire every interval.
func NewStorage(store libseg.Store, signals *libqueues.Queue[Signal], interval time.Duration, m *libmetrics.Metrics, mon *libmonitor.Monitor) *Storage {
	if interval <= 0 {
		interval = time.Second
	}
	return &Storage{store: store, signals: signals, interval: interval, metrics: m, mon: mon}
}

// Run ticks Expire and reports gauges until a Signal.Shutdown arrives.
func (s *Storage) Run() {
	log.WithField("interval", s.interval).Info("storage maintenance ticker started")
	defer log.Info("storage maintenance ticker stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for range ticker.C {
		if s.mon != nil {
			s.mon.Heartbeat("storage")
		}

		reclaimed := s.store.Expire()
		if reclaimed > 0 {
			log.WithField("reclaimed", reclaimed).Debug("expire tick reclaimed segments")
		}
		s.reportStats(reclaimed)

		if s.drainSignals() {
			return
		}
	}
}

func (s *Storage) reportStats(reclaimed int) {
	if s.metrics == nil {
		return
	}
	if reclaimed > 0 {
		s.metrics.ExpireReclaims.Add(float64(reclaimed))
	}
	stats := s.store.Stats()
	s.metrics.SegmentsFree.Set(float64(stats.FreeSegments))
	s.metrics.SegmentsTotal.Set(float64(stats.Segments))
	s.metrics.KeysLive.Set(float64(stats.Keys))
	s.metrics.BytesLive.Set(float64(stats.LiveBytes))
}

func (s *Storage) drainSignals() (shutdown bool) {
	if s.signals == nil {
		return false
	}
	for {
		sig, ok := s.signals.TryRecv()
		if !ok {
			return false
		}
		switch sig {
		case SignalShutdown:
			return true
		case SignalFlushAll:
			s.store.FlushAll()
		}
	}
}
