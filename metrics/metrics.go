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

// Package metrics exposes the server's Prometheus counters/gauges: accept
// errors, queue-full drops, storage op counts, and expirations, each
// incremented from the error taxonomy in spec.md §7.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics groups every counter the server increments.
type Metrics struct {
	AcceptTotal      prometheus.Counter
	AcceptErrors     prometheus.Counter
	HandshakeErrors  prometheus.Counter
	QueueFullDrops   prometheus.Counter
	StorageOps       *prometheus.CounterVec
	StorageErrors    *prometheus.CounterVec
	ExpireReclaims   prometheus.Counter
	SegmentsFree     prometheus.Gauge
	SegmentsTotal    prometheus.Gauge
	KeysLive         prometheus.Gauge
	BytesLive        prometheus.Gauge
}

// New registers every metric against reg and returns the handle set.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AcceptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcached", Name: "accept_total", Help: "accepted connections",
		}),
		AcceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcached", Name: "accept_errors_total", Help: "dropped or failed accepts",
		}),
		HandshakeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcached", Name: "tls_handshake_errors_total", Help: "failed TLS handshakes",
		}),
		QueueFullDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcached", Name: "queue_full_drops_total", Help: "sessions dropped on a full handoff queue",
		}),
		StorageOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segcached", Name: "storage_ops_total", Help: "storage operations by command",
		}, []string{"command"}),
		StorageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "segcached", Name: "storage_errors_total", Help: "storage operation errors by code",
		}, []string{"code"}),
		ExpireReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "segcached", Name: "expire_reclaims_total", Help: "segments reclaimed by expire ticks",
		}),
		SegmentsFree: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcached", Name: "segments_free", Help: "free segments in the heap",
		}),
		SegmentsTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcached", Name: "segments_total", Help: "total segments in the heap",
		}),
		KeysLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcached", Name: "keys_live", Help: "live keys in the hash table",
		}),
		BytesLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "segcached", Name: "bytes_live", Help: "live bytes across all segments",
		}),
	}

	reg.MustRegister(
		m.AcceptTotal, m.AcceptErrors, m.HandshakeErrors, m.QueueFullDrops,
		m.StorageOps, m.StorageErrors, m.ExpireReclaims,
		m.SegmentsFree, m.SegmentsTotal, m.KeysLive, m.BytesLive,
	)

	return m
}
