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
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	libconfig "github.com/sabouaram/segcached/config"
	liberr "github.com/sabouaram/segcached/errors"
	libmemcache "github.com/sabouaram/segcached/memcache"
	libmetrics "github.com/sabouaram/segcached/metrics"
	libmonitor "github.com/sabouaram/segcached/monitor"
	libqueues "github.com/sabouaram/segcached/queues"
	libseg "github.com/sabouaram/segcached/seg"
	libsession "github.com/sabouaram/segcached/session"
)

// Supervisor builds and runs the listener, worker pool, storage ticker, and
// admin HTTP surface, and coordinates their shutdown in reverse dependency
// order: listener, then workers, then storage.
type Supervisor struct {
	cfg *libconfig.Config

	listener *Listener
	workers  []*Worker
	storage  *Storage

	workerQueues  []*libqueues.Queue[*libsession.Session]
	listenerSigs  *libqueues.Queue[Signal]
	workerSigs    []*libqueues.Queue[Signal]
	storageSigs   *libqueues.Queue[Signal]

	admin   *http.Server
	metrics *libmetrics.Metrics
	mon     *libmonitor.Monitor
}

// VersionInfo is served verbatim from the admin /version endpoint; the
// command entry point sets it once at startup from package version.
var VersionInfo = "segcached\n"

// New builds every thread from cfg but does not start them.
func New(cfg *libconfig.Config) (*Supervisor, liberr.Error) {
	reg := prometheus.NewRegistry()
	m := libmetrics.New(reg)
	mon := libmonitor.New(5 * time.Second)

	store := libseg.New(libseg.Config{
		SegmentSize: cfg.Seg.SegmentSize,
		HeapSize:    cfg.Seg.HeapSize,
		HashPower:   cfg.Seg.HashPower,
		BucketWidth: cfg.Seg.BucketWidth.Time(),
	})
	executor := libmemcache.NewExecutor(store)

	tlsCfg, lerr := cfg.TLSConfig()
	if lerr != nil {
		return nil, lerr
	}

	n := cfg.Worker.Threads
	if n <= 0 {
		n = 1
	}

	workerQueues := make([]*libqueues.Queue[*libsession.Session], n)
	workerSigs := make([]*libqueues.Queue[Signal], n)
	workers := make([]*Worker, n)

	for i := 0; i < n; i++ {
		workerQueues[i] = libqueues.New[*libsession.Session](cfg.Server.NEvent, nil)
		workerSigs[i] = libqueues.New[Signal](8, nil)

		w, lerr := NewWorker(i, workerQueues[i], workerSigs[i], executor, cfg.Server.Timeout.Time(), m, mon)
		if lerr != nil {
			return nil, lerr
		}
		workers[i] = w
	}

	listenerSigs := libqueues.New[Signal](8, nil)
	listener, lerr := NewListener(cfg.Server.Address, tlsCfg, cfg.Server.Timeout.Time(), workerQueues, listenerSigs, m, mon)
	if lerr != nil {
		return nil, lerr
	}

	storageSigs := libqueues.New[Signal](8, nil)
	storage := NewStorage(store, storageSigs, cfg.Seg.BucketWidth.Time(), m, mon)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(VersionInfo))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if mon.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unhealthy\n"))
	})
	mux.HandleFunc("/flush_all", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = storageSigs.TrySend(SignalFlushAll)
		w.WriteHeader(http.StatusOK)
	})

	admin := &http.Server{Addr: cfg.Admin.Address, Handler: mux}

	return &Supervisor{
		cfg:          cfg,
		listener:     listener,
		workers:      workers,
		storage:      storage,
		workerQueues: workerQueues,
		listenerSigs: listenerSigs,
		workerSigs:   workerSigs,
		storageSigs:  storageSigs,
		admin:        admin,
		metrics:      m,
		mon:          mon,
	}, nil
}

// Run starts every thread and blocks until SIGTERM or SIGINT, then tears
// threads down listener -> workers -> storage.
func (sv *Supervisor) Run() error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sv.listener.Run()
	}()

	for _, w := range sv.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Run()
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sv.storage.Run()
	}()

	go func() {
		_ = sv.admin.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	log.WithField("signal", sig).Info("shutdown signal received")

	sv.shutdown()
	wg.Wait()
	return nil
}

func (sv *Supervisor) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sv.admin.Shutdown(ctx)

	_ = sv.listenerSigs.TrySend(SignalShutdown)
	_ = sv.listener.Close()

	for _, ws := range sv.workerSigs {
		_ = ws.TrySend(SignalShutdown)
	}

	_ = sv.storageSigs.TrySend(SignalShutdown)
}
