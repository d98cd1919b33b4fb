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
	libmetrics "github.com/sabouaram/segcached/metrics"
	libmonitor "github.com/sabouaram/segcached/monitor"
	libqueues "github.com/sabouaram/segcached/queues"
	libserver "github.com/sabouaram/segcached/server"
	libsession "github.com/sabouaram/segcached/session"
)

// Supervisor runs the proxy deployment mode: the same listener/worker split
// as the cache server, but every worker's Executor forwards to a remote
// backend through a Pool instead of touching a local seg.Store — there is
// no storage thread to supervise (spec.md §9).
type Supervisor struct {
	listener *libserver.Listener
	workers  []*libserver.Worker
	pool     *Pool

	workerQueues []*libqueues.Queue[*libsession.Session]
	listenerSigs *libqueues.Queue[libserver.Signal]
	workerSigs   []*libqueues.Queue[libserver.Signal]

	admin   *http.Server
	metrics *libmetrics.Metrics
	mon     *libmonitor.Monitor
}

// VersionInfo is served verbatim from the admin /version endpoint; the
// command entry point sets it once at startup from package version.
var VersionInfo = "segproxy\n"

// New builds every thread from cfg but does not start them.
func New(cfg *libconfig.ProxyConfig) (*Supervisor, liberr.Error) {
	reg := prometheus.NewRegistry()
	m := libmetrics.New(reg)
	mon := libmonitor.New(5 * time.Second)

	pool := NewPool(cfg.Backend.Address, cfg.Backend.PoolSize)
	executor := NewExecutor(pool, cfg.Backend.Deadline.Time())

	tlsCfg, lerr := cfg.TLSConfig()
	if lerr != nil {
		return nil, lerr
	}

	n := cfg.Worker.Threads
	if n <= 0 {
		n = 1
	}

	workerQueues := make([]*libqueues.Queue[*libsession.Session], n)
	workerSigs := make([]*libqueues.Queue[libserver.Signal], n)
	workers := make([]*libserver.Worker, n)

	for i := 0; i < n; i++ {
		workerQueues[i] = libqueues.New[*libsession.Session](cfg.Server.NEvent, nil)
		workerSigs[i] = libqueues.New[libserver.Signal](8, nil)

		w, lerr := libserver.NewWorker(i, workerQueues[i], workerSigs[i], executor, cfg.Server.Timeout.Time(), m, mon)
		if lerr != nil {
			return nil, lerr
		}
		workers[i] = w
	}

	listenerSigs := libqueues.New[libserver.Signal](8, nil)
	listener, lerr := libserver.NewListener(cfg.Server.Address, tlsCfg, cfg.Server.Timeout.Time(), workerQueues, listenerSigs, m, mon)
	if lerr != nil {
		return nil, lerr
	}

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

	admin := &http.Server{Addr: cfg.Admin.Address, Handler: mux}

	return &Supervisor{
		listener:     listener,
		workers:      workers,
		pool:         pool,
		workerQueues: workerQueues,
		listenerSigs: listenerSigs,
		workerSigs:   workerSigs,
		admin:        admin,
		metrics:      m,
		mon:          mon,
	}, nil
}

// Run starts every thread and blocks until SIGTERM/SIGINT, then tears down
// listener -> workers -> backend pool.
func (sv *Supervisor) Run() error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		sv.listener.Run()
	}()

	for _, w := range sv.workers {
		wg.Add(1)
		go func(w *libserver.Worker) {
			defer wg.Done()
			w.Run()
		}(w)
	}

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

	_ = sv.listenerSigs.TrySend(libserver.SignalShutdown)
	_ = sv.listener.Close()

	for _, ws := range sv.workerSigs {
		_ = ws.TrySend(libserver.SignalShutdown)
	}

	sv.pool.Close()
}
