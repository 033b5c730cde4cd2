// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes mount-lifetime counters over Prometheus's
// text format: node count, block count, and the BufferedReader
// advance/rewind/cache-hit counters already tracked per entry. It is
// inert unless a listen address is configured.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/google/mountzip/internal/logger"
)

// Collectors groups the gauges and counters this core reports.
type Collectors struct {
	registry *prometheus.Registry

	NodeCount  prometheus.Gauge
	BlockCount prometheus.Gauge

	ReaderAdvances  prometheus.Counter
	ReaderRewinds   prometheus.Counter
	ReaderCacheHits prometheus.Counter
}

// New creates a fresh registry and registers every collector against it.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		NodeCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mountzip",
			Name:      "node_count",
			Help:      "Number of nodes currently indexed in the projected tree.",
		}),
		BlockCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mountzip",
			Name:      "block_count",
			Help:      "Total 512-byte blocks reported by statfs.",
		}),
		ReaderAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mountzip",
			Name:      "reader_advances_total",
			Help:      "Forward decompression advances across all buffered readers.",
		}),
		ReaderRewinds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mountzip",
			Name:      "reader_rewinds_total",
			Help:      "Stream reopen-and-restart events across all buffered readers.",
		}),
		ReaderCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mountzip",
			Name:      "reader_cache_hits_total",
			Help:      "Reads served from a buffered reader's ring buffer without advancing.",
		}),
	}
	reg.MustRegister(c.NodeCount, c.BlockCount, c.ReaderAdvances, c.ReaderRewinds, c.ReaderCacheHits)
	return c
}

// TreeStats is the subset of Tree's query surface the periodic refresher
// needs; satisfied by *tree.Tree without this package importing tree
// (which itself imports zipsource, datanode, and filenode).
type TreeStats interface {
	GetNodeCount() int64
	GetBlockCount() int64
}

// RefreshFromTree copies the tree's current node/block counts into the
// gauges. Called periodically (or once, for archives that never change
// after mount) by the command that owns both the Tree and the
// Collectors.
func (c *Collectors) RefreshFromTree(t TreeStats) {
	c.NodeCount.Set(float64(t.GetNodeCount()))
	c.BlockCount.Set(float64(t.GetBlockCount()))
}

// ReaderStats is the subset of reader.BufferedReader's counters this
// package aggregates; satisfied without importing internal/reader.
type ReaderStats interface {
	Advances() int
	Rewinds() int
	CacheHits() int
}

// AddReaderStats folds one BufferedReader's lifetime counters into the
// cumulative totals, called when a DataNode releases its cached reader.
func (c *Collectors) AddReaderStats(r ReaderStats) {
	c.ReaderAdvances.Add(float64(r.Advances()))
	c.ReaderRewinds.Add(float64(r.Rewinds()))
	c.ReaderCacheHits.Add(float64(r.CacheHits()))
}

// Serve starts an HTTP server exposing the registry at /metrics on addr,
// returning once ctx is cancelled or the server fails to start.
func (c *Collectors) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		logger.Warnf("metrics server exited: %v", err)
		return err
	}
}
