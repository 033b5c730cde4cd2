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

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTreeStats struct {
	nodes, blocks int64
}

func (f fakeTreeStats) GetNodeCount() int64  { return f.nodes }
func (f fakeTreeStats) GetBlockCount() int64 { return f.blocks }

type fakeReaderStats struct {
	advances, rewinds, cacheHits int
}

func (f fakeReaderStats) Advances() int  { return f.advances }
func (f fakeReaderStats) Rewinds() int   { return f.rewinds }
func (f fakeReaderStats) CacheHits() int { return f.cacheHits }

func TestRefreshFromTreeSetsGauges(t *testing.T) {
	c := New()
	c.RefreshFromTree(fakeTreeStats{nodes: 12, blocks: 34})

	assert.Equal(t, float64(12), testutil.ToFloat64(c.NodeCount))
	assert.Equal(t, float64(34), testutil.ToFloat64(c.BlockCount))
}

func TestAddReaderStatsAccumulates(t *testing.T) {
	c := New()
	c.AddReaderStats(fakeReaderStats{advances: 3, rewinds: 1, cacheHits: 7})
	c.AddReaderStats(fakeReaderStats{advances: 2, rewinds: 0, cacheHits: 1})

	assert.Equal(t, float64(5), testutil.ToFloat64(c.ReaderAdvances))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.ReaderRewinds))
	assert.Equal(t, float64(8), testutil.ToFloat64(c.ReaderCacheHits))
}

func TestMetricsHandlerReportsRegisteredGauges(t *testing.T) {
	c := New()
	c.RefreshFromTree(fakeTreeStats{nodes: 1, blocks: 2})

	srv := httptest.NewServer(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "mountzip_node_count 1")
	assert.Contains(t, string(body), "mountzip_block_count 2")
}
