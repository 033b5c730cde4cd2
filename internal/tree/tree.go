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

// Package tree builds and serves the directory-tree projection of a ZIP
// archive: the Tree builder (spec section 4.6) and TreeQuery (section
// 4.7).
package tree

import (
	"context"
	"path"
	"sync"

	"github.com/jacobsa/gcloud/syncutil"
	"golang.org/x/sync/errgroup"

	"github.com/google/mountzip/internal/clock"
	"github.com/google/mountzip/internal/datanode"
	"github.com/google/mountzip/internal/filenode"
	"github.com/google/mountzip/internal/logger"
	"github.com/google/mountzip/internal/reader"
	"github.com/google/mountzip/internal/zipsource"
)

// Tree owns the by-path and by-original-path indices produced by a
// build, plus the accumulated block/node counts TreeQuery reports.
type Tree struct {
	archive zipsource.Archive
	clk     clock.Clock

	mu             syncutil.InvariantMutex
	root           *filenode.FileNode
	byPath         map[string]*filenode.FileNode
	byOriginalPath map[string]*filenode.FileNode
	dataNodes      []*datanode.DataNode

	blockCount int64
}

func (t *Tree) checkInvariants() {
	if t.root != nil && t.root.Parent != nil {
		panic("tree: root has a parent")
	}
	if n, ok := t.byPath["/"]; !ok || n != t.root {
		panic("tree: root missing from by-path index")
	}
}

func newTree(archive zipsource.Archive, clk clock.Clock) *Tree {
	t := &Tree{
		archive:        archive,
		clk:            clk,
		byPath:         make(map[string]*filenode.FileNode),
		byOriginalPath: make(map[string]*filenode.FileNode),
	}
	t.mu = syncutil.NewInvariantMutex(t.checkInvariants)
	return t
}

// Find looks up the node at path, stripping one trailing slash first
// (the FUSE convention of re-appending "/" for directory lookups).
func (t *Tree) Find(p string) (*filenode.FileNode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	n, ok := t.byPath[p]
	return n, ok
}

// GetBlockCount returns the 512-byte block count accumulated during
// build, used by statfs.
func (t *Tree) GetBlockCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blockCount
}

// GetNodeCount returns the number of indexed nodes, used by statfs's
// file count.
func (t *Tree) GetNodeCount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int64(len(t.byPath))
}

// Root returns the tree's root node.
func (t *Tree) Root() *filenode.FileNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.root
}

// Close releases every cached reader and closes the backing archive.
// Each release runs in its own errgroup goroutine, but a shared mutex
// makes them run one at a time. Per the concurrency model, the indices themselves
// need no explicit teardown order beyond dropping the root reference:
// Go's GC reclaims the forest once nothing outside the Tree references
// it, unlike the original's manual release-by-path-then-by-original-path
// sequence.
//
// onRelease, if given, is called with each reader released this way
// (nodes with no cached reader are skipped) -- the caller's hook for reporting
// per-reader metrics before it goes away, since Tree itself has no
// notion of a metrics collector.
func (t *Tree) Close(ctx context.Context, onRelease ...func(reader.Reader)) error {
	t.mu.Lock()
	nodes := append([]*datanode.DataNode(nil), t.dataNodes...)
	t.mu.Unlock()

	var report func(reader.Reader)
	if len(onRelease) > 0 {
		report = onRelease[0]
	}

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			mu.Lock()
			defer mu.Unlock()
			released := n.ReleaseReader()
			if report != nil && released != nil {
				report(released)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warnf("error releasing cached readers during teardown: %v", err)
	}
	return t.archive.Close()
}

// CreateDir ensures a directory FileNode exists at p, creating any
// missing ancestors, per spec section 4.6.3. It is idempotent: a second
// call with the same path returns the existing node.
func (t *Tree) CreateDir(p string) *filenode.FileNode {
	if existing, ok := t.byPath[p]; ok {
		if existing.IsDir() {
			return existing
		}
		// Displace the non-directory node occupying this path; it will
		// be reattached via collision resolution under a renamed slot.
		delete(t.byPath, p)
		parent := t.CreateDir(path.Dir(p))
		parent.RemoveChild(existing)
		dir := t.installDir(p, parent)
		t.reattachWithCollision(existing, parent)
		return dir
	}

	if p == "/" {
		return t.root
	}
	parent := t.CreateDir(path.Dir(p))
	return t.installDir(p, parent)
}

func (t *Tree) installDir(p string, parent *filenode.FileNode) *filenode.FileNode {
	name := path.Base(p)
	dir := filenode.New(-1, name, parent, datanode.MakeSynthesized(t.clk))
	parent.AddChild(dir)
	parent.Link.IncrementNlink()
	t.byPath[p] = dir
	return dir
}

// reattachWithCollision re-inserts node under parent using the
// collision-resolution naming scheme, since its original slot was just
// taken by a synthesized directory.
func (t *Tree) reattachWithCollision(node *filenode.FileNode, parent *filenode.FileNode) {
	dirPath := parent.Path()
	name := node.Name
	for n := 1; ; n++ {
		candidate := filenode.CollisionName(name, n)
		candidatePath := joinPath(dirPath, candidate)
		if _, exists := t.byPath[candidatePath]; !exists {
			node.Name = candidate
			node.Parent = parent
			parent.AddChild(node)
			t.byPath[candidatePath] = node
			return
		}
	}
}

// insertWithCollision attaches node (already parented) into the by-path
// index at path p, renaming it per spec section 4.6.2 on conflict.
func (t *Tree) insertWithCollision(p string, node *filenode.FileNode) string {
	if _, exists := t.byPath[p]; !exists {
		t.byPath[p] = node
		return p
	}
	existing := t.byPath[p]
	existing.CollisionCount++
	dir := path.Dir(p)
	base := path.Base(p)
	for {
		candidate := filenode.CollisionName(base, existing.CollisionCount)
		candidatePath := joinPath(dir, candidate)
		if _, exists := t.byPath[candidatePath]; !exists {
			node.Name = candidate
			t.byPath[candidatePath] = node
			return candidatePath
		}
		existing.CollisionCount++
	}
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
