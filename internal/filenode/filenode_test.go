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

package filenode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/google/mountzip/internal/clock"
	"github.com/google/mountzip/internal/datanode"
)

func dirData() *datanode.DataNode {
	return datanode.MakeSynthesized(clock.NewFakeClock(time.Now()))
}

func TestPathRoot(t *testing.T) {
	root := New(-1, "/", nil, dirData())
	assert.Equal(t, "/", root.Path())
}

func TestPathNested(t *testing.T) {
	root := New(-1, "/", nil, dirData())
	a := New(-1, "a", root, dirData())
	b := New(0, "b", a, dirData())
	assert.Equal(t, "/a/b", b.Path())
}

func TestAddChildPanicsOnWrongParent(t *testing.T) {
	root := New(-1, "/", nil, dirData())
	other := New(-1, "/", nil, dirData())
	child := New(0, "x", other, dirData())
	assert.Panics(t, func() { root.AddChild(child) })
}

func TestAddAndRemoveChild(t *testing.T) {
	root := New(-1, "/", nil, dirData())
	child := New(0, "x", root, dirData())
	root.AddChild(child)
	assert.Len(t, root.Children, 1)
	root.RemoveChild(child)
	assert.Len(t, root.Children, 0)
}

func TestHardlinkSharesDataNode(t *testing.T) {
	target := dirData()
	root := New(-1, "/", nil, dirData())
	primary := New(0, "primary", root, target)
	link := NewHardlink(1, "link", root, primary.Link)
	assert.Same(t, primary.Link, link.Link)
	assert.Nil(t, link.Data)
}

func TestCollisionNamePreservesExtension(t *testing.T) {
	assert.Equal(t, "report (1).txt", CollisionName("report.txt", 1))
	assert.Equal(t, "README (2)", CollisionName("README", 2))
	assert.Equal(t, ".bashrc (1)", CollisionName(".bashrc", 1))
}

func TestIsDir(t *testing.T) {
	root := New(-1, "/", nil, dirData())
	assert.True(t, root.IsDir())
}

func TestIsRoot(t *testing.T) {
	root := New(-1, "/", nil, dirData())
	child := New(0, "x", root, dirData())
	assert.True(t, root.IsRoot())
	assert.False(t, child.IsRoot())
}
