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

// Package filenode implements FileNode, the directory-tree node that
// names one entry in the mounted filesystem and points at the DataNode
// holding its inode data.
package filenode

import (
	"io/fs"
	"strconv"
	"strings"

	"github.com/google/mountzip/internal/datanode"
)

// FileNode is one named entry in the tree. For a primary entry, Data is
// the DataNode this node owns and Link points at the same value; for a
// hardlink, Data is nil and Link points at the target's DataNode.
type FileNode struct {
	ID   int // ZIP entry index if directly represented, -1 if synthesized
	Name string
	Parent *FileNode

	Data *datanode.DataNode
	Link *datanode.DataNode

	// OriginalPath is the raw ZIP name with any trailing slash stripped,
	// used as the hardlink lookup key during the tree builder's second
	// pass.
	OriginalPath string

	Children []*FileNode

	// CollisionCount disambiguates repeated insertion attempts at the
	// same path; see the tree builder's name-collision resolution.
	CollisionCount int
}

// New creates a FileNode named name under parent, pointing at data as
// both its owned and effective DataNode (i.e. a primary entry, not a
// hardlink).
func New(id int, name string, parent *FileNode, data *datanode.DataNode) *FileNode {
	return &FileNode{
		ID:     id,
		Name:   name,
		Parent: parent,
		Data:   data,
		Link:   data,
	}
}

// NewHardlink creates a FileNode named name under parent whose effective
// DataNode is target's, without owning a DataNode of its own.
func NewHardlink(id int, name string, parent *FileNode, target *datanode.DataNode) *FileNode {
	return &FileNode{
		ID:     id,
		Name:   name,
		Parent: parent,
		Link:   target,
	}
}

// AddChild inserts child at the head of n's child list. child.Parent must
// already be n.
func (n *FileNode) AddChild(child *FileNode) {
	if child.Parent != n {
		panic("filenode: AddChild called with child whose Parent is not the receiver")
	}
	n.Children = append([]*FileNode{child}, n.Children...)
}

// RemoveChild detaches child from n's child list, used when the tree
// builder displaces a node during collision resolution.
func (n *FileNode) RemoveChild(child *FileNode) {
	for i, c := range n.Children {
		if c == child {
			n.Children = append(n.Children[:i], n.Children[i+1:]...)
			return
		}
	}
}

// Path recursively concatenates the parent chain's names, joined by "/",
// with the root ("/" with a nil Parent) yielding "/".
func (n *FileNode) Path() string {
	if n.Parent == nil {
		return "/"
	}
	parentPath := n.Parent.Path()
	if parentPath == "/" {
		return "/" + n.Name
	}
	return parentPath + "/" + n.Name
}

// Type returns the file-type bits of the effective DataNode's mode.
func (n *FileNode) Type() fs.FileMode {
	return n.Link.Mode.Type()
}

// IsDir reports whether this node names a directory.
func (n *FileNode) IsDir() bool {
	return n.Link.Mode.IsDir()
}

// IsRoot reports whether n is the tree root.
func (n *FileNode) IsRoot() bool {
	return n.Parent == nil
}

// splitExt splits name into (stem, ext) on the last '.', with ext
// including the leading dot; ext is empty if name has no '.' or starts
// with one in its entirety (e.g. ".bashrc" has no ext under this rule,
// matching a typical Unix notion of "dotfile, not extension").
func splitExt(name string) (stem, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx <= 0 {
		return name, ""
	}
	return name[:idx], name[idx:]
}

// CollisionName computes the "<stem> (N)<ext>" disambiguated name used
// by the tree builder's name-collision resolution (spec section 4.6.2).
func CollisionName(name string, n int) string {
	stem, ext := splitExt(name)
	return stem + " (" + strconv.Itoa(n) + ")" + ext
}
