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

package fusefs

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/mountzip/internal/clock"
	"github.com/google/mountzip/internal/extrafield"
	"github.com/google/mountzip/internal/tree"
	"github.com/google/mountzip/internal/zipsource"
)

type fakeEntry struct {
	name  string
	opsys uint8
	attr  uint32
	size  uint64
	mtime time.Time
	data  []byte
	extra map[uint16][]byte
}

type fakeArchive struct {
	entries []fakeEntry
}

func (f *fakeArchive) NumEntries() int       { return len(f.entries) }
func (f *fakeArchive) RawName(id int) []byte { return []byte(f.entries[id].name) }
func (f *fakeArchive) Stat(id int) (zipsource.EntryStat, error) {
	e := f.entries[id]
	return zipsource.EntryStat{Name: e.name, UncompressedSize: e.size, ModTime: e.mtime}, nil
}
func (f *fakeArchive) ExternalAttributes(id int) (uint8, uint32) {
	return f.entries[id].opsys, f.entries[id].attr
}
func (f *fakeArchive) ExtraField(id int, tag uint16, _ extrafield.Location) ([]byte, bool) {
	data, ok := f.entries[id].extra[tag]
	return data, ok
}
func (f *fakeArchive) IsEncrypted(int) bool          { return false }
func (f *fakeArchive) EncryptionSupported(int) bool  { return false }
func (f *fakeArchive) CompressionSupported(int) bool { return true }
func (f *fakeArchive) SetPassword(string)            {}
func (f *fakeArchive) Seekable(int) bool             { return true }
func (f *fakeArchive) Close() error                  { return nil }
func (f *fakeArchive) Open(id int) (io.ReadCloser, error) {
	return io.NopCloser(&sliceReader{data: f.entries[id].data}), nil
}

type sliceReader struct {
	data []byte
	pos  int
}

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

// pkwareTarget builds a minimal PKWARE Unix extra-field payload (the
// 12-byte atime/mtime/uid/gid header, then the raw target bytes) for a
// symlink recorded via the inline-target convention.
func pkwareTarget(target string) []byte {
	buf := make([]byte, 12+len(target))
	copy(buf[12:], target)
	return buf
}

func buildTestTree(t *testing.T) (*fakeArchive, *tree.Tree) {
	t.Helper()
	a := &fakeArchive{entries: []fakeEntry{
		{name: "dir/", opsys: 3, attr: uint32(0o40755) << 16, mtime: time.Unix(100, 0)},
		{name: "dir/hello.txt", opsys: 3, attr: uint32(0o100644) << 16, size: 5, mtime: time.Unix(100, 0), data: []byte("hello")},
	}}
	tr, err := tree.Build(context.Background(), a, tree.Options{}, clock.NewFakeClock(time.Now()))
	require.NoError(t, err)
	return a, tr
}

func TestLookUpInodeMintsAndIncrementsLookupCount(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{})

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(context.Background(), op))
	assert.NotEqual(t, fuseops.InodeID(0), op.Entry.Child)
	assert.True(t, op.Entry.Attributes.Mode.IsDir())

	dirID := op.Entry.Child
	op2 := &fuseops.LookUpInodeOp{Parent: dirID, Name: "hello.txt"}
	require.NoError(t, fs.LookUpInode(context.Background(), op2))
	assert.Equal(t, uint64(5), op2.Entry.Attributes.Size)
}

func TestLookUpInodeMissingNameReturnsENOENT(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{})

	op := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "missing"}
	assert.Error(t, fs.LookUpInode(context.Background(), op))
}

func TestOpenFileAndReadFile(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))
	lookup2 := &fuseops.LookUpInodeOp{Parent: lookup.Entry.Child, Name: "hello.txt"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup2))

	openOp := &fuseops.OpenFileOp{Inode: lookup2.Entry.Child}
	require.NoError(t, fs.OpenFile(context.Background(), openOp))

	readOp := &fuseops.ReadFileOp{Handle: openOp.Handle, Offset: 0, Dst: make([]byte, 16)}
	require.NoError(t, fs.ReadFile(context.Background(), readOp))
	assert.Equal(t, "hello", string(readOp.Dst[:readOp.BytesRead]))

	require.NoError(t, fs.ReleaseFileHandle(context.Background(), &fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}))
}

func TestOpenFileOnDirectoryFails(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))

	err := fs.OpenFile(context.Background(), &fuseops.OpenFileOp{Inode: lookup.Entry.Child})
	assert.Error(t, err)
}

func TestForgetInodeRemovesEntryAtZero(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))
	id := lookup.Entry.Child

	require.NoError(t, fs.ForgetInode(context.Background(), &fuseops.ForgetInodeOp{Inode: id, N: 1}))

	fs.mu.Lock()
	_, ok := fs.inodes[id]
	fs.mu.Unlock()
	assert.False(t, ok)
}

func TestStatFSReportsTreeCounts(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{})

	op := &fuseops.StatFSOp{}
	require.NoError(t, fs.StatFS(context.Background(), op))
	assert.Equal(t, uint64(tr.GetBlockCount()), op.Blocks)
	assert.Equal(t, uint64(tr.GetNodeCount()), op.Inodes)
}

func TestAttributesForAppliesFileMask(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{FileMask: 0o022})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))
	lookup2 := &fuseops.LookUpInodeOp{Parent: lookup.Entry.Child, Name: "hello.txt"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup2))

	assert.Equal(t, os.FileMode(0), lookup2.Entry.Attributes.Mode.Perm()&0o022)
}

func TestReadSymlinkOrdinaryConventionReadsContent(t *testing.T) {
	a := &fakeArchive{entries: []fakeEntry{
		{name: "link", opsys: 3, attr: uint32(0o120777) << 16, size: 7, mtime: time.Unix(100, 0), data: []byte("target1")},
	}}
	tr, err := tree.Build(context.Background(), a, tree.Options{IncludeSymlinks: true}, clock.NewFakeClock(time.Now()))
	require.NoError(t, err)
	fs := New(a, tr, Config{})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "link"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))

	op := &fuseops.ReadSymlinkOp{Inode: lookup.Entry.Child}
	require.NoError(t, fs.ReadSymlink(context.Background(), op))
	assert.Equal(t, "target1", op.Target)
}

func TestReadSymlinkPKWAREInlineConventionReadsExtraField(t *testing.T) {
	a := &fakeArchive{entries: []fakeEntry{
		{
			name:  "link",
			opsys: 3,
			attr:  uint32(0o120777) << 16,
			mtime: time.Unix(100, 0),
			extra: map[uint16][]byte{extrafield.TagPKWAREUnix: pkwareTarget("target2")},
		},
	}}
	tr, err := tree.Build(context.Background(), a, tree.Options{IncludeSymlinks: true}, clock.NewFakeClock(time.Now()))
	require.NoError(t, err)
	fs := New(a, tr, Config{})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "link"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))

	op := &fuseops.ReadSymlinkOp{Inode: lookup.Entry.Child}
	require.NoError(t, fs.ReadSymlink(context.Background(), op))
	assert.Equal(t, "target2", op.Target)
}

func TestReadSymlinkOnRegularFileReturnsEINVAL(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{})

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "dir"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup))
	lookup2 := &fuseops.LookUpInodeOp{Parent: lookup.Entry.Child, Name: "hello.txt"}
	require.NoError(t, fs.LookUpInode(context.Background(), lookup2))

	err := fs.ReadSymlink(context.Background(), &fuseops.ReadSymlinkOp{Inode: lookup2.Entry.Child})
	assert.Error(t, err)
}

func TestAttributesForOverridesUidGid(t *testing.T) {
	a, tr := buildTestTree(t)
	fs := New(a, tr, Config{OverrideUid: true, Uid: 42, OverrideGid: true, Gid: 43})

	op := &fuseops.GetInodeAttributesOp{Inode: fuseops.RootInodeID}
	require.NoError(t, fs.GetInodeAttributes(context.Background(), op))
	assert.Equal(t, uint32(42), op.Attributes.Uid)
	assert.Equal(t, uint32(43), op.Attributes.Gid)
}
