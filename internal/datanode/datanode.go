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

// Package datanode implements DataNode, the inode-like record shared by
// every FileNode that names the same underlying ZIP entry (directly, or
// via a hardlink).
package datanode

import (
	"context"
	"io/fs"
	"sync"
	"time"

	"github.com/google/mountzip/internal/clock"
	"github.com/google/mountzip/internal/extrafield"
	"github.com/google/mountzip/internal/reader"
	"github.com/google/mountzip/internal/zerr"
	"github.com/google/mountzip/internal/zipsource"
)

const synthesizedID = -1

// DataNode is the inode-like record: mode, ownership, size, timestamps,
// link target, link count, and a lazily-populated cached reader. One
// DataNode exists per distinct inode; hardlinked FileNodes share a
// pointer to the same DataNode.
type DataNode struct {
	ID   int // backing ZIP entry index, or synthesizedID
	Mode fs.FileMode
	Uid  uint32
	Gid  uint32
	Dev  uint64 // only meaningful for block/char devices

	Size int64

	Mtime time.Time
	Atime time.Time
	Ctime time.Time

	Target []byte // non-empty only for virtual symlinks with inline target

	nlinkMu sync.Mutex
	nlink   uint32

	cacheMu sync.Mutex
	cached  *reader.BufferedReader
}

// Make constructs a DataNode for ZIP entry id with the POSIX mode already
// derived by the caller (see internal/tree's entry-attribute derivation),
// merging in whichever extra-field records the archive carries for it.
func Make(archive zipsource.Archive, id int, mode fs.FileMode, clk clock.Clock) (*DataNode, error) {
	st, err := archive.Stat(id)
	if err != nil {
		return nil, zerr.New(zerr.EntryDecodeError, "", "stat failed", err)
	}

	mtime := st.ModTime
	if mtime.IsZero() {
		// Some tools omit the MS-DOS date entirely; the original falls
		// back to wall-clock now on error rather than propagating a zero
		// time, which would otherwise surface as a 1980 epoch (or
		// earlier, if the archive writer zeroed the field entirely).
		mtime = clk.Now()
	}

	n := &DataNode{
		ID:    id,
		Mode:  mode,
		Size:  int64(st.UncompressedSize),
		Mtime: mtime,
		Atime: mtime,
		Ctime: mtime,
	}
	if mode.IsDir() {
		n.nlink = 2
	} else {
		n.nlink = 1
	}

	decoded := decodeExtraFields(archive, id)
	n.applyExtraFields(decoded)
	n.coerceFIFO(decoded)

	return n, nil
}

// MakeSynthesized builds the DataNode for a directory the tree builder
// invents to cover an ancestor path absent from the archive.
func MakeSynthesized(clk clock.Clock) *DataNode {
	now := clk.Now()
	return &DataNode{
		ID:    synthesizedID,
		Mode:  fs.ModeDir | 0o755,
		nlink: 2,
		Mtime: now,
		Atime: now,
		Ctime: now,
	}
}

func decodeExtraFields(archive zipsource.Archive, id int) extrafield.Decoded {
	var d extrafield.Decoded
	if data, ok := archive.ExtraField(id, extrafield.TagExtendedTimestamp, extrafield.Central); ok {
		if rec, err := extrafield.DecodeExtendedTimestamp(data, extrafield.Central); err == nil {
			d.ExtTimestamp = rec
		}
	}
	if data, ok := archive.ExtraField(id, extrafield.TagPKWAREUnix, extrafield.Central); ok {
		if rec, err := extrafield.DecodePKWAREUnix(data); err == nil {
			d.PKWARE = rec
		}
	}
	if data, ok := archive.ExtraField(id, extrafield.TagInfoZipUnixV1, extrafield.Central); ok {
		if rec, err := extrafield.DecodeInfoZipUnixV1(data); err == nil {
			d.InfoZipV1 = rec
		}
	}
	if data, ok := archive.ExtraField(id, extrafield.TagInfoZipUnixV2, extrafield.Central); ok {
		if rec, err := extrafield.DecodeInfoZipUnixV2(data); err == nil {
			d.InfoZipV2 = rec
		}
	}
	if data, ok := archive.ExtraField(id, extrafield.TagInfoZipUnixNew, extrafield.Central); ok {
		if rec, err := extrafield.DecodeInfoZipUnixNew(data); err == nil {
			d.InfoZipNew = rec
		}
	}
	if data, ok := archive.ExtraField(id, extrafield.TagNTFS, extrafield.Central); ok {
		if rec, err := extrafield.DecodeNTFS(data); err == nil {
			d.NTFS = rec
		}
	}
	return d
}

func (n *DataNode) applyExtraFields(d extrafield.Decoded) {
	times := d.MergeTimes()
	if times.HasMtime {
		n.Mtime = times.Mtime
	}
	if times.HasAtime {
		n.Atime = times.Atime
	}
	if times.HasCtime {
		n.Ctime = times.Ctime
	}

	if owner := d.MergeOwner(); owner.HasOwner {
		n.Uid, n.Gid = owner.Uid, owner.Gid
	}

	isDevice := n.Mode&(fs.ModeDevice|fs.ModeCharDevice) != 0
	if major, minor, ok := d.Device(isDevice); ok {
		n.Dev = (uint64(major) << 32) | uint64(minor)
	}

	// The PKWARE link target only applies to a symlink whose content is
	// empty (the target lives entirely in the extra field).
	if n.Mode&fs.ModeSymlink != 0 && n.Size == 0 {
		if target, ok := d.LinkTarget(isDevice); ok {
			n.Target = target
			n.Size = int64(len(target))
		}
	}
}

// coerceFIFO undoes Info-ZIP's occasional mislabeling of a regular file
// as a FIFO: a true FIFO has no content and always carries a PKWARE Unix
// field (device/owner metadata), so anything claiming FIFO type without
// one, or with nonzero size, is actually regular.
func (n *DataNode) coerceFIFO(d extrafield.Decoded) {
	if n.Mode&fs.ModeNamedPipe == 0 {
		return
	}
	if n.Size > 0 || d.PKWARE == nil {
		n.Mode &^= fs.ModeNamedPipe
	}
}

// Stat is the POSIX-ish projection consumed by the FUSE attribute
// layer.
type Stat struct {
	Mode    fs.FileMode
	Uid     uint32
	Gid     uint32
	Dev     uint64
	Size    int64
	Blksize int64
	Blocks  int64
	Mtime   time.Time
	Atime   time.Time
	Ctime   time.Time
	Nlink   uint32
}

const blockSize = 512

func (n *DataNode) Stat() Stat {
	n.nlinkMu.Lock()
	nlink := n.nlink
	n.nlinkMu.Unlock()

	return Stat{
		Mode:    n.Mode,
		Uid:     n.Uid,
		Gid:     n.Gid,
		Dev:     n.Dev,
		Size:    n.Size,
		Blksize: blockSize,
		Blocks:  (n.Size + blockSize - 1) / blockSize,
		Mtime:   n.Mtime,
		Atime:   n.Atime,
		Ctime:   n.Ctime,
		Nlink:   nlink,
	}
}

// BlockCount returns 1 + ceil(size/512), the unit the tree builder
// accumulates into TreeQuery.GetBlockCount.
func (n *DataNode) BlockCount() int64 {
	return 1 + (n.Size+blockSize-1)/blockSize
}

// Nlink returns the current link count.
func (n *DataNode) Nlink() uint32 {
	n.nlinkMu.Lock()
	defer n.nlinkMu.Unlock()
	return n.nlink
}

// IncrementNlink bumps the link count when another FileNode binds to
// this DataNode (a new hardlink, or a new directory entry for "..").
func (n *DataNode) IncrementNlink() {
	n.nlinkMu.Lock()
	n.nlink++
	n.nlinkMu.Unlock()
}

// SetNlink overwrites the link count outright. Used when the tree
// builder replaces a synthesized directory's DataNode with the
// stat-derived one for the same path and needs to carry over however
// many children had already bumped the synthesized node's count.
func (n *DataNode) SetNlink(v uint32) {
	n.nlinkMu.Lock()
	n.nlink = v
	n.nlinkMu.Unlock()
}

// Now returns wall-clock time, used whenever an extra field failed to
// supply one.
func (n *DataNode) Now(clk clock.Clock) time.Time {
	return clk.Now()
}

// GetReader returns a Reader over this node's content, reusing a live
// cached BufferedReader if one is already open so concurrent opens of
// the same entry share decompression progress, per the caching policy in
// spec section 4.3.
func (n *DataNode) GetReader(ctx context.Context, archive zipsource.Archive) (reader.Reader, error) {
	if len(n.Target) > 0 {
		return reader.NewStringReader(n.Target), nil
	}

	n.cacheMu.Lock()
	defer n.cacheMu.Unlock()
	if n.cached != nil {
		return n.cached, nil
	}

	if archive.Seekable(n.ID) {
		return reader.NewUnbufferedReader(archive, n.ID, n.Size)
	}

	br, err := reader.NewBufferedReader(archive, n.ID, n.Size)
	if err != nil {
		return nil, err
	}
	n.cached = br
	return br, nil
}

// ReleaseReader drops the cache slot when the last user of a cached
// reader is done, per spec section 4.3's caching policy. It returns the
// reader that was released, or nil if nothing was cached, so callers
// can report its advance/rewind/cache-hit counters before it goes away.
func (n *DataNode) ReleaseReader() *reader.BufferedReader {
	n.cacheMu.Lock()
	defer n.cacheMu.Unlock()
	if n.cached == nil {
		return nil
	}
	br := n.cached
	br.Close()
	n.cached = nil
	return br
}
