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

package datanode

import (
	"encoding/binary"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/mountzip/internal/clock"
	"github.com/google/mountzip/internal/extrafield"
	"github.com/google/mountzip/internal/zipsource"
)

type fakeEntry struct {
	stat  zipsource.EntryStat
	extra map[uint16][]byte
	data  []byte
}

type fakeArchive struct {
	entries []fakeEntry
}

func (f *fakeArchive) NumEntries() int       { return len(f.entries) }
func (f *fakeArchive) RawName(id int) []byte { return []byte(f.entries[id].stat.Name) }
func (f *fakeArchive) Stat(id int) (zipsource.EntryStat, error) {
	return f.entries[id].stat, nil
}
func (f *fakeArchive) ExternalAttributes(id int) (uint8, uint32) { return 3, 0 }
func (f *fakeArchive) ExtraField(id int, tag uint16, loc extrafield.Location) ([]byte, bool) {
	v, ok := f.entries[id].extra[tag]
	return v, ok
}
func (f *fakeArchive) IsEncrypted(id int) bool          { return false }
func (f *fakeArchive) EncryptionSupported(id int) bool  { return false }
func (f *fakeArchive) CompressionSupported(id int) bool { return true }
func (f *fakeArchive) SetPassword(string)               {}
func (f *fakeArchive) Seekable(id int) bool              { return true }
func (f *fakeArchive) Close() error                      { return nil }
func (f *fakeArchive) Open(id int) (io.ReadCloser, error) {
	return io.NopCloser(newSliceReader(f.entries[id].data)), nil
}

type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(d []byte) *sliceReader { return &sliceReader{data: d} }
func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
func le16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func TestMakeFallsBackToNowOnZeroModTime(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	a := &fakeArchive{entries: []fakeEntry{{
		stat: zipsource.EntryStat{Name: "a.txt", UncompressedSize: 5},
		data: []byte("hello"),
	}}}

	n, err := Make(a, 0, fs.FileMode(0o644), clk)
	require.NoError(t, err)
	assert.Equal(t, clk.Now(), n.Mtime)
	assert.Equal(t, clk.Now(), n.Atime)
}

func TestMakeMergesPKWAREOwner(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	extra := append(append(le32(1000), le32(2000)...), append(le16(500), le16(600)...)...)
	a := &fakeArchive{entries: []fakeEntry{{
		stat: zipsource.EntryStat{Name: "a.txt", UncompressedSize: 0, ModTime: time.Unix(1000, 0)},
		extra: map[uint16][]byte{
			extrafield.TagPKWAREUnix: extra,
		},
	}}}

	n, err := Make(a, 0, fs.FileMode(0o644), clk)
	require.NoError(t, err)
	assert.Equal(t, uint32(500), n.Uid)
	assert.Equal(t, uint32(600), n.Gid)
}

func TestMakeNTFSOverridesPKWAREForTimes(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	pkExtra := append(append(le32(1), le32(2)...), append(le16(10), le16(20)...)...)

	ntfsTicks := extrafield.UnixToNTFS(1700000000, 0)
	ticksBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(ticksBytes, ntfsTicks)
	ntfsExtra := append(make([]byte, 4), append(le16(1), append(le16(24), append(ticksBytes, append(ticksBytes, ticksBytes...)...)...)...)...)

	a := &fakeArchive{entries: []fakeEntry{{
		stat: zipsource.EntryStat{Name: "a.txt", ModTime: time.Unix(1, 0)},
		extra: map[uint16][]byte{
			extrafield.TagPKWAREUnix: pkExtra,
			extrafield.TagNTFS:       ntfsExtra,
		},
	}}}

	n, err := Make(a, 0, fs.FileMode(0o644), clk)
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), n.Mtime.Unix())
}

func TestMakeCoercesFIFOWithoutPKWARE(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	a := &fakeArchive{entries: []fakeEntry{{
		stat: zipsource.EntryStat{Name: "p", ModTime: time.Now()},
	}}}

	n, err := Make(a, 0, fs.ModeNamedPipe|0o644, clk)
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0), n.Mode&fs.ModeNamedPipe)
}

func TestMakeKeepsFIFOWithPKWAREAndZeroSize(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	pkExtra := append(append(le32(1), le32(2)...), append(le16(0), le16(0)...)...)
	a := &fakeArchive{entries: []fakeEntry{{
		stat:  zipsource.EntryStat{Name: "p", ModTime: time.Now(), UncompressedSize: 0},
		extra: map[uint16][]byte{extrafield.TagPKWAREUnix: pkExtra},
	}}}

	n, err := Make(a, 0, fs.ModeNamedPipe|0o644, clk)
	require.NoError(t, err)
	assert.NotEqual(t, fs.FileMode(0), n.Mode&fs.ModeNamedPipe)
}

func TestStatBlockCountRounding(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	a := &fakeArchive{entries: []fakeEntry{{
		stat: zipsource.EntryStat{Name: "a", UncompressedSize: 513, ModTime: time.Now()},
	}}}
	n, err := Make(a, 0, fs.FileMode(0o644), clk)
	require.NoError(t, err)
	st := n.Stat()
	assert.Equal(t, int64(512), st.Blksize)
	assert.Equal(t, int64(2), st.Blocks)
}

func TestDirectoryStartsWithNlinkTwo(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	n := MakeSynthesized(clk)
	assert.Equal(t, uint32(2), n.Nlink())
	assert.True(t, n.Mode.IsDir())
}

func TestIncrementNlink(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	n := MakeSynthesized(clk)
	n.IncrementNlink()
	assert.Equal(t, uint32(3), n.Nlink())
}

func TestGetReaderCachesBufferedReader(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	payload := make([]byte, 10)
	a := &fakeArchive{entries: []fakeEntry{{
		stat: zipsource.EntryStat{Name: "a", UncompressedSize: uint64(len(payload)), ModTime: time.Now()},
		data: payload,
	}}}
	seekableFalse := &nonSeekableWrapper{fakeArchive: a}

	n, err := Make(seekableFalse, 0, fs.FileMode(0o644), clk)
	require.NoError(t, err)

	r1, err := n.GetReader(nil, seekableFalse)
	require.NoError(t, err)
	r2, err := n.GetReader(nil, seekableFalse)
	require.NoError(t, err)
	assert.Same(t, r1, r2)

	n.ReleaseReader()
	r3, err := n.GetReader(nil, seekableFalse)
	require.NoError(t, err)
	assert.NotSame(t, r1, r3)
}

func TestReleaseReaderReturnsReleasedReaderAndNilWhenEmpty(t *testing.T) {
	clk := clock.NewFakeClock(time.Now())
	payload := make([]byte, 10)
	a := &fakeArchive{entries: []fakeEntry{{
		stat: zipsource.EntryStat{Name: "a", UncompressedSize: uint64(len(payload)), ModTime: time.Now()},
		data: payload,
	}}}
	seekableFalse := &nonSeekableWrapper{fakeArchive: a}

	n, err := Make(seekableFalse, 0, fs.FileMode(0o644), clk)
	require.NoError(t, err)

	assert.Nil(t, n.ReleaseReader())

	r1, err := n.GetReader(nil, seekableFalse)
	require.NoError(t, err)

	released := n.ReleaseReader()
	require.NotNil(t, released)
	assert.Same(t, r1, released)
	assert.Nil(t, n.ReleaseReader())
}

type nonSeekableWrapper struct {
	*fakeArchive
}

func (w *nonSeekableWrapper) Seekable(id int) bool { return false }
