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

// Package zipsource is the sole adapter onto the underlying ZIP library,
// the external collaborator named in spec section 6: entry enumeration,
// extra-field access, and fopen/fread/fseek on decompression streams.
// Everything above this package works through the Archive interface so
// tests can substitute a fake.
//
// The concrete implementation wraps the standard library's archive/zip.
// No third-party Go ZIP library in the retrieval pack offers the
// central/local extra-field split, per-entry seekability probe, and
// streaming password-protected decompression that spec section 6 wants
// from "the ZIP library" -- archive/zip is the natural Go equivalent of
// libzip for this role, and the spec explicitly scopes the ZIP library
// itself out of the core's subject matter (section 1, section 6). See
// DESIGN.md for the full justification and the two real limitations this
// adapter works around: archive/zip exposes only the central copy of an
// entry's extra field (local-header copies are not part of its public
// API), and archive/zip has no built-in decryption, so every encrypted
// entry is reported as EncryptionSupported=false regardless of method.
package zipsource

import (
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/mountzip/internal/extrafield"
	"github.com/google/mountzip/internal/zerr"
)

func init() {
	zip.RegisterDecompressor(12, func(r io.Reader) io.ReadCloser {
		return io.NopCloser(bzip2.NewReader(r))
	})
}

// EntryStat is the subset of ZIP per-entry metadata the rest of the core
// needs, analogous to libzip's zip_stat_t.
type EntryStat struct {
	Name             string
	UncompressedSize uint64
	ModTime          time.Time
	CRC32            uint32
	Method           uint16
}

// Archive is the interface the tree builder and readers consume. The
// production implementation is *ZipArchive; tests may substitute a fake.
type Archive interface {
	NumEntries() int
	// RawName returns the entry's name exactly as stored, before any
	// charset transcoding.
	RawName(id int) []byte
	Stat(id int) (EntryStat, error)
	// ExternalAttributes returns the "OS made by" byte and the 32-bit
	// external attributes field.
	ExternalAttributes(id int) (opsys uint8, attr uint32)
	// ExtraField returns the payload of the first record with the given
	// tag at the given location, if any.
	ExtraField(id int, tag uint16, loc extrafield.Location) ([]byte, bool)
	IsEncrypted(id int) bool
	EncryptionSupported(id int) bool
	CompressionSupported(id int) bool
	SetPassword(password string)
	// Seekable reports whether the entry is stored uncompressed, so that
	// repositioning its stream needs only a reopen and a skip, with no
	// decompression to redo (true for Store, false for any decompressing
	// method).
	Seekable(id int) bool
	Open(id int) (io.ReadCloser, error)
	Close() error
}

// ZipArchive adapts archive/zip.ReadCloser to the Archive interface.
type ZipArchive struct {
	rc *zip.ReadCloser

	mu       sync.Mutex
	password string
}

// Open opens path as a ZIP archive for reading.
func Open(path string) (*ZipArchive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, zerr.New(zerr.ArchiveOpenError, path, "failed to open archive", err)
	}
	return &ZipArchive{rc: rc}, nil
}

func (a *ZipArchive) NumEntries() int { return len(a.rc.File) }

func (a *ZipArchive) file(id int) *zip.File { return a.rc.File[id] }

// RawName returns the entry name as stored in the archive. archive/zip
// performs no charset conversion: File.Name holds the stored bytes
// whether or not the UTF-8 flag bit is set, so ExtraFieldCodec and the
// encoding detector get the original bytes.
func (a *ZipArchive) RawName(id int) []byte {
	return []byte(a.file(id).Name)
}

func (a *ZipArchive) Stat(id int) (EntryStat, error) {
	f := a.file(id)
	return EntryStat{
		Name:             f.Name,
		UncompressedSize: f.UncompressedSize64,
		ModTime:          f.Modified,
		CRC32:            f.CRC32,
		Method:           f.Method,
	}, nil
}

func (a *ZipArchive) ExternalAttributes(id int) (uint8, uint32) {
	f := a.file(id)
	return uint8(f.CreatorVersion >> 8), f.ExternalAttrs
}

func (a *ZipArchive) ExtraField(id int, tag uint16, loc extrafield.Location) ([]byte, bool) {
	// archive/zip only surfaces the central-directory copy of Extra; the
	// local-header copy is not part of its public API. Both Location
	// values are therefore served from the same bytes, which matches the
	// spec's documented leniency about central/local Extended Timestamp
	// differences (section 9, open questions).
	_ = loc
	f := a.file(id)
	return findExtraField(f.Extra, tag)
}

func findExtraField(extra []byte, tag uint16) ([]byte, bool) {
	for len(extra) >= 4 {
		id := uint16(extra[0]) | uint16(extra[1])<<8
		size := int(uint16(extra[2]) | uint16(extra[3])<<8)
		if len(extra) < 4+size {
			return nil, false
		}
		payload := extra[4 : 4+size]
		if id == tag {
			return payload, true
		}
		extra = extra[4+size:]
	}
	return nil, false
}

func (a *ZipArchive) IsEncrypted(id int) bool {
	return a.file(id).Flags&0x1 != 0
}

// EncryptionSupported always reports false: archive/zip has no
// decryption support for ZipCrypto or AES, for any method. This is a
// real stdlib limitation, not a design choice; see the package doc.
func (a *ZipArchive) EncryptionSupported(id int) bool {
	return false
}

func (a *ZipArchive) CompressionSupported(id int) bool {
	switch a.file(id).Method {
	case zip.Store, zip.Deflate, 12: // 12 == bzip2, registered in init.
		return true
	default:
		return false
	}
}

func (a *ZipArchive) SetPassword(password string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.password = password
}

// Seekable reports whether the entry's storage method already is the
// uncompressed bytes (Store), in which case UnbufferedReader repositions
// by reopening the entry and skipping forward, with no decompression to
// redo.
func (a *ZipArchive) Seekable(id int) bool {
	return a.file(id).Method == zip.Store
}

func (a *ZipArchive) Open(id int) (io.ReadCloser, error) {
	f := a.file(id)
	if f.Flags&0x1 != 0 {
		return nil, zerr.New(zerr.UnsupportedEncryption, f.Name, "archive/zip cannot decrypt entries", nil)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, zerr.New(zerr.ReaderIoError, f.Name, "failed to open entry stream", err)
	}
	return rc, nil
}

func (a *ZipArchive) Close() error { return a.rc.Close() }

// ProbePassword attempts to read a small window from an encrypted entry
// to verify the configured password, per spec section 4.6 step 4. Since
// the production archive/zip adapter never supports encryption, this
// always fails for a real encrypted entry; it exists so the build
// pipeline and its tests exercise the real control flow against a fake
// Archive that does support probing.
func ProbePassword(ctx context.Context, a Archive, id int) error {
	rc, err := a.Open(id)
	if err != nil {
		return err
	}
	defer rc.Close()

	buf := make([]byte, 16)
	_, err = io.ReadFull(rc, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return zerr.New(zerr.PasswordMismatch, "", "password probe failed", err)
	}
	return nil
}

// cp437Encode converts s to single-byte code page 437: runes in the
// CP437 upper half map to their byte, ASCII passes through, and any
// other rune becomes '?'.
func cp437Encode(s string) []byte {
	var buf bytes.Buffer
	for _, r := range s {
		if b, ok := cp437Reverse[r]; ok {
			buf.WriteByte(b)
		} else if r < 0x80 {
			buf.WriteByte(byte(r))
		} else {
			buf.WriteByte('?')
		}
	}
	return buf.Bytes()
}
