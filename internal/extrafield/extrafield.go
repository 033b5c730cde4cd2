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

// Package extrafield decodes ZIP extra-field records: Extended Timestamp
// (0x5455), PKWARE Unix (0x000D), Info-ZIP Unix v1/v2/new
// (0x5855/0x7855/0x7875), and NTFS (0x000A). Each decoder is a pure
// function over a little-endian byte span; encoding/binary.LittleEndian
// already does the portable byte-swap the original hand-rolled for
// big-endian hosts, so no explicit swap step is needed here.
package extrafield

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Type IDs for the extra-field records this package understands.
const (
	TagExtendedTimestamp = 0x5455
	TagPKWAREUnix        = 0x000D
	TagInfoZipUnixV1     = 0x5855
	TagInfoZipUnixV2     = 0x7855
	TagInfoZipUnixNew    = 0x7875
	TagNTFS              = 0x000A
)

// Location distinguishes the central-directory copy of an extra field from
// the local-header copy; some records (Extended Timestamp) carry fewer
// fields in the central copy.
type Location int

const (
	Central Location = iota
	Local
)

// DecodeError reports a malformed extra-field record: short field, bad
// version, or a value that overflows its destination type.
type DecodeError struct {
	Tag    uint16
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("extra field 0x%04x: %s", e.Tag, e.Reason)
}

// ExtendedTimestamp is the decoded 0x5455 record. Fields are present iff
// their corresponding Has flag is set; in central-directory copies, per
// the format, only mtime is expected, but this decoder is lenient and
// reads whatever the flags byte claims is present, matching the original
// implementation's behavior of not special-casing the central copy.
type ExtendedTimestamp struct {
	HasMtime, HasAtime, HasCtime bool
	Mtime, Atime, Ctime          time.Time
}

// DecodeExtendedTimestamp decodes a 0x5455 record from data (the payload
// following the 2-byte tag and 2-byte length already consumed by the
// caller).
func DecodeExtendedTimestamp(data []byte, loc Location) (*ExtendedTimestamp, error) {
	if len(data) < 1 {
		return nil, &DecodeError{TagExtendedTimestamp, "missing flags byte"}
	}
	flags := data[0]
	rec := &ExtendedTimestamp{}
	off := 1
	readTime := func() (time.Time, error) {
		if off+4 > len(data) {
			return time.Time{}, &DecodeError{TagExtendedTimestamp, "truncated timestamp"}
		}
		sec := int32(binary.LittleEndian.Uint32(data[off : off+4]))
		off += 4
		return time.Unix(int64(sec), 0).UTC(), nil
	}

	var err error
	if flags&0x1 != 0 {
		rec.HasMtime = true
		if rec.Mtime, err = readTime(); err != nil {
			return nil, err
		}
	}
	// Per the format, local headers may carry atime/ctime too; central
	// directory copies are documented as mtime-only, but real-world
	// writers and the original implementation read them leniently
	// whenever the flag bit is set, regardless of location.
	if flags&0x2 != 0 {
		rec.HasAtime = true
		if rec.Atime, err = readTime(); err != nil {
			return nil, err
		}
	}
	if flags&0x4 != 0 {
		rec.HasCtime = true
		if rec.Ctime, err = readTime(); err != nil {
			return nil, err
		}
	}
	_ = loc
	return rec, nil
}

// PKWAREUnix is the decoded 0x000D record. For block/char device entries
// Major/Minor are populated; for all other entries, any trailing bytes
// are the symlink target. The caller decides which interpretation
// applies based on the entry's already-decoded mode -- this decoder must
// not infer device-ness from field length alone, since a symlink target
// can coincidentally be 8 bytes long.
type PKWAREUnix struct {
	Atime, Mtime time.Time
	Uid, Gid     uint16
	HasDevice    bool
	Major, Minor uint32
	Target       []byte
}

// DecodePKWAREUnix decodes a 0x000D record.
func DecodePKWAREUnix(data []byte) (*PKWAREUnix, error) {
	if len(data) < 12 {
		return nil, &DecodeError{TagPKWAREUnix, "field shorter than fixed header"}
	}
	rec := &PKWAREUnix{
		Atime: time.Unix(int64(int32(binary.LittleEndian.Uint32(data[0:4]))), 0).UTC(),
		Mtime: time.Unix(int64(int32(binary.LittleEndian.Uint32(data[4:8]))), 0).UTC(),
		Uid:   binary.LittleEndian.Uint16(data[8:10]),
		Gid:   binary.LittleEndian.Uint16(data[10:12]),
	}
	rest := data[12:]
	if len(rest) >= 8 {
		rec.HasDevice = true
		rec.Major = binary.LittleEndian.Uint32(rest[0:4])
		rec.Minor = binary.LittleEndian.Uint32(rest[4:8])
	}
	if len(rest) > 0 {
		rec.Target = append([]byte(nil), rest...)
	}
	return rec, nil
}

// InfoZipUnixV1 is the decoded 0x5855 record.
type InfoZipUnixV1 struct {
	Atime, Mtime time.Time
	HasOwner     bool
	Uid, Gid     uint16
}

// DecodeInfoZipUnixV1 decodes a 0x5855 record.
func DecodeInfoZipUnixV1(data []byte) (*InfoZipUnixV1, error) {
	if len(data) < 8 {
		return nil, &DecodeError{TagInfoZipUnixV1, "field shorter than fixed header"}
	}
	rec := &InfoZipUnixV1{
		Atime: time.Unix(int64(int32(binary.LittleEndian.Uint32(data[0:4]))), 0).UTC(),
		Mtime: time.Unix(int64(int32(binary.LittleEndian.Uint32(data[4:8]))), 0).UTC(),
	}
	if len(data) >= 12 {
		rec.HasOwner = true
		rec.Uid = binary.LittleEndian.Uint16(data[8:10])
		rec.Gid = binary.LittleEndian.Uint16(data[10:12])
	}
	return rec, nil
}

// InfoZipUnixV2 is the decoded 0x7855 record.
type InfoZipUnixV2 struct {
	Uid, Gid uint16
}

// DecodeInfoZipUnixV2 decodes a 0x7855 record.
func DecodeInfoZipUnixV2(data []byte) (*InfoZipUnixV2, error) {
	if len(data) < 4 {
		return nil, &DecodeError{TagInfoZipUnixV2, "field shorter than fixed header"}
	}
	return &InfoZipUnixV2{
		Uid: binary.LittleEndian.Uint16(data[0:2]),
		Gid: binary.LittleEndian.Uint16(data[2:4]),
	}, nil
}

// InfoZipUnixNew is the decoded 0x7875 record.
type InfoZipUnixNew struct {
	Uid, Gid uint64
}

// DecodeInfoZipUnixNew decodes a 0x7875 record. Rejects version != 1 and
// rejects a zero-length uid/gid field (no bytes supplied), which is a
// decode failure rather than uid/gid 0.
func DecodeInfoZipUnixNew(data []byte) (*InfoZipUnixNew, error) {
	if len(data) < 1 {
		return nil, &DecodeError{TagInfoZipUnixNew, "missing version byte"}
	}
	if data[0] != 1 {
		return nil, &DecodeError{TagInfoZipUnixNew, "unsupported version"}
	}
	off := 1
	readVar := func(who string) (uint64, error) {
		if off >= len(data) {
			return 0, &DecodeError{TagInfoZipUnixNew, who + ": missing length byte"}
		}
		n := int(data[off])
		off++
		if n == 0 {
			return 0, &DecodeError{TagInfoZipUnixNew, who + ": zero-length value"}
		}
		if n > 8 {
			return 0, &DecodeError{TagInfoZipUnixNew, who + ": overflows 64 bits"}
		}
		if off+n > len(data) {
			return 0, &DecodeError{TagInfoZipUnixNew, who + ": truncated value"}
		}
		var v uint64
		for i := n - 1; i >= 0; i-- {
			v = v<<8 | uint64(data[off+i])
		}
		off += n
		return v, nil
	}

	uid, err := readVar("uid")
	if err != nil {
		return nil, err
	}
	gid, err := readVar("gid")
	if err != nil {
		return nil, err
	}
	return &InfoZipUnixNew{Uid: uid, Gid: gid}, nil
}

// NTFS is the decoded 0x000A record's tag-0x0001 sub-record. Other tags
// are skipped by the caller's scan.
type NTFS struct {
	HasMtime, HasAtime, HasBtime bool
	Mtime, Atime, Btime          time.Time
}

// DecodeNTFS scans the 0x000A record's 4 reserved bytes followed by
// tagged sub-records, extracting tag 0x0001 (mtime/atime/btime as 64-bit
// Windows FILETIME). Unknown tags are skipped.
func DecodeNTFS(data []byte) (*NTFS, error) {
	if len(data) < 4 {
		return nil, &DecodeError{TagNTFS, "missing reserved field"}
	}
	rec := &NTFS{}
	off := 4
	for off+4 <= len(data) {
		tag := binary.LittleEndian.Uint16(data[off : off+2])
		size := int(binary.LittleEndian.Uint16(data[off+2 : off+4]))
		off += 4
		if off+size > len(data) {
			return nil, &DecodeError{TagNTFS, "truncated sub-record"}
		}
		sub := data[off : off+size]
		off += size

		if tag != 0x0001 {
			continue
		}
		if size < 24 {
			return nil, &DecodeError{TagNTFS, "tag 0x0001 shorter than 24 bytes"}
		}
		rec.HasMtime = true
		rec.Mtime = ntfsToTime(binary.LittleEndian.Uint64(sub[0:8]))
		rec.HasAtime = true
		rec.Atime = ntfsToTime(binary.LittleEndian.Uint64(sub[8:16]))
		rec.HasBtime = true
		rec.Btime = ntfsToTime(binary.LittleEndian.Uint64(sub[16:24]))
	}
	return rec, nil
}

// ntfsEpochOffset100ns is the number of 100ns ticks between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01):
// (369*365 + 89) days.
const ntfsEpochOffset100ns = int64(369*365+89) * 86400 * 1e7

func ntfsToTime(ticks uint64) time.Time {
	sec, nsec := NTFSToUnix(ticks)
	return time.Unix(sec, nsec).UTC()
}

// NTFSToUnix converts a 100ns Windows FILETIME count to a (sec, nsec)
// Unix timestamp pair.
func NTFSToUnix(ticks uint64) (sec int64, nsec int64) {
	rel := int64(ticks) - ntfsEpochOffset100ns
	sec = rel / 1e7
	rem := rel % 1e7
	if rem < 0 {
		sec--
		rem += 1e7
	}
	nsec = rem * 100
	return sec, nsec
}

// UnixToNTFS is the inverse of NTFSToUnix, for round-trip testing.
// Requires 0 <= nsec < 1e9 and nsec % 100 == 0.
func UnixToNTFS(sec int64, nsec int64) uint64 {
	rel := sec*1e7 + nsec/100
	return uint64(rel + ntfsEpochOffset100ns)
}
