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

package extrafield

import "time"

// Decoded collects whichever extra-field records were found in one ZIP
// entry's central-directory extra field, ready for merging.
type Decoded struct {
	ExtTimestamp *ExtendedTimestamp
	PKWARE       *PKWAREUnix
	InfoZipV1    *InfoZipUnixV1
	InfoZipV2    *InfoZipUnixV2
	InfoZipNew   *InfoZipUnixNew
	NTFS         *NTFS
}

// Times is the merged mtime/atime/ctime for an entry, per the precedence
// rules in the merge table: NTFS overrides everything for times; Extended
// Timestamp overrides Info-ZIP Unix v1.
type Times struct {
	Mtime, Atime, Ctime time.Time
	HasMtime, HasAtime, HasCtime bool
}

// MergeTimes applies precedence (1) NTFS overrides everything, (2)
// Extended Timestamp overrides Info-ZIP Unix v1, leaving fields unset
// (Has*=false) when nothing provided a value.
func (d Decoded) MergeTimes() Times {
	var t Times
	if d.InfoZipV1 != nil {
		t.Mtime, t.HasMtime = d.InfoZipV1.Mtime, true
		t.Atime, t.HasAtime = d.InfoZipV1.Atime, true
	}
	if d.ExtTimestamp != nil {
		if d.ExtTimestamp.HasMtime {
			t.Mtime, t.HasMtime = d.ExtTimestamp.Mtime, true
		}
		if d.ExtTimestamp.HasAtime {
			t.Atime, t.HasAtime = d.ExtTimestamp.Atime, true
		}
		if d.ExtTimestamp.HasCtime {
			t.Ctime, t.HasCtime = d.ExtTimestamp.Ctime, true
		}
	}
	if d.NTFS != nil {
		if d.NTFS.HasMtime {
			t.Mtime, t.HasMtime = d.NTFS.Mtime, true
		}
		if d.NTFS.HasAtime {
			t.Atime, t.HasAtime = d.NTFS.Atime, true
		}
		if d.NTFS.HasBtime {
			t.Ctime, t.HasCtime = d.NTFS.Btime, true
		}
	}
	return t
}

// Owner is the merged uid/gid for an entry.
type Owner struct {
	Uid, Gid uint32
	HasOwner bool
}

// MergeOwner applies precedence (3) Info-ZIP Unix v1/new overrides PKWARE,
// (4) within Unix owner fields, the higher numeric type ID wins -- i.e.
// 0x7875 (new) beats 0x7855 (v2) beats 0x5855 (v1) beats 0x000D (PKWARE).
func (d Decoded) MergeOwner() Owner {
	var o Owner
	if d.PKWARE != nil {
		o.Uid, o.Gid, o.HasOwner = uint32(d.PKWARE.Uid), uint32(d.PKWARE.Gid), true
	}
	if d.InfoZipV1 != nil && d.InfoZipV1.HasOwner {
		o.Uid, o.Gid, o.HasOwner = uint32(d.InfoZipV1.Uid), uint32(d.InfoZipV1.Gid), true
	}
	if d.InfoZipV2 != nil {
		o.Uid, o.Gid, o.HasOwner = uint32(d.InfoZipV2.Uid), uint32(d.InfoZipV2.Gid), true
	}
	if d.InfoZipNew != nil {
		o.Uid, o.Gid, o.HasOwner = uint32(d.InfoZipNew.Uid), uint32(d.InfoZipNew.Gid), true
	}
	return o
}

// LinkTarget returns the PKWARE-recorded symlink or hardlink target, if
// present. isDevice must come from the caller's already-decoded mode
// (external attributes), not from the PKWARE record's own length: a
// symlink target can coincidentally be 8 bytes long, which is exactly
// the fixed width of the major/minor device fields, so the record alone
// cannot disambiguate the two.
func (d Decoded) LinkTarget(isDevice bool) (target []byte, ok bool) {
	if d.PKWARE == nil || isDevice || len(d.PKWARE.Target) == 0 {
		return nil, false
	}
	return d.PKWARE.Target, true
}

// Device returns the PKWARE-recorded major/minor device numbers. Like
// LinkTarget, isDevice must come from the caller's decoded mode, not
// from the record's length.
func (d Decoded) Device(isDevice bool) (major, minor uint32, ok bool) {
	if d.PKWARE == nil || !isDevice || !d.PKWARE.HasDevice {
		return 0, 0, false
	}
	return d.PKWARE.Major, d.PKWARE.Minor, true
}
