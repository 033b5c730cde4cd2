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

package tree

import "io/fs"

// osMadeByUnix and its DOS-ish siblings are the "version made by" high
// byte values from the ZIP central directory, per APPNOTE.TXT section
// 4.4.2.
const (
	osMadeByDOS   = 0
	osMadeByUnix  = 3
	osMadeByVMCMS = 4
	osMadeByNTFS  = 10
	osMadeByVSE   = 11
	osMadeByMVS   = 12
	hardlinkBit   = 0x800
)

// deriveAttributes implements spec section 4.6.1: from the entry's "OS
// made by" byte, its 32-bit external attributes, and whether its raw
// name ends in '/', compute a POSIX mode and whether the entry is
// recorded as a hardlink.
func deriveAttributes(opsys uint8, attr uint32, endsWithSlash bool) (mode fs.FileMode, isHardlink bool) {
	effectiveOS := opsys
	if opsys == osMadeByDOS && attr>>16 != 0 {
		// PKWARE started stuffing Unix mode bits into DOS-made archives
		// in 1998; a nonzero high word is the tell.
		effectiveOS = osMadeByUnix
	}

	switch effectiveOS {
	case osMadeByUnix:
		unixMode := attr >> 16
		perm := fs.FileMode(unixMode & 0o777)
		var typ fs.FileMode
		switch unixMode & 0o170000 { // S_IFMT
		case 0o100000: // regular
		case 0o040000:
			typ = fs.ModeDir
		case 0o120000:
			typ = fs.ModeSymlink
		case 0o010000:
			typ = fs.ModeNamedPipe
		case 0o140000:
			typ = fs.ModeSocket
		case 0o060000:
			typ = fs.ModeDevice
		case 0o020000:
			typ = fs.ModeCharDevice
		default:
			typ = fs.ModeIrregular // unknown, coerced to regular below
		}
		if endsWithSlash {
			typ = fs.ModeDir
		} else if typ == fs.ModeDir || !isKnownUnixType(typ) {
			typ = 0 // regular
		}
		mode = typ | perm
		isHardlink = attr&hardlinkBit != 0 && typ != fs.ModeDir
		if typ == fs.ModeDevice || typ == fs.ModeCharDevice {
			isHardlink = false
		}
		return mode, isHardlink

	case osMadeByDOS, osMadeByNTFS, osMadeByMVS, osMadeByVSE, osMadeByVMCMS:
		perm := fs.FileMode(0o444)
		const dosReadOnly = 1
		if attr&dosReadOnly == 0 {
			perm |= 0o220
		}
		if endsWithSlash {
			return fs.ModeDir | perm | 0o111, false
		}
		return perm, false

	default:
		if endsWithSlash {
			return fs.ModeDir | 0o775, false
		}
		return 0o664, false
	}
}

// isKnownUnixType reports whether typ is one of the file-type bits the
// core models explicitly; anything else ("unknown") is coerced to
// regular by the caller.
func isKnownUnixType(typ fs.FileMode) bool {
	switch typ {
	case 0, fs.ModeSymlink, fs.ModeNamedPipe, fs.ModeSocket, fs.ModeDevice, fs.ModeCharDevice:
		return true
	default:
		return false
	}
}
