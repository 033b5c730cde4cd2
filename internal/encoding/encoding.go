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

// Package encoding stands in for the ICU-based filename-encoding
// detector/converter the spec names as an external collaborator. Since
// the Go ecosystem (and this retrieval pack) carries no ICU binding, the
// detectable-encoding set named in spec section 4.6 step 2 is covered
// with golang.org/x/text's CJK and Cyrillic codecs, which is the Go
// idiom for exactly this job (transcoding legacy 8-bit/DBCS archive
// filenames to UTF-8).
package encoding

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// Name identifies one of the encodings the builder can assume or detect.
type Name string

const (
	Auto              Name = "auto"
	Raw               Name = "raw"
	Libzip            Name = "libzip"
	ShiftJIS          Name = "Shift_JIS"
	Big5              Name = "Big5"
	EUCJP             Name = "EUC-JP"
	EUCKR             Name = "EUC-KR"
	GB18030           Name = "GB18030"
	ISO2022CN         Name = "ISO-2022-CN"
	ISO2022JP         Name = "ISO-2022-JP"
	ISO2022KR         Name = "ISO-2022-KR"
	KOI8R             Name = "KOI8-R"
)

// detectable lists the encodings the "auto" mode is restricted to, per
// spec section 4.6 step 2.
var detectable = []Name{ShiftJIS, Big5, EUCJP, EUCKR, GB18030, ISO2022CN, ISO2022JP, ISO2022KR, KOI8R}

func codecFor(name Name) encoding.Encoding {
	switch name {
	case ShiftJIS:
		return japanese.ShiftJIS
	case EUCJP:
		return japanese.EUCJP
	case ISO2022JP:
		return japanese.ISO2022JP
	case Big5:
		return traditionalchinese.Big5
	case GB18030:
		return simplifiedchinese.GB18030
	case ISO2022CN:
		// x/text has no ISO-2022-CN codec; GB18030 is the closest
		// simplified-Chinese fallback the pack's dependency (x/text)
		// actually ships.
		return simplifiedchinese.GB18030
	case EUCKR:
		return korean.EUCKR
	case ISO2022KR:
		return korean.EUCKR
	case KOI8R:
		return charmap.KOI8R
	default:
		return nil
	}
}

// Converter transcodes raw archive filename bytes to UTF-8.
type Converter struct {
	codec encoding.Encoding
}

// NoneConverter returns raw bytes unchanged (used for "raw" and for a
// source already valid UTF-8).
func NoneConverter() Converter { return Converter{} }

// NewConverter resolves name to a Converter. Auto/Raw/Libzip must be
// resolved by the caller (detection or library default) before calling
// this; an unresolved or unknown name yields NoneConverter.
func NewConverter(name Name) Converter {
	c := codecFor(name)
	if c == nil {
		return NoneConverter()
	}
	return Converter{codec: c}
}

// ToUTF8 converts raw bytes to a UTF-8 string. If no codec is configured,
// or the input is already valid UTF-8, it is returned unchanged.
func (c Converter) ToUTF8(raw []byte) (string, error) {
	if c.codec == nil || utf8.Valid(raw) {
		return string(raw), nil
	}
	out, err := c.codec.NewDecoder().Bytes(raw)
	if err != nil {
		return string(raw), err
	}
	return string(out), nil
}

// Detect runs a lightweight charset-detection heuristic over sample,
// restricted to the detectable set, returning the best-guess encoding
// name. It is not a full ICU-grade detector: it scores each candidate by
// round-tripping through its decoder and counting decode errors plus
// U+FFFD substitutions, picking the lowest-error candidate, with UTF-8
// preferred outright when the sample already validates as UTF-8.
func Detect(sample []byte) Name {
	if utf8.Valid(sample) {
		return ""
	}

	type score struct {
		name Name
		bad  int
	}
	best := score{bad: -1}
	for _, name := range detectable {
		codec := codecFor(name)
		if codec == nil {
			continue
		}
		out, err := codec.NewDecoder().Bytes(sample)
		bad := 0
		if err != nil {
			bad = len(sample)
		} else {
			for _, r := range string(out) {
				if r == utf8.RuneError {
					bad++
				}
			}
		}
		if best.bad == -1 || bad < best.bad {
			best = score{name, bad}
		}
	}
	return best.name
}
