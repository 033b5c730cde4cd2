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

import "github.com/google/mountzip/internal/encoding"

// resolveEncoding implements spec section 4.6 step 2: if name is empty
// or "auto", detect from sample restricted to the known detectable set;
// "raw" and "libzip" both mean "use whatever archive/zip already
// decoded", i.e. no further transcoding; anything else is used verbatim.
func resolveEncoding(name encoding.Name, sample []byte) encoding.Converter {
	switch name {
	case "", encoding.Auto:
		return encoding.NewConverter(encoding.Detect(sample))
	case encoding.Raw, encoding.Libzip:
		return encoding.NoneConverter()
	default:
		return encoding.NewConverter(name)
	}
}
