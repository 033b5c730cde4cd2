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
	"fmt"

	"github.com/google/mountzip/internal/logger"
)

// lookupCount tracks how many outstanding kernel references a minted
// inode ID has, per the FUSE lookup-count protocol. Decrementing to
// zero simply means the ID may be recycled; unlike a mutable
// filesystem there is nothing to destroy, since the FileNode the ID
// names lives for the lifetime of the mount regardless of lookups.
// External synchronization is required.
type lookupCount struct {
	count uint64
}

func (lc *lookupCount) Inc() {
	lc.count++
}

// Dec decrements the count by n and reports whether it reached zero.
func (lc *lookupCount) Dec(n uint64) (zero bool) {
	if n > lc.count {
		panic(fmt.Sprintf("n is greater than lookup count: %v vs. %v", n, lc.count))
	}
	lc.count -= n
	if lc.count == 0 {
		logger.Infof("lookup count reached zero")
		zero = true
	}
	return
}
