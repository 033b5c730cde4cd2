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

// Package clock supplies an injectable time source, following the pattern
// the teacher project uses to keep inode timestamps testable.
package clock

import (
	"time"

	"github.com/jacobsa/timeutil"
)

// Clock is the minimal time source the archive projection core needs:
// wall-clock now, for timestamps synthesized when an extra field is absent
// or malformed.
type Clock interface {
	Now() time.Time
}

// RealClock reports the actual wall-clock time, delegating to the
// teacher's own jacobsa/timeutil.Clock rather than calling time.Now
// directly.
type RealClock struct {
	inner timeutil.Clock
}

func (c RealClock) Now() time.Time {
	if c.inner == nil {
		return timeutil.RealClock().Now()
	}
	return c.inner.Now()
}

// FakeClock reports a fixed, settable time. Used by tests that need
// deterministic fallback timestamps (e.g. DataNode.now()).
type FakeClock struct {
	t time.Time
}

// NewFakeClock returns a FakeClock initialized to t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{t: t}
}

func (c *FakeClock) Now() time.Time { return c.t }

// SetTime updates the time FakeClock reports.
func (c *FakeClock) SetTime(t time.Time) { c.t = t }

// Advance moves the fake clock forward by d.
func (c *FakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }
