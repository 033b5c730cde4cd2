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

package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/google/mountzip/internal/zerr"
)

func TestExitCodeGenericErrorIsOne(t *testing.T) {
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestExitCodeZipErrorIsTenPlusKind(t *testing.T) {
	err := zerr.New(zerr.UnsupportedCompression, "a.zip", "bad method", nil)
	assert.Equal(t, 10+int(zerr.UnsupportedCompression), exitCode(err))
}

func TestExitCodeWrappedZipErrorIsUnwrapped(t *testing.T) {
	err := fmt.Errorf("opening archive: %w", zerr.New(zerr.ArchiveOpenError, "a.zip", "not found", nil))
	assert.Equal(t, 10+int(zerr.ArchiveOpenError), exitCode(err))
}

func TestExitCodeOutOfMemoryFallsBackToOne(t *testing.T) {
	err := zerr.New(zerr.OutOfMemory, "", "allocation failed", nil)
	assert.Equal(t, 1, exitCode(err))
}
