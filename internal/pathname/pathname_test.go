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

package pathname

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePlain(t *testing.T) {
	n := Normalizer{}
	r, err := n.Normalize("a/b/c")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/c", r.Path)
}

func TestNormalizeCollapsesDoubleSlash(t *testing.T) {
	n := Normalizer{}
	r, err := n.Normalize("a//b")
	require.NoError(t, err)
	assert.Equal(t, "/a/b", r.Path)
}

func TestNormalizeEmptyRejected(t *testing.T) {
	n := Normalizer{}
	_, err := n.Normalize("")
	assert.Error(t, err)
}

func TestNormalizeDotDotComponentRejected(t *testing.T) {
	n := Normalizer{}
	_, err := n.Normalize("a/../b")
	assert.Error(t, err)
}

func TestNormalizeDotComponentRejected(t *testing.T) {
	n := Normalizer{}
	_, err := n.Normalize("a/./b")
	assert.Error(t, err)
}

func TestNormalizeControlCharRejected(t *testing.T) {
	n := Normalizer{}
	_, err := n.Normalize("a/b\x01c")
	assert.Error(t, err)
}

func TestNormalizeOverlongComponentRejected(t *testing.T) {
	n := Normalizer{NameMax: 4}
	_, err := n.Normalize("abcdef")
	assert.Error(t, err)
}

func TestNormalizeRootAbsoluteWithPrefix(t *testing.T) {
	n := Normalizer{NeedPrefix: true}
	r, err := n.Normalize("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/ROOT/abs", r.Path)
}

func TestNormalizeParentRelativeWithPrefix(t *testing.T) {
	n := Normalizer{NeedPrefix: true}
	r, err := n.Normalize("../up")
	require.NoError(t, err)
	assert.Equal(t, "/UP/up", r.Path)
	assert.True(t, r.ParentRelative)
}

func TestNormalizeDoubleParentRelative(t *testing.T) {
	n := Normalizer{NeedPrefix: true}
	r, err := n.Normalize("../../up")
	require.NoError(t, err)
	assert.Equal(t, "/UP/UP/up", r.Path)
}

func TestNormalizePlainWithPrefixGoesUnderCur(t *testing.T) {
	n := Normalizer{NeedPrefix: true}
	r, err := n.Normalize("plain/file")
	require.NoError(t, err)
	assert.Equal(t, "/CUR/plain/file", r.Path)
}

func TestNormalizeWithoutPrefixUnaffected(t *testing.T) {
	n := Normalizer{NeedPrefix: false}
	r, err := n.Normalize("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/abs", r.Path)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	n := Normalizer{}
	r1, err := n.Normalize("a//b/c")
	require.NoError(t, err)
	r2, err2 := n.Normalize(r1.Path)
	require.NoError(t, err2)
	assert.Equal(t, r1.Path, r2.Path)
	assert.NotContains(t, r2.Path, "//")
	assert.NotContains(t, r2.Path, "..")
}

func TestNeedsPrefix(t *testing.T) {
	assert.True(t, NeedsPrefix([]string{"a", "/abs"}))
	assert.True(t, NeedsPrefix([]string{"../up"}))
	assert.False(t, NeedsPrefix([]string{"a/b", "c/d"}))
}

func TestNormalizeNeverProducesTrailingSlash(t *testing.T) {
	n := Normalizer{}
	r, err := n.Normalize("a/b/")
	require.NoError(t, err)
	assert.False(t, strings.HasSuffix(r.Path, "/") && r.Path != "/")
}
