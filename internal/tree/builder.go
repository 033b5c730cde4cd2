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

import (
	"context"
	"io/fs"
	"os"
	"path"

	"github.com/google/mountzip/internal/clock"
	"github.com/google/mountzip/internal/datanode"
	"github.com/google/mountzip/internal/encoding"
	"github.com/google/mountzip/internal/extrafield"
	"github.com/google/mountzip/internal/filenode"
	"github.com/google/mountzip/internal/logger"
	"github.com/google/mountzip/internal/password"
	"github.com/google/mountzip/internal/pathname"
	"github.com/google/mountzip/internal/zerr"
	"github.com/google/mountzip/internal/zipsource"
)

// Options configures the tree builder, mirroring spec section 4.6's
// option table one-for-one.
type Options struct {
	Encoding            encoding.Name
	IncludeSymlinks     bool
	IncludeHardlinks    bool
	IncludeSpecialFiles bool
	CheckPassword       bool
	CheckCompression    bool
}

// sampleBudget caps how many raw-name bytes feed the encoding detector,
// per spec section 4.6 step 2 ("concatenate up to ~10 KB").
const sampleBudget = 10 * 1024

type deferredHardlink struct {
	id   int
	path string
}

// Build runs the full tree-construction algorithm (spec section 4.6)
// over archive and returns the resulting Tree.
func Build(ctx context.Context, archive zipsource.Archive, opts Options, clk clock.Clock) (*Tree, error) {
	t := newTree(archive, clk)

	t.mu.Lock()
	defer t.mu.Unlock()

	root := filenode.New(-1, "/", nil, datanode.MakeSynthesized(clk))
	t.root = root
	t.byPath["/"] = root

	n := archive.NumEntries()
	rawNames := make([]string, n)
	var sample []byte
	for i := 0; i < n; i++ {
		raw := archive.RawName(i)
		rawNames[i] = string(raw)
		if len(sample) < sampleBudget {
			take := raw
			if len(sample)+len(take) > sampleBudget {
				take = take[:sampleBudget-len(sample)]
			}
			sample = append(sample, take...)
		}
	}
	needPrefix := pathname.NeedsPrefix(rawNames)

	converter := resolveEncoding(opts.Encoding, sample)
	normalizer := pathname.Normalizer{NeedPrefix: needPrefix, NameMax: pathname.DefaultNameMax}

	var deferred []deferredHardlink
	passwordChecked := false

	for i := 0; i < n; i++ {
		raw := archive.RawName(i)
		rawStr := rawNames[i]
		endsWithSlash := len(raw) > 0 && raw[len(raw)-1] == '/'

		opsys, attr := archive.ExternalAttributes(i)
		mode, isHardlink := deriveAttributes(opsys, attr, endsWithSlash)

		name, err := converter.ToUTF8(raw)
		if err != nil {
			logger.Warnf("failed to transcode entry name, using raw bytes: %v", err)
			name = rawStr
		}

		result, err := normalizer.Normalize(name)
		if err != nil {
			logger.Warnf("skipping entry with unrepresentable path %q: %v", name, err)
			continue
		}
		p := result.Path
		originalPath := trimTrailingSlash(rawStr)

		if mode.IsDir() {
			dir := t.CreateDir(p)
			data, err := datanode.Make(archive, i, mode, clk)
			if err != nil {
				logger.Warnf("skipping unreadable directory entry %q: %v", p, err)
				continue
			}
			data.SetNlink(dir.Link.Nlink())
			dir.Data = data
			dir.Link = data
			dir.OriginalPath = originalPath
			t.byOriginalPath[originalPath] = dir
			t.dataNodes = append(t.dataNodes, data)
			t.blockCount += data.BlockCount()
			continue
		}

		typ := mode.Type()
		if typ == fs.ModeSymlink && !opts.IncludeSymlinks {
			continue
		}
		if (typ == fs.ModeNamedPipe || typ == fs.ModeSocket || typ == fs.ModeDevice || typ == fs.ModeCharDevice) && !opts.IncludeSpecialFiles {
			continue
		}

		if isHardlink {
			if !opts.IncludeHardlinks {
				continue
			}
			deferred = append(deferred, deferredHardlink{id: i, path: p})
			continue
		}

		if !passwordChecked && archive.IsEncrypted(i) {
			passwordChecked = true
			if err := acquirePassword(ctx, archive, i, opts.CheckPassword); err != nil {
				return nil, err
			}
		}

		parentDir := t.CreateDir(path.Dir(p))
		data, err := datanode.Make(archive, i, mode, clk)
		if err != nil {
			logger.Warnf("skipping unreadable entry %q: %v", p, err)
			continue
		}
		node := filenode.New(i, path.Base(p), parentDir, data)
		t.insertWithCollision(p, node)
		node.Parent.AddChild(node)
		node.OriginalPath = originalPath
		t.byOriginalPath[originalPath] = node
		t.dataNodes = append(t.dataNodes, data)
		t.blockCount += data.BlockCount()
	}

	t.resolveHardlinks(archive, deferred, clk)
	if err := t.checkCompressionCapability(archive, opts); err != nil {
		return nil, err
	}
	t.finalizeRootTime(clk)

	return t, nil
}

func (t *Tree) resolveHardlinks(archive zipsource.Archive, deferred []deferredHardlink, clk clock.Clock) {
	for _, dh := range deferred {
		opsys, attr := archive.ExternalAttributes(dh.id)
		mode, _ := deriveAttributes(opsys, attr, false)

		targetRaw, ok := hardlinkTarget(archive, dh.id, mode)
		var targetNode *filenode.FileNode
		if ok {
			targetNode, ok = t.byOriginalPath[string(targetRaw)]
		}

		if ok && sameTypeClass(mode, targetNode.Link.Mode) {
			parent := t.CreateDir(path.Dir(dh.path))
			link := filenode.NewHardlink(dh.id, path.Base(dh.path), parent, targetNode.Link)
			t.insertWithCollision(dh.path, link)
			link.Parent.AddChild(link)
			targetNode.Link.IncrementNlink()
			continue
		}

		// No resolvable target: fall back to a primary node built
		// straight from the entry. For a hardlink claiming symlink type
		// this is exactly what spec section 4.6 step 5 asks for
		// ("unless the hardlink carries symlink type, in which case a
		// primary node is created instead" -- which subsumes the
		// type-mismatch and missing-target cases too).
		parent := t.CreateDir(path.Dir(dh.path))
		data, err := datanode.Make(archive, dh.id, mode, clk)
		if err != nil {
			logger.Warnf("skipping unresolvable hardlink entry %q: %v", dh.path, err)
			continue
		}
		node := filenode.New(dh.id, path.Base(dh.path), parent, data)
		t.insertWithCollision(dh.path, node)
		node.Parent.AddChild(node)
		node.OriginalPath = trimTrailingSlash(string(archive.RawName(dh.id)))
		t.byOriginalPath[node.OriginalPath] = node
		t.dataNodes = append(t.dataNodes, data)
		t.blockCount += data.BlockCount()
	}
}

func sameTypeClass(a, b fs.FileMode) bool {
	return a.Type() == b.Type()
}

func hardlinkTarget(archive zipsource.Archive, id int, mode fs.FileMode) ([]byte, bool) {
	data, ok := archive.ExtraField(id, extrafield.TagPKWAREUnix, extrafield.Central)
	if !ok {
		return nil, false
	}
	rec, err := extrafield.DecodePKWAREUnix(data)
	isDevice := mode&(fs.ModeDevice|fs.ModeCharDevice) != 0
	if err != nil || (rec.HasDevice && isDevice) || len(rec.Target) == 0 {
		return nil, false
	}
	return rec.Target, true
}

func (t *Tree) checkCompressionCapability(archive zipsource.Archive, opts Options) error {
	for _, data := range t.dataNodes {
		if data.ID < 0 {
			continue
		}
		unsupported := !archive.CompressionSupported(data.ID) ||
			(archive.IsEncrypted(data.ID) && !archive.EncryptionSupported(data.ID))
		if !unsupported {
			continue
		}
		if opts.CheckCompression {
			return zerr.New(zerr.UnsupportedCompression, "", "entry uses an unsupported compression or encryption method", nil)
		}
		logger.Warnf("entry id %d uses an unsupported compression or encryption method, content will be unavailable", data.ID)
	}
	return nil
}

func (t *Tree) finalizeRootTime(clk clock.Clock) {
	var latest = t.root.Link.Mtime
	found := false
	for _, child := range t.root.Children {
		if child.Link.Mtime.After(latest) || !found {
			latest = child.Link.Mtime
			found = true
		}
	}
	if found {
		t.root.Link.Mtime = latest
	}
}

func acquirePassword(ctx context.Context, archive zipsource.Archive, id int, fatal bool) error {
	pw, err := password.Prompt(os.Stdout, "Archive password: ")
	if err != nil {
		if fatal {
			return zerr.New(zerr.PasswordMismatch, "", "failed to read password", err)
		}
		logger.Warnf("failed to read password, continuing without one: %v", err)
		return nil
	}
	archive.SetPassword(pw)
	if err := zipsource.ProbePassword(ctx, archive, id); err != nil {
		if fatal {
			return err
		}
		logger.Warnf("password probe failed, continuing: %v", err)
	}
	return nil
}

func trimTrailingSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
