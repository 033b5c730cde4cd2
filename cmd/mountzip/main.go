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

// Command mountzip mounts a ZIP archive as a read-only POSIX
// filesystem, projecting each entry onto an inode following the
// algorithm in internal/tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/google/mountzip/cfg"
	"github.com/google/mountzip/internal/clock"
	"github.com/google/mountzip/internal/encoding"
	"github.com/google/mountzip/internal/fusefs"
	"github.com/google/mountzip/internal/logger"
	"github.com/google/mountzip/internal/metrics"
	"github.com/google/mountzip/internal/reader"
	"github.com/google/mountzip/internal/tree"
	"github.com/google/mountzip/internal/zerr"
	"github.com/google/mountzip/internal/zipsource"
)

var mountConfig cfg.Config

var rootCmd = &cobra.Command{
	Use:   "mountzip <archive> <mount-point>",
	Short: "Mount a ZIP archive as a read-only filesystem",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if configFile, err := cmd.Flags().GetString("config"); err == nil && configFile != "" {
			if err := cfg.LoadDefaultsFromFile(configFile); err != nil {
				return err
			}
		}
		if err := viper.Unmarshal(&mountConfig, cfg.DecoderConfigOption); err != nil {
			return fmt.Errorf("unmarshaling flags: %w", err)
		}
		mountConfig.Archive = args[0]
		mountConfig.MountPoint = args[1]
		return run(cmd.Context(), mountConfig)
	},
}

func init() {
	if err := cfg.BindFlags(rootCmd.Flags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(code)
	}
}

// exitCode implements spec section 6's exit-code contract: 0 on
// success (handled by cobra's default return), >=10 for a ZIP-layer
// failure, 1 for anything else.
func exitCode(err error) int {
	var zerror *zerr.Error
	if !errors.As(err, &zerror) {
		return 1
	}
	switch zerror.Kind {
	case zerr.ArchiveOpenError, zerr.EntryDecodeError, zerr.UnsupportedCompression, zerr.UnsupportedEncryption, zerr.PasswordMismatch:
		return 10 + int(zerror.Kind)
	default:
		return 1
	}
}

func run(ctx context.Context, c cfg.Config) error {
	if err := initLogging(c.Logging); err != nil {
		return err
	}
	defer logger.Close()

	if c.Cache != "" || c.NoCache {
		logger.Warnf("--cache/--nocache accepted but ignored; caching to disk is not implemented")
	}

	archive, err := zipsource.Open(c.Archive)
	if err != nil {
		return err
	}

	opts := tree.Options{
		Encoding:            encoding.Name(c.Entries.Encoding),
		IncludeSymlinks:     !c.Entries.NoSymlinks,
		IncludeHardlinks:    !c.Entries.NoHardlinks,
		IncludeSpecialFiles: !c.Entries.NoSpecials,
		CheckPassword:       c.Entries.CheckPassword && !c.FileSystem.Force,
		CheckCompression:    c.Entries.CheckCompression && !c.FileSystem.Force,
	}

	t, err := tree.Build(ctx, archive, opts, clock.RealClock{})
	if err != nil {
		archive.Close()
		return err
	}

	var collectors *metrics.Collectors
	if c.Metrics.Addr != "" {
		collectors = metrics.New()
		collectors.RefreshFromTree(t)
		go func() {
			if err := collectors.Serve(ctx, c.Metrics.Addr); err != nil {
				logger.Warnf("metrics server stopped: %v", err)
			}
		}()
	}

	fsCfg := fusefs.Config{
		OverrideUid: c.FileSystem.Uid >= 0,
		Uid:         uint32(c.FileSystem.Uid),
		OverrideGid: c.FileSystem.Gid >= 0,
		Gid:         uint32(c.FileSystem.Gid),
		DirMask:     os.FileMode(c.FileSystem.DMask),
		FileMask:    os.FileMode(c.FileSystem.FMask),
	}
	server := fusefs.New(archive, t, fsCfg)

	mountCfg := &fuse.MountConfig{
		FSName:     "mountzip",
		Subtype:    "mountzip",
		VolumeName: "mountzip",
		Options:    map[string]string{"ro": ""},
	}
	if c.Logging.Verbose {
		mountCfg.DebugLogger = log.New(os.Stderr, "fuse_debug: ", log.LstdFlags)
	}

	mfs, err := fuse.Mount(c.MountPoint, server, mountCfg)
	if err != nil {
		closeTree(ctx, t, collectors)
		return zerr.New(zerr.ArchiveOpenError, c.MountPoint, "mount failed", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Infof("received shutdown signal, unmounting")
		if err := fuse.Unmount(c.MountPoint); err != nil {
			logger.Warnf("unmount failed: %v", err)
		}
	}()

	if err := mfs.Join(ctx); err != nil {
		closeTree(ctx, t, collectors)
		return fmt.Errorf("fuse server failure: %w", err)
	}

	return closeTree(ctx, t, collectors)
}

// closeTree tears down t, reporting each released reader's
// advance/rewind/cache-hit counters to collectors (if enabled) before
// it goes away.
func closeTree(ctx context.Context, t *tree.Tree, collectors *metrics.Collectors) error {
	if collectors == nil {
		return t.Close(ctx)
	}
	return t.Close(ctx, func(r reader.Reader) {
		if rs, ok := r.(metrics.ReaderStats); ok {
			collectors.AddReaderStats(rs)
		}
	})
}

func initLogging(c cfg.LoggingConfig) error {
	severity := "INFO"
	if c.Quiet {
		severity = "ERROR"
	}
	if c.Verbose {
		severity = "DEBUG"
	}
	return logger.Init(logger.Config{
		Severity: severity,
		Format:   c.Format,
		FilePath: c.LogFile,
		Redact:   c.Redact,
	})
}
