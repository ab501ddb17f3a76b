// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package simenv

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Watch applies path through player every time the file is rewritten,
// until ctx is done. The initial contents are not applied; callers load
// them first.
//
// The parent directory is watched for IN_CLOSE_WRITE and IN_MOVED_TO
// on the file name, which catches both in-place writes and editors
// that write a temporary file and rename it over the original.
func Watch(ctx context.Context, path string, player *Player, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	directory := filepath.Dir(absolutePath)
	filename := filepath.Base(absolutePath)

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("inotify init: %w", err)
	}
	defer unix.Close(fd)
	if _, err := unix.InotifyAddWatch(fd, directory, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO); err != nil {
		return fmt.Errorf("watching %s: %w", directory, err)
	}

	watcher := &reloader{path: absolutePath, player: player, logger: logger.With("component", "scenario-watch")}
	buffer := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}
		descriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(descriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("polling inotify: %w", err)
		}
		if count == 0 {
			continue
		}
		bytesRead, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return fmt.Errorf("reading inotify: %w", err)
		}
		if !inotifyNamesFile(buffer[:bytesRead], filename) {
			continue
		}

		// Coalesce bursts of writes into one reload.
		time.Sleep(50 * time.Millisecond)
		drainInotify(fd, buffer)
		watcher.reload()
	}
}

// inotifyNamesFile reports whether any event in buffer names filename.
// Each event is a 16-byte header (wd, mask, cookie, len) followed by a
// null-padded name of len bytes.
func inotifyNamesFile(buffer []byte, filename string) bool {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			return false
		}
		name := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
		for index, b := range name {
			if b == 0 {
				name = name[:index]
				break
			}
		}
		if string(name) == filename {
			return true
		}
		offset += eventSize
	}
	return false
}

func drainInotify(fd int, buffer []byte) {
	for {
		if _, err := unix.Read(fd, buffer); err != nil {
			return
		}
	}
}
