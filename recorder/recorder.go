// timelapse-recorder - paired visual/thermal timelapse recording
//  Copyright (C) 2022, The Openthermal Project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package recorder writes record bundles to removable storage, laid out
// as one directory per recording session with records grouped into
// fixed-size subdirectories so no directory grows unbounded.
package recorder

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

const (
	// GroupSize is the number of records per group directory.
	GroupSize = 100

	// writeChunk bounds a single write syscall. Large writes starve the
	// capture loop on slow cards.
	writeChunk = 4096

	sessionTimeFormat = "06_01_02_15_04_05"
)

// Recorder accepts one session at a time and a stream of sequenced
// record bundles within it.
type Recorder interface {
	CheckCanRecord() error
	StartSession(start time.Time) error
	WriteBundle(seq int, data []byte) error
	StopSession() error
}

// NoWriteRecorder accepts and discards everything. Used when record
// writing is disabled from the command line.
type NoWriteRecorder struct {
}

func (*NoWriteRecorder) CheckCanRecord() error               { return nil }
func (*NoWriteRecorder) StartSession(time.Time) error        { return nil }
func (*NoWriteRecorder) WriteBundle(seq int, _ []byte) error { return nil }
func (*NoWriteRecorder) StopSession() error                  { return nil }

// FileRecorder writes sessions onto a Storage device.
type FileRecorder struct {
	storage      Storage
	minDiskSpace uint64 // MB

	sessionDir string
	groupDir   string
	group      int
}

func NewFileRecorder(storage Storage, minDiskSpaceMB uint64) *FileRecorder {
	return &FileRecorder{
		storage:      storage,
		minDiskSpace: minDiskSpaceMB,
	}
}

func (fr *FileRecorder) CheckCanRecord() error {
	if !fr.storage.Present() {
		return errors.New("no storage present")
	}
	enoughSpace, err := checkDiskSpace(fr.minDiskSpace, fr.storage.Root())
	if err != nil {
		return fmt.Errorf("Problem with checking disk space: %v", err)
	} else if !enoughSpace {
		return errors.New("not enough free disk space to record")
	}
	return nil
}

// StartSession creates a session directory named for the wall-clock
// start time. Any previous session is implicitly finished.
func (fr *FileRecorder) StartSession(start time.Time) error {
	name := "session_" + start.Format(sessionTimeFormat)
	dir := filepath.Join(fr.storage.Root(), name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	fr.sessionDir = dir
	fr.groupDir = ""
	fr.group = -1
	log.Printf("session started: %s", name)
	return nil
}

// WriteBundle stores one record. seq numbers start at 1; the group
// directory advances every GroupSize records and is created on first
// use.
func (fr *FileRecorder) WriteBundle(seq int, data []byte) error {
	if fr.sessionDir == "" {
		return errors.New("no session in progress")
	}
	group := (seq - 1) / GroupSize
	if group != fr.group || fr.groupDir == "" {
		dir := filepath.Join(fr.sessionDir, fmt.Sprintf("group_%04d", group))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		fr.group = group
		fr.groupDir = dir
	}

	name := filepath.Join(fr.groupDir, fmt.Sprintf("img_%05d.json", seq))
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := writeChunked(f, data); err != nil {
		f.Close()
		os.Remove(name)
		return err
	}
	return f.Close()
}

func (fr *FileRecorder) StopSession() error {
	if fr.sessionDir == "" {
		return nil
	}
	log.Printf("session stopped: %s", filepath.Base(fr.sessionDir))
	fr.sessionDir = ""
	fr.groupDir = ""
	return nil
}

func writeChunked(f *os.File, data []byte) error {
	for len(data) > 0 {
		n := len(data)
		if n > writeChunk {
			n = writeChunk
		}
		if _, err := f.Write(data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}
