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

package main

import (
	"errors"
	"io/ioutil"
	"os"
	"path"
	"sync"
	"time"

	"github.com/openthermal/timelapse-recorder/coordinator"
)

const (
	snapshotName          = "latest.json"
	snapshotWait          = 2 * time.Second
	allowedSnapshotPeriod = 500 * time.Millisecond
)

var (
	previousSnapshotTime time.Time
	snapshotMu           sync.Mutex
)

// newSnapshot writes the next cycle's record bundle into dir. Repeat
// callers inside the allowed period get the previous file.
func newSnapshot(coord *coordinator.Coordinator, dir string) error {
	snapshotMu.Lock()
	defer snapshotMu.Unlock()

	if time.Since(previousSnapshotTime) < allowedSnapshotPeriod {
		return nil
	}

	reply := make(chan []byte, 1)
	coord.RequestImage(reply)

	var data []byte
	select {
	case data = <-reply:
	case <-time.After(snapshotWait):
		return errors.New("timed out waiting for a record")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if err := ioutil.WriteFile(path.Join(dir, snapshotName), data, 0644); err != nil {
		return err
	}

	// the time will be changed only if the attempt is successful
	previousSnapshotTime = time.Now()
	return nil
}
