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

package recorder

import (
	"os"
	"syscall"
)

// Storage is where sessions land. Present reports whether the medium is
// currently attached; the pacing loop polls it so an ejected card stops
// a session instead of wedging it.
type Storage interface {
	Present() bool
	Root() string
}

// DirStorage records into a fixed directory, typically an automounted
// card. Presence is the directory existing.
type DirStorage struct {
	Dir string
}

func (d *DirStorage) Present() bool {
	info, err := os.Stat(d.Dir)
	return err == nil && info.IsDir()
}

func (d *DirStorage) Root() string {
	return d.Dir
}

func checkDiskSpace(mb uint64, dir string) (bool, error) {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(dir, &fs); err != nil {
		return false, err
	}
	return fs.Bavail*uint64(fs.Bsize)/1024/1024 >= mb, nil
}
