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

package settings

import (
	"fmt"
	"io/ioutil"
	"os"
)

// MemStore is an in-memory Store used in tests and as a fallback when no
// battery-backed device is configured.
type MemStore struct {
	Bytes [Size]byte
}

func (m *MemStore) Read(buf []byte) error {
	copy(buf, m.Bytes[:])
	return nil
}

func (m *MemStore) Write(off int, data []byte) error {
	if off < 0 || off+len(data) > Size {
		return fmt.Errorf("write of %d bytes at %d outside store", len(data), off)
	}
	copy(m.Bytes[off:], data)
	return nil
}

// FileStore keeps the settings block in a file. It stands in for the RTC
// SRAM on hosts that keep their clock, trading battery backing for a
// filesystem that survives reboots.
type FileStore struct {
	Path string
}

func (f *FileStore) Read(buf []byte) error {
	data, err := ioutil.ReadFile(f.Path)
	if os.IsNotExist(err) {
		// A missing file reads as zeroes; Load will see a bad magic
		// word and initialize defaults.
		for i := range buf {
			buf[i] = 0
		}
		return nil
	}
	if err != nil {
		return err
	}
	copy(buf, data)
	return nil
}

func (f *FileStore) Write(off int, data []byte) error {
	block := make([]byte, Size)
	if err := f.Read(block); err != nil {
		return err
	}
	if off < 0 || off+len(data) > Size {
		return fmt.Errorf("write of %d bytes at %d outside store", len(data), off)
	}
	copy(block[off:], data)
	return ioutil.WriteFile(f.Path, block, 0644)
}
