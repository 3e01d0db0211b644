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

package responder

// Wire framing: each command and response is a JSON document wrapped in
// STX/ETX bytes. JSON never contains either byte so no escaping is
// needed.
const (
	stx = 0x02
	etx = 0x03

	// rxBufLen bounds a single inbound frame. A frame that doesn't
	// terminate within the buffer is dropped without comment.
	rxBufLen = 2048
)

// frameScanner accumulates inbound bytes and yields the payload of each
// complete frame. On a terminator it walks back to the most recent start
// byte, so noise and partial frames ahead of a valid one are discarded.
type frameScanner struct {
	buf [rxBufLen]byte
	n   int
}

func (fs *frameScanner) push(b byte) ([]byte, bool) {
	if fs.n == len(fs.buf) {
		fs.n = 0
	}
	fs.buf[fs.n] = b
	fs.n++
	if b != etx {
		return nil, false
	}

	start := -1
	for i := fs.n - 2; i >= 0; i-- {
		if fs.buf[i] == stx {
			start = i
			break
		}
	}
	end := fs.n - 1
	fs.n = 0
	if start < 0 {
		return nil, false
	}
	frame := make([]byte, end-start-1)
	copy(frame, fs.buf[start+1:end])
	return frame, true
}

// wrap frames an outbound payload.
func wrap(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+2)
	out = append(out, stx)
	out = append(out, payload...)
	return append(out, etx)
}
