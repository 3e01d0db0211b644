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

// Package loglimiter suppresses repeats of noisy once-a-second log
// messages. Messages are grouped by caller-chosen key so one failing
// camera flooding its key doesn't mask the other camera's first
// failure.
package loglimiter

import (
	"fmt"
	"log"
	"time"
)

// New returns a LogLimiter with the given minimum interval between
// repeats of a key.
func New(interval time.Duration) *LogLimiter {
	return &LogLimiter{
		interval: interval,
		nowFunc:  time.Now,
		last:     make(map[string]entry),
	}
}

type entry struct {
	msg string
	at  time.Time
}

// LogLimiter drops a message when the same key logged the same text
// within the interval. A key whose text changes always logs.
type LogLimiter struct {
	interval time.Duration
	nowFunc  func() time.Time
	last     map[string]entry
}

func (limiter *LogLimiter) Printf(key, format string, v ...interface{}) {
	limiter.Print(key, fmt.Sprintf(format, v...))
}

func (limiter *LogLimiter) Print(key, s string) {
	now := limiter.nowFunc()
	if prev, ok := limiter.last[key]; ok {
		if s == prev.msg && now.Sub(prev.at) < limiter.interval {
			return
		}
	}
	log.Print(s)
	limiter.last[key] = entry{msg: s, at: now}
}
