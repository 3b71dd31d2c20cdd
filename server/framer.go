//
// Copyright 2019-2022 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package server

import (
	"errors"
)

// MaxMessageLength bounds the partial-message buffer of one client.
// Accumulating this many bytes without a record terminator is a protocol
// violation that tears the session down.
const MaxMessageLength = 64

// ErrMessageTooLong is reported by the framer when a client exceeds
// MaxMessageLength without sending a terminator.
var ErrMessageTooLong = errors.New("message exceeds maximum length")

// Framer decodes a client byte stream into messages. CR, LF and CRLF are
// all record terminators; the LF of a CRLF pair is discarded even when the
// pair is split across reads.
type Framer struct {
	partial []byte
	sawCR   bool
}

// Feed scans data byte by byte, invoking emit for every complete message
// (terminator excluded). When emit returns false, scanning stops and the
// remaining bytes are discarded; Feed then returns false. A buffer
// overrun returns ErrMessageTooLong after any earlier complete messages
// have been emitted.
func (f *Framer) Feed(data []byte, emit func(message string) bool) (bool, error) {

	for _, b := range data {
		if f.sawCR && b == '\n' {
			f.sawCR = false
			continue
		}
		f.sawCR = b == '\r'

		if b == '\r' || b == '\n' {
			message := string(f.partial)
			f.partial = f.partial[:0]
			if !emit(message) {
				return false, nil
			}
			continue
		}

		f.partial = append(f.partial, b)
		if len(f.partial) >= MaxMessageLength {
			return false, ErrMessageTooLong
		}
	}

	return true, nil
}
