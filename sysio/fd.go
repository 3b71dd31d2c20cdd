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

package sysio

import (
	"golang.org/x/sys/unix"
)

const invalidFd = -1

// Fd owns one file descriptor. Ownership is exclusive: exactly one Fd (or
// one session / server component holding it) closes the descriptor, exactly
// once. Transfer happens through Release or Reset, never by copying.
type Fd struct {
	raw int
}

// NewFd takes ownership of raw. A negative value yields an invalid Fd.
func NewFd(raw int) *Fd {
	if raw < 0 {
		raw = invalidFd
	}
	return &Fd{raw: raw}
}

// NewInvalidFd returns an Fd holding no descriptor.
func NewInvalidFd() *Fd {
	return &Fd{raw: invalidFd}
}

// Valid reports whether a descriptor is held.
func (f *Fd) Valid() bool {
	return f.raw >= 0
}

// Get returns the held descriptor without transferring ownership.
func (f *Fd) Get() int {
	return f.raw
}

// Release yields the descriptor without closing it; the Fd becomes invalid.
func (f *Fd) Release() int {
	raw := f.raw
	f.raw = invalidFd
	return raw
}

// Reset replaces the held descriptor, closing the prior one if valid.
func (f *Fd) Reset(raw int) {
	f.Close()
	if raw < 0 {
		raw = invalidFd
	}
	f.raw = raw
}

// Close closes the held descriptor if valid; idempotent. Errors from
// close(2) are ignored; there is no meaningful recovery in the daemon
// context.
func (f *Fd) Close() {
	if f.raw >= 0 {
		unix.Close(f.raw)
		f.raw = invalidFd
	}
}
