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
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Write end of the termination pipe, published process-wide so that the
// signal forwarder and programmatic quit can wake the event loop without a
// reference to the pipe. Invalidated before the pipe closes so no wakeup
// can land on a recycled descriptor.
var terminationWriteFd int32 = invalidFd

// TerminationPipe collapses asynchronous termination requests (signals,
// programmatic quit) into a readable event on its read end. Both ends are
// non-blocking and close-on-exec, atomic with creation.
type TerminationPipe struct {
	readFd  *Fd
	writeFd *Fd
}

// NewTerminationPipe creates the pipe and publishes its write end.
func NewTerminationPipe() (*TerminationPipe, error) {
	var fds [2]int

	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("pipe2() failed: %v", err)
	}

	tp := &TerminationPipe{
		readFd:  NewFd(fds[0]),
		writeFd: NewFd(fds[1]),
	}

	atomic.StoreInt32(&terminationWriteFd, int32(fds[1]))

	return tp, nil
}

// ReadFd returns the descriptor the event loop must watch for readability.
func (tp *TerminationPipe) ReadFd() int {
	return tp.readFd.Get()
}

// Drain consumes all pending wakeup bytes. One wakeup and a thousand look
// the same afterwards.
func (tp *TerminationPipe) Drain() {
	var buf [64]byte

	for {
		n, err := unix.Read(tp.readFd.Get(), buf[:])
		if n > 0 {
			continue
		}
		if err == unix.EINTR {
			continue
		}
		return
	}
}

// Close revokes the published write end and closes both ends. Idempotent.
func (tp *TerminationPipe) Close() {
	atomic.StoreInt32(&terminationWriteFd, invalidFd)
	tp.writeFd.Close()
	tp.readFd.Close()
}

// NotifyTermination writes a single wakeup byte to the published write end.
// Safe to call at any time; a full pipe or an already-closed pipe is as
// good as a delivered wakeup.
func NotifyTermination() {
	fd := atomic.LoadInt32(&terminationWriteFd)
	if fd == invalidFd {
		return
	}

	for {
		_, err := unix.Write(int(fd), []byte{0})
		if err == unix.EINTR {
			continue
		}
		if err != nil && err != unix.EAGAIN {
			logrus.Debugf("Termination wakeup write failed: %v", err)
		}
		return
	}
}
