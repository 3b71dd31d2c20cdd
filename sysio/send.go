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
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// SendText writes text to a connected client socket. Replies are short, so
// a send buffer that fills up (EAGAIN on a non-blocking fd) is logged and
// the remainder abandoned; clients read with blocking reads and tolerate a
// truncated reply better than the loop tolerates blocking here.
func SendText(fd int, text string) {
	data := []byte(text)

	sent := 0
	for sent < len(data) {
		n, err := unix.SendmsgN(fd, data[sent:], nil, nil, unix.MSG_NOSIGNAL)
		if n > 0 {
			sent += n
			continue
		}

		if err == unix.EINTR {
			continue
		}

		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			logrus.Warnf("Partial reply sent to client fd %d", fd)
			return
		}

		logrus.Errorf("send() failed for client fd %d: %v", fd, err)
		return
	}
}
