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
	"github.com/remountd/remountd/domain"
	"github.com/remountd/remountd/sysio"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Session is the server-side state for one connected client: the owned
// descriptor plus the line framer decoding its byte stream.
type Session struct {
	fd      *sysio.Fd
	framer  Framer
	handler domain.CommandHandlerIface
}

// NewSession takes ownership of fd, which must already be non-blocking and
// close-on-exec.
func NewSession(fd int, handler domain.CommandHandlerIface) domain.SessionIface {
	return &Session{
		fd:      sysio.NewFd(fd),
		handler: handler,
	}
}

// Fd returns the owned descriptor.
func (s *Session) Fd() int {
	return s.fd.Get()
}

// HandleReadable reads until the socket would block, feeding every byte
// through the framer and dispatching each decoded message to the command
// handler. Returns false when the session must be torn down: end of
// stream, oversized partial message, or the handler ending the session.
func (s *Session) HandleReadable() bool {

	var buf [512]byte

	for {
		n, err := unix.Read(s.fd.Get(), buf[:])
		if n > 0 {
			keep, ferr := s.framer.Feed(buf[:n], func(message string) bool {
				return s.handler.Command(s.fd.Get(), message)
			})
			if ferr != nil {
				logrus.Debugf("Client fd %d: %v; dropping session", s.fd.Get(), ferr)
				return false
			}
			if !keep {
				return false
			}
			continue
		}

		if n == 0 {
			// End of stream.
			return false
		}

		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return true
		}

		// Read errors terminate this session only.
		logrus.Errorf("read() failed for client fd %d: %v", s.fd.Get(), err)
		return false
	}
}

// Disconnect closes the owned descriptor; idempotent.
func (s *Session) Disconnect() {
	s.fd.Close()
}
