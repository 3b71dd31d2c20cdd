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

// Package client implements remountctl's side of the line protocol: open a
// session over the daemon's UNIX socket, send one command line, and read
// back one reply line.
package client

import (
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// maxReplyLength bounds one reply line; the daemon never sends more than a
// few hundred bytes, so anything beyond this is a broken peer.
const maxReplyLength = 4096

var maxSocketPathLen = len(unix.RawSockaddrUnix{}.Path)

// Send connects to the daemon socket, writes message, and returns the
// first reply line. An empty reply with a nil error means the daemon
// closed the connection without replying (e.g. after 'quit').
func Send(socketPath string, message string) (string, error) {

	if len(socketPath) >= maxSocketPathLen {
		return "", fmt.Errorf("socket path is too long for AF_UNIX: '%s'", socketPath)
	}

	conn, err := net.DialUnix("unix", nil,
		&net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return "", fmt.Errorf("connect('%s') failed: %v", socketPath, err)
	}
	defer conn.Close()

	if _, err := conn.Write([]byte(message)); err != nil {
		return "", fmt.Errorf("write('%s') failed: %v", socketPath, err)
	}

	return readReplyLine(conn)
}

// readReplyLine reads until the first record terminator, applying the same
// CR / LF / CRLF discipline as the daemon. A CR terminator is normalized
// to LF in the returned line; end of stream yields whatever was buffered.
func readReplyLine(r io.Reader) (string, error) {

	var reply []byte
	sawCR := false
	buf := make([]byte, 512)

	for {
		n, err := r.Read(buf)

		for i := 0; i < n; i++ {
			b := buf[i]

			if sawCR && b == '\n' {
				sawCR = false
				continue
			}
			sawCR = b == '\r'

			if b == '\r' {
				reply = append(reply, '\n')
				return string(reply), nil
			}

			reply = append(reply, b)
			if b == '\n' {
				return string(reply), nil
			}

			if len(reply) >= maxReplyLength {
				return "", fmt.Errorf("reply line too long")
			}
		}

		if err == io.EOF {
			return string(reply), nil
		}
		if err != nil {
			return "", fmt.Errorf("read(socket) failed: %v", err)
		}
	}
}
