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

package domain

// ServerMode identifies how the listening endpoint was acquired. It is
// determined once at startup and never changes thereafter.
type ServerMode int

const (
	ServerModeNone ServerMode = iota

	// The supervisor passed an already-connected client socket on stdin;
	// the daemon serves exactly that connection and exits.
	ServerModeInetd

	// The supervisor passed a pre-listening socket (LISTEN_FDS protocol).
	ServerModeSystemd

	// The daemon created and bound the listening socket itself.
	ServerModeStandalone
)

func (m ServerMode) String() string {
	switch m {
	case ServerModeInetd:
		return "inetd"
	case ServerModeSystemd:
		return "systemd"
	case ServerModeStandalone:
		return "standalone"
	default:
		return "none"
	}
}

// SessionIface is the server-side state for one connected client.
type SessionIface interface {
	// Fd returns the descriptor owned by this session.
	Fd() int

	// HandleReadable drains the socket and dispatches every decoded
	// message. It returns false when the session must be torn down
	// (end-of-stream, protocol violation, or 'quit').
	HandleReadable() bool

	// Disconnect closes the owned descriptor; idempotent.
	Disconnect()
}

// CommandHandlerIface validates and executes one decoded message.
// The returned bool is false when the session must be closed.
type CommandHandlerIface interface {
	Command(fd int, message string) bool
}

// SessionFactory produces the session object for a freshly accepted (or, in
// inetd mode, inherited) connection. The descriptor is already non-blocking
// and close-on-exec; ownership transfers to the session.
type SessionFactory func(fd int, handler CommandHandlerIface) SessionIface
