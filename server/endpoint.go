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
	"fmt"
	"os"

	"github.com/remountd/remountd/domain"
	"github.com/remountd/remountd/sysio"

	"github.com/coreos/go-systemd/activation"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const listenBacklog = 32

// maxSocketPathLen is the capacity of sockaddr_un's sun_path field; a
// pathname of this length would leave no room for the NUL terminator.
var maxSocketPathLen = len(unix.RawSockaddrUnix{}.Path)

// Endpoint is the acquired listening endpoint: the descriptor, the mode it
// was acquired in, and the teardown intents that go with that mode.
type Endpoint struct {
	fd              *sysio.Fd
	mode            domain.ServerMode
	closeOnTeardown bool
	unlinkPath      string // unlink on teardown when nonempty
}

// OpenEndpoint produces the listening (or, for inetd, already-connected)
// descriptor. Mode selection happens once, here:
//
//  1. --inetd: adopt stdin, which must be a UNIX stream socket. The
//     supervisor owns it, so it is not closed on teardown.
//  2. Socket activation probe: exactly one passed fd that is a UNIX stream
//     socket is adopted; any other passed-fd situation is an error.
//  3. Otherwise, create a standalone listener bound to the configured path.
//
// Whatever the mode, the descriptor is non-blocking before the event loop
// touches it.
func OpenEndpoint(cfg domain.ConfigIface, inetdMode bool) (*Endpoint, error) {

	if inetdMode {
		return openInetd()
	}

	ep, err := openSystemd()
	if err != nil {
		return nil, err
	}
	if ep != nil {
		return ep, nil
	}

	return openStandalone(cfg.SocketPath())
}

func openInetd() (*Endpoint, error) {

	if !isUnixStreamSocket(int(os.Stdin.Fd())) {
		return nil, fmt.Errorf("--inetd was specified but stdin is not a socket")
	}

	fd := int(os.Stdin.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("unable to set stdin non-blocking: %v", err)
	}
	unix.CloseOnExec(fd)

	logrus.Info("Running in --inetd mode; serving the connection on stdin")

	return &Endpoint{
		fd:              sysio.NewFd(fd),
		mode:            domain.ServerModeInetd,
		closeOnTeardown: false,
	}, nil
}

// openSystemd probes the supervisor's fd-passing protocol. Returns
// (nil, nil) when no fds were passed, i.e. standalone mode applies.
func openSystemd() (*Endpoint, error) {

	files := activation.Files(true)
	if len(files) == 0 {
		return nil, nil
	}
	if len(files) > 1 {
		for _, f := range files {
			f.Close()
		}
		return nil, fmt.Errorf("socket activation error: expected exactly one socket from systemd, got %d",
			len(files))
	}

	passed := files[0]
	if !isUnixStreamSocket(int(passed.Fd())) {
		passed.Close()
		return nil, fmt.Errorf("socket activation error: inherited fd is not a UNIX stream socket")
	}

	// Duplicate the passed descriptor so that its lifetime is ours alone;
	// the os.File wrapper can then be closed without tearing the socket
	// down.
	fd, err := unix.FcntlInt(passed.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		passed.Close()
		return nil, fmt.Errorf("socket activation error: unable to dup inherited fd: %v", err)
	}
	passed.Close()

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socket activation error: unable to set inherited fd non-blocking: %v", err)
	}

	logrus.Info("Using systemd-activated listening socket")

	return &Endpoint{
		fd:              sysio.NewFd(fd),
		mode:            domain.ServerModeSystemd,
		closeOnTeardown: true,
	}, nil
}

func openStandalone(socketPath string) (*Endpoint, error) {

	if len(socketPath) >= maxSocketPathLen {
		return nil, fmt.Errorf("socket path is too long for AF_UNIX: '%s'", socketPath)
	}

	// An existing socket file is treated as a stale leftover of a prior
	// run and removed; anything else occupying the path is a hard error.
	fi, err := os.Lstat(socketPath)
	if err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("path exists and is not a socket: '%s'", socketPath)
		}
		logrus.Warnf("Removing stale socket '%s'", socketPath)
		if err := os.Remove(socketPath); err != nil {
			return nil, fmt.Errorf("unable to remove stale socket '%s': %v", socketPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("unable to inspect socket path '%s': %v", socketPath, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX,
		unix.SOCK_STREAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_UNIX) failed: %v", err)
	}
	listener := sysio.NewFd(fd)

	addr := &unix.SockaddrUnix{Name: socketPath}
	if err := unix.Bind(listener.Get(), addr); err != nil {
		listener.Close()
		return nil, fmt.Errorf("bind('%s') failed: %v", socketPath, err)
	}

	if err := unix.Listen(listener.Get(), listenBacklog); err != nil {
		listener.Close()
		os.Remove(socketPath)
		return nil, fmt.Errorf("listen('%s') failed: %v", socketPath, err)
	}

	logrus.Infof("Listening on %s", socketPath)

	return &Endpoint{
		fd:              listener,
		mode:            domain.ServerModeStandalone,
		closeOnTeardown: true,
		unlinkPath:      socketPath,
	}, nil
}

// isUnixStreamSocket reports whether fd refers to an AF_UNIX SOCK_STREAM
// socket.
func isUnixStreamSocket(fd int) bool {

	soType, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil || soType != unix.SOCK_STREAM {
		return false
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		return false
	}
	_, ok := sa.(*unix.SockaddrUnix)

	return ok
}

// Fd returns the acquired descriptor: the listener in standalone/systemd
// modes, the sole connected client in inetd mode.
func (ep *Endpoint) Fd() int {
	return ep.fd.Get()
}

// Mode returns the mode the endpoint was acquired in.
func (ep *Endpoint) Mode() domain.ServerMode {
	return ep.mode
}

// Close tears the endpoint down according to the acquisition mode: the
// descriptor is closed only when this process owns it, and the socket path
// is unlinked only when this process bound it. Idempotent.
func (ep *Endpoint) Close() {

	if ep.closeOnTeardown {
		ep.fd.Close()
	} else {
		ep.fd.Release()
	}

	if ep.unlinkPath != "" {
		if err := os.Remove(ep.unlinkPath); err != nil && !os.IsNotExist(err) {
			logrus.Warnf("Unable to remove socket '%s': %v", ep.unlinkPath, err)
		}
		ep.unlinkPath = ""
	}
}
