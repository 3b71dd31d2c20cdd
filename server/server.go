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

// Package server implements remountd's connection core: endpoint
// acquisition (standalone / systemd socket activation / inetd), the
// per-client line framing, and the single-threaded epoll event loop that
// multiplexes the listener, the client set, and the termination pipe.
package server

import (
	"fmt"

	"github.com/remountd/remountd/domain"
	"github.com/remountd/remountd/sysio"

	sddaemon "github.com/coreos/go-systemd/daemon"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Server drives the event loop: one epoll instance watching the
// termination pipe, the listener (unless in inetd mode) and every client
// session. Single-goroutine; suspension happens only inside epoll_wait.
type Server struct {
	endpoint   *Endpoint
	term       *sysio.TerminationPipe
	handler    domain.CommandHandlerIface
	newSession domain.SessionFactory
	epollFd    *sysio.Fd
	sessions   map[int]domain.SessionIface
}

// New assembles a server around an acquired endpoint. The session factory
// decides the behavior of accepted connections; passing nil selects the
// line-protocol session of this package.
func New(
	endpoint *Endpoint,
	term *sysio.TerminationPipe,
	handler domain.CommandHandlerIface,
	newSession domain.SessionFactory) *Server {

	if newSession == nil {
		newSession = NewSession
	}

	return &Server{
		endpoint:   endpoint,
		term:       term,
		handler:    handler,
		newSession: newSession,
		epollFd:    sysio.NewInvalidFd(),
		sessions:   make(map[int]domain.SessionIface),
	}
}

// Quit requests a server shutdown; the loop returns within one wakeup.
func (srv *Server) Quit() {
	sysio.NotifyTermination()
}

// Run executes the event loop until a termination wakeup arrives or, in
// inetd mode, until the sole client disconnects. A failure of the
// multiplex facility itself is fatal and returned; session-scoped failures
// only drop the affected session.
func (srv *Server) Run() error {

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("epoll_create1() failed: %v", err)
	}
	srv.epollFd.Reset(epfd)
	defer srv.teardown()

	if err := srv.watchFd(srv.term.ReadFd()); err != nil {
		return err
	}

	if srv.endpoint.Mode() == domain.ServerModeInetd {
		// The supervisor handed us an already-connected socket; it
		// becomes the sole session and there is no listener to watch.
		if err := srv.addSession(srv.endpoint.fd.Release()); err != nil {
			return err
		}
	} else {
		if err := srv.watchFd(srv.endpoint.Fd()); err != nil {
			return err
		}
	}

	if srv.endpoint.Mode() == domain.ServerModeSystemd {
		sddaemon.SdNotify(false, sddaemon.SdNotifyReady)
	}

	events := make([]unix.EpollEvent, 64)

	for {
		n, err := unix.EpollWait(srv.epollFd.Get(), events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("epoll_wait() failed: %v", err)
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			fd := int(ev.Fd)

			// A termination wakeup preempts the rest of the batch.
			if fd == srv.term.ReadFd() {
				srv.term.Drain()
				logrus.Info("Termination requested; shutting down")
				return nil
			}

			if srv.endpoint.Mode() != domain.ServerModeInetd && fd == srv.endpoint.Fd() {
				if err := srv.acceptClients(); err != nil {
					return err
				}
				continue
			}

			session, ok := srv.sessions[fd]
			if !ok {
				// Already removed earlier in this batch.
				continue
			}

			if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
				srv.removeSession(session)
				continue
			}

			if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 {
				if !session.HandleReadable() {
					srv.removeSession(session)
				}
			}
		}

		if srv.endpoint.Mode() == domain.ServerModeInetd && len(srv.sessions) == 0 {
			logrus.Info("inetd client disconnected; exiting")
			return nil
		}
	}
}

// acceptClients accepts until the listener would block, creating one
// session per connection.
func (srv *Server) acceptClients() error {

	for {
		fd, _, err := unix.Accept4(srv.endpoint.Fd(),
			unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			return fmt.Errorf("accept4() failed: %v", err)
		}

		if err := srv.addSession(fd); err != nil {
			return err
		}
	}
}

// addSession registers fd with the readiness facility and inserts the new
// session into the client table.
func (srv *Server) addSession(fd int) error {

	event := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(srv.epollFd.Get(), unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		unix.Close(fd)
		return fmt.Errorf("epoll_ctl(ADD, client fd %d) failed: %v", fd, err)
	}

	srv.sessions[fd] = srv.newSession(fd, srv.handler)
	logrus.Debugf("Accepted client fd %d (%d active)", fd, len(srv.sessions))

	return nil
}

// removeSession unregisters and disconnects a session. The epoll
// deregistration precedes the close so no event can arrive for a recycled
// descriptor value.
func (srv *Server) removeSession(session domain.SessionIface) {

	fd := session.Fd()
	if err := unix.EpollCtl(srv.epollFd.Get(), unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		logrus.Debugf("epoll_ctl(DEL, client fd %d) failed: %v", fd, err)
	}

	delete(srv.sessions, fd)
	session.Disconnect()
	logrus.Debugf("Dropped client fd %d (%d active)", fd, len(srv.sessions))
}

// watchFd registers fd for level-triggered readability.
func (srv *Server) watchFd(fd int) error {

	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(srv.epollFd.Get(), unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl(ADD, fd %d) failed: %v", fd, err)
	}

	return nil
}

// teardown disconnects every live session and releases the epoll instance.
// The endpoint itself is torn down by its owner (Endpoint.Close), which
// also unlinks the standalone socket path.
func (srv *Server) teardown() {

	for _, session := range srv.sessions {
		session.Disconnect()
	}
	srv.sessions = make(map[int]domain.SessionIface)

	srv.epollFd.Close()
}
