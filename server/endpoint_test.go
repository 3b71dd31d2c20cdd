package server

import (
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/remountd/remountd/domain"

	"golang.org/x/sys/unix"
)

func TestStandaloneListenerLifecycle(t *testing.T) {

	socketPath := filepath.Join(t.TempDir(), "remountd.sock")

	ep, err := openStandalone(socketPath)
	if err != nil {
		t.Fatalf("openStandalone() failed: %v", err)
	}

	if ep.Mode() != domain.ServerModeStandalone {
		t.Fatalf("mode = %v; want standalone", ep.Mode())
	}

	fi, err := os.Lstat(socketPath)
	if err != nil {
		t.Fatalf("socket path not created: %v", err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		t.Fatalf("bound path is not a socket")
	}

	// The listener must accept connections.
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	conn.Close()

	// Non-blocking before the loop touches it.
	flags, err := unix.FcntlInt(uintptr(ep.Fd()), unix.F_GETFL, 0)
	if err != nil {
		t.Fatalf("fcntl(F_GETFL) failed: %v", err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Fatalf("standalone listener is blocking")
	}

	// Clean teardown removes the socket path.
	ep.Close()
	if _, err := os.Lstat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket path still exists after teardown")
	}

	// Idempotent teardown.
	ep.Close()
}

func TestStandaloneRejectsOverlongPath(t *testing.T) {

	socketPath := "/tmp/" + strings.Repeat("x", 200) + ".sock"

	_, err := openStandalone(socketPath)
	if err == nil {
		t.Fatalf("openStandalone() accepted an overlong path")
	}
	if !strings.Contains(err.Error(), "too long") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStandaloneRejectsNonSocketPath(t *testing.T) {

	socketPath := filepath.Join(t.TempDir(), "occupied")
	if err := ioutil.WriteFile(socketPath, []byte("not a socket"), 0644); err != nil {
		t.Fatalf("unable to seed file: %v", err)
	}

	_, err := openStandalone(socketPath)
	if err == nil {
		t.Fatalf("openStandalone() accepted a path occupied by a regular file")
	}
	if !strings.Contains(err.Error(), "not a socket") {
		t.Fatalf("unexpected error: %v", err)
	}
}

// A stale socket left behind by a dead prior run is removed before bind.
func TestStandaloneReplacesStaleSocket(t *testing.T) {

	socketPath := filepath.Join(t.TempDir(), "remountd.sock")

	stale, err := openStandalone(socketPath)
	if err != nil {
		t.Fatalf("openStandalone() failed: %v", err)
	}
	// Close the descriptor but leave the socket file behind, simulating a
	// crashed run.
	stale.fd.Close()
	stale.unlinkPath = ""

	ep, err := openStandalone(socketPath)
	if err != nil {
		t.Fatalf("openStandalone() failed on a stale socket: %v", err)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatalf("dial failed after stale-socket replacement: %v", err)
	}
	conn.Close()

	ep.Close()
}

func TestIsUnixStreamSocket(t *testing.T) {

	fds, err := unix.Socketpair(unix.AF_UNIX,
		unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair() failed: %v", err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	if !isUnixStreamSocket(fds[0]) {
		t.Fatalf("UNIX stream socket not recognized")
	}

	dgram, err := unix.Socket(unix.AF_UNIX,
		unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socket(SOCK_DGRAM) failed: %v", err)
	}
	defer unix.Close(dgram)

	if isUnixStreamSocket(dgram) {
		t.Fatalf("datagram socket misidentified as stream")
	}

	devnull, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatalf("open(%s) failed: %v", os.DevNull, err)
	}
	defer devnull.Close()

	if isUnixStreamSocket(int(devnull.Fd())) {
		t.Fatalf("%s misidentified as a socket", os.DevNull)
	}
}
