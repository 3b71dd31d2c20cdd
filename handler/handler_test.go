package handler

import (
	"errors"
	"io/ioutil"
	"testing"

	"github.com/remountd/remountd/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {

	// Disable log generation during UT.
	logrus.SetOutput(ioutil.Discard)

	m.Run()
}

type fakeConfig struct {
	allowed []domain.AllowedMountPoint
}

func (c *fakeConfig) SocketPath() string { return "/run/remountd.sock" }
func (c *fakeConfig) ConfigPath() string { return "/etc/remountd/config.yaml" }
func (c *fakeConfig) AllowedMountPoints() []domain.AllowedMountPoint {
	return c.allowed
}
func (c *fakeConfig) LookupAllowedPath(name string) (string, bool) {
	for _, amp := range c.allowed {
		if amp.Name == name {
			return amp.Path, true
		}
	}
	return "", false
}

type fakeProber struct {
	alive bool
}

func (p *fakeProber) Alive(pid int32) bool { return p.alive }

type fakeRemounter struct {
	err      error
	calls    int
	pid      int32
	readonly bool
	path     string
}

func (r *fakeRemounter) Remount(pid int32, readonly bool, path string) error {
	r.calls++
	r.pid = pid
	r.readonly = readonly
	r.path = path
	return r.err
}

type handlerFixture struct {
	handler   domain.CommandHandlerIface
	remounter *fakeRemounter
	replyFd   int
	peerFd    int
}

func newFixture(t *testing.T, alive bool, remountErr error) *handlerFixture {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX,
		unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair() failed: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})

	cfg := &fakeConfig{
		allowed: []domain.AllowedMountPoint{
			{Name: "docs", Path: "/srv/docs"},
			{Name: "data", Path: "/srv/data"},
		},
	}
	remounter := &fakeRemounter{err: remountErr}

	return &handlerFixture{
		handler:   NewCommandHandler(cfg, &fakeProber{alive: alive}, remounter),
		remounter: remounter,
		replyFd:   fds[0],
		peerFd:    fds[1],
	}
}

func (fx *handlerFixture) reply(t *testing.T) string {
	t.Helper()

	buf := make([]byte, 4096)
	n, err := unix.Read(fx.peerFd, buf)
	if err != nil {
		t.Fatalf("read() failed: %v", err)
	}
	return string(buf[:n])
}

func (fx *handlerFixture) noReply(t *testing.T) {
	t.Helper()

	fds := []unix.PollFd{{Fd: int32(fx.peerFd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil {
		t.Fatalf("poll() failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("unexpected reply pending")
	}
}

func TestListCommand(t *testing.T) {

	fx := newFixture(t, true, nil)

	if !fx.handler.Command(fx.replyFd, "list") {
		t.Fatalf("list dropped the session")
	}

	want := "docs /srv/docs\ndata /srv/data\n"
	if got := fx.reply(t); got != want {
		t.Fatalf("list reply = %q; want %q", got, want)
	}
}

func TestQuitCommand(t *testing.T) {

	fx := newFixture(t, true, nil)

	if fx.handler.Command(fx.replyFd, "quit") {
		t.Fatalf("quit kept the session")
	}
	fx.noReply(t)
	if fx.remounter.calls != 0 {
		t.Fatalf("quit invoked the remounter")
	}
}

func TestEmptyMessageIsNoop(t *testing.T) {

	fx := newFixture(t, true, nil)

	if !fx.handler.Command(fx.replyFd, "") {
		t.Fatalf("empty message dropped the session")
	}
	if !fx.handler.Command(fx.replyFd, " \t ") {
		t.Fatalf("whitespace-only message dropped the session")
	}
	fx.noReply(t)
}

func TestUnknownCommandDropsWithoutReply(t *testing.T) {

	fx := newFixture(t, true, nil)

	if fx.handler.Command(fx.replyFd, "frobnicate docs 42") {
		t.Fatalf("unknown command kept the session")
	}
	fx.noReply(t)
}

func TestRemountHappyPath(t *testing.T) {

	fx := newFixture(t, true, nil)

	if !fx.handler.Command(fx.replyFd, "ro docs 4242") {
		t.Fatalf("ro dropped the session")
	}
	if got := fx.reply(t); got != "OK\n" {
		t.Fatalf("reply = %q; want OK", got)
	}

	if fx.remounter.calls != 1 || fx.remounter.pid != 4242 ||
		!fx.remounter.readonly || fx.remounter.path != "/srv/docs" {
		t.Fatalf("remounter called with %+v", fx.remounter)
	}
}

func TestRemountReadWrite(t *testing.T) {

	fx := newFixture(t, true, nil)

	if !fx.handler.Command(fx.replyFd, "rw data 17") {
		t.Fatalf("rw dropped the session")
	}
	if got := fx.reply(t); got != "OK\n" {
		t.Fatalf("reply = %q; want OK", got)
	}
	if fx.remounter.readonly || fx.remounter.path != "/srv/data" {
		t.Fatalf("remounter called with %+v", fx.remounter)
	}
}

// Tabs count as token separators.
func TestRemountTabSeparators(t *testing.T) {

	fx := newFixture(t, true, nil)

	if !fx.handler.Command(fx.replyFd, "ro\tdocs\t4242") {
		t.Fatalf("tab-separated ro dropped the session")
	}
	if got := fx.reply(t); got != "OK\n" {
		t.Fatalf("reply = %q; want OK", got)
	}
}

func TestRemountUnknownIdentifier(t *testing.T) {

	fx := newFixture(t, true, nil)

	if !fx.handler.Command(fx.replyFd, "ro logs 4242") {
		t.Fatalf("unknown identifier dropped the session")
	}

	want := "ERROR: logs is not an allowed identifier in /etc/remountd/config.yaml.\n"
	if got := fx.reply(t); got != want {
		t.Fatalf("reply = %q; want %q", got, want)
	}
	if fx.remounter.calls != 0 {
		t.Fatalf("remounter invoked for an unknown identifier")
	}
}

func TestRemountBadPid(t *testing.T) {

	for _, pid := range []string{"0", "-1", "abc", "4294967296"} {
		fx := newFixture(t, true, nil)

		if !fx.handler.Command(fx.replyFd, "rw docs "+pid) {
			t.Fatalf("pid %q dropped the session", pid)
		}

		want := "ERROR: " + pid + " is not a running process.\n"
		if got := fx.reply(t); got != want {
			t.Fatalf("pid %q: reply = %q; want %q", pid, got, want)
		}
	}
}

func TestRemountDeadPid(t *testing.T) {

	fx := newFixture(t, false, nil)

	if !fx.handler.Command(fx.replyFd, "rw docs 4242") {
		t.Fatalf("dead pid dropped the session")
	}

	want := "ERROR: 4242 is not a running process.\n"
	if got := fx.reply(t); got != want {
		t.Fatalf("reply = %q; want %q", got, want)
	}
	if fx.remounter.calls != 0 {
		t.Fatalf("remounter invoked for a dead pid")
	}
}

func TestRemountHelperFailure(t *testing.T) {

	fx := newFixture(t, true, errors.New("mount: /srv/docs not mounted"))

	if !fx.handler.Command(fx.replyFd, "ro docs 4242") {
		t.Fatalf("helper failure dropped the session")
	}

	want := "ERROR: mount: /srv/docs not mounted\n"
	if got := fx.reply(t); got != want {
		t.Fatalf("reply = %q; want %q", got, want)
	}
}

func TestRemountWrongTokenCount(t *testing.T) {

	for _, msg := range []string{"ro", "ro docs", "ro docs 42 extra"} {
		fx := newFixture(t, true, nil)

		if !fx.handler.Command(fx.replyFd, msg) {
			t.Fatalf("%q dropped the session", msg)
		}
		if got := fx.reply(t); got != "ERROR: invalid command format.\n" {
			t.Fatalf("%q: reply = %q", msg, got)
		}
		if fx.remounter.calls != 0 {
			t.Fatalf("%q invoked the remounter", msg)
		}
	}
}
