package process

import (
	"os"
	"testing"
)

func TestParsePid(t *testing.T) {

	good := map[string]int32{
		"1":          1,
		"4242":       4242,
		"2147483647": 2147483647,
	}
	for token, want := range good {
		pid, err := ParsePid(token)
		if err != nil {
			t.Fatalf("ParsePid(%q) failed: %v", token, err)
		}
		if pid != want {
			t.Fatalf("ParsePid(%q) = %d; want %d", token, pid, want)
		}
	}

	bad := []string{
		"", "0", "-1", "abc", "12abc", "4.2", " 42", "2147483648", "99999999999",
	}
	for _, token := range bad {
		if _, err := ParsePid(token); err == nil {
			t.Fatalf("ParsePid(%q) accepted an invalid pid", token)
		}
	}
}

func TestAliveOwnProcess(t *testing.T) {

	prober := NewProcessProber()

	if !prober.Alive(int32(os.Getpid())) {
		t.Fatalf("Alive(%d) = false for our own pid", os.Getpid())
	}
}

// pid 1 always exists; probing it as an unprivileged user exercises the
// EPERM-means-alive rule.
func TestAliveInit(t *testing.T) {

	prober := NewProcessProber()

	if !prober.Alive(1) {
		t.Fatalf("Alive(1) = false")
	}
}

func TestAliveNonexistentProcess(t *testing.T) {

	prober := NewProcessProber()

	// Far beyond any configurable pid_max (2^22).
	if prober.Alive(0x7ffffffe) {
		t.Fatalf("Alive() = true for a pid beyond pid_max")
	}
}
