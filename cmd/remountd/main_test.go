
package main

import (
	"io/ioutil"
	"testing"

	"github.com/remountd/remountd/domain"

	"github.com/sirupsen/logrus"
)

func TestMain(m *testing.M) {

	// Disable log generation during UT.
	logrus.SetOutput(ioutil.Discard)

	m.Run()
}

// staticConfig is a minimal ConfigIface for driver-level tests.
type staticConfig struct {
	allowed []domain.AllowedMountPoint
}

func (c *staticConfig) SocketPath() string { return "/run/remountd.sock" }
func (c *staticConfig) ConfigPath() string { return "/etc/remountd/config.yaml" }
func (c *staticConfig) AllowedMountPoints() []domain.AllowedMountPoint {
	return c.allowed
}
func (c *staticConfig) LookupAllowedPath(name string) (string, bool) {
	for _, amp := range c.allowed {
		if amp.Name == name {
			return amp.Path, true
		}
	}
	return "", false
}

func TestPrintAllowListHandlesEmptyList(t *testing.T) {

	// printAllowList writes to stdout; it must cope with an empty
	// allow-list.
	printAllowList(&staticConfig{})
}
