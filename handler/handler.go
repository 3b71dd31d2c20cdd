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

// Package handler validates and executes the commands of remountd's line
// protocol: 'list', 'ro <name> <pid>', 'rw <name> <pid>' and 'quit'. Every
// recognized list/ro/rw command produces exactly one reply; quit and
// unknown commands produce none.
package handler

import (
	"fmt"
	"strings"

	"github.com/remountd/remountd/domain"
	"github.com/remountd/remountd/process"
	"github.com/remountd/remountd/sysio"

	"github.com/sirupsen/logrus"
)

type commandHandler struct {
	cfg       domain.ConfigIface
	prober    domain.ProcessProberIface
	remounter domain.RemounterIface
}

// NewCommandHandler returns the command dispatch service.
func NewCommandHandler(
	cfg domain.ConfigIface,
	prober domain.ProcessProberIface,
	remounter domain.RemounterIface) domain.CommandHandlerIface {

	return &commandHandler{
		cfg:       cfg,
		prober:    prober,
		remounter: remounter,
	}
}

// Command dispatches one decoded message. The reply (if any) is written
// directly to fd. Returns false when the session must be closed: an
// explicit 'quit', or an unrecognized command.
func (h *commandHandler) Command(fd int, message string) bool {

	tokens := splitTokens(message)

	// Empty messages keep the session open and do nothing.
	if len(tokens) == 0 {
		return true
	}

	switch tokens[0] {
	case "quit":
		// No reply; the client detects EOF.
		return false

	case "list":
		h.list(fd)
		return true

	case "ro", "rw":
		h.remount(fd, tokens)
		return true

	default:
		logrus.Debugf("Unknown command '%s' from client fd %d; dropping session",
			tokens[0], fd)
		return false
	}
}

// list writes the allow-list, one 'name path' line per entry, in
// configuration order.
func (h *commandHandler) list(fd int) {

	var reply strings.Builder
	for _, amp := range h.cfg.AllowedMountPoints() {
		fmt.Fprintf(&reply, "%s %s\n", amp.Name, amp.Path)
	}

	sysio.SendText(fd, reply.String())
}

// remount validates an 'ro'/'rw' command and executes it through the
// remount service. Validation failures keep the session open.
func (h *commandHandler) remount(fd int, tokens []string) {

	if len(tokens) != 3 {
		sysio.SendText(fd, "ERROR: invalid command format.\n")
		return
	}

	name := tokens[1]
	path, ok := h.cfg.LookupAllowedPath(name)
	if !ok {
		sysio.SendText(fd, fmt.Sprintf("ERROR: %s is not an allowed identifier in %s.\n",
			name, h.cfg.ConfigPath()))
		return
	}

	pid, err := process.ParsePid(tokens[2])
	if err != nil || !h.prober.Alive(pid) {
		sysio.SendText(fd, fmt.Sprintf("ERROR: %s is not a running process.\n", tokens[2]))
		return
	}

	readonly := tokens[0] == "ro"

	logrus.Infof("Remounting '%s' (%s) %s in the mount namespace of pid %d",
		name, path, tokens[0], pid)

	if err := h.remounter.Remount(pid, readonly, path); err != nil {
		logrus.Warnf("Remount of '%s' for pid %d failed: %v", name, pid, err)
		sysio.SendText(fd, fmt.Sprintf("ERROR: %s\n", err.Error()))
		return
	}

	sysio.SendText(fd, "OK\n")
}

// splitTokens splits a message into whitespace-separated tokens; tabs and
// spaces are separators.
func splitTokens(message string) []string {
	return strings.FieldsFunc(message, func(r rune) bool {
		return r == ' ' || r == '\t'
	})
}
