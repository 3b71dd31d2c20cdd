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

// Package nsenter executes bind-remount operations inside the mount
// namespace of a target process, by dispatching a short-lived child that
// runs the namespace-entering remount helper. The child's stderr is
// captured so that mount failures can be surfaced to the requesting
// client verbatim.
package nsenter

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/remountd/remountd/domain"

	"github.com/sirupsen/logrus"
)

const helperCommand = "nsenter"

type remounterService struct {
	helper string
}

// NewRemounterService returns the remount executor.
func NewRemounterService() domain.RemounterIface {
	return &remounterService{helper: helperCommand}
}

// Remount enters the mount namespace of pid and issues a bind-remount with
// the requested rw/ro mode on path. The call blocks until the helper child
// exits; remounts complete in milliseconds and serializing them avoids
// coordinating concurrent namespace operations. The child is always
// reaped.
func (s *remounterService) Remount(pid int32, readonly bool, path string) error {

	cmd := s.remountCommand(pid, readonly, path)

	logrus.Debugf("Executing remount helper: %v", cmd.Args)

	return runHelper(cmd)
}

// remountCommand builds the helper invocation:
//
//	nsenter -t <pid> -m -- mount -o remount,(ro|rw),bind <path>
func (s *remounterService) remountCommand(pid int32, readonly bool, path string) *exec.Cmd {

	mode := "rw"
	if readonly {
		mode = "ro"
	}

	return exec.Command(s.helper,
		"-t", strconv.FormatInt(int64(pid), 10),
		"-m",
		"--",
		"mount", "-o", "remount,"+mode+",bind", path,
	)
}

// runHelper runs cmd with its stderr captured, waits for it, and converts a
// failure into the diagnostic to surface: the trimmed stderr text when
// nonempty, else a synthesized message naming the exit status or the
// terminating signal. Dispatch failures (the fork/exec/wait plumbing
// itself) are returned as formatted errors as well; nothing panics out of
// the command handler.
func runHelper(cmd *exec.Cmd) error {

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}

	diagnostic := strings.TrimRight(stderr.String(), " \t\r\n")
	if diagnostic != "" {
		return errors.New(diagnostic)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return fmt.Errorf("helper terminated by signal %d (%s)",
					int(status.Signal()), status.Signal())
			}
			return fmt.Errorf("helper exited with status %d", status.ExitStatus())
		}
		return fmt.Errorf("helper failed: %v", exitErr)
	}

	return fmt.Errorf("unable to run helper: %v", err)
}
