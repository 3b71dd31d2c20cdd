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

// Package process interprets client-supplied process ids: parsing them into
// the platform pid type and probing whether they refer to a live process.
package process

import (
	"fmt"
	"strconv"

	"github.com/remountd/remountd/domain"

	"golang.org/x/sys/unix"
)

// ParsePid parses token as a positive integer fitting the platform's
// process-id type.
func ParsePid(token string) (int32, error) {

	pid, err := strconv.ParseInt(token, 10, 32)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("'%s' is not a valid process id", token)
	}

	return int32(pid), nil
}

type processProber struct {
}

// NewProcessProber returns the pid-liveness service.
func NewProcessProber() domain.ProcessProberIface {
	return &processProber{}
}

// Alive probes pid by sending signal 0. EPERM means the process exists but
// belongs to someone else, which is good enough for liveness.
func (p *processProber) Alive(pid int32) bool {

	err := unix.Kill(int(pid), 0)

	return err == nil || err == unix.EPERM
}
