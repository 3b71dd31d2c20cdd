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

// RemounterIface executes a bind-remount inside the mount namespace of the
// given process. A nil return means the remount succeeded; otherwise the
// error text is the diagnostic to surface to the client (the helper's
// stderr when available, else a synthesized exit-status message).
type RemounterIface interface {
	Remount(pid int32, readonly bool, path string) error
}

// ProcessProberIface answers whether a process id refers to a live process.
type ProcessProberIface interface {
	Alive(pid int32) bool
}
