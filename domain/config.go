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

// Default location of remountd's config file; overridable through the
// --config cli option.
const DefaultConfigPath = "/etc/remountd/config.yaml"

// AllowedMountPoint pairs a symbolic identifier with the absolute path of a
// bind-mounted subtree that remountd is willing to remount.
type AllowedMountPoint struct {
	Name string
	Path string
}

// ConfigIface exposes the immutable configuration snapshot built at startup.
// The server and the command handler borrow it for the process' lifetime.
type ConfigIface interface {
	// Socket path the daemon listens on in standalone mode (cli override
	// already applied).
	SocketPath() string

	// Origin path of the config file; used in diagnostic messages.
	ConfigPath() string

	// Allow-list entries in configuration order.
	AllowedMountPoints() []AllowedMountPoint

	// LookupAllowedPath resolves an identifier to its configured path.
	LookupAllowedPath(name string) (string, bool)
}
