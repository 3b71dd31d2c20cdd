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

// Package config loads remountd's YAML config file into an immutable view:
// the socket path the daemon listens on and the ordered allow-list of
// remountable mount points.
//
// Expected shape:
//
//	socket: /run/remountd.sock
//	allow:
//	  docs:
//	    path: /srv/docs
//	  data:
//	    path: /srv/data
package config

import (
	"fmt"
	"strings"

	"github.com/remountd/remountd/domain"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// AppFs is the filesystem the loader reads through; tests swap in a memory
// filesystem.
var AppFs = afero.NewOsFs()

// Config is the immutable configuration snapshot handed to the server and
// the command handler. Built once at initialization; read-only thereafter.
type Config struct {
	configPath string
	socketPath string
	allowed    []domain.AllowedMountPoint
	nameIndex  *iradix.Tree
}

// allowEntry is the value of one named entry under 'allow:'.
type allowEntry struct {
	Path string `yaml:"path"`
}

// rawConfig keeps 'allow:' as a yaml.Node so that the entry order of the
// mapping survives decoding; the allow-list must be reported back to
// clients in configuration order.
type rawConfig struct {
	Socket string    `yaml:"socket"`
	Allow  yaml.Node `yaml:"allow"`
}

// Load parses the config file at configPath. A non-empty socketOverride
// (from the --socket cli option) replaces the configured socket path.
func Load(configPath string, socketOverride string) (*Config, error) {

	data, err := afero.ReadFile(AppFs, configPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open config file '%s': %v", configPath, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("unable to parse config file '%s': %v", configPath, err)
	}

	socketPath := strings.TrimSpace(raw.Socket)
	if socketOverride != "" {
		socketPath = socketOverride
	} else if socketPath == "" {
		return nil, fmt.Errorf("config file '%s' does not define a 'socket' key", configPath)
	}

	allowed, err := decodeAllowList(&raw.Allow)
	if err != nil {
		return nil, fmt.Errorf("unable to parse config file '%s': %v", configPath, err)
	}

	index := iradix.New()
	for _, amp := range allowed {
		if _, ok := index.Get([]byte(amp.Name)); ok {
			logrus.Warnf("Duplicate allow entry '%s' in %s; keeping the first one",
				amp.Name, configPath)
			continue
		}
		index, _, _ = index.Insert([]byte(amp.Name), amp.Path)
	}

	return &Config{
		configPath: configPath,
		socketPath: socketPath,
		allowed:    allowed,
		nameIndex:  index,
	}, nil
}

// decodeAllowList walks the 'allow:' mapping node pairwise (key node,
// value node) to preserve entry order.
func decodeAllowList(node *yaml.Node) ([]domain.AllowedMountPoint, error) {

	// No allow section: an empty (but valid) allow-list.
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil, nil
	}

	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("'allow' is not a mapping")
	}

	var allowed []domain.AllowedMountPoint

	for i := 0; i+1 < len(node.Content); i += 2 {
		keyNode := node.Content[i]
		valNode := node.Content[i+1]

		name := strings.TrimSpace(keyNode.Value)
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("invalid allow entry name '%s'", keyNode.Value)
		}

		var entry allowEntry
		if err := valNode.Decode(&entry); err != nil {
			return nil, fmt.Errorf("invalid allow entry '%s': %v", name, err)
		}
		if entry.Path == "" {
			return nil, fmt.Errorf("allow entry '%s' has no 'path' key", name)
		}

		allowed = append(allowed, domain.AllowedMountPoint{
			Name: name,
			Path: entry.Path,
		})
	}

	return allowed, nil
}

// SocketPath returns the socket path the daemon listens on in standalone
// mode.
func (c *Config) SocketPath() string {
	return c.socketPath
}

// ConfigPath returns the origin path of the config file.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// AllowedMountPoints returns the allow-list in configuration order.
func (c *Config) AllowedMountPoints() []domain.AllowedMountPoint {
	return c.allowed
}

// LookupAllowedPath resolves an identifier to its configured path.
func (c *Config) LookupAllowedPath(name string) (string, bool) {
	val, ok := c.nameIndex.Get([]byte(name))
	if !ok {
		return "", false
	}
	return val.(string), true
}
