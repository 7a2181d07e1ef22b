// Package config loads the static cluster topology: a mapping from
// ProcessId to (ip, port), read from a YAML file, so a single topology
// can be shared by every node and client launched against one
// cluster.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ProcessConfig is one cluster member's address.
type ProcessConfig struct {
	ProcessID string `yaml:"processId"`
	IP        string `yaml:"ip"`
	Port      int    `yaml:"port"`
}

// Topology is the parsed YAML document.
type Topology struct {
	ProcessConfigs []ProcessConfig `yaml:"processConfigs"`
}

// Load reads and parses the topology file at path.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if len(t.ProcessConfigs) == 0 {
		return nil, fmt.Errorf("config: %s declares no processConfigs", path)
	}
	seen := make(map[string]bool, len(t.ProcessConfigs))
	for _, pc := range t.ProcessConfigs {
		if pc.ProcessID == "" {
			return nil, fmt.Errorf("config: %s: processConfigs entry missing processId", path)
		}
		if seen[pc.ProcessID] {
			return nil, fmt.Errorf("config: %s: duplicate processId %q", path, pc.ProcessID)
		}
		seen[pc.ProcessID] = true
		if net.ParseIP(pc.IP) == nil {
			return nil, fmt.Errorf("config: %s: processId %q has invalid ip %q", path, pc.ProcessID, pc.IP)
		}
		if pc.Port <= 0 || pc.Port > 65535 {
			return nil, fmt.Errorf("config: %s: processId %q has invalid port %d", path, pc.ProcessID, pc.Port)
		}
	}

	return &t, nil
}

// Addr returns "ip:port" for the named process, or an error if it is
// not present in the topology.
func (t *Topology) Addr(processID string) (string, error) {
	for _, pc := range t.ProcessConfigs {
		if pc.ProcessID == processID {
			return net.JoinHostPort(pc.IP, strconv.Itoa(pc.Port)), nil
		}
	}
	return "", fmt.Errorf("config: unknown processId %q", processID)
}

// Addrs returns the full processId -> "ip:port" mapping, suitable for
// transport.NewHTTPBus.
func (t *Topology) Addrs() map[string]string {
	out := make(map[string]string, len(t.ProcessConfigs))
	for _, pc := range t.ProcessConfigs {
		out[pc.ProcessID] = net.JoinHostPort(pc.IP, strconv.Itoa(pc.Port))
	}
	return out
}

// Names returns every configured processId, in file order.
func (t *Topology) Names() []string {
	out := make([]string, len(t.ProcessConfigs))
	for i, pc := range t.ProcessConfigs {
		out[i] = pc.ProcessID
	}
	return out
}
