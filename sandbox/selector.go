// Copyright 2026 The Pictor Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Selector expresses the caller's sandboxing policy. The zero value is
// SelectorAuto.
type Selector int

const (
	// SelectorAuto picks the strongest mechanism the environment supports:
	// Contained on an unrestricted host, HostSpawn inside a restricted host
	// environment, and Disabled only inside a development instance of a
	// restricted environment (where no installed worker exists to spawn).
	SelectorAuto Selector = iota

	// SelectorContained forces namespace containment via bwrap.
	SelectorContained

	// SelectorHostSpawn forces delegation to the host portal spawner.
	SelectorHostSpawn

	// SelectorDisabled runs the worker directly, without any sandbox.
	SelectorDisabled
)

func (s Selector) String() string {
	switch s {
	case SelectorAuto:
		return "auto"
	case SelectorContained:
		return "contained"
	case SelectorHostSpawn:
		return "host-spawn"
	case SelectorDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("selector(%d)", int(s))
	}
}

// ParseSelector parses the string forms accepted on the CLI and in
// environment variables.
func ParseSelector(s string) (Selector, error) {
	switch s {
	case "auto":
		return SelectorAuto, nil
	case "contained":
		return SelectorContained, nil
	case "host-spawn":
		return SelectorHostSpawn, nil
	case "disabled":
		return SelectorDisabled, nil
	default:
		return 0, fmt.Errorf("unknown sandbox selector %q (want auto, contained, host-spawn, or disabled)", s)
	}
}

// Mechanism is a concrete, resolved sandboxing mechanism.
type Mechanism int

const (
	MechanismContained Mechanism = iota
	MechanismHostSpawn
	MechanismDisabled
)

func (m Mechanism) String() string {
	switch m {
	case MechanismContained:
		return "contained"
	case MechanismHostSpawn:
		return "host-spawn"
	case MechanismDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("mechanism(%d)", int(m))
	}
}

// Probe reports what the environment probe learned about the process's
// execution environment.
type Probe struct {
	// RestrictedHost is true when the process runs inside a restricted
	// host environment (an application container with an info file at
	// the filesystem root).
	RestrictedHost bool

	// DevInstance is true when the restricted environment is a
	// development instance: the info file marks an uninstalled build and
	// the application identity carries the development suffix. Only
	// meaningful when RestrictedHost is true.
	DevInstance bool
}

// Resolve maps a selector to a concrete mechanism. Explicit selectors
// always win; only Auto consults the probe.
func Resolve(selector Selector, probe Probe) (Mechanism, error) {
	switch selector {
	case SelectorContained:
		return MechanismContained, nil
	case SelectorHostSpawn:
		return MechanismHostSpawn, nil
	case SelectorDisabled:
		return MechanismDisabled, nil
	case SelectorAuto:
		if !probe.RestrictedHost {
			return MechanismContained, nil
		}
		if probe.DevInstance {
			return MechanismDisabled, nil
		}
		return MechanismHostSpawn, nil
	default:
		return 0, fmt.Errorf("cannot resolve sandbox selector %v", selector)
	}
}

// hostInfoPath is where a restricted host environment places its info
// file. PICTOR_HOST_INFO overrides it for tests.
const hostInfoPath = "/.flatpak-info"

const devSuffix = ".Devel"

// DetectEnvironment probes the execution environment once. Absence of
// the info file means an unrestricted host; a parse failure of an
// existing file is treated as restricted but not a development instance
// (the safe direction: workers are still spawned on the host side).
func DetectEnvironment() Probe {
	path := hostInfoPath
	if override := os.Getenv("PICTOR_HOST_INFO"); override != "" {
		path = override
	}

	file, err := os.Open(path)
	if err != nil {
		return Probe{}
	}
	defer file.Close()

	probe := Probe{RestrictedHost: true}

	// The info file is a keyfile: [Group] headers with key=value lines.
	// A development instance is an uninstalled build ([Instance] build
	// is true) whose application identity ends with the dev suffix.
	var group string
	uninstalledBuild := false
	devIdentity := false

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			group = line[1 : len(line)-1]
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch {
		case group == "Instance" && key == "build":
			uninstalledBuild = value == "true"
		case group == "Application" && key == "name":
			devIdentity = strings.HasSuffix(value, devSuffix)
		}
	}

	probe.DevInstance = uninstalledBuild && devIdentity
	return probe
}
