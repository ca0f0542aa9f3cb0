// Package sysinfo detects the host platform and GPU inventory. Detection runs
// once in the early stages and the result is threaded to every later action as
// an immutable Env value; actions never read ambient process-wide state.
package sysinfo

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Env is the environment context produced by the detect stages. Later stage
// actions receive it by value and return a (possibly augmented) copy.
type Env struct {
	OS      string // os-release ID: ubuntu, debian, rhel, rocky, fedora...
	Version string // os-release VERSION_ID
	Pretty  string // os-release PRETTY_NAME
	Arch    string // runtime architecture (amd64, arm64)
	PkgTool string // package manager command: apt-get, dnf or yum
	GPUs    []GPU  // detected NVIDIA devices
}

// Supported reports whether a package manager was identified for the OS.
func (e Env) Supported() bool { return e.PkgTool != "" }

// DetectOS parses an os-release style file (normally /etc/os-release) and
// returns the populated platform fields. The file uses shell-compatible
// assignment syntax but is parsed strictly as data: unknown keys are ignored,
// duplicate keys take the last occurrence, quotes are stripped, nothing is
// ever evaluated.
func DetectOS(path string) (Env, error) {
	data, err := os.ReadFile(path) //nolint:gosec // fixed system path or test fixture
	if err != nil {
		return Env{}, fmt.Errorf("read %s: %w", path, err)
	}

	env := Env{Arch: runtime.GOARCH}
	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		val = stripQuotes(strings.TrimSpace(val))

		switch strings.TrimSpace(key) {
		case "ID":
			env.OS = strings.ToLower(val)
		case "VERSION_ID":
			env.Version = val
		case "PRETTY_NAME":
			env.Pretty = val
		}
	}

	if env.OS == "" {
		return Env{}, fmt.Errorf("no ID field in %s", path)
	}

	env.PkgTool = pkgToolFor(env.OS)
	return env, nil
}

// pkgToolFor maps an os-release ID to its package manager command, preferring
// whatever is actually present in PATH on the dnf/yum family.
func pkgToolFor(id string) string {
	switch id {
	case "ubuntu", "debian", "pop", "linuxmint":
		return "apt-get"
	case "rhel", "centos", "rocky", "almalinux", "fedora", "amzn":
		if _, err := exec.LookPath("dnf"); err == nil {
			return "dnf"
		}
		if _, err := exec.LookPath("yum"); err == nil {
			return "yum"
		}
		return "dnf" // default even if lookup failed, install will report it
	default:
		return ""
	}
}

// stripQuotes removes one pair of surrounding double or single quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
