// Package platform describes what the host operating system supports.
package platform

import "runtime"

// OS identifies a supported operating system family.
type OS string

const (
	Linux   OS = "linux"
	Darwin  OS = "darwin"
	Windows OS = "windows"
	FreeBSD OS = "freebsd"
	Other   OS = "other"
)

// Capabilities is an immutable description of the host platform. It is
// built once at startup and passed by value to the components that need it.
type Capabilities struct {
	OS   OS
	Arch string
}

// Detect returns the capabilities of the running process.
func Detect() Capabilities {
	return FromGOOS(runtime.GOOS, runtime.GOARCH)
}

// FromGOOS maps a GOOS/GOARCH pair to Capabilities.
func FromGOOS(goos, goarch string) Capabilities {
	os := Other
	switch goos {
	case "linux":
		os = Linux
	case "darwin":
		os = Darwin
	case "windows":
		os = Windows
	case "freebsd":
		os = FreeBSD
	}
	return Capabilities{OS: os, Arch: goarch}
}

// IsWindows reports whether the host runs Windows.
func (c Capabilities) IsWindows() bool { return c.OS == Windows }

// IsUnix reports whether the host is a Unix-like system.
func (c Capabilities) IsUnix() bool {
	return c.OS == Linux || c.OS == Darwin || c.OS == FreeBSD
}

// HasLoadAverage reports whether load averages can be read.
func (c Capabilities) HasLoadAverage() bool { return c.IsUnix() }

// HasTemperatureSensors reports whether temperature sensors are exposed.
func (c Capabilities) HasTemperatureSensors() bool {
	return c.OS == Linux || c.OS == FreeBSD
}

// HasProcessGroups reports whether child processes can be killed as a group.
func (c Capabilities) HasProcessGroups() bool { return c.IsUnix() }

// SplitPOSIX reports whether command lines use POSIX shell quoting rules.
func (c Capabilities) SplitPOSIX() bool { return !c.IsWindows() }
