package venvpipe

import (
	"fmt"
	"strings"
)

// Version is an interpreter or tool version. Minor and Patch are -1 when not
// specified, so "3" parses as {3, -1, -1}.
type Version struct {
	Major int
	Minor int
	Patch int
}

// ParseVersion parses "X.Y.Z", "X.Y" or "X". Trailing text after the last
// number is ignored, so "3.13.0rc1" parses as {3, 13, 0}.
func ParseVersion(versionStr string) (Version, error) {
	version := Version{
		Minor: -1,
		Patch: -1,
	}
	versionStr = strings.TrimSpace(versionStr)
	_, err := fmt.Sscanf(versionStr, "%d.%d.%d", &version.Major, &version.Minor, &version.Patch)
	if err != nil {
		version.Minor, version.Patch = -1, -1
		_, err = fmt.Sscanf(versionStr, "%d.%d", &version.Major, &version.Minor)
		if err != nil {
			version.Minor = -1
			_, err = fmt.Sscanf(versionStr, "%d", &version.Major)
			if err != nil {
				return Version{}, fmt.Errorf("error parsing version %q: %v", versionStr, err)
			}
		}
	}
	if version.Major < 0 || version.Minor < -1 || version.Patch < -1 {
		return Version{}, fmt.Errorf("invalid version: %s", versionStr)
	}
	return version, nil
}

// ParsePythonVersion parses the output of "python --version", e.g. "Python 3.10.5".
func ParsePythonVersion(versionStr string) (Version, error) {
	parts := strings.Fields(versionStr)
	if len(parts) != 2 || parts[0] != "Python" {
		return Version{}, fmt.Errorf("invalid version string: %s", versionStr)
	}
	return ParseVersion(parts[1])
}

// ParsePipVersion parses the output of "pip --version", e.g. "pip 23.0 from ...".
func ParsePipVersion(versionStr string) (Version, error) {
	parts := strings.Fields(versionStr)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "pip") {
		return Version{}, fmt.Errorf("invalid version string: %s", versionStr)
	}
	return ParseVersion(parts[1])
}

// Compare returns -1 if v < other, 0 if v == other, or 1 if v > other,
// comparing major, then minor, then patch.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return sign(v.Major - other.Major)
	case v.Minor != other.Minor:
		return sign(v.Minor - other.Minor)
	default:
		return sign(v.Patch - other.Patch)
	}
}

// Satisfies reports whether v matches every component specified in pin.
// "3.11.4" satisfies "3", "3.11" and "3.11.4" but not "3.12".
func (v Version) Satisfies(pin Version) bool {
	if v.Major != pin.Major {
		return false
	}
	if pin.Minor != -1 && v.Minor != pin.Minor {
		return false
	}
	if pin.Patch != -1 && v.Patch != pin.Patch {
		return false
	}
	return true
}

// String omits unspecified components: "3.10.5", "3.10" or "3".
func (v Version) String() string {
	if v.Patch != -1 {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	}
	if v.Minor != -1 {
		return fmt.Sprintf("%d.%d", v.Major, v.Minor)
	}
	return fmt.Sprintf("%d", v.Major)
}

// MinorString returns "major.minor", as used in paths like "lib/python3.10".
func (v Version) MinorString() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

func sign(n int) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}
