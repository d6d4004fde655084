package versioning

import (
	"fmt"
	"regexp"
	"strconv"
)

// APIVersion represents a semantic version for the API
type APIVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// CurrentVersion is the version served by this build.
var CurrentVersion = APIVersion{Major: 1, Minor: 0, Patch: 0}

// SupportedMajors lists the major versions this build still accepts.
var SupportedMajors = []int{1}

// String returns the version as a string (e.g., "1.0.0")
func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

var versionPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?$`)

// Parse reads a version string like "1", "v1.2" or "1.2.3".
func Parse(s string) (APIVersion, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return APIVersion{}, fmt.Errorf("invalid version %q", s)
	}
	v := APIVersion{}
	v.Major, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		v.Minor, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v, nil
}

// IsSupported reports whether the requested major version is served.
func IsSupported(v APIVersion) bool {
	for _, major := range SupportedMajors {
		if v.Major == major {
			return true
		}
	}
	return false
}
