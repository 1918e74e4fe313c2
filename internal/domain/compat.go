package domain

import (
	"fmt"
	"regexp"
	"strconv"
)

// Compatibility is the result of checking the worker binary's version.
// It is a value, not an error, so callers can degrade gracefully.
type Compatibility struct {
	Version    string `json:"version,omitempty"`
	MinVersion string `json:"minVersion"`
	Error      string `json:"error,omitempty"`
	Compatible bool   `json:"compatible"`
}

// Version is a parsed major.minor.patch triple.
type Version struct {
	Major int
	Minor int
	Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1.
func (v Version) Compare(o Version) int {
	for _, d := range [][2]int{{v.Major, o.Major}, {v.Minor, o.Minor}, {v.Patch, o.Patch}} {
		switch {
		case d[0] < d[1]:
			return -1
		case d[0] > d[1]:
			return 1
		}
	}
	return 0
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

// ParseVersion extracts the first version number from s,
// e.g. "2.1.34 (Claude Code)" -> 2.1.34.
func ParseVersion(s string) (Version, error) {
	m := versionPattern.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("no version number in %q", s)
	}
	var v Version
	v.Major, _ = strconv.Atoi(m[1])
	v.Minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.Patch, _ = strconv.Atoi(m[3])
	}
	return v, nil
}

// CheckCompatibility compares a reported version string against min.
func CheckCompatibility(reported, min string) Compatibility {
	res := Compatibility{MinVersion: min}
	got, err := ParseVersion(reported)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Version = got.String()
	want, err := ParseVersion(min)
	if err != nil {
		res.Error = fmt.Sprintf("invalid minimum version: %v", err)
		return res
	}
	res.Compatible = got.Compare(want) >= 0
	if !res.Compatible {
		res.Error = fmt.Sprintf("version %s is below the minimum supported %s", got, want)
	}
	return res
}
