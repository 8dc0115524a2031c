package internal

import (
	"strings"

	"golang.org/x/mod/semver"
)

// Version is the build version, overridden at link time with
// -ldflags "-X roomchat/internal.Version=1.4.0".
var Version = "0.3.0"

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

// CompareVersions compares two semantic versions with or without a leading
// v. Returns 1 if v1 > v2, -1 if v1 < v2, 0 if equal. Invalid versions sort
// before valid ones.
func CompareVersions(v1, v2 string) int {
	return semver.Compare(canonicalVersion(v1), canonicalVersion(v2))
}

// compatibleVersions reports whether a client and server share a major
// version. Unknown versions are assumed compatible.
func compatibleVersions(client, server string) bool {
	c, s := canonicalVersion(client), canonicalVersion(server)
	if c == "" || s == "" {
		return true
	}
	return semver.Major(c) == semver.Major(s)
}
