package config

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// SchemaVersion is the on-disk ref/object schema version this build
// writes and expects. Bumped only when CanonicalBytes projections change
// in a way that would alter existing digests.
const SchemaVersion = "v1.0.0"

// CheckCompatibility validates that storedVersion (as read from a
// backend's metadata, e.g. a sentinel ref) is compatible with
// SchemaVersion: same major version, and no newer than this build
// understands.
func CheckCompatibility(storedVersion string) error {
	if storedVersion == "" {
		return nil
	}
	if !semver.IsValid(storedVersion) {
		return fmt.Errorf("config: stored schema version %q is not valid semver", storedVersion)
	}
	if semver.Major(storedVersion) != semver.Major(SchemaVersion) {
		return fmt.Errorf("config: stored schema version %s is incompatible with this build (%s)", storedVersion, SchemaVersion)
	}
	if semver.Compare(storedVersion, SchemaVersion) > 0 {
		return fmt.Errorf("config: stored schema version %s is newer than this build understands (%s)", storedVersion, SchemaVersion)
	}
	return nil
}
