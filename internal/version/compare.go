package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckPlaybookCompatibility checks if the running engine satisfies a
// playbook's min_engine_version requirement.
// Returns nil if compatible, error with details if not.
//
// Compatibility Rules:
//   - If the engine version is "main" (development build), the check is skipped
//   - Major versions must match exactly
//   - The engine version must be greater than or equal to the required version
//
// Examples:
//   - Engine 1.2.0, required 1.2.0 -> OK (exact match)
//   - Engine 1.3.1, required 1.2.0 -> OK (newer engine, same major)
//   - Engine 1.1.0, required 1.2.0 -> ERROR (engine too old)
//   - Engine 2.0.0, required 1.2.0 -> ERROR (major differs)
//   - Engine main, required 1.2.0 -> OK (dev build, skip check)
func CheckPlaybookCompatibility(engineVersion, minRequired string) error {
	// Strip 'v' prefix if present for consistency
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	minRequired = strings.TrimPrefix(minRequired, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" {
		return nil
	}

	// Parse engine version
	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	// Parse required version
	requiredSemver, err := semver.NewVersion(minRequired)
	if err != nil {
		return fmt.Errorf("invalid min_engine_version '%s': %w", minRequired, err)
	}

	// Check major version match
	if engineSemver.Major() != requiredSemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but playbook requires %d.x.x",
			engineSemver.Major(), requiredSemver.Major())
	}

	// Engine must not be older than the playbook's requirement
	if engineSemver.LessThan(requiredSemver) {
		return fmt.Errorf("engine version %s is older than required %s",
			engineSemver.String(), requiredSemver.String())
	}

	return nil
}
