package config

import "fmt"

// CurrentVersion is the config file format this build reads. Load treats an
// omitted version as CurrentVersion.
const CurrentVersion = 1

const (
	versionInvalid  = "invalid"
	versionOutdated = "outdated"
	versionNewer    = "newer than this build"
)

// VersionError reports a config file written for another format version.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Reason {
	case versionNewer:
		return fmt.Sprintf("config version %d is newer than this build (current: %d); upgrade pam to continue", e.Version, e.Current)
	case "":
		return fmt.Sprintf("config version %d is unsupported (current: %d)", e.Version, e.Current)
	default:
		return fmt.Sprintf("config version %d is %s (current: %d)", e.Version, e.Reason, e.Current)
	}
}

// ValidateVersion returns a *VersionError unless version is CurrentVersion.
func ValidateVersion(version int) error {
	var reason string
	switch {
	case version == CurrentVersion:
		return nil
	case version < 0:
		reason = versionInvalid
	case version < CurrentVersion:
		reason = versionOutdated
	default:
		reason = versionNewer
	}
	return &VersionError{Version: version, Current: CurrentVersion, Reason: reason}
}
