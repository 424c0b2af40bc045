// Package version exposes the build metadata stamped into relayq binaries.
package version

import (
	"fmt"
	"strings"
	"time"
)

// Fallbacks for binaries built without ldflags.
const (
	Unknown            = "unknown"
	DevelopmentVersion = "dev"
)

// Stamped at build time, e.g.
//
//	go build -ldflags="-X github.com/relayq/relayq/pkg/version.AppVersion=v1.2.3"
var (
	AppVersion = DevelopmentVersion
	GitCommit  = Unknown
	BuildTime  = Unknown
)

// Info is the version record reported by the CLI and the management
// endpoints.
type Info struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Current assembles the Info for this binary. Blank stamped values fall
// back to their defaults so the record is always fully populated.
func Current(serviceName string) Info {
	return Info{
		Service:   orDefault(serviceName, Unknown),
		Version:   orDefault(AppVersion, DevelopmentVersion),
		Commit:    orDefault(GitCommit, Unknown),
		BuildTime: orDefault(BuildTime, Unknown),
	}
}

// ParseBuildTime returns the stamped build time when it is a valid RFC3339
// timestamp.
func (i Info) ParseBuildTime() (time.Time, bool) {
	if i.BuildTime == "" || i.BuildTime == Unknown {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, i.BuildTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (i Info) String() string {
	return fmt.Sprintf("%s@%s (commit=%s, build_time=%s)", i.Service, i.Version, i.Commit, i.BuildTime)
}

func orDefault(v, fallback string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return fallback
}
