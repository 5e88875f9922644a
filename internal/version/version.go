// Package version reports which commsd build is running.
//
// Release builds stamp the variables with ldflags, for example:
//
//	go build -ldflags "-X .../internal/version.Version=1.4.0" ./cmd/commsd
//
// Unstamped builds fall back to the VCS revision and time the Go toolchain
// embeds in the binary.
package version

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func init() {
	if info, ok := debug.ReadBuildInfo(); ok {
		applyBuildInfo(info)
	}
}

// applyBuildInfo fills Commit and BuildTime from vcs settings unless
// ldflags already set them.
func applyBuildInfo(info *debug.BuildInfo) {
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = shortRevision(s.Value)
			}
		case "vcs.time":
			if BuildTime == "unknown" && s.Value != "" {
				BuildTime = s.Value
			}
		}
	}
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// String returns e.g. "1.4.0 (3f2a9c1d0b7e) built 2026-01-02T03:04:05Z".
func String() string {
	return Version + " (" + Commit + ") built " + BuildTime
}

// Attrs returns the build info as slog key/value pairs.
func Attrs() []any {
	return []any{"version", Version, "commit", Commit, "build_time", BuildTime}
}
