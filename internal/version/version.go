package version

import (
	"runtime"
	"runtime/debug"
)

// Set at build time with -ldflags "-X github.com/MrSnakeDoc/lbreg/internal/version.Version=v0.1.0 ...".
var (
	Version   = "dev" // ex: v0.1.0
	Commit    = vcsSetting("vcs.revision", "none")
	BuildDate = vcsSetting("vcs.time", "unknown") // ex: 2025-08-11T18:42:00Z
	GoVersion = runtime.Version()                 // go version
)

// UserAgent is sent with every control-plane request.
func UserAgent() string {
	return "lbreg/" + Version
}

func vcsSetting(key, def string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return def
	}
	for _, s := range info.Settings {
		if s.Key == key && s.Value != "" {
			return s.Value
		}
	}
	return def
}
