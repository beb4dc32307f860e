// Package version exposes build metadata for the agent and the identity it
// presents to the ingestion service.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

// Product is the name reported in the User-Agent of outbound requests.
const Product = "pyroagent"

var (
	// Version is the application version, set via ldflags.
	Version string
	// Branch is the git branch, set via ldflags.
	Branch string
	// BuildUser is the user who built the binary, set via ldflags.
	BuildUser string
	// BuildDate is when the binary was built, set via ldflags.
	BuildDate string

	// Revision is the git commit revision.
	Revision = getRevision()
	// GoVersion is the Go version used to build.
	GoVersion = runtime.Version()
	// GoOS is the operating system target.
	GoOS = runtime.GOOS
	// GoArch is the architecture target.
	GoArch = runtime.GOARCH
)

// UserAgent returns the User-Agent header value for outbound requests, e.g.
// "pyroagent/1.2.0 (go1.25.0; linux/amd64)". An unset [Version] reports as
// "dev".
func UserAgent() string {
	v := Version
	if v == "" {
		v = "dev"
	}

	return Product + "/" + v + " (" + GoVersion + "; " + GoOS + "/" + GoArch + ")"
}

// Info returns a multi-line, human readable summary of the build metadata.
func Info() string {
	var sb strings.Builder

	field := func(name, value string) {
		if value == "" {
			return
		}

		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(value)
		sb.WriteByte('\n')
	}

	v := Version
	if v == "" {
		v = "dev"
	}

	field("version", v)
	field("revision", Revision)
	field("branch", Branch)
	field("build user", BuildUser)
	field("build date", BuildDate)
	field("go version", GoVersion)
	field("platform", GoOS+"/"+GoArch)

	return sb.String()
}

func getRevision() string {
	rev := "unknown"

	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return rev
	}

	modified := false

	for _, v := range buildInfo.Settings {
		switch v.Key {
		case "vcs.revision":
			rev = v.Value
		case "vcs.modified":
			if v.Value == "true" {
				modified = true
			}
		}
	}

	if modified {
		return rev + "-dirty"
	}

	return rev
}
