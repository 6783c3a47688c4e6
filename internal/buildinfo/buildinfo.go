// Package buildinfo exposes the version stamped into the binary.
package buildinfo

import "runtime/debug"

// Version is set with -ldflags "-X devclean/internal/buildinfo.Version=...".
var Version = ""

func init() {
	if Version != "" {
		return
	}
	Version = "dev"
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
}
