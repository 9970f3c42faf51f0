// Package version reports build metadata. The string variables are set
// with -ldflags "-X"; anything left empty is filled from the module build
// info embedded by the Go toolchain.
package version

import (
	"fmt"
	"runtime/debug"
	"strconv"
)

// AppName is the service name reported in logs, traces and build_info.
const AppName = "svcmw"

var (
	Version    = "dev"
	Commit     = "none"
	CommitDate string
	BuildDate  string
	BuildId    string
	// Dirty is "true" or "false"; anything else means unknown.
	Dirty string
)

type Info struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	CommitDate string `json:"commit_date"`
	BuildDate  string `json:"build_date"`
	BuildId    string `json:"build_id"`
	GoVersion  string `json:"go_version"`
	VCSDirty   *bool  `json:"vcs_dirty,omitempty"`
}

func Get() Info {
	info := Info{
		Version:    Version,
		Commit:     Commit,
		CommitDate: CommitDate,
		BuildDate:  BuildDate,
		BuildId:    BuildId,
		VCSDirty:   parseDirty(Dirty),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info.apply(bi)
	}
	return info
}

// apply fills fields the linker left unset from the embedded VCS settings.
func (i *Info) apply(bi *debug.BuildInfo) {
	i.GoVersion = bi.GoVersion
	for _, s := range bi.Settings {
		if s.Value == "" {
			continue
		}
		switch s.Key {
		case "vcs.revision":
			if i.Commit == "none" {
				i.Commit = s.Value
			}
		case "vcs.time":
			if i.CommitDate == "" {
				i.CommitDate = s.Value
			}
			if i.BuildDate == "" {
				i.BuildDate = s.Value
			}
		case "vcs.modified":
			if i.VCSDirty == nil {
				i.VCSDirty = parseDirty(s.Value)
			}
		}
	}
}

func parseDirty(s string) *bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil
	}
	return &b
}

// String is the one-line form printed by -V.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)",
		AppName, i.Version, i.Commit, i.CommitDate, i.BuildId, i.BuildDate, i.GoVersion,
		i.VCSDirty != nil && *i.VCSDirty)
}
