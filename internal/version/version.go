// Package version carries build metadata set through -ldflags.
package version

import "strings"

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = ""
)

type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time,omitempty"`
}

func Current() Info {
	out := Info{
		Version:   strings.TrimSpace(Version),
		Commit:    strings.TrimSpace(Commit),
		BuildTime: strings.TrimSpace(BuildTime),
	}
	if out.Version == "" {
		out.Version = "dev"
	}
	if out.Commit == "" {
		out.Commit = "unknown"
	}
	return out
}

func (i Info) String() string {
	s := i.Version + " (" + i.Commit
	if i.BuildTime != "" {
		s += ", built " + i.BuildTime
	}
	return s + ")"
}
