package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Заполняются при сборке:
//
//	-ldflags "-X github.com/vladislavdragonenkov/hubcart/internal/version.version=v1.2.0"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарник hubcart.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
	Modified  bool
}

var (
	once    sync.Once
	current Build
)

// Current возвращает сведения о сборке. Если ldflags не заданы,
// commit и date берутся из VCS-меток go build.
func Current() Build {
	once.Do(func() {
		current = resolve(version, commit, date, debug.ReadBuildInfo)
	})
	return current
}

func resolve(v, c, d string, read func() (*debug.BuildInfo, bool)) Build {
	b := Build{Version: v, Commit: c, Date: d}
	info, ok := read()
	if !ok || info == nil {
		return b
	}
	b.GoVersion = info.GoVersion
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "unknown" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.Date == "unknown" {
				b.Date = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

func (b Build) String() string {
	s := fmt.Sprintf("version=%s commit=%s date=%s", b.Version, b.Commit, b.Date)
	if b.Modified {
		s += " modified"
	}
	return s
}

// String — Current().String().
func String() string { return Current().String() }
