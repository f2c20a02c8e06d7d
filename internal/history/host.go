package history

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/host"
)

// HostInfo identifies the machine a run was started from.
type HostInfo struct {
	Hostname string
	OS       string
	Platform string
}

// CurrentHost describes the local machine, falling back to the runtime's
// view when the platform probe fails.
func CurrentHost(ctx context.Context) HostInfo {
	info, err := host.InfoWithContext(ctx)
	if err == nil && info.Hostname != "" {
		return HostInfo{
			Hostname: info.Hostname,
			OS:       info.OS,
			Platform: joinNonEmpty(info.Platform, info.PlatformVersion),
		}
	}

	hostname, _ := os.Hostname()
	return HostInfo{Hostname: hostname, OS: runtime.GOOS, Platform: runtime.GOARCH}
}

func joinNonEmpty(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}
