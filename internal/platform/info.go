// Package platform reports server build and runtime information.
package platform

import (
	"os"
	"runtime"
	"time"
)

// Version is the server version. Overridden at build time with
// -ldflags "-X github.com/windriver/studio-mcp/internal/platform.Version=...".
var Version = "1.0.0"

var startTime = time.Now()

// Info contains server runtime information
type Info struct {
	Version       string `json:"version"`
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Architecture  string `json:"architecture"`
	Hostname      string `json:"hostname"`
	PID           int    `json:"pid"`
	NumCPU        int    `json:"num_cpu"`
	NumGoroutines int    `json:"num_goroutines"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// GetInfo returns current server runtime information
func GetInfo() *Info {
	hostname, _ := os.Hostname()

	return &Info{
		Version:       Version,
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Architecture:  runtime.GOARCH,
		Hostname:      hostname,
		PID:           os.Getpid(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutines: runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
	}
}
