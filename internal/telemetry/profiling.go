package telemetry

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled bool

	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g. "http://localhost:4040").
	Endpoint string

	// ProfileTypes lists the profiles to collect. Empty selects cpu,
	// alloc_space and goroutines.
	ProfileTypes []string
}

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var defaultProfileTypes = []string{"cpu", "alloc_space", "goroutines"}

var profiling atomic.Bool

// ValidProfileTypes returns the accepted profile type names, sorted.
func ValidProfileTypes() []string {
	names := make([]string, 0, len(profileTypes))
	for name := range profileTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InitProfiling starts the profiler. The returned function stops it.
func InitProfiling(cfg ProfilingConfig) (shutdown func() error, err error) {
	if !cfg.Enabled {
		profiling.Store(false)
		return func() error { return nil }, nil
	}

	names := cfg.ProfileTypes
	if len(names) == 0 {
		names = defaultProfileTypes
	}

	types := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, err := parseProfileType(name)
		if err != nil {
			return nil, err
		}
		types = append(types, pt)

		switch pt {
		case pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration:
			runtime.SetMutexProfileFraction(5)
		case pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration:
			runtime.SetBlockProfileRate(5)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}
	profiling.Store(true)

	return func() error {
		profiling.Store(false)
		return profiler.Stop()
	}, nil
}

// IsProfilingEnabled reports whether the profiler is running.
func IsProfilingEnabled() bool {
	return profiling.Load()
}

func parseProfileType(name string) (pyroscope.ProfileType, error) {
	pt, ok := profileTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("invalid profile type %q (valid: %s)", name, strings.Join(ValidProfileTypes(), ", "))
	}
	return pt, nil
}
