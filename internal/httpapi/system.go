package httpapi

import (
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maziarzamani/spaceduck-sub000/common/version"
)

// handleHealth serves GET /api/health: liveness plus version info.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       version.Version,
		"commit":        version.GitCommit,
		"uptimeSeconds": time.Since(s.startedAt).Seconds(),
	})
}

// capability probing shells out once per binary and is cached for the
// process lifetime — the set of installed external binaries does not
// change while the gateway runs.
var (
	capOnce   sync.Once
	capResult map[string]bool
)

func detectCapabilities() map[string]bool {
	capOnce.Do(func() {
		capResult = map[string]bool{}
		for _, bin := range []string{"docker", "whisper", "marker"} {
			_, err := exec.LookPath(bin)
			capResult[bin] = err == nil
		}
	})
	return capResult
}

// handleCapabilities serves GET /api/capabilities.
func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, detectCapabilities())
}

// handleSystemProfile serves GET /api/system/profile: OS, arch, memory,
// CPU count, and a recommended model tier derived from them.
func (s *Server) handleSystemProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	memBytes := totalMemoryBytes()
	writeJSON(w, http.StatusOK, map[string]any{
		"os":               runtime.GOOS,
		"arch":             runtime.GOARCH,
		"cpuCores":         runtime.NumCPU(),
		"memoryBytes":      memBytes,
		"recommendedTier":  recommendedTier(runtime.NumCPU(), memBytes),
	})
}

// totalMemoryBytes reads MemTotal from /proc/meminfo on Linux and
// reports 0 elsewhere — the dashboard treats 0 as "unknown".
func totalMemoryBytes() int64 {
	raw, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

func recommendedTier(cores int, memBytes int64) string {
	const gb = int64(1 << 30)
	switch {
	case cores >= 8 && memBytes >= 16*gb:
		return "large"
	case cores >= 4 && memBytes >= 8*gb:
		return "medium"
	default:
		return "small"
	}
}
