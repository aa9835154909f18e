package preflight

import (
	"kiln/internal/config"
)

// Result reports the outcome of a single preflight check. Fatal marks
// failures the daemon cannot run past; non-fatal failures surface as
// warnings.
type Result struct {
	Name   string
	Passed bool
	Fatal  bool
	Detail string
}

// minFreeOutputMB is the free space floor for the output directory; exports
// of textured meshes run to hundreds of megabytes each.
const minFreeOutputMB = 2048

// RunAll executes the filesystem readiness checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Unusable directories are fatal; low disk and missing weights only warn.
	results = append(results, fatal(CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir)))
	results = append(results, fatal(CheckDirectoryAccess("Log directory", cfg.Paths.LogDir)))

	if cfg.Paths.ModelDir != "" {
		results = append(results, CheckModelWeights(cfg.Paths.ModelDir))
	}

	results = append(results, CheckDiskSpace("Output disk space", cfg.Paths.OutputDir, minFreeOutputMB))

	return results
}

func fatal(r Result) Result {
	r.Fatal = true
	return r
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}
