package preflight

import (
	"context"
	"fmt"
	"strings"

	"storybook/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// HealthChecker is a provider client that can verify it is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// minFreeBytes is the free space the jobs directory must keep for one
// full-book run (extracted media, composites, deck and PDF).
const minFreeBytes = 512 << 20

// RunAll executes all applicable preflight checks for the given config.
// vision may be nil, in which case the vision service is not probed.
func RunAll(ctx context.Context, cfg *config.Config, vision HealthChecker) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Templates directory", cfg.Paths.TemplatesDir),
		CheckDirectoryAccess("Jobs directory", cfg.Paths.JobsDir),
		CheckDirectoryAccess("Uploads directory", cfg.Paths.UploadsDir),
		CheckFreeSpace("Jobs volume", cfg.Paths.JobsDir, minFreeBytes),
	}
	results = append(results, CheckRenderBinaries(cfg.Render)...)
	results = append(results, CheckCredential("Face swap API key", cfg.FaceSwap.APIKey))
	if cfg.Pipeline.StylizeEnabled {
		results = append(results, CheckCredential("Stylize API key", cfg.Stylize.APIKey))
	}
	if vision != nil {
		results = append(results, CheckService(ctx, "Vision service", vision))
	}
	return results
}

// Failures formats the failed results as "name: detail" strings.
func Failures(results []Result) []string {
	var out []string
	for _, r := range results {
		if !r.Passed {
			out = append(out, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	return out
}

// Summary joins Failures into a single line, or returns "" when all passed.
func Summary(results []Result) string {
	return strings.Join(Failures(results), "; ")
}
