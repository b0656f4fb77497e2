package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"storybook/internal/config"
)

// Requirement defines an external binary the renderer shells out to.
// Candidates are tried in order; the first one found on PATH satisfies it.
type Requirement struct {
	Name        string
	Candidates  []string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// RenderRequirements lists the binaries deck rendering needs. An explicit
// binary in cfg replaces the default candidates.
func RenderRequirements(cfg config.Render) []Requirement {
	office := []string{"libreoffice", "soffice"}
	if bin := strings.TrimSpace(cfg.SofficeBinary); bin != "" {
		office = []string{bin}
	}
	pdftoppm := []string{"pdftoppm"}
	if bin := strings.TrimSpace(cfg.PdftoppmBinary); bin != "" {
		pdftoppm = []string{bin}
	}
	return []Requirement{
		{
			Name:        "LibreOffice",
			Candidates:  office,
			Description: "Required to convert decks to PDF",
		},
		{
			Name:        "pdftoppm",
			Candidates:  pdftoppm,
			Description: "Required to rasterize preview pages",
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	return checkWith(requirements, exec.LookPath)
}

func checkWith(requirements []Requirement, lookPath func(string) (string, error)) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		status := Status{
			Name:        req.Name,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		var tried []string
		for _, candidate := range req.Candidates {
			candidate = strings.TrimSpace(candidate)
			if candidate == "" {
				continue
			}
			tried = append(tried, candidate)
			if _, err := lookPath(candidate); err == nil {
				status.Command = candidate
				status.Available = true
				break
			}
		}
		switch {
		case status.Available:
		case len(tried) == 0:
			status.Detail = "command not configured"
		default:
			status.Command = tried[0]
			status.Detail = fmt.Sprintf("none of %s found on PATH", strings.Join(tried, ", "))
		}
		results = append(results, status)
	}
	return results
}

// Missing returns the required dependencies that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			out = append(out, status)
		}
	}
	return out
}
