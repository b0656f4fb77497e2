package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storybook/internal/api"
	"storybook/internal/config"
	"storybook/internal/daemonrun"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon health, preflight checks and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			health, fetchErr := fetchHealth(cmd.Context(), cfg)
			if asJSON {
				if fetchErr != nil {
					return fetchErr
				}
				return writeJSON(cmd, health)
			}
			out := cmd.OutOrStdout()
			fmt.Fprint(out, renderStatus(cfg, health, fetchErr, shouldColorize(out)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw health response")
	return cmd
}

// healthURL maps the API bind address onto a loopback URL.
func healthURL(cfg *config.Config) string {
	bind := strings.TrimSpace(cfg.API.Bind)
	if strings.HasPrefix(bind, ":") || strings.HasPrefix(bind, "0.0.0.0:") {
		bind = "127.0.0.1:" + bind[strings.LastIndex(bind, ":")+1:]
	}
	return "http://" + bind + "/api/health"
}

func fetchHealth(ctx context.Context, cfg *config.Config) (api.HealthResponse, error) {
	var health api.HealthResponse
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, healthURL(cfg), nil)
	if err != nil {
		return health, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return health, fmt.Errorf("daemon not reachable at %s: %w", cfg.API.Bind, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return health, err
	}
	if err := json.Unmarshal(body, &health); err != nil {
		return health, fmt.Errorf("decode health response (HTTP %d): %w", resp.StatusCode, err)
	}
	return health, nil
}

func renderStatus(cfg *config.Config, health api.HealthResponse, fetchErr error, colorize bool) string {
	var lines []string
	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	if fetchErr != nil {
		lines = append(lines, renderStatusLine("Daemon", statusError, "not running", colorize))
		lines = append(lines, renderStatusLine("Detail", statusInfo, fetchErr.Error(), colorize))
		return strings.Join(lines, "\n") + "\n"
	}
	pid := "unknown"
	if value, err := daemonrun.ReadPID(cfg); err == nil {
		pid = fmt.Sprint(value)
	}
	lines = append(lines,
		renderStatusLine("Daemon", healthKind(health.Status), health.Status, colorize),
		renderStatusLine("PID", statusInfo, pid, colorize),
		renderStatusLine("Database", boolKind(health.Database == "ok"), health.Database, colorize),
		renderStatusLine("Workflow running", boolKind(health.Workflow.Running), yesNo(health.Workflow.Running), colorize),
		renderStatusLine("Active jobs", statusInfo, fmt.Sprint(health.Workflow.ActiveJobs), colorize),
	)
	if health.Workflow.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusWarn, health.Workflow.LastError, colorize))
	}

	if len(health.Checks) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Preflight", colorize)...)
		for _, check := range health.Checks {
			lines = append(lines, renderStatusLine(check.Name, boolKind(check.Passed), check.Detail, colorize))
		}
	}

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Queue", colorize)...)
	statuses := make([]string, 0, len(health.Workflow.QueueStats))
	for status := range health.Workflow.QueueStats {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		lines = append(lines, renderStatusLine(status, statusInfo, fmt.Sprint(health.Workflow.QueueStats[status]), colorize))
	}
	return strings.Join(lines, "\n") + "\n"
}

func healthKind(status string) statusKind {
	switch status {
	case "ok":
		return statusOK
	case "degraded":
		return statusWarn
	default:
		return statusError
	}
}

func boolKind(ok bool) statusKind {
	if ok {
		return statusOK
	}
	return statusError
}
