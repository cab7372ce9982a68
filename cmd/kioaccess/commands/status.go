package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/internal/cli/output"
	"github.com/marmos91/kioaccess/internal/cli/timeutil"
	"github.com/marmos91/kioaccess/pkg/apiclient"
)

var (
	statusServer   string
	statusOutput   string
	statusSessions bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Display the status of a running kioaccess server.

Checks the health and readiness endpoints and reports uptime, registered
schemes and open sessions.

Examples:
  # Check the local server
  kioaccess status

  # Check another server and list its sessions as JSON
  kioaccess status --server http://media-01:8080 --sessions -o json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusServer, "server", "http://localhost:8080", "Server base URL")
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format (table|json|yaml)")
	statusCmd.Flags().BoolVar(&statusSessions, "sessions", false, "List open sessions")
}

// ServerStatus is the server status for display.
type ServerStatus struct {
	Server    string        `json:"server" yaml:"server"`
	Status    string        `json:"status" yaml:"status"`
	Healthy   bool          `json:"healthy" yaml:"healthy"`
	Ready     bool          `json:"ready" yaml:"ready"`
	Service   string        `json:"service,omitempty" yaml:"service,omitempty"`
	StartedAt string        `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	UptimeSec int64         `json:"uptime_sec,omitempty" yaml:"uptime_sec,omitempty"`
	Schemes   []string      `json:"schemes,omitempty" yaml:"schemes,omitempty"`
	Sessions  []SessionLine `json:"sessions,omitempty" yaml:"sessions,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// SessionLine is one open session on the server.
type SessionLine struct {
	ID       string `json:"id" yaml:"id"`
	URL      string `json:"url" yaml:"url"`
	State    string `json:"state" yaml:"state"`
	Position uint64 `json:"position" yaml:"position"`
	Size     int64  `json:"size" yaml:"size"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusOutput)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	status := fetchStatus(ctx, apiclient.New(statusServer), statusServer, statusSessions)

	out := cmd.OutOrStdout()
	switch format {
	case output.FormatJSON:
		return output.PrintJSON(out, status)
	case output.FormatYAML:
		return output.PrintYAML(out, status)
	default:
		return printStatusTable(out, status)
	}
}

func fetchStatus(ctx context.Context, c *apiclient.Client, server string, withSessions bool) ServerStatus {
	status := ServerStatus{Server: server, Status: "unreachable"}

	health, err := c.Health(ctx)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Status = "healthy"
	status.Healthy = true
	status.Service = health.Service
	status.StartedAt = health.StartedAt
	status.UptimeSec = health.UptimeSec

	ready, err := c.Ready(ctx)
	if err != nil {
		status.Status = "not ready"
		status.Error = err.Error()
		return status
	}
	status.Ready = true
	status.Schemes = ready.Schemes

	if withSessions {
		sessions, err := c.Sessions(ctx)
		if err != nil {
			status.Error = err.Error()
			return status
		}
		for _, s := range sessions {
			status.Sessions = append(status.Sessions, SessionLine{
				ID:       s.ID,
				URL:      s.URL,
				State:    s.State,
				Position: s.Position,
				Size:     s.Size,
			})
		}
	}
	return status
}

func printStatusTable(w io.Writer, status ServerStatus) error {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "kioaccess Server Status")
	_, _ = fmt.Fprintln(w, "=======================")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintf(w, "  Server:     %s\n", status.Server)

	switch {
	case status.Healthy && status.Ready:
		_, _ = fmt.Fprintf(w, "  Status:     \033[32m● %s\033[0m\n", status.Status)
	case status.Healthy:
		_, _ = fmt.Fprintf(w, "  Status:     \033[33m● %s\033[0m\n", status.Status)
	default:
		_, _ = fmt.Fprintf(w, "  Status:     \033[31m○ %s\033[0m\n", status.Status)
	}

	if status.Service != "" {
		_, _ = fmt.Fprintf(w, "  Service:    %s\n", status.Service)
	}
	if status.StartedAt != "" {
		_, _ = fmt.Fprintf(w, "  Started:    %s\n", timeutil.FormatTime(status.StartedAt))
		_, _ = fmt.Fprintf(w, "  Uptime:     %s\n", timeutil.FormatUptimeSeconds(status.UptimeSec))
	}
	if len(status.Schemes) > 0 {
		_, _ = fmt.Fprintf(w, "  Schemes:    %v\n", status.Schemes)
	}
	if status.Error != "" {
		_, _ = fmt.Fprintf(w, "  Error:      %s\n", status.Error)
	}
	_, _ = fmt.Fprintln(w)

	if len(status.Sessions) == 0 {
		return nil
	}
	table := output.NewTableData("ID", "URL", "State", "Position", "Size")
	for _, s := range status.Sessions {
		table.AddRow(s.ID, s.URL, s.State, fmt.Sprintf("%d", s.Position), timeutil.FormatSize(s.Size))
	}
	return output.PrintTable(w, table)
}
