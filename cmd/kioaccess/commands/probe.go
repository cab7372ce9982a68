package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/kioaccess/internal/cli/output"
	"github.com/marmos91/kioaccess/internal/cli/timeutil"
	"github.com/marmos91/kioaccess/pkg/access"
	"github.com/marmos91/kioaccess/pkg/stream"
)

var (
	probeOutput string
	probeOpen   bool
)

var probeCmd = &cobra.Command{
	Use:   "probe <url>...",
	Short: "Check which provider serves each URL",
	Long: `Report, for each URL, the provider registered for its scheme and whether
that provider accepts the URL. Nothing is opened unless --open is given, in
which case each URL is opened and its size, content type and control answers
are reported.

Examples:
  # Probe a few URLs
  kioaccess probe file:///srv/a.mp4 https://example.com/b.mkv ftp://host/c

  # Open each URL and print the answers as JSON
  kioaccess probe --open -o json s3://media/movie.mkv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().StringVarP(&probeOutput, "output", "o", "table", "Output format (table|json|yaml)")
	probeCmd.Flags().BoolVar(&probeOpen, "open", false, "Open each URL and query it")
}

// probeRow is one probed URL.
type probeRow struct {
	access.ProbeResult `yaml:",inline"`

	Size        string         `json:"size,omitempty" yaml:"size,omitempty"`
	ContentType string         `json:"content_type,omitempty" yaml:"content_type,omitempty"`
	Controls    map[string]any `json:"controls,omitempty" yaml:"controls,omitempty"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
}

// probeRows renders as a table.
type probeRows []probeRow

func (rows probeRows) Headers() []string {
	h := []string{"URL", "Provider", "Openable", "Reason"}
	if probeOpen {
		h = append(h, "Size", "Content-Type")
	}
	return h
}

func (rows probeRows) Rows() [][]string {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		provider := r.Provider
		if provider == "" {
			provider = "-"
		}
		reason := r.Reason
		if r.Error != "" {
			reason = r.Error
		}
		row := []string{r.URL, provider, fmt.Sprintf("%t", r.CanOpen), reason}
		if probeOpen {
			row = append(row, r.Size, r.ContentType)
		}
		out = append(out, row)
	}
	return out
}

func runProbe(cmd *cobra.Command, args []string) (err error) {
	format, err := output.ParseFormat(probeOutput)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	rows := make(probeRows, 0, len(args))
	for _, raw := range args {
		rows = append(rows, probeOne(ctx, env.adapter, raw))
	}

	printer := output.NewPrinter(cmd.OutOrStdout(), format, false)
	if f, ok := cmd.OutOrStdout().(*os.File); ok {
		printer = output.ForFile(f, format)
	}
	return printer.Print(rows)
}

func probeOne(ctx context.Context, a *access.Adapter, raw string) probeRow {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return probeRow{ProbeResult: access.ProbeResult{URL: raw}, Error: "invalid url"}
	}

	row := probeRow{ProbeResult: a.Probe(u)}
	if !probeOpen || !row.CanOpen {
		return row
	}

	h, err := a.OpenURL(ctx, raw)
	if err != nil {
		row.Error = err.Error()
		return row
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = h.Close(cctx)
	}()

	size := int64(-1)
	if n, ok := h.Size(); ok {
		size = int64(n)
	}
	row.Size = timeutil.FormatSize(size)
	row.ContentType = h.ContentType()
	row.Controls = controlAnswers(h)
	return row
}

// controlAnswers asks every control query, keeping the supported ones.
func controlAnswers(h *access.Handle) map[string]any {
	answers := make(map[string]any)
	for _, q := range access.Queries() {
		v, err := h.Control(q)
		if errors.Is(err, stream.ErrUnsupported) {
			continue
		}
		if err != nil {
			answers[q.String()] = "error: " + err.Error()
			continue
		}
		if d, ok := v.(time.Duration); ok {
			v = d.String()
		}
		answers[q.String()] = v
	}
	return answers
}
